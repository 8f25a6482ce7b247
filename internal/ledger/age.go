package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ankittk/agentdeck/internal/normalize"
)

// Placeholder is shown for events whose timestamp could not be recovered.
const Placeholder = "N/A"

// repairTimestamp accepts RFC3339 strings, epoch millis and numeric strings.
// Anything else becomes the zero time, which FormatAge renders as Placeholder.
func repairTimestamp(raw json.RawMessage) time.Time {
	t, err := normalize.Timestamp(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatAge renders ts relative to now for the feed.
func FormatAge(now, ts time.Time) string {
	if ts.IsZero() {
		return Placeholder
	}
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
	return ts.Local().Format("2006-01-02")
}
