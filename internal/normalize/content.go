package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/agentdeck/pkg/models"
)

// ErrBadTimestamp is returned for a timestamp that is neither RFC3339 nor epoch millis.
var ErrBadTimestamp = errors.New("bad timestamp")

type structuredBody struct {
	Text        *string                      `json:"text"`
	Interactive *models.InteractiveSelection `json:"interactive"`
}

// MessageContent resolves a raw message body once. A JSON string is plain text,
// unless the string itself holds a structured object (history rows store replies
// that way), in which case it is decoded a single level. An object must carry a
// string "text". Anything else is ErrMalformedMessage.
func MessageContent(raw json.RawMessage) (models.Content, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return models.Content{}, fmt.Errorf("empty body: %w", ErrMalformedMessage)
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return models.Content{}, fmt.Errorf("%v: %w", err, ErrMalformedMessage)
		}
		if strings.HasPrefix(strings.TrimSpace(s), "{") {
			if c, err := structured([]byte(s)); err == nil {
				return c, nil
			}
		}
		return models.PlainContent(s), nil
	case '{':
		return structured(b)
	}
	return models.Content{}, fmt.Errorf("unexpected %q: %w", b[0], ErrMalformedMessage)
}

func structured(b []byte) (models.Content, error) {
	var body structuredBody
	if err := json.Unmarshal(b, &body); err != nil {
		return models.Content{}, fmt.Errorf("%v: %w", err, ErrMalformedMessage)
	}
	if body.Text == nil {
		return models.Content{}, fmt.Errorf("object without text: %w", ErrMalformedMessage)
	}
	sel := body.Interactive
	if sel != nil && sel.Type == "" {
		sel.Type = models.SelectionList
	}
	return models.StructuredContent(*body.Text, sel), nil
}

// Timestamp parses RFC3339 strings, epoch-millisecond numbers and numeric strings.
// Absent or null input yields the zero time and no error.
func Timestamp(raw json.RawMessage) (time.Time, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return time.Time{}, nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return time.Time{}, fmt.Errorf("%v: %w", err, ErrBadTimestamp)
		}
		return TimestampString(s)
	}
	return millis(string(b))
}

// TimestampString is Timestamp for values already unquoted.
func TimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return millis(s)
}

func millis(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrBadTimestamp)
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}
