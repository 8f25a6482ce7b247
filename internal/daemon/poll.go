package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/internal/transport"
)

const defaultPollInterval = 30 * time.Second

// runPoller refetches full state on every tick while the push stream is not
// connected, so views stay roughly current during long outages. A connected
// stream keeps the store current on its own.
func runPoller(ctx context.Context, s *session.Session, interval time.Duration, log *slog.Logger) {
	if interval < 0 {
		return
	}
	if interval == 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() == transport.StateConnected {
				continue
			}
			if err := s.Refresh(ctx); err != nil {
				log.Warn("poll refresh failed", "state", s.State().String(), "err", err)
				continue
			}
			log.Debug("poll refresh", "state", s.State().String())
		}
	}
}
