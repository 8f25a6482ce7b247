package daemon

import (
	"log/slog"
	"time"

	"github.com/ankittk/agentdeck/internal/config"
)

// StartOptions configures the watcher (home, resolved config, pprof, metrics, polling).
type StartOptions struct {
	Home       string
	Config     *config.Config
	PprofAddr  string
	EnableOtel bool // enable OpenTelemetry metrics (Prometheus exporter + HTTP/SSE/session instrumentation)
	// PollInterval refetches full state while the push stream is down; 0 uses 30s, <0 disables.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
