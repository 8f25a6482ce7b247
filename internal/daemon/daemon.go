// Package daemon runs the watcher: one live session per home, served to local
// views over HTTP until the process is told to stop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/agentdeck/internal/httpapi"
	"github.com/ankittk/agentdeck/internal/otel"
)

var (
	errNotRunning = errors.New("agentdeck is not watching this home")
	// ErrAlreadyWatching is returned when another watcher holds the home lock.
	ErrAlreadyWatching = errors.New("agentdeck is already watching this home")
)

// StartForeground watches until ctx ends: it holds the home lock, starts the
// session with its push stream, serves the views API on cfg.Listen and
// refetches state while the stream is down.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Config == nil {
		return errors.New("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config

	// Ensure dirs exist.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	stopPprof := startPprof(opts.PprofAddr, log)
	defer stopPprof()

	// Early port check for clearer error.
	if err := checkAddrAvailable(cfg.Listen); err != nil {
		return err
	}

	// Write PID + addr files.
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(cfg.Listen+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	deck, err := Build(cfg, opts.Home, BuildOptions{Stream: true, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := deck.Close(); err != nil {
			log.Warn("close session", "err", err)
		}
	}()

	srvOpts := httpapi.ServerOptions{
		Session:   deck.Session,
		Addr:      cfg.Listen,
		APIKey:    cfg.ViewsSecret,
		JWTSecret: cfg.ViewsSecret,
		Logger:    log,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "agentdeck")
		if err != nil {
			log.Warn("otel init failed, serving without /metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}
	if opts.EnableOtel {
		s := deck.Session
		_ = otel.InitMetricsWithState(ctx, func() (int64, map[string]int64) {
			by := make(map[string]int64)
			for st, n := range s.Store().Counts() {
				by[string(st)] = int64(n)
			}
			return int64(s.Ledger().Len()), by
		})
	}

	if err := deck.Session.Start(ctx); err != nil {
		// The stream is running; the next connect refetches.
		log.Warn("initial fetch failed", "server", cfg.Server.URL, "err", err)
	}

	log.Info("watcher starting", "addr", cfg.Listen, "home", opts.Home, "server", cfg.Server.URL)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		go app.Hub.Pump(runCtx, deck.Session)
		go runPoller(runCtx, deck.Session, opts.PollInterval, log)
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StartBackground re-executes the binary as a detached `watch` process and
// returns its pid. args are extra flags passed through (e.g. --pprof).
func StartBackground(ctx context.Context, home string, args ...string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, home); st.Running {
		return 0, fmt.Errorf("%w (pid %d)", ErrAlreadyWatching, st.PID)
	}

	stderr, err := os.OpenFile(LogPath(home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	cmd := exec.Command(exe, append([]string{"watch", "--home", home}, args...)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

// DefaultStopGrace is how long Stop waits for a clean exit before killing.
const DefaultStopGrace = 15 * time.Second

// Stop signals a running watcher and waits up to grace for it to exit, then
// kills it. grace <= 0 uses DefaultStopGrace. It reports false when no watcher runs.
func Stop(ctx context.Context, home string, grace time.Duration) (bool, error) {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := terminate(proc); err != nil {
		return false, fmt.Errorf("signal watcher pid %d: %w", st.PID, err)
	}

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(grace)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			_ = proc.Kill()
			return true, nil
		case <-tick.C:
			if st, _ := Status(ctx, home); !st.Running {
				return true, nil
			}
		}
	}
}

// Status reports whether a watcher owns home, from its pid file.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processAlive(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkAddrAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address %s is already in use", addr)
	}
	_ = ln.Close()
	return nil
}
