package cli

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var (
		detach     bool
		pprofAddr  string
		enableOtel bool
		poll       time.Duration
		envFile    string
		open       bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a live session and serve the board to local views",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
				// Re-apply so variables from the file take effect.
				if err := config.FromContext(cmd.Context()).Overlay(v); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())
			cfg := config.FromContext(cmd.Context())
			ui := (&url.URL{Scheme: "http", Host: cfg.Listen}).String()

			if !detach {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, board on %s\n", cfg.Server.URL, ui)
				return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
					Home:         home,
					Config:       cfg,
					PprofAddr:    pprofAddr,
					EnableOtel:   enableOtel,
					PollInterval: poll,
				})
			}

			pid, err := daemon.StartBackground(cmd.Context(), home, passthroughFlags(cmd)...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agentdeck watching (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Board: %s\n", ui)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Log: %s\n", daemon.LogPath(home))

			if open {
				_ = openBrowser(ui)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&detach, "detach", false, "Run in the background")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "Refetch interval while the push stream is down (0: 30s, negative: off)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().BoolVar(&open, "open", false, "Open the board in a browser after --detach")
	cmd.Flags().String("listen", "", "Address for the local views API (default 127.0.0.1:4319)")
	cmd.Flags().String("ledger-backend", "", "Activity ledger store: sqlite, file, memory or postgres")
	cmd.Flags().String("views-secret", "", "Secret required by the local views API (API key or HS256 token)")
	bindFlag(v, cmd, config.KeyListen, "listen")
	bindFlag(v, cmd, config.KeyLedgerBackend, "ledger-backend")
	bindFlag(v, cmd, config.KeyViewsSecret, "views-secret")

	return cmd
}

// passthroughFlags returns the changed flags the detached watcher needs.
func passthroughFlags(cmd *cobra.Command) []string {
	var args []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "detach", "open", "home":
			return
		}
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}

func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", u).Start()
	default:
		if _, err := exec.LookPath("xdg-open"); err != nil {
			return err
		}
		return exec.Command("xdg-open", u).Start()
	}
}
