package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/tui"
)

func newTUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the board, feed and chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			// The alt screen owns the terminal; log to a file instead.
			_ = os.MkdirAll(home, 0o755)
			if f, err := os.OpenFile(filepath.Join(home, "tui.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				defer func() { _ = f.Close() }()
				level, _ := config.ParseLevel(config.FromContext(ctx).LogLevel)
				slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
			}
			// Share the persisted feed only when no watcher owns it.
			st, _ := daemon.Status(ctx, home)
			deck, err := daemon.Build(config.FromContext(ctx), home, daemon.BuildOptions{
				Stream:    true,
				Ephemeral: st.Running,
				Logger:    slog.Default(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = deck.Close() }()
			if err := deck.Session.Start(ctx); err != nil {
				slog.Warn("initial fetch failed; waiting for the stream", "err", err)
			}
			return tui.Run(ctx, deck.Session)
		},
	}
	return cmd
}
