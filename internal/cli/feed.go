package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/ledger"
	"github.com/ankittk/agentdeck/internal/store"
	"github.com/ankittk/agentdeck/pkg/models"
)

func newFeedCmd() *cobra.Command {
	var (
		typ    string
		agent  string
		limit  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print the activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			keep := func(ev models.ActivityEvent) bool {
				if typ != "" && ev.Type != models.ActivityType(typ) {
					return false
				}
				return agent == "" || ledger.ByAgent(agent)(ev)
			}
			if follow {
				return followFeed(cmd, keep)
			}

			l, closeSlots, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeSlots()
			var events []models.ActivityEvent
			for ev := range l.Filter(keep) {
				events = append(events, ev)
			}
			if limit > 0 && len(events) > limit {
				events = events[:limit]
			}
			now := time.Now()
			// Oldest first, like a log.
			for i := len(events) - 1; i >= 0; i-- {
				printEvent(cmd.OutOrStdout(), now, events[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Only events of this type (message, status, task, system, error)")
	cmd.Flags().StringVar(&agent, "agent", "", "Only events of this agent id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Newest N events (0: all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Connect to the server and print events as they happen")
	return cmd
}

// openLedger hydrates a read-only view of the persisted ledger.
func openLedger(cmd *cobra.Command) (*ledger.Ledger, func(), error) {
	cfg := config.FromContext(cmd.Context())
	slots, err := daemon.OpenSlots(cfg, config.MustHomeFrom(cmd.Context()))
	if err != nil {
		return nil, nil, err
	}
	l := ledger.New(ledger.Options{
		Capacity: cfg.Ledger.Capacity,
		Slot:     store.Slot{Store: slots, Key: models.DefaultLedgerSlot},
		Logger:   slog.Default(),
	})
	if err := l.Hydrate(cmd.Context()); err != nil {
		_ = slots.Close()
		return nil, nil, err
	}
	return l, func() { _ = slots.Close() }, nil
}

func followFeed(cmd *cobra.Command, keep func(models.ActivityEvent) bool) error {
	ctx := cmd.Context()
	deck, err := daemon.Build(config.FromContext(ctx), config.MustHomeFrom(ctx), daemon.BuildOptions{
		Stream:    true,
		Ephemeral: true,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = deck.Close() }()

	events, stopEvents := deck.Session.Ledger().Subscribe()
	defer stopEvents()
	notices, stopNotices := deck.Session.Notices().Subscribe()
	defer stopNotices()

	if err := deck.Session.Start(ctx); err != nil {
		slog.Warn("initial fetch failed; waiting for the stream", "err", err)
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if keep(ev) {
				printEvent(out, time.Now(), ev)
			}
		case c, ok := <-notices:
			if !ok {
				return nil
			}
			if !c.Dismissed {
				_, _ = fmt.Fprintln(out, activityStyle(c.Notice.Level).Render("! "+c.Notice.Message))
			}
		}
	}
}

func printEvent(w io.Writer, now time.Time, ev models.ActivityEvent) {
	age := mutedStyle.Render(fmt.Sprintf("%-8s", ledger.FormatAge(now, ev.Timestamp)))
	kind := activityStyle(ev.Type).Render(fmt.Sprintf("%-7s", ev.Type))
	who := ""
	if ev.AgentName != "" {
		who = senderStyle(models.SenderAgent).Render(ev.AgentName) + " "
	}
	_, _ = fmt.Fprintf(w, "%s %s %s%s\n", age, kind, who, ev.Message)
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage the persisted activity feed",
	}
	cmd.AddCommand(newLedgerClearCmd())
	cmd.AddCommand(newLedgerExportCmd())
	return cmd
}

func newLedgerClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every activity event",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// A running watcher owns the ledger; ask it.
			status, ok, err := watcherRequest(ctx, config.MustHomeFrom(ctx), config.FromContext(ctx), http.MethodDelete, "/api/ledger", nil)
			if ok {
				if err != nil {
					return err
				}
				if status != http.StatusNoContent {
					return fmt.Errorf("watcher answered %d", status)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared")
				return nil
			}

			l, closeSlots, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeSlots()
			l.Clear()
			if l.Degraded() {
				return fmt.Errorf("ledger store %s could not be written", config.FromContext(ctx).Ledger.Backend)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared")
			return nil
		},
	}
}

func newLedgerExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the persisted feed as JSON, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeSlots, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeSlots()
			return printJSON(cmd.OutOrStdout(), l.Snapshot())
		},
	}
}
