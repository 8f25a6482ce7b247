package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the server, the ledger store and the watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg := config.FromContext(cmd.Context())
			out := cmd.OutOrStdout()

			var problems []string

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			if ok, err := daemon.NewClient(cfg).Health(ctx); err != nil {
				problems = append(problems, fmt.Sprintf("server %s unreachable: %v", cfg.Server.URL, err))
			} else if !ok {
				problems = append(problems, fmt.Sprintf("server %s reports unhealthy", cfg.Server.URL))
			} else {
				_, _ = fmt.Fprintf(out, "server: %s ok\n", cfg.Server.URL)
			}

			// The watcher holds the ledger store; only open it when idle.
			st, _ := daemon.Status(cmd.Context(), home)
			if st.Running {
				_, _ = fmt.Fprintf(out, "watcher: pid %d on %s\n", st.PID, st.Addr)
			} else {
				slots, err := daemon.OpenSlots(cfg, home)
				if err != nil {
					problems = append(problems, fmt.Sprintf("ledger store %s: %v", cfg.Ledger.Backend, err))
				} else {
					_ = slots.Close()
					_, _ = fmt.Fprintf(out, "ledger: %s ok\n", cfg.Ledger.Backend)
				}
				_, _ = fmt.Fprintln(out, "watcher: not running")
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}
