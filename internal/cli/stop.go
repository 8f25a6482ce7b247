package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
)

func newStopCmd() *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the watcher running on this home",
		Long:  "Stop asks the watcher to shut down cleanly and kills it if it is still running after --grace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			before, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			stopped, err := daemon.Stop(cmd.Context(), home, grace)
			if err != nil {
				return err
			}
			if !stopped {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "agentdeck is not watching")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stopped watcher (pid %d)\n", before.PID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", daemon.DefaultStopGrace, "how long to wait for a clean exit before killing")
	return cmd
}
