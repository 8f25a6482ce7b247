package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/httpapi"
)

type watcherStatus struct {
	Watching bool                    `json:"watching"`
	PID      int                     `json:"pid,omitempty"`
	Addr     string                  `json:"addr,omitempty"`
	Session  *httpapi.StatusResponse `json:"session,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a watcher is running on this home and how its session is doing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			st, err := daemon.Status(ctx, home)
			if err != nil {
				return err
			}
			out := watcherStatus{Watching: st.Running, PID: st.PID, Addr: st.Addr}
			if st.Running {
				var sess httpapi.StatusResponse
				code, _, err := watcherRequest(ctx, home, config.FromContext(ctx), http.MethodGet, "/api/status", &sess)
				switch {
				case err != nil:
					out.Error = err.Error()
				case code != http.StatusOK:
					out.Error = fmt.Sprintf("views API answered %d", code)
				default:
					out.Session = &sess
				}
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			if !out.Watching {
				_, _ = fmt.Fprintln(w, "agentdeck not watching")
				return nil
			}
			_, _ = fmt.Fprintf(w, "agentdeck watching (pid %d, addr %s)\n", out.PID, out.Addr)
			if out.Session == nil {
				_, _ = fmt.Fprintf(w, "session: unavailable (%s)\n", out.Error)
				return nil
			}
			s := out.Session
			tasks := 0
			for _, n := range s.Counts {
				tasks += n
			}
			ledger := fmt.Sprintf("%d events", s.LedgerLen)
			if s.LedgerDegraded {
				ledger += ", memory only"
			}
			_, _ = fmt.Fprintf(w, "stream: %s\nagents: %d  projects: %d  tasks: %d\nledger: %s\n",
				s.Connection, s.Agents, s.Projects, tasks, ledger)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
