package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/pkg/models"
)

func newTasksCmd() *cobra.Command {
	var (
		status, priority string
		f                entity.Filter
		all, asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks on the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, err := normalize.TaskStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			if priority != "" {
				p, err := normalize.Priority(priority)
				if err != nil {
					return err
				}
				f.Priority = p
			}
			f.RootsOnly = !all && f.ParentID == ""
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				store := deck.Session.Store()
				tasks := store.Query(f)
				if asJSON {
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				renderTasks(cmd.OutOrStdout(), store, tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Status filter (todo, in_progress, review, done or an upstream alias)")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "Match title or description")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "Only tasks assigned to this agent id")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "Only tasks of this project id")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "Only subtasks of this task id")
	cmd.Flags().BoolVar(&all, "all", false, "Include subtasks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderTasks(w io.Writer, store *entity.Store, tasks []models.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Progress", "Agents"})
	for _, t := range tasks {
		progress := ""
		if done, total := t.Progress(); total > 0 {
			progress = fmt.Sprintf("%d/%d", done, total)
		}
		names := make([]string, 0, len(t.AgentIDs))
		for _, id := range t.AgentIDs {
			if a, ok := store.Agent(id); ok {
				names = append(names, a.Name)
			} else {
				names = append(names, id)
			}
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status.Label(), t.Priority, progress, strings.Join(names, ", ")})
	}
	tw.Render()
}

func newMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to another column and wait for the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				p, err := deck.Session.ProposeMove(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				outcome, err := p.Wait(ctx)
				t, _ := deck.Session.Store().Task(args[0])
				switch outcome {
				case coordinator.Confirmed:
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Moved %q to %s\n", t.Title, t.Status.Label())
				case coordinator.Overridden:
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Server kept %q in %s\n", t.Title, t.Status.Label())
				default:
					if err == nil {
						err = errors.New("move reverted")
					}
					return fmt.Errorf("move %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	return cmd
}

func newAgentsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				agents := deck.Session.Store().Agents()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Status", "Load"})
				for _, a := range agents {
					name := a.Name
					if a.Emoji != "" {
						name = a.Emoji + " " + name
					}
					tw.AppendRow(table.Row{a.ID, name, a.Role, a.Status, fmt.Sprintf("%g", a.Load)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
