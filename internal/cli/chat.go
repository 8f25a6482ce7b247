package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/pkg/models"
)

func newChatCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "chat <agent-id> <message>...",
		Short: "Send a chat message to an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task *string
			if taskID != "" {
				task = &taskID
			}
			text := strings.Join(args[1:], " ")
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				p, err := deck.Session.Coordinator().ProposeChatReply(ctx, args[0], text, task)
				if err != nil {
					return err
				}
				if outcome, err := p.Wait(ctx); outcome != coordinator.Confirmed {
					return fmt.Errorf("send to %s: %w", args[0], errOr(err, "not delivered"))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task the message is about")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <agent-id>",
		Short: "Print the conversation with an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				if err := deck.Session.LoadHistory(ctx, args[0]); err != nil {
					return err
				}
				msgs := deck.Session.Book().For(args[0]).Messages()
				if limit > 0 && len(msgs) > limit {
					msgs = msgs[len(msgs)-limit:]
				}
				name := args[0]
				if a, ok := deck.Session.Store().Agent(args[0]); ok {
					name = a.Name
				}
				for _, m := range msgs {
					printMessage(cmd.OutOrStdout(), name, m)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Only the newest N messages")
	return cmd
}

func printMessage(w io.Writer, agentName string, m models.ChatMessage) {
	who := m.Sender
	switch m.Sender {
	case models.SenderAgent:
		who = agentName
	case models.SenderUser:
		who = "you"
	}
	stamp := mutedStyle.Render(m.Timestamp.Local().Format("15:04"))
	_, _ = fmt.Fprintf(w, "%s %s %s\n", stamp, senderStyle(m.Sender).Render(who+":"), m.Content.Text)
	if m.State == models.MessageFailed {
		_, _ = fmt.Fprintln(w, activityStyle(models.ActivityError).Render("  (not delivered)"))
	}
	if m.Content.HasSelection() {
		for _, it := range m.Content.Interactive.Items {
			box := "[ ]"
			if it.Selected {
				box = "[x]"
			}
			line := fmt.Sprintf("  %s %s (%s)", box, it.Label, it.ID)
			if it.Note != "" {
				line += " " + mutedStyle.Render(it.Note)
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func newConfirmCmd() *cobra.Command {
	var (
		selectIDs []string
		notes     []string
	)
	cmd := &cobra.Command{
		Use:   "confirm <agent-id>",
		Short: "Answer the newest open selection list of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := args[0]
			return withDeck(cmd, func(ctx context.Context, deck *daemon.Deck) error {
				if err := deck.Session.LoadHistory(ctx, agentID); err != nil {
					return err
				}
				tr := deck.Session.Book().For(agentID)
				pending := tr.PendingSelections()
				if len(pending) == 0 {
					return fmt.Errorf("%s has no open selection", agentID)
				}
				msgID := pending[len(pending)-1]
				for _, id := range selectIDs {
					if err := tr.SetItemField(msgID, id, transcript.FieldSelected, true); err != nil {
						return fmt.Errorf("select %s: %w", id, err)
					}
				}
				for _, n := range notes {
					id, text, ok := strings.Cut(n, "=")
					if !ok {
						return fmt.Errorf("note %q: want id=text", n)
					}
					if err := tr.SetItemField(msgID, id, transcript.FieldNote, text); err != nil {
						return fmt.Errorf("note %s: %w", id, err)
					}
				}
				items, err := tr.ReadItems(msgID)
				if err != nil {
					return err
				}

				p, err := deck.Session.Coordinator().ProposeSelectionConfirm(ctx, agentID, msgID)
				if err != nil {
					return err
				}
				if outcome, err := p.Wait(ctx); outcome != coordinator.Confirmed {
					return fmt.Errorf("confirm: %w", errOr(err, "not delivered"))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), transcript.Summary(items))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&selectIDs, "select", nil, "Item ids to tick")
	cmd.Flags().StringArrayVar(&notes, "note", nil, "Item note as id=text (repeatable)")
	return cmd
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
