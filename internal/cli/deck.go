package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
)

// openDeck builds a short-lived session for one command and fetches full state.
// Its ledger stays in memory; the watcher owns the persisted one.
func openDeck(cmd *cobra.Command) (*daemon.Deck, error) {
	ctx := cmd.Context()
	deck, err := daemon.Build(config.FromContext(ctx), config.MustHomeFrom(ctx), daemon.BuildOptions{
		Ephemeral: true,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	if err := deck.Session.Start(ctx); err != nil {
		_ = deck.Close()
		return nil, fmt.Errorf("fetch state from %s: %w", config.FromContext(ctx).Server.URL, err)
	}
	return deck, nil
}

// withDeck runs fn against a fresh session and closes it afterwards.
func withDeck(cmd *cobra.Command, fn func(ctx context.Context, deck *daemon.Deck) error) error {
	deck, err := openDeck(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = deck.Close() }()
	return fn(cmd.Context(), deck)
}

// watcherRequest calls the views API of the watcher running on home and, for a
// 2xx answer, decodes the JSON body into out when out is non-nil. ok is false
// when no watcher is running.
func watcherRequest(ctx context.Context, home string, cfg *config.Config, method, path string, out any) (status int, ok bool, err error) {
	st, err := daemon.Status(ctx, home)
	if err != nil || !st.Running || st.Addr == "unknown" {
		return 0, false, err
	}
	url := "http://" + strings.TrimPrefix(st.Addr, "http://") + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, true, err
	}
	if cfg.ViewsSecret != "" {
		req.Header.Set("X-API-Key", cfg.ViewsSecret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, true, err
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, true, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, true, nil
}
