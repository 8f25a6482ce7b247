package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type homeKey struct{}

// WithHome stores the agentdeck home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the agentdeck home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context. Commands run after the
// root's PersistentPreRunE, which always sets it.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("agentdeck home missing from context")
}

// ResolveHome returns the home directory holding config.yaml and the ledger
// database: override, then $AGENTDECK_HOME, then ~/.agentdeck. A leading "~"
// in either source is expanded and the result is absolute.
func ResolveHome(override string) (string, error) {
	for _, candidate := range []string{override, os.Getenv(EnvPrefix + "_HOME")} {
		if candidate == "" {
			continue
		}
		return absHome(candidate)
	}
	return absHome(filepath.Join("~", ".agentdeck"))
}

func absHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		user, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("could not determine user home directory")
		}
		p = filepath.Join(user, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve home %q: %w", p, err)
	}
	return abs, nil
}
