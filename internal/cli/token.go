package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/agentdeck/internal/auth"
	"github.com/ankittk/agentdeck/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Credentials for the local views API",
	}
	cmd.AddCommand(newTokenSecretCmd())
	cmd.AddCommand(newTokenMintCmd())
	return cmd
}

func newTokenSecretCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a random views secret and print usage instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			key := hex.EncodeToString(b)
			envVar := config.EnvPrefix + "_VIEWS_SECRET"

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated views secret (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)

			if envFile != "" {
				line := envVar + "=" + key + "\n"
				f, err := os.OpenFile(envFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if _, err := f.WriteString(line); err != nil {
					_ = f.Close()
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if err := f.Close(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Appended %s to %s\n", envVar, envFile)
				_, _ = fmt.Fprintln(out, "Start the watcher with: agentdeck watch --env-file "+envFile)
			} else {
				_, _ = fmt.Fprintln(out, "Use it:")
				_, _ = fmt.Fprintln(out, "  1. For the watcher: export "+envVar+"="+key)
				_, _ = fmt.Fprintln(out, "  2. In views: send header X-API-Key: <secret>, or a token from `agentdeck token mint`")
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append the secret to this file (e.g. .env)")
	return cmd
}

func newTokenMintCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 bearer token for the local views API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg.ViewsSecret == "" {
				return errors.New("views_secret is not set (see `agentdeck token secret`)")
			}
			m := &auth.Minter{Secret: cfg.ViewsSecret, Subject: subject, Roles: roles, TTL: ttl}
			tok, err := m.Token(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "viewer", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Roles claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
