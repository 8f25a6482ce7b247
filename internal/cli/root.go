package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ankittk/agentdeck/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:          "agentdeck",
		Short:        "agentdeck: live board, activity feed and agent chat for an agent company",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if err := cfg.Overlay(v); err != nil {
				return err
			}
			level, _ := config.ParseLevel(cfg.LogLevel)
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			ctx := config.WithHome(cmd.Context(), home)
			cmd.SetContext(config.WithConfig(ctx, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override agentdeck home directory (default: ~/.agentdeck, env: AGENTDECK_HOME)")
	cmd.PersistentFlags().String("server", "", "Orchestration server URL (env: AGENTDECK_SERVER_URL)")
	cmd.PersistentFlags().String("stream-url", "", "Push event stream URL (default: derived from --server)")
	cmd.PersistentFlags().String("api-key", "", "API key sent to the orchestration server (env: AGENTDECK_SERVER_API_KEY)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	bindFlag(v, cmd, config.KeyServerURL, "server")
	bindFlag(v, cmd, config.KeyStreamURL, "stream-url")
	bindFlag(v, cmd, config.KeyAPIKey, "api-key")
	bindFlag(v, cmd, config.KeyLogLevel, "log-level")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newWatchCmd(v))
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTUICmd())

	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newMoveCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfirmCmd())
	cmd.AddCommand(newFeedCmd())
	cmd.AddCommand(newLedgerCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newTokenCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}

// bindFlag ties a flag of cmd to a config key, so a changed flag wins over the
// environment and config.yaml.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	f := cmd.PersistentFlags().Lookup(name)
	if f == nil {
		f = cmd.Flags().Lookup(name)
	}
	_ = v.BindPFlag(key, f)
}
