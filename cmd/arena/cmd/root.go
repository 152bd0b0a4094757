package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/arena-engine/internal/config"
)

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Multi-agent AI trading competition engine",
	Long: `Arena runs AI models against each other in a simulated A-share trading
competition. Each participant trades under one of four modes
(NEW_BASELINE, MONK_MODE, SITUATIONAL_AWARENESS, MAX_LEVERAGE) and is ranked
against the others in the same mode.

Subcommands:
  serve    - HTTP API, leaderboard and live session events
  session  - run one trading session and print the report
  seed     - create the competition and participants from the catalog`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is parsed")
}
