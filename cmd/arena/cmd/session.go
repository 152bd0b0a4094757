package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/arena-engine/internal/session"
)

var (
	dryRun      bool
	singleModel string
	compare     bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run one trading session and print its report",
	Long: `Run one trading session across every active participant and print the
session report as JSON.

Examples:
  arena session
  arena session --dry-run
  arena session --model deepseek-chat
  arena session --compare`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without writing ledger changes")
	sessionCmd.Flags().StringVar(&singleModel, "model", "", "only run participants of this model")
	sessionCmd.Flags().BoolVar(&compare, "compare", false, "send one benchmark prompt to every available model instead")
}

func runSession(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if compare {
		out, err := a.orchestrator.Compare(cmd.Context())
		if err != nil {
			return err
		}
		return enc.Encode(out)
	}

	report, err := a.orchestrator.Run(cmd.Context(), session.Options{DryRun: dryRun, SingleModel: singleModel})
	if report != nil {
		if encErr := enc.Encode(report); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}
