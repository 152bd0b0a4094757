package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/arena-engine/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the competition and participants from the catalog",
	Long: `Create the active competition config and one participant per catalog entry.

The catalog comes from CATALOG_PATH; without it every built-in model is
entered in NEW_BASELINE. An existing active competition is kept, and a model
already entered in a mode is skipped, so seeding twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()
	if _, err := a.store.GetActiveCompetition(ctx); errors.Is(err, store.ErrNoActiveCompetition) {
		comp, err := a.catalog.CompetitionConfig(now, a.location)
		if err != nil {
			return err
		}
		if err := a.store.SaveCompetition(ctx, comp); err != nil {
			return fmt.Errorf("save competition: %w", err)
		}
		slog.Info("competition created", "name", comp.Name,
			"start", comp.StartDate.Format("2006-01-02"), "end", comp.EndDate.Format("2006-01-02"))
	} else if err != nil {
		return fmt.Errorf("load competition: %w", err)
	}

	created := 0
	for _, p := range a.catalog.NewParticipants(now) {
		existing, err := a.store.ListParticipants(ctx, store.ParticipantFilter{ModelID: p.ModelID, Mode: p.Mode})
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if len(existing) > 0 {
			slog.Info("participant exists, skipping", "model", p.ModelID, "mode", p.Mode)
			continue
		}
		if err := a.store.CreateParticipant(ctx, &p); err != nil {
			return fmt.Errorf("create participant %s: %w", p.ModelID, err)
		}
		created++
		slog.Info("participant created", "id", p.ID, "model", p.ModelID, "mode", p.Mode,
			"capital", p.InitialCapital.String())
	}
	fmt.Printf("seeded %d participants\n", created)
	return nil
}
