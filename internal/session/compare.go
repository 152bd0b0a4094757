package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/arena-engine/internal/decision"
	"github.com/atmx/arena-engine/internal/mode"
	"github.com/atmx/arena-engine/internal/model"
)

// Comparison is one model's answer to the shared benchmark prompt.
type Comparison struct {
	ModelID    string              `json:"modelId"`
	Success    bool                `json:"success"`
	Sentiment  string              `json:"sentiment,omitempty"`
	Actions    []decision.Proposal `json:"actions"`
	TokensUsed int                 `json:"tokensUsed"`
	LatencyMs  int64               `json:"latencyMs"`
	Error      string              `json:"error,omitempty"`
}

// Compare sends one NEW_BASELINE prompt, built for a fresh account at the
// competition's initial capital, to every available provider at once and
// parses each answer. Nothing is validated, executed or persisted.
func (o *Orchestrator) Compare(ctx context.Context) ([]Comparison, error) {
	comp, err := o.store.GetActiveCompetition(ctx)
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}

	strategy, err := mode.For(model.ModeNewBaseline)
	if err != nil {
		return nil, err
	}
	bench := model.Participant{
		ID:             "benchmark",
		DisplayName:    "Benchmark",
		Mode:           model.ModeNewBaseline,
		InitialCapital: comp.InitialCapital,
		CashBalance:    comp.InitialCapital,
		Status:         model.StatusActive,
	}
	snap := o.aggregator.Snapshot(ctx, nil)
	c := &mode.Context{
		Participant: bench,
		Account:     mode.NewAccount(&bench, nil, bench.RealizedPnL, comp, &snap),
		Snapshot:    &snap,
		Competition: *comp,
	}

	start := time.Now()
	results := o.providers.FanOut(ctx, strategy.SystemPrompt(), strategy.UserPrompt(c))
	out := make([]Comparison, 0, len(results))
	for _, r := range results {
		cmp := Comparison{
			ModelID:    r.ModelID,
			TokensUsed: r.Response.TokensUsed,
			LatencyMs:  r.Response.LatencyMs,
			Actions:    []decision.Proposal{},
			Error:      r.Response.Error,
		}
		if r.Response.Success {
			if dec, ok := decision.Parse(r.Response.Content); ok {
				cmp.Success = true
				cmp.Sentiment = dec.Sentiment
				cmp.Actions = append(cmp.Actions, dec.Actions...)
			} else {
				cmp.Error = ParseFailure
			}
		}
		out = append(out, cmp)
	}
	slog.Info("comparison finished", "providers", len(out), "duration", time.Since(start).String())
	return out, nil
}
