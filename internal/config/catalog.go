package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/provider"
)

const dateLayout = "2006-01-02"

// Catalog is the YAML file describing the model lineup, the competition and
// who competes in which mode.
type Catalog struct {
	Models       []provider.ModelSpec `yaml:"models"`
	Competition  CompetitionSeed      `yaml:"competition"`
	Participants []ParticipantSeed    `yaml:"participants"`
}

// CompetitionSeed is the competition block. Dates are YYYY-MM-DD.
type CompetitionSeed struct {
	Name           string          `yaml:"name"`
	StartDate      string          `yaml:"start_date"`
	EndDate        string          `yaml:"end_date"`
	FeePct         decimal.Decimal `yaml:"fee_pct"`
	MinTradeValue  decimal.Decimal `yaml:"min_trade_value"`
	MaxPositionPct decimal.Decimal `yaml:"max_position_pct"`
	InitialCapital decimal.Decimal `yaml:"initial_capital"`
}

// ParticipantSeed enters one model in one mode.
type ParticipantSeed struct {
	ModelID        string          `yaml:"model_id"`
	Mode           model.Mode      `yaml:"mode"`
	DisplayName    string          `yaml:"display_name"`
	InitialCapital decimal.Decimal `yaml:"initial_capital"`
}

// LoadCatalog reads the catalog at path. An empty path yields the default
// catalog with every built-in model entered in NEW_BASELINE.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) applyDefaults() {
	if len(c.Models) == 0 {
		c.Models = provider.DefaultCatalog()
	}
	for i := range c.Models {
		m := &c.Models[i]
		if m.DisplayName == "" {
			m.DisplayName = m.ID
		}
		if m.Model == "" {
			m.Model = m.ID
		}
		if m.Backend == "" {
			m.Backend = provider.BackendOpenAI
		}
	}

	comp := &c.Competition
	if comp.Name == "" {
		comp.Name = "AI Trading Arena"
	}
	if comp.FeePct.IsZero() {
		comp.FeePct = decimal.NewFromFloat(0.15)
	}
	if comp.MinTradeValue.IsZero() {
		comp.MinTradeValue = decimal.NewFromInt(1000)
	}
	if comp.MaxPositionPct.IsZero() {
		comp.MaxPositionPct = decimal.NewFromInt(30)
	}
	if comp.InitialCapital.IsZero() {
		comp.InitialCapital = decimal.NewFromInt(100000)
	}

	if len(c.Participants) == 0 {
		for _, m := range c.Models {
			c.Participants = append(c.Participants, ParticipantSeed{ModelID: m.ID, Mode: model.ModeNewBaseline})
		}
	}
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.Mode == "" {
			p.Mode = model.ModeNewBaseline
		}
		if p.InitialCapital.IsZero() {
			p.InitialCapital = comp.InitialCapital
		}
	}
}

// Validate reports the first inconsistency in the catalog.
func (c *Catalog) Validate() error {
	ids := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("catalog: model without id")
		}
		if ids[m.ID] {
			return fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		ids[m.ID] = true
	}

	seen := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if !ids[p.ModelID] {
			return fmt.Errorf("catalog: participant references unknown model %q", p.ModelID)
		}
		if !p.Mode.Valid() {
			return fmt.Errorf("catalog: participant %s has unknown mode %q", p.ModelID, p.Mode)
		}
		if !p.InitialCapital.IsPositive() {
			return fmt.Errorf("catalog: participant %s needs positive initial capital", p.ModelID)
		}
		key := p.ModelID + "/" + string(p.Mode)
		if seen[key] {
			return fmt.Errorf("catalog: %s entered twice in %s", p.ModelID, p.Mode)
		}
		seen[key] = true
	}
	return nil
}

// ResolveKeys fills each model's APIKey from the environment variable it
// names. lookup is os.LookupEnv outside tests.
func (c *Catalog) ResolveKeys(lookup func(string) (string, bool)) {
	for i := range c.Models {
		m := &c.Models[i]
		if m.APIKeyEnv == "" {
			continue
		}
		if v, ok := lookup(m.APIKeyEnv); ok {
			m.APIKey = strings.TrimSpace(v)
		}
	}
}

// CompetitionConfig builds the active competition record. Missing dates
// default to a 30-day window starting on now's date.
func (c *Catalog) CompetitionConfig(now time.Time, loc *time.Location) (*model.CompetitionConfig, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 30)

	var err error
	if c.Competition.StartDate != "" {
		if start, err = time.ParseInLocation(dateLayout, c.Competition.StartDate, loc); err != nil {
			return nil, fmt.Errorf("catalog: start_date: %w", err)
		}
	}
	if c.Competition.EndDate != "" {
		if end, err = time.ParseInLocation(dateLayout, c.Competition.EndDate, loc); err != nil {
			return nil, fmt.Errorf("catalog: end_date: %w", err)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("catalog: end_date %s before start_date %s", end.Format(dateLayout), start.Format(dateLayout))
	}

	return &model.CompetitionConfig{
		ID:             uuid.New().String(),
		Name:           c.Competition.Name,
		StartDate:      start,
		EndDate:        end,
		FeePct:         c.Competition.FeePct,
		MinTradeValue:  c.Competition.MinTradeValue,
		MaxPositionPct: c.Competition.MaxPositionPct,
		InitialCapital: c.Competition.InitialCapital,
		IsActive:       true,
	}, nil
}

// NewParticipants builds one fresh, fully funded participant per seed.
func (c *Catalog) NewParticipants(now time.Time) []model.Participant {
	names := make(map[string]string, len(c.Models))
	for _, m := range c.Models {
		names[m.ID] = m.DisplayName
	}

	out := make([]model.Participant, 0, len(c.Participants))
	for _, s := range c.Participants {
		name := s.DisplayName
		if name == "" {
			name = names[s.ModelID]
		}
		out = append(out, model.Participant{
			ID:             uuid.New().String(),
			ModelID:        s.ModelID,
			DisplayName:    name,
			Mode:           s.Mode,
			InitialCapital: s.InitialCapital,
			CashBalance:    s.InitialCapital,
			PortfolioValue: s.InitialCapital,
			Status:         model.StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return out
}
