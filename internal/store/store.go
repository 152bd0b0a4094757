// Package store defines the persistence interface for the arena engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/arena-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoActiveCompetition is returned when no competition config is active.
	ErrNoActiveCompetition = errors.New("store: no active competition")
)

// ParticipantFilter narrows ListParticipants. Zero values match everything.
type ParticipantFilter struct {
	Status  model.ParticipantStatus
	ModelID string
	Mode    model.Mode
}

// Matches reports whether p passes the filter.
func (f ParticipantFilter) Matches(p *model.Participant) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.ModelID != "" && p.ModelID != f.ModelID {
		return false
	}
	if f.Mode != "" && p.Mode != f.Mode {
		return false
	}
	return true
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Competition ---

	// GetActiveCompetition returns the single active competition config.
	GetActiveCompetition(ctx context.Context) (*model.CompetitionConfig, error)

	// SaveCompetition inserts or replaces a competition config. Activating
	// one deactivates all others.
	SaveCompetition(ctx context.Context, c *model.CompetitionConfig) error

	// --- Participants ---

	// CreateParticipant persists a new participant.
	CreateParticipant(ctx context.Context, p *model.Participant) error

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	// ListParticipants returns participants matching the filter, ordered by ID.
	ListParticipants(ctx context.Context, f ParticipantFilter) ([]model.Participant, error)

	// UpdateParticipantLedger writes cash, trade counters and realized P&L.
	UpdateParticipantLedger(ctx context.Context, p *model.Participant) error

	// SetParticipantStatus changes a participant's lifecycle status.
	SetParticipantStatus(ctx context.Context, id string, status model.ParticipantStatus) error

	// UpdateValuations writes portfolio value, P&L and rank for each entry.
	UpdateValuations(ctx context.Context, vals []model.Valuation) error

	// --- Holdings ---

	// GetHolding returns the holding for (participant, stock) or ErrNotFound.
	GetHolding(ctx context.Context, participantID, stockCode string) (*model.Holding, error)

	// ListHoldings returns all holdings for a participant ordered by stock code.
	ListHoldings(ctx context.Context, participantID string) ([]model.Holding, error)

	// UpsertHolding creates or replaces the holding for (participant, stock).
	UpsertHolding(ctx context.Context, h *model.Holding) error

	// DeleteHolding removes the holding for (participant, stock).
	DeleteHolding(ctx context.Context, participantID, stockCode string) error

	// --- Ledger ---

	// ApplyFill writes the holding change, the trade record and the
	// participant's cash and counters atomically: either all of them are
	// stored or none is.
	ApplyFill(ctx context.Context, f *model.Fill) error

	// --- Immutable trade log ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns a participant's most recent trades, newest first.
	// limit <= 0 returns all.
	ListTrades(ctx context.Context, participantID string, limit int) ([]model.Trade, error)

	// ListTradesSince returns a participant's trades executed at or after since.
	ListTradesSince(ctx context.Context, participantID string, since time.Time) ([]model.Trade, error)

	// --- Decision audit log ---

	// InsertDecision appends a write-only AI decision record.
	InsertDecision(ctx context.Context, d *model.AIDecision) error
}
