package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/arena-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	competitions map[string]*model.CompetitionConfig
	participants map[string]*model.Participant
	holdings     map[string]*model.Holding // key: participantID/stockCode
	trades       []model.Trade
	decisions    []model.AIDecision
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions: make(map[string]*model.CompetitionConfig),
		participants: make(map[string]*model.Participant),
		holdings:     make(map[string]*model.Holding),
	}
}

func holdingKey(participantID, stockCode string) string {
	return participantID + "/" + stockCode
}

func (s *MemoryStore) GetActiveCompetition(_ context.Context) (*model.CompetitionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.competitions {
		if c.IsActive {
			copy := *c
			return &copy, nil
		}
	}
	return nil, ErrNoActiveCompetition
}

func (s *MemoryStore) SaveCompetition(_ context.Context, c *model.CompetitionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.IsActive {
		for _, existing := range s.competitions {
			existing.IsActive = false
		}
	}
	copy := *c
	s.competitions[c.ID] = &copy
	return nil
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		return fmt.Errorf("participant %s already exists", p.ID)
	}
	copy := *p
	s.participants[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, f ParticipantFilter) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if f.Matches(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) UpdateParticipantLedger(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.participants[p.ID]
	if !ok {
		return fmt.Errorf("participant %s: %w", p.ID, ErrNotFound)
	}
	existing.CashBalance = p.CashBalance
	existing.TotalTrades = p.TotalTrades
	existing.WinningTrades = p.WinningTrades
	existing.RealizedPnL = p.RealizedPnL
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetParticipantStatus(_ context.Context, id string, status model.ParticipantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateValuations(_ context.Context, vals []model.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vals {
		if _, ok := s.participants[v.ParticipantID]; !ok {
			return fmt.Errorf("participant %s: %w", v.ParticipantID, ErrNotFound)
		}
	}
	now := time.Now().UTC()
	for _, v := range vals {
		p := s.participants[v.ParticipantID]
		p.PortfolioValue = v.PortfolioValue
		p.TotalPnL = v.TotalPnL
		p.PnLPct = v.PnLPct
		p.Rank = v.Rank
		p.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, participantID, stockCode string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(participantID, stockCode)]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", participantID, stockCode, ErrNotFound)
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, participantID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Holding
	for _, h := range s.holdings {
		if h.ParticipantID == participantID {
			result = append(result, *h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StockCode < result[j].StockCode })
	return result, nil
}

func (s *MemoryStore) UpsertHolding(_ context.Context, h *model.Holding) error {
	if h.Quantity.LessThanOrEqual(model.QuantityEpsilon) {
		return fmt.Errorf("refusing to store empty holding %s/%s", h.ParticipantID, h.StockCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *h
	s.holdings[holdingKey(h.ParticipantID, h.StockCode)] = &copy
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, participantID, stockCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.holdings, holdingKey(participantID, stockCode))
	return nil
}

// ApplyFill checks everything before the first write, so a rejected fill
// leaves the store untouched.
func (s *MemoryStore) ApplyFill(_ context.Context, f *model.Fill) error {
	if f.Holding != nil && f.Holding.Quantity.LessThanOrEqual(model.QuantityEpsilon) {
		return fmt.Errorf("refusing to store empty holding %s/%s", f.Holding.ParticipantID, f.Holding.StockCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[f.Participant.ID]
	if !ok {
		return fmt.Errorf("participant %s: %w", f.Participant.ID, ErrNotFound)
	}
	for _, t := range s.trades {
		if t.ID == f.Trade.ID {
			return fmt.Errorf("trade %s already recorded", f.Trade.ID)
		}
	}

	key := holdingKey(f.Participant.ID, f.Trade.StockCode)
	if f.Holding != nil {
		h := *f.Holding
		s.holdings[key] = &h
	} else {
		delete(s.holdings, key)
	}
	s.trades = append(s.trades, f.Trade)

	p.CashBalance = f.Participant.CashBalance
	p.TotalTrades = f.Participant.TotalTrades
	p.WinningTrades = f.Participant.WinningTrades
	p.RealizedPnL = f.Participant.RealizedPnL
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, participantID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	// Walk backwards: the log is append-only, so newest entries are last.
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].ParticipantID != participantID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesSince(_ context.Context, participantID string, since time.Time) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.ParticipantID == participantID && !t.ExecutedAt.Before(since) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertDecision(_ context.Context, d *model.AIDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = append(s.decisions, *d)
	return nil
}

// Decisions returns a copy of the decision audit log. Test helper; the
// engine itself never reads decisions back.
func (s *MemoryStore) Decisions() []model.AIDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AIDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}
