package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/arena-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveCompetition(ctx context.Context, c *model.CompetitionConfig) error {
	if err := s.primary.SaveCompetition(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, competitionKey)
	return nil
}

func (s *CachedStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.CreateParticipant(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(p.ID))
	return nil
}

func (s *CachedStore) UpdateParticipantLedger(ctx context.Context, p *model.Participant) error {
	if err := s.primary.UpdateParticipantLedger(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(p.ID))
	return nil
}

func (s *CachedStore) SetParticipantStatus(ctx context.Context, id string, status model.ParticipantStatus) error {
	if err := s.primary.SetParticipantStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(id))
	return nil
}

func (s *CachedStore) UpdateValuations(ctx context.Context, vals []model.Valuation) error {
	if err := s.primary.UpdateValuations(ctx, vals); err != nil {
		return err
	}
	keys := make([]string, 0, len(vals))
	for _, v := range vals {
		keys = append(keys, participantKey(v.ParticipantID))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.UpsertHolding(ctx, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(h.ParticipantID))
	return nil
}

func (s *CachedStore) DeleteHolding(ctx context.Context, participantID, stockCode string) error {
	if err := s.primary.DeleteHolding(ctx, participantID, stockCode); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(participantID))
	return nil
}

func (s *CachedStore) ApplyFill(ctx context.Context, f *model.Fill) error {
	if err := s.primary.ApplyFill(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(f.Participant.ID), holdingsKey(f.Participant.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetActiveCompetition(ctx context.Context) (*model.CompetitionConfig, error) {
	data, err := s.rdb.Get(ctx, competitionKey).Bytes()
	if err == nil {
		var c model.CompetitionConfig
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetActiveCompetition(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, competitionKey, c)
	return c, nil
}

func (s *CachedStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	data, err := s.rdb.Get(ctx, participantKey(id)).Bytes()
	if err == nil {
		var p model.Participant
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, participantKey(id), p)
	return p, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, participantID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(participantID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, participantID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, holdingsKey(participantID), holdings)
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListParticipants(ctx context.Context, f ParticipantFilter) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, f)
}

func (s *CachedStore) GetHolding(ctx context.Context, participantID, stockCode string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, participantID, stockCode)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, participantID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, participantID, limit)
}

func (s *CachedStore) ListTradesSince(ctx context.Context, participantID string, since time.Time) ([]model.Trade, error) {
	return s.primary.ListTradesSince(ctx, participantID, since)
}

func (s *CachedStore) InsertDecision(ctx context.Context, d *model.AIDecision) error {
	return s.primary.InsertDecision(ctx, d)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const competitionKey = "arena:competition:active"

func participantKey(id string) string { return fmt.Sprintf("arena:participant:%s", id) }
func holdingsKey(pid string) string   { return fmt.Sprintf("arena:holdings:%s", pid) }
