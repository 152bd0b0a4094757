// Package api exposes the arena over HTTP: the session trigger, leaderboards,
// participant views, the session journal and a WebSocket feed of session
// events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/journal"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/session"
	"github.com/atmx/arena-engine/internal/store"
)

// Sessions runs sessions and comparisons.
type Sessions interface {
	Run(ctx context.Context, opts session.Options) (*session.Report, error)
	Compare(ctx context.Context) ([]session.Comparison, error)
}

// JournalReader reads back the session journal.
type JournalReader interface {
	RecentSessions(ctx context.Context, limit int) ([]journal.StoredSession, error)
	SessionDecisions(ctx context.Context, sessionID string) ([]model.AIDecision, error)
}

// Service holds the HTTP handlers.
type Service struct {
	store    store.Store
	sessions Sessions
	journal  JournalReader // optional
	events   *EventStream  // optional
}

// NewService creates the handler set. journal and events may be nil.
func NewService(st store.Store, sessions Sessions, j JournalReader, events *EventStream) *Service {
	return &Service{store: st, sessions: sessions, journal: j, events: events}
}

// Routes mounts every handler under the returned router; callers mount it
// at /api/v1.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	if s.events != nil {
		r.Get("/ws", s.events.Subscribe)
	}

	r.Post("/sessions", s.RunSession)
	r.Get("/sessions", s.ListSessions)
	r.Get("/sessions/{sessionID}/decisions", s.GetSessionDecisions)
	r.Post("/compare", s.Compare)

	r.Get("/leaderboard", s.GetLeaderboard)
	r.Get("/participants/{participantID}", s.GetParticipant)
	r.Get("/participants/{participantID}/trades", s.GetTrades)
	r.Patch("/participants/{participantID}/status", s.SetStatus)
	return r
}

// --- Request/Response types ---

// HoldingView is a holding with its derived values.
type HoldingView struct {
	model.Holding
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	PnLPct           decimal.Decimal `json:"pnl_pct"`
	Notional         decimal.Decimal `json:"notional"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// ParticipantView is the response of GET /participants/{id}.
type ParticipantView struct {
	model.Participant
	WinRate  decimal.Decimal `json:"win_rate"`
	Holdings []HoldingView   `json:"holdings"`
}

// LeaderboardEntry is one row of GET /leaderboard.
type LeaderboardEntry struct {
	Rank           int             `json:"rank"`
	ParticipantID  string          `json:"participant_id"`
	DisplayName    string          `json:"display_name"`
	ModelID        string          `json:"model_id"`
	Mode           model.Mode      `json:"mode"`
	Status         string          `json:"status"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PnLPct         decimal.Decimal `json:"pnl_pct"`
	TotalTrades    int             `json:"total_trades"`
	WinRate        decimal.Decimal `json:"win_rate"`
}

// StatusRequest is the body of PATCH /participants/{id}/status.
type StatusRequest struct {
	Status model.ParticipantStatus `json:"status"`
}

// --- HTTP Handlers ---

// RunSession handles POST /api/v1/sessions. An empty body runs a live
// session for every active participant.
func (s *Service) RunSession(w http.ResponseWriter, r *http.Request) {
	var opts session.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// A session runs to completion even if the caller disconnects.
	report, err := s.sessions.Run(context.WithoutCancel(r.Context()), opts)
	switch {
	case errors.Is(err, session.ErrSessionRunning):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, session.ErrMarketClosed),
		errors.Is(err, session.ErrNoConfig),
		errors.Is(err, session.ErrCompetitionInactive),
		errors.Is(err, session.ErrOutsideWindow):
		writeJSON(w, http.StatusUnprocessableEntity, report)
		return
	case err != nil:
		slog.Error("session failed", "err", err)
		if report != nil {
			writeJSON(w, http.StatusInternalServerError, report)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Compare handles POST /api/v1/compare.
func (s *Service) Compare(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.Compare(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListSessions handles GET /api/v1/sessions?limit=N.
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, "session journal not configured", http.StatusNotFound)
		return
	}
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	out, err := s.journal.RecentSessions(r.Context(), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []journal.StoredSession{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSessionDecisions handles GET /api/v1/sessions/{sessionID}/decisions.
func (s *Service) GetSessionDecisions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, "session journal not configured", http.StatusNotFound)
		return
	}
	out, err := s.journal.SessionDecisions(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []model.AIDecision{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLeaderboard handles GET /api/v1/leaderboard?mode=MODE. Entries are
// grouped by mode; ranks never compare across modes.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	m := model.Mode(r.URL.Query().Get("mode"))
	if m != "" && !m.Valid() {
		writeError(w, "unknown mode", http.StatusBadRequest)
		return
	}

	ps, err := s.store.ListParticipants(r.Context(), store.ParticipantFilter{Mode: m})
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Mode != ps[j].Mode {
			return ps[i].Mode < ps[j].Mode
		}
		ri, rj := ps[i].Rank, ps[j].Rank
		if ri != rj {
			if ri == 0 || rj == 0 {
				return rj == 0
			}
			return ri < rj
		}
		return ps[i].PortfolioValue.GreaterThan(ps[j].PortfolioValue)
	})

	out := make([]LeaderboardEntry, 0, len(ps))
	for _, p := range ps {
		out = append(out, LeaderboardEntry{
			Rank:           p.Rank,
			ParticipantID:  p.ID,
			DisplayName:    p.DisplayName,
			ModelID:        p.ModelID,
			Mode:           p.Mode,
			Status:         string(p.Status),
			PortfolioValue: p.PortfolioValue,
			TotalPnL:       p.TotalPnL,
			PnLPct:         p.PnLPct,
			TotalTrades:    p.TotalTrades,
			WinRate:        p.WinRate(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetParticipant handles GET /api/v1/participants/{participantID}.
func (s *Service) GetParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "participantID")

	p, err := s.store.GetParticipant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "participant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	hs, err := s.store.ListHoldings(ctx, id)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	view := ParticipantView{Participant: *p, WinRate: p.WinRate(), Holdings: make([]HoldingView, 0, len(hs))}
	for _, h := range hs {
		view.Holdings = append(view.Holdings, HoldingView{
			Holding:          h,
			MarketValue:      h.MarketValue(),
			UnrealizedPnL:    h.UnrealizedPnL(),
			PnLPct:           h.PnLPct(),
			Notional:         h.Notional(),
			LiquidationPrice: h.LiquidationPrice(),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// GetTrades handles GET /api/v1/participants/{participantID}/trades?limit=N.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "participantID")

	if _, err := s.store.GetParticipant(ctx, id); err != nil {
		writeError(w, "participant not found", http.StatusNotFound)
		return
	}
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}
	trades, err := s.store.ListTrades(ctx, id, limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// SetStatus handles PATCH /api/v1/participants/{participantID}/status.
func (s *Service) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case model.StatusActive, model.StatusPaused, model.StatusDisqualified:
	default:
		writeError(w, "status must be active, paused or disqualified", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "participantID")
	err := s.store.SetParticipantStatus(ctx, id, req.Status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "participant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("participant status changed", "participant", id, "status", req.Status)
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if n > 500 {
		n = 500
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
