package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/api"
	"github.com/atmx/arena-engine/internal/journal"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/session"
	"github.com/atmx/arena-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type stubSessions struct {
	lastOpts session.Options
	report   *session.Report
	err      error
	compare  []session.Comparison
}

func (s *stubSessions) Run(_ context.Context, opts session.Options) (*session.Report, error) {
	s.lastOpts = opts
	return s.report, s.err
}

func (s *stubSessions) Compare(_ context.Context) ([]session.Comparison, error) {
	return s.compare, nil
}

type stubJournal struct {
	sessions  []journal.StoredSession
	decisions map[string][]model.AIDecision
}

func (j *stubJournal) RecentSessions(_ context.Context, limit int) ([]journal.StoredSession, error) {
	if limit < len(j.sessions) {
		return j.sessions[:limit], nil
	}
	return j.sessions, nil
}

func (j *stubJournal) SessionDecisions(_ context.Context, id string) ([]model.AIDecision, error) {
	return j.decisions[id], nil
}

// newTestEnv creates a Service over an in-memory store mounted like main does.
func newTestEnv(t *testing.T) (*stubSessions, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	sessions := &stubSessions{report: &session.Report{SessionID: "01S", Results: []session.ParticipantResult{}}}
	j := &stubJournal{
		sessions:  []journal.StoredSession{{ID: "01B"}, {ID: "01A"}},
		decisions: map[string][]model.AIDecision{"01A": {{ID: "d1", SessionID: "01A"}}},
	}
	svc := api.NewService(ms, sessions, j, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())
	return sessions, ms, r
}

func seedParticipant(t *testing.T, ms *store.MemoryStore, id string, m model.Mode, value float64, rank int) {
	t.Helper()
	ctx := context.Background()
	if err := ms.CreateParticipant(ctx, &model.Participant{
		ID:             id,
		ModelID:        "model-" + id,
		DisplayName:    "Agent " + id,
		Mode:           m,
		InitialCapital: d(100000),
		CashBalance:    d(value),
		Status:         model.StatusActive,
	}); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	err := ms.UpdateValuations(ctx, []model.Valuation{{
		ParticipantID:  id,
		PortfolioValue: d(value),
		TotalPnL:       d(value - 100000),
		PnLPct:         d((value - 100000) / 1000),
		Rank:           rank,
	}})
	if err != nil {
		t.Fatalf("seed valuation: %v", err)
	}
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Session trigger ---

func TestRunSession_PassesOptions(t *testing.T) {
	sessions, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/sessions", `{"dryRun":true,"singleModel":"kimi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !sessions.lastOpts.DryRun || sessions.lastOpts.SingleModel != "kimi" {
		t.Errorf("options not forwarded: %+v", sessions.lastOpts)
	}

	var report session.Report
	json.NewDecoder(w.Body).Decode(&report)
	if report.SessionID != "01S" {
		t.Errorf("session id = %q", report.SessionID)
	}
}

func TestRunSession_EmptyBodyIsLiveRun(t *testing.T) {
	sessions, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sessions.lastOpts.DryRun {
		t.Error("empty body must not be a dry run")
	}
}

func TestRunSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"running", session.ErrSessionRunning, http.StatusConflict},
		{"closed", session.ErrMarketClosed, http.StatusUnprocessableEntity},
		{"no config", session.ErrNoConfig, http.StatusUnprocessableEntity},
		{"outside", session.ErrOutsideWindow, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, _, router := newTestEnv(t)
			sessions.err = tt.err
			if tt.err == session.ErrSessionRunning {
				sessions.report = nil
			} else {
				sessions.report.Errors = []string{tt.err.Error()}
			}

			w := do(t, router, "POST", "/api/v1/sessions", `{}`)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.err.Error()) {
				t.Errorf("body does not carry the error: %s", w.Body.String())
			}
		})
	}
}

func TestRunSession_BadBody(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/sessions", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCompare(t *testing.T) {
	sessions, _, router := newTestEnv(t)
	sessions.compare = []session.Comparison{{ModelID: "a", Success: true}, {ModelID: "b", Error: "parse failure"}}

	w := do(t, router, "POST", "/api/v1/compare", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []session.Comparison
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 2 || out[1].Error != "parse failure" {
		t.Errorf("unexpected comparisons: %+v", out)
	}
}

// --- Journal ---

func TestListSessions(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/sessions?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []journal.StoredSession
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 1 || out[0].ID != "01B" {
		t.Errorf("unexpected sessions: %+v", out)
	}

	if w := do(t, router, "GET", "/api/v1/sessions?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestGetSessionDecisions(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/sessions/01A/decisions", "")
	var out []model.AIDecision
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 1 || out[0].ID != "d1" {
		t.Errorf("unexpected decisions: %+v", out)
	}

	w = do(t, router, "GET", "/api/v1/sessions/unknown/decisions", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestJournalNotConfigured(t *testing.T) {
	svc := api.NewService(store.NewMemoryStore(), &stubSessions{}, nil, nil)
	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())

	if w := do(t, r, "GET", "/api/v1/sessions", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Leaderboard ---

func TestLeaderboard_GroupedByMode(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedParticipant(t, ms, "a", model.ModeMonk, 101000, 2)
	seedParticipant(t, ms, "b", model.ModeMonk, 104000, 1)
	seedParticipant(t, ms, "c", model.ModeMaxLeverage, 90000, 1)

	w := do(t, router, "GET", "/api/v1/leaderboard", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []api.LeaderboardEntry
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	// MAX_LEVERAGE sorts before MONK_MODE.
	want := []string{"c", "b", "a"}
	for i, e := range out {
		if e.ParticipantID != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.ParticipantID, want[i])
		}
	}

	w = do(t, router, "GET", "/api/v1/leaderboard?mode=MONK_MODE", "")
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 2 || out[0].Rank != 1 || !out[0].PortfolioValue.Equal(d(104000)) {
		t.Errorf("unexpected MONK leaderboard: %+v", out)
	}
}

func TestLeaderboard_UnknownMode(t *testing.T) {
	_, _, router := newTestEnv(t)
	if w := do(t, router, "GET", "/api/v1/leaderboard?mode=YOLO", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Participants ---

func TestGetParticipant_WithHoldings(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedParticipant(t, ms, "a", model.ModeMaxLeverage, 100000, 1)
	err := ms.UpsertHolding(context.Background(), &model.Holding{
		ID: "h1", ParticipantID: "a", StockCode: "300750", Quantity: d(100),
		AvgBuyPrice: d(200), CurrentPrice: d(210), Leverage: d(2.5),
	})
	if err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	w := do(t, router, "GET", "/api/v1/participants/a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var view api.ParticipantView
	json.NewDecoder(w.Body).Decode(&view)
	if view.ID != "a" || len(view.Holdings) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	h := view.Holdings[0]
	if !h.Notional.Equal(d(50000)) {
		t.Errorf("notional = %s, want 50000", h.Notional)
	}
	if !h.MarketValue.Equal(d(22500)) {
		t.Errorf("market value = %s, want 22500", h.MarketValue)
	}
	if !h.LiquidationPrice.Equal(d(120)) {
		t.Errorf("liquidation = %s, want 120", h.LiquidationPrice)
	}
}

func TestGetParticipant_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)
	if w := do(t, router, "GET", "/api/v1/participants/nobody", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, router, "GET", "/api/v1/participants/nobody/trades", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetTrades_NewestFirst(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedParticipant(t, ms, "a", model.ModeNewBaseline, 100000, 1)
	base := time.Date(2025, 3, 4, 2, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		err := ms.InsertTrade(context.Background(), &model.Trade{
			ID: id, ParticipantID: "a", StockCode: "600000", Action: model.ActionBuy,
			Quantity: d(100), Price: d(10), ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed trade: %v", err)
		}
	}

	w := do(t, router, "GET", "/api/v1/participants/a/trades?limit=2", "")
	var trades []model.Trade
	json.NewDecoder(w.Body).Decode(&trades)
	if len(trades) != 2 || trades[0].ID != "t3" || trades[1].ID != "t2" {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

func TestSetStatus(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedParticipant(t, ms, "a", model.ModeNewBaseline, 100000, 1)

	w := do(t, router, "PATCH", "/api/v1/participants/a/status", `{"status":"paused"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p, _ := ms.GetParticipant(context.Background(), "a")
	if p.Status != model.StatusPaused {
		t.Errorf("status = %s, want paused", p.Status)
	}

	if w := do(t, router, "PATCH", "/api/v1/participants/a/status", `{"status":"retired"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid status: expected 400, got %d", w.Code)
	}
	if w := do(t, router, "PATCH", "/api/v1/participants/zz/status", `{"status":"active"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown participant: expected 404, got %d", w.Code)
	}
}

// --- WebSocket ---

func TestEventStream_DeliversSessionEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := api.NewEventStream()
	go events.Run(ctx)

	svc := api.NewService(store.NewMemoryStore(), &stubSessions{}, nil, events)
	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Joining is asynchronous; publish until the subscriber sees a message.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make(chan session.Event, 1)
	go func() {
		var e session.Event
		if err := conn.ReadJSON(&e); err == nil {
			got <- e
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e := <-got:
			if e.Type != session.EventSessionStarted || e.SessionID != "01X" {
				t.Errorf("unexpected event: %+v", e)
			}
			return
		case <-tick.C:
			events.Publish(session.Event{Type: session.EventSessionStarted, SessionID: "01X"})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestEventStream_StopDisconnectsSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := api.NewEventStream()
	stopped := make(chan struct{})
	go func() {
		events.Run(ctx)
		close(stopped)
	}()

	svc := api.NewService(store.NewMemoryStore(), &stubSessions{}, nil, events)
	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the subscriber to be disconnected")
	}

	// Publishing after shutdown must not block.
	for i := 0; i < 300; i++ {
		events.Publish(session.Event{Type: session.EventSessionStarted, SessionID: "late"})
	}
}
