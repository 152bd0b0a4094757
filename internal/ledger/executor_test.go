package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/decision"
	"github.com/atmx/arena-engine/internal/ledger"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var fixedNow = time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

// newTestEnv creates an executor over an in-memory store seeded with one
// active participant holding cash.
func newTestEnv(t *testing.T, cash float64, mode model.Mode) (*ledger.Executor, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	err := ms.CreateParticipant(context.Background(), &model.Participant{
		ID:             "p1",
		ModelID:        "gpt-4o",
		Mode:           mode,
		InitialCapital: d(cash),
		CashBalance:    d(cash),
		PortfolioValue: d(cash),
		Status:         model.StatusActive,
	})
	if err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	ex := ledger.NewExecutor(ms).WithClock(func() time.Time { return fixedNow })
	return ex, ms
}

func order(action model.Action, code string, qty, price float64) ledger.Order {
	return ledger.Order{
		ParticipantID: "p1",
		SessionID:     "s1",
		Proposal:      decision.Proposal{Action: action, StockCode: code, StockName: "Test Co", Quantity: d(qty), Reason: "test"},
		Price:         d(price),
		FeeRate:       d(0.0015),
	}
}

func mustExecute(t *testing.T, ex *ledger.Executor, o ledger.Order) *ledger.Fill {
	t.Helper()
	fill, err := ex.Execute(context.Background(), o)
	if err != nil {
		t.Fatalf("execute %s %s: %v", o.Proposal.Action, o.Proposal.StockCode, err)
	}
	return fill
}

func TestBuy_DebitsCashWithFee(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	ctx := context.Background()

	fill := mustExecute(t, ex, order(model.ActionBuy, "600000", 1000, 2.00))

	// 10000 − 1000 × 2.00 × 1.0015
	p, _ := ms.GetParticipant(ctx, "p1")
	if !p.CashBalance.Equal(d(7997)) {
		t.Errorf("cash = %s, want 7997.00", p.CashBalance)
	}
	if p.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", p.TotalTrades)
	}

	h, err := ms.GetHolding(ctx, "p1", "600000")
	if err != nil {
		t.Fatalf("holding missing: %v", err)
	}
	if !h.Quantity.Equal(d(1000)) || !h.AvgBuyPrice.Equal(d(2)) {
		t.Errorf("holding = %s @ %s, want 1000 @ 2.00", h.Quantity, h.AvgBuyPrice)
	}

	if fill.Trade.RealizedPnL != nil {
		t.Error("BUY trade must not carry realized P&L")
	}
	if !fill.Trade.Fees.Equal(d(3)) {
		t.Errorf("fees = %s, want 3", fill.Trade.Fees)
	}
	if !fill.Trade.ExecutedAt.Equal(fixedNow) {
		t.Errorf("executed_at = %v", fill.Trade.ExecutedAt)
	}

	trades, _ := ms.ListTrades(ctx, "p1", 0)
	if len(trades) != 1 || trades[0].Mode != model.ModeNewBaseline || trades[0].SessionID != "s1" {
		t.Errorf("trade log = %+v", trades)
	}
}

func TestBuy_WeightedAverageCost(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	mustExecute(t, ex, order(model.ActionBuy, "600000", 100, 1.00))
	mustExecute(t, ex, order(model.ActionBuy, "600000", 100, 2.00))

	h, err := ms.GetHolding(context.Background(), "p1", "600000")
	if err != nil {
		t.Fatalf("holding missing: %v", err)
	}
	if !h.AvgBuyPrice.Equal(d(1.5)) {
		t.Errorf("avg = %s, want 1.50", h.AvgBuyPrice)
	}
	if !h.Quantity.Equal(d(200)) {
		t.Errorf("quantity = %s, want 200", h.Quantity)
	}
}

func TestBuy_InsufficientCash(t *testing.T) {
	ex, ms := newTestEnv(t, 1000, model.ModeNewBaseline)

	_, err := ex.Execute(context.Background(), order(model.ActionBuy, "600000", 1000, 1.00))
	if !errors.Is(err, ledger.ErrInsufficientCash) {
		t.Fatalf("err = %v, want ErrInsufficientCash", err)
	}
	p, _ := ms.GetParticipant(context.Background(), "p1")
	if !p.CashBalance.Equal(d(1000)) {
		t.Errorf("cash changed on failed buy: %s", p.CashBalance)
	}
}

func TestSell_FullExitDeletesHolding(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	ctx := context.Background()
	mustExecute(t, ex, order(model.ActionBuy, "600000", 1000, 2.00)) // cash 7997

	fill := mustExecute(t, ex, order(model.ActionSell, "600000", 1000, 2.50))

	if _, err := ms.GetHolding(ctx, "p1", "600000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("holding should be deleted, got err=%v", err)
	}
	holdings, _ := ms.ListHoldings(ctx, "p1")
	if len(holdings) != 0 {
		t.Errorf("holdings = %d, want 0", len(holdings))
	}
	if fill.Holding != nil {
		t.Error("fill should report the position closed")
	}

	// proceeds 2500 − fee 3.75
	p, _ := ms.GetParticipant(ctx, "p1")
	if !p.CashBalance.Equal(d(10493.25)) {
		t.Errorf("cash = %s, want 10493.25", p.CashBalance)
	}
	if fill.Trade.RealizedPnL == nil || !fill.Trade.RealizedPnL.Equal(d(500)) {
		t.Errorf("realized = %v, want 500", fill.Trade.RealizedPnL)
	}
	if p.WinningTrades != 1 || p.TotalTrades != 2 {
		t.Errorf("counters = %d/%d, want 1 winning of 2", p.WinningTrades, p.TotalTrades)
	}
	if !p.RealizedPnL.Equal(d(500)) {
		t.Errorf("participant realized = %s", p.RealizedPnL)
	}
}

func TestSell_PartialKeepsAverage(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	mustExecute(t, ex, order(model.ActionBuy, "600000", 1000, 2.00))
	fill := mustExecute(t, ex, order(model.ActionSell, "600000", 400, 1.50))

	h, err := ms.GetHolding(context.Background(), "p1", "600000")
	if err != nil {
		t.Fatalf("holding missing: %v", err)
	}
	if !h.Quantity.Equal(d(600)) || !h.AvgBuyPrice.Equal(d(2)) {
		t.Errorf("holding = %s @ %s, want 600 @ 2.00", h.Quantity, h.AvgBuyPrice)
	}
	if !fill.Trade.RealizedPnL.Equal(d(-200)) {
		t.Errorf("realized = %s, want -200", fill.Trade.RealizedPnL)
	}
	p, _ := ms.GetParticipant(context.Background(), "p1")
	if p.WinningTrades != 0 {
		t.Errorf("losing sell counted as win")
	}
}

func TestSell_ClampsToHeldQuantity(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	mustExecute(t, ex, order(model.ActionBuy, "600000", 100, 10))
	fill := mustExecute(t, ex, order(model.ActionSell, "600000", 500, 10))

	if !fill.Trade.Quantity.Equal(d(100)) {
		t.Errorf("sold %s, want 100", fill.Trade.Quantity)
	}
	if _, err := ms.GetHolding(context.Background(), "p1", "600000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("holding should be gone")
	}
}

func TestSell_NoPosition(t *testing.T) {
	ex, _ := newTestEnv(t, 10000, model.ModeNewBaseline)
	_, err := ex.Execute(context.Background(), order(model.ActionSell, "600000", 100, 10))
	if !errors.Is(err, ledger.ErrNoPosition) {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}
}

func TestLeveragedRoundTrip(t *testing.T) {
	ex, ms := newTestEnv(t, 100000, model.ModeMaxLeverage)
	ctx := context.Background()

	o := order(model.ActionBuy, "300750", 100, 200)
	o.Proposal.Leverage = d(2.5)
	o.FeeRate = decimal.Zero
	mustExecute(t, ex, o) // margin 20000, notional 50000

	h, _ := ms.GetHolding(ctx, "p1", "300750")
	if !h.Notional().Equal(d(50000)) {
		t.Errorf("notional = %s, want 50000", h.Notional())
	}
	if !h.LiquidationPrice().Equal(d(120)) {
		t.Errorf("liquidation = %s, want 120", h.LiquidationPrice())
	}

	s := order(model.ActionSell, "300750", 100, 210)
	s.FeeRate = decimal.Zero
	fill := mustExecute(t, ex, s)

	// (210 − 200) × 100 × 2.5, scaled once.
	if !fill.Trade.RealizedPnL.Equal(d(2500)) {
		t.Errorf("realized = %s, want 2500", fill.Trade.RealizedPnL)
	}
	p, _ := ms.GetParticipant(ctx, "p1")
	if !p.CashBalance.Equal(d(102500)) {
		t.Errorf("cash = %s, want 102500", p.CashBalance)
	}
}

func TestLeveragedLossFlooredAtMargin(t *testing.T) {
	ex, ms := newTestEnv(t, 100000, model.ModeMaxLeverage)

	o := order(model.ActionBuy, "300750", 100, 200)
	o.Proposal.Leverage = d(3)
	o.FeeRate = decimal.Zero
	mustExecute(t, ex, o)

	s := order(model.ActionSell, "300750", 100, 100)
	s.FeeRate = decimal.Zero
	fill := mustExecute(t, ex, s)

	if !fill.Trade.RealizedPnL.Equal(d(-20000)) {
		t.Errorf("realized = %s, want -20000 (whole margin)", fill.Trade.RealizedPnL)
	}
	p, _ := ms.GetParticipant(context.Background(), "p1")
	if !p.CashBalance.Equal(d(80000)) {
		t.Errorf("cash = %s, want 80000", p.CashBalance)
	}
}

func TestLeverageAveragedByMargin(t *testing.T) {
	ex, ms := newTestEnv(t, 100000, model.ModeMaxLeverage)

	a := order(model.ActionBuy, "300750", 100, 100)
	a.Proposal.Leverage = d(2.5)
	mustExecute(t, ex, a)
	b := order(model.ActionBuy, "300750", 100, 100)
	b.Proposal.Leverage = d(3)
	mustExecute(t, ex, b)

	h, _ := ms.GetHolding(context.Background(), "p1", "300750")
	if !h.Leverage.Equal(d(2.75)) {
		t.Errorf("leverage = %s, want 2.75", h.Leverage)
	}
}

func TestSimulate_WritesNothing(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	ctx := context.Background()

	p, _ := ms.GetParticipant(ctx, "p1")
	fill, err := ex.Simulate(order(model.ActionBuy, "600000", 1000, 2.00), *p, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if !fill.Participant.CashBalance.Equal(d(7997)) {
		t.Errorf("simulated cash = %s, want 7997", fill.Participant.CashBalance)
	}
	p, _ = ms.GetParticipant(ctx, "p1")
	if !p.CashBalance.Equal(d(10000)) {
		t.Errorf("simulate changed cash to %s", p.CashBalance)
	}
	if trades, _ := ms.ListTrades(ctx, "p1", 0); len(trades) != 0 {
		t.Errorf("simulate wrote %d trades", len(trades))
	}
	if holdings, _ := ms.ListHoldings(ctx, "p1"); len(holdings) != 0 {
		t.Errorf("simulate wrote holdings")
	}
}

// Chained simulated fills must match what Execute produces against the store.
func TestSimulate_ChainsLikeExecute(t *testing.T) {
	steps := []ledger.Order{
		order(model.ActionBuy, "600000", 1000, 2.00),
		order(model.ActionBuy, "600000", 1000, 3.00),
		order(model.ActionSell, "600000", 500, 4.00),
		order(model.ActionSell, "600000", 5000, 1.00),
	}

	live, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	for _, o := range steps {
		mustExecute(t, live, o)
	}
	want, _ := ms.GetParticipant(context.Background(), "p1")

	sim, simStore := newTestEnv(t, 10000, model.ModeNewBaseline)
	p, _ := simStore.GetParticipant(context.Background(), "p1")
	acct := *p
	var holding *model.Holding
	for _, o := range steps {
		fill, err := sim.Simulate(o, acct, holding)
		if err != nil {
			t.Fatalf("simulate %s: %v", o.Proposal.Action, err)
		}
		acct, holding = fill.Participant, fill.Holding
	}

	if !acct.CashBalance.Equal(want.CashBalance) {
		t.Errorf("simulated cash = %s, executed cash = %s", acct.CashBalance, want.CashBalance)
	}
	if !acct.RealizedPnL.Equal(want.RealizedPnL) || acct.WinningTrades != want.WinningTrades || acct.TotalTrades != want.TotalTrades {
		t.Errorf("simulated counters %+v differ from executed %+v", acct, want)
	}
	if holding != nil {
		t.Errorf("final sell should close the simulated position, got %s", holding.Quantity)
	}

	// Selling what was never bought still fails.
	if _, err := sim.Simulate(order(model.ActionSell, "600519", 10, 1), acct, nil); !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) ApplyFill(context.Context, *model.Fill) error {
	return errors.New("disk full")
}

func TestExecute_FailedWriteLeavesLedgerUntouched(t *testing.T) {
	_, ms := newTestEnv(t, 10000, model.ModeNewBaseline)
	ex := ledger.NewExecutor(failingStore{ms}).WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := ex.Execute(ctx, order(model.ActionBuy, "600000", 1000, 2.00))
	if err == nil {
		t.Fatal("expected the write failure to surface")
	}

	p, _ := ms.GetParticipant(ctx, "p1")
	if !p.CashBalance.Equal(d(10000)) || p.TotalTrades != 0 {
		t.Errorf("participant changed: cash %s, trades %d", p.CashBalance, p.TotalTrades)
	}
	if holdings, _ := ms.ListHoldings(ctx, "p1"); len(holdings) != 0 {
		t.Errorf("holding saved despite failure: %+v", holdings)
	}
	if trades, _ := ms.ListTrades(ctx, "p1", 0); len(trades) != 0 {
		t.Errorf("trade recorded despite failure")
	}
}

func TestExecute_InvalidOrders(t *testing.T) {
	ex, ms := newTestEnv(t, 10000, model.ModeNewBaseline)

	tests := []struct {
		name string
		o    ledger.Order
	}{
		{"zero price", order(model.ActionBuy, "600000", 100, 0)},
		{"zero quantity", order(model.ActionBuy, "600000", 0, 10)},
		{"hold", order(model.ActionHold, "600000", 100, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ex.Execute(context.Background(), tt.o); !errors.Is(err, ledger.ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}

	if err := ms.SetParticipantStatus(context.Background(), "p1", model.StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := ex.Execute(context.Background(), order(model.ActionBuy, "600000", 100, 10)); !errors.Is(err, ledger.ErrParticipantPaused) {
		t.Errorf("paused participant traded: %v", err)
	}
}
