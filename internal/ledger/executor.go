// Package ledger applies validated trade actions to a participant's account:
// cash, holdings with weighted-average cost, realized P&L and the append-only
// trade log.
//
// All monetary values use shopspring/decimal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/decision"
	"github.com/atmx/arena-engine/internal/metrics"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/store"
)

var (
	ErrInvalidOrder      = errors.New("ledger: invalid order")
	ErrInsufficientCash  = errors.New("ledger: insufficient cash")
	ErrNoPosition        = errors.New("ledger: no position to sell")
	ErrParticipantPaused = errors.New("ledger: participant is not active")
)

var one = decimal.NewFromInt(1)

// Order is one validated action ready to be filled at Price.
type Order struct {
	ParticipantID string
	SessionID     string
	Proposal      decision.Proposal
	Price         decimal.Decimal
	FeeRate       decimal.Decimal // fraction, 0.0015 for 0.15%
}

// Fill is the outcome of one executed order.
type Fill = model.Fill

// Executor fills orders against the store. Orders for the same participant
// are serialized; different participants proceed independently.
type Executor struct {
	store store.Store
	now   func() time.Time
	locks sync.Map // participant ID → *sync.Mutex
}

// NewExecutor creates an executor over st.
func NewExecutor(st store.Store) *Executor {
	return &Executor{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the trade timestamp source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) lock(participantID string) func() {
	v, _ := e.locks.LoadOrStore(participantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Execute fills o against the stored account and writes the holding, the
// trade and the new cash balance in one store call.
func (e *Executor) Execute(ctx context.Context, o Order) (*Fill, error) {
	if err := o.check(); err != nil {
		return nil, err
	}

	unlock := e.lock(o.ParticipantID)
	defer unlock()

	p, err := e.store.GetParticipant(ctx, o.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	existing, err := e.store.GetHolding(ctx, p.ID, o.Proposal.StockCode)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load holding: %w", err)
	}

	fill, err := e.fill(p, existing, o)
	if err != nil {
		return nil, err
	}
	if err := e.store.ApplyFill(ctx, fill); err != nil {
		return nil, fmt.Errorf("apply fill: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(string(fill.Trade.Action), string(p.Mode)).Inc()
	slog.Info("trade executed",
		"trade_id", fill.Trade.ID,
		"participant", p.ID,
		"action", fill.Trade.Action,
		"stock", fill.Trade.StockCode,
		"quantity", fill.Trade.Quantity.String(),
		"price", fill.Trade.Price.String(),
		"fees", fill.Trade.Fees.String(),
		"cash", fill.Participant.CashBalance.String(),
	)
	return fill, nil
}

// Simulate computes the fill o would produce against p and existing, the
// caller's own view of the account, without reading or writing the store.
// Dry runs chain orders by feeding each Fill's Participant and Holding into
// the next call.
func (e *Executor) Simulate(o Order, p model.Participant, existing *model.Holding) (*Fill, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	fill, err := e.fill(&p, existing, o)
	if err != nil {
		return nil, err
	}
	slog.Info("dry run fill",
		"participant", p.ID, "action", fill.Trade.Action, "stock", fill.Trade.StockCode,
		"quantity", fill.Trade.Quantity.String(), "price", fill.Trade.Price.String(),
		"cash", fill.Participant.CashBalance.String())
	return fill, nil
}

func (o Order) check() error {
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !o.Proposal.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	return nil
}

func (e *Executor) fill(p *model.Participant, existing *model.Holding, o Order) (*Fill, error) {
	if p.Status != model.StatusActive {
		return nil, ErrParticipantPaused
	}
	switch o.Proposal.Action {
	case model.ActionBuy:
		return e.buy(p, existing, o)
	case model.ActionSell:
		return e.sell(p, existing, o)
	}
	return nil, fmt.Errorf("%w: unsupported action %q", ErrInvalidOrder, o.Proposal.Action)
}

func (e *Executor) newTrade(p *model.Participant, o Order, qty, leverage, fees decimal.Decimal) model.Trade {
	return model.Trade{
		ID:            uuid.New().String(),
		ParticipantID: p.ID,
		SessionID:     o.SessionID,
		StockCode:     o.Proposal.StockCode,
		StockName:     o.Proposal.StockName,
		Action:        o.Proposal.Action,
		Quantity:      qty,
		Price:         o.Price,
		Fees:          fees,
		Reasoning:     o.Proposal.Reason,
		Mode:          p.Mode,
		Leverage:      leverage,
		StopLoss:      o.Proposal.StopLoss,
		ExecutedAt:    e.now(),
	}
}

// buy debits qty × price × (1 + fee) and folds the fill into the weighted
// average cost. Leverage on an enlarged position is the margin-weighted mean.
func (e *Executor) buy(p *model.Participant, existing *model.Holding, o Order) (*Fill, error) {
	qty := o.Proposal.Quantity
	leverage := o.Proposal.Leverage
	if leverage.LessThan(one) {
		leverage = one
	}

	value := qty.Mul(o.Price)
	fees := value.Mul(o.FeeRate)
	cost := value.Add(fees)
	if cost.GreaterThan(p.CashBalance) {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, cost.StringFixed(2), p.CashBalance.StringFixed(2))
	}

	now := e.now()
	var h model.Holding
	if existing != nil {
		h = *existing
		oldMargin := h.Quantity.Mul(h.AvgBuyPrice)
		newQty := h.Quantity.Add(qty)
		h.AvgBuyPrice = oldMargin.Add(value).Div(newQty).Round(6)
		h.Leverage = oldMargin.Mul(h.EffectiveLeverage()).Add(value.Mul(leverage)).
			Div(oldMargin.Add(value)).Round(4)
		h.Quantity = newQty
	} else {
		h = model.Holding{
			ID:            uuid.New().String(),
			ParticipantID: p.ID,
			StockCode:     o.Proposal.StockCode,
			StockName:     o.Proposal.StockName,
			Quantity:      qty,
			AvgBuyPrice:   o.Price,
			Leverage:      leverage,
		}
	}
	if o.Proposal.StopLoss.IsPositive() {
		h.StopLoss = o.Proposal.StopLoss
	}
	if h.StockName == "" {
		h.StockName = o.Proposal.StockName
	}
	h.CurrentPrice = o.Price
	h.UpdatedAt = now

	updated := *p
	updated.CashBalance = p.CashBalance.Sub(cost)
	updated.TotalTrades++
	updated.UpdatedAt = now

	return &Fill{
		Trade:       e.newTrade(p, o, qty, leverage, fees),
		Participant: updated,
		Holding:     &h,
	}, nil
}

// sell realizes (price − avg) × qty × leverage, floored at the margin for
// leveraged positions, and credits margin + realized − fee. For unleveraged
// holdings that is simply qty × price − fee.
func (e *Executor) sell(p *model.Participant, existing *model.Holding, o Order) (*Fill, error) {
	if existing == nil || existing.Quantity.LessThanOrEqual(model.QuantityEpsilon) {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, o.Proposal.StockCode)
	}
	h := *existing
	qty := o.Proposal.Quantity
	if qty.GreaterThan(h.Quantity) {
		qty = h.Quantity
	}
	leverage := h.EffectiveLeverage()

	margin := qty.Mul(h.AvgBuyPrice)
	realized := o.Price.Sub(h.AvgBuyPrice).Mul(qty).Mul(leverage)
	if realized.LessThan(margin.Neg()) {
		realized = margin.Neg()
	}
	fees := qty.Mul(o.Price).Mul(o.FeeRate)
	proceeds := margin.Add(realized).Sub(fees)

	now := e.now()
	updated := *p
	updated.CashBalance = p.CashBalance.Add(proceeds)
	updated.RealizedPnL = p.RealizedPnL.Add(realized)
	updated.TotalTrades++
	if realized.IsPositive() {
		updated.WinningTrades++
	}
	updated.UpdatedAt = now

	trade := e.newTrade(p, o, qty, leverage, fees)
	trade.RealizedPnL = &realized
	if trade.StockName == "" {
		trade.StockName = h.StockName
	}

	remaining := h.Quantity.Sub(qty)
	var holding *model.Holding
	if remaining.GreaterThan(model.QuantityEpsilon) {
		h.Quantity = remaining
		h.CurrentPrice = o.Price
		h.UpdatedAt = now
		holding = &h
	}

	return &Fill{Trade: trade, Participant: updated, Holding: holding}, nil
}
