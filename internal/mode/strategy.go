package mode

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/decision"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/risk"
)

// Verdict is the result of validating one proposal. When Valid is true,
// Proposal holds the action as it should be executed, with quantity and
// leverage already clamped.
type Verdict struct {
	Valid    bool              `json:"valid"`
	Error    string            `json:"error,omitempty"`
	Proposal decision.Proposal `json:"proposal"`
}

func reject(format string, args ...any) Verdict {
	return Verdict{Error: fmt.Sprintf(format, args...)}
}

// Strategy is one mode's prompt builder and validator.
type Strategy interface {
	Mode() model.Mode
	Rules() RuleSet
	SystemPrompt() string
	UserPrompt(c *Context) string
	Validate(p decision.Proposal, price decimal.Decimal, a *Account) Verdict
}

// For returns the strategy for m.
func For(m model.Mode) (Strategy, error) {
	rules, err := DefaultRules(m)
	if err != nil {
		return nil, err
	}
	base := ruleBook{rules: rules}
	switch m {
	case model.ModeNewBaseline:
		return &baseline{base}, nil
	case model.ModeMonk:
		return &monk{base}, nil
	case model.ModeSituationalAwareness:
		return &situational{base}, nil
	case model.ModeMaxLeverage:
		return &maxLeverage{base}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, m)
}

// ruleBook implements the rule-driven half of Strategy shared by all modes.
type ruleBook struct {
	rules RuleSet
}

func (b ruleBook) Mode() model.Mode { return b.rules.Mode }
func (b ruleBook) Rules() RuleSet   { return b.rules }

// Validate checks p against the mode rules and the account. It never
// panics and never returns an error value; problems are reported in the
// Verdict.
func (b ruleBook) Validate(p decision.Proposal, price decimal.Decimal, a *Account) Verdict {
	r := b.rules
	if a == nil {
		return reject("no account state")
	}
	if err := risk.CheckDailyLoss(a.RealizedToday, a.InitialCapital, r.DailyLossCapPct); err != nil {
		return reject("%v", err)
	}
	if p.StockCode == "" {
		return reject("missing stock code")
	}
	if !price.IsPositive() {
		return reject("no live price for %s", p.StockCode)
	}

	switch p.Action {
	case model.ActionBuy:
		return b.validateBuy(p, price, a)
	case model.ActionSell:
		return b.validateSell(p, price, a)
	}
	return reject("unsupported action %q", p.Action)
}

func (b ruleBook) validateBuy(p decision.Proposal, price decimal.Decimal, a *Account) Verdict {
	r := b.rules
	one := decimal.NewFromInt(1)

	if r.MandatoryStopLoss {
		if !p.StopLoss.IsPositive() {
			return reject("stop-loss is required for every BUY in %s", r.Mode)
		}
		if p.StopLoss.GreaterThanOrEqual(price) {
			return reject("stop-loss %s must be below price %s", p.StopLoss.StringFixed(2), price.StringFixed(2))
		}
	}

	existing, held := a.Holdings[p.StockCode]
	if held && !r.AllowAddToPosition {
		return reject("adding to existing position %s is not allowed in %s", p.StockCode, r.Mode)
	}

	qty := p.Quantity.Floor()
	if !qty.IsPositive() {
		return reject("quantity must be positive")
	}

	leverage := one
	if r.Leveraged() {
		leverage = risk.ClampLeverage(p.Leverage, r.MinLeverage, r.MaxLeverage)
	}

	if pct := a.maxPositionPct(r); pct.IsPositive() {
		existingValue := decimal.Zero
		if held {
			existing.CurrentPrice = price
			existingValue = existing.MarketValue()
		}
		limiter := risk.NewPositionLimiter(pct)
		portfolio := a.PortfolioValue()
		if err := limiter.CheckLimit(portfolio, existingValue, qty.Mul(price)); err != nil {
			maxQty := limiter.MaxAdditionalQuantity(portfolio, existingValue, price)
			if !maxQty.IsPositive() {
				return reject("%v: %s already at %s%% cap", err, p.StockCode, pct.StringFixed(0))
			}
			qty = maxQty
		}
	}

	value := qty.Mul(price)
	if value.LessThan(a.MinTradeValue) {
		return reject("trade value %s below minimum %s", value.StringFixed(2), a.MinTradeValue.StringFixed(2))
	}
	cost := value.Mul(one.Add(a.FeeRate))
	if cost.GreaterThan(a.Cash) {
		return reject("insufficient cash: need %s, have %s", cost.StringFixed(2), a.Cash.StringFixed(2))
	}

	out := p
	out.Quantity = qty
	out.Leverage = leverage
	if !r.MandatoryStopLoss && p.StopLoss.GreaterThanOrEqual(price) {
		out.StopLoss = decimal.Zero
	}
	return Verdict{Valid: true, Proposal: out}
}

func (b ruleBook) validateSell(p decision.Proposal, price decimal.Decimal, a *Account) Verdict {
	h, held := a.Holdings[p.StockCode]
	if !held || h.Quantity.LessThanOrEqual(model.QuantityEpsilon) {
		return reject("no position in %s to sell", p.StockCode)
	}

	qty := p.Quantity
	switch {
	case !qty.IsPositive(), qty.GreaterThanOrEqual(h.Quantity):
		qty = h.Quantity
	default:
		qty = qty.Floor()
		if !qty.IsPositive() {
			return reject("quantity must be positive")
		}
	}

	value := qty.Mul(price)
	if value.LessThan(a.MinTradeValue) {
		return reject("trade value %s below minimum %s", value.StringFixed(2), a.MinTradeValue.StringFixed(2))
	}

	out := p
	out.Quantity = qty
	out.Leverage = h.EffectiveLeverage()
	if out.StockName == "" {
		out.StockName = h.StockName
	}
	return Verdict{Valid: true, Proposal: out}
}
