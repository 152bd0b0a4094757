package marketdata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Supported exchanges.
const (
	ExchangeShanghai = "SH"
	ExchangeShenzhen = "SZ"
	ExchangeBeijing  = "BJ"
)

var (
	ErrInvalidCode     = errors.New("marketdata: invalid stock code")
	ErrUnknownExchange = errors.New("marketdata: unknown exchange")
)

// codeRegex accepts 600519, SH600519, sh.600519 and 600519.SH.
var codeRegex = regexp.MustCompile(`^(?:(SH|SZ|BJ)\.?)?(\d{6})(?:\.(SH|SZ|BJ))?$`)

// StockCode is a parsed listing code.
type StockCode struct {
	Code     string `json:"code"`
	Exchange string `json:"exchange"`
}

// String renders the code as 600519.SH.
func (c StockCode) String() string {
	return c.Code + "." + c.Exchange
}

// ParseCode parses and validates a stock code in any of the common forms.
// When no exchange is given it is inferred from the leading digits.
func ParseCode(raw string) (*StockCode, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	matches := codeRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected 6 digits with optional SH/SZ/BJ)", ErrInvalidCode, raw)
	}

	prefix, code, suffix := matches[1], matches[2], matches[3]
	if prefix != "" && suffix != "" && prefix != suffix {
		return nil, fmt.Errorf("%w: conflicting exchange in %q", ErrInvalidCode, raw)
	}

	exchange := prefix
	if exchange == "" {
		exchange = suffix
	}
	if exchange == "" {
		exchange = inferExchange(code)
	}
	if exchange == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, code)
	}

	return &StockCode{Code: code, Exchange: exchange}, nil
}

// NormalizeCode returns the bare six-digit code for raw, or raw trimmed when
// it cannot be parsed.
func NormalizeCode(raw string) string {
	c, err := ParseCode(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return c.Code
}

func inferExchange(code string) string {
	switch {
	case strings.HasPrefix(code, "6"), strings.HasPrefix(code, "9"):
		return ExchangeShanghai
	case strings.HasPrefix(code, "0"), strings.HasPrefix(code, "2"), strings.HasPrefix(code, "3"):
		return ExchangeShenzhen
	case strings.HasPrefix(code, "4"), strings.HasPrefix(code, "8"):
		return ExchangeBeijing
	}
	return ""
}

// YoY categories. Each encodes a revenue/profit direction combination.
const (
	YoYStrongGrowth  = 1 // revenue and profit both up ≥ 20%
	YoYGrowth        = 2 // revenue and profit both up
	YoYProfitOnly    = 3 // revenue down, profit up
	YoYRevenueOnly   = 4 // revenue up, profit down
	YoYDecline       = 5 // revenue and profit both down
	YoYLossMaking    = 6 // net loss for the period
	strongGrowthMark = 20
)

// ClassifyYoY buckets a company's year-over-year revenue and profit changes
// (percent) into categories 1-6. A negative net profit always maps to 6.
func ClassifyYoY(revenueYoY, profitYoY, netProfit decimal.Decimal) int {
	if netProfit.IsNegative() {
		return YoYLossMaking
	}
	revUp := !revenueYoY.IsNegative()
	profUp := !profitYoY.IsNegative()
	strong := decimal.NewFromInt(strongGrowthMark)

	switch {
	case revUp && profUp && revenueYoY.GreaterThanOrEqual(strong) && profitYoY.GreaterThanOrEqual(strong):
		return YoYStrongGrowth
	case revUp && profUp:
		return YoYGrowth
	case !revUp && profUp:
		return YoYProfitOnly
	case revUp && !profUp:
		return YoYRevenueOnly
	default:
		return YoYDecline
	}
}

// YoYLabel is a short human label for a category, used in prompts.
func YoYLabel(category int) string {
	switch category {
	case YoYStrongGrowth:
		return "strong growth"
	case YoYGrowth:
		return "growth"
	case YoYProfitOnly:
		return "profit up, revenue down"
	case YoYRevenueOnly:
		return "revenue up, profit down"
	case YoYDecline:
		return "decline"
	case YoYLossMaking:
		return "loss-making"
	}
	return "unknown"
}
