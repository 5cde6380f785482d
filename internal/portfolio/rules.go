package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sizing selects how entries are sized. A deployment keeps one for its lifetime.
type Sizing string

const (
	// EqualWeight opens the whole universe at once on the monthly signal day,
	// splitting cash evenly after one entry fee per ticker.
	EqualWeight Sizing = "equal-weight"
	// Fractional opens one position per scanner BUY, each sized to a fixed
	// fraction of NAV, up to floor(1/fraction) slots.
	Fractional Sizing = "fractional"
)

var ErrInvalidRules = errors.New("invalid rules")

// Rules is the immutable configuration of one portfolio.
type Rules struct {
	Tickers            []string
	InitialNAV         decimal.Decimal
	FeePerLeg          decimal.Decimal
	Sizing             Sizing
	AllocationFraction decimal.Decimal // Fractional only
}

// MaxSlots is the number of positions that may be open at once.
func (r Rules) MaxSlots() int {
	if r.Sizing == Fractional {
		if !r.AllocationFraction.IsPositive() {
			return 0
		}
		return int(decimal.NewFromInt(1).Div(r.AllocationFraction).Floor().IntPart())
	}
	return len(r.Tickers)
}

func (r Rules) Validate() error {
	switch {
	case len(r.Tickers) == 0:
		return fmt.Errorf("%w: empty ticker universe", ErrInvalidRules)
	case !r.InitialNAV.IsPositive():
		return fmt.Errorf("%w: initial NAV must be positive", ErrInvalidRules)
	case r.FeePerLeg.IsNegative():
		return fmt.Errorf("%w: negative fee", ErrInvalidRules)
	}
	seen := make(map[string]bool, len(r.Tickers))
	for _, t := range r.Tickers {
		if t == "" || seen[t] {
			return fmt.Errorf("%w: blank or duplicate ticker %q", ErrInvalidRules, t)
		}
		seen[t] = true
	}
	switch r.Sizing {
	case EqualWeight:
	case Fractional:
		if !r.AllocationFraction.IsPositive() || r.AllocationFraction.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: allocation fraction %s outside (0,1]", ErrInvalidRules, r.AllocationFraction)
		}
	default:
		return fmt.Errorf("%w: unknown sizing %q", ErrInvalidRules, r.Sizing)
	}
	return nil
}
