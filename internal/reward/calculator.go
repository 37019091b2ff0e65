// Package reward apportions a campaign budget into per-action reward rates.
package reward

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

const (
	// HbarDecimals is the tinybar exponent: 10^8 tinybar per HBAR.
	HbarDecimals = 8
	// MaxTokenDecimals bounds the fungible token exponent accepted.
	MaxTokenDecimals = 18
)

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// Currency describes the unit a campaign pays out in.
type Currency struct {
	Type          model.CampaignType
	TokenID       *string
	TokenDecimals *int
}

// CurrencyOf extracts the payout currency of c.
func CurrencyOf(c *model.Campaign) Currency {
	return Currency{Type: c.Type, TokenID: c.TokenID, TokenDecimals: c.TokenDecimals}
}

// Decimals validates the currency and returns its base-10 exponent.
func (c Currency) Decimals() (int32, error) {
	hasToken := c.TokenID != nil && strings.TrimSpace(*c.TokenID) != ""
	switch c.Type {
	case model.TypeHBAR:
		if hasToken || c.TokenDecimals != nil {
			return 0, appErrors.NewValidationError("HBAR campaign must not carry a token")
		}
		return HbarDecimals, nil
	case model.TypeFungible:
		v := &appErrors.ValidationError{}
		if !hasToken {
			v.Add(errors.New("fungible campaign requires token_id"))
		}
		if c.TokenDecimals == nil {
			v.Add(errors.New("fungible campaign requires token_decimals"))
		} else if *c.TokenDecimals < 0 || *c.TokenDecimals > MaxTokenDecimals {
			v.Add(fmt.Errorf("token_decimals must be within [0,%d], got %d", MaxTokenDecimals, *c.TokenDecimals))
		}
		if v.HasError() {
			return 0, v
		}
		return int32(*c.TokenDecimals), nil
	default:
		return 0, appErrors.NewValidationError("unknown campaign type %q", c.Type)
	}
}

// PerActionReward splits budget equally between participants and the four
// rewarded actions. A participant count below one is treated as one so an
// empty campaign never divides by zero.
func PerActionReward(budget decimal.Decimal, participants int) decimal.Decimal {
	if participants < 1 {
		participants = 1
	}
	return budget.
		Div(decimal.NewFromInt(int64(participants))).
		Div(decimal.NewFromInt(int64(len(model.Actions))))
}

// ToSmallestUnit scales a whole-unit amount into tinybar or token base units,
// rounding down so the sum of payouts never exceeds the budget.
func ToSmallestUnit(amount decimal.Decimal, cur Currency) (int64, error) {
	exp, err := cur.Decimals()
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, appErrors.NewValidationError("amount must not be negative")
	}
	scaled := amount.Shift(exp).Floor()
	if scaled.GreaterThan(maxInt64) {
		return 0, appErrors.NewValidationError("amount %s overflows the smallest unit at %d decimals", amount, exp)
	}
	return scaled.IntPart(), nil
}

// FromSmallestUnit converts base units back to a whole-unit amount.
func FromSmallestUnit(amount int64, cur Currency) (decimal.Decimal, error) {
	exp, err := cur.Decimals()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(amount, -exp), nil
}

// ComputeRates derives the four per-action rates for a budget held in the
// smallest unit. participants is the declared estimate at draft time and the
// real distinct UNPAID participant count at close time.
func ComputeRates(budget int64, participants int, cur Currency) (model.Rates, error) {
	if budget < 0 {
		return model.Rates{}, appErrors.NewValidationError("budget must not be negative")
	}
	whole, err := FromSmallestUnit(budget, cur)
	if err != nil {
		return model.Rates{}, err
	}
	unit, err := ToSmallestUnit(PerActionReward(whole, participants), cur)
	if err != nil {
		return model.Rates{}, err
	}
	return model.Rates{Comment: unit, Retweet: unit, Like: unit, Quote: unit}, nil
}
