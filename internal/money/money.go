package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

// ParseAmount parses a major-unit amount with at most two decimal places.
func ParseAmount(input string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(input)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.Exponent() < -2 {
		return decimal.Zero, ErrTooManyDecimals
	}
	return amount, nil
}

// ToMinorUnits converts a major-unit amount to the gateway's integer kopecks.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}

func Format(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
