package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	amountScale int32 = 2

	// numeric(18,2) holds sixteen integer digits.
	maxAmountIntegerDigits int32 = 16
	minAmountExponent      int32 = -32
	maxAmountTextLength          = 64
)

var (
	oneHundred         = decimal.NewFromInt(100)
	maxAmountMagnitude = decimal.New(1, maxAmountIntegerDigits)
)

// Amount is a fixed-point currency value with two decimal places.
type Amount struct {
	value decimal.Decimal
}

// PositiveAmount is an Amount strictly greater than zero.
type PositiveAmount struct {
	amount Amount
}

// ZeroAmount returns 0.00.
func ZeroAmount() Amount {
	return Amount{value: decimal.Zero}
}

// NewAmount validates precision and range; any sign is accepted.
func NewAmount(value decimal.Decimal) (Amount, error) {
	// Rounding rescales the coefficient, so the exponent is bounded first.
	if value.Exponent() > maxAmountIntegerDigits || value.Exponent() < minAmountExponent {
		return Amount{}, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	rounded := value.Round(amountScale)
	if !value.Equal(rounded) {
		return Amount{}, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, amountScale)
	}
	amount := Amount{value: rounded}
	if !amount.WithinRange() {
		return Amount{}, fmt.Errorf("%w: magnitude must be below %s", ErrInvalidAmount, maxAmountMagnitude)
	}
	return amount, nil
}

// ParseAmount parses a decimal string such as "30.00".
func ParseAmount(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	if len(trimmed) > maxAmountTextLength {
		return Amount{}, fmt.Errorf("%w: value too long", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, trimmed)
	}
	return NewAmount(value)
}

// NewNonNegativeAmount validates an amount that may be zero but not negative.
func NewNonNegativeAmount(value decimal.Decimal) (Amount, error) {
	amount, err := NewAmount(value)
	if err != nil {
		return Amount{}, err
	}
	if amount.IsNegative() {
		return Amount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return amount, nil
}

// ParseNonNegativeAmount parses a decimal string that must not be negative.
func ParseNonNegativeAmount(raw string) (Amount, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return Amount{}, err
	}
	return NewNonNegativeAmount(amount.value)
}

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(value decimal.Decimal) (PositiveAmount, error) {
	amount, err := NewAmount(value)
	if err != nil {
		return PositiveAmount{}, err
	}
	if !amount.IsPositive() {
		return PositiveAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount{amount: amount}, nil
}

// ParsePositiveAmount parses a decimal string that must be greater than zero.
func ParsePositiveAmount(raw string) (PositiveAmount, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return PositiveAmount{}, err
	}
	return NewPositiveAmount(amount.value)
}

// Decimal exposes the underlying decimal value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String renders the amount with exactly two decimals.
func (amount Amount) String() string {
	return amount.value.StringFixed(amountScale)
}

func (amount Amount) Add(other Amount) Amount {
	return Amount{value: amount.value.Add(other.value)}
}

func (amount Amount) Sub(other Amount) Amount {
	return Amount{value: amount.value.Sub(other.value)}
}

func (amount Amount) Neg() Amount {
	return Amount{value: amount.value.Neg()}
}

func (amount Amount) Abs() Amount {
	return Amount{value: amount.value.Abs()}
}

func (amount Amount) Cmp(other Amount) int {
	return amount.value.Cmp(other.value)
}

func (amount Amount) Equal(other Amount) bool {
	return amount.value.Equal(other.value)
}

func (amount Amount) LessThan(other Amount) bool {
	return amount.value.LessThan(other.value)
}

func (amount Amount) GreaterThan(other Amount) bool {
	return amount.value.GreaterThan(other.value)
}

func (amount Amount) IsZero() bool {
	return amount.value.IsZero()
}

func (amount Amount) IsNegative() bool {
	return amount.value.IsNegative()
}

func (amount Amount) IsPositive() bool {
	return amount.value.IsPositive()
}

// WithinRange reports whether the amount fits the stored numeric(18,2) columns.
func (amount Amount) WithinRange() bool {
	return amount.value.Abs().LessThan(maxAmountMagnitude)
}

// Amount returns the value as a plain Amount.
func (amount PositiveAmount) Amount() Amount {
	return amount.amount
}

// String renders the amount with exactly two decimals.
func (amount PositiveAmount) String() string {
	return amount.amount.String()
}

// MinAmount returns the smaller of two amounts.
func MinAmount(left Amount, right Amount) Amount {
	if left.LessThan(right) {
		return left
	}
	return right
}

// UsagePercent computes used/limit*100 rounded half-up to two places and clamped to [0,100].
// A zero limit reports 0%.
func UsagePercent(used Amount, limit Amount) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	percent := used.value.Mul(oneHundred).Div(limit.value).Round(amountScale)
	if percent.IsNegative() {
		return decimal.Zero
	}
	if percent.GreaterThan(oneHundred) {
		return oneHundred
	}
	return percent
}
