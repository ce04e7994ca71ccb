package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Common currency codes
const (
	// CurrencyEUR is the ISO 4217 code for Euro.
	CurrencyEUR = "EUR"
	// CurrencyGBP is the ISO 4217 code for British Pound.
	CurrencyGBP = "GBP"
)

// Money is an instructed amount with its currency.
// Uses decimal.Decimal so amounts survive persistence without rounding.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// NewMoneyFromString creates Money from a string amount.
func NewMoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// NewMoneyFromInt creates Money from an integer (whole units).
func NewMoneyFromInt(amount int64, currency string) Money {
	return NewMoney(decimal.NewFromInt(amount), currency)
}

// IsPositive returns true if amount > 0.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// Equal returns true if both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String returns a human-readable representation.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
