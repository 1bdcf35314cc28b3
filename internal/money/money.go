package money

import (
	"errors"
	"fmt"
)

var (
	// ErrCurrencyMismatch occurs when two amounts with different currency
	// codes are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidAmount occurs when an amount outside the accepted range is
	// supplied to an operation.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Money is a fixed-point monetary amount expressed in integer minor units
// (cents) tagged with an ISO 4217 currency code. All arithmetic stays in
// integer space so sums reconcile exactly.
type Money struct {
	Amount   int64
	Currency string
}

// New builds a Money value.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Positive reports whether the amount is strictly greater than zero.
func (m Money) Positive() bool {
	return m.Amount > 0
}

// Add returns m + other, failing when the currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other, failing when the currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Cmp compares m against other: -1 if m < other, 0 if equal, 1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, ErrCurrencyMismatch
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Percent returns pct percent of m, truncated toward zero.
func (m Money) Percent(pct int64) Money {
	return Money{Amount: m.Amount * pct / 100, Currency: m.Currency}
}

// String renders the amount as major.minor units, e.g. "470.00 USD".
func (m Money) String() string {
	sign := ""
	amt := m.Amount
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amt/100, amt%100, m.Currency)
}

// Prorate scales fee by part/whole using integer floor division. It is the
// single rule used for partial escrow releases so payer and payee sides
// always agree on the deducted fee.
func Prorate(fee, part, whole int64) int64 {
	if whole <= 0 || part <= 0 || fee <= 0 {
		return 0
	}
	if part >= whole {
		return fee
	}
	return fee * part / whole
}
