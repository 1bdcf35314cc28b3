package money

import (
	"errors"
	"testing"
)

func TestAddSubSameCurrency(t *testing.T) {
	a := New(1_000, "USD")
	b := New(250, "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.Amount != 1_250 {
		t.Fatalf("expected 1250, got %d", sum.Amount)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Amount != 750 {
		t.Fatalf("expected 750, got %d", diff.Amount)
	}
}

func TestCurrencyMismatch(t *testing.T) {
	a := New(1_000, "USD")
	b := New(1_000, "EUR")

	if _, err := a.Add(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if _, err := a.Sub(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if _, err := a.Cmp(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
}

func TestCmp(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{100, 200, -1},
		{200, 100, 1},
		{100, 100, 0},
	}
	for _, tc := range cases {
		got, err := New(tc.a, "USD").Cmp(New(tc.b, "USD"))
		if err != nil {
			t.Fatalf("cmp(%d,%d): %v", tc.a, tc.b, err)
		}
		if got != tc.want {
			t.Fatalf("cmp(%d,%d)=%d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestProrate(t *testing.T) {
	cases := []struct {
		name             string
		fee, part, whole int64
		want             int64
	}{
		{"full release keeps full fee", 500, 50_000, 50_000, 500},
		{"half release halves fee", 500, 25_000, 50_000, 250},
		{"floor division", 100, 1, 3, 33},
		{"zero part", 500, 0, 50_000, 0},
		{"part above whole capped", 500, 60_000, 50_000, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Prorate(tc.fee, tc.part, tc.whole); got != tc.want {
				t.Fatalf("prorate(%d,%d,%d)=%d, want %d", tc.fee, tc.part, tc.whole, got, tc.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := New(47_000, "USD").String(); got != "470.00 USD" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := New(-105, "EUR").String(); got != "-1.05 EUR" {
		t.Fatalf("unexpected format: %s", got)
	}
}
