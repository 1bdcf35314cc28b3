package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/metrics"
)

// DefaultCurrency applies when a request omits the currency code.
const DefaultCurrency = "USD"

// Service exposes wallet provisioning and read operations backed by the
// ledger store.
type Service struct {
	store     ledger.Store
	collector *metrics.Collector
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, collector *metrics.Collector) *Service {
	return &Service{store: store, collector: collector}
}

// Balance is a point-in-time view of a wallet's funds.
type Balance struct {
	WalletID  string
	OwnerID   string
	Currency  string
	Total     int64
	Frozen    int64
	Available int64
	AsOf      time.Time
}

// Ensure provisions a wallet for the owner, creating it lazily on first
// use. Wallets are never deleted; zero-balance wallets persist for audit.
func (s *Service) Ensure(ctx context.Context, ownerID, currency string) (ledger.Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ledger.Wallet{}, fmt.Errorf("owner id is required")
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	w, err := s.store.EnsureWallet(ctx, ownerID, currency)
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.collector.ObserveBalance(w.OwnerID, w.Currency, w.Balance)
	return w, nil
}

// Balance returns the wallet's total, frozen and available amounts.
func (s *Service) Balance(ctx context.Context, ownerID, currency string) (Balance, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	w, err := s.store.WalletByOwner(ctx, ownerID, currency)
	if err != nil {
		return Balance{}, err
	}
	s.collector.ObserveBalance(w.OwnerID, w.Currency, w.Balance)
	return Balance{
		WalletID:  w.ID,
		OwnerID:   w.OwnerID,
		Currency:  w.Currency,
		Total:     w.Balance,
		Frozen:    w.Frozen,
		Available: w.Available(),
		AsOf:      time.Now().UTC(),
	}, nil
}

// Statement returns the append-only ledger entries for the owner's
// wallet, the raw material for reconciliation and invoicing.
func (s *Service) Statement(ctx context.Context, ownerID, currency string) ([]ledger.Entry, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	w, err := s.store.WalletByOwner(ctx, ownerID, currency)
	if err != nil {
		return nil, err
	}
	return s.store.EntriesForWallet(ctx, w.ID)
}
