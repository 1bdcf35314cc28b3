package ledger

// SeedBalance is a test helper that sets the balance of an owner's wallet
// when using the in-memory store, creating the wallet if needed.
func SeedBalance(s Store, ownerID, currency string, amount int64) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.ensureWalletLocked(ownerID, currency)
		w.Balance = amount
	}
}

// TotalBalance is a test helper that sums balances across every wallet in
// the in-memory store, used to assert the conservation invariant.
func TotalBalance(s Store) int64 {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return 0
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var total int64
	for _, w := range mem.wallets {
		total += w.Balance
	}
	return total
}
