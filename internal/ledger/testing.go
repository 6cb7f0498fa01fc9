package ledger

import "github.com/shopspring/decimal"

// SeedBalance sets a wallet balance directly when the store is the in-memory
// backend. Test helper only; production balances move solely through Deposit,
// Transfer and FundLoan.
func SeedBalance(s Store, accountID string, amount decimal.Decimal) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if wallet, exists := mem.wallets[accountID]; exists {
			wallet.Balance = amount
			mem.wallets[accountID] = wallet
		}
	}
}
