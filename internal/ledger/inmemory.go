package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// lockTable hands out one mutex per logical record key. acquire locks keys in
// sorted order so two operations touching overlapping records can never wait
// on each other in a cycle.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := t.locks[key]; !ok {
		t.locks[key] = &sync.Mutex{}
	}
	return t.locks[key]
}

func (t *lockTable) acquire(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	held := make([]*sync.Mutex, 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		m := t.get(key)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func loanKey(id string) string   { return "loan:" + id }
func walletKey(id string) string { return "wallet:" + id }

// memoryStore is a concurrency-safe in-memory Store. Writers serialize on
// per-loan and per-wallet record locks (loan lock strictly before wallet
// locks) and publish finished mutations under mu, so readers only ever see
// committed state.
type memoryStore struct {
	records lockTable

	mu           sync.RWMutex
	accounts     map[string]Account
	wallets      map[string]Wallet
	loans        map[string]Loan
	loanOrder    []string
	transactions []Transaction
}

// NewMemory creates an in-memory ledger store, used in development mode and
// unit tests.
func NewMemory() Store {
	return &memoryStore{
		accounts: make(map[string]Account),
		wallets:  make(map[string]Wallet),
		loans:    make(map[string]Loan),
	}
}

func (s *memoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return errors.New("account exists")
	}
	s.accounts[account.ID] = account
	s.wallets[account.ID] = Wallet{OwnerID: account.ID, Balance: decimal.Zero, UpdatedAt: account.CreatedAt}
	return nil
}

func (s *memoryStore) Account(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *memoryStore) Accounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) SetRole(_ context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Role = role
	s.accounts[id] = account
	return nil
}

func (s *memoryStore) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallet, ok := s.wallets[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return wallet.Balance, nil
}

func (s *memoryStore) Deposit(_ context.Context, accountID string, amount decimal.Decimal) (Wallet, Transaction, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return Wallet{}, Transaction{}, ErrInvalidAmount
	}

	release := s.records.acquire(walletKey(accountID))
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, ok := s.wallets[accountID]
	if !ok {
		return Wallet{}, Transaction{}, ErrAccountNotFound
	}

	now := time.Now().UTC()
	wallet.Balance = wallet.Balance.Add(amount)
	wallet.UpdatedAt = now
	s.wallets[accountID] = wallet

	tx := Transaction{
		ID:          uuid.NewString(),
		ToAccountID: accountID,
		Amount:      amount,
		Kind:        TxDeposit,
		CreatedAt:   now,
	}
	s.transactions = append(s.transactions, tx)
	return wallet, tx, nil
}

func (s *memoryStore) Transfer(_ context.Context, fromID, toID string, amount decimal.Decimal, kind TxKind, loanID string) (Transaction, error) {
	release := s.records.acquire(walletKey(fromID), walletKey(toID))
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(fromID, toID, amount, kind, loanID)
}

// transferLocked applies the debit, credit and ledger append. Callers must
// hold the record locks for both wallets and the store mutex.
func (s *memoryStore) transferLocked(fromID, toID string, amount decimal.Decimal, kind TxKind, loanID string) (Transaction, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	from, ok := s.wallets[fromID]
	if !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if _, ok := s.wallets[toID]; !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if from.Balance.Cmp(amount) < 0 {
		return Transaction{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	from.Balance = from.Balance.Sub(amount)
	from.UpdatedAt = now
	s.wallets[fromID] = from

	to := s.wallets[toID]
	to.Balance = to.Balance.Add(amount)
	to.UpdatedAt = now
	s.wallets[toID] = to

	tx := Transaction{
		ID:            uuid.NewString(),
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Kind:          kind,
		LoanID:        loanID,
		CreatedAt:     now,
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *memoryStore) CreateLoan(_ context.Context, loan Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[loan.ID]; exists {
		return errors.New("loan exists")
	}
	if _, ok := s.accounts[loan.BorrowerID]; !ok {
		return ErrAccountNotFound
	}
	s.loans[loan.ID] = loan
	s.loanOrder = append(s.loanOrder, loan.ID)
	return nil
}

func (s *memoryStore) Loan(_ context.Context, id string) (Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loan, ok := s.loans[id]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return loan, nil
}

func (s *memoryStore) Loans(_ context.Context) ([]Loan, error) {
	return s.filterLoans(func(Loan) bool { return true }), nil
}

func (s *memoryStore) LoansByStatus(_ context.Context, status LoanStatus) ([]Loan, error) {
	return s.filterLoans(func(l Loan) bool { return l.Status == status }), nil
}

func (s *memoryStore) LoansByBorrower(_ context.Context, accountID string) ([]Loan, error) {
	return s.filterLoans(func(l Loan) bool { return l.BorrowerID == accountID }), nil
}

func (s *memoryStore) LoansByLender(_ context.Context, accountID string) ([]Loan, error) {
	return s.filterLoans(func(l Loan) bool { return l.LenderID == accountID }), nil
}

// filterLoans returns matching loans newest first.
func (s *memoryStore) filterLoans(match func(Loan) bool) []Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Loan
	for i := len(s.loanOrder) - 1; i >= 0; i-- {
		if loan := s.loans[s.loanOrder[i]]; match(loan) {
			out = append(out, loan)
		}
	}
	return out
}

func (s *memoryStore) FundLoan(_ context.Context, loanID, lenderID string) (Loan, Transaction, error) {
	releaseLoan := s.records.acquire(loanKey(loanID))
	defer releaseLoan()

	s.mu.RLock()
	loan, ok := s.loans[loanID]
	s.mu.RUnlock()
	if !ok {
		return Loan{}, Transaction{}, ErrLoanNotFound
	}
	// Re-check under the loan lock: exactly one concurrent funder can pass.
	if loan.Status != StatusPending {
		return Loan{}, Transaction{}, ErrLoanAlreadyFunded
	}
	if loan.BorrowerID == lenderID {
		return Loan{}, Transaction{}, ErrSelfFunding
	}

	releaseWallets := s.records.acquire(walletKey(lenderID), walletKey(loan.BorrowerID))
	defer releaseWallets()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[lenderID]; !ok {
		return Loan{}, Transaction{}, ErrAccountNotFound
	}

	tx, err := s.transferLocked(lenderID, loan.BorrowerID, loan.Amount, TxLoanFunding, loanID)
	if err != nil {
		return Loan{}, Transaction{}, err
	}

	now := tx.CreatedAt
	loan.Status = StatusActive
	loan.LenderID = lenderID
	loan.FundedAt = &now
	s.loans[loanID] = loan

	return loan, tx, nil
}

func (s *memoryStore) CloseLoan(_ context.Context, loanID string, status LoanStatus) (Loan, error) {
	if status != StatusCompleted && status != StatusDefaulted {
		return Loan{}, ErrInvalidLoanState
	}

	release := s.records.acquire(loanKey(loanID))
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[loanID]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	if !canTransition(loan.Status, status) {
		return Loan{}, ErrInvalidLoanState
	}
	loan.Status = status
	s.loans[loanID] = loan
	return loan, nil
}

func (s *memoryStore) TransactionsFor(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.FromAccountID == accountID || tx.ToAccountID == accountID {
			out = append(out, tx)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
