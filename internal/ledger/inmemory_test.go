package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestAccount(t *testing.T, s Store, role Role) Account {
	t.Helper()
	account := Account{
		ID:          uuid.NewString(),
		DisplayName: "test " + string(role),
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func newTestLoan(t *testing.T, s Store, borrowerID, amount string) Loan {
	t.Helper()
	loan := Loan{
		ID:             uuid.NewString(),
		BorrowerID:     borrowerID,
		Amount:         decimal.RequireFromString(amount),
		InterestRate:   decimal.RequireFromString("5.5"),
		DurationMonths: 12,
		Purpose:        "inventory restock",
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateLoan(context.Background(), loan); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	return loan
}

func TestMemoryStore_DepositAndBalance(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	lender := newTestAccount(t, s, RoleLender)

	wallet, tx, err := s.Deposit(ctx, lender.ID, decimal.RequireFromString("250.00"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !wallet.Balance.Equal(decimal.RequireFromString("250.00")) {
		t.Fatalf("expected balance 250.00, got %s", wallet.Balance)
	}
	if tx.Kind != TxDeposit || tx.FromAccountID != "" {
		t.Fatalf("expected deposit transaction with no source, got %+v", tx)
	}

	balance, err := s.Balance(ctx, lender.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("250.00")) {
		t.Fatalf("expected 250.00, got %s", balance)
	}

	if _, _, err := s.Deposit(ctx, lender.ID, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := s.Deposit(ctx, uuid.NewString(), decimal.RequireFromString("10")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMemoryStore_TransferInsufficientFunds(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	a := newTestAccount(t, s, RoleLender)
	b := newTestAccount(t, s, RoleBorrower)
	SeedBalance(s, a.ID, decimal.RequireFromString("100.00"))

	_, err := s.Transfer(ctx, a.ID, b.ID, decimal.RequireFromString("150.00"), TxLoanFunding, "")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Neither side moved and no ledger entry exists.
	balance, _ := s.Balance(ctx, a.ID)
	if !balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("source balance changed: %s", balance)
	}
	balance, _ = s.Balance(ctx, b.ID)
	if !balance.IsZero() {
		t.Fatalf("destination balance changed: %s", balance)
	}
	txs, err := s.TransactionsFor(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestMemoryStore_ConcurrentDebitsNeverNegative(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	source := newTestAccount(t, s, RoleLender)
	sink := newTestAccount(t, s, RoleBorrower)
	SeedBalance(s, source.ID, decimal.NewFromInt(1_000))

	const workers = 50
	amount := decimal.NewFromInt(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Transfer(ctx, source.ID, sink.ID, amount, TxLoanFunding, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 transfers to succeed, got %d", succeeded)
	}
	balance, _ := s.Balance(ctx, source.ID)
	if balance.Sign() < 0 {
		t.Fatalf("source balance went negative: %s", balance)
	}
	if !balance.IsZero() {
		t.Fatalf("expected drained source, got %s", balance)
	}
}

func TestMemoryStore_FundLoanCommitsAllEffects(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	lender := newTestAccount(t, s, RoleLender)
	SeedBalance(s, lender.ID, decimal.RequireFromString("500.00"))
	loan := newTestLoan(t, s, borrower.ID, "200.00")

	funded, tx, err := s.FundLoan(ctx, loan.ID, lender.ID)
	if err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	if funded.Status != StatusActive || funded.LenderID != lender.ID || funded.FundedAt == nil {
		t.Fatalf("loan not active with lender set: %+v", funded)
	}
	if tx.Kind != TxLoanFunding || tx.LoanID != loan.ID || !tx.Amount.Equal(loan.Amount) {
		t.Fatalf("unexpected funding transaction: %+v", tx)
	}

	lenderBalance, _ := s.Balance(ctx, lender.ID)
	if !lenderBalance.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("expected lender balance 300.00, got %s", lenderBalance)
	}
	borrowerBalance, _ := s.Balance(ctx, borrower.ID)
	if !borrowerBalance.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("expected borrower balance 200.00, got %s", borrowerBalance)
	}

	lenderTxs, _ := s.TransactionsFor(ctx, lender.ID, 0)
	if len(lenderTxs) != 1 || lenderTxs[0].Kind != TxLoanFunding {
		t.Fatalf("expected one loan_funding entry for lender, got %+v", lenderTxs)
	}
	borrowerTxs, _ := s.TransactionsFor(ctx, borrower.ID, 0)
	if len(borrowerTxs) != 1 || borrowerTxs[0].ToAccountID != borrower.ID {
		t.Fatalf("expected matching credit entry for borrower, got %+v", borrowerTxs)
	}
}

func TestMemoryStore_FundLoanInsufficientFundsLeavesLoanPending(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	lender := newTestAccount(t, s, RoleLender)
	SeedBalance(s, lender.ID, decimal.RequireFromString("100.00"))
	loan := newTestLoan(t, s, borrower.ID, "150.00")

	_, _, err := s.FundLoan(ctx, loan.ID, lender.ID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, _ := s.Loan(ctx, loan.ID)
	if got.Status != StatusPending || got.LenderID != "" || got.FundedAt != nil {
		t.Fatalf("loan mutated on failed funding: %+v", got)
	}
	balance, _ := s.Balance(ctx, lender.ID)
	if !balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("lender balance changed: %s", balance)
	}
}

func TestMemoryStore_ConcurrentFundersExactlyOneWins(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	loan := newTestLoan(t, s, borrower.ID, "200.00")

	const lenders = 8
	ids := make([]string, lenders)
	for i := range ids {
		lender := newTestAccount(t, s, RoleLender)
		SeedBalance(s, lender.ID, decimal.NewFromInt(1_000))
		ids[i] = lender.ID
	}

	var wg sync.WaitGroup
	results := make(chan error, lenders)
	for _, lenderID := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := s.FundLoan(ctx, loan.ID, id)
			results <- err
		}(lenderID)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrLoanAlreadyFunded):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != lenders-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", lenders-1, wins, losses)
	}

	// Losing lenders keep their full balance.
	funded, _ := s.Loan(ctx, loan.ID)
	for _, lenderID := range ids {
		balance, _ := s.Balance(ctx, lenderID)
		want := decimal.NewFromInt(1_000)
		if lenderID == funded.LenderID {
			want = decimal.NewFromInt(800)
		}
		if !balance.Equal(want) {
			t.Fatalf("lender %s balance %s, want %s", lenderID, balance, want)
		}
	}
}

func TestMemoryStore_ConservationOfFunds(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	borrower := newTestAccount(t, s, RoleBorrower)
	accounts := []string{borrower.ID}
	deposited := decimal.Zero
	for i := 0; i < 5; i++ {
		lender := newTestAccount(t, s, RoleLender)
		accounts = append(accounts, lender.ID)
		amount := decimal.NewFromInt(int64(100 * (i + 1)))
		if _, _, err := s.Deposit(ctx, lender.ID, amount); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		deposited = deposited.Add(amount)

		loan := newTestLoan(t, s, borrower.ID, fmt.Sprintf("%d.00", 40*(i+1)))
		if _, _, err := s.FundLoan(ctx, loan.ID, lender.ID); err != nil {
			t.Fatalf("fund loan %d: %v", i, err)
		}
	}

	total := decimal.Zero
	for _, id := range accounts {
		balance, err := s.Balance(ctx, id)
		if err != nil {
			t.Fatalf("balance %s: %v", id, err)
		}
		total = total.Add(balance)
	}
	if !total.Equal(deposited) {
		t.Fatalf("funds not conserved: deposits %s, balances %s", deposited, total)
	}
}

func TestMemoryStore_RepeatFundIsIdempotentFailure(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	lender := newTestAccount(t, s, RoleLender)
	other := newTestAccount(t, s, RoleLender)
	SeedBalance(s, lender.ID, decimal.NewFromInt(500))
	SeedBalance(s, other.ID, decimal.NewFromInt(500))
	loan := newTestLoan(t, s, borrower.ID, "200.00")

	if _, _, err := s.FundLoan(ctx, loan.ID, lender.ID); err != nil {
		t.Fatalf("first fund: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := s.FundLoan(ctx, loan.ID, other.ID); !errors.Is(err, ErrLoanAlreadyFunded) {
			t.Fatalf("attempt %d: expected ErrLoanAlreadyFunded, got %v", i, err)
		}
	}

	balance, _ := s.Balance(ctx, other.ID)
	if !balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("losing lender was charged: %s", balance)
	}
	got, _ := s.Loan(ctx, loan.ID)
	if got.LenderID != lender.ID {
		t.Fatalf("loan lender changed: %s", got.LenderID)
	}
}

func TestMemoryStore_SelfFundingRejected(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	SeedBalance(s, borrower.ID, decimal.NewFromInt(1_000))
	loan := newTestLoan(t, s, borrower.ID, "200.00")

	if _, _, err := s.FundLoan(ctx, loan.ID, borrower.ID); !errors.Is(err, ErrSelfFunding) {
		t.Fatalf("expected ErrSelfFunding, got %v", err)
	}
	got, _ := s.Loan(ctx, loan.ID)
	if got.Status != StatusPending {
		t.Fatalf("loan left pending: %s", got.Status)
	}
}

func TestMemoryStore_CloseLoanTransitions(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	borrower := newTestAccount(t, s, RoleBorrower)
	lender := newTestAccount(t, s, RoleLender)
	SeedBalance(s, lender.ID, decimal.NewFromInt(500))
	loan := newTestLoan(t, s, borrower.ID, "100.00")

	// pending loans cannot be closed
	if _, err := s.CloseLoan(ctx, loan.ID, StatusCompleted); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState for pending loan, got %v", err)
	}

	if _, _, err := s.FundLoan(ctx, loan.ID, lender.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	closed, err := s.CloseLoan(ctx, loan.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", closed.Status)
	}

	// terminal states absorb
	if _, err := s.CloseLoan(ctx, loan.ID, StatusDefaulted); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState from terminal state, got %v", err)
	}
	if _, err := s.CloseLoan(ctx, loan.ID, StatusActive); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState for non-terminal target, got %v", err)
	}
}

func TestMemoryStore_TransactionsNewestFirstWithLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	lender := newTestAccount(t, s, RoleLender)

	for i := 1; i <= 5; i++ {
		if _, _, err := s.Deposit(ctx, lender.ID, decimal.NewFromInt(int64(i))); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	txs, err := s.TransactionsFor(ctx, lender.ID, 3)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected newest entry first, got %s", txs[0].Amount)
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].CreatedAt.After(txs[i-1].CreatedAt) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestMemoryStore_SetRole(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	account := newTestAccount(t, s, RoleBorrower)

	if err := s.SetRole(ctx, account.ID, RoleLender); err != nil {
		t.Fatalf("set role: %v", err)
	}
	got, _ := s.Account(ctx, account.ID)
	if got.Role != RoleLender {
		t.Fatalf("expected lender role, got %s", got.Role)
	}
	if err := s.SetRole(ctx, uuid.NewString(), RoleAdmin); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
