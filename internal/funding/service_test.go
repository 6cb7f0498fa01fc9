package funding

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lendledger/lendledger/internal/ledger"
	"github.com/lendledger/lendledger/internal/notification"
)

type recordingNotifier struct {
	messages []notification.Message
}

func (r *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	r.messages = append(r.messages, m)
	return nil
}

func seedAccount(t *testing.T, store ledger.Store, role ledger.Role) ledger.Account {
	t.Helper()
	account := ledger.Account{
		ID:          uuid.NewString(),
		DisplayName: "test-" + string(role),
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func seedLoan(t *testing.T, store ledger.Store, borrowerID string, amount int64) ledger.Loan {
	t.Helper()
	loan := ledger.Loan{
		ID:             uuid.NewString(),
		BorrowerID:     borrowerID,
		Amount:         decimal.NewFromInt(amount),
		InterestRate:   decimal.NewFromFloat(7.5),
		DurationMonths: 12,
		Purpose:        "equipment",
		Status:         ledger.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateLoan(context.Background(), loan))
	return loan
}

func TestFundActivatesLoanAndNotifiesBorrower(t *testing.T) {
	store := ledger.NewMemory()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	borrower := seedAccount(t, store, ledger.RoleBorrower)
	lender := seedAccount(t, store, ledger.RoleLender)
	ledger.SeedBalance(store, lender.ID, decimal.NewFromInt(1000))
	loan := seedLoan(t, store, borrower.ID, 400)

	result, err := svc.Fund(context.Background(), loan.ID, lender.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusActive, result.Loan.Status)
	require.Equal(t, lender.ID, result.Loan.LenderID)
	require.NotNil(t, result.Loan.FundedAt)
	require.Equal(t, ledger.TxLoanFunding, result.Transaction.Kind)
	require.True(t, result.Transaction.Amount.Equal(decimal.NewFromInt(400)))

	lenderBalance, err := store.Balance(context.Background(), lender.ID)
	require.NoError(t, err)
	require.True(t, lenderBalance.Equal(decimal.NewFromInt(600)))

	borrowerBalance, err := store.Balance(context.Background(), borrower.ID)
	require.NoError(t, err)
	require.True(t, borrowerBalance.Equal(decimal.NewFromInt(400)))

	require.Len(t, notifier.messages, 1)
	require.Equal(t, notification.KindLoanFunded, notifier.messages[0].Kind)
	require.Equal(t, borrower.ID, notifier.messages[0].Destination)
	require.Equal(t, loan.ID, notifier.messages[0].LoanID)
}

func TestFundUnknownLender(t *testing.T) {
	store := ledger.NewMemory()
	svc := NewService(store, nil)

	borrower := seedAccount(t, store, ledger.RoleBorrower)
	loan := seedLoan(t, store, borrower.ID, 100)

	_, err := svc.Fund(context.Background(), loan.ID, uuid.NewString())
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	unchanged, err := store.Loan(context.Background(), loan.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, unchanged.Status)
}

func TestFundInsufficientFundsSendsNothing(t *testing.T) {
	store := ledger.NewMemory()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	borrower := seedAccount(t, store, ledger.RoleBorrower)
	lender := seedAccount(t, store, ledger.RoleLender)
	ledger.SeedBalance(store, lender.ID, decimal.NewFromInt(50))
	loan := seedLoan(t, store, borrower.ID, 200)

	_, err := svc.Fund(context.Background(), loan.ID, lender.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Empty(t, notifier.messages)

	unchanged, err := store.Loan(context.Background(), loan.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, unchanged.Status)
	require.Empty(t, unchanged.LenderID)
}

func TestFundOwnLoanRejected(t *testing.T) {
	store := ledger.NewMemory()
	svc := NewService(store, nil)

	borrower := seedAccount(t, store, ledger.RoleBorrower)
	ledger.SeedBalance(store, borrower.ID, decimal.NewFromInt(1000))
	loan := seedLoan(t, store, borrower.ID, 100)

	_, err := svc.Fund(context.Background(), loan.ID, borrower.ID)
	require.ErrorIs(t, err, ledger.ErrSelfFunding)
}

func TestFundTwiceSecondAttemptConflicts(t *testing.T) {
	store := ledger.NewMemory()
	svc := NewService(store, nil)

	borrower := seedAccount(t, store, ledger.RoleBorrower)
	first := seedAccount(t, store, ledger.RoleLender)
	second := seedAccount(t, store, ledger.RoleLender)
	ledger.SeedBalance(store, first.ID, decimal.NewFromInt(500))
	ledger.SeedBalance(store, second.ID, decimal.NewFromInt(500))
	loan := seedLoan(t, store, borrower.ID, 300)

	_, err := svc.Fund(context.Background(), loan.ID, first.ID)
	require.NoError(t, err)

	_, err = svc.Fund(context.Background(), loan.ID, second.ID)
	require.ErrorIs(t, err, ledger.ErrLoanAlreadyFunded)

	secondBalance, err := store.Balance(context.Background(), second.ID)
	require.NoError(t, err)
	require.True(t, secondBalance.Equal(decimal.NewFromInt(500)))
}
