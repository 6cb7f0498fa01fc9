package funding

import (
	"context"
	"fmt"

	"github.com/lendledger/lendledger/internal/ledger"
	"github.com/lendledger/lendledger/internal/notification"
)

// Service coordinates the funding transaction: a lender commits money to a
// pending loan, converting it to active. The store performs the commit as one
// indivisible unit; this service validates the participants, reports the
// outcome and emits the funded event the external lifecycle process listens
// for.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
}

// NewService builds a funding coordinator.
func NewService(store ledger.Store, notifier notification.Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// Result captures the outcome of a successful funding.
type Result struct {
	Loan        ledger.Loan
	Transaction ledger.Transaction
}

// Fund moves the loan amount from the lender to the borrower and activates
// the loan. Concurrent attempts on the same loan are serialized by the store;
// exactly one succeeds and the rest observe ErrLoanAlreadyFunded with their
// balances untouched. Retrying after any failure is safe.
func (s *Service) Fund(ctx context.Context, loanID, lenderID string) (Result, error) {
	lender, err := s.store.Account(ctx, lenderID)
	if err != nil {
		return Result{}, err
	}

	loan, tx, err := s.store.FundLoan(ctx, loanID, lender.ID)
	if err != nil {
		return Result{}, err
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindLoanFunded,
			Destination: loan.BorrowerID,
			LoanID:      loan.ID,
			Body:        fmt.Sprintf("Your loan request for %s was funded", loan.Amount.StringFixed(2)),
		})
	}

	return Result{Loan: loan, Transaction: tx}, nil
}
