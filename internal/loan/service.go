package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendledger/lendledger/internal/ledger"
)

// Service governs the loan lifecycle: creation into pending, listing, and the
// externally triggered active -> completed|defaulted transitions. The
// pending -> active transition belongs to the funding coordinator.
type Service struct {
	store    ledger.Store
	validate *validator.Validate
}

// NewService builds a loan service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, validate: validator.New()}
}

// CreateInput captures the data fixed at loan creation. All fields are
// immutable once the loan exists.
type CreateInput struct {
	BorrowerID     string `validate:"required,uuid4"`
	Amount         decimal.Decimal
	InterestRate   decimal.Decimal
	DurationMonths int    `validate:"required,gte=1"`
	Purpose        string `validate:"required"`
}

// Create registers a new funding request in the pending state.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Loan, error) {
	if err := s.validate.Struct(input); err != nil {
		return ledger.Loan{}, fmt.Errorf("invalid loan request: %w", err)
	}
	if input.Amount.Cmp(decimal.Zero) <= 0 {
		return ledger.Loan{}, ledger.ErrInvalidAmount
	}
	if input.InterestRate.Sign() < 0 {
		return ledger.Loan{}, fmt.Errorf("interest rate must not be negative")
	}

	if _, err := s.store.Account(ctx, input.BorrowerID); err != nil {
		return ledger.Loan{}, err
	}

	loan := ledger.Loan{
		ID:             uuid.NewString(),
		BorrowerID:     input.BorrowerID,
		Amount:         input.Amount,
		InterestRate:   input.InterestRate,
		DurationMonths: input.DurationMonths,
		Purpose:        input.Purpose,
		Status:         ledger.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return ledger.Loan{}, err
	}
	return loan, nil
}

// Get fetches a loan by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Loan, error) {
	return s.store.Loan(ctx, id)
}

// ListAvailable returns pending loans open for funding, newest first.
func (s *Service) ListAvailable(ctx context.Context) ([]ledger.Loan, error) {
	return s.store.LoansByStatus(ctx, ledger.StatusPending)
}

// ListFor returns the loans an account participates in under the given role:
// borrowers see their requests, lenders their funded loans, admins everything.
func (s *Service) ListFor(ctx context.Context, accountID string, role ledger.Role) ([]ledger.Loan, error) {
	switch role {
	case ledger.RoleBorrower:
		return s.store.LoansByBorrower(ctx, accountID)
	case ledger.RoleLender:
		return s.store.LoansByLender(ctx, accountID)
	case ledger.RoleAdmin:
		return s.store.Loans(ctx)
	default:
		return nil, fmt.Errorf("unknown role: %s", role)
	}
}

// ListAll returns every loan, newest first. Admin surface.
func (s *Service) ListAll(ctx context.Context) ([]ledger.Loan, error) {
	return s.store.Loans(ctx)
}

// Close applies an externally triggered terminal transition. The loan must be
// active; the business rules deciding completed vs defaulted live with the
// caller.
func (s *Service) Close(ctx context.Context, loanID string, status ledger.LoanStatus) (ledger.Loan, error) {
	return s.store.CloseLoan(ctx, loanID, status)
}
