package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendledger/lendledger/internal/ledger"
)

// ErrNotAdmin indicates the acting account lacks the admin role required for
// the operation.
var ErrNotAdmin = errors.New("actor is not an admin")

// Service manages participant accounts. Registration provisions the account
// together with its zero-balance wallet; accounts are never deleted.
type Service struct {
	store    ledger.Store
	validate *validator.Validate
}

// NewService creates a new account service.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, validate: validator.New()}
}

// RegisterInput captures data required to register a participant.
type RegisterInput struct {
	DisplayName string `validate:"required,min=1,max=120"`
	Role        string `validate:"required,oneof=borrower lender admin"`
}

// Register creates an account with its wallet at zero balance.
func (s *Service) Register(ctx context.Context, input RegisterInput) (ledger.Account, error) {
	if err := s.validate.Struct(input); err != nil {
		return ledger.Account{}, fmt.Errorf("invalid registration: %w", err)
	}
	role, err := ledger.ParseRole(input.Role)
	if err != nil {
		return ledger.Account{}, err
	}

	account := ledger.Account{
		ID:          uuid.NewString(),
		DisplayName: input.DisplayName,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.store.Account(ctx, id)
}

// List returns all accounts, newest first.
func (s *Service) List(ctx context.Context) ([]ledger.Account, error) {
	return s.store.Accounts(ctx)
}

// SetRole reassigns an account's role. Only admins may do this; the new role
// replaces the old one with no history kept.
func (s *Service) SetRole(ctx context.Context, actorID, accountID string, role ledger.Role) error {
	actor, err := s.store.Account(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != ledger.RoleAdmin {
		return ErrNotAdmin
	}
	return s.store.SetRole(ctx, accountID, role)
}

// Stats aggregates marketplace totals for the admin dashboard.
type Stats struct {
	Accounts     int
	Loans        int
	PendingLoans int
	ActiveLoans  int
	FundedVolume decimal.Decimal
}

// SystemStats computes account and loan totals plus the volume moved by
// funded loans.
func (s *Service) SystemStats(ctx context.Context) (Stats, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	loans, err := s.store.Loans(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Accounts: len(accounts), Loans: len(loans), FundedVolume: decimal.Zero}
	for _, l := range loans {
		switch l.Status {
		case ledger.StatusPending:
			stats.PendingLoans++
		default:
			// active, completed and defaulted loans all moved money
			stats.FundedVolume = stats.FundedVolume.Add(l.Amount)
			if l.Status == ledger.StatusActive {
				stats.ActiveLoans++
			}
		}
	}
	return stats, nil
}
