package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount occurs when an operation is given a zero or negative amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds occurs when a debit would take a wallet balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates the referenced account (and therefore its wallet) does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrLoanNotFound indicates the referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrInvalidLoanState indicates a status transition from an invalid source state.
	ErrInvalidLoanState = errors.New("invalid loan state")

	// ErrLoanAlreadyFunded indicates the loan left the pending state before the
	// caller's funding attempt committed. The losing side of a funding race
	// always observes this error, never partial state.
	ErrLoanAlreadyFunded = errors.New("loan already funded")

	// ErrSelfFunding indicates a lender attempted to fund their own loan.
	ErrSelfFunding = errors.New("self funding not allowed")

	// ErrStoreUnavailable indicates the backing store is unreachable. It is the
	// only fatal condition in the taxonomy and is never conflated with a
	// balance or state check failure.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// Role is the single active role held by an account.
type Role string

const (
	RoleBorrower Role = "borrower"
	RoleLender   Role = "lender"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role string against the closed enumeration.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBorrower, RoleLender, RoleAdmin:
		return Role(s), nil
	}
	return "", errors.New("unknown role: " + s)
}

// LoanStatus tracks a loan through its lifecycle.
type LoanStatus string

const (
	StatusPending   LoanStatus = "pending"
	StatusActive    LoanStatus = "active"
	StatusCompleted LoanStatus = "completed"
	StatusDefaulted LoanStatus = "defaulted"
)

// canTransition encodes the state machine: pending -> active -> completed|defaulted.
// No transition skips a state and terminal states absorb.
func canTransition(from, to LoanStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusActive
	case StatusActive:
		return to == StatusCompleted || to == StatusDefaulted
	default:
		return false
	}
}

// TxKind classifies a ledger entry.
type TxKind string

const (
	TxDeposit     TxKind = "deposit"
	TxLoanFunding TxKind = "loan_funding"
)

// Account identifies a marketplace participant.
type Account struct {
	ID          string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
}

// Wallet holds the available balance for an account. The balance is never
// observable below zero, even transiently.
type Wallet struct {
	OwnerID   string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Loan is a funding request. Amount, rate, duration and purpose are fixed at
// creation. LenderID and FundedAt are set exactly when the loan leaves pending.
type Loan struct {
	ID             string
	BorrowerID     string
	LenderID       string
	Amount         decimal.Decimal
	InterestRate   decimal.Decimal
	DurationMonths int
	Purpose        string
	Status         LoanStatus
	CreatedAt      time.Time
	FundedAt       *time.Time
}

// Transaction is an immutable ledger entry. FromAccountID is empty for
// external deposits; LoanID is set only for loan_funding entries.
type Transaction struct {
	ID            string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Kind          TxKind
	LoanID        string
	CreatedAt     time.Time
}

// Store is the contract implemented by ledger backends (in-memory, Postgres).
// Every method is individually atomic: concurrent calls touching the same
// loan or wallet are linearized, and a failed call leaves no visible effect.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	Account(ctx context.Context, id string) (Account, error)
	Accounts(ctx context.Context) ([]Account, error)
	SetRole(ctx context.Context, id string, role Role) error

	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	// Deposit credits the wallet and appends a deposit Transaction with no
	// source account, as one unit.
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (Wallet, Transaction, error)
	// Transfer debits from, credits to, and appends one Transaction, as one
	// unit. On ErrInsufficientFunds the credit never happens.
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, kind TxKind, loanID string) (Transaction, error)

	CreateLoan(ctx context.Context, loan Loan) error
	Loan(ctx context.Context, id string) (Loan, error)
	Loans(ctx context.Context) ([]Loan, error)
	LoansByStatus(ctx context.Context, status LoanStatus) ([]Loan, error)
	LoansByBorrower(ctx context.Context, accountID string) ([]Loan, error)
	LoansByLender(ctx context.Context, accountID string) ([]Loan, error)
	// FundLoan commits the funding transaction: re-checks the loan is still
	// pending under its exclusive lock, moves loan.Amount from the lender to
	// the borrower, transitions the loan to active, and appends the
	// loan_funding Transaction. All four effects become visible together or
	// not at all.
	FundLoan(ctx context.Context, loanID, lenderID string) (Loan, Transaction, error)
	// CloseLoan sets an active loan to completed or defaulted on behalf of the
	// external lifecycle process.
	CloseLoan(ctx context.Context, loanID string, status LoanStatus) (Loan, error)

	TransactionsFor(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}
