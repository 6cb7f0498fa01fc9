package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger in PostgreSQL. Funding commits are single
// database transactions: the loan row is locked first, then the two wallet
// rows in sorted-id order, matching the in-memory backend's lock discipline.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed ledger store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id UUID PRIMARY KEY,
        display_name TEXT NOT NULL,
        role TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS wallets (
        owner_id UUID PRIMARY KEY REFERENCES accounts (id),
        balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS loans (
        id UUID PRIMARY KEY,
        borrower_id UUID NOT NULL REFERENCES accounts (id),
        lender_id UUID REFERENCES accounts (id),
        amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
        interest_rate NUMERIC(8,4) NOT NULL CHECK (interest_rate >= 0),
        duration_months INT NOT NULL CHECK (duration_months > 0),
        purpose TEXT NOT NULL,
        status TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        funded_at TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS transactions (
        id UUID PRIMARY KEY,
        from_account_id UUID REFERENCES accounts (id),
        to_account_id UUID NOT NULL REFERENCES accounts (id),
        amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
        kind TEXT NOT NULL,
        loan_id UUID REFERENCES loans (id),
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS loans_status_idx ON loans (status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_from_idx ON transactions (from_account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_idx ON transactions (to_account_id, created_at DESC)`,
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return storeErr(err)
		}
	}
	return nil
}

// storeErr maps transport-level failures onto ErrStoreUnavailable so callers
// can tell "store unreachable" apart from domain failures.
func storeErr(err error) error {
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id, display_name, role, created_at)
        VALUES ($1, $2, $3, $4)`, id, account.DisplayName, string(account.Role), account.CreatedAt.UTC()); err != nil {
		return storeErr(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (owner_id, balance, updated_at)
        VALUES ($1, 0, $2)`, id, account.CreatedAt.UTC()); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit(ctx))
}

func (s *PostgresStore) Account(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, display_name, role, created_at FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		id        uuid.UUID
		role      string
		createdAt time.Time
		account   Account
	)
	if err := row.Scan(&id, &account.DisplayName, &role, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storeErr(err)
	}
	account.ID = id.String()
	account.Role = Role(role)
	account.CreatedAt = createdAt.UTC()
	return account, nil
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT id, display_name, role, created_at FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, storeErr(rows.Err())
}

func (s *PostgresStore) SetRole(ctx context.Context, id string, role Role) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrAccountNotFound
	}
	cmd, err := s.db.Exec(ctx, `UPDATE accounts SET role = $1 WHERE id = $2`, string(role), accountID)
	if err != nil {
		return storeErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return decimal.Zero, ErrAccountNotFound
	}
	var raw string
	if err := s.db.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE owner_id = $1`, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, storeErr(err)
	}
	return decimal.NewFromString(raw)
}

func (s *PostgresStore) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (Wallet, Transaction, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return Wallet{}, Transaction{}, ErrInvalidAmount
	}
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Wallet{}, Transaction{}, ErrAccountNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, Transaction{}, storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := lockWallet(ctx, tx, id); err != nil {
		return Wallet{}, Transaction{}, err
	}

	now := time.Now().UTC()
	var raw string
	if err := tx.QueryRow(ctx, `UPDATE wallets SET balance = balance + $1::numeric, updated_at = $2
        WHERE owner_id = $3 RETURNING balance::text`, amount.String(), now, id).Scan(&raw); err != nil {
		return Wallet{}, Transaction{}, storeErr(err)
	}

	record := Transaction{
		ID:          uuid.NewString(),
		ToAccountID: accountID,
		Amount:      amount,
		Kind:        TxDeposit,
		CreatedAt:   now,
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return Wallet{}, Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, Transaction{}, storeErr(err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return Wallet{}, Transaction{}, err
	}
	return Wallet{OwnerID: accountID, Balance: balance, UpdatedAt: now}, record, nil
}

func (s *PostgresStore) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, kind TxKind, loanID string) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	record, err := transferInTx(ctx, tx, fromID, toID, amount, kind, loanID)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, storeErr(err)
	}
	return record, nil
}

// transferInTx locks both wallet rows in sorted-id order, verifies funds and
// applies the balanced update plus the ledger append inside the caller's
// transaction.
func transferInTx(ctx context.Context, tx pgx.Tx, fromID, toID string, amount decimal.Decimal, kind TxKind, loanID string) (Transaction, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	from, err := uuid.Parse(fromID)
	if err != nil {
		return Transaction{}, ErrAccountNotFound
	}
	to, err := uuid.Parse(toID)
	if err != nil {
		return Transaction{}, ErrAccountNotFound
	}

	order := []uuid.UUID{from, to}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	balances := make(map[uuid.UUID]decimal.Decimal, 2)
	for _, id := range order {
		balance, err := lockWallet(ctx, tx, id)
		if err != nil {
			return Transaction{}, err
		}
		balances[id] = balance
	}

	if balances[from].Cmp(amount) < 0 {
		return Transaction{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1::numeric, updated_at = $2 WHERE owner_id = $3`,
		amount.String(), now, from); err != nil {
		return Transaction{}, storeErr(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1::numeric, updated_at = $2 WHERE owner_id = $3`,
		amount.String(), now, to); err != nil {
		return Transaction{}, storeErr(err)
	}

	record := Transaction{
		ID:            uuid.NewString(),
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Kind:          kind,
		LoanID:        loanID,
		CreatedAt:     now,
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

func lockWallet(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	if err := tx.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, storeErr(err)
	}
	return decimal.NewFromString(raw)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, record Transaction) error {
	var from, loan *string
	if record.FromAccountID != "" {
		from = &record.FromAccountID
	}
	if record.LoanID != "" {
		loan = &record.LoanID
	}
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, from_account_id, to_account_id, amount, kind, loan_id, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		record.ID, from, record.ToAccountID, record.Amount.String(), string(record.Kind), loan, record.CreatedAt); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *PostgresStore) CreateLoan(ctx context.Context, loan Loan) error {
	id, err := uuid.Parse(loan.ID)
	if err != nil {
		return err
	}
	borrowerID, err := uuid.Parse(loan.BorrowerID)
	if err != nil {
		return ErrAccountNotFound
	}
	_, err = s.db.Exec(ctx, `INSERT INTO loans (id, borrower_id, amount, interest_rate, duration_months, purpose, status, created_at)
        VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8)`,
		id, borrowerID, loan.Amount.String(), loan.InterestRate.String(), loan.DurationMonths,
		loan.Purpose, string(loan.Status), loan.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // borrower FK
		return ErrAccountNotFound
	}
	return storeErr(err)
}

const loanColumns = `id, borrower_id, lender_id, amount::text, interest_rate::text, duration_months, purpose, status, created_at, funded_at`

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		id         uuid.UUID
		borrowerID uuid.UUID
		lenderID   *uuid.UUID
		rawAmount  string
		rawRate    string
		status     string
		createdAt  time.Time
		fundedAt   *time.Time
		loan       Loan
	)
	if err := row.Scan(&id, &borrowerID, &lenderID, &rawAmount, &rawRate,
		&loan.DurationMonths, &loan.Purpose, &status, &createdAt, &fundedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrLoanNotFound
		}
		return Loan{}, storeErr(err)
	}
	loan.ID = id.String()
	loan.BorrowerID = borrowerID.String()
	if lenderID != nil {
		loan.LenderID = lenderID.String()
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return Loan{}, err
	}
	rate, err := decimal.NewFromString(rawRate)
	if err != nil {
		return Loan{}, err
	}
	loan.Amount = amount
	loan.InterestRate = rate
	loan.Status = LoanStatus(status)
	loan.CreatedAt = createdAt.UTC()
	if fundedAt != nil {
		t := fundedAt.UTC()
		loan.FundedAt = &t
	}
	return loan, nil
}

func (s *PostgresStore) Loan(ctx context.Context, id string) (Loan, error) {
	loanID, err := uuid.Parse(id)
	if err != nil {
		return Loan{}, ErrLoanNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID)
	return scanLoan(row)
}

func (s *PostgresStore) loanQuery(ctx context.Context, where string, arg any) ([]Loan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, storeErr(rows.Err())
}

func (s *PostgresStore) Loans(ctx context.Context) ([]Loan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, storeErr(rows.Err())
}

func (s *PostgresStore) LoansByStatus(ctx context.Context, status LoanStatus) ([]Loan, error) {
	return s.loanQuery(ctx, `status = $1`, string(status))
}

func (s *PostgresStore) LoansByBorrower(ctx context.Context, accountID string) ([]Loan, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	return s.loanQuery(ctx, `borrower_id = $1`, id)
}

func (s *PostgresStore) LoansByLender(ctx context.Context, accountID string) ([]Loan, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	return s.loanQuery(ctx, `lender_id = $1`, id)
}

func (s *PostgresStore) FundLoan(ctx context.Context, loanID, lenderID string) (Loan, Transaction, error) {
	id, err := uuid.Parse(loanID)
	if err != nil {
		return Loan{}, Transaction{}, ErrLoanNotFound
	}
	if _, err := uuid.Parse(lenderID); err != nil {
		return Loan{}, Transaction{}, ErrAccountNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Loan{}, Transaction{}, storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Loan row first, wallets after; same order as the in-memory backend.
	loan, err := scanLoan(tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Loan{}, Transaction{}, err
	}
	if loan.Status != StatusPending {
		return Loan{}, Transaction{}, ErrLoanAlreadyFunded
	}
	if loan.BorrowerID == lenderID {
		return Loan{}, Transaction{}, ErrSelfFunding
	}

	record, err := transferInTx(ctx, tx, lenderID, loan.BorrowerID, loan.Amount, TxLoanFunding, loanID)
	if err != nil {
		return Loan{}, Transaction{}, err
	}

	now := record.CreatedAt
	if _, err := tx.Exec(ctx, `UPDATE loans SET status = $1, lender_id = $2, funded_at = $3 WHERE id = $4`,
		string(StatusActive), lenderID, now, id); err != nil {
		return Loan{}, Transaction{}, storeErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Loan{}, Transaction{}, storeErr(err)
	}

	loan.Status = StatusActive
	loan.LenderID = lenderID
	loan.FundedAt = &now
	return loan, record, nil
}

func (s *PostgresStore) CloseLoan(ctx context.Context, loanID string, status LoanStatus) (Loan, error) {
	if status != StatusCompleted && status != StatusDefaulted {
		return Loan{}, ErrInvalidLoanState
	}
	id, err := uuid.Parse(loanID)
	if err != nil {
		return Loan{}, ErrLoanNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Loan{}, storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	loan, err := scanLoan(tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Loan{}, err
	}
	if !canTransition(loan.Status, status) {
		return Loan{}, ErrInvalidLoanState
	}
	if _, err := tx.Exec(ctx, `UPDATE loans SET status = $1 WHERE id = $2`, string(status), id); err != nil {
		return Loan{}, storeErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Loan{}, storeErr(err)
	}
	loan.Status = status
	return loan, nil
}

func (s *PostgresStore) TransactionsFor(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, storeErr(err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	query := `SELECT id, from_account_id, to_account_id, amount::text, kind, loan_id, created_at
        FROM transactions WHERE from_account_id = $1 OR to_account_id = $1 ORDER BY created_at DESC`
	args := []any{id}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			txID      uuid.UUID
			from      *uuid.UUID
			to        uuid.UUID
			rawAmount string
			kind      string
			loanRef   *uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&txID, &from, &to, &rawAmount, &kind, &loanRef, &createdAt); err != nil {
			return nil, storeErr(err)
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, err
		}
		record := Transaction{
			ID:          txID.String(),
			ToAccountID: to.String(),
			Amount:      amount,
			Kind:        TxKind(kind),
			CreatedAt:   createdAt.UTC(),
		}
		if from != nil {
			record.FromAccountID = from.String()
		}
		if loanRef != nil {
			record.LoanID = loanRef.String()
		}
		out = append(out, record)
	}
	return out, storeErr(rows.Err())
}
