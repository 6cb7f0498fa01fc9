package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendledger/lendledger/internal/ledger"
	"github.com/lendledger/lendledger/internal/notification"
)

// Service exposes wallet accounting operations over the ledger store. Every
// balance change goes through here or through the funding coordinator; no
// caller writes balances directly.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, notifier notification.Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// Balance encapsulates available funds for an account at a point in time.
type Balance struct {
	AccountID string
	Amount    decimal.Decimal
	AsOf      time.Time
}

// Deposit credits the account's wallet from an external source and records a
// deposit ledger entry. The two effects commit together.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (ledger.Wallet, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return ledger.Wallet{}, ledger.ErrInvalidAmount
	}

	wallet, tx, err := s.store.Deposit(ctx, accountID, amount)
	if err != nil {
		return ledger.Wallet{}, err
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindDeposit,
			Destination: accountID,
			Body:        fmt.Sprintf("Deposit of %s credited (tx %s)", tx.Amount.StringFixed(2), tx.ID),
		})
	}

	return wallet, nil
}

// Transfer moves funds between two wallets as one atomic unit; on failure the
// debit and credit are both absent.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, kind ledger.TxKind, loanID string) (ledger.Transaction, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	return s.store.Transfer(ctx, fromID, toID, amount, kind, loanID)
}

// GetBalance returns the current wallet balance.
func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	amount, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: accountID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// Transactions lists the account's ledger entries, most recent first. A
// non-positive limit returns the full history.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	return s.store.TransactionsFor(ctx, accountID, limit)
}
