package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lendledger/lendledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Amount string `json:"amount"`
}

type transactionResponse struct {
	ID            string    `json:"id"`
	FromAccountID string    `json:"from_account_id,omitempty"`
	ToAccountID   string    `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Kind          string    `json:"kind"`
	LoanID        string    `json:"loan_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Deposit credits the account's wallet from an external source.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	wallet, err := h.service.Deposit(c.UserContext(), accountID, amount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"account_id": wallet.OwnerID,
		"balance":    wallet.Balance.StringFixed(2),
		"updated_at": wallet.UpdatedAt,
	})
}

// Balance returns the current wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.service.GetBalance(c.UserContext(), accountID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": balance.AccountID,
		"balance":    balance.Amount.StringFixed(2),
		"as_of":      balance.AsOf,
	})
}

// Transactions lists the account's ledger entries, most recent first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fiber.NewError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	txs, err := h.service.Transactions(c.UserContext(), accountID, limit)
	if err != nil {
		return mapError(err)
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:            tx.ID,
			FromAccountID: tx.FromAccountID,
			ToAccountID:   tx.ToAccountID,
			Amount:        tx.Amount.StringFixed(2),
			Kind:          string(tx.Kind),
			LoanID:        tx.LoanID,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
