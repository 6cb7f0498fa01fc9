package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lendledger/lendledger/internal/ledger"
	"github.com/lendledger/lendledger/internal/loan"
)

// Handler exposes the funding HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fundRequest struct {
	LenderID string `json:"lender_id"`
}

// Fund processes a lender's attempt to fund a pending loan.
func (h *Handler) Fund(c *fiber.Ctx) error {
	loanID := c.Params("loanId")
	var req fundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.LenderID == "" {
		return fiber.NewError(http.StatusBadRequest, "lender_id is required")
	}

	result, err := h.service.Fund(c.UserContext(), loanID, req.LenderID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrLoanAlreadyFunded):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ledger.ErrSelfFunding):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrLoanNotFound), errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ledger.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrStoreUnavailable):
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"loan":           loan.ToResponse(result.Loan),
		"transaction_id": result.Transaction.ID,
	})
}
