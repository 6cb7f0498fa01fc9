package loan

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lendledger/lendledger/internal/ledger"
)

// Handler exposes loan HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a loan HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	BorrowerID     string `json:"borrower_id"`
	Amount         string `json:"amount"`
	InterestRate   string `json:"interest_rate"`
	DurationMonths int    `json:"duration_months"`
	Purpose        string `json:"purpose"`
}

type closeRequest struct {
	Status string `json:"status"`
}

// LoanResponse is the JSON shape shared by loan endpoints.
type LoanResponse struct {
	ID             string     `json:"id"`
	BorrowerID     string     `json:"borrower_id"`
	LenderID       string     `json:"lender_id,omitempty"`
	Amount         string     `json:"amount"`
	InterestRate   string     `json:"interest_rate"`
	DurationMonths int        `json:"duration_months"`
	Purpose        string     `json:"purpose"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	FundedAt       *time.Time `json:"funded_at,omitempty"`
}

// ToResponse converts a ledger loan into its JSON shape.
func ToResponse(loan ledger.Loan) LoanResponse {
	return LoanResponse{
		ID:             loan.ID,
		BorrowerID:     loan.BorrowerID,
		LenderID:       loan.LenderID,
		Amount:         loan.Amount.StringFixed(2),
		InterestRate:   loan.InterestRate.String(),
		DurationMonths: loan.DurationMonths,
		Purpose:        loan.Purpose,
		Status:         string(loan.Status),
		CreatedAt:      loan.CreatedAt,
		FundedAt:       loan.FundedAt,
	}
}

func toResponses(loans []ledger.Loan) []LoanResponse {
	out := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, ToResponse(l))
	}
	return out
}

// Create registers a pending loan request.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	rate, err := decimal.NewFromString(req.InterestRate)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid interest rate")
	}

	loan, err := h.service.Create(c.UserContext(), CreateInput{
		BorrowerID:     req.BorrowerID,
		Amount:         amount,
		InterestRate:   rate,
		DurationMonths: req.DurationMonths,
		Purpose:        req.Purpose,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(loan))
}

// Available lists pending loans open for funding, newest first.
func (h *Handler) Available(c *fiber.Ctx) error {
	loans, err := h.service.ListAvailable(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": toResponses(loans)})
}

// ListFor lists loans for an account under a role.
func (h *Handler) ListFor(c *fiber.Ctx) error {
	accountID := c.Query("account_id")
	role, err := ledger.ParseRole(c.Query("role"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	loans, err := h.service.ListFor(c.UserContext(), accountID, role)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": toResponses(loans)})
}

// All lists every loan. Admin surface.
func (h *Handler) All(c *fiber.Ctx) error {
	loans, err := h.service.ListAll(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": toResponses(loans)})
}

// Close applies an externally triggered terminal transition.
func (h *Handler) Close(c *fiber.Ctx) error {
	loanID := c.Params("loanId")
	var req closeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	loan, err := h.service.Close(c.UserContext(), loanID, ledger.LoanStatus(req.Status))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(loan))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrLoanNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidLoanState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
