package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lendledger/lendledger/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type setRoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type accountResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func toResponse(account ledger.Account) accountResponse {
	return accountResponse{
		ID:          account.ID,
		DisplayName: account.DisplayName,
		Role:        string(account.Role),
		CreatedAt:   account.CreatedAt,
	}
}

// Register provisions an account and its zero-balance wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.service.Register(c.UserContext(), RegisterInput{
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(account))
}

// Get returns a single account.
func (h *Handler) Get(c *fiber.Ctx) error {
	account, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(account))
}

// List returns all accounts, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	accounts, err := h.service.List(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"accounts": out})
}

// SetRole reassigns an account's role on behalf of an admin actor.
func (h *Handler) SetRole(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	var req setRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	role, err := ledger.ParseRole(req.Role)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.service.SetRole(c.UserContext(), req.ActorID, accountID, role); err != nil {
		switch {
		case errors.Is(err, ErrNotAdmin):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.SendStatus(http.StatusNoContent)
}

// Stats returns marketplace totals for the admin dashboard.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.SystemStats(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"accounts":      stats.Accounts,
		"loans":         stats.Loans,
		"pending_loans": stats.PendingLoans,
		"active_loans":  stats.ActiveLoans,
		"funded_volume": stats.FundedVolume.StringFixed(2),
	})
}
