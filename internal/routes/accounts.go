package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendledger/lendledger/internal/account"
)

// RegisterAccountRoutes wires account management endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Register)
	r.Get("/accounts", h.List)
	r.Get("/accounts/:accountId", h.Get)
	r.Put("/accounts/:accountId/role", h.SetRole)
	r.Get("/admin/stats", h.Stats)
}
