package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendledger/lendledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets/:accountId/deposit", h.Deposit)
	r.Get("/wallets/:accountId/balance", h.Balance)
	r.Get("/wallets/:accountId/transactions", h.Transactions)
}
