package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendledger/lendledger/internal/funding"
	"github.com/lendledger/lendledger/internal/loan"
)

// RegisterLoanRoutes wires loan lifecycle and funding endpoints.
func RegisterLoanRoutes(r fiber.Router, loans *loan.Handler, fundings *funding.Handler) {
	r.Post("/loans", loans.Create)
	r.Get("/loans/available", loans.Available)
	r.Get("/loans/all", loans.All)
	r.Get("/loans", loans.ListFor)
	r.Post("/loans/:loanId/fund", fundings.Fund)
	r.Post("/loans/:loanId/close", loans.Close)
}
