package notification

import (
	"context"
	"log/slog"
)

const (
	// KindLoanFunded indicates a pending loan was funded and is now active.
	KindLoanFunded = "loan_funded"
	// KindDeposit indicates an external deposit was credited to a wallet.
	KindDeposit = "deposit_received"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	LoanID      string `json:"loan_id,omitempty"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems. The external loan
// lifecycle process consumes loan_funded events from here.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. Used when no
// broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"loan_id", message.LoanID,
		"body", message.Body)
	return nil
}
