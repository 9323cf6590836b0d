// README: Payment-completed notifier; templated email delivery is an external collaborator.
package app

import (
	"context"

	"go.uber.org/zap"

	"autoszkola/internal/modules/payment"
)

// LogNotifier records completion events for the delivery pipeline.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PaymentCompleted(_ context.Context, t *payment.Transaction) {
	n.logger.Info("payment completed notification queued",
		zap.String("transaction_id", t.ID.String()),
		zap.String("payer_email", t.PayerEmail),
		zap.Int64("amount", t.Total.Amount))
}
