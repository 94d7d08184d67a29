// Package zaplogger adapts a zap logger to the wallet service's operation
// logging callback.
package zaplogger

import (
	"context"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"go.uber.org/zap"
)

// Logger implements wallet.OperationLogger on top of *zap.Logger.
type Logger struct {
	base *zap.Logger
}

// New wraps a zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

// LogOperation emits one structured record per wallet operation.
func (logger *Logger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	if logger.base == nil {
		return
	}
	fields := make([]zap.Field, 0, 8)
	fields = append(fields,
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	)
	if value := entry.OrgID.String(); value != "" {
		fields = append(fields, zap.String("org_id", value))
	}
	if value := entry.WalletID.String(); value != "" {
		fields = append(fields, zap.String("wallet_id", value))
	}
	if value := entry.HoldID.String(); value != "" {
		fields = append(fields, zap.String("hold_id", value))
	}
	if entry.AmountCents != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.AmountCents))
	}
	if value := entry.IdempotencyKey.String(); value != "" {
		fields = append(fields, zap.String("idempotency_key", value))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("wallet operation failed", fields...)
		return
	}
	logger.base.Info("wallet operation", fields...)
}
