// Package observability adapts ledger operation callbacks to logs and metrics.
package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const metricsNamespace = "settlement"

// ZapOperationLogger writes one structured line per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards output.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if !entry.OrderID.IsZero() {
		fields = append(fields, zap.String("order_id", entry.OrderID.String()))
	}
	if !entry.PayoutID.IsZero() {
		fields = append(fields, zap.String("payout_id", entry.PayoutID.String()))
	}
	if !entry.TransactionID.IsZero() {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.IdempotencyKey.String() != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Error == nil {
		operationLogger.logger.Info("ledger operation", fields...)
		return
	}
	fields = append(fields, zap.String("reason", entry.Reason.String()), zap.Error(entry.Error))
	if entry.Reason == ledger.ReasonStorageUnavailable || entry.Reason == ledger.ReasonInternal || entry.Reason == ledger.ReasonReplayMismatch {
		operationLogger.logger.Error("ledger operation failed", fields...)
		return
	}
	operationLogger.logger.Warn("ledger operation rejected", fields...)
}

// MetricsOperationLogger counts operations by outcome.
type MetricsOperationLogger struct {
	operations *prometheus.CounterVec
}

// NewMetricsOperationLogger registers its collectors with registerer.
func NewMetricsOperationLogger(registerer prometheus.Registerer) (*MetricsOperationLogger, error) {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ledger_operations_total",
		Help:      "Ledger operations by operation, status and rejection reason.",
	}, []string{"operation", "status", "reason"})
	if err := registerer.Register(operations); err != nil {
		return nil, err
	}
	return &MetricsOperationLogger{operations: operations}, nil
}

func (metrics *MetricsOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status, entry.Reason.String()).Inc()
}

// FanOut forwards each entry to every logger in order.
type FanOut []ledger.OperationLogger

func (loggers FanOut) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
