package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// EventPublisher receives committed changes after the store transaction succeeds.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, transaction Transaction)
	PublishPayout(ctx context.Context, payout PayoutRequest)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	Amount         Amount
	OrderID        OrderID
	PayoutID       PayoutID
	TransactionID  TransactionID
	IdempotencyKey IdempotencyKey
	Status         string
	Reason         Reason
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher for committed transactions and payout changes.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithAccountLocker replaces the in-process account locker.
func WithAccountLocker(locker AccountLocker) ServiceOption {
	return func(service *Service) {
		if locker != nil {
			service.locker = locker
		}
	}
}

// WithIDGenerator replaces the transaction id generator.
func WithIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.newID = generator
		}
	}
}
