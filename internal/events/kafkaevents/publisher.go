// Package kafkaevents publishes committed ledger changes to Kafka.
package kafkaevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	eventTypeTransaction = "ledger.transaction.committed"
	eventTypePayout      = "ledger.payout.changed"
	headerEventType      = "event_type"
	publishTimeout       = 5 * time.Second
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the Kafka destination.
type Config struct {
	Brokers []string
	Topic   string
}

// NewWriter builds a synchronous, key-hashed writer so events for one user stay ordered
// within a partition.
func NewWriter(config Config, logger *zap.Logger) (*kafka.Writer, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafkaevents: brokers are required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafkaevents: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}, nil
}

// TransactionEvent is the wire shape of a committed transaction.
type TransactionEvent struct {
	TransactionID   string          `json:"transaction_id"`
	UserID          string          `json:"user_id"`
	Sequence        int64           `json:"sequence"`
	Type            string          `json:"type"`
	Balance         string          `json:"balance"`
	Amount          string          `json:"amount"`
	BalanceBefore   string          `json:"balance_before"`
	BalanceAfter    string          `json:"balance_after"`
	RelatedOrderID  string          `json:"related_order_id,omitempty"`
	RelatedPayoutID string          `json:"related_payout_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PayoutEvent is the wire shape of a payout status change.
type PayoutEvent struct {
	PayoutID      string    `json:"payout_id"`
	UserID        string    `json:"user_id"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Publisher implements ledger.EventPublisher. Failures are logged; the ledger write has
// already committed.
type Publisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewPublisher wraps writer.
func NewPublisher(writer MessageWriter, logger *zap.Logger) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("kafkaevents: writer is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, logger: logger}, nil
}

func (publisher *Publisher) PublishTransaction(ctx context.Context, transaction ledger.Transaction) {
	event := TransactionEvent{
		TransactionID:   transaction.ID.String(),
		UserID:          transaction.UserID.String(),
		Sequence:        transaction.Sequence,
		Type:            transaction.Type.String(),
		Balance:         transaction.Balance.String(),
		Amount:          transaction.Amount.String(),
		BalanceBefore:   transaction.BalanceBefore.String(),
		BalanceAfter:    transaction.BalanceAfter.String(),
		RelatedOrderID:  transaction.RelatedOrderID.String(),
		RelatedPayoutID: transaction.RelatedPayoutID.String(),
		Metadata:        json.RawMessage(transaction.Metadata.String()),
		CreatedAt:       transaction.CreatedAt,
	}
	publisher.publish(ctx, eventTypeTransaction, transaction.UserID.String(), event)
}

func (publisher *Publisher) PublishPayout(ctx context.Context, payout ledger.PayoutRequest) {
	event := PayoutEvent{
		PayoutID:      payout.ID.String(),
		UserID:        payout.UserID.String(),
		Amount:        payout.Amount.String(),
		Status:        payout.Status.String(),
		PaymentMethod: payout.PaymentMethod().String(),
		TransactionID: payout.TransactionID.String(),
		UpdatedAt:     payout.UpdatedAt,
	}
	publisher.publish(ctx, eventTypePayout, payout.UserID.String(), event)
}

// Close flushes and closes the writer.
func (publisher *Publisher) Close() error {
	return publisher.writer.Close()
}

func (publisher *Publisher) publish(ctx context.Context, eventType string, key string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		publisher.logger.Error("ledger event encode failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	message := kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(eventType)}},
		Time:    time.Now().UTC(),
	}
	if err := publisher.writer.WriteMessages(publishCtx, message); err != nil {
		publisher.logger.Error("ledger event publish failed",
			zap.String("event_type", eventType),
			zap.String("user_id", key),
			zap.Error(err),
		)
	}
}
