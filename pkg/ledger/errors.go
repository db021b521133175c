package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance           = errors.New("insufficient balance")
	ErrCreditLimitExceeded           = errors.New("credit limit exceeded")
	ErrPostpaidDisabled              = errors.New("postpaid disabled")
	ErrExceedsOutstandingDues        = errors.New("exceeds outstanding dues")
	ErrBlockedByDues                 = errors.New("payout blocked by outstanding dues")
	ErrBlockedByPendingOrderPayments = errors.New("payout blocked by pending order payments")
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrStorageUnavailable            = errors.New("storage unavailable")
	ErrAccountNotFound               = errors.New("account not found")
	ErrAccountExists                 = errors.New("account already exists")
	ErrAccountInactive               = errors.New("account inactive")
	ErrAccountBusy                   = errors.New("account busy")
	ErrVersionConflict               = errors.New("account version conflict")
	ErrDuplicateIdempotencyKey       = errors.New("duplicate idempotency key")
	ErrKYCNotApproved                = errors.New("kyc not approved")
	ErrPayoutsDisabled               = errors.New("payouts disabled")
	ErrBelowMinimumPayout            = errors.New("below minimum payout amount")
	ErrPayoutNotFound                = errors.New("payout not found")
	ErrPayoutClosed                  = errors.New("payout closed")
	ErrPayoutNotOwned                = errors.New("payout not owned by user")
	ErrDrawNotFound                  = errors.New("postpaid draw not found")
	ErrDrawAlreadyReversed           = errors.New("postpaid draw already reversed")
	ErrReplayMismatch                = errors.New("transaction replay mismatch")
	ErrInvalidCreditLimit            = errors.New("invalid credit limit")
	ErrInvalidDueCycle               = errors.New("invalid due cycle")
	ErrInvalidUserID                 = errors.New("invalid user id")
	ErrInvalidAdminID                = errors.New("invalid admin id")
	ErrInvalidOrderID                = errors.New("invalid order id")
	ErrInvalidPayoutID               = errors.New("invalid payout id")
	ErrInvalidTransactionID          = errors.New("invalid transaction id")
	ErrInvalidReason                 = errors.New("invalid reason")
	ErrInvalidSource                 = errors.New("invalid credit source")
	ErrInvalidIdempotencyKey         = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON           = errors.New("invalid metadata json")
	ErrInvalidTransactionType        = errors.New("invalid transaction type")
	ErrInvalidBalanceKind            = errors.New("invalid balance kind")
	ErrInvalidPayoutStatus           = errors.New("invalid payout status")
	ErrInvalidPaymentDetails         = errors.New("invalid payment details")
	ErrInvalidPage                   = errors.New("invalid page")
	ErrInvalidServiceConfig          = errors.New("invalid service config")
	ErrInvalidPlatformConfig         = errors.New("invalid platform config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRetryable reports whether the caller may retry the same request with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrAccountBusy) ||
		errors.Is(err, ErrVersionConflict)
}

// domainErrors are passed through to callers untouched; anything else coming out of a
// store is reported as ErrStorageUnavailable.
var domainErrors = []error{
	ErrInsufficientBalance,
	ErrCreditLimitExceeded,
	ErrPostpaidDisabled,
	ErrExceedsOutstandingDues,
	ErrBlockedByDues,
	ErrBlockedByPendingOrderPayments,
	ErrInvalidAmount,
	ErrStorageUnavailable,
	ErrAccountNotFound,
	ErrAccountExists,
	ErrAccountInactive,
	ErrAccountBusy,
	ErrVersionConflict,
	ErrDuplicateIdempotencyKey,
	ErrKYCNotApproved,
	ErrPayoutsDisabled,
	ErrBelowMinimumPayout,
	ErrPayoutNotFound,
	ErrPayoutClosed,
	ErrPayoutNotOwned,
	ErrDrawNotFound,
	ErrDrawAlreadyReversed,
	ErrReplayMismatch,
	ErrInvalidCreditLimit,
	ErrInvalidDueCycle,
	ErrInvalidUserID,
	ErrInvalidAdminID,
	ErrInvalidOrderID,
	ErrInvalidPayoutID,
	ErrInvalidTransactionID,
	ErrInvalidReason,
	ErrInvalidSource,
	ErrInvalidIdempotencyKey,
	ErrInvalidMetadataJSON,
	ErrInvalidTransactionType,
	ErrInvalidBalanceKind,
	ErrInvalidPayoutStatus,
	ErrInvalidPaymentDetails,
	ErrInvalidPage,
	ErrInvalidServiceConfig,
	ErrInvalidPlatformConfig,
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, domainError := range domainErrors {
		if errors.Is(err, domainError) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
