package ledger

import (
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "account"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected operation error with code %q, got %v", codeName, wrappedError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestClassifyError(test *testing.T) {
	test.Parallel()
	if classifyError(nil) != nil {
		test.Fatalf("expected nil")
	}
	domain := fmt.Errorf("%w: wallet 1.00", ErrInsufficientBalance)
	if classifyError(domain) != domain {
		test.Fatalf("expected domain error to pass through")
	}
	wrapped := WrapError("gormstore", "account", "update", ErrVersionConflict)
	if !errors.Is(classifyError(wrapped), ErrVersionConflict) || errors.Is(classifyError(wrapped), ErrStorageUnavailable) {
		test.Fatalf("expected wrapped domain error to pass through, got %v", classifyError(wrapped))
	}
	unknown := errors.New("connection reset")
	classified := classifyError(unknown)
	if !errors.Is(classified, ErrStorageUnavailable) || !errors.Is(classified, unknown) {
		test.Fatalf("expected storage unavailable, got %v", classified)
	}
}

func TestReasonOf(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err     error
		reason  Reason
		message string
	}{
		{err: nil, reason: ReasonNone},
		{err: fmt.Errorf("%w: x", ErrInsufficientBalance), reason: ReasonInsufficientBalance, message: "Insufficient wallet balance"},
		{err: ErrExceedsOutstandingDues, reason: ReasonExceedsOutstandingDues, message: "Amount exceeds outstanding dues"},
		{err: ErrInvalidUserID, reason: ReasonInvalidArgument, message: "Invalid request"},
		{err: fmt.Errorf("%w: %w", ErrStorageUnavailable, errors.New("io")), reason: ReasonStorageUnavailable},
		{err: errors.New("mystery"), reason: ReasonInternal, message: "Something went wrong"},
		{err: fmt.Errorf("%w: stored %w", ErrInvalidPlatformConfig, fmt.Errorf("%w: x", ErrInvalidAmount)), reason: ReasonInvalidPlatformConfig},
	}
	for _, testCase := range testCases {
		reason := ReasonOf(testCase.err)
		if reason != testCase.reason {
			test.Fatalf("%v: expected %s, got %s", testCase.err, testCase.reason, reason)
		}
		if testCase.message != "" && reason.Message() != testCase.message {
			test.Fatalf("%v: expected message %q, got %q", testCase.err, testCase.message, reason.Message())
		}
	}
}

func TestIsRetryable(test *testing.T) {
	test.Parallel()
	for _, err := range []error{ErrStorageUnavailable, ErrAccountBusy, ErrVersionConflict} {
		if !IsRetryable(fmt.Errorf("wrapped: %w", err)) {
			test.Fatalf("expected %v to be retryable", err)
		}
	}
	for _, err := range []error{ErrInsufficientBalance, ErrDuplicateIdempotencyKey, ErrAccountNotFound} {
		if IsRetryable(err) {
			test.Fatalf("expected %v to be final", err)
		}
	}
}
