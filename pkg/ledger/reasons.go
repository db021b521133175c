package ledger

import "errors"

// Reason is the stable, renderable code behind a rejected operation.
type Reason string

const (
	ReasonNone                          Reason = ""
	ReasonInsufficientBalance           Reason = "insufficient_balance"
	ReasonCreditLimitExceeded           Reason = "credit_limit_exceeded"
	ReasonPostpaidDisabled              Reason = "postpaid_disabled"
	ReasonExceedsOutstandingDues        Reason = "exceeds_outstanding_dues"
	ReasonBlockedByDues                 Reason = "blocked_by_dues"
	ReasonBlockedByPendingOrderPayments Reason = "blocked_by_pending_order_payments"
	ReasonInvalidAmount                 Reason = "invalid_amount"
	ReasonStorageUnavailable            Reason = "storage_unavailable"
	ReasonAccountNotFound               Reason = "account_not_found"
	ReasonAccountExists                 Reason = "account_exists"
	ReasonAccountInactive               Reason = "account_inactive"
	ReasonAccountBusy                   Reason = "account_busy"
	ReasonVersionConflict               Reason = "version_conflict"
	ReasonDuplicateIdempotencyKey       Reason = "duplicate_idempotency_key"
	ReasonKYCNotApproved                Reason = "kyc_not_approved"
	ReasonPayoutsDisabled               Reason = "payouts_disabled"
	ReasonBelowMinimumPayout            Reason = "below_minimum_payout"
	ReasonPayoutNotFound                Reason = "payout_not_found"
	ReasonPayoutClosed                  Reason = "payout_closed"
	ReasonPayoutNotOwned                Reason = "payout_not_owned"
	ReasonDrawNotFound                  Reason = "draw_not_found"
	ReasonDrawAlreadyReversed           Reason = "draw_already_reversed"
	ReasonReplayMismatch                Reason = "replay_mismatch"
	ReasonInvalidArgument               Reason = "invalid_argument"
	ReasonInvalidPlatformConfig         Reason = "invalid_platform_config"
	ReasonInternal                      Reason = "internal"
)

var reasonTable = []struct {
	err    error
	reason Reason
}{
	// Stored settings wrap their own parse errors, so this entry must match first.
	{ErrInvalidPlatformConfig, ReasonInvalidPlatformConfig},
	{ErrInsufficientBalance, ReasonInsufficientBalance},
	{ErrCreditLimitExceeded, ReasonCreditLimitExceeded},
	{ErrPostpaidDisabled, ReasonPostpaidDisabled},
	{ErrExceedsOutstandingDues, ReasonExceedsOutstandingDues},
	{ErrBlockedByDues, ReasonBlockedByDues},
	{ErrBlockedByPendingOrderPayments, ReasonBlockedByPendingOrderPayments},
	{ErrInvalidAmount, ReasonInvalidAmount},
	{ErrAccountBusy, ReasonAccountBusy},
	{ErrVersionConflict, ReasonVersionConflict},
	{ErrStorageUnavailable, ReasonStorageUnavailable},
	{ErrAccountNotFound, ReasonAccountNotFound},
	{ErrAccountExists, ReasonAccountExists},
	{ErrAccountInactive, ReasonAccountInactive},
	{ErrDuplicateIdempotencyKey, ReasonDuplicateIdempotencyKey},
	{ErrKYCNotApproved, ReasonKYCNotApproved},
	{ErrPayoutsDisabled, ReasonPayoutsDisabled},
	{ErrBelowMinimumPayout, ReasonBelowMinimumPayout},
	{ErrPayoutNotFound, ReasonPayoutNotFound},
	{ErrPayoutClosed, ReasonPayoutClosed},
	{ErrPayoutNotOwned, ReasonPayoutNotOwned},
	{ErrDrawNotFound, ReasonDrawNotFound},
	{ErrDrawAlreadyReversed, ReasonDrawAlreadyReversed},
	{ErrReplayMismatch, ReasonReplayMismatch},
	{ErrInvalidCreditLimit, ReasonInvalidArgument},
	{ErrInvalidDueCycle, ReasonInvalidArgument},
	{ErrInvalidUserID, ReasonInvalidArgument},
	{ErrInvalidAdminID, ReasonInvalidArgument},
	{ErrInvalidOrderID, ReasonInvalidArgument},
	{ErrInvalidPayoutID, ReasonInvalidArgument},
	{ErrInvalidTransactionID, ReasonInvalidArgument},
	{ErrInvalidReason, ReasonInvalidArgument},
	{ErrInvalidSource, ReasonInvalidArgument},
	{ErrInvalidIdempotencyKey, ReasonInvalidArgument},
	{ErrInvalidMetadataJSON, ReasonInvalidArgument},
	{ErrInvalidTransactionType, ReasonInvalidArgument},
	{ErrInvalidBalanceKind, ReasonInvalidArgument},
	{ErrInvalidPayoutStatus, ReasonInvalidArgument},
	{ErrInvalidPaymentDetails, ReasonInvalidArgument},
	{ErrInvalidPage, ReasonInvalidArgument},
}

var reasonMessages = map[Reason]string{
	ReasonInsufficientBalance:           "Insufficient wallet balance",
	ReasonCreditLimitExceeded:           "Amount exceeds available credit",
	ReasonPostpaidDisabled:              "Postpaid credit is not enabled for this account",
	ReasonExceedsOutstandingDues:        "Amount exceeds outstanding dues",
	ReasonBlockedByDues:                 "Clear outstanding dues before requesting a payout",
	ReasonBlockedByPendingOrderPayments: "Pay pending orders before requesting a payout",
	ReasonInvalidAmount:                 "Enter a valid amount",
	ReasonStorageUnavailable:            "Service temporarily unavailable, please retry",
	ReasonAccountNotFound:               "Account not found",
	ReasonAccountExists:                 "Account already exists",
	ReasonAccountInactive:               "Account is disabled",
	ReasonAccountBusy:                   "Another operation is in progress, please retry",
	ReasonVersionConflict:               "Another operation is in progress, please retry",
	ReasonDuplicateIdempotencyKey:       "This request was already submitted with different details",
	ReasonKYCNotApproved:                "Complete KYC verification before requesting a payout",
	ReasonPayoutsDisabled:               "Payouts are currently disabled",
	ReasonBelowMinimumPayout:            "Amount is below the minimum payout",
	ReasonPayoutNotFound:                "Payout request not found",
	ReasonPayoutClosed:                  "Payout request can no longer be changed",
	ReasonPayoutNotOwned:                "Payout request not found",
	ReasonDrawNotFound:                  "No postpaid payment found for this order",
	ReasonDrawAlreadyReversed:           "Postpaid payment for this order was already reversed",
	ReasonReplayMismatch:                "Ledger history does not match the account balance",
	ReasonInvalidArgument:               "Invalid request",
	ReasonInvalidPlatformConfig:         "Payouts are temporarily unavailable, please try later",
	ReasonInternal:                      "Something went wrong",
}

// ReasonOf maps an error returned by the ledger to its typed reason.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, candidate := range reasonTable {
		if errors.Is(err, candidate.err) {
			return candidate.reason
		}
	}
	return ReasonInternal
}

// String returns the reason code.
func (reason Reason) String() string {
	return string(reason)
}

// Message returns the user-facing text for the reason.
func (reason Reason) Message() string {
	if message, ok := reasonMessages[reason]; ok {
		return message
	}
	return reasonMessages[ReasonInternal]
}
