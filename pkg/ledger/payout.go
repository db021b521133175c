package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PayoutStatus defines the payout request lifecycle.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusApproved  PayoutStatus = "approved"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusRejected  PayoutStatus = "rejected"
	PayoutStatusCancelled PayoutStatus = "cancelled"
)

// ParsePayoutStatus validates a stored payout status.
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	switch PayoutStatus(strings.TrimSpace(raw)) {
	case PayoutStatusPending:
		return PayoutStatusPending, nil
	case PayoutStatusApproved:
		return PayoutStatusApproved, nil
	case PayoutStatusCompleted:
		return PayoutStatusCompleted, nil
	case PayoutStatusRejected:
		return PayoutStatusRejected, nil
	case PayoutStatusCancelled:
		return PayoutStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPayoutStatus, raw)
	}
}

// String returns the status value.
func (status PayoutStatus) String() string {
	return string(status)
}

// HoldsFunds reports whether a request in this status reserves wallet balance.
func (status PayoutStatus) HoldsFunds() bool {
	return status == PayoutStatusPending || status == PayoutStatusApproved
}

// IsTerminal reports whether no further transition is allowed.
func (status PayoutStatus) IsTerminal() bool {
	return status == PayoutStatusCompleted || status == PayoutStatusRejected || status == PayoutStatusCancelled
}

// CanTransitionTo encodes the payout state machine.
func (status PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch status {
	case PayoutStatusPending:
		return next == PayoutStatusApproved || next == PayoutStatusCompleted || next == PayoutStatusRejected || next == PayoutStatusCancelled
	case PayoutStatusApproved:
		return next == PayoutStatusCompleted || next == PayoutStatusRejected
	default:
		return false
	}
}

// PayoutRequest is a withdrawal of wallet funds to an external account.
type PayoutRequest struct {
	ID             PayoutID
	UserID         UserID
	Amount         Amount
	Status         PayoutStatus
	Details        PaymentDetails
	IdempotencyKey IdempotencyKey
	ReviewedBy     string
	ReviewNote     string
	TransactionID  TransactionID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentMethod returns the method of the attached details.
func (payout PayoutRequest) PaymentMethod() PaymentMethod {
	if payout.Details == nil {
		return ""
	}
	return payout.Details.Method()
}

// PlatformConfig carries the admin-managed platform flags the payout guard consumes.
type PlatformConfig struct {
	PayoutEnabled                     bool
	MinimumPayoutAmount               Amount
	BlockPayoutOnPendingOrderPayments bool
}

// DefaultPlatformConfig enables payouts with no minimum and no pending-order block.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		PayoutEnabled:       true,
		MinimumPayoutAmount: ZeroAmount(),
	}
}

// PayoutFacts are externally computed facts about the requesting user.
type PayoutFacts struct {
	KYCApproved     bool
	HasUnpaidOrders bool
}

// PayoutEligibility reports the balance figures behind an admission decision.
type PayoutEligibility struct {
	WalletBalance       Amount
	HeldPayouts         Amount
	OutstandingDues     Amount
	WithdrawableBalance Amount
}

// WithdrawableBalance = wallet - held payouts - (allow_payout_with_dues ? 0 : dues).
func WithdrawableBalance(account Account, heldPayouts Amount) Amount {
	withdrawable := account.WalletBalance.Sub(heldPayouts)
	if !account.AllowPayoutWithDues {
		withdrawable = withdrawable.Sub(account.OutstandingDues())
	}
	return withdrawable
}

// EvaluatePayout applies the admission policy for a new payout request.
func EvaluatePayout(account Account, heldPayouts Amount, amount PositiveAmount, config PlatformConfig, facts PayoutFacts) (PayoutEligibility, error) {
	eligibility := PayoutEligibility{
		WalletBalance:       account.WalletBalance,
		HeldPayouts:         heldPayouts,
		OutstandingDues:     account.OutstandingDues(),
		WithdrawableBalance: WithdrawableBalance(account, heldPayouts),
	}
	if !account.IsActive {
		return eligibility, ErrAccountInactive
	}
	if !config.PayoutEnabled {
		return eligibility, ErrPayoutsDisabled
	}
	if !facts.KYCApproved {
		return eligibility, ErrKYCNotApproved
	}
	if account.OutstandingDues().IsPositive() && !account.AllowPayoutWithDues {
		return eligibility, fmt.Errorf("%w: %s outstanding", ErrBlockedByDues, account.OutstandingDues())
	}
	if config.BlockPayoutOnPendingOrderPayments && facts.HasUnpaidOrders {
		return eligibility, ErrBlockedByPendingOrderPayments
	}
	if amount.Amount().LessThan(config.MinimumPayoutAmount) {
		return eligibility, fmt.Errorf("%w: minimum is %s", ErrBelowMinimumPayout, config.MinimumPayoutAmount)
	}
	if eligibility.WithdrawableBalance.LessThan(config.MinimumPayoutAmount) || eligibility.WithdrawableBalance.LessThan(amount.Amount()) {
		return eligibility, fmt.Errorf("%w: withdrawable %s, requested %s", ErrInsufficientBalance, eligibility.WithdrawableBalance, amount)
	}
	return eligibility, nil
}

var payoutRejections = []error{
	ErrAccountInactive,
	ErrPayoutsDisabled,
	ErrKYCNotApproved,
	ErrBlockedByDues,
	ErrBlockedByPendingOrderPayments,
	ErrBelowMinimumPayout,
	ErrInsufficientBalance,
}

// IsPayoutRejection reports whether err is an admission-policy outcome rather than a failure.
func IsPayoutRejection(err error) bool {
	for _, rejection := range payoutRejections {
		if errors.Is(err, rejection) {
			return true
		}
	}
	return false
}
