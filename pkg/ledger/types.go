package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// AdminID identifies the operator behind an administrative action.
type AdminID struct {
	value string
}

// OrderID references an order owned by the checkout flow.
type OrderID struct {
	value string
}

// PayoutID identifies a payout request.
type PayoutID struct {
	value string
}

// TransactionID identifies a transaction log row.
type TransactionID struct {
	value string
}

// IdempotencyKey scopes duplicate detection per account.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewAdminID validates and normalizes an admin id.
func NewAdminID(raw string) (AdminID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AdminID{}, fmt.Errorf("%w: empty value", ErrInvalidAdminID)
	}
	return AdminID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AdminID) String() string {
	return id.value
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// IsZero reports whether no order is referenced.
func (id OrderID) IsZero() bool {
	return id.value == ""
}

// NewPayoutID validates and normalizes a payout id.
func NewPayoutID(raw string) (PayoutID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PayoutID{}, fmt.Errorf("%w: empty value", ErrInvalidPayoutID)
	}
	return PayoutID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PayoutID) String() string {
	return id.value
}

// IsZero reports whether no payout is referenced.
func (id PayoutID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsReserved reports whether the key uses a prefix the ledger derives for its own
// writes, such as payout completion.
func (key IdempotencyKey) IsReserved() bool {
	return strings.HasPrefix(strings.ToLower(key.value), idempotencyPrefixPayout+idempotencyKeyDelimiter)
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// TransactionType enumerates balance-affecting events.
type TransactionType string

const (
	TransactionWalletCredit    TransactionType = "wallet_credit"
	TransactionWalletDebit     TransactionType = "wallet_debit"
	TransactionCreditUsed      TransactionType = "credit_used"
	TransactionCreditRepaid    TransactionType = "credit_repaid"
	TransactionCreditReversed  TransactionType = "credit_reversed"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.TrimSpace(raw)) {
	case TransactionWalletCredit:
		return TransactionWalletCredit, nil
	case TransactionWalletDebit:
		return TransactionWalletDebit, nil
	case TransactionCreditUsed:
		return TransactionCreditUsed, nil
	case TransactionCreditRepaid:
		return TransactionCreditRepaid, nil
	case TransactionCreditReversed:
		return TransactionCreditReversed, nil
	case TransactionAdminAdjustment:
		return TransactionAdminAdjustment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the transaction type value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// BalanceKind names the account balance a transaction snapshot describes.
type BalanceKind string

const (
	BalanceWallet   BalanceKind = "wallet"
	BalancePostpaid BalanceKind = "postpaid"
)

// ParseBalanceKind validates a balance kind.
func ParseBalanceKind(raw string) (BalanceKind, error) {
	switch BalanceKind(strings.TrimSpace(raw)) {
	case BalanceWallet:
		return BalanceWallet, nil
	case BalancePostpaid:
		return BalancePostpaid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBalanceKind, raw)
	}
}

// String returns the balance kind value.
func (kind BalanceKind) String() string {
	return string(kind)
}

// CreditSource describes where wallet funds came from (payment proof, crypto, refund...).
type CreditSource struct {
	value string
}

// NewCreditSource validates a credit source label.
func NewCreditSource(raw string) (CreditSource, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CreditSource{}, fmt.Errorf("%w: empty value", ErrInvalidSource)
	}
	return CreditSource{value: trimmed}, nil
}

// String returns the source label.
func (source CreditSource) String() string {
	return source.value
}

// AdjustmentReason documents an admin adjustment.
type AdjustmentReason struct {
	value string
}

// NewAdjustmentReason validates a non-empty reason.
func NewAdjustmentReason(raw string) (AdjustmentReason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AdjustmentReason{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return AdjustmentReason{value: trimmed}, nil
}

// String returns the reason text.
func (reason AdjustmentReason) String() string {
	return reason.value
}

// Account holds the per-user balances.
type Account struct {
	UserID               UserID
	WalletBalance        Amount
	PostpaidEnabled      bool
	PostpaidCreditLimit  Amount
	PostpaidUsed         Amount
	PostpaidDueCycleDays int
	AllowPayoutWithDues  bool
	IsActive             bool
	Version              int64
	LastSequence         int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AvailableCredit is the undrawn part of the postpaid credit line.
func (account Account) AvailableCredit() Amount {
	return account.PostpaidCreditLimit.Sub(account.PostpaidUsed)
}

// OutstandingDues equals whatever postpaid credit is currently drawn and unpaid.
func (account Account) OutstandingDues() Amount {
	return account.PostpaidUsed
}

// CreditUsagePercent reports used/limit as a percentage.
func (account Account) CreditUsagePercent() decimal.Decimal {
	return UsagePercent(account.PostpaidUsed, account.PostpaidCreditLimit)
}

// Balance returns the balance named by kind.
func (account Account) Balance(kind BalanceKind) Amount {
	if kind == BalancePostpaid {
		return account.PostpaidUsed
	}
	return account.WalletBalance
}

// CheckInvariants verifies the balance invariants enforced on every mutation.
func (account Account) CheckInvariants() error {
	for _, balance := range []Amount{account.WalletBalance, account.PostpaidCreditLimit, account.PostpaidUsed} {
		if !balance.WithinRange() {
			return fmt.Errorf("%w: balance %s exceeds the maximum", ErrInvalidAmount, balance)
		}
	}
	if account.WalletBalance.IsNegative() {
		return fmt.Errorf("%w: wallet balance would be negative", ErrInsufficientBalance)
	}
	if account.PostpaidCreditLimit.IsNegative() {
		return fmt.Errorf("%w: credit limit is negative", ErrInvalidCreditLimit)
	}
	if account.PostpaidUsed.IsNegative() {
		return fmt.Errorf("%w: postpaid used would be negative", ErrExceedsOutstandingDues)
	}
	if account.PostpaidUsed.GreaterThan(account.PostpaidCreditLimit) {
		return fmt.Errorf("%w: postpaid used would exceed the credit limit", ErrCreditLimitExceeded)
	}
	if account.PostpaidDueCycleDays < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidDueCycle)
	}
	return nil
}

// AccountSettings carries the admin-controlled account fields.
type AccountSettings struct {
	PostpaidEnabled      bool
	PostpaidCreditLimit  Amount
	PostpaidDueCycleDays int
	AllowPayoutWithDues  bool
}

// Validate checks settings in isolation.
func (settings AccountSettings) Validate() error {
	if settings.PostpaidCreditLimit.IsNegative() {
		return fmt.Errorf("%w: must not be negative", ErrInvalidCreditLimit)
	}
	if settings.PostpaidDueCycleDays < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidDueCycle)
	}
	return nil
}

// Transaction is a single immutable line in the log.
type Transaction struct {
	ID              TransactionID
	UserID          UserID
	Sequence        int64
	Type            TransactionType
	Balance         BalanceKind
	Amount          Amount
	BalanceBefore   Amount
	BalanceAfter    Amount
	RelatedOrderID  OrderID
	RelatedPayoutID PayoutID
	IdempotencyKey  IdempotencyKey
	Source          string
	Reason          string
	AdminID         string
	Metadata        MetadataJSON
	CreatedAt       time.Time
}

// TransactionPage selects a page of the log, newest first.
type TransactionPage struct {
	BeforeSequence int64
	Limit          int
}

// NewTransactionPage validates paging input; zero limit selects the default.
func NewTransactionPage(beforeSequence int64, limit int) (TransactionPage, error) {
	if beforeSequence < 0 {
		return TransactionPage{}, fmt.Errorf("%w: before sequence must not be negative", ErrInvalidPage)
	}
	if limit < 0 {
		return TransactionPage{}, fmt.Errorf("%w: limit must not be negative", ErrInvalidPage)
	}
	if limit == 0 {
		limit = defaultTransactionPageLimit
	}
	if limit > maxTransactionPageLimit {
		return TransactionPage{}, fmt.Errorf("%w: limit exceeds maximum: %d > %d", ErrInvalidPage, limit, maxTransactionPageLimit)
	}
	return TransactionPage{BeforeSequence: beforeSequence, Limit: limit}, nil
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	// LockAccount reads the account for update inside WithTx.
	LockAccount(ctx context.Context, userID UserID) (Account, error)
	// UpdateAccount writes the account when its stored version equals expectedVersion,
	// returning ErrVersionConflict otherwise.
	UpdateAccount(ctx context.Context, account Account, expectedVersion int64) error
	AppendTransaction(ctx context.Context, transaction Transaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, userID UserID, key IdempotencyKey) (Transaction, bool, error)
	FindTransactionsByOrder(ctx context.Context, userID UserID, orderID OrderID) ([]Transaction, error)
	ListTransactions(ctx context.Context, userID UserID, page TransactionPage) ([]Transaction, error)
	ListTransactionsChronological(ctx context.Context, userID UserID) ([]Transaction, error)
	CreatePayout(ctx context.Context, payout PayoutRequest) error
	GetPayout(ctx context.Context, payoutID PayoutID) (PayoutRequest, error)
	FindPayoutByIdempotencyKey(ctx context.Context, userID UserID, key IdempotencyKey) (PayoutRequest, bool, error)
	UpdatePayout(ctx context.Context, payout PayoutRequest, from PayoutStatus) error
	ListPayouts(ctx context.Context, userID UserID, limit int) ([]PayoutRequest, error)
	SumHeldPayouts(ctx context.Context, userID UserID) (Amount, error)
}
