package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

type stubStore struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
	payouts      map[string]PayoutRequest
	payoutOrder  []string
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: make(map[string]Account),
		payouts:  make(map[string]PayoutRequest),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.Lock()
	accounts := make(map[string]Account, len(store.accounts))
	for key, account := range store.accounts {
		accounts[key] = account
	}
	payouts := make(map[string]PayoutRequest, len(store.payouts))
	for key, payout := range store.payouts {
		payouts[key] = payout
	}
	transactions := append([]Transaction(nil), store.transactions...)
	payoutOrder := append([]string(nil), store.payoutOrder...)
	store.mu.Unlock()

	if err := fn(ctx, store); err != nil {
		store.mu.Lock()
		store.accounts = accounts
		store.payouts = payouts
		store.transactions = transactions
		store.payoutOrder = payoutOrder
		store.mu.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) CreateAccount(_ context.Context, account Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.accounts[account.UserID.String()]; exists {
		return ErrAccountExists
	}
	store.accounts[account.UserID.String()] = account
	return nil
}

func (store *stubStore) GetAccount(_ context.Context, userID UserID) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) LockAccount(ctx context.Context, userID UserID) (Account, error) {
	return store.GetAccount(ctx, userID)
}

func (store *stubStore) UpdateAccount(_ context.Context, account Account, expectedVersion int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.accounts[account.UserID.String()]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	store.accounts[account.UserID.String()] = account
	return nil
}

func (store *stubStore) AppendTransaction(_ context.Context, transaction Transaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.transactions {
		if existing.UserID == transaction.UserID && existing.IdempotencyKey == transaction.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) FindTransactionByIdempotencyKey(_ context.Context, userID UserID, key IdempotencyKey) (Transaction, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, transaction := range store.transactions {
		if transaction.UserID == userID && transaction.IdempotencyKey == key {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) FindTransactionsByOrder(_ context.Context, userID UserID, orderID OrderID) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matches []Transaction
	for _, transaction := range store.transactions {
		if transaction.UserID == userID && transaction.RelatedOrderID == orderID {
			matches = append(matches, transaction)
		}
	}
	return matches, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, userID UserID, page TransactionPage) ([]Transaction, error) {
	chronological, err := store.ListTransactionsChronological(ctx, userID)
	if err != nil {
		return nil, err
	}
	var result []Transaction
	for index := len(chronological) - 1; index >= 0 && len(result) < page.Limit; index-- {
		transaction := chronological[index]
		if page.BeforeSequence > 0 && transaction.Sequence >= page.BeforeSequence {
			continue
		}
		result = append(result, transaction)
	}
	return result, nil
}

func (store *stubStore) ListTransactionsChronological(_ context.Context, userID UserID) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var result []Transaction
	for _, transaction := range store.transactions {
		if transaction.UserID == userID {
			result = append(result, transaction)
		}
	}
	sort.Slice(result, func(left, right int) bool { return result[left].Sequence < result[right].Sequence })
	return result, nil
}

func (store *stubStore) CreatePayout(_ context.Context, payout PayoutRequest) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.payouts[payout.ID.String()] = payout
	store.payoutOrder = append(store.payoutOrder, payout.ID.String())
	return nil
}

func (store *stubStore) GetPayout(_ context.Context, payoutID PayoutID) (PayoutRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	payout, ok := store.payouts[payoutID.String()]
	if !ok {
		return PayoutRequest{}, ErrPayoutNotFound
	}
	return payout, nil
}

func (store *stubStore) FindPayoutByIdempotencyKey(_ context.Context, userID UserID, key IdempotencyKey) (PayoutRequest, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, payout := range store.payouts {
		if payout.UserID == userID && payout.IdempotencyKey == key {
			return payout, true, nil
		}
	}
	return PayoutRequest{}, false, nil
}

func (store *stubStore) UpdatePayout(_ context.Context, payout PayoutRequest, from PayoutStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.payouts[payout.ID.String()]
	if !ok {
		return ErrPayoutNotFound
	}
	if current.Status != from {
		return ErrPayoutClosed
	}
	store.payouts[payout.ID.String()] = payout
	return nil
}

func (store *stubStore) ListPayouts(_ context.Context, userID UserID, limit int) ([]PayoutRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var result []PayoutRequest
	for index := len(store.payoutOrder) - 1; index >= 0 && len(result) < limit; index-- {
		payout := store.payouts[store.payoutOrder[index]]
		if payout.UserID == userID {
			result = append(result, payout)
		}
	}
	return result, nil
}

func (store *stubStore) SumHeldPayouts(_ context.Context, userID UserID) (Amount, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	total := ZeroAmount()
	for _, payout := range store.payouts {
		if payout.UserID == userID && payout.Status.HoldsFunds() {
			total = total.Add(payout.Amount)
		}
	}
	return total, nil
}

func (store *stubStore) seedAccount(test *testing.T, account Account) {
	test.Helper()
	if account.Version == 0 {
		account.Version = 1
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.accounts[account.UserID.String()] = account
}

func (store *stubStore) mustAccount(test *testing.T, userID UserID) Account {
	test.Helper()
	account, err := store.GetAccount(context.Background(), userID)
	if err != nil {
		test.Fatalf("account %s: %v", userID, err)
	}
	return account
}

// failingStore fails every call with err; WithTx runs the callback against itself.
type failingStore struct {
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *failingStore) CreateAccount(context.Context, Account) error { return store.err }

func (store *failingStore) GetAccount(context.Context, UserID) (Account, error) {
	return Account{}, store.err
}

func (store *failingStore) LockAccount(context.Context, UserID) (Account, error) {
	return Account{}, store.err
}

func (store *failingStore) UpdateAccount(context.Context, Account, int64) error { return store.err }

func (store *failingStore) AppendTransaction(context.Context, Transaction) error { return store.err }

func (store *failingStore) FindTransactionByIdempotencyKey(context.Context, UserID, IdempotencyKey) (Transaction, bool, error) {
	return Transaction{}, false, store.err
}

func (store *failingStore) FindTransactionsByOrder(context.Context, UserID, OrderID) ([]Transaction, error) {
	return nil, store.err
}

func (store *failingStore) ListTransactions(context.Context, UserID, TransactionPage) ([]Transaction, error) {
	return nil, store.err
}

func (store *failingStore) ListTransactionsChronological(context.Context, UserID) ([]Transaction, error) {
	return nil, store.err
}

func (store *failingStore) CreatePayout(context.Context, PayoutRequest) error { return store.err }

func (store *failingStore) GetPayout(context.Context, PayoutID) (PayoutRequest, error) {
	return PayoutRequest{}, store.err
}

func (store *failingStore) FindPayoutByIdempotencyKey(context.Context, UserID, IdempotencyKey) (PayoutRequest, bool, error) {
	return PayoutRequest{}, false, store.err
}

func (store *failingStore) UpdatePayout(context.Context, PayoutRequest, PayoutStatus) error {
	return store.err
}

func (store *failingStore) ListPayouts(context.Context, UserID, int) ([]PayoutRequest, error) {
	return nil, store.err
}

func (store *failingStore) SumHeldPayouts(context.Context, UserID) (Amount, error) {
	return Amount{}, store.err
}

// conflictingStore reports a version conflict on the first N account updates.
type conflictingStore struct {
	*stubStore
	conflicts int
	attempts  int
}

func (store *conflictingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.stubStore.WithTx(ctx, func(ctx context.Context, _ Store) error {
		return fn(ctx, store)
	})
}

func (store *conflictingStore) UpdateAccount(ctx context.Context, account Account, expectedVersion int64) error {
	store.attempts++
	if store.attempts <= store.conflicts {
		return ErrVersionConflict
	}
	return store.stubStore.UpdateAccount(ctx, account, expectedVersion)
}

var errStoreBoom = errors.New("boom")

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustAdminID(test *testing.T, raw string) AdminID {
	test.Helper()
	adminID, err := NewAdminID(raw)
	if err != nil {
		test.Fatalf("admin id: %v", err)
	}
	return adminID
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	orderID, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return orderID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustSource(test *testing.T, raw string) CreditSource {
	test.Helper()
	source, err := NewCreditSource(raw)
	if err != nil {
		test.Fatalf("source: %v", err)
	}
	return source
}

func mustReason(test *testing.T, raw string) AdjustmentReason {
	test.Helper()
	reason, err := NewAdjustmentReason(raw)
	if err != nil {
		test.Fatalf("reason: %v", err)
	}
	return reason
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	amount, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return amount
}

func mustPositiveAmount(test *testing.T, raw string) PositiveAmount {
	test.Helper()
	amount, err := ParsePositiveAmount(raw)
	if err != nil {
		test.Fatalf("positive amount %q: %v", raw, err)
	}
	return amount
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func newAccount(test *testing.T, userID string, wallet string, limit string, used string) Account {
	test.Helper()
	return Account{
		UserID:              mustUserID(test, userID),
		WalletBalance:       mustAmount(test, wallet),
		PostpaidEnabled:     true,
		PostpaidCreditLimit: mustAmount(test, limit),
		PostpaidUsed:        mustAmount(test, used),
		IsActive:            true,
		Version:             1,
		CreatedAt:           fixedNow,
		UpdatedAt:           fixedNow,
	}
}

func assertAmount(test *testing.T, label string, got Amount, want string) {
	test.Helper()
	if got.String() != want {
		test.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}
