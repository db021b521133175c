// Package memstore keeps ledger state in process memory. It backs local development
// and tests; data is lost on restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

type state struct {
	accounts     map[string]ledger.Account
	transactions map[string][]ledger.Transaction
	payouts      map[string]ledger.PayoutRequest
	payoutOrder  []string
}

func newState() *state {
	return &state{
		accounts:     make(map[string]ledger.Account),
		transactions: make(map[string][]ledger.Transaction),
		payouts:      make(map[string]ledger.PayoutRequest),
	}
}

func (current *state) clone() *state {
	copied := newState()
	for key, account := range current.accounts {
		copied.accounts[key] = account
	}
	for key, transactions := range current.transactions {
		copied.transactions[key] = append([]ledger.Transaction(nil), transactions...)
	}
	for key, payout := range current.payouts {
		copied.payouts[key] = payout
	}
	copied.payoutOrder = append([]string(nil), current.payoutOrder...)
	return copied
}

// Store implements ledger.Store in memory. Transactions run serially against a copy
// that replaces the committed state only when fn succeeds.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()

	store.mu.RLock()
	working := store.state.clone()
	store.mu.RUnlock()

	if err := fn(ctx, &txStore{state: working}); err != nil {
		return err
	}
	store.mu.Lock()
	store.state = working
	store.mu.Unlock()
	return nil
}

func (store *Store) read() *state {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.state
}

// write runs change on a copy so readers holding the previous state are unaffected.
func (store *Store) write(change func(current *state) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.RLock()
	working := store.state.clone()
	store.mu.RUnlock()
	if err := change(working); err != nil {
		return err
	}
	store.mu.Lock()
	store.state = working
	store.mu.Unlock()
	return nil
}

func (store *Store) CreateAccount(_ context.Context, account ledger.Account) error {
	return store.write(func(current *state) error { return current.createAccount(account) })
}

func (store *Store) GetAccount(_ context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.read().account(userID)
}

func (store *Store) LockAccount(_ context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.read().account(userID)
}

func (store *Store) UpdateAccount(_ context.Context, account ledger.Account, expectedVersion int64) error {
	return store.write(func(current *state) error { return current.updateAccount(account, expectedVersion) })
}

func (store *Store) AppendTransaction(_ context.Context, transaction ledger.Transaction) error {
	return store.write(func(current *state) error { return current.appendTransaction(transaction) })
}

func (store *Store) FindTransactionByIdempotencyKey(_ context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	transaction, found := store.read().transactionByKey(userID, key)
	return transaction, found, nil
}

func (store *Store) FindTransactionsByOrder(_ context.Context, userID ledger.UserID, orderID ledger.OrderID) ([]ledger.Transaction, error) {
	return store.read().transactionsByOrder(userID, orderID), nil
}

func (store *Store) ListTransactions(_ context.Context, userID ledger.UserID, page ledger.TransactionPage) ([]ledger.Transaction, error) {
	return store.read().listTransactions(userID, page), nil
}

func (store *Store) ListTransactionsChronological(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return store.read().chronological(userID), nil
}

func (store *Store) CreatePayout(_ context.Context, payout ledger.PayoutRequest) error {
	return store.write(func(current *state) error { return current.createPayout(payout) })
}

func (store *Store) GetPayout(_ context.Context, payoutID ledger.PayoutID) (ledger.PayoutRequest, error) {
	return store.read().payout(payoutID)
}

func (store *Store) FindPayoutByIdempotencyKey(_ context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.PayoutRequest, bool, error) {
	payout, found := store.read().payoutByKey(userID, key)
	return payout, found, nil
}

func (store *Store) UpdatePayout(_ context.Context, payout ledger.PayoutRequest, from ledger.PayoutStatus) error {
	return store.write(func(current *state) error { return current.updatePayout(payout, from) })
}

func (store *Store) ListPayouts(_ context.Context, userID ledger.UserID, limit int) ([]ledger.PayoutRequest, error) {
	return store.read().listPayouts(userID, limit), nil
}

func (store *Store) SumHeldPayouts(_ context.Context, userID ledger.UserID) (ledger.Amount, error) {
	return store.read().sumHeld(userID), nil
}

type txStore struct {
	state *state
}

func (store *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *txStore) CreateAccount(_ context.Context, account ledger.Account) error {
	return store.state.createAccount(account)
}

func (store *txStore) GetAccount(_ context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.state.account(userID)
}

func (store *txStore) LockAccount(_ context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.state.account(userID)
}

func (store *txStore) UpdateAccount(_ context.Context, account ledger.Account, expectedVersion int64) error {
	return store.state.updateAccount(account, expectedVersion)
}

func (store *txStore) AppendTransaction(_ context.Context, transaction ledger.Transaction) error {
	return store.state.appendTransaction(transaction)
}

func (store *txStore) FindTransactionByIdempotencyKey(_ context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	transaction, found := store.state.transactionByKey(userID, key)
	return transaction, found, nil
}

func (store *txStore) FindTransactionsByOrder(_ context.Context, userID ledger.UserID, orderID ledger.OrderID) ([]ledger.Transaction, error) {
	return store.state.transactionsByOrder(userID, orderID), nil
}

func (store *txStore) ListTransactions(_ context.Context, userID ledger.UserID, page ledger.TransactionPage) ([]ledger.Transaction, error) {
	return store.state.listTransactions(userID, page), nil
}

func (store *txStore) ListTransactionsChronological(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return store.state.chronological(userID), nil
}

func (store *txStore) CreatePayout(_ context.Context, payout ledger.PayoutRequest) error {
	return store.state.createPayout(payout)
}

func (store *txStore) GetPayout(_ context.Context, payoutID ledger.PayoutID) (ledger.PayoutRequest, error) {
	return store.state.payout(payoutID)
}

func (store *txStore) FindPayoutByIdempotencyKey(_ context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.PayoutRequest, bool, error) {
	payout, found := store.state.payoutByKey(userID, key)
	return payout, found, nil
}

func (store *txStore) UpdatePayout(_ context.Context, payout ledger.PayoutRequest, from ledger.PayoutStatus) error {
	return store.state.updatePayout(payout, from)
}

func (store *txStore) ListPayouts(_ context.Context, userID ledger.UserID, limit int) ([]ledger.PayoutRequest, error) {
	return store.state.listPayouts(userID, limit), nil
}

func (store *txStore) SumHeldPayouts(_ context.Context, userID ledger.UserID) (ledger.Amount, error) {
	return store.state.sumHeld(userID), nil
}

func (current *state) createAccount(account ledger.Account) error {
	if _, exists := current.accounts[account.UserID.String()]; exists {
		return ledger.ErrAccountExists
	}
	current.accounts[account.UserID.String()] = account
	return nil
}

func (current *state) account(userID ledger.UserID) (ledger.Account, error) {
	account, ok := current.accounts[userID.String()]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (current *state) updateAccount(account ledger.Account, expectedVersion int64) error {
	stored, ok := current.accounts[account.UserID.String()]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if stored.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	current.accounts[account.UserID.String()] = account
	return nil
}

func (current *state) appendTransaction(transaction ledger.Transaction) error {
	userKey := transaction.UserID.String()
	for _, existing := range current.transactions[userKey] {
		if existing.IdempotencyKey == transaction.IdempotencyKey {
			return ledger.ErrDuplicateIdempotencyKey
		}
		if existing.Sequence == transaction.Sequence {
			return ledger.ErrVersionConflict
		}
	}
	current.transactions[userKey] = append(current.transactions[userKey], transaction)
	return nil
}

func (current *state) transactionByKey(userID ledger.UserID, key ledger.IdempotencyKey) (ledger.Transaction, bool) {
	for _, transaction := range current.transactions[userID.String()] {
		if transaction.IdempotencyKey == key {
			return transaction, true
		}
	}
	return ledger.Transaction{}, false
}

func (current *state) transactionsByOrder(userID ledger.UserID, orderID ledger.OrderID) []ledger.Transaction {
	matches := make([]ledger.Transaction, 0)
	for _, transaction := range current.chronological(userID) {
		if transaction.RelatedOrderID == orderID {
			matches = append(matches, transaction)
		}
	}
	return matches
}

func (current *state) chronological(userID ledger.UserID) []ledger.Transaction {
	result := append([]ledger.Transaction(nil), current.transactions[userID.String()]...)
	sort.Slice(result, func(left, right int) bool { return result[left].Sequence < result[right].Sequence })
	return result
}

func (current *state) listTransactions(userID ledger.UserID, page ledger.TransactionPage) []ledger.Transaction {
	ordered := current.chronological(userID)
	result := make([]ledger.Transaction, 0, page.Limit)
	for index := len(ordered) - 1; index >= 0 && len(result) < page.Limit; index-- {
		if page.BeforeSequence > 0 && ordered[index].Sequence >= page.BeforeSequence {
			continue
		}
		result = append(result, ordered[index])
	}
	return result
}

func (current *state) createPayout(payout ledger.PayoutRequest) error {
	if _, exists := current.payouts[payout.ID.String()]; exists {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if _, found := current.payoutByKey(payout.UserID, payout.IdempotencyKey); found {
		return ledger.ErrDuplicateIdempotencyKey
	}
	current.payouts[payout.ID.String()] = payout
	current.payoutOrder = append(current.payoutOrder, payout.ID.String())
	return nil
}

func (current *state) payout(payoutID ledger.PayoutID) (ledger.PayoutRequest, error) {
	payout, ok := current.payouts[payoutID.String()]
	if !ok {
		return ledger.PayoutRequest{}, ledger.ErrPayoutNotFound
	}
	return payout, nil
}

func (current *state) payoutByKey(userID ledger.UserID, key ledger.IdempotencyKey) (ledger.PayoutRequest, bool) {
	for _, payout := range current.payouts {
		if payout.UserID == userID && payout.IdempotencyKey == key {
			return payout, true
		}
	}
	return ledger.PayoutRequest{}, false
}

func (current *state) updatePayout(payout ledger.PayoutRequest, from ledger.PayoutStatus) error {
	stored, ok := current.payouts[payout.ID.String()]
	if !ok {
		return ledger.ErrPayoutNotFound
	}
	if stored.Status != from {
		return ledger.ErrPayoutClosed
	}
	current.payouts[payout.ID.String()] = payout
	return nil
}

func (current *state) listPayouts(userID ledger.UserID, limit int) []ledger.PayoutRequest {
	result := make([]ledger.PayoutRequest, 0)
	for index := len(current.payoutOrder) - 1; index >= 0 && len(result) < limit; index-- {
		payout := current.payouts[current.payoutOrder[index]]
		if payout.UserID == userID {
			result = append(result, payout)
		}
	}
	return result
}

func (current *state) sumHeld(userID ledger.UserID) ledger.Amount {
	total := ledger.ZeroAmount()
	for _, payout := range current.payouts {
		if payout.UserID == userID && payout.Status.HoldsFunds() {
			total = total.Add(payout.Amount)
		}
	}
	return total
}
