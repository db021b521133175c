package pgstore

import (
	"context"
	_ "embed"
	"errors"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintAccountPrimary        = "ledger_accounts_pkey"
	constraintTransactionIdempotent = "uniq_ledger_tx_idem"
	constraintPayoutIdempotent      = "uniq_payout_idem"
	pgUniqueViolationCode           = "23505"
	errorOperationStore             = "store"
	errorSubjectAccount             = "account"
	errorSubjectPayout              = "payout"
	errorSubjectSchema              = "schema"
	errorSubjectTransaction         = "transaction"
	errorCodeApply                  = "apply"
	errorCodeBegin                  = "begin"
	errorCodeCommit                 = "commit"
	errorCodeCreate                 = "create"
	errorCodeDuplicate              = "duplicate"
	errorCodeGet                    = "get"
	errorCodeInsert                 = "insert"
	errorCodeInvalid                = "invalid"
	errorCodeList                   = "list"
	errorCodeLock                   = "lock"
	errorCodeLookup                 = "lookup"
	errorCodeSumHeld                = "sum_held"
	errorCodeUpdate                 = "update"

	sqlAccountColumns = `
		user_id, wallet_balance::text, postpaid_enabled, postpaid_credit_limit::text,
		postpaid_used::text, postpaid_due_cycle_days, allow_payout_with_dues, is_active,
		version, last_sequence, created_at, updated_at
	`

	sqlInsertAccount = `
		insert into ledger_accounts(
			user_id, wallet_balance, postpaid_enabled, postpaid_credit_limit, postpaid_used,
			postpaid_due_cycle_days, allow_payout_with_dues, is_active, version, last_sequence,
			created_at, updated_at
		)
		values($1, $2::numeric, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
	`

	sqlSelectAccount = `select ` + sqlAccountColumns + ` from ledger_accounts where user_id = $1`

	sqlLockAccount = sqlSelectAccount + ` for update`

	sqlUpdateAccount = `
		update ledger_accounts
		set wallet_balance = $3::numeric,
			postpaid_enabled = $4,
			postpaid_credit_limit = $5::numeric,
			postpaid_used = $6::numeric,
			postpaid_due_cycle_days = $7,
			allow_payout_with_dues = $8,
			is_active = $9,
			version = $10,
			last_sequence = $11,
			updated_at = $12
		where user_id = $1 and version = $2
	`

	sqlTransactionColumns = `
		transaction_id, user_id, sequence, type, balance, amount::text, balance_before::text,
		balance_after::text, coalesce(related_order_id,''), coalesce(related_payout_id,''),
		idempotency_key, source, reason, admin_id, metadata::text, created_at
	`

	sqlInsertTransaction = `
		insert into ledger_transactions(
			transaction_id, user_id, sequence, type, balance, amount, balance_before, balance_after,
			related_order_id, related_payout_id, idempotency_key, source, reason, admin_id, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric,
			nullif($9,''), nullif($10,''), $11, $12, $13, $14,
			coalesce(nullif($15,''),'{}')::jsonb, $16
		)
	`

	sqlSelectTransactionByKey = `select ` + sqlTransactionColumns + `
		from ledger_transactions where user_id = $1 and idempotency_key = $2`

	sqlSelectTransactionsByOrder = `select ` + sqlTransactionColumns + `
		from ledger_transactions where user_id = $1 and related_order_id = $2
		order by sequence asc`

	sqlListTransactionsBefore = `select ` + sqlTransactionColumns + `
		from ledger_transactions where user_id = $1 and ($2 = 0 or sequence < $2)
		order by sequence desc
		limit $3`

	sqlListTransactionsChronological = `select ` + sqlTransactionColumns + `
		from ledger_transactions where user_id = $1
		order by sequence asc`

	sqlPayoutColumns = `
		payout_id, user_id, amount::text, status, payment_method, payment_details::text,
		idempotency_key, reviewed_by, review_note, coalesce(transaction_id,''), created_at, updated_at
	`

	sqlInsertPayout = `
		insert into payout_requests(
			payout_id, user_id, amount, status, payment_method, payment_details, idempotency_key,
			reviewed_by, review_note, transaction_id, created_at, updated_at
		)
		values($1, $2, $3::numeric, $4, $5, $6::jsonb, $7, $8, $9, nullif($10,''), $11, $12)
	`

	sqlSelectPayout = `select ` + sqlPayoutColumns + ` from payout_requests where payout_id = $1`

	sqlSelectPayoutByKey = `select ` + sqlPayoutColumns + `
		from payout_requests where user_id = $1 and idempotency_key = $2`

	sqlUpdatePayout = `
		update payout_requests
		set status = $3, reviewed_by = $4, review_note = $5, transaction_id = nullif($6,''), updated_at = $7
		where payout_id = $1 and status = $2
	`

	sqlListPayouts = `select ` + sqlPayoutColumns + `
		from payout_requests where user_id = $1
		order by created_at desc, payout_id desc
		limit $2`

	sqlSumHeldPayouts = `
		select coalesce(sum(amount),0)::text from payout_requests
		where user_id = $1 and status in ('pending','approved')
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate applies the ledger schema; statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx reuses the open transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store queries) CreateAccount(ctx context.Context, account ledger.Account) error {
	_, err := store.db.Exec(ctx, sqlInsertAccount,
		account.UserID.String(),
		account.WalletBalance.String(),
		account.PostpaidEnabled,
		account.PostpaidCreditLimit.String(),
		account.PostpaidUsed.String(),
		account.PostpaidDueCycleDays,
		account.AllowPayoutWithDues,
		account.IsActive,
		account.Version,
		account.LastSequence,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err, constraintAccountPrimary) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(ctx, sqlSelectAccount, userID, errorCodeGet)
}

func (store queries) LockAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(ctx, sqlLockAccount, userID, errorCodeLock)
}

func (store queries) readAccount(ctx context.Context, query string, userID ledger.UserID, code string) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, query, userID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	return account, nil
}

func (store queries) UpdateAccount(ctx context.Context, account ledger.Account, expectedVersion int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccount,
		account.UserID.String(),
		expectedVersion,
		account.WalletBalance.String(),
		account.PostpaidEnabled,
		account.PostpaidCreditLimit.String(),
		account.PostpaidUsed.String(),
		account.PostpaidDueCycleDays,
		account.AllowPayoutWithDues,
		account.IsActive,
		account.Version,
		account.LastSequence,
		account.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrVersionConflict)
	}
	return nil
}

func (store queries) AppendTransaction(ctx context.Context, transaction ledger.Transaction) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID.String(),
		transaction.UserID.String(),
		transaction.Sequence,
		transaction.Type.String(),
		transaction.Balance.String(),
		transaction.Amount.String(),
		transaction.BalanceBefore.String(),
		transaction.BalanceAfter.String(),
		transaction.RelatedOrderID.String(),
		transaction.RelatedPayoutID.String(),
		transaction.IdempotencyKey.String(),
		transaction.Source,
		transaction.Reason,
		transaction.AdminID,
		transaction.Metadata.String(),
		transaction.CreatedAt,
	)
	if isUniqueViolation(err, constraintTransactionIdempotent) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store queries) FindTransactionByIdempotencyKey(ctx context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlSelectTransactionByKey, userID.String(), key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return transaction, true, nil
}

func (store queries) FindTransactionsByOrder(ctx context.Context, userID ledger.UserID, orderID ledger.OrderID) ([]ledger.Transaction, error) {
	return store.listTransactions(ctx, sqlSelectTransactionsByOrder, userID.String(), orderID.String())
}

func (store queries) ListTransactions(ctx context.Context, userID ledger.UserID, page ledger.TransactionPage) ([]ledger.Transaction, error) {
	return store.listTransactions(ctx, sqlListTransactionsBefore, userID.String(), page.BeforeSequence, page.Limit)
}

func (store queries) ListTransactionsChronological(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return store.listTransactions(ctx, sqlListTransactionsChronological, userID.String())
}

func (store queries) listTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]ledger.Transaction, 0)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store queries) CreatePayout(ctx context.Context, payout ledger.PayoutRequest) error {
	details, err := ledger.MarshalPaymentDetails(payout.Details)
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertPayout,
		payout.ID.String(),
		payout.UserID.String(),
		payout.Amount.String(),
		payout.Status.String(),
		payout.PaymentMethod().String(),
		string(details),
		payout.IdempotencyKey.String(),
		payout.ReviewedBy,
		payout.ReviewNote,
		payout.TransactionID.String(),
		payout.CreatedAt,
		payout.UpdatedAt,
	)
	if isUniqueViolation(err, constraintPayoutIdempotent) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetPayout(ctx context.Context, payoutID ledger.PayoutID) (ledger.PayoutRequest, error) {
	payout, err := scanPayout(store.db.QueryRow(ctx, sqlSelectPayout, payoutID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.PayoutRequest{}, wrapStoreError(errorSubjectPayout, errorCodeGet, ledger.ErrPayoutNotFound)
		}
		return ledger.PayoutRequest{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	return payout, nil
}

func (store queries) FindPayoutByIdempotencyKey(ctx context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.PayoutRequest, bool, error) {
	payout, err := scanPayout(store.db.QueryRow(ctx, sqlSelectPayoutByKey, userID.String(), key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PayoutRequest{}, false, nil
	}
	if err != nil {
		return ledger.PayoutRequest{}, false, wrapStoreError(errorSubjectPayout, errorCodeLookup, err)
	}
	return payout, true, nil
}

func (store queries) UpdatePayout(ctx context.Context, payout ledger.PayoutRequest, from ledger.PayoutStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePayout,
		payout.ID.String(),
		from.String(),
		payout.Status.String(),
		payout.ReviewedBy,
		payout.ReviewNote,
		payout.TransactionID.String(),
		payout.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, ledger.ErrPayoutClosed)
	}
	return nil
}

func (store queries) ListPayouts(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.PayoutRequest, error) {
	rows, err := store.db.Query(ctx, sqlListPayouts, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	defer rows.Close()
	payouts := make([]ledger.PayoutRequest, 0)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	return payouts, nil
}

func (store queries) SumHeldPayouts(ctx context.Context, userID ledger.UserID) (ledger.Amount, error) {
	var sum string
	if err := store.db.QueryRow(ctx, sqlSumHeldPayouts, userID.String()).Scan(&sum); err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectPayout, errorCodeSumHeld, err)
	}
	held, err := ledger.ParseAmount(sum)
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return held, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
}
