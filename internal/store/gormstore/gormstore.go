package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountPrimary        = "ledger_accounts_pkey"
	constraintTransactionIdempotent = "uniq_ledger_tx_idem"
	constraintPayoutIdempotent      = "uniq_payout_idem"
	defaultMetadataJSON             = "{}"
	pgUniqueViolationCode           = "23505"
	sqliteConstraintCode            = 19
	amountScale                     = 2
	errorOperationStore             = "store"
	errorSubjectAccount             = "account"
	errorSubjectTransaction         = "transaction"
	errorSubjectPayout              = "payout"
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
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	model := accountModel(account)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAccountPrimary) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(store.db.WithContext(ctx), userID, errorCodeGet)
}

// LockAccount takes a row lock on PostgreSQL; SQLite serializes writers instead.
func (store *Store) LockAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID, errorCodeLock)
}

func (store *Store) readAccount(query *gorm.DB, userID ledger.UserID, code string) (ledger.Account, error) {
	var model Account
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ? AND version = ?", account.UserID.String(), expectedVersion).
		Updates(map[string]interface{}{
			"wallet_balance":          account.WalletBalance.Decimal(),
			"postpaid_enabled":        account.PostpaidEnabled,
			"postpaid_credit_limit":   account.PostpaidCreditLimit.Decimal(),
			"postpaid_used":           account.PostpaidUsed.Decimal(),
			"postpaid_due_cycle_days": account.PostpaidDueCycleDays,
			"allow_payout_with_dues":  account.AllowPayoutWithDues,
			"is_active":               account.IsActive,
			"version":                 account.Version,
			"last_sequence":           account.LastSequence,
			"updated_at":              account.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrVersionConflict)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction ledger.Transaction) error {
	model := transactionModel(transaction)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintTransactionIdempotent) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindTransactionByIdempotencyKey(ctx context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	var rows []LedgerTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID.String(), key.String()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return ledger.Transaction{}, false, nil
	}
	transaction, err := mapTransaction(rows[0])
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, true, nil
}

func (store *Store) FindTransactionsByOrder(ctx context.Context, userID ledger.UserID, orderID ledger.OrderID) ([]ledger.Transaction, error) {
	return store.listTransactions(store.db.WithContext(ctx).
		Where("user_id = ? AND related_order_id = ?", userID.String(), orderID.String()).
		Order("sequence ASC"))
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, page ledger.TransactionPage) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID.String())
	if page.BeforeSequence > 0 {
		query = query.Where("sequence < ?", page.BeforeSequence)
	}
	return store.listTransactions(query.Order("sequence DESC").Limit(page.Limit))
}

func (store *Store) ListTransactionsChronological(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return store.listTransactions(store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("sequence ASC"))
}

func (store *Store) listTransactions(query *gorm.DB) ([]ledger.Transaction, error) {
	var rows []LedgerTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) CreatePayout(ctx context.Context, payout ledger.PayoutRequest) error {
	model, err := payoutModel(payout)
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPayoutIdempotent) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayout(ctx context.Context, payoutID ledger.PayoutID) (ledger.PayoutRequest, error) {
	var model PayoutRequest
	err := store.db.WithContext(ctx).Where("payout_id = ?", payoutID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.PayoutRequest{}, wrapStoreError(errorSubjectPayout, errorCodeGet, ledger.ErrPayoutNotFound)
		}
		return ledger.PayoutRequest{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	payout, err := mapPayout(model)
	if err != nil {
		return ledger.PayoutRequest{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout, nil
}

func (store *Store) FindPayoutByIdempotencyKey(ctx context.Context, userID ledger.UserID, key ledger.IdempotencyKey) (ledger.PayoutRequest, bool, error) {
	var rows []PayoutRequest
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID.String(), key.String()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.PayoutRequest{}, false, wrapStoreError(errorSubjectPayout, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return ledger.PayoutRequest{}, false, nil
	}
	payout, err := mapPayout(rows[0])
	if err != nil {
		return ledger.PayoutRequest{}, false, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout, true, nil
}

func (store *Store) UpdatePayout(ctx context.Context, payout ledger.PayoutRequest, from ledger.PayoutStatus) error {
	var transactionID *string
	if !payout.TransactionID.IsZero() {
		value := payout.TransactionID.String()
		transactionID = &value
	}
	result := store.db.WithContext(ctx).
		Model(&PayoutRequest{}).
		Where("payout_id = ? AND status = ?", payout.ID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":         payout.Status.String(),
			"reviewed_by":    payout.ReviewedBy,
			"review_note":    payout.ReviewNote,
			"transaction_id": transactionID,
			"updated_at":     payout.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdate, ledger.ErrPayoutClosed)
	}
	return nil
}

func (store *Store) ListPayouts(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.PayoutRequest, error) {
	var rows []PayoutRequest
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC, payout_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	payouts := make([]ledger.PayoutRequest, 0, len(rows))
	for _, row := range rows {
		payout, err := mapPayout(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, nil
}

// SumHeldPayouts adds amounts in Go so SQLite's REAL affinity never leaks into the total.
func (store *Store) SumHeldPayouts(ctx context.Context, userID ledger.UserID) (ledger.Amount, error) {
	var amounts []decimal.Decimal
	err := store.db.WithContext(ctx).
		Model(&PayoutRequest{}).
		Where("user_id = ? AND status IN ?", userID.String(), []string{ledger.PayoutStatusPending.String(), ledger.PayoutStatusApproved.String()}).
		Pluck("amount", &amounts).Error
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectPayout, errorCodeSumHeld, err)
	}
	total := ledger.ZeroAmount()
	for _, value := range amounts {
		amount, err := ledger.NewAmount(value.Round(amountScale))
		if err != nil {
			return ledger.Amount{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func accountModel(account ledger.Account) Account {
	return Account{
		UserID:               account.UserID.String(),
		WalletBalance:        account.WalletBalance.Decimal(),
		PostpaidEnabled:      account.PostpaidEnabled,
		PostpaidCreditLimit:  account.PostpaidCreditLimit.Decimal(),
		PostpaidUsed:         account.PostpaidUsed.Decimal(),
		PostpaidDueCycleDays: account.PostpaidDueCycleDays,
		AllowPayoutWithDues:  account.AllowPayoutWithDues,
		IsActive:             account.IsActive,
		Version:              account.Version,
		LastSequence:         account.LastSequence,
		CreatedAt:            account.CreatedAt,
		UpdatedAt:            account.UpdatedAt,
	}
}

func mapAccount(model Account) (ledger.Account, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Account{}, err
	}
	wallet, err := storedAmount(model.WalletBalance)
	if err != nil {
		return ledger.Account{}, err
	}
	limit, err := storedAmount(model.PostpaidCreditLimit)
	if err != nil {
		return ledger.Account{}, err
	}
	used, err := storedAmount(model.PostpaidUsed)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		UserID:               userID,
		WalletBalance:        wallet,
		PostpaidEnabled:      model.PostpaidEnabled,
		PostpaidCreditLimit:  limit,
		PostpaidUsed:         used,
		PostpaidDueCycleDays: model.PostpaidDueCycleDays,
		AllowPayoutWithDues:  model.AllowPayoutWithDues,
		IsActive:             model.IsActive,
		Version:              model.Version,
		LastSequence:         model.LastSequence,
		CreatedAt:            model.CreatedAt.UTC(),
		UpdatedAt:            model.UpdatedAt.UTC(),
	}, nil
}

func transactionModel(transaction ledger.Transaction) LedgerTransaction {
	return LedgerTransaction{
		TransactionID:   transaction.ID.String(),
		UserID:          transaction.UserID.String(),
		Sequence:        transaction.Sequence,
		Type:            transaction.Type.String(),
		Balance:         transaction.Balance.String(),
		Amount:          transaction.Amount.Decimal(),
		BalanceBefore:   transaction.BalanceBefore.Decimal(),
		BalanceAfter:    transaction.BalanceAfter.Decimal(),
		RelatedOrderID:  optionalString(transaction.RelatedOrderID.String()),
		RelatedPayoutID: optionalString(transaction.RelatedPayoutID.String()),
		IdempotencyKey:  transaction.IdempotencyKey.String(),
		Source:          transaction.Source,
		Reason:          transaction.Reason,
		AdminID:         transaction.AdminID,
		Metadata:        datatypesJSON(transaction.Metadata.String()),
		CreatedAt:       transaction.CreatedAt,
	}
}

func mapTransaction(row LedgerTransaction) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	balance, err := ledger.ParseBalanceKind(row.Balance)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := storedAmount(row.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	before, err := storedAmount(row.BalanceBefore)
	if err != nil {
		return ledger.Transaction{}, err
	}
	after, err := storedAmount(row.BalanceAfter)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var orderID ledger.OrderID
	if row.RelatedOrderID != nil {
		if orderID, err = ledger.NewOrderID(*row.RelatedOrderID); err != nil {
			return ledger.Transaction{}, err
		}
	}
	var payoutID ledger.PayoutID
	if row.RelatedPayoutID != nil {
		if payoutID, err = ledger.NewPayoutID(*row.RelatedPayoutID); err != nil {
			return ledger.Transaction{}, err
		}
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:              transactionID,
		UserID:          userID,
		Sequence:        row.Sequence,
		Type:            transactionType,
		Balance:         balance,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    after,
		RelatedOrderID:  orderID,
		RelatedPayoutID: payoutID,
		IdempotencyKey:  idempotencyKey,
		Source:          row.Source,
		Reason:          row.Reason,
		AdminID:         row.AdminID,
		Metadata:        metadata,
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}

func payoutModel(payout ledger.PayoutRequest) (PayoutRequest, error) {
	details, err := ledger.MarshalPaymentDetails(payout.Details)
	if err != nil {
		return PayoutRequest{}, err
	}
	return PayoutRequest{
		PayoutID:       payout.ID.String(),
		UserID:         payout.UserID.String(),
		Amount:         payout.Amount.Decimal(),
		Status:         payout.Status.String(),
		PaymentMethod:  payout.PaymentMethod().String(),
		PaymentDetails: datatypes.JSON(details),
		IdempotencyKey: payout.IdempotencyKey.String(),
		ReviewedBy:     payout.ReviewedBy,
		ReviewNote:     payout.ReviewNote,
		TransactionID:  optionalString(payout.TransactionID.String()),
		CreatedAt:      payout.CreatedAt,
		UpdatedAt:      payout.UpdatedAt,
	}, nil
}

func mapPayout(model PayoutRequest) (ledger.PayoutRequest, error) {
	payoutID, err := ledger.NewPayoutID(model.PayoutID)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	amount, err := storedAmount(model.Amount)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	status, err := ledger.ParsePayoutStatus(model.Status)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	method, err := ledger.ParsePaymentMethod(model.PaymentMethod)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	details, err := ledger.ParsePaymentDetails(method, model.PaymentDetails)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(model.IdempotencyKey)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	var transactionID ledger.TransactionID
	if model.TransactionID != nil {
		if transactionID, err = ledger.NewTransactionID(*model.TransactionID); err != nil {
			return ledger.PayoutRequest{}, err
		}
	}
	return ledger.PayoutRequest{
		ID:             payoutID,
		UserID:         userID,
		Amount:         amount,
		Status:         status,
		Details:        details,
		IdempotencyKey: idempotencyKey,
		ReviewedBy:     model.ReviewedBy,
		ReviewNote:     model.ReviewNote,
		TransactionID:  transactionID,
		CreatedAt:      model.CreatedAt.UTC(),
		UpdatedAt:      model.UpdatedAt.UTC(),
	}, nil
}

func storedAmount(value decimal.Decimal) (ledger.Amount, error) {
	return ledger.NewAmount(value.Round(amountScale))
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
