package pgstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/jackc/pgx/v5"
)

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		userIDValue  string
		walletValue  string
		limitValue   string
		usedValue    string
		account      ledger.Account
		createdAtUTC time.Time
		updatedAtUTC time.Time
	)
	if err := row.Scan(
		&userIDValue,
		&walletValue,
		&account.PostpaidEnabled,
		&limitValue,
		&usedValue,
		&account.PostpaidDueCycleDays,
		&account.AllowPayoutWithDues,
		&account.IsActive,
		&account.Version,
		&account.LastSequence,
		&createdAtUTC,
		&updatedAtUTC,
	); err != nil {
		return ledger.Account{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	if account.WalletBalance, err = ledger.ParseAmount(walletValue); err != nil {
		return ledger.Account{}, err
	}
	if account.PostpaidCreditLimit, err = ledger.ParseAmount(limitValue); err != nil {
		return ledger.Account{}, err
	}
	if account.PostpaidUsed, err = ledger.ParseAmount(usedValue); err != nil {
		return ledger.Account{}, err
	}
	account.UserID = userID
	account.CreatedAt = createdAtUTC.UTC()
	account.UpdatedAt = updatedAtUTC.UTC()
	return account, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		transactionIDValue string
		userIDValue        string
		sequence           int64
		typeValue          string
		balanceValue       string
		amountValue        string
		beforeValue        string
		afterValue         string
		orderIDValue       string
		payoutIDValue      string
		keyValue           string
		source             string
		reason             string
		adminID            string
		metadataValue      string
		createdAtUTC       time.Time
	)
	if err := row.Scan(
		&transactionIDValue,
		&userIDValue,
		&sequence,
		&typeValue,
		&balanceValue,
		&amountValue,
		&beforeValue,
		&afterValue,
		&orderIDValue,
		&payoutIDValue,
		&keyValue,
		&source,
		&reason,
		&adminID,
		&metadataValue,
		&createdAtUTC,
	); err != nil {
		return ledger.Transaction{}, err
	}
	transaction := ledger.Transaction{
		Sequence:  sequence,
		Source:    source,
		Reason:    reason,
		AdminID:   adminID,
		CreatedAt: createdAtUTC.UTC(),
	}
	var err error
	if transaction.ID, err = ledger.NewTransactionID(transactionIDValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.UserID, err = ledger.NewUserID(userIDValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Type, err = ledger.ParseTransactionType(typeValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Balance, err = ledger.ParseBalanceKind(balanceValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Amount, err = ledger.ParseAmount(amountValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.BalanceBefore, err = ledger.ParseAmount(beforeValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.BalanceAfter, err = ledger.ParseAmount(afterValue); err != nil {
		return ledger.Transaction{}, err
	}
	if orderIDValue != "" {
		if transaction.RelatedOrderID, err = ledger.NewOrderID(orderIDValue); err != nil {
			return ledger.Transaction{}, err
		}
	}
	if payoutIDValue != "" {
		if transaction.RelatedPayoutID, err = ledger.NewPayoutID(payoutIDValue); err != nil {
			return ledger.Transaction{}, err
		}
	}
	if transaction.IdempotencyKey, err = ledger.NewIdempotencyKey(keyValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Metadata, err = ledger.NewMetadataJSON(metadataValue); err != nil {
		return ledger.Transaction{}, err
	}
	return transaction, nil
}

func scanPayout(row pgx.Row) (ledger.PayoutRequest, error) {
	var (
		payoutIDValue      string
		userIDValue        string
		amountValue        string
		statusValue        string
		methodValue        string
		detailsValue       string
		keyValue           string
		transactionIDValue string
		payout             ledger.PayoutRequest
		createdAtUTC       time.Time
		updatedAtUTC       time.Time
	)
	if err := row.Scan(
		&payoutIDValue,
		&userIDValue,
		&amountValue,
		&statusValue,
		&methodValue,
		&detailsValue,
		&keyValue,
		&payout.ReviewedBy,
		&payout.ReviewNote,
		&transactionIDValue,
		&createdAtUTC,
		&updatedAtUTC,
	); err != nil {
		return ledger.PayoutRequest{}, err
	}
	var err error
	if payout.ID, err = ledger.NewPayoutID(payoutIDValue); err != nil {
		return ledger.PayoutRequest{}, err
	}
	if payout.UserID, err = ledger.NewUserID(userIDValue); err != nil {
		return ledger.PayoutRequest{}, err
	}
	if payout.Amount, err = ledger.ParseAmount(amountValue); err != nil {
		return ledger.PayoutRequest{}, err
	}
	if payout.Status, err = ledger.ParsePayoutStatus(statusValue); err != nil {
		return ledger.PayoutRequest{}, err
	}
	method, err := ledger.ParsePaymentMethod(methodValue)
	if err != nil {
		return ledger.PayoutRequest{}, err
	}
	if payout.Details, err = ledger.ParsePaymentDetails(method, []byte(detailsValue)); err != nil {
		return ledger.PayoutRequest{}, err
	}
	if payout.IdempotencyKey, err = ledger.NewIdempotencyKey(keyValue); err != nil {
		return ledger.PayoutRequest{}, err
	}
	if transactionIDValue != "" {
		if payout.TransactionID, err = ledger.NewTransactionID(transactionIDValue); err != nil {
			return ledger.PayoutRequest{}, err
		}
	}
	payout.CreatedAt = createdAtUTC.UTC()
	payout.UpdatedAt = updatedAtUTC.UTC()
	return payout, nil
}
