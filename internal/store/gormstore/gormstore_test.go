package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func openTestStore(test *testing.T) (*Store, *gorm.DB) {
	test.Helper()
	path := filepath.Join(test.TempDir(), "settlement.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db), db
}

func newTestService(test *testing.T, store ledger.Store) *ledger.Service {
	test.Helper()
	service, err := ledger.NewService(store, func() time.Time { return testNow })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustKey(test *testing.T, raw string) ledger.IdempotencyKey {
	test.Helper()
	key, err := ledger.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustPositive(test *testing.T, raw string) ledger.PositiveAmount {
	test.Helper()
	amount, err := ledger.ParsePositiveAmount(raw)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	return amount
}

func mustAmount(test *testing.T, raw string) ledger.Amount {
	test.Helper()
	amount, err := ledger.ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustOrderID(test *testing.T, raw string) ledger.OrderID {
	test.Helper()
	orderID, err := ledger.NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return orderID
}

func mustAdminID(test *testing.T, raw string) ledger.AdminID {
	test.Helper()
	adminID, err := ledger.NewAdminID(raw)
	if err != nil {
		test.Fatalf("admin id: %v", err)
	}
	return adminID
}

func assertAmount(test *testing.T, label string, got ledger.Amount, want string) {
	test.Helper()
	if !got.Decimal().Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

func openPostpaidAccount(test *testing.T, service *ledger.Service, userID ledger.UserID, limit string) {
	test.Helper()
	_, err := service.OpenAccount(context.Background(), userID, ledger.AccountSettings{
		PostpaidEnabled:     true,
		PostpaidCreditLimit: mustAmount(test, limit),
	})
	if err != nil {
		test.Fatalf("open account: %v", err)
	}
}

func TestStoreSettlementScenario(test *testing.T) {
	store, _ := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-1")
	openPostpaidAccount(test, service, userID, "100.00")

	source, err := ledger.NewCreditSource("payment_proof")
	if err != nil {
		test.Fatalf("source: %v", err)
	}
	metadata, err := ledger.NewMetadataJSON(`{"proof":"utr-1"}`)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	credit, err := service.CreditWallet(ctx, userID, mustPositive(test, "80.50"), source, mustKey(test, "credit-1"), metadata)
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.DrawPostpaidCredit(ctx, userID, mustPositive(test, "50.00"), mustOrderID(test, "order-1"), mustKey(test, "draw-1"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("draw: %v", err)
	}
	if _, err := service.RepayPostpaid(ctx, userID, mustPositive(test, "30.00"), mustKey(test, "repay-1"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("repay: %v", err)
	}

	account, err := service.Account(ctx, userID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	assertAmount(test, "wallet", account.WalletBalance, "50.50")
	assertAmount(test, "used", account.PostpaidUsed, "20.00")
	assertAmount(test, "available", account.AvailableCredit(), "80.00")
	if account.LastSequence != 3 {
		test.Fatalf("expected last sequence 3, got %d", account.LastSequence)
	}

	retried, err := service.CreditWallet(ctx, userID, mustPositive(test, "80.50"), source, mustKey(test, "credit-1"), metadata)
	if err != nil {
		test.Fatalf("retry credit: %v", err)
	}
	if retried.ID != credit.ID {
		test.Fatalf("expected replayed transaction %s, got %s", credit.ID.String(), retried.ID.String())
	}
	if retried.Metadata.String() != `{"proof":"utr-1"}` {
		test.Fatalf("unexpected metadata %s", retried.Metadata.String())
	}

	page, err := ledger.NewTransactionPage(0, 2)
	if err != nil {
		test.Fatalf("page: %v", err)
	}
	transactions, err := service.ListTransactions(ctx, userID, page)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 || transactions[0].Sequence != 3 || transactions[1].Sequence != 2 {
		test.Fatalf("unexpected page %+v", transactions)
	}
	if transactions[0].Type != ledger.TransactionCreditRepaid {
		test.Fatalf("expected credit_repaid first, got %s", transactions[0].Type)
	}

	replay, err := service.VerifyReplay(ctx, userID)
	if err != nil {
		test.Fatalf("verify replay: %v", err)
	}
	if replay.Transactions != 3 {
		test.Fatalf("expected 3 replayed transactions, got %d", replay.Transactions)
	}
}

func TestStoreReverseDrawUsesOrderIndex(test *testing.T) {
	store, _ := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-2")
	openPostpaidAccount(test, service, userID, "60.00")
	orderID := mustOrderID(test, "order-9")

	if _, err := service.DrawPostpaidCredit(ctx, userID, mustPositive(test, "25.25"), orderID, mustKey(test, "draw-9"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("draw: %v", err)
	}
	reversal, err := service.ReversePostpaidDraw(ctx, userID, orderID, mustKey(test, "reverse-9"), ledger.MetadataJSON{})
	if err != nil {
		test.Fatalf("reverse: %v", err)
	}
	assertAmount(test, "reversal", reversal.Amount, "25.25")
	if reversal.RelatedOrderID != orderID {
		test.Fatalf("expected order %s on reversal", orderID.String())
	}
	_, err = service.ReversePostpaidDraw(ctx, userID, orderID, mustKey(test, "reverse-9b"), ledger.MetadataJSON{})
	if !errors.Is(err, ledger.ErrDrawAlreadyReversed) {
		test.Fatalf("expected ErrDrawAlreadyReversed, got %v", err)
	}
}

func TestStoreRejectsDuplicates(test *testing.T) {
	store, _ := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-3")
	openPostpaidAccount(test, service, userID, "0")

	_, err := service.OpenAccount(ctx, userID, ledger.AccountSettings{})
	if !errors.Is(err, ledger.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}

	source, err := ledger.NewCreditSource("refund")
	if err != nil {
		test.Fatalf("source: %v", err)
	}
	credit, err := service.CreditWallet(ctx, userID, mustPositive(test, "10.00"), source, mustKey(test, "dup"), ledger.MetadataJSON{})
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	duplicate := credit
	duplicate.ID, err = ledger.NewTransactionID("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	duplicate.Sequence = 99
	err = store.AppendTransaction(ctx, duplicate)
	if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
}

func TestStoreUpdateAccountChecksVersion(test *testing.T) {
	store, _ := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-4")
	openPostpaidAccount(test, service, userID, "10.00")

	account, err := store.GetAccount(ctx, userID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	stale := account.Version
	account.Version++
	if err := store.UpdateAccount(ctx, account, stale); err != nil {
		test.Fatalf("first update: %v", err)
	}
	err = store.UpdateAccount(ctx, account, stale)
	if !errors.Is(err, ledger.ErrVersionConflict) {
		test.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) || operationError.Operation() != errorOperationStore {
		test.Fatalf("expected store operation error, got %v", err)
	}

	_, err = store.GetAccount(ctx, mustUserID(test, "missing"))
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStorePayoutLifecycle(test *testing.T) {
	store, _ := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-5")
	openPostpaidAccount(test, service, userID, "0")
	source, err := ledger.NewCreditSource("payment_proof")
	if err != nil {
		test.Fatalf("source: %v", err)
	}
	if _, err := service.CreditWallet(ctx, userID, mustPositive(test, "200.00"), source, mustKey(test, "fund"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("credit: %v", err)
	}

	facts := ledger.PayoutFacts{KYCApproved: true}
	config := ledger.DefaultPlatformConfig()
	details := ledger.UpiDetails{UpiID: "seller5@bank"}
	first, err := service.RequestPayout(ctx, userID, mustPositive(test, "50.00"), details, mustKey(test, "payout-a"), config, facts)
	if err != nil {
		test.Fatalf("request a: %v", err)
	}
	if _, err := service.RequestPayout(ctx, userID, mustPositive(test, "20.00"), ledger.BankDetails{
		AccountHolder: "Seller Five",
		AccountNumber: "000111222",
		IFSC:          "HDFC0001",
	}, mustKey(test, "payout-b"), config, facts); err != nil {
		test.Fatalf("request b: %v", err)
	}

	held, err := store.SumHeldPayouts(ctx, userID)
	if err != nil {
		test.Fatalf("sum held: %v", err)
	}
	assertAmount(test, "held", held, "70.00")

	loaded, err := store.GetPayout(ctx, first.ID)
	if err != nil {
		test.Fatalf("get payout: %v", err)
	}
	if loaded.Details != details {
		test.Fatalf("expected details %+v, got %+v", details, loaded.Details)
	}

	completed, transaction, err := service.CompletePayout(ctx, first.ID, mustAdminID(test, "admin-1"), "paid")
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != ledger.PayoutStatusCompleted || completed.TransactionID != transaction.ID {
		test.Fatalf("unexpected completed payout %+v", completed)
	}
	if transaction.RelatedPayoutID != first.ID {
		test.Fatalf("expected payout id on debit")
	}

	held, err = store.SumHeldPayouts(ctx, userID)
	if err != nil {
		test.Fatalf("sum held: %v", err)
	}
	assertAmount(test, "held after completion", held, "20.00")

	stale := completed
	stale.Status = ledger.PayoutStatusRejected
	err = store.UpdatePayout(ctx, stale, ledger.PayoutStatusPending)
	if !errors.Is(err, ledger.ErrPayoutClosed) {
		test.Fatalf("expected ErrPayoutClosed, got %v", err)
	}

	payouts, err := store.ListPayouts(ctx, userID, 10)
	if err != nil {
		test.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 2 {
		test.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
}

func TestStoreRollsBackFailedTransaction(test *testing.T) {
	store, db := openTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	userID := mustUserID(test, "seller-6")
	openPostpaidAccount(test, service, userID, "0")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		account, err := txStore.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		expected := account.Version
		account.Version++
		account.WalletBalance = mustAmount(test, "999.00")
		if err := txStore.UpdateAccount(ctx, account, expected); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		test.Fatalf("expected boom, got %v", err)
	}
	var model Account
	if err := db.Where("user_id = ?", userID.String()).Take(&model).Error; err != nil {
		test.Fatalf("load: %v", err)
	}
	if !model.WalletBalance.IsZero() || model.Version != 1 {
		test.Fatalf("expected rollback, got wallet=%s version=%d", model.WalletBalance, model.Version)
	}
}
