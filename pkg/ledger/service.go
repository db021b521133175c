package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store. It is the only writer of balances.
type Service struct {
	store     Store
	now       func() time.Time
	logger    OperationLogger
	publisher EventPublisher
	locker    AccountLocker
	newID     func() string
	newPayout func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:     store,
		now:       now,
		locker:    NewLocalAccountLocker(),
		newID:     func() string { return ulid.Make().String() },
		newPayout: uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// AccountSummary is the read model shown on the account page.
type AccountSummary struct {
	Account             Account
	AvailableCredit     Amount
	OutstandingDues     Amount
	CreditUsagePercent  decimal.Decimal
	HeldPayouts         Amount
	WithdrawableBalance Amount
}

// OpenAccount provisions an account with zero balances.
func (service *Service) OpenAccount(ctx context.Context, userID UserID, settings AccountSettings) (Account, error) {
	var account Account
	operationError := settings.Validate()
	if operationError == nil {
		nowUTC := service.now().UTC()
		account = Account{
			UserID:               userID,
			WalletBalance:        ZeroAmount(),
			PostpaidEnabled:      settings.PostpaidEnabled,
			PostpaidCreditLimit:  settings.PostpaidCreditLimit,
			PostpaidUsed:         ZeroAmount(),
			PostpaidDueCycleDays: settings.PostpaidDueCycleDays,
			AllowPayoutWithDues:  settings.AllowPayoutWithDues,
			IsActive:             true,
			Version:              1,
			CreatedAt:            nowUTC,
			UpdatedAt:            nowUTC,
		}
		operationError = classifyError(service.store.CreateAccount(ctx, account))
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		UserID:    userID,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// Account returns the current account row.
func (service *Service) Account(ctx context.Context, userID UserID) (Account, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return Account{}, classifyError(err)
	}
	return account, nil
}

// ConfigurePostpaid updates the admin-controlled postpaid settings.
func (service *Service) ConfigurePostpaid(ctx context.Context, userID UserID, settings AccountSettings) (Account, error) {
	account, operationError := service.updateAccount(ctx, userID, func(account *Account) error {
		if err := settings.Validate(); err != nil {
			return err
		}
		if settings.PostpaidCreditLimit.LessThan(account.PostpaidUsed) {
			return fmt.Errorf("%w: limit %s is below postpaid used %s", ErrInvalidCreditLimit, settings.PostpaidCreditLimit, account.PostpaidUsed)
		}
		account.PostpaidEnabled = settings.PostpaidEnabled
		account.PostpaidCreditLimit = settings.PostpaidCreditLimit
		account.PostpaidDueCycleDays = settings.PostpaidDueCycleDays
		account.AllowPayoutWithDues = settings.AllowPayoutWithDues
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConfigurePostpaid,
		UserID:    userID,
		Amount:    settings.PostpaidCreditLimit,
		Error:     operationError,
	})
	return account, operationError
}

// SetAccountActive soft-enables or soft-disables an account.
func (service *Service) SetAccountActive(ctx context.Context, userID UserID, active bool) (Account, error) {
	account, operationError := service.updateAccount(ctx, userID, func(account *Account) error {
		account.IsActive = active
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetActive,
		UserID:    userID,
		Error:     operationError,
	})
	return account, operationError
}

// CreditWallet adds confirmed funds to the wallet.
func (service *Service) CreditWallet(ctx context.Context, userID UserID, amount PositiveAmount, source CreditSource, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, error) {
	return service.runMutation(ctx, operationCreditWallet, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionWalletCredit,
			Balance:        BalanceWallet,
			Amount:         amount.Amount(),
			IdempotencyKey: idempotencyKey,
			Source:         source.String(),
			Metadata:       metadata,
		},
		apply: func(_ context.Context, _ Store, account *Account, _ *Transaction) error {
			account.WalletBalance = account.WalletBalance.Add(amount.Amount())
			return nil
		},
	})
}

// DebitWallet pays for an order from the wallet.
func (service *Service) DebitWallet(ctx context.Context, userID UserID, amount PositiveAmount, orderID OrderID, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, error) {
	return service.runMutation(ctx, operationDebitWallet, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionWalletDebit,
			Balance:        BalanceWallet,
			Amount:         amount.Amount(),
			RelatedOrderID: orderID,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
		},
		apply: func(ctx context.Context, txStore Store, account *Account, _ *Transaction) error {
			return debitUnheldWallet(ctx, txStore, account, amount.Amount())
		},
	})
}

// DrawPostpaidCredit pays for an order from the postpaid credit line.
func (service *Service) DrawPostpaidCredit(ctx context.Context, userID UserID, amount PositiveAmount, orderID OrderID, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, error) {
	return service.runMutation(ctx, operationDrawPostpaid, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionCreditUsed,
			Balance:        BalancePostpaid,
			Amount:         amount.Amount(),
			RelatedOrderID: orderID,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
		},
		apply: func(_ context.Context, _ Store, account *Account, _ *Transaction) error {
			if !account.PostpaidEnabled {
				return ErrPostpaidDisabled
			}
			if account.AvailableCredit().LessThan(amount.Amount()) {
				return fmt.Errorf("%w: available %s, requested %s", ErrCreditLimitExceeded, account.AvailableCredit(), amount)
			}
			account.PostpaidUsed = account.PostpaidUsed.Add(amount.Amount())
			return nil
		},
	})
}

// RepayPostpaid settles outstanding dues from the wallet.
func (service *Service) RepayPostpaid(ctx context.Context, userID UserID, amount PositiveAmount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, error) {
	return service.runMutation(ctx, operationRepayPostpaid, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionCreditRepaid,
			Balance:        BalancePostpaid,
			Amount:         amount.Amount(),
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
		},
		apply: func(ctx context.Context, txStore Store, account *Account, _ *Transaction) error {
			if account.PostpaidUsed.LessThan(amount.Amount()) {
				return fmt.Errorf("%w: outstanding %s, requested %s", ErrExceedsOutstandingDues, account.PostpaidUsed, amount)
			}
			if err := debitUnheldWallet(ctx, txStore, account, amount.Amount()); err != nil {
				return err
			}
			account.PostpaidUsed = account.PostpaidUsed.Sub(amount.Amount())
			return nil
		},
	})
}

// ReversePostpaidDraw returns the postpaid credit drawn for a cancelled order.
// A draw that was partly repaid is rejected and must be settled with AdminAdjust.
func (service *Service) ReversePostpaidDraw(ctx context.Context, userID UserID, orderID OrderID, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, error) {
	return service.runMutation(ctx, operationReverseDraw, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionCreditReversed,
			Balance:        BalancePostpaid,
			RelatedOrderID: orderID,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
		},
		sameRequest: func(existing Transaction) bool {
			return existing.Type == TransactionCreditReversed && existing.RelatedOrderID == orderID
		},
		apply: func(ctx context.Context, txStore Store, account *Account, draft *Transaction) error {
			related, err := txStore.FindTransactionsByOrder(ctx, userID, orderID)
			if err != nil {
				return err
			}
			drawn := ZeroAmount()
			for _, transaction := range related {
				switch transaction.Type {
				case TransactionCreditReversed:
					return fmt.Errorf("%w: order %s", ErrDrawAlreadyReversed, orderID)
				case TransactionCreditUsed:
					drawn = drawn.Add(transaction.Amount)
				}
			}
			if !drawn.IsPositive() {
				return fmt.Errorf("%w: order %s", ErrDrawNotFound, orderID)
			}
			if account.PostpaidUsed.LessThan(drawn) {
				return fmt.Errorf("%w: outstanding %s, drawn %s", ErrExceedsOutstandingDues, account.PostpaidUsed, drawn)
			}
			account.PostpaidUsed = account.PostpaidUsed.Sub(drawn)
			draft.Amount = drawn
			return nil
		},
	})
}

// AdminAdjust applies a signed correction to the wallet or postpaid balance.
func (service *Service) AdminAdjust(ctx context.Context, userID UserID, kind BalanceKind, delta Amount, reason AdjustmentReason, adminID AdminID, idempotencyKey IdempotencyKey) (Transaction, error) {
	if delta.IsZero() {
		operationError := fmt.Errorf("%w: adjustment delta must not be zero", ErrInvalidAmount)
		service.logOperation(ctx, OperationLog{
			Operation:      operationAdminAdjust,
			UserID:         userID,
			IdempotencyKey: idempotencyKey,
			Error:          operationError,
		})
		return Transaction{}, operationError
	}
	return service.runMutation(ctx, operationAdminAdjust, mutation{
		template: Transaction{
			UserID:         userID,
			Type:           TransactionAdminAdjustment,
			Balance:        kind,
			Amount:         delta.Abs(),
			IdempotencyKey: idempotencyKey,
			Reason:         reason.String(),
			AdminID:        adminID.String(),
		},
		sameRequest: func(existing Transaction) bool {
			return existing.Type == TransactionAdminAdjustment &&
				existing.Balance == kind &&
				existing.BalanceAfter.Sub(existing.BalanceBefore).Equal(delta)
		},
		apply: func(_ context.Context, _ Store, account *Account, _ *Transaction) error {
			switch kind {
			case BalanceWallet:
				account.WalletBalance = account.WalletBalance.Add(delta)
			case BalancePostpaid:
				account.PostpaidUsed = account.PostpaidUsed.Add(delta)
			default:
				return fmt.Errorf("%w: %q", ErrInvalidBalanceKind, kind)
			}
			return nil
		},
	})
}

// AvailableCredit returns limit minus used.
func (service *Service) AvailableCredit(ctx context.Context, userID UserID) (Amount, error) {
	account, err := service.Account(ctx, userID)
	if err != nil {
		return Amount{}, err
	}
	return account.AvailableCredit(), nil
}

// OutstandingDues returns the drawn and unpaid postpaid credit.
func (service *Service) OutstandingDues(ctx context.Context, userID UserID) (Amount, error) {
	account, err := service.Account(ctx, userID)
	if err != nil {
		return Amount{}, err
	}
	return account.OutstandingDues(), nil
}

// Summary returns balances together with derived credit and payout figures.
func (service *Service) Summary(ctx context.Context, userID UserID) (AccountSummary, error) {
	account, err := service.Account(ctx, userID)
	if err != nil {
		return AccountSummary{}, err
	}
	held, err := service.store.SumHeldPayouts(ctx, userID)
	if err != nil {
		return AccountSummary{}, classifyError(err)
	}
	return AccountSummary{
		Account:             account,
		AvailableCredit:     account.AvailableCredit(),
		OutstandingDues:     account.OutstandingDues(),
		CreditUsagePercent:  account.CreditUsagePercent(),
		HeldPayouts:         held,
		WithdrawableBalance: WithdrawableBalance(account, held),
	}, nil
}

// ListTransactions returns a page of the account's log, newest first.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, page TransactionPage) ([]Transaction, error) {
	if _, err := service.Account(ctx, userID); err != nil {
		return nil, err
	}
	transactions, err := service.store.ListTransactions(ctx, userID, page)
	if err != nil {
		return nil, classifyError(err)
	}
	return transactions, nil
}

// mutation describes one balance change written together with its log row.
type mutation struct {
	template    Transaction
	derivedKey  bool
	sameRequest func(existing Transaction) bool
	apply       func(ctx context.Context, txStore Store, account *Account, draft *Transaction) error
}

func (request mutation) matches(existing Transaction) bool {
	if request.sameRequest != nil {
		return request.sameRequest(existing)
	}
	return existing.Type == request.template.Type &&
		existing.Balance == request.template.Balance &&
		existing.Amount.Equal(request.template.Amount) &&
		existing.RelatedOrderID == request.template.RelatedOrderID &&
		existing.RelatedPayoutID == request.template.RelatedPayoutID
}

func (service *Service) runMutation(ctx context.Context, operation string, request mutation) (Transaction, error) {
	var (
		transaction    Transaction
		replayed       bool
		operationError error
	)
	if !request.derivedKey && request.template.IdempotencyKey.IsReserved() {
		operationError = fmt.Errorf("%w: prefix of %q is reserved", ErrInvalidIdempotencyKey, request.template.IdempotencyKey)
	} else {
		transaction, replayed, operationError = service.mutate(ctx, request)
	}
	entry := OperationLog{
		Operation:      operation,
		UserID:         request.template.UserID,
		Amount:         request.template.Amount,
		OrderID:        request.template.RelatedOrderID,
		PayoutID:       request.template.RelatedPayoutID,
		TransactionID:  transaction.ID,
		IdempotencyKey: request.template.IdempotencyKey,
		Error:          operationError,
	}
	if operationError == nil {
		entry.Amount = transaction.Amount
	}
	if replayed {
		entry.Status = operationStatusReplayed
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return Transaction{}, operationError
	}
	if !replayed {
		service.publishTransaction(ctx, transaction)
	}
	return transaction, nil
}

// mutate holds the account lock across a store transaction that checks the
// idempotency key, applies the change, verifies invariants and appends the log row.
// Events are published by the caller once the lock is released.
func (service *Service) mutate(ctx context.Context, request mutation) (Transaction, bool, error) {
	unlock, err := service.locker.LockAccount(ctx, request.template.UserID)
	if err != nil {
		return Transaction{}, false, classifyError(err)
	}
	defer unlock()

	var (
		transaction Transaction
		replayed    bool
	)
	for attempt := 1; ; attempt++ {
		transaction, replayed, err = service.mutateOnce(ctx, request)
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxVersionConflictRetries {
			break
		}
	}
	if err != nil {
		return Transaction{}, false, classifyError(err)
	}
	return transaction, replayed, nil
}

func (service *Service) mutateOnce(ctx context.Context, request mutation) (Transaction, bool, error) {
	var (
		result   Transaction
		replayed bool
	)
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		userID := request.template.UserID
		existing, found, err := txStore.FindTransactionByIdempotencyKey(ctx, userID, request.template.IdempotencyKey)
		if err != nil {
			return err
		}
		if found {
			if !request.matches(existing) {
				return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, request.template.IdempotencyKey)
			}
			result = existing
			replayed = true
			return nil
		}
		account, err := txStore.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if !account.IsActive {
			return ErrAccountInactive
		}
		before := account
		nowUTC := service.now().UTC()
		draft := request.template
		draft.ID = TransactionID{value: service.newID()}
		draft.CreatedAt = nowUTC
		if err := request.apply(ctx, txStore, &account, &draft); err != nil {
			return err
		}
		if err := account.CheckInvariants(); err != nil {
			return err
		}
		account.Version = before.Version + 1
		account.LastSequence = before.LastSequence + 1
		account.UpdatedAt = nowUTC
		draft.Sequence = account.LastSequence
		draft.BalanceBefore = before.Balance(draft.Balance)
		draft.BalanceAfter = account.Balance(draft.Balance)
		if err := txStore.UpdateAccount(ctx, account, before.Version); err != nil {
			return err
		}
		if err := txStore.AppendTransaction(ctx, draft); err != nil {
			return err
		}
		result = draft
		return nil
	})
	if err != nil {
		return Transaction{}, false, err
	}
	return result, replayed, nil
}

// updateAccount changes account settings without writing a log row.
func (service *Service) updateAccount(ctx context.Context, userID UserID, change func(account *Account) error) (Account, error) {
	unlock, err := service.locker.LockAccount(ctx, userID)
	if err != nil {
		return Account{}, classifyError(err)
	}
	defer unlock()

	var updated Account
	for attempt := 1; ; attempt++ {
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			account, err := txStore.LockAccount(ctx, userID)
			if err != nil {
				return err
			}
			expectedVersion := account.Version
			if err := change(&account); err != nil {
				return err
			}
			if err := account.CheckInvariants(); err != nil {
				return err
			}
			account.Version = expectedVersion + 1
			account.UpdatedAt = service.now().UTC()
			if err := txStore.UpdateAccount(ctx, account, expectedVersion); err != nil {
				return err
			}
			updated = account
			return nil
		})
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxVersionConflictRetries {
			break
		}
	}
	if err != nil {
		return Account{}, classifyError(err)
	}
	return updated, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	if entry.Error != nil {
		entry.Reason = ReasonOf(entry.Error)
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) publishTransaction(ctx context.Context, transaction Transaction) {
	if service.publisher == nil {
		return
	}
	service.publisher.PublishTransaction(ctx, transaction)
}

func (service *Service) publishPayout(ctx context.Context, payout PayoutRequest) {
	if service.publisher == nil {
		return
	}
	service.publisher.PublishPayout(ctx, payout)
}

// debitUnheldWallet spends only funds not reserved by pending or approved payouts.
func debitUnheldWallet(ctx context.Context, txStore Store, account *Account, amount Amount) error {
	held, err := txStore.SumHeldPayouts(ctx, account.UserID)
	if err != nil {
		return err
	}
	if spendable := account.WalletBalance.Sub(held); spendable.LessThan(amount) {
		return fmt.Errorf("%w: wallet %s, held for payouts %s, requested %s", ErrInsufficientBalance, account.WalletBalance, held, amount)
	}
	return debitWallet(account, amount)
}

func debitWallet(account *Account, amount Amount) error {
	if account.WalletBalance.LessThan(amount) {
		return fmt.Errorf("%w: wallet %s, requested %s", ErrInsufficientBalance, account.WalletBalance, amount)
	}
	account.WalletBalance = account.WalletBalance.Sub(amount)
	return nil
}

func deriveIdempotencyKey(prefix string, subject string) (IdempotencyKey, error) {
	return NewIdempotencyKey(prefix + idempotencyKeyDelimiter + subject)
}
