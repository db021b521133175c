package ledger

import (
	"context"
	"fmt"
	"strings"
)

// CanRequestPayout evaluates the payout admission policy without writing anything.
func (service *Service) CanRequestPayout(ctx context.Context, userID UserID, amount PositiveAmount, config PlatformConfig, facts PayoutFacts) (PayoutEligibility, error) {
	account, err := service.Account(ctx, userID)
	if err != nil {
		return PayoutEligibility{}, err
	}
	held, err := service.store.SumHeldPayouts(ctx, userID)
	if err != nil {
		return PayoutEligibility{}, classifyError(err)
	}
	return EvaluatePayout(account, held, amount, config, facts)
}

// RequestPayout re-runs the admission policy under the account lock and records a pending request.
func (service *Service) RequestPayout(ctx context.Context, userID UserID, amount PositiveAmount, details PaymentDetails, idempotencyKey IdempotencyKey, config PlatformConfig, facts PayoutFacts) (PayoutRequest, error) {
	var (
		payout   PayoutRequest
		replayed bool
	)
	operationError := func() error {
		if details == nil {
			return fmt.Errorf("%w: missing details", ErrInvalidPaymentDetails)
		}
		if err := details.Validate(); err != nil {
			return err
		}
		unlock, err := service.locker.LockAccount(ctx, userID)
		if err != nil {
			return classifyError(err)
		}
		defer unlock()
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			existing, found, err := txStore.FindPayoutByIdempotencyKey(ctx, userID, idempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if !existing.Amount.Equal(amount.Amount()) || existing.PaymentMethod() != details.Method() {
					return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, idempotencyKey)
				}
				payout = existing
				replayed = true
				return nil
			}
			account, err := txStore.LockAccount(ctx, userID)
			if err != nil {
				return err
			}
			held, err := txStore.SumHeldPayouts(ctx, userID)
			if err != nil {
				return err
			}
			if _, err := EvaluatePayout(account, held, amount, config, facts); err != nil {
				return err
			}
			payoutID, err := NewPayoutID(service.newPayout())
			if err != nil {
				return err
			}
			nowUTC := service.now().UTC()
			payout = PayoutRequest{
				ID:             payoutID,
				UserID:         userID,
				Amount:         amount.Amount(),
				Status:         PayoutStatusPending,
				Details:        details,
				IdempotencyKey: idempotencyKey,
				CreatedAt:      nowUTC,
				UpdatedAt:      nowUTC,
			}
			return txStore.CreatePayout(ctx, payout)
		})
		return classifyError(err)
	}()
	entry := OperationLog{
		Operation:      operationRequestPayout,
		UserID:         userID,
		Amount:         amount.Amount(),
		PayoutID:       payout.ID,
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	}
	if replayed {
		entry.Status = operationStatusReplayed
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return PayoutRequest{}, operationError
	}
	if !replayed {
		service.publishPayout(ctx, payout)
	}
	return payout, nil
}

// ApprovePayout records admin approval; the amount stays held.
func (service *Service) ApprovePayout(ctx context.Context, payoutID PayoutID, adminID AdminID, note string) (PayoutRequest, error) {
	return service.reviewPayout(ctx, operationApprovePayout, payoutID, PayoutStatusApproved, adminID, note)
}

// RejectPayout closes the request and releases the hold.
func (service *Service) RejectPayout(ctx context.Context, payoutID PayoutID, adminID AdminID, note string) (PayoutRequest, error) {
	return service.reviewPayout(ctx, operationRejectPayout, payoutID, PayoutStatusRejected, adminID, note)
}

// CancelPayout lets the owner withdraw a pending request.
func (service *Service) CancelPayout(ctx context.Context, userID UserID, payoutID PayoutID) (PayoutRequest, error) {
	payout, operationError := service.transitionPayout(ctx, payoutID, func(payout *PayoutRequest) error {
		if payout.UserID != userID {
			return fmt.Errorf("%w: %s", ErrPayoutNotOwned, payoutID)
		}
		return applyPayoutTransition(payout, PayoutStatusCancelled)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCancelPayout,
		UserID:    userID,
		Amount:    payout.Amount,
		PayoutID:  payoutID,
		Error:     operationError,
	})
	return payout, operationError
}

// CompletePayout debits the wallet for the payout and marks it completed in the same store transaction.
func (service *Service) CompletePayout(ctx context.Context, payoutID PayoutID, adminID AdminID, note string) (PayoutRequest, Transaction, error) {
	payout, err := service.store.GetPayout(ctx, payoutID)
	if err != nil {
		operationError := classifyError(err)
		service.logOperation(ctx, OperationLog{Operation: operationCompletePayout, PayoutID: payoutID, Error: operationError})
		return PayoutRequest{}, Transaction{}, operationError
	}
	idempotencyKey, err := deriveIdempotencyKey(idempotencyPrefixPayout, payoutID.String())
	if err != nil {
		return PayoutRequest{}, Transaction{}, err
	}
	var completed PayoutRequest
	transaction, err := service.runMutation(ctx, operationCompletePayout, mutation{
		template: Transaction{
			UserID:          payout.UserID,
			Type:            TransactionWalletDebit,
			Balance:         BalanceWallet,
			Amount:          payout.Amount,
			RelatedPayoutID: payoutID,
			IdempotencyKey:  idempotencyKey,
			Reason:          strings.TrimSpace(note),
			AdminID:         adminID.String(),
		},
		derivedKey: true,
		apply: func(ctx context.Context, txStore Store, account *Account, draft *Transaction) error {
			current, err := txStore.GetPayout(ctx, payoutID)
			if err != nil {
				return err
			}
			from := current.Status
			if err := applyPayoutTransition(&current, PayoutStatusCompleted); err != nil {
				return err
			}
			current.ReviewedBy = adminID.String()
			current.ReviewNote = strings.TrimSpace(note)
			current.TransactionID = draft.ID
			current.UpdatedAt = draft.CreatedAt
			if err := debitWallet(account, current.Amount); err != nil {
				return err
			}
			if err := txStore.UpdatePayout(ctx, current, from); err != nil {
				return err
			}
			completed = current
			return nil
		},
	})
	if err != nil {
		return PayoutRequest{}, Transaction{}, err
	}
	if completed.ID.IsZero() {
		completed, err = service.store.GetPayout(ctx, payoutID)
		if err != nil {
			return PayoutRequest{}, Transaction{}, classifyError(err)
		}
		return completed, transaction, nil
	}
	service.publishPayout(ctx, completed)
	return completed, transaction, nil
}

// GetPayout returns a payout request by id.
func (service *Service) GetPayout(ctx context.Context, payoutID PayoutID) (PayoutRequest, error) {
	payout, err := service.store.GetPayout(ctx, payoutID)
	if err != nil {
		return PayoutRequest{}, classifyError(err)
	}
	return payout, nil
}

// ListPayouts returns the user's payout requests, newest first.
func (service *Service) ListPayouts(ctx context.Context, userID UserID, limit int) ([]PayoutRequest, error) {
	if limit <= 0 {
		limit = defaultTransactionPageLimit
	}
	if limit > maxTransactionPageLimit {
		return nil, fmt.Errorf("%w: limit exceeds maximum: %d > %d", ErrInvalidPage, limit, maxTransactionPageLimit)
	}
	payouts, err := service.store.ListPayouts(ctx, userID, limit)
	if err != nil {
		return nil, classifyError(err)
	}
	return payouts, nil
}

func (service *Service) reviewPayout(ctx context.Context, operation string, payoutID PayoutID, next PayoutStatus, adminID AdminID, note string) (PayoutRequest, error) {
	payout, operationError := service.transitionPayout(ctx, payoutID, func(payout *PayoutRequest) error {
		if err := applyPayoutTransition(payout, next); err != nil {
			return err
		}
		payout.ReviewedBy = adminID.String()
		payout.ReviewNote = strings.TrimSpace(note)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    payout.UserID,
		Amount:    payout.Amount,
		PayoutID:  payoutID,
		Error:     operationError,
	})
	return payout, operationError
}

// transitionPayout changes a payout status under the owner's account lock and
// publishes the result after the lock is released.
func (service *Service) transitionPayout(ctx context.Context, payoutID PayoutID, change func(payout *PayoutRequest) error) (PayoutRequest, error) {
	updated, err := service.transitionPayoutLocked(ctx, payoutID, change)
	if err != nil {
		return PayoutRequest{}, err
	}
	service.publishPayout(ctx, updated)
	return updated, nil
}

func (service *Service) transitionPayoutLocked(ctx context.Context, payoutID PayoutID, change func(payout *PayoutRequest) error) (PayoutRequest, error) {
	payout, err := service.store.GetPayout(ctx, payoutID)
	if err != nil {
		return PayoutRequest{}, classifyError(err)
	}
	unlock, err := service.locker.LockAccount(ctx, payout.UserID)
	if err != nil {
		return PayoutRequest{}, classifyError(err)
	}
	defer unlock()

	var updated PayoutRequest
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		from := current.Status
		if err := change(&current); err != nil {
			return err
		}
		current.UpdatedAt = service.now().UTC()
		if err := txStore.UpdatePayout(ctx, current, from); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return PayoutRequest{}, classifyError(err)
	}
	return updated, nil
}

func applyPayoutTransition(payout *PayoutRequest, next PayoutStatus) error {
	if !payout.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrPayoutClosed, payout.Status, next)
	}
	payout.Status = next
	return nil
}
