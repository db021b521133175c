package ledger

import (
	"context"
	"fmt"
)

// ReplayResult holds balances rebuilt from the transaction log.
type ReplayResult struct {
	WalletBalance Amount
	PostpaidUsed  Amount
	LastSequence  int64
	Transactions  int
}

// Replay folds transactions in sequence order, checking every row's snapshots
// against the running balances.
func Replay(transactions []Transaction) (ReplayResult, error) {
	result := ReplayResult{
		WalletBalance: ZeroAmount(),
		PostpaidUsed:  ZeroAmount(),
	}
	for _, transaction := range transactions {
		if transaction.Sequence <= result.LastSequence {
			return result, fmt.Errorf("%w: sequence %d follows %d", ErrReplayMismatch, transaction.Sequence, result.LastSequence)
		}
		before := result.balance(transaction.Balance)
		if !before.Equal(transaction.BalanceBefore) {
			return result, fmt.Errorf("%w: sequence %d balance_before %s, replayed %s", ErrReplayMismatch, transaction.Sequence, transaction.BalanceBefore, before)
		}
		switch transaction.Type {
		case TransactionWalletCredit:
			result.WalletBalance = result.WalletBalance.Add(transaction.Amount)
		case TransactionWalletDebit:
			result.WalletBalance = result.WalletBalance.Sub(transaction.Amount)
		case TransactionCreditUsed:
			result.PostpaidUsed = result.PostpaidUsed.Add(transaction.Amount)
		case TransactionCreditRepaid:
			result.WalletBalance = result.WalletBalance.Sub(transaction.Amount)
			result.PostpaidUsed = result.PostpaidUsed.Sub(transaction.Amount)
		case TransactionCreditReversed:
			result.PostpaidUsed = result.PostpaidUsed.Sub(transaction.Amount)
		case TransactionAdminAdjustment:
			delta := transaction.BalanceAfter.Sub(transaction.BalanceBefore)
			if !delta.Abs().Equal(transaction.Amount) {
				return result, fmt.Errorf("%w: sequence %d adjustment of %s recorded as %s", ErrReplayMismatch, transaction.Sequence, delta, transaction.Amount)
			}
			result.add(transaction.Balance, delta)
		default:
			return result, fmt.Errorf("%w: %q", ErrInvalidTransactionType, transaction.Type)
		}
		after := result.balance(transaction.Balance)
		if !after.Equal(transaction.BalanceAfter) {
			return result, fmt.Errorf("%w: sequence %d balance_after %s, replayed %s", ErrReplayMismatch, transaction.Sequence, transaction.BalanceAfter, after)
		}
		result.LastSequence = transaction.Sequence
		result.Transactions++
	}
	return result, nil
}

func (result ReplayResult) balance(kind BalanceKind) Amount {
	if kind == BalancePostpaid {
		return result.PostpaidUsed
	}
	return result.WalletBalance
}

func (result *ReplayResult) add(kind BalanceKind, delta Amount) {
	if kind == BalancePostpaid {
		result.PostpaidUsed = result.PostpaidUsed.Add(delta)
		return
	}
	result.WalletBalance = result.WalletBalance.Add(delta)
}

// VerifyReplay rebuilds the account from its log and compares it with the stored row.
func (service *Service) VerifyReplay(ctx context.Context, userID UserID) (ReplayResult, error) {
	account, err := service.Account(ctx, userID)
	if err != nil {
		return ReplayResult{}, err
	}
	transactions, err := service.store.ListTransactionsChronological(ctx, userID)
	if err != nil {
		return ReplayResult{}, classifyError(err)
	}
	result, err := Replay(transactions)
	if err != nil {
		return result, err
	}
	if !result.WalletBalance.Equal(account.WalletBalance) {
		return result, fmt.Errorf("%w: wallet %s, replayed %s", ErrReplayMismatch, account.WalletBalance, result.WalletBalance)
	}
	if !result.PostpaidUsed.Equal(account.PostpaidUsed) {
		return result, fmt.Errorf("%w: postpaid used %s, replayed %s", ErrReplayMismatch, account.PostpaidUsed, result.PostpaidUsed)
	}
	if result.LastSequence != account.LastSequence {
		return result, fmt.Errorf("%w: last sequence %d, replayed %d", ErrReplayMismatch, account.LastSequence, result.LastSequence)
	}
	return result, nil
}
