package grpcserver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"google.golang.org/protobuf/types/known/structpb"
)

type requestFields struct {
	fields map[string]*structpb.Value
}

func fieldsOf(request *structpb.Struct) requestFields {
	return requestFields{fields: request.GetFields()}
}

func (request requestFields) text(name string) string {
	value, ok := request.fields[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

// integer accepts a JSON number or a numeric string; a missing field is zero.
func (request requestFields) integer(name string) (int64, error) {
	value, ok := request.fields[name]
	if !ok {
		return 0, nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		number := kind.NumberValue
		if number != math.Trunc(number) {
			return 0, fmt.Errorf("%w: %s must be an integer", ledger.ErrInvalidPage, name)
		}
		return int64(number), nil
	case *structpb.Value_StringValue:
		parsed, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ledger.ErrInvalidPage, name)
		}
		return parsed, nil
	case *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ledger.ErrInvalidPage, name)
	}
}

func (request requestFields) userID() (ledger.UserID, error) {
	return ledger.NewUserID(request.text("user_id"))
}

func (request requestFields) idempotencyKey() (ledger.IdempotencyKey, error) {
	return ledger.NewIdempotencyKey(request.text("idempotency_key"))
}

func (request requestFields) orderID() (ledger.OrderID, error) {
	return ledger.NewOrderID(request.text("order_id"))
}

func (request requestFields) metadata() (ledger.MetadataJSON, error) {
	return ledger.NewMetadataJSON(request.text("metadata_json"))
}

// positiveAmount requires a decimal string so binary floats never reach the ledger.
func (request requestFields) positiveAmount(name string) (ledger.PositiveAmount, error) {
	if err := request.requireString(name); err != nil {
		return ledger.PositiveAmount{}, err
	}
	return ledger.ParsePositiveAmount(request.text(name))
}

func (request requestFields) signedAmount(name string) (ledger.Amount, error) {
	if err := request.requireString(name); err != nil {
		return ledger.Amount{}, err
	}
	return ledger.ParseAmount(request.text(name))
}

func (request requestFields) requireString(name string) error {
	value, ok := request.fields[name]
	if !ok {
		return fmt.Errorf("%w: %s is required", ledger.ErrInvalidAmount, name)
	}
	if _, isString := value.GetKind().(*structpb.Value_StringValue); !isString {
		return fmt.Errorf("%w: %s must be a decimal string", ledger.ErrInvalidAmount, name)
	}
	return nil
}

func transactionDocument(transaction ledger.Transaction) map[string]any {
	return map[string]any{
		"transaction_id":    transaction.ID.String(),
		"user_id":           transaction.UserID.String(),
		"sequence":          transaction.Sequence,
		"type":              transaction.Type.String(),
		"balance":           transaction.Balance.String(),
		"amount":            transaction.Amount.String(),
		"balance_before":    transaction.BalanceBefore.String(),
		"balance_after":     transaction.BalanceAfter.String(),
		"related_order_id":  transaction.RelatedOrderID.String(),
		"related_payout_id": transaction.RelatedPayoutID.String(),
		"idempotency_key":   transaction.IdempotencyKey.String(),
		"source":            transaction.Source,
		"reason":            transaction.Reason,
		"admin_id":          transaction.AdminID,
		"metadata_json":     transaction.Metadata.String(),
		"created_at":        transaction.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func summaryDocument(summary ledger.AccountSummary) map[string]any {
	account := summary.Account
	return map[string]any{
		"user_id":                 account.UserID.String(),
		"wallet_balance":          account.WalletBalance.String(),
		"postpaid_enabled":        account.PostpaidEnabled,
		"postpaid_credit_limit":   account.PostpaidCreditLimit.String(),
		"postpaid_used":           account.PostpaidUsed.String(),
		"postpaid_due_cycle_days": account.PostpaidDueCycleDays,
		"allow_payout_with_dues":  account.AllowPayoutWithDues,
		"is_active":               account.IsActive,
		"available_credit":        summary.AvailableCredit.String(),
		"outstanding_dues":        summary.OutstandingDues.String(),
		"credit_usage_percent":    summary.CreditUsagePercent.StringFixed(2),
		"held_payouts":            summary.HeldPayouts.String(),
		"withdrawable_balance":    summary.WithdrawableBalance.String(),
		"version":                 account.Version,
		"last_sequence":           account.LastSequence,
	}
}

func eligibilityDocument(eligibility ledger.PayoutEligibility, rejection error) map[string]any {
	reason := ledger.ReasonOf(rejection)
	document := map[string]any{
		"allowed":              rejection == nil,
		"wallet_balance":       eligibility.WalletBalance.String(),
		"held_payouts":         eligibility.HeldPayouts.String(),
		"outstanding_dues":     eligibility.OutstandingDues.String(),
		"withdrawable_balance": eligibility.WithdrawableBalance.String(),
		"reason":               reason.String(),
		"message":              "",
	}
	if rejection != nil {
		document["message"] = reason.Message()
	}
	return document
}
