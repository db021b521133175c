package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func statusForReason(reason ledger.Reason) int {
	switch reason {
	case ledger.ReasonInvalidAmount, ledger.ReasonInvalidArgument:
		return http.StatusBadRequest
	case ledger.ReasonAccountNotFound, ledger.ReasonPayoutNotFound, ledger.ReasonPayoutNotOwned, ledger.ReasonDrawNotFound:
		return http.StatusNotFound
	case ledger.ReasonAccountExists, ledger.ReasonDuplicateIdempotencyKey, ledger.ReasonDrawAlreadyReversed, ledger.ReasonPayoutClosed:
		return http.StatusConflict
	case ledger.ReasonStorageUnavailable, ledger.ReasonAccountBusy, ledger.ReasonVersionConflict:
		return http.StatusServiceUnavailable
	case ledger.ReasonInternal, ledger.ReasonReplayMismatch, ledger.ReasonInvalidPlatformConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (handler *Handler) respondError(ctx *gin.Context, operation string, err error) {
	reason := ledger.ReasonOf(err)
	httpStatus := statusForReason(reason)
	if httpStatus >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("operation", operation), zap.String("reason", reason.String()), zap.Error(err))
	}
	ctx.JSON(httpStatus, errorResponse(reason.String(), reason.Message()))
}

func invalidPayload(ctx *gin.Context) {
	ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
}

type accountResponse struct {
	UserID               string `json:"user_id"`
	WalletBalance        string `json:"wallet_balance"`
	PostpaidEnabled      bool   `json:"postpaid_enabled"`
	PostpaidCreditLimit  string `json:"postpaid_credit_limit"`
	PostpaidUsed         string `json:"postpaid_used"`
	PostpaidDueCycleDays int    `json:"postpaid_due_cycle_days"`
	AllowPayoutWithDues  bool   `json:"allow_payout_with_dues"`
	IsActive             bool   `json:"is_active"`
	AvailableCredit      string `json:"available_credit"`
	OutstandingDues      string `json:"outstanding_dues"`
	CreditUsagePercent   string `json:"credit_usage_percent"`
	HeldPayouts          string `json:"held_payouts"`
	WithdrawableBalance  string `json:"withdrawable_balance"`
}

func newAccountResponse(summary ledger.AccountSummary) accountResponse {
	account := summary.Account
	return accountResponse{
		UserID:               account.UserID.String(),
		WalletBalance:        account.WalletBalance.String(),
		PostpaidEnabled:      account.PostpaidEnabled,
		PostpaidCreditLimit:  account.PostpaidCreditLimit.String(),
		PostpaidUsed:         account.PostpaidUsed.String(),
		PostpaidDueCycleDays: account.PostpaidDueCycleDays,
		AllowPayoutWithDues:  account.AllowPayoutWithDues,
		IsActive:             account.IsActive,
		AvailableCredit:      summary.AvailableCredit.String(),
		OutstandingDues:      summary.OutstandingDues.String(),
		CreditUsagePercent:   summary.CreditUsagePercent.StringFixed(2),
		HeldPayouts:          summary.HeldPayouts.String(),
		WithdrawableBalance:  summary.WithdrawableBalance.String(),
	}
}

type transactionResponse struct {
	TransactionID   string          `json:"transaction_id"`
	Sequence        int64           `json:"sequence"`
	Type            string          `json:"type"`
	Balance         string          `json:"balance"`
	Amount          string          `json:"amount"`
	BalanceBefore   string          `json:"balance_before"`
	BalanceAfter    string          `json:"balance_after"`
	RelatedOrderID  string          `json:"related_order_id,omitempty"`
	RelatedPayoutID string          `json:"related_payout_id,omitempty"`
	Source          string          `json:"source,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	AdminID         string          `json:"admin_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newTransactionResponse(transaction ledger.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:   transaction.ID.String(),
		Sequence:        transaction.Sequence,
		Type:            transaction.Type.String(),
		Balance:         transaction.Balance.String(),
		Amount:          transaction.Amount.String(),
		BalanceBefore:   transaction.BalanceBefore.String(),
		BalanceAfter:    transaction.BalanceAfter.String(),
		RelatedOrderID:  transaction.RelatedOrderID.String(),
		RelatedPayoutID: transaction.RelatedPayoutID.String(),
		Source:          transaction.Source,
		Reason:          transaction.Reason,
		AdminID:         transaction.AdminID,
		Metadata:        json.RawMessage(transaction.Metadata.String()),
		CreatedAt:       transaction.CreatedAt.UTC(),
	}
}

func newTransactionList(transactions []ledger.Transaction) gin.H {
	items := make([]transactionResponse, 0, len(transactions))
	for _, transaction := range transactions {
		items = append(items, newTransactionResponse(transaction))
	}
	return gin.H{"transactions": items}
}

type payoutResponse struct {
	PayoutID      string          `json:"payout_id"`
	UserID        string          `json:"user_id"`
	Amount        string          `json:"amount"`
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	Details       json.RawMessage `json:"details"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewNote    string          `json:"review_note,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newPayoutResponse(payout ledger.PayoutRequest) payoutResponse {
	details := json.RawMessage("{}")
	if payout.Details != nil {
		if encoded, err := ledger.MarshalPaymentDetails(payout.Details); err == nil {
			details = encoded
		}
	}
	return payoutResponse{
		PayoutID:      payout.ID.String(),
		UserID:        payout.UserID.String(),
		Amount:        payout.Amount.String(),
		Status:        payout.Status.String(),
		Method:        payout.PaymentMethod().String(),
		Details:       details,
		ReviewedBy:    payout.ReviewedBy,
		ReviewNote:    payout.ReviewNote,
		TransactionID: payout.TransactionID.String(),
		CreatedAt:     payout.CreatedAt.UTC(),
		UpdatedAt:     payout.UpdatedAt.UTC(),
	}
}

type eligibilityResponse struct {
	Allowed             bool   `json:"allowed"`
	Reason              string `json:"reason,omitempty"`
	Message             string `json:"message,omitempty"`
	WalletBalance       string `json:"wallet_balance"`
	HeldPayouts         string `json:"held_payouts"`
	OutstandingDues     string `json:"outstanding_dues"`
	WithdrawableBalance string `json:"withdrawable_balance"`
}

func newEligibilityResponse(eligibility ledger.PayoutEligibility, rejection error) eligibilityResponse {
	response := eligibilityResponse{
		Allowed:             rejection == nil,
		WalletBalance:       eligibility.WalletBalance.String(),
		HeldPayouts:         eligibility.HeldPayouts.String(),
		OutstandingDues:     eligibility.OutstandingDues.String(),
		WithdrawableBalance: eligibility.WithdrawableBalance.String(),
	}
	if rejection != nil {
		reason := ledger.ReasonOf(rejection)
		response.Reason = reason.String()
		response.Message = reason.Message()
	}
	return response
}

func newPlatformConfigResponse(config ledger.PlatformConfig) gin.H {
	return gin.H{
		"payout_enabled":                         config.PayoutEnabled,
		"minimum_payout_amount":                  config.MinimumPayoutAmount.String(),
		"block_payout_on_pending_order_payments": config.BlockPayoutOnPendingOrderPayments,
	}
}
