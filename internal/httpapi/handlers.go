package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type repaymentRequest struct {
	Amount         string          `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type payoutRequestBody struct {
	Amount         string          `json:"amount"`
	Method         string          `json:"method"`
	Details        json.RawMessage `json:"details"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
}

func currentUser(ctx *gin.Context) (ledger.UserID, bool) {
	principal, ok := principalOf(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(principal.UserID)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		invalidPayload(ctx)
		return false
	}
	return true
}

func metadataOf(raw json.RawMessage) (ledger.MetadataJSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ledger.NewMetadataJSON("")
	}
	return ledger.NewMetadataJSON(string(raw))
}

func pageFromQuery(ctx *gin.Context) (ledger.TransactionPage, error) {
	beforeSequence, err := queryInt(ctx, "before_sequence")
	if err != nil {
		return ledger.TransactionPage{}, err
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return ledger.TransactionPage{}, err
	}
	return ledger.NewTransactionPage(beforeSequence, int(limit))
}

func queryInt(ctx *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ledger.ErrInvalidPage
	}
	return value, nil
}

func (handler *Handler) handleAccount(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.ledgerService.Summary(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "account", err)
		return
	}
	ctx.JSON(http.StatusOK, newAccountResponse(summary))
}

func (handler *Handler) handleTransactions(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	handler.listTransactions(ctx, userID)
}

func (handler *Handler) listTransactions(ctx *gin.Context, userID ledger.UserID) {
	page, err := pageFromQuery(ctx)
	if err != nil {
		handler.respondError(ctx, "list_transactions", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.ledgerService.ListTransactions(requestCtx, userID, page)
	if err != nil {
		handler.respondError(ctx, "list_transactions", err)
		return
	}
	ctx.JSON(http.StatusOK, newTransactionList(transactions))
}

func (handler *Handler) handleRepayment(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var request repaymentRequest
	if !bindJSON(ctx, &request) {
		return
	}
	amount, err := ledger.ParsePositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "repay_postpaid", err)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "repay_postpaid", err)
		return
	}
	metadata, err := metadataOf(request.Metadata)
	if err != nil {
		handler.respondError(ctx, "repay_postpaid", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.ledgerService.RepayPostpaid(requestCtx, userID, amount, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, "repay_postpaid", err)
		return
	}
	ctx.JSON(http.StatusCreated, newTransactionResponse(transaction))
}

func (handler *Handler) handleListPayouts(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		handler.respondError(ctx, "list_payouts", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payouts, err := handler.ledgerService.ListPayouts(requestCtx, userID, int(limit))
	if err != nil {
		handler.respondError(ctx, "list_payouts", err)
		return
	}
	items := make([]payoutResponse, 0, len(payouts))
	for _, payout := range payouts {
		items = append(items, newPayoutResponse(payout))
	}
	ctx.JSON(http.StatusOK, gin.H{"payouts": items})
}

// payoutInputs loads the platform config and external facts the payout guard needs.
func (handler *Handler) payoutInputs(ctx context.Context, userID ledger.UserID) (ledger.PlatformConfig, ledger.PayoutFacts, error) {
	config, err := handler.settings.PlatformConfig(ctx)
	if err != nil {
		return ledger.PlatformConfig{}, ledger.PayoutFacts{}, err
	}
	facts, err := handler.facts.PayoutFacts(ctx, userID)
	if err != nil {
		return ledger.PlatformConfig{}, ledger.PayoutFacts{}, err
	}
	return config, facts, nil
}

func (handler *Handler) handlePayoutEligibility(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	amount, err := ledger.ParsePositiveAmount(ctx.Query("amount"))
	if err != nil {
		handler.respondError(ctx, "can_request_payout", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	config, facts, err := handler.payoutInputs(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "can_request_payout", err)
		return
	}
	eligibility, err := handler.ledgerService.CanRequestPayout(requestCtx, userID, amount, config, facts)
	if err != nil && !ledger.IsPayoutRejection(err) {
		handler.respondError(ctx, "can_request_payout", err)
		return
	}
	ctx.JSON(http.StatusOK, newEligibilityResponse(eligibility, err))
}

func (handler *Handler) handleRequestPayout(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var request payoutRequestBody
	if !bindJSON(ctx, &request) {
		return
	}
	amount, err := ledger.ParsePositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	details, err := ledger.ParsePaymentDetails(method, request.Details)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	config, facts, err := handler.payoutInputs(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	payout, err := handler.ledgerService.RequestPayout(requestCtx, userID, amount, details, idempotencyKey, config, facts)
	if err != nil {
		handler.respondError(ctx, "request_payout", err)
		return
	}
	ctx.JSON(http.StatusCreated, newPayoutResponse(payout))
}

func (handler *Handler) handleCancelPayout(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	payoutID, err := ledger.NewPayoutID(ctx.Param("payout_id"))
	if err != nil {
		handler.respondError(ctx, "cancel_payout", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payout, err := handler.ledgerService.CancelPayout(requestCtx, userID, payoutID)
	if err != nil {
		handler.respondError(ctx, "cancel_payout", err)
		return
	}
	ctx.JSON(http.StatusOK, newPayoutResponse(payout))
}
