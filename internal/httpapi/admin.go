package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/settlement/internal/settings"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type accountSettingsRequest struct {
	UserID               string `json:"user_id"`
	PostpaidEnabled      bool   `json:"postpaid_enabled"`
	PostpaidCreditLimit  string `json:"postpaid_credit_limit"`
	PostpaidDueCycleDays int    `json:"postpaid_due_cycle_days"`
	AllowPayoutWithDues  bool   `json:"allow_payout_with_dues"`
}

func (request accountSettingsRequest) settings() (ledger.AccountSettings, error) {
	limit := ledger.ZeroAmount()
	if request.PostpaidCreditLimit != "" {
		parsed, err := ledger.ParseNonNegativeAmount(request.PostpaidCreditLimit)
		if err != nil {
			return ledger.AccountSettings{}, err
		}
		limit = parsed
	}
	settings := ledger.AccountSettings{
		PostpaidEnabled:      request.PostpaidEnabled,
		PostpaidCreditLimit:  limit,
		PostpaidDueCycleDays: request.PostpaidDueCycleDays,
		AllowPayoutWithDues:  request.AllowPayoutWithDues,
	}
	return settings, settings.Validate()
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type adjustmentRequest struct {
	Balance        string `json:"balance"`
	Delta          string `json:"delta"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type walletCreditRequest struct {
	Amount         string          `json:"amount"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type reversalRequest struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type reviewRequest struct {
	Note string `json:"note"`
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

func currentAdmin(ctx *gin.Context) (ledger.AdminID, bool) {
	principal, ok := principalOf(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.AdminID{}, false
	}
	adminID, err := ledger.NewAdminID(principal.UserID)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.AdminID{}, false
	}
	return adminID, true
}

func (handler *Handler) pathUser(ctx *gin.Context, operation string) (ledger.UserID, bool) {
	userID, err := ledger.NewUserID(ctx.Param("user_id"))
	if err != nil {
		handler.respondError(ctx, operation, err)
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *Handler) handleOpenAccount(ctx *gin.Context) {
	var request accountSettingsRequest
	if !bindJSON(ctx, &request) {
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, "open_account", err)
		return
	}
	accountSettings, err := request.settings()
	if err != nil {
		handler.respondError(ctx, "open_account", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.ledgerService.OpenAccount(requestCtx, userID, accountSettings); err != nil {
		handler.respondError(ctx, "open_account", err)
		return
	}
	handler.respondSummary(ctx, userID, http.StatusCreated)
}

func (handler *Handler) handleAdminAccount(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "account")
	if !ok {
		return
	}
	handler.respondSummary(ctx, userID, http.StatusOK)
}

func (handler *Handler) respondSummary(ctx *gin.Context, userID ledger.UserID, httpStatus int) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.ledgerService.Summary(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "account", err)
		return
	}
	ctx.JSON(httpStatus, newAccountResponse(summary))
}

func (handler *Handler) handleConfigurePostpaid(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "configure_postpaid")
	if !ok {
		return
	}
	var request accountSettingsRequest
	if !bindJSON(ctx, &request) {
		return
	}
	accountSettings, err := request.settings()
	if err != nil {
		handler.respondError(ctx, "configure_postpaid", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.ledgerService.ConfigurePostpaid(requestCtx, userID, accountSettings); err != nil {
		handler.respondError(ctx, "configure_postpaid", err)
		return
	}
	handler.respondSummary(ctx, userID, http.StatusOK)
}

func (handler *Handler) handleSetActive(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "set_account_active")
	if !ok {
		return
	}
	var request activeRequest
	if !bindJSON(ctx, &request) {
		return
	}
	if request.Active == nil {
		invalidPayload(ctx)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.ledgerService.SetAccountActive(requestCtx, userID, *request.Active); err != nil {
		handler.respondError(ctx, "set_account_active", err)
		return
	}
	handler.respondSummary(ctx, userID, http.StatusOK)
}

func (handler *Handler) handleAdjustment(ctx *gin.Context) {
	adminID, ok := currentAdmin(ctx)
	if !ok {
		return
	}
	userID, ok := handler.pathUser(ctx, "admin_adjust")
	if !ok {
		return
	}
	var request adjustmentRequest
	if !bindJSON(ctx, &request) {
		return
	}
	kind, err := ledger.ParseBalanceKind(request.Balance)
	if err != nil {
		handler.respondError(ctx, "admin_adjust", err)
		return
	}
	delta, err := ledger.ParseAmount(request.Delta)
	if err != nil {
		handler.respondError(ctx, "admin_adjust", err)
		return
	}
	reason, err := ledger.NewAdjustmentReason(request.Reason)
	if err != nil {
		handler.respondError(ctx, "admin_adjust", err)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "admin_adjust", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.ledgerService.AdminAdjust(requestCtx, userID, kind, delta, reason, adminID, idempotencyKey)
	if err != nil {
		handler.respondError(ctx, "admin_adjust", err)
		return
	}
	ctx.JSON(http.StatusCreated, newTransactionResponse(transaction))
}

func (handler *Handler) handleWalletCredit(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "credit_wallet")
	if !ok {
		return
	}
	var request walletCreditRequest
	if !bindJSON(ctx, &request) {
		return
	}
	amount, err := ledger.ParsePositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "credit_wallet", err)
		return
	}
	source, err := ledger.NewCreditSource(request.Source)
	if err != nil {
		handler.respondError(ctx, "credit_wallet", err)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "credit_wallet", err)
		return
	}
	metadata, err := metadataOf(request.Metadata)
	if err != nil {
		handler.respondError(ctx, "credit_wallet", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.ledgerService.CreditWallet(requestCtx, userID, amount, source, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, "credit_wallet", err)
		return
	}
	ctx.JSON(http.StatusCreated, newTransactionResponse(transaction))
}

func (handler *Handler) handleReversal(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "reverse_postpaid_draw")
	if !ok {
		return
	}
	var request reversalRequest
	if !bindJSON(ctx, &request) {
		return
	}
	orderID, err := ledger.NewOrderID(request.OrderID)
	if err != nil {
		handler.respondError(ctx, "reverse_postpaid_draw", err)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "reverse_postpaid_draw", err)
		return
	}
	metadata, err := metadataOf(request.Metadata)
	if err != nil {
		handler.respondError(ctx, "reverse_postpaid_draw", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.ledgerService.ReversePostpaidDraw(requestCtx, userID, orderID, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, "reverse_postpaid_draw", err)
		return
	}
	ctx.JSON(http.StatusCreated, newTransactionResponse(transaction))
}

func (handler *Handler) handleAdminTransactions(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "list_transactions")
	if !ok {
		return
	}
	handler.listTransactions(ctx, userID)
}

func (handler *Handler) handleVerifyReplay(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx, "verify_replay")
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledgerService.VerifyReplay(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "verify_replay", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"consistent":     true,
		"wallet_balance": result.WalletBalance.String(),
		"postpaid_used":  result.PostpaidUsed.String(),
		"last_sequence":  result.LastSequence,
		"transactions":   result.Transactions,
	})
}

func (handler *Handler) payoutFromPath(ctx *gin.Context, operation string) (ledger.PayoutID, bool) {
	payoutID, err := ledger.NewPayoutID(ctx.Param("payout_id"))
	if err != nil {
		handler.respondError(ctx, operation, err)
		return ledger.PayoutID{}, false
	}
	return payoutID, true
}

func (handler *Handler) handleGetPayout(ctx *gin.Context) {
	payoutID, ok := handler.payoutFromPath(ctx, "get_payout")
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payout, err := handler.ledgerService.GetPayout(requestCtx, payoutID)
	if err != nil {
		handler.respondError(ctx, "get_payout", err)
		return
	}
	ctx.JSON(http.StatusOK, newPayoutResponse(payout))
}

func (handler *Handler) handleApprovePayout(ctx *gin.Context) {
	handler.reviewPayout(ctx, "approve_payout", handler.ledgerService.ApprovePayout)
}

func (handler *Handler) handleRejectPayout(ctx *gin.Context) {
	handler.reviewPayout(ctx, "reject_payout", handler.ledgerService.RejectPayout)
}

func (handler *Handler) reviewPayout(ctx *gin.Context, operation string, review func(ctx context.Context, payoutID ledger.PayoutID, adminID ledger.AdminID, note string) (ledger.PayoutRequest, error)) {
	adminID, ok := currentAdmin(ctx)
	if !ok {
		return
	}
	payoutID, ok := handler.payoutFromPath(ctx, operation)
	if !ok {
		return
	}
	var request reviewRequest
	if !bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payout, err := review(requestCtx, payoutID, adminID, request.Note)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	ctx.JSON(http.StatusOK, newPayoutResponse(payout))
}

func (handler *Handler) handleCompletePayout(ctx *gin.Context) {
	adminID, ok := currentAdmin(ctx)
	if !ok {
		return
	}
	payoutID, ok := handler.payoutFromPath(ctx, "complete_payout")
	if !ok {
		return
	}
	var request reviewRequest
	if !bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payout, transaction, err := handler.ledgerService.CompletePayout(requestCtx, payoutID, adminID, request.Note)
	if err != nil {
		handler.respondError(ctx, "complete_payout", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payout":      newPayoutResponse(payout),
		"transaction": newTransactionResponse(transaction),
	})
}

func (handler *Handler) handleGetSettings(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	config, err := handler.settings.PlatformConfig(requestCtx)
	if err != nil {
		handler.respondError(ctx, "platform_settings", err)
		return
	}
	ctx.JSON(http.StatusOK, newPlatformConfigResponse(config))
}

func (handler *Handler) handlePutSetting(ctx *gin.Context) {
	var request settingRequest
	if !bindJSON(ctx, &request) {
		return
	}
	if len(request.Value) == 0 {
		invalidPayload(ctx)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.settings.Set(requestCtx, ctx.Param("key"), request.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			ctx.JSON(http.StatusNotFound, errorResponse("unknown_setting", "Unknown platform setting"))
			return
		}
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			handler.respondError(ctx, "platform_settings", err)
			return
		}
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_setting", err.Error()))
		return
	}
	handler.handleGetSettings(ctx)
}
