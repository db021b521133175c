package ledger

const (
	operationOpenAccount       = "open_account"
	operationConfigurePostpaid = "configure_postpaid"
	operationSetActive         = "set_active"
	operationCreditWallet      = "credit_wallet"
	operationDebitWallet       = "debit_wallet"
	operationDrawPostpaid      = "draw_postpaid"
	operationRepayPostpaid     = "repay_postpaid"
	operationReverseDraw       = "reverse_postpaid_draw"
	operationAdminAdjust       = "admin_adjust"
	operationRequestPayout     = "request_payout"
	operationApprovePayout     = "approve_payout"
	operationCompletePayout    = "complete_payout"
	operationRejectPayout      = "reject_payout"
	operationCancelPayout      = "cancel_payout"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	idempotencyKeyDelimiter = ":"
	idempotencyPrefixPayout = "payout"

	defaultTransactionPageLimit = 50
	maxTransactionPageLimit     = 200
	maxVersionConflictRetries   = 3
	maxPaymentDetailLength      = 256
)
