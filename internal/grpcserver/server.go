package grpcserver

import (
	"context"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PlatformConfigSource supplies the payout settings in effect.
type PlatformConfigSource interface {
	PlatformConfig(ctx context.Context) (ledger.PlatformConfig, error)
}

// PayoutFactsSource supplies KYC and unpaid-order facts for a user.
type PayoutFactsSource interface {
	PayoutFacts(ctx context.Context, userID ledger.UserID) (ledger.PayoutFacts, error)
}

// LedgerServer exposes the settlement ledger over gRPC.
type LedgerServer struct {
	ledgerService *ledger.Service
	configSource  PlatformConfigSource
	factsSource   PayoutFactsSource
}

// NewLedgerServer constructs a gRPC server for the ledger service.
func NewLedgerServer(ledgerService *ledger.Service, configSource PlatformConfigSource, factsSource PayoutFactsSource) *LedgerServer {
	return &LedgerServer{ledgerService: ledgerService, configSource: configSource, factsSource: factsSource}
}

func (server *LedgerServer) GetAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := fieldsOf(request).userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	summary, err := server.ledgerService.Summary(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(summaryDocument(summary))
}

func (server *LedgerServer) CreditWallet(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := fields.positiveAmount("amount")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	source, err := ledger.NewCreditSource(fields.text("source"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := fields.idempotencyKey()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := fields.metadata()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.ledgerService.CreditWallet(ctx, userID, amount, source, idempotencyKey, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(transactionDocument(transaction))
}

func (server *LedgerServer) DebitWallet(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return server.orderPayment(ctx, request, server.ledgerService.DebitWallet)
}

func (server *LedgerServer) DrawPostpaidCredit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return server.orderPayment(ctx, request, server.ledgerService.DrawPostpaidCredit)
}

type orderPaymentCall func(ctx context.Context, userID ledger.UserID, amount ledger.PositiveAmount, orderID ledger.OrderID, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.Transaction, error)

func (server *LedgerServer) orderPayment(ctx context.Context, request *structpb.Struct, call orderPaymentCall) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := fields.positiveAmount("amount")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	orderID, err := fields.orderID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := fields.idempotencyKey()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := fields.metadata()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := call(ctx, userID, amount, orderID, idempotencyKey, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(transactionDocument(transaction))
}

func (server *LedgerServer) RepayPostpaid(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := fields.positiveAmount("amount")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := fields.idempotencyKey()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := fields.metadata()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.ledgerService.RepayPostpaid(ctx, userID, amount, idempotencyKey, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(transactionDocument(transaction))
}

func (server *LedgerServer) ReversePostpaidDraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	orderID, err := fields.orderID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := fields.idempotencyKey()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := fields.metadata()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.ledgerService.ReversePostpaidDraw(ctx, userID, orderID, idempotencyKey, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(transactionDocument(transaction))
}

func (server *LedgerServer) AdminAdjust(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	kind, err := ledger.ParseBalanceKind(fields.text("balance"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	delta, err := fields.signedAmount("delta")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reason, err := ledger.NewAdjustmentReason(fields.text("reason"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	adminID, err := ledger.NewAdminID(fields.text("admin_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := fields.idempotencyKey()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.ledgerService.AdminAdjust(ctx, userID, kind, delta, reason, adminID, idempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return respond(transactionDocument(transaction))
}

func (server *LedgerServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	beforeSequence, err := fields.integer("before_sequence")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := fields.integer("limit")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	page, err := ledger.NewTransactionPage(beforeSequence, int(limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactions, err := server.ledgerService.ListTransactions(ctx, userID, page)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	documents := make([]any, 0, len(transactions))
	for _, transaction := range transactions {
		documents = append(documents, transactionDocument(transaction))
	}
	return respond(map[string]any{"transactions": documents})
}

func (server *LedgerServer) CanRequestPayout(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := fieldsOf(request)
	userID, err := fields.userID()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := fields.positiveAmount("amount")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	config, err := server.configSource.PlatformConfig(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	facts, err := server.factsSource.PayoutFacts(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	eligibility, err := server.ledgerService.CanRequestPayout(ctx, userID, amount, config, facts)
	if err != nil && !ledger.IsPayoutRejection(err) {
		return nil, mapToGRPCError(err)
	}
	return respond(eligibilityDocument(eligibility, err))
}

func respond(document map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(document)
	if err != nil {
		return nil, status.Error(codes.Internal, ledger.ReasonInternal.String())
	}
	return response, nil
}

// mapToGRPCError renders ledger failures as status errors whose message is the reason code.
func mapToGRPCError(source error) error {
	reason := ledger.ReasonOf(source)
	switch reason {
	case ledger.ReasonInvalidAmount, ledger.ReasonInvalidArgument:
		return status.Error(codes.InvalidArgument, reason.String())
	case ledger.ReasonAccountNotFound, ledger.ReasonPayoutNotFound, ledger.ReasonPayoutNotOwned, ledger.ReasonDrawNotFound:
		return status.Error(codes.NotFound, reason.String())
	case ledger.ReasonAccountExists, ledger.ReasonDuplicateIdempotencyKey, ledger.ReasonDrawAlreadyReversed:
		return status.Error(codes.AlreadyExists, reason.String())
	case ledger.ReasonStorageUnavailable, ledger.ReasonAccountBusy, ledger.ReasonVersionConflict:
		return status.Error(codes.Unavailable, reason.String())
	case ledger.ReasonInternal, ledger.ReasonReplayMismatch, ledger.ReasonInvalidPlatformConfig:
		return status.Error(codes.Internal, reason.String())
	default:
		return status.Error(codes.FailedPrecondition, reason.String())
	}
}
