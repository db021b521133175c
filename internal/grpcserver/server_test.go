package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufconnSize    = 1 << 20
	testSigningKey = "service-signing-key"
	testIssuer     = "settlement-tests"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

type staticConfig struct {
	config ledger.PlatformConfig
}

func (source staticConfig) PlatformConfig(context.Context) (ledger.PlatformConfig, error) {
	return source.config, nil
}

type staticFacts struct {
	facts ledger.PayoutFacts
}

func (source staticFacts) PayoutFacts(context.Context, ledger.UserID) (ledger.PayoutFacts, error) {
	return source.facts, nil
}

type testHarness struct {
	client  *Client
	service *ledger.Service
}

func startLedgerClient(test *testing.T, options ...grpc.ServerOption) testHarness {
	test.Helper()
	service, err := ledger.NewService(memstore.New(), func() time.Time { return testNow })
	if err != nil {
		test.Fatalf("ledger service init failed: %v", err)
	}
	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(options...)
	RegisterLedgerServiceServer(grpcServer, NewLedgerServer(
		service,
		staticConfig{config: ledger.DefaultPlatformConfig()},
		staticFacts{facts: ledger.PayoutFacts{KYCApproved: true}},
	))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	conn.Connect()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := waitForClientReady(waitCtx, conn); err != nil {
		test.Fatalf("gRPC client failed to connect: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return testHarness{client: NewClient(conn), service: service}
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}

func openPostpaidAccount(test *testing.T, service *ledger.Service, raw string) {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	limit, err := ledger.ParseNonNegativeAmount("100.00")
	if err != nil {
		test.Fatalf("limit: %v", err)
	}
	settings := ledger.AccountSettings{PostpaidEnabled: true, PostpaidCreditLimit: limit, PostpaidDueCycleDays: 30}
	if _, err := service.OpenAccount(context.Background(), userID, settings); err != nil {
		test.Fatalf("open account: %v", err)
	}
}

func requireCode(test *testing.T, err error, code codes.Code, message string) {
	test.Helper()
	if err == nil {
		test.Fatalf("expected %s error", code)
	}
	statusErr, ok := status.FromError(err)
	if !ok {
		test.Fatalf("expected grpc status, got %v", err)
	}
	if statusErr.Code() != code || statusErr.Message() != message {
		test.Fatalf("expected %s/%s, got %s/%s", code, message, statusErr.Code(), statusErr.Message())
	}
}

func TestLedgerServerSettlementFlow(test *testing.T) {
	test.Parallel()
	harness := startLedgerClient(test)
	openPostpaidAccount(test, harness.service, "seller-1")
	ctx := context.Background()

	calls := []struct {
		method  string
		request map[string]any
	}{
		{method: MethodCreditWallet, request: map[string]any{"user_id": "seller-1", "amount": "80.50", "source": "order_settlement", "idempotency_key": "credit-1"}},
		{method: MethodDrawPostpaidCredit, request: map[string]any{"user_id": "seller-1", "amount": "50", "order_id": "order-1", "idempotency_key": "draw-1", "metadata_json": `{"channel":"checkout"}`}},
		{method: MethodRepayPostpaid, request: map[string]any{"user_id": "seller-1", "amount": "30.00", "idempotency_key": "repay-1"}},
	}
	for _, call := range calls {
		response, err := harness.client.Call(ctx, call.method, call.request)
		if err != nil {
			test.Fatalf("%s: %v", call.method, err)
		}
		if response.GetFields()["transaction_id"].GetStringValue() == "" {
			test.Fatalf("%s: expected transaction id", call.method)
		}
	}

	account, err := harness.client.Call(ctx, MethodGetAccount, map[string]any{"user_id": "seller-1"})
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	expected := map[string]string{
		"wallet_balance":       "50.50",
		"postpaid_used":        "20.00",
		"available_credit":     "80.00",
		"outstanding_dues":     "20.00",
		"credit_usage_percent": "20.00",
	}
	for field, want := range expected {
		if got := account.GetFields()[field].GetStringValue(); got != want {
			test.Fatalf("%s: expected %s, got %s", field, want, got)
		}
	}

	listed, err := harness.client.Call(ctx, MethodListTransactions, map[string]any{"user_id": "seller-1", "limit": 2})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	transactions := listed.GetFields()["transactions"].GetListValue().GetValues()
	if len(transactions) != 2 {
		test.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	newest := transactions[0].GetStructValue().GetFields()
	if newest["type"].GetStringValue() != ledger.TransactionCreditRepaid.String() || newest["sequence"].GetNumberValue() != 3 {
		test.Fatalf("unexpected newest transaction %v", newest)
	}
}

func TestLedgerServerErrorMapping(test *testing.T) {
	test.Parallel()
	harness := startLedgerClient(test)
	openPostpaidAccount(test, harness.service, "seller-2")
	ctx := context.Background()

	cases := []struct {
		name    string
		method  string
		request map[string]any
		code    codes.Code
		message string
	}{
		{
			name:    "float amount",
			method:  MethodDebitWallet,
			request: map[string]any{"user_id": "seller-2", "amount": 10.5, "order_id": "order-1", "idempotency_key": "debit-1"},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidAmount.String(),
		},
		{
			name:    "three decimals",
			method:  MethodDebitWallet,
			request: map[string]any{"user_id": "seller-2", "amount": "1.005", "order_id": "order-1", "idempotency_key": "debit-1"},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidAmount.String(),
		},
		{
			name:    "huge exponent",
			method:  MethodCreditWallet,
			request: map[string]any{"user_id": "seller-2", "amount": "1e2000000", "source": "payment_proof", "idempotency_key": "credit-1"},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidAmount.String(),
		},
		{
			name:    "reserved idempotency key",
			method:  MethodRepayPostpaid,
			request: map[string]any{"user_id": "seller-2", "amount": "1.00", "idempotency_key": "payout:anything"},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidArgument.String(),
		},
		{
			name:    "insufficient wallet",
			method:  MethodDebitWallet,
			request: map[string]any{"user_id": "seller-2", "amount": "10.00", "order_id": "order-1", "idempotency_key": "debit-1"},
			code:    codes.FailedPrecondition,
			message: ledger.ReasonInsufficientBalance.String(),
		},
		{
			name:    "over credit limit",
			method:  MethodDrawPostpaidCredit,
			request: map[string]any{"user_id": "seller-2", "amount": "100.01", "order_id": "order-2", "idempotency_key": "draw-1"},
			code:    codes.FailedPrecondition,
			message: ledger.ReasonCreditLimitExceeded.String(),
		},
		{
			name:    "unknown account",
			method:  MethodGetAccount,
			request: map[string]any{"user_id": "nobody"},
			code:    codes.NotFound,
			message: ledger.ReasonAccountNotFound.String(),
		},
		{
			name:    "missing draw",
			method:  MethodReversePostpaidDraw,
			request: map[string]any{"user_id": "seller-2", "order_id": "order-9", "idempotency_key": "reverse-1"},
			code:    codes.NotFound,
			message: ledger.ReasonDrawNotFound.String(),
		},
		{
			name:    "bad balance kind",
			method:  MethodAdminAdjust,
			request: map[string]any{"user_id": "seller-2", "balance": "savings", "delta": "5.00", "reason": "fix", "admin_id": "admin-1", "idempotency_key": "adjust-1"},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidArgument.String(),
		},
		{
			name:    "limit too large",
			method:  MethodListTransactions,
			request: map[string]any{"user_id": "seller-2", "limit": 500},
			code:    codes.InvalidArgument,
			message: ledger.ReasonInvalidArgument.String(),
		},
	}
	for _, testCase := range cases {
		_, err := harness.client.Call(ctx, testCase.method, testCase.request)
		requireCode(test, err, testCase.code, testCase.message)
	}
}

func TestLedgerServerAdminAdjustAndPayoutCheck(test *testing.T) {
	test.Parallel()
	harness := startLedgerClient(test)
	openPostpaidAccount(test, harness.service, "seller-3")
	ctx := context.Background()

	adjusted, err := harness.client.Call(ctx, MethodAdminAdjust, map[string]any{
		"user_id": "seller-3", "balance": "wallet", "delta": "40.00", "reason": "manual correction", "admin_id": "admin-1", "idempotency_key": "adjust-1",
	})
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if adjusted.GetFields()["balance_after"].GetStringValue() != "40.00" {
		test.Fatalf("unexpected adjustment %v", adjusted.GetFields())
	}

	allowed, err := harness.client.Call(ctx, MethodCanRequestPayout, map[string]any{"user_id": "seller-3", "amount": "25.00"})
	if err != nil {
		test.Fatalf("eligible check: %v", err)
	}
	if !allowed.GetFields()["allowed"].GetBoolValue() || allowed.GetFields()["withdrawable_balance"].GetStringValue() != "40.00" {
		test.Fatalf("expected payout allowed, got %v", allowed.GetFields())
	}

	if _, err := harness.client.Call(ctx, MethodDrawPostpaidCredit, map[string]any{
		"user_id": "seller-3", "amount": "10.00", "order_id": "order-1", "idempotency_key": "draw-1",
	}); err != nil {
		test.Fatalf("draw: %v", err)
	}
	blocked, err := harness.client.Call(ctx, MethodCanRequestPayout, map[string]any{"user_id": "seller-3", "amount": "25.00"})
	if err != nil {
		test.Fatalf("blocked check: %v", err)
	}
	fields := blocked.GetFields()
	if fields["allowed"].GetBoolValue() || fields["reason"].GetStringValue() != ledger.ReasonBlockedByDues.String() {
		test.Fatalf("expected dues block, got %v", fields)
	}
	if fields["message"].GetStringValue() != ledger.ReasonBlockedByDues.Message() {
		test.Fatalf("unexpected message %q", fields["message"].GetStringValue())
	}
}

func signServiceToken(test *testing.T, issuer string, expiresAt time.Time) string {
	test.Helper()
	claims := ServiceClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "orders-service",
		IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthUnaryInterceptor(test *testing.T) {
	test.Parallel()
	interceptor, err := AuthUnaryInterceptor(ServiceAuthConfig{
		SigningKey: []byte(testSigningKey),
		Issuer:     testIssuer,
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		test.Fatalf("interceptor: %v", err)
	}
	harness := startLedgerClient(test, grpc.UnaryInterceptor(interceptor))
	openPostpaidAccount(test, harness.service, "seller-4")

	cases := []struct {
		name          string
		authorization string
		code          codes.Code
		message       string
	}{
		{name: "missing", code: codes.Unauthenticated, message: errorMissingToken},
		{name: "not bearer", authorization: "Basic abc", code: codes.Unauthenticated, message: errorMissingToken},
		{name: "garbage", authorization: "Bearer not-a-token", code: codes.Unauthenticated, message: errorInvalidToken},
		{name: "wrong issuer", authorization: "Bearer " + signServiceToken(test, "someone-else", testNow.Add(time.Hour)), code: codes.Unauthenticated, message: errorInvalidToken},
		{name: "expired", authorization: "Bearer " + signServiceToken(test, testIssuer, testNow.Add(-time.Second)), code: codes.Unauthenticated, message: errorExpiredToken},
		{name: "valid", authorization: "Bearer " + signServiceToken(test, testIssuer, testNow.Add(time.Hour)), code: codes.OK},
	}
	for _, testCase := range cases {
		ctx := context.Background()
		if testCase.authorization != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, authorizationMetadataKey, testCase.authorization)
		}
		_, err := harness.client.Call(ctx, MethodGetAccount, map[string]any{"user_id": "seller-4"})
		if testCase.code == codes.OK {
			if err != nil {
				test.Fatalf("%s: unexpected error %v", testCase.name, err)
			}
			continue
		}
		requireCode(test, err, testCase.code, testCase.message)
	}
}

func TestAuthUnaryInterceptorRequiresConfig(test *testing.T) {
	test.Parallel()
	if _, err := AuthUnaryInterceptor(ServiceAuthConfig{Issuer: testIssuer}); err == nil {
		test.Fatalf("expected missing key error")
	}
	if _, err := AuthUnaryInterceptor(ServiceAuthConfig{SigningKey: []byte(testSigningKey)}); err == nil {
		test.Fatalf("expected missing issuer error")
	}
}
