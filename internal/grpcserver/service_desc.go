package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "settlement.ledger.v1.LedgerService"

// Method names exposed by LedgerService.
const (
	MethodGetAccount          = "GetAccount"
	MethodCreditWallet        = "CreditWallet"
	MethodDebitWallet         = "DebitWallet"
	MethodDrawPostpaidCredit  = "DrawPostpaidCredit"
	MethodRepayPostpaid       = "RepayPostpaid"
	MethodReversePostpaidDraw = "ReversePostpaidDraw"
	MethodAdminAdjust         = "AdminAdjust"
	MethodListTransactions    = "ListTransactions"
	MethodCanRequestPayout    = "CanRequestPayout"
)

// LedgerServiceServer is the server API; requests and responses are google.protobuf.Struct
// documents with decimal amounts encoded as strings.
type LedgerServiceServer interface {
	GetAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	CreditWallet(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	DebitWallet(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	DrawPostpaidCredit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	RepayPostpaid(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ReversePostpaidDraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	AdminAdjust(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	CanRequestPayout(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(server LedgerServiceServer, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := new(structpb.Struct)
			if err := dec(request); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// FullMethod returns the invoke path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes LedgerService for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodGetAccount, LedgerServiceServer.GetAccount),
		methodDesc(MethodCreditWallet, LedgerServiceServer.CreditWallet),
		methodDesc(MethodDebitWallet, LedgerServiceServer.DebitWallet),
		methodDesc(MethodDrawPostpaidCredit, LedgerServiceServer.DrawPostpaidCredit),
		methodDesc(MethodRepayPostpaid, LedgerServiceServer.RepayPostpaid),
		methodDesc(MethodReversePostpaidDraw, LedgerServiceServer.ReversePostpaidDraw),
		methodDesc(MethodAdminAdjust, LedgerServiceServer.AdminAdjust),
		methodDesc(MethodListTransactions, LedgerServiceServer.ListTransactions),
		methodDesc(MethodCanRequestPayout, LedgerServiceServer.CanRequestPayout),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer registers server with registrar.
func RegisterLedgerServiceServer(registrar grpc.ServiceRegistrar, server LedgerServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

// Client invokes LedgerService over a connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with request.
func (client *Client) Call(ctx context.Context, method string, request map[string]any, options ...grpc.CallOption) (*structpb.Struct, error) {
	input, err := structpb.NewStruct(request)
	if err != nil {
		return nil, err
	}
	output := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, FullMethod(method), input, output, options...); err != nil {
		return nil, err
	}
	return output, nil
}
