package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "shiftstream.SettlementService"

// SettlementServiceServer is the method set registered under serviceName.
type SettlementServiceServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLinks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveCondition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPair(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateWebhookSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListWebhookSubscriptions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateWebhookSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteWebhookSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInvoices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateInvoiceStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SettlementServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SettlementServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SettlementServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var settlementServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SettlementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("Health", SettlementServiceServer.Health),
		methodDesc("CreateLink", SettlementServiceServer.CreateLink),
		methodDesc("GetLink", SettlementServiceServer.GetLink),
		methodDesc("ListLinks", SettlementServiceServer.ListLinks),
		methodDesc("ListTransactions", SettlementServiceServer.ListTransactions),
		methodDesc("ReconcileLink", SettlementServiceServer.ReconcileLink),
		methodDesc("ReleaseEscrow", SettlementServiceServer.ReleaseEscrow),
		methodDesc("ApproveCondition", SettlementServiceServer.ApproveCondition),
		methodDesc("ResolveTransaction", SettlementServiceServer.ResolveTransaction),
		methodDesc("GetPair", SettlementServiceServer.GetPair),
		methodDesc("CreateAccount", SettlementServiceServer.CreateAccount),
		methodDesc("GetBalance", SettlementServiceServer.GetBalance),
		methodDesc("CreateWebhookSubscription", SettlementServiceServer.CreateWebhookSubscription),
		methodDesc("ListWebhookSubscriptions", SettlementServiceServer.ListWebhookSubscriptions),
		methodDesc("UpdateWebhookSubscription", SettlementServiceServer.UpdateWebhookSubscription),
		methodDesc("DeleteWebhookSubscription", SettlementServiceServer.DeleteWebhookSubscription),
		methodDesc("CreateInvoice", SettlementServiceServer.CreateInvoice),
		methodDesc("GetInvoice", SettlementServiceServer.GetInvoice),
		methodDesc("ListInvoices", SettlementServiceServer.ListInvoices),
		methodDesc("UpdateInvoiceStatus", SettlementServiceServer.UpdateInvoiceStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shiftstream/settlement.proto",
}

func RegisterSettlementServiceServer(registrar grpc.ServiceRegistrar, srv SettlementServiceServer) {
	registrar.RegisterService(&settlementServiceDesc, srv)
}
