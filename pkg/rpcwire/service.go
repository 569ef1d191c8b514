package rpcwire

import (
	"context"

	"google.golang.org/grpc"
)

// EventSender is the narrow part of grpc.ServerStream a streaming handler
// needs to push typed events downstream; internal/proxy's subscriber loop
// depends on this instead of the full grpc.ServerStream.
type EventSender interface {
	Context() context.Context
	SendMsg(m any) error
}

// MarketDataServer is the Proxy Service's RPC surface: one streaming RPC
// per event kind plus a unary connection-status check, per spec §4.8/§6.
type MarketDataServer interface {
	StreamQuotes(req *SubscribeRequest, stream EventSender) error
	StreamTrades(req *SubscribeRequest, stream EventSender) error
	StreamBars(req *SubscribeRequest, stream EventSender) error
	StreamOptionQuotes(req *SubscribeRequest, stream EventSender) error
	StreamOptionTrades(req *SubscribeRequest, stream EventSender) error
	StreamOrderUpdates(req *SubscribeRequest, stream EventSender) error
	GetConnectionStatus(ctx context.Context, req *ConnectionStatusRequest) (*ConnectionStatusResponse, error)
}

func streamHandlerFor(call func(srv any, req *SubscribeRequest, stream EventSender) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		req := new(SubscribeRequest)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return call(srv, req, stream)
	}
}

// MarketDataServiceDesc is the hand-authored replacement for a
// protoc-gen-go-grpc *_grpc.pb.go file: it wires six streaming RPCs and one
// unary RPC straight to MarketDataServer without any generated stub.
var MarketDataServiceDesc = grpc.ServiceDesc{
	ServiceName: "streambackbone.MarketDataService",
	HandlerType: (*MarketDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetConnectionStatus",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := new(ConnectionStatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				return srv.(MarketDataServer).GetConnectionStatus(ctx, req)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamQuotes",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamQuotes(req, stream)
			}),
		},
		{
			StreamName:    "StreamTrades",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamTrades(req, stream)
			}),
		},
		{
			StreamName:    "StreamBars",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamBars(req, stream)
			}),
		},
		{
			StreamName:    "StreamOptionQuotes",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamOptionQuotes(req, stream)
			}),
		},
		{
			StreamName:    "StreamOptionTrades",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamOptionTrades(req, stream)
			}),
		},
		{
			StreamName:    "StreamOrderUpdates",
			ServerStreams: true,
			Handler: streamHandlerFor(func(srv any, req *SubscribeRequest, stream EventSender) error {
				return srv.(MarketDataServer).StreamOrderUpdates(req, stream)
			}),
		},
	},
	Metadata: "streambackbone.proto",
}

// ExecutionServer is the execution engine's unary RPC surface, per spec
// §6: CheckConstraints, SubmitOrders, GetOrderState, CancelOrders.
type ExecutionServer interface {
	CheckConstraints(ctx context.Context, req *DecisionBatch) (*ConstraintResult, error)
	SubmitOrders(ctx context.Context, req *DecisionBatch) (*ExecutionAck, error)
	GetOrderState(ctx context.Context, req *OrderIDList) (*OrderSnapshotList, error)
	CancelOrders(ctx context.Context, req *CancelRequest) (*CancelResultList, error)
}

func unaryHandlerFor[Req any, Resp any](call func(srv any, ctx context.Context, req *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		return call(srv, ctx, req)
	}
}

// ExecutionServiceDesc is the hand-authored ServiceDesc for the execution
// engine's four unary RPCs.
var ExecutionServiceDesc = grpc.ServiceDesc{
	ServiceName: "streambackbone.ExecutionService",
	HandlerType: (*ExecutionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckConstraints",
			Handler: unaryHandlerFor(func(srv any, ctx context.Context, req *DecisionBatch) (*ConstraintResult, error) {
				return srv.(ExecutionServer).CheckConstraints(ctx, req)
			}),
		},
		{
			MethodName: "SubmitOrders",
			Handler: unaryHandlerFor(func(srv any, ctx context.Context, req *DecisionBatch) (*ExecutionAck, error) {
				return srv.(ExecutionServer).SubmitOrders(ctx, req)
			}),
		},
		{
			MethodName: "GetOrderState",
			Handler: unaryHandlerFor(func(srv any, ctx context.Context, req *OrderIDList) (*OrderSnapshotList, error) {
				return srv.(ExecutionServer).GetOrderState(ctx, req)
			}),
		},
		{
			MethodName: "CancelOrders",
			Handler: unaryHandlerFor(func(srv any, ctx context.Context, req *CancelRequest) (*CancelResultList, error) {
				return srv.(ExecutionServer).CancelOrders(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "streambackbone.proto",
}
