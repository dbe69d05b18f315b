package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/retail-floor/internal/adapter/auth"
	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/core/service"
	"github.com/rl1809/retail-floor/internal/port"
)

const FloorServiceName = "retail.v1.FloorService"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs over gRPC under the "json" content
// subtype, so the service needs no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type IdentityRequest struct{}

type CreateCustomerRequest struct {
	Name string `json:"customer_name"`
}

type IDRequest struct {
	ID int64 `json:"id"`
}

type CompleteTransferRequest struct {
	TransferID        int64  `json:"transferId"`
	ReceivingLocation string `json:"receivingLocation"`
}

type DeleteCustomerResponse struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// FloorServer is the method set behind retail.v1.FloorService.
type FloorServer interface {
	AssignNextCustomer(context.Context, *IdentityRequest) (*service.Assignment, error)
	FinishCurrentCustomer(context.Context, *IdentityRequest) (*service.Completion, error)
	ResetRep(context.Context, *IdentityRequest) (*domain.SalesRep, error)
	CreateCustomer(context.Context, *CreateCustomerRequest) (*domain.Customer, error)
	DeleteCustomer(context.Context, *IDRequest) (*DeleteCustomerResponse, error)
	CompleteTransfer(context.Context, *CompleteTransferRequest) (*service.TransferCompletion, error)
	CompleteSupplyOrder(context.Context, *IDRequest) (*service.SupplyDelivery, error)
}

var _ FloorServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	queue     *service.QueueService
	inventory *service.InventoryService
	supply    *service.SupplyService
	verifier  port.IdentityVerifier
}

func NewGRPCHandler(queue *service.QueueService, inventory *service.InventoryService, supply *service.SupplyService, verifier port.IdentityVerifier) *GRPCHandler {
	return &GRPCHandler{queue: queue, inventory: inventory, supply: supply, verifier: verifier}
}

// NewGRPCServer returns a server with FloorService and the standard health
// service registered. The health server is returned so shutdown can flip it.
func NewGRPCServer(h *GRPCHandler, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&floorServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus(FloorServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func (h *GRPCHandler) AssignNextCustomer(ctx context.Context, _ *IdentityRequest) (*service.Assignment, error) {
	identity, err := h.identity(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.queue.AssignNextCustomer(ctx, identity)
	return out, grpcError(err)
}

func (h *GRPCHandler) FinishCurrentCustomer(ctx context.Context, _ *IdentityRequest) (*service.Completion, error) {
	identity, err := h.identity(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.queue.FinishCurrentCustomer(ctx, identity)
	return out, grpcError(err)
}

func (h *GRPCHandler) ResetRep(ctx context.Context, _ *IdentityRequest) (*domain.SalesRep, error) {
	identity, err := h.identity(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.queue.ResetRep(ctx, identity)
	return out, grpcError(err)
}

func (h *GRPCHandler) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*domain.Customer, error) {
	out, err := h.queue.CreateCustomer(ctx, req.Name)
	return out, grpcError(err)
}

func (h *GRPCHandler) DeleteCustomer(ctx context.Context, req *IDRequest) (*DeleteCustomerResponse, error) {
	if _, err := h.identity(ctx); err != nil {
		return nil, err
	}
	if err := h.queue.DeleteCustomer(ctx, req.ID); err != nil {
		return nil, grpcError(err)
	}
	return &DeleteCustomerResponse{ID: req.ID, Deleted: true}, nil
}

func (h *GRPCHandler) CompleteTransfer(ctx context.Context, req *CompleteTransferRequest) (*service.TransferCompletion, error) {
	out, err := h.inventory.CompleteTransfer(ctx, req.TransferID, req.ReceivingLocation)
	return out, grpcError(err)
}

func (h *GRPCHandler) CompleteSupplyOrder(ctx context.Context, req *IDRequest) (*service.SupplyDelivery, error) {
	out, err := h.supply.CompleteSupplyOrder(ctx, req.ID)
	return out, grpcError(err)
}

func (h *GRPCHandler) identity(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get("authorization"); len(values) > 0 {
		token = auth.BearerToken(values[0])
	}
	if token == "" || h.verifier == nil {
		return "", status.Error(codes.Unauthenticated, "missing bearer token")
	}
	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return "", grpcError(err)
	}
	return identity, nil
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, port.ErrUnauthenticated) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	switch domain.Kind(err) {
	case domain.ErrInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.ErrConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if code := status.Code(err); code == codes.Internal || code == codes.Unknown {
			logger.Error("grpc call failed",
				zap.String("method", info.FullMethod),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		}
		return resp, err
	}
}

var floorServiceDesc = grpc.ServiceDesc{
	ServiceName: FloorServiceName,
	HandlerType: (*FloorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AssignNextCustomer", FloorServer.AssignNextCustomer),
		unary("FinishCurrentCustomer", FloorServer.FinishCurrentCustomer),
		unary("ResetRep", FloorServer.ResetRep),
		unary("CreateCustomer", FloorServer.CreateCustomer),
		unary("DeleteCustomer", FloorServer.DeleteCustomer),
		unary("CompleteTransfer", FloorServer.CompleteTransfer),
		unary("CompleteSupplyOrder", FloorServer.CompleteSupplyOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retail/v1/floor.proto",
}

func unary[Req, Resp any](method string, call func(FloorServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FloorServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + FloorServiceName + "/" + method}
			return interceptor(ctx, in, info, invoke)
		},
	}
}

// FloorClient calls FloorService with the JSON codec.
type FloorClient struct {
	conn grpc.ClientConnInterface
}

func NewFloorClient(conn grpc.ClientConnInterface) *FloorClient {
	return &FloorClient{conn: conn}
}

// Invoke calls method with in and decodes the reply into out.
func (c *FloorClient) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(jsonCodec{}.Name()))
	return c.conn.Invoke(ctx, "/"+FloorServiceName+"/"+method, in, out, opts...)
}

// WithBearer attaches a bearer token for rep-scoped calls.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
