package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/core/service"
)

const bufSize = 1 << 20

func (e *testEnv) grpcConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv, _ := NewGRPCServer(NewGRPCHandler(e.queue, e.inventory, e.supply, e.tokens), nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_AssignAndFinish(t *testing.T) {
	env := newTestEnv()
	client := NewFloorClient(env.grpcConn(t))
	ctx := context.Background()

	_, err := env.queue.RegisterRep(ctx, "ada", "Ada")
	require.NoError(t, err)

	var customer domain.Customer
	require.NoError(t, client.Invoke(ctx, "CreateCustomer", &CreateCustomerRequest{Name: "Eve"}, &customer))
	assert.Equal(t, domain.CustomerWaiting, customer.Status)

	authed := WithBearer(ctx, "tok-ada")
	var assignment service.Assignment
	require.NoError(t, client.Invoke(authed, "AssignNextCustomer", &IdentityRequest{}, &assignment))
	assert.Equal(t, customer.ID, assignment.Customer.ID)
	assert.Equal(t, domain.RepBusy, assignment.Rep.Status)

	err = client.Invoke(authed, "AssignNextCustomer", &IdentityRequest{}, &assignment)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "a busy rep cannot take another customer")

	var completion service.Completion
	require.NoError(t, client.Invoke(authed, "FinishCurrentCustomer", &IdentityRequest{}, &completion))
	assert.Equal(t, domain.CustomerHelped, completion.FinishedCustomer.Status)

	var rep domain.SalesRep
	require.NoError(t, client.Invoke(authed, "ResetRep", &IdentityRequest{}, &rep))
	assert.Zero(t, rep.TotalCustomers)
}

func TestGRPC_StatusMapping(t *testing.T) {
	env := newTestEnv()
	client := NewFloorClient(env.grpcConn(t))
	ctx := context.Background()
	_, err := env.queue.RegisterRep(ctx, "ada", "Ada")
	require.NoError(t, err)

	var out map[string]any
	err = client.Invoke(ctx, "AssignNextCustomer", &IdentityRequest{}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = client.Invoke(WithBearer(ctx, "forged"), "DeleteCustomer", &IDRequest{ID: 1}, &out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = client.Invoke(WithBearer(ctx, "tok-ada"), "AssignNextCustomer", &IdentityRequest{}, &out)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = client.Invoke(ctx, "CreateCustomer", &CreateCustomerRequest{Name: ""}, &out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = client.Invoke(ctx, "CompleteTransfer", &CompleteTransferRequest{TransferID: 0}, &out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = client.Invoke(ctx, "CompleteSupplyOrder", &IDRequest{ID: 42}, &out)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_CompleteSupplyOrderTwice(t *testing.T) {
	env := newTestEnv()
	client := NewFloorClient(env.grpcConn(t))
	ctx := context.Background()
	pt := env.mem.AddProductType("Tie")

	order, err := env.supply.CreateSupplyOrder(ctx, service.SupplyOrderRequest{ProductTypeID: pt.ID, Quantity: 2})
	require.NoError(t, err)

	var delivery service.SupplyDelivery
	require.NoError(t, client.Invoke(ctx, "CompleteSupplyOrder", &IDRequest{ID: order.ID}, &delivery))
	assert.Len(t, delivery.AddedItems, 2)

	err = client.Invoke(ctx, "CompleteSupplyOrder", &IDRequest{ID: order.ID}, &delivery)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPC_DeleteCustomer(t *testing.T) {
	env := newTestEnv()
	client := NewFloorClient(env.grpcConn(t))
	ctx := context.Background()

	c, err := env.queue.CreateCustomer(ctx, "Fay")
	require.NoError(t, err)

	var resp DeleteCustomerResponse
	require.NoError(t, client.Invoke(WithBearer(ctx, "tok-bo"), "DeleteCustomer", &IDRequest{ID: c.ID}, &resp))
	assert.True(t, resp.Deleted)
	assert.Equal(t, c.ID, resp.ID)
}

func TestGRPC_Health(t *testing.T) {
	conn := newTestEnv().grpcConn(t)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: FloorServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
