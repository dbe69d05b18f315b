package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/retail-floor/internal/adapter/handler"
	"github.com/rl1809/retail-floor/internal/adapter/storage"
	"github.com/rl1809/retail-floor/internal/config"
	"github.com/rl1809/retail-floor/internal/platform/observability"
)

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	tel, err := observability.Setup(context.Background(), cfg.Otel)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, tel)
	require.NoError(t, err)
	t.Cleanup(a.shutdown)
	return a
}

func TestApp_ServesRoutesAndMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.StaticTokens = map[string]string{"tok": "ada"}
	a := newTestApp(t, cfg)

	srv := httptest.NewServer(a.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/customers", "application/json", strings.NewReader(`{"customer_name":"Gil"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `retail_operations_total{op="CreateCustomer",result="ok"} 1`)

	health, err := a.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: handler.FloorServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(context.Background(), config.Default().Store)
	require.NoError(t, err)
	_, ok := store.(*storage.MemoryStore)
	assert.True(t, ok)

	applied, err := migrate(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, applied, "the memory store has no schema")

	_, err = openStore(context.Background(), config.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestMigrateCommand_SQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "retail.db")
	cfgPath := filepath.Join(dir, "retail.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: sqlite\n  dsn: "+dbPath+"\n"), 0o600))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, cmd.Execute())

	store, err := storage.OpenSQLite(context.Background(), dbPath, 0)
	require.NoError(t, err)
	defer store.Close()
	types, err := store.ListProductTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)
}
