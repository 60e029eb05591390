package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/internal/queue"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock pinger ─────────────────────────────────────────────────────────────

type testPinger struct {
	pingErr error
}

func (p *testPinger) Ping(_ context.Context) error { return p.pingErr }

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testPinger{}, &testPinger{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testPinger{pingErr: errors.New("connection refused")}, &testPinger{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testPinger{}, &testPinger{pingErr: errors.New("redis down")})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── command tree ───────────────────────────────────────────────────────────

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"}, {"worker"}, {"migrate"},
		{"keys", "create"}, {"keys", "list"}, {"keys", "revoke"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// ─── startup failures ───────────────────────────────────────────────────────

func TestServe_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "ROPA_BASE_URL"} {
		t.Setenv(key, "")
	}

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestServe_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("ROPA_BASE_URL", "http://localhost:8000")
	t.Setenv("AI_PROVIDER", "mock")

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestKeysCreate_ValidatesFlags(t *testing.T) {
	_, err := execute(t, "keys", "create", "--user", uuid.NewString(), "--name", "ci")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")

	_, err = execute(t, "keys", "create", "--tenant", "acme", "--user", uuid.NewString(), "--name", "ci")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --tenant")
}

func TestKeysRevoke_ValidatesKeyID(t *testing.T) {
	_, err := execute(t, "keys", "revoke", "not-a-uuid", "--tenant", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key id")
}

// ─── wiring helpers ─────────────────────────────────────────────────────────

func TestNewQueue_Backends(t *testing.T) {
	rc, err := cache.NewRedisCache("redis://localhost:6379/0")
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	q := newQueue(config.QueueConfig{Backend: "memory", Size: 4}, rc)
	assert.IsType(t, &queue.MemoryQueue{}, q)

	q = newQueue(config.QueueConfig{Backend: "redis", Name: "jobs"}, rc)
	assert.IsType(t, &queue.RedisQueue{}, q)
}

func TestPrintKeys(t *testing.T) {
	used := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	require.NoError(t, printKeys(&out, []*models.APIKey{
		{ID: uuid.New(), Name: "ci", KeyPrefix: "rs_ab12c", Scopes: []string{"read", "write"}},
		{ID: uuid.New(), Name: "admin", KeyPrefix: "rs_zz99x", Scopes: []string{"admin"}, LastUsedAt: &used},
	}))

	s := out.String()
	assert.Contains(t, s, "PREFIX")
	assert.Contains(t, s, "rs_ab12c")
	assert.Contains(t, s, "read,write")
	assert.Contains(t, s, "never")
	assert.Contains(t, s, "2026-03-01T12:00:00Z")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
