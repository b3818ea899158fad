package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-ingest/internal/config"
	"log-ingest/internal/domain"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		MetaDBPath:        filepath.Join(dir, "meta.sqlite"),
		CoordInMemory:     true,
		DataDir:           filepath.Join(dir, "wal"),
		TimestampColumn:   "_timestamp",
		IngestAllowedUpto: 5 * time.Hour,
		IngestWorkers:     2,
		WriteWorkers:      2,
		WALRotateSchedule: "@every 1h",
		WALMaxSizeMB:      1,
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
	}
	a, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestNew_ServesHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestNew_IngestAppliesStreamTransform(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	fn := domain.Transform{
		Name:      "tag",
		Function:  "row[\"tagged\"] = True\nreturn row",
		TransType: domain.EngineExpression,
		Streams:   []domain.StreamOrder{{Stream: "app", StreamType: domain.StreamTypeLogs}},
	}
	require.NoError(t, a.Services.Functions.Set(ctx, "org1", "tag", fn))
	require.NoError(t, a.Services.FunctionsSync.Cache(ctx))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/org1/app/_json", strings.NewReader(`[{"msg":"a"},{"msg":"b"}]`))
	a.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.IngestionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Status, 1)
	assert.Equal(t, "app", resp.Status[0].Name)
	assert.Equal(t, uint32(2), resp.Status[0].Successful)
	assert.Equal(t, uint32(0), resp.Status[0].Failed)
	assert.Equal(t, 1, a.wal.ActiveFiles())
}
