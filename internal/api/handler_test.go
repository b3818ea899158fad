package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/proto"

	"log-ingest/internal/domain"
	"log-ingest/internal/middleware"
)

// === Mocks ===

type mockIngestionService struct {
	ingestFn     func(ctx context.Context, orgID, stream string, payload []byte, workerID int) (*domain.IngestionResponse, error)
	ingestOTLPFn func(ctx context.Context, orgID, stream string, req *collogspb.ExportLogsServiceRequest, workerID int) (*domain.IngestionResponse, error)
}

func (m *mockIngestionService) Ingest(ctx context.Context, orgID, stream string, payload []byte, workerID int) (*domain.IngestionResponse, error) {
	if m.ingestFn == nil {
		panic("mockIngestionService.Ingest called but not configured")
	}
	return m.ingestFn(ctx, orgID, stream, payload, workerID)
}

func (m *mockIngestionService) IngestOTLP(ctx context.Context, orgID, stream string, req *collogspb.ExportLogsServiceRequest, workerID int) (*domain.IngestionResponse, error) {
	if m.ingestOTLPFn == nil {
		panic("mockIngestionService.IngestOTLP called but not configured")
	}
	return m.ingestOTLPFn(ctx, orgID, stream, req, workerID)
}

type mockFunctionService struct {
	setFn    func(ctx context.Context, org, name string, t domain.Transform) error
	getFn    func(ctx context.Context, org, name string) (domain.Transform, error)
	deleteFn func(ctx context.Context, org, name string) error
	listFn   func(ctx context.Context, org string) ([]domain.Transform, error)
}

func (m *mockFunctionService) Set(ctx context.Context, org, name string, t domain.Transform) error {
	if m.setFn == nil {
		panic("mockFunctionService.Set called but not configured")
	}
	return m.setFn(ctx, org, name, t)
}

func (m *mockFunctionService) Get(ctx context.Context, org, name string) (domain.Transform, error) {
	if m.getFn == nil {
		panic("mockFunctionService.Get called but not configured")
	}
	return m.getFn(ctx, org, name)
}

func (m *mockFunctionService) Delete(ctx context.Context, org, name string) error {
	if m.deleteFn == nil {
		panic("mockFunctionService.Delete called but not configured")
	}
	return m.deleteFn(ctx, org, name)
}

func (m *mockFunctionService) List(ctx context.Context, org string) ([]domain.Transform, error) {
	if m.listFn == nil {
		panic("mockFunctionService.List called but not configured")
	}
	return m.listFn(ctx, org)
}

// === Helpers ===

func newTestServer(t *testing.T, ing IngestionService, fns FunctionService) *httptest.Server {
	t.Helper()
	h := NewHandler(ing, fns, 2, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(NewRouter(h, RouterConfig{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

// === Tests ===

func TestHandler_IngestJSON(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		workers []int
	)
	ing := &mockIngestionService{
		ingestFn: func(_ context.Context, orgID, stream string, payload []byte, workerID int) (*domain.IngestionResponse, error) {
			assert.Equal(t, "org1", orgID)
			assert.Equal(t, "app", stream)
			assert.JSONEq(t, `[{"msg":"hi"}]`, string(payload))
			mu.Lock()
			workers = append(workers, workerID)
			mu.Unlock()
			st := domain.NewStreamStatus("app")
			st.Successful = 1
			return domain.NewIngestionResponse(http.StatusOK, []domain.StreamStatus{st}), nil
		},
	}
	srv := newTestServer(t, ing, &mockFunctionService{})

	for range 3 {
		resp, body := do(t, http.MethodPost, srv.URL+"/api/org1/app/_json", "application/json", []byte(`[{"msg":"hi"}]`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"code":200,"status":[{"name":"app","successful":1,"failed":0,"error":""}]}`, string(body))
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	}
	assert.Equal(t, []int{1, 0, 1}, workers)
}

func TestHandler_IngestJSON_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "blocked", err: domain.ErrAccessDenied("blocked"), want: http.StatusForbidden},
		{name: "bad payload", err: domain.ErrValidation("invalid JSON payload"), want: http.StatusBadRequest},
		{name: "internal", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ing := &mockIngestionService{
				ingestFn: func(context.Context, string, string, []byte, int) (*domain.IngestionResponse, error) {
					return nil, tc.err
				},
			}
			srv := newTestServer(t, ing, &mockFunctionService{})
			resp, body := do(t, http.MethodPost, srv.URL+"/api/org1/app/_json", "", []byte(`{}`))
			assert.Equal(t, tc.want, resp.StatusCode)

			var msg messageResponse
			require.NoError(t, json.Unmarshal(body, &msg))
			assert.Equal(t, tc.want, msg.Code)
			assert.Equal(t, tc.err.Error(), msg.Message)
		})
	}
}

func TestHandler_IngestOTLP(t *testing.T) {
	t.Parallel()

	ing := &mockIngestionService{
		ingestOTLPFn: func(_ context.Context, orgID, stream string, req *collogspb.ExportLogsServiceRequest, _ int) (*domain.IngestionResponse, error) {
			assert.Equal(t, "org1", orgID)
			assert.Equal(t, "otel", stream)
			require.Len(t, req.GetResourceLogs(), 1)
			st := domain.NewStreamStatus("otel")
			st.Successful = 1
			st.Failed = 2
			st.Error = "too old"
			return domain.NewIngestionResponse(http.StatusOK, []domain.StreamStatus{st}), nil
		},
	}
	srv := newTestServer(t, ing, &mockFunctionService{})

	in := &collogspb.ExportLogsServiceRequest{ResourceLogs: []*logspb.ResourceLogs{{}}}
	payload, err := proto.Marshal(in)
	require.NoError(t, err)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/org1/otel/v1/logs", "application/x-protobuf", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	var out collogspb.ExportLogsServiceResponse
	require.NoError(t, proto.Unmarshal(body, &out))
	assert.Equal(t, int64(2), out.GetPartialSuccess().GetRejectedLogRecords())
	assert.Equal(t, "too old", out.GetPartialSuccess().GetErrorMessage())

	resp, body = do(t, http.MethodPost, srv.URL+"/api/org1/otel/v1/logs", "application/json", []byte(`{"resourceLogs":[{}]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "rejectedLogRecords")

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/org1/otel/v1/logs", "text/plain", []byte("x"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/org1/otel/v1/logs", "application/x-protobuf", []byte{0xff, 0xff})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Functions(t *testing.T) {
	t.Parallel()

	saved := map[string]domain.Transform{}
	var mu sync.Mutex
	fns := &mockFunctionService{
		setFn: func(_ context.Context, org, name string, tr domain.Transform) error {
			if strings.Contains(tr.Function, "syntax error") {
				return domain.ErrValidation("transform %q does not compile", name)
			}
			mu.Lock()
			defer mu.Unlock()
			saved[org+"/"+name] = tr
			return nil
		},
		getFn: func(_ context.Context, org, name string) (domain.Transform, error) {
			mu.Lock()
			defer mu.Unlock()
			tr, ok := saved[org+"/"+name]
			if !ok {
				return domain.Transform{}, domain.ErrNotFound("function %q not found", name)
			}
			return tr, nil
		},
		listFn: func(_ context.Context, org string) ([]domain.Transform, error) {
			mu.Lock()
			defer mu.Unlock()
			var out []domain.Transform
			for k, tr := range saved {
				if strings.HasPrefix(k, org+"/") {
					out = append(out, tr)
				}
			}
			return out, nil
		},
		deleteFn: func(_ context.Context, org, name string) error {
			mu.Lock()
			defer mu.Unlock()
			delete(saved, org+"/"+name)
			return nil
		},
	}
	srv := newTestServer(t, &mockIngestionService{}, fns)
	base := srv.URL + "/api/org1/functions"

	resp, body := do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"list":[]}`, string(body))

	resp, _ = do(t, http.MethodPut, base+"/upper", "application/json",
		[]byte(`{"function":"row","params":"row","transType":0,"streams":[{"stream":"app","order":1}]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, saved, "org1/upper")
	assert.Equal(t, "upper", saved["org1/upper"].Name)
	assert.Equal(t, domain.StreamTypeLogs, saved["org1/upper"].Streams[0].StreamType)

	resp, body = do(t, http.MethodGet, base+"/upper", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := domain.DecodeTransform(body)
	require.NoError(t, err)
	assert.Equal(t, "row", got.Function)

	resp, _ = do(t, http.MethodPut, base+"/upper", "application/json", []byte(`{"name":"other","function":"row"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, base+"/bad", "application/json", []byte(`{"function":"syntax error"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, base+"/bad", "application/json", []byte(`{"function":"x","streams":[{"stream":"a","streamType":"bogus"}]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, base+"/upper", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, base+"/upper", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &mockIngestionService{}, &mockFunctionService{})

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# metrics", string(body))
}

func TestRouter_RateLimited(t *testing.T) {
	t.Parallel()
	ing := &mockIngestionService{
		ingestFn: func(context.Context, string, string, []byte, int) (*domain.IngestionResponse, error) {
			return domain.NewIngestionResponse(http.StatusOK, nil), nil
		},
	}
	h := NewHandler(ing, &mockFunctionService{}, 1, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(NewRouter(h, RouterConfig{
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	}))
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/org1/app/_json", "", []byte(`{}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/org1/app/_json", "", []byte(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// health checks bypass the limiter
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrAccessDenied("x"), http.StatusForbidden},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{domain.ErrConflict("x"), http.StatusConflict},
		{fmt.Errorf("resolve stream name: %w", domain.ErrValidation("x")), http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("write: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}

	assert.Equal(t, http.StatusRequestEntityTooLarge, bodyReadStatus(&http.MaxBytesError{Limit: 1}))
	assert.Equal(t, http.StatusBadRequest, bodyReadStatus(errors.New("unexpected EOF")))
}
