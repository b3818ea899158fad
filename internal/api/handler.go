// Package api exposes the ingestion and transform registry over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"

	"log-ingest/internal/domain"
)

const maxBodyBytes = 32 << 20

// IngestionService defines the ingestion operations used by the API handler.
type IngestionService interface {
	Ingest(ctx context.Context, orgID, stream string, payload []byte, workerID int) (*domain.IngestionResponse, error)
	IngestOTLP(ctx context.Context, orgID, stream string, req *collogspb.ExportLogsServiceRequest, workerID int) (*domain.IngestionResponse, error)
}

// FunctionService defines the transform registry operations used by the API handler.
type FunctionService interface {
	Set(ctx context.Context, org, name string, t domain.Transform) error
	Get(ctx context.Context, org, name string) (domain.Transform, error)
	Delete(ctx context.Context, org, name string) error
	List(ctx context.Context, org string) ([]domain.Transform, error)
}

// APIHandler serves the HTTP API.
type APIHandler struct {
	ingestion IngestionService
	functions FunctionService
	workers   int
	next      atomic.Uint64
	logger    *slog.Logger
}

// NewHandler creates a new APIHandler. Requests are spread over workers
// write-stage worker ids.
func NewHandler(ingestion IngestionService, functions FunctionService, workers int, logger *slog.Logger) *APIHandler {
	if workers <= 0 {
		workers = 1
	}
	return &APIHandler{
		ingestion: ingestion,
		functions: functions,
		workers:   workers,
		logger:    logger.With("component", "api"),
	}
}

// Routes registers the API routes on r.
func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/api/{org}", func(r chi.Router) {
		r.Post("/{stream}/_json", h.IngestJSON)
		r.Post("/{stream}/v1/logs", h.IngestOTLP)

		r.Get("/functions", h.ListFunctions)
		r.Get("/functions/{name}", h.GetFunction)
		r.Put("/functions/{name}", h.SaveFunction)
		r.Delete("/functions/{name}", h.DeleteFunction)
	})
}

func (h *APIHandler) workerID() int {
	return int(h.next.Add(1) % uint64(h.workers)) //nolint:gosec // workers is positive
}

// IngestJSON ingests a JSON array (or single object) of log records.
func (h *APIHandler) IngestJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, bodyReadStatus(err), err.Error())
		return
	}
	resp, err := h.ingestion.Ingest(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "stream"), body, h.workerID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resp.Code, resp)
}

// ListFunctions lists the transforms of an organization.
func (h *APIHandler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	list, err := h.functions.List(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Transform{}
	}
	writeJSON(w, http.StatusOK, domain.FunctionList{List: list})
}

// GetFunction returns one transform.
func (h *APIHandler) GetFunction(w http.ResponseWriter, r *http.Request) {
	t, err := h.functions.Get(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SaveFunction creates or replaces a transform. The body name defaults to
// the path name and must match it when given.
func (h *APIHandler) SaveFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, bodyReadStatus(err), err.Error())
		return
	}
	t, err := domain.DecodeTransform(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transform: "+err.Error())
		return
	}
	if t.Name == "" {
		t.Name = name
	}
	if t.Name != name {
		writeError(w, http.StatusBadRequest, "transform name does not match path")
		return
	}
	if err := h.functions.Set(r.Context(), chi.URLParam(r, "org"), name, t); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Code: http.StatusOK, Message: "Function saved successfully"})
}

// DeleteFunction removes a transform.
func (h *APIHandler) DeleteFunction(w http.ResponseWriter, r *http.Request) {
	if err := h.functions.Delete(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Code: http.StatusOK, Message: "Function deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
