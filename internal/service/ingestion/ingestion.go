// Package ingestion implements the record ingestion pipeline.
package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"golang.org/x/sync/semaphore"

	"log-ingest/internal/cache"
	"log-ingest/internal/domain"
	"log-ingest/internal/metrics"
	"log-ingest/internal/otlp"
	"log-ingest/internal/service/alerts"
	"log-ingest/internal/service/schema"
	"log-ingest/internal/service/transform"
)

// Metric endpoint labels per ingestion surface.
const (
	EndpointJSON = "/api/org/ingest/logs/_json"
	EndpointOTLP = "/api/org/v1/logs"
)

// Config holds the ingestion limits.
type Config struct {
	// TimestampColumn is the record field holding the timestamp in microseconds.
	TimestampColumn string
	// AllowedUpto is how far in the past a record may be stamped.
	AllowedUpto time.Duration
	// AllowedInFuture seeds the running minimum timestamp of a request.
	AllowedInFuture time.Duration
	// DistinctFields are recorded as distinct values when present.
	DistinctFields []string
	// BlockedStreams lists "org/stream" or "org/*" entries refused at admission.
	BlockedStreams []string
	// WriteWorkers bounds concurrent calls into the write stage.
	WriteWorkers int
}

// IngestionServiceDeps holds the collaborators of an IngestionService.
type IngestionServiceDeps struct {
	Config         Config
	Functions      *cache.FunctionCache
	Alerts         *cache.AlertCache
	Runtime        *transform.Runtime
	Schemas        *schema.Store
	Validator      *schema.Validator
	Evaluator      *alerts.Evaluator
	Writer         domain.WriteStage
	DistinctValues domain.DistinctValueRepository
	Usage          domain.UsageRepository
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// IngestionService turns request payloads into partitioned records handed to
// the write stage.
//
//nolint:revive // Name chosen for clarity across package boundaries
type IngestionService struct {
	cfg       Config
	blocked   map[string]struct{}
	functions *cache.FunctionCache
	alerts    *cache.AlertCache
	runtime   *transform.Runtime
	schemas   *schema.Store
	validator *schema.Validator
	evaluator *alerts.Evaluator
	writer    domain.WriteStage
	dv        domain.DistinctValueRepository
	usage     domain.UsageRepository
	metrics   *metrics.Metrics
	writers   *semaphore.Weighted
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(deps IngestionServiceDeps) *IngestionService {
	cfg := deps.Config
	if cfg.TimestampColumn == "" {
		cfg.TimestampColumn = "_timestamp"
	}
	if cfg.WriteWorkers <= 0 {
		cfg.WriteWorkers = 1
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedStreams))
	for _, b := range cfg.BlockedStreams {
		if b = strings.TrimSpace(b); b != "" {
			blocked[b] = struct{}{}
		}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	return &IngestionService{
		cfg:       cfg,
		blocked:   blocked,
		functions: deps.Functions,
		alerts:    deps.Alerts,
		runtime:   deps.Runtime,
		schemas:   deps.Schemas,
		validator: deps.Validator,
		evaluator: deps.Evaluator,
		writer:    deps.Writer,
		dv:        deps.DistinctValues,
		usage:     deps.Usage,
		metrics:   m,
		writers:   semaphore.NewWeighted(int64(cfg.WriteWorkers)),
		tracer:    otel.Tracer("log-ingest/ingestion"),
		logger:    deps.Logger.With("component", "ingestion"),
		now:       time.Now,
	}
}

// Ingest ingests a JSON payload into a logs stream. The payload is an array
// of objects or a single object.
func (s *IngestionService) Ingest(ctx context.Context, orgID, stream string, payload []byte, workerID int) (*domain.IngestionResponse, error) {
	return s.run(ctx, orgID, stream, workerID, domain.UsageTypeJSON, func() ([]any, error) {
		return decodePayload(payload)
	})
}

// IngestRecords ingests already decoded records.
func (s *IngestionService) IngestRecords(
	ctx context.Context,
	orgID, stream string,
	records []map[string]any,
	workerID int,
	usageType domain.UsageType,
) (*domain.IngestionResponse, error) {
	return s.run(ctx, orgID, stream, workerID, usageType, func() ([]any, error) {
		items := make([]any, len(records))
		for i, r := range records {
			items[i] = r
		}
		return items, nil
	})
}

// IngestOTLP ingests an OTLP logs export request.
func (s *IngestionService) IngestOTLP(ctx context.Context, orgID, stream string, req *collogspb.ExportLogsServiceRequest, workerID int) (*domain.IngestionResponse, error) {
	records := otlp.LogsToRecords(req, s.cfg.TimestampColumn)
	return s.IngestRecords(ctx, orgID, stream, records, workerID, domain.UsageTypeOTLP)
}

func (s *IngestionService) run(
	ctx context.Context,
	orgID, inStream string,
	workerID int,
	usageType domain.UsageType,
	decode func() ([]any, error),
) (*domain.IngestionResponse, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "ingestion.Ingest", trace.WithAttributes(
		attribute.String("org", orgID),
		attribute.String("stream", inStream),
		attribute.String("usage_type", string(usageType)),
	))
	defer span.End()

	resp, err := s.ingest(ctx, start, orgID, inStream, workerID, usageType, decode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(resp.Status) > 0 {
		span.SetAttributes(
			attribute.Int("records.successful", int(resp.Status[0].Successful)),
			attribute.Int("records.failed", int(resp.Status[0].Failed)),
		)
	}
	return resp, nil
}

func (s *IngestionService) ingest(
	ctx context.Context,
	start time.Time,
	orgID, inStream string,
	workerID int,
	usageType domain.UsageType,
	decode func() ([]any, error),
) (*domain.IngestionResponse, error) {
	streamName, err := s.schemas.FormatStreamName(ctx, orgID, domain.StreamTypeLogs, inStream)
	if err != nil {
		return nil, fmt.Errorf("resolve stream name: %w", err)
	}
	if err := s.checkAllowed(orgID, streamName); err != nil {
		return nil, err
	}
	params := domain.StreamParams{OrgID: orgID, StreamName: streamName, StreamType: domain.StreamTypeLogs}

	minTS := start.Add(s.cfg.AllowedInFuture).UnixMicro()
	earliest := start.Add(-s.cfg.AllowedUpto).UnixMicro()

	key := domain.StreamKey(orgID, domain.StreamTypeLogs, streamName)
	chain, err := s.runtime.ChainFor(key, s.functions.OrderedStreamTransforms(key))
	if err != nil {
		s.logger.Error("error compiling stream transforms", "org", orgID, "stream", streamName, "error", err)
		return nil, fmt.Errorf("compile transforms for %s: %w", key, err)
	}

	settings, err := s.schemas.Settings(ctx, orgID, domain.StreamTypeLogs, streamName)
	if err != nil {
		return nil, fmt.Errorf("load stream settings: %w", err)
	}
	meta := domain.StreamMeta{
		OrgID:              orgID,
		StreamName:         streamName,
		PartitionKeys:      settings.PartitionKeys,
		PartitionTimeLevel: settings.PartitionTimeLevel,
		StreamAlerts:       map[string][]domain.Alert{key: s.alerts.Alerts(key)},
	}

	items, err := decode()
	if err != nil {
		return nil, err
	}

	status := domain.NewStreamStatus(streamName)
	buf := make(map[string][]string)
	var (
		trigger  *domain.Trigger
		dvItems  []domain.DvItem
		discard  = s.discardError()
		tsColumn = s.cfg.TimestampColumn
	)
	for _, item := range items {
		rec, err := Flatten(item)
		if err != nil {
			fail(&status.RecordStatus, err.Error())
			continue
		}

		rec, err = chain.Apply(rec)
		if err != nil || rec == nil {
			status.Failed++
			if err != nil {
				status.Error = err.Error()
			}
			s.metrics.TransformDropped(params)
			continue
		}

		ts := start.UnixMicro()
		if v, ok := rec[tsColumn]; ok {
			ts, err = ParseTimestampMicro(v, start)
			if err != nil {
				fail(&status.RecordStatus, err.Error())
				continue
			}
		}
		if ts < earliest {
			fail(&status.RecordStatus, discard)
			continue
		}
		if ts < minTS {
			minTS = ts
		}
		rec[tsColumn] = ts

		if t := s.validator.AddValidRecord(ctx, meta, &status.RecordStatus, buf, rec); t != nil {
			trigger = t
		}

		for _, field := range s.cfg.DistinctFields {
			v, ok := rec[field]
			if !ok || v == nil {
				continue
			}
			dvItems = append(dvItems, domain.DvItem{
				StreamType: domain.StreamTypeLogs,
				StreamName: streamName,
				FieldName:  field,
				FieldValue: schema.Stringify(v),
			})
		}
	}

	resp := domain.NewIngestionResponse(http.StatusOK, []domain.StreamStatus{status})

	stats, err := s.write(ctx, buf, workerID, params, minTS)
	if err != nil {
		s.logger.Error("error writing data", "org", orgID, "stream", streamName, "error", err)
		return resp, nil
	}

	// One trigger per request.
	if err := s.evaluator.Evaluate(ctx, trigger); err != nil {
		s.logger.Error("error evaluating trigger", "org", orgID, "stream", streamName, "error", err)
	}

	if len(dvItems) > 0 {
		if err := s.dv.Write(ctx, orgID, dvItems); err != nil {
			s.logger.Error("error writing distinct values", "org", orgID, "error", err)
		}
	}

	took := s.now().Sub(start)
	s.metrics.ObserveRequest(endpointFor(usageType), "200", params, took)
	s.metrics.ObserveRecords(params, status.RecordStatus)

	if err := s.usage.Report(ctx, []domain.UsageRecord{{
		Org:          orgID,
		Stream:       streamName,
		StreamType:   domain.StreamTypeLogs,
		UsageType:    usageType,
		Records:      stats.Records,
		SizeMB:       stats.Size,
		ResponseTime: took.Seconds(),
		NumFunctions: chain.Len(),
		CreatedAt:    start,
	}}); err != nil {
		s.logger.Error("error reporting usage", "org", orgID, "stream", streamName, "error", err)
	}

	return resp, nil
}

// write hands buf to the write stage on the bounded writer pool.
func (s *IngestionService) write(ctx context.Context, buf map[string][]string, workerID int, params domain.StreamParams, minTS int64) (domain.RequestStats, error) {
	if err := s.writers.Acquire(ctx, 1); err != nil {
		return domain.RequestStats{}, err
	}
	defer s.writers.Release(1)
	return s.writer.Write(ctx, buf, workerID, params, minTS)
}

func (s *IngestionService) checkAllowed(orgID, stream string) error {
	if _, ok := s.blocked[orgID+"/"+stream]; ok {
		return domain.ErrAccessDenied("ingestion is blocked for stream %q of organization %q", stream, orgID)
	}
	if _, ok := s.blocked[orgID+"/*"]; ok {
		return domain.ErrAccessDenied("ingestion is blocked for organization %q", orgID)
	}
	return nil
}

func (s *IngestionService) discardError() string {
	return fmt.Sprintf("too old data, only last %d hours data can be ingested. Data discarded.",
		int64(s.cfg.AllowedUpto/time.Hour))
}

func fail(status *domain.RecordStatus, msg string) {
	status.Failed++
	status.Error = msg
}

func endpointFor(usageType domain.UsageType) string {
	if usageType == domain.UsageTypeOTLP {
		return EndpointOTLP
	}
	return EndpointJSON
}

// decodePayload reads a JSON array, falling back to a single value. Numbers
// keep their integer precision.
func decodePayload(payload []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, domain.ErrValidation("invalid JSON payload: %v", err)
	}
	switch val := v.(type) {
	case []any:
		return val, nil
	case map[string]any:
		return []any{val}, nil
	default:
		return nil, domain.ErrValidation("payload must be a JSON array or object, got %s", kindOf(v))
	}
}
