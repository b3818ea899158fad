// Package wal is the write stage of the ingestion pipeline: it appends
// partitioned records to per-worker active files and seals them for
// downstream compaction once they are old or large enough.
package wal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"log-ingest/internal/domain"
)

const (
	sealedDir = "sealed"
	bytesInMB = 1024 * 1024
)

// Config configures the write stage.
type Config struct {
	// Dir is the root directory of active and sealed files.
	Dir string
	// MaxAge seals a file this long after it was opened.
	MaxAge time.Duration
	// MaxSize seals a file once it holds this many bytes.
	MaxSize int64
}

type activeFile struct {
	path    string
	f       *os.File
	size    int64
	records int64
	minTS   int64
	opened  time.Time
}

// Manager implements domain.WriteStage on the local filesystem.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.Mutex
	files map[string]*activeFile
}

var _ domain.WriteStage = (*Manager)(nil)

// NewManager creates a Manager writing under cfg.Dir.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrValidation("write stage directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create write stage directory: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "wal"),
		tracer: otel.Tracer("log-ingest/wal"),
		now:    time.Now,
		files:  make(map[string]*activeFile),
	}, nil
}

// Write appends every partition of buf to the worker's active files.
func (m *Manager) Write(ctx context.Context, buf map[string][]string, workerID int, params domain.StreamParams, minTS int64) (domain.RequestStats, error) {
	_, span := m.tracer.Start(ctx, "wal.Write", trace.WithAttributes(
		attribute.String("org", params.OrgID),
		attribute.String("stream", params.StreamName),
		attribute.Int("partitions", len(buf)),
	))
	defer span.End()

	start := m.now()
	partitions := make([]string, 0, len(buf))
	for p := range buf {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)

	m.mu.Lock()
	defer m.mu.Unlock()

	var stats domain.RequestStats
	for _, partition := range partitions {
		lines := buf[partition]
		if len(lines) == 0 {
			continue
		}
		af, err := m.active(m.filePath(params, workerID, partition))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats, err
		}

		data := strings.Join(lines, "\n") + "\n"
		n, err := af.f.WriteString(data)
		af.size += int64(n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats, fmt.Errorf("write %s: %w", af.path, err)
		}
		af.records += int64(len(lines))
		if minTS > 0 && (af.minTS == 0 || minTS < af.minTS) {
			af.minTS = minTS
		}

		stats.Size += float64(n) / bytesInMB
		stats.Records += int64(len(lines))
	}
	stats.ResponseTime = m.now().Sub(start).Seconds()
	return stats, nil
}

func (m *Manager) filePath(params domain.StreamParams, workerID int, partition string) string {
	streamType := params.StreamType
	if streamType == "" {
		streamType = domain.StreamTypeLogs
	}
	return filepath.Join(
		m.cfg.Dir,
		params.OrgID,
		streamType.String(),
		params.StreamName,
		strconv.Itoa(workerID),
		strings.ReplaceAll(partition, "/", "_")+".json",
	)
}

// active returns the open file for path, opening it if needed. Callers hold mu.
func (m *Manager) active(path string) (*activeFile, error) {
	if af, ok := m.files[path]; ok {
		return af, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create partition directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	af := &activeFile{path: path, f: f, size: info.Size(), opened: m.now()}
	m.files[path] = af
	return af, nil
}

// Rotate seals every active file that reached the configured age or size and
// returns the paths of the sealed files.
func (m *Manager) Rotate(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var sealed []string
	for path, af := range m.files {
		expired := m.cfg.MaxAge > 0 && now.Sub(af.opened) >= m.cfg.MaxAge
		full := m.cfg.MaxSize > 0 && af.size >= m.cfg.MaxSize
		if !expired && !full {
			continue
		}
		dst, err := m.seal(af)
		if err != nil {
			return sealed, err
		}
		delete(m.files, path)
		sealed = append(sealed, dst)
	}
	sort.Strings(sealed)
	if len(sealed) > 0 {
		m.logger.Info("sealed wal files", "count", len(sealed))
	}
	return sealed, nil
}

// seal closes af and moves it to {dir}/sealed/{minTS}_{uuid}.json. Callers
// hold mu.
func (m *Manager) seal(af *activeFile) (string, error) {
	if err := af.f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", af.path, err)
	}
	dir := filepath.Join(filepath.Dir(af.path), sealedDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create sealed directory: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%d_%s.json", af.minTS, uuid.NewString()))
	if err := os.Rename(af.path, dst); err != nil {
		return "", fmt.Errorf("seal %s: %w", af.path, err)
	}
	return dst, nil
}

// Close seals every active file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, af := range m.files {
		if _, err := m.seal(af); err != nil {
			return err
		}
		delete(m.files, path)
	}
	return nil
}

// ActiveFiles returns the number of open files.
func (m *Manager) ActiveFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
