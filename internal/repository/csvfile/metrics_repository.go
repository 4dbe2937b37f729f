// Package csvfile reads worker metrics from the CSV snapshots written by the
// slice platform's analytics service.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/repository/memory"
	"github.com/sliceorch/placement/internal/scheduler"
)

// Ensure MetricsRepository implements scheduler.MetricsRepository
var (
	_ scheduler.MetricsRepository = (*MetricsRepository)(nil)
	_ scheduler.Snapshotter       = (*MetricsRepository)(nil)
)

// Column names of the snapshot file. Other columns are ignored.
const (
	colTimestamp   = "timestamp"
	colWorker      = "worker_nombre"
	colCPUTotal    = "cpu_total"
	colCPUUsed     = "cpu_utilizado_bd"
	colRAMTotal    = "ram_total_gb"
	colRAMUsed     = "ram_utilizado_bd_gb"
	colStorageTot  = "storage_total_gb"
	colStorageUsed = "storage_utilizado_bd_gb"
)

var requiredColumns = []string{
	colTimestamp, colWorker,
	colCPUTotal, colCPUUsed,
	colRAMTotal, colRAMUsed,
	colStorageTot, colStorageUsed,
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
}

// MetricsRepository serves metrics from a CSV file. The file is parsed on
// first use and again whenever its modification time or size changes.
type MetricsRepository struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	file    string
	modTime time.Time
	size    int64
	data    *memory.MetricsRepository
}

// NewMetricsRepository creates a repository over path, which may be a file
// or a directory holding the snapshot file.
func NewMetricsRepository(path string, logger *zap.Logger) *MetricsRepository {
	return &MetricsRepository{
		path:   path,
		logger: logger.With(zap.String("repository", "csv"), zap.String("path", path)),
	}
}

// Latest returns the most recent sample of each requested worker.
func (r *MetricsRepository) Latest(ctx context.Context, workerIDs []string) (map[string]domain.WorkerSnapshot, error) {
	data, err := r.load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return map[string]domain.WorkerSnapshot{}, nil
	}
	return data.Latest(ctx, workerIDs)
}

// Window returns the worker's samples within window of its latest sample.
func (r *MetricsRepository) Window(ctx context.Context, workerID string, window time.Duration) ([]domain.WorkerSnapshot, error) {
	data, err := r.load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return data.Window(ctx, workerID, window)
}

// Snapshot returns the file as parsed now. A reload replaces the parsed data
// rather than changing it, so the view stays fixed when the file is rewritten.
func (r *MetricsRepository) Snapshot(ctx context.Context) (scheduler.MetricsRepository, error) {
	data, err := r.load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return memory.NewMetricsRepository(0), nil
	}
	return data, nil
}

// load returns the parsed file, or nil when no file exists yet.
func (r *MetricsRepository) load() (*memory.MetricsRepository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := resolveFile(r.path, r.logger)
	if err != nil {
		return nil, err
	}
	if file == "" {
		r.logger.Warn("No metrics file found")
		return nil, nil
	}

	info, err := os.Stat(file)
	if err != nil {
		return nil, fmt.Errorf("failed to stat metrics file: %w", err)
	}
	if r.data != nil && file == r.file && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		return r.data, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer f.Close()

	snaps, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}

	data := memory.NewMetricsRepository(0)
	if err := data.Record(context.Background(), snaps...); err != nil {
		return nil, err
	}

	r.file, r.modTime, r.size, r.data = file, info.ModTime(), info.Size(), data
	r.logger.Info("Loaded metrics file",
		zap.String("file", file),
		zap.Int("samples", len(snaps)),
		zap.Int("workers", len(data.Workers())),
	)
	return data, nil
}

// resolveFile maps a directory to the first *.csv it holds, by name.
func resolveFile(path string, logger *zap.Logger) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat metrics path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.csv"))
	if err != nil {
		return "", fmt.Errorf("failed to list metrics directory: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		logger.Warn("More than one metrics file, using the first",
			zap.String("file", matches[0]),
			zap.Int("files", len(matches)),
		)
	}
	return matches[0], nil
}

// Parse reads snapshot rows from a CSV stream with a header line.
func Parse(in io.Reader) ([]domain.WorkerSnapshot, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrInvalidArgument, name)
		}
	}

	var snaps []domain.WorkerSnapshot
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		snap, err := parseRecord(record, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func parseRecord(record []string, index map[string]int) (domain.WorkerSnapshot, error) {
	field := func(name string) string {
		i := index[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var snap domain.WorkerSnapshot
	snap.WorkerID = field(colWorker)
	if snap.WorkerID == "" {
		return snap, fmt.Errorf("%w: empty worker name", domain.ErrInvalidArgument)
	}

	ts, err := parseTimestamp(field(colTimestamp))
	if err != nil {
		return snap, err
	}
	snap.Timestamp = ts

	numbers := []struct {
		col string
		dst *float64
	}{
		{colCPUTotal, &snap.CPUTotal},
		{colCPUUsed, &snap.CPUUsed},
		{colRAMTotal, &snap.RAMTotalGB},
		{colRAMUsed, &snap.RAMUsedGB},
		{colStorageTot, &snap.StorageTotalGB},
		{colStorageUsed, &snap.StorageUsedGB},
	}
	for _, n := range numbers {
		raw := field(n.col)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return snap, fmt.Errorf("%w: column %s: %q is not a number", domain.ErrInvalidArgument, n.col, raw)
		}
		*n.dst = v
	}
	return snap, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", domain.ErrInvalidArgument, raw)
}
