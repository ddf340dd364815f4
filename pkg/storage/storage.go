package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

var (
	ErrNotFound            = types.ErrNotFound
	ErrPersistenceConflict = types.ErrPersistenceConflict
	ErrStoreUnavailable    = types.ErrStoreUnavailable
)

// ReadingQuery selects readings. Zero Start or End leaves that side open and a
// zero Limit returns every match. Results are newest first.
type ReadingQuery struct {
	Start time.Time
	End   time.Time
	Limit int
}

// PanelQuery selects panel readings. When Around is set only readings within
// Window of it are returned. Results are newest first.
type PanelQuery struct {
	Around time.Time
	Window time.Duration
	Limit  int
}

// LogQuery selects persisted log entries, newest first. An empty Level
// matches every level.
type LogQuery struct {
	Level string
	Limit int
}

// Database defines the interface for persisting readings and the bookkeeping
// around syncs.
type Database interface {
	// Readings
	// InsertReading returns ErrPersistenceConflict if the timestamp exists.
	InsertReading(ctx context.Context, r types.Reading) error
	GetReading(ctx context.Context, ts time.Time) (types.Reading, error)
	GetLatestReading(ctx context.Context) (types.Reading, error)
	GetReadings(ctx context.Context, q ReadingQuery) ([]types.Reading, error)

	// Panels
	// InsertPanelReading returns ErrPersistenceConflict if (timestamp, panel_id)
	// exists.
	InsertPanelReading(ctx context.Context, p types.PanelReading) error
	GetPanelReadings(ctx context.Context, q PanelQuery) ([]types.PanelReading, error)

	// WriteBatch commits readings and panel readings in one transaction. Rows
	// whose key already exists are skipped and counted as duplicates.
	WriteBatch(ctx context.Context, readings []types.Reading, panels []types.PanelReading) (types.WriteResult, error)

	// Status & sources
	InsertStatus(ctx context.Context, s types.SystemStatus) error
	GetStatuses(ctx context.Context, limit int) ([]types.SystemStatus, error)
	UpsertSourceState(ctx context.Context, s types.SourceState) error
	ListSourceStates(ctx context.Context) ([]types.SourceState, error)

	// Logs
	InsertLogEntries(ctx context.Context, entries []types.LogEntry) error
	GetLogEntries(ctx context.Context, q LogQuery) ([]types.LogEntry, error)

	// Lifecycle
	Close() error
}

// unavailable wraps a driver error so callers can match ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
