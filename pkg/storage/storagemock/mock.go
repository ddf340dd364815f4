package storagemock

import (
	"context"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertReading(ctx context.Context, r types.Reading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockDatabase) GetReading(ctx context.Context, ts time.Time) (types.Reading, error) {
	args := m.Called(ctx, ts)
	return args.Get(0).(types.Reading), args.Error(1)
}

func (m *MockDatabase) GetLatestReading(ctx context.Context) (types.Reading, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Reading), args.Error(1)
}

func (m *MockDatabase) GetReadings(ctx context.Context, q storage.ReadingQuery) ([]types.Reading, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Reading), args.Error(1)
}

func (m *MockDatabase) InsertPanelReading(ctx context.Context, p types.PanelReading) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDatabase) GetPanelReadings(ctx context.Context, q storage.PanelQuery) ([]types.PanelReading, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.PanelReading), args.Error(1)
}

func (m *MockDatabase) WriteBatch(ctx context.Context, readings []types.Reading, panels []types.PanelReading) (types.WriteResult, error) {
	args := m.Called(ctx, readings, panels)
	return args.Get(0).(types.WriteResult), args.Error(1)
}

func (m *MockDatabase) InsertStatus(ctx context.Context, s types.SystemStatus) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDatabase) GetStatuses(ctx context.Context, limit int) ([]types.SystemStatus, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SystemStatus), args.Error(1)
}

func (m *MockDatabase) UpsertSourceState(ctx context.Context, s types.SourceState) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDatabase) ListSourceStates(ctx context.Context) ([]types.SourceState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SourceState), args.Error(1)
}

func (m *MockDatabase) InsertLogEntries(ctx context.Context, entries []types.LogEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockDatabase) GetLogEntries(ctx context.Context, q storage.LogQuery) ([]types.LogEntry, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.LogEntry), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
