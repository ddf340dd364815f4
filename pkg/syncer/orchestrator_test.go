package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/pvs"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage/storagemock"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockGateway) GetDeviceList(ctx context.Context) (pvs.DeviceList, error) {
	args := m.Called(ctx)
	return args.Get(0).(pvs.DeviceList), args.Error(1)
}

type mockCloud struct {
	mock.Mock
}

func (m *mockCloud) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockCloud) GetCurrentPower(ctx context.Context) (*sunpower.CurrentPower, error) {
	args := m.Called(ctx)
	cp, _ := args.Get(0).(*sunpower.CurrentPower)
	return cp, args.Error(1)
}

func (m *mockCloud) GetEnergyData(ctx context.Context, start, end time.Time, interval string) ([]json.RawMessage, error) {
	args := m.Called(ctx, start, end, interval)
	series, _ := args.Get(0).([]json.RawMessage)
	return series, args.Error(1)
}

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) PublishReading(r types.Reading) {
	m.Called(r)
}

func (m *mockBroadcaster) PublishAlert(level types.StatusLevel, component, message string) {
	m.Called(level, component, message)
}

var now = time.Date(2024, 6, 1, 12, 30, 15, 123456789, time.UTC)

type fixture struct {
	gw    *mockGateway
	cloud *mockCloud
	db    *storagemock.MockDatabase
	live  *mockBroadcaster
	o     *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		gw:    new(mockGateway),
		cloud: new(mockCloud),
		db:    new(storagemock.MockDatabase),
		live:  new(mockBroadcaster),
	}
	f.o = New(f.gw, f.cloud, f.db, f.live)
	f.o.now = func() time.Time { return now }
	return f
}

// expectRecord expects the source state and status written at the end of
// every call.
func (f *fixture) expectRecord(source string, level types.StatusLevel) {
	f.db.On("UpsertSourceState", mock.Anything, mock.MatchedBy(func(s types.SourceState) bool {
		if s.Name != source || !s.UpdatedAt.Equal(now) {
			return false
		}
		if level == types.StatusError {
			return s.LastError != "" && s.LastSuccessfulFetch.IsZero()
		}
		return s.LastError == "" && s.LastSuccessfulFetch.Equal(now)
	})).Return(nil).Once()
	f.db.On("InsertStatus", mock.Anything, mock.MatchedBy(func(s types.SystemStatus) bool {
		return s.Component == source && s.Status == level && s.Message != ""
	})).Return(nil).Once()
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.gw.AssertExpectations(t)
	f.cloud.AssertExpectations(t)
	f.db.AssertExpectations(t)
	f.live.AssertExpectations(t)
}

func deviceList(t *testing.T, body string) pvs.DeviceList {
	t.Helper()
	var list pvs.DeviceList
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	return list
}

type capturedBatch struct {
	readings []types.Reading
	panels   []types.PanelReading
}

func (f *fixture) captureWrites(result types.WriteResult, err error) *[]capturedBatch {
	var batches []capturedBatch
	f.db.On("WriteBatch", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		batches = append(batches, capturedBatch{
			readings: args.Get(1).([]types.Reading),
			panels:   args.Get(2).([]types.PanelReading),
		})
	}).Return(result, err)
	return &batches
}

func TestSyncLocal(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 15, 0, time.UTC)

	t.Run("Committed", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[
			{"DEVICE_TYPE":"PVS","SERIAL":"X"},
			{"DEVICE_TYPE":"Power Meter","subtype":"GROSS_PRODUCTION_SITE","p_3phsum_kw":"5.5"},
			{"DEVICE_TYPE":"Power Meter","subtype":"NET_CONSUMPTION_LOADSIDE","p_3phsum_kw":"-1.5"},
			{"DEVICE_TYPE":"Inverter","SERIAL":"INV1","MOD_SN":"MOD1","p_3phsum_kw":"0.3","t_htsnk_degc":"25.5"}
		]}`), nil)
		batches := f.captureWrites(types.WriteResult{ReadingsInserted: 1, PanelsInserted: 1}, nil)
		f.live.On("PublishReading", mock.MatchedBy(func(r types.Reading) bool {
			return r.Timestamp.Equal(ts)
		})).Return()
		f.expectRecord(types.SourceLocal, types.StatusOK)

		res, err := f.o.SyncLocal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Equal(t, []types.SyncState{
			types.SyncConnecting,
			types.SyncFetching,
			types.SyncNormalizing,
			types.SyncPersisting,
			types.SyncCommitted,
		}, res.Trace)
		assert.Equal(t, 1, res.ReadingsInserted)
		assert.Equal(t, 1, res.PanelsInserted)
		assert.Equal(t, 1, res.Batches)
		assert.Zero(t, res.Skipped)

		require.Len(t, *batches, 1)
		b := (*batches)[0]
		require.Len(t, b.readings, 1)
		assert.Equal(t, ts, b.readings[0].Timestamp)
		assert.Equal(t, 5.5, b.readings[0].ProductionKW)
		assert.Equal(t, 1.5, b.readings[0].ConsumptionKW)
		assert.Equal(t, 4.0, b.readings[0].GridKW)
		require.Len(t, b.panels, 1)
		assert.Equal(t, "INV1", b.panels[0].PanelID)
		assert.Equal(t, "MOD1", *b.panels[0].SerialNumber)
		assert.InDelta(t, 300.0, b.panels[0].PowerW, 1e-9)
		assert.Equal(t, 25.5, *b.panels[0].TemperatureC)
		f.assertExpectations(t)
	})

	t.Run("SkippedInverter", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[
			{"DEVICE_TYPE":"Inverter","SERIAL":"INV1","p_3phsum_kw":"0.2"},
			{"DEVICE_TYPE":"Inverter","p_3phsum_kw":"0.2"}
		]}`), nil)
		batches := f.captureWrites(types.WriteResult{ReadingsInserted: 1, PanelsInserted: 1}, nil)
		f.live.On("PublishReading", mock.Anything).Return()
		f.expectRecord(types.SourceLocal, types.StatusWarning)

		res, err := f.o.SyncLocal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncPartialFailure, res.State)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, *batches, 1)
		assert.Len(t, (*batches)[0].panels, 1)
		f.assertExpectations(t)
	})

	t.Run("MalformedField", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[
			{"DEVICE_TYPE":"Power Meter","subtype":"GROSS_PRODUCTION_SITE","p_3phsum_kw":"n/a"}
		]}`), nil)
		f.captureWrites(types.WriteResult{ReadingsInserted: 1}, nil)
		f.live.On("PublishReading", mock.Anything).Return()
		f.expectRecord(types.SourceLocal, types.StatusWarning)

		res, err := f.o.SyncLocal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncPartialFailure, res.State)
		f.assertExpectations(t)
	})

	t.Run("NoInverters", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[]}`), nil)
		batches := f.captureWrites(types.WriteResult{ReadingsInserted: 1}, nil)
		f.live.On("PublishReading", mock.Anything).Return()
		f.expectRecord(types.SourceLocal, types.StatusOK)

		res, err := f.o.SyncLocal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		require.Len(t, *batches, 1)
		assert.NotNil(t, (*batches)[0].panels)
		assert.Empty(t, (*batches)[0].panels)
		assert.Zero(t, res.PanelsInserted)
		f.assertExpectations(t)
	})

	t.Run("Duplicate", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[]}`), nil)
		f.captureWrites(types.WriteResult{Duplicates: 1}, nil)
		f.expectRecord(types.SourceLocal, types.StatusOK)

		res, err := f.o.SyncLocal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Equal(t, 1, res.Duplicates)
		f.live.AssertNotCalled(t, "PublishReading", mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("Unavailable", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(errors.New("connection refused"))
		f.live.On("PublishAlert", types.StatusError, types.SourceLocal, mock.Anything).Return()
		f.expectRecord(types.SourceLocal, types.StatusError)

		res, err := f.o.SyncLocal(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrSourceUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, types.SyncUnavailable, res.State)
		assert.Equal(t, []types.SyncState{types.SyncConnecting, types.SyncUnavailable}, res.Trace)
		assert.Equal(t, "connection refused", res.Error)
		f.gw.AssertNotCalled(t, "GetDeviceList", mock.Anything)
		f.db.AssertNotCalled(t, "WriteBatch", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("StoreUnavailable", func(t *testing.T) {
		f := newFixture()
		f.gw.On("TestConnection", mock.Anything).Return(nil)
		f.gw.On("GetDeviceList", mock.Anything).Return(deviceList(t, `{"devices":[]}`), nil)
		f.captureWrites(types.WriteResult{}, errors.New("database is locked"))
		f.live.On("PublishAlert", types.StatusError, types.SourceLocal, mock.Anything).Return()
		f.expectRecord(types.SourceLocal, types.StatusError)

		res, err := f.o.SyncLocal(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, types.ErrSourceUnavailable)
		assert.Equal(t, types.SyncUnavailable, res.State)
		f.live.AssertNotCalled(t, "PublishReading", mock.Anything)
		f.assertExpectations(t)
	})
}

func float(v float64) *float64 {
	return &v
}

func TestSyncCloud(t *testing.T) {
	t.Run("Committed", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetCurrentPower", mock.Anything).Return(&sunpower.CurrentPower{
			Timestamp:   "2024-06-01T12:00:00Z",
			Production:  float(4200),
			Consumption: float(1200),
			Grid:        float(3000),
			BatterySOC:  float(80),
		}, nil)
		batches := f.captureWrites(types.WriteResult{ReadingsInserted: 1}, nil)
		f.live.On("PublishReading", mock.Anything).Return()
		f.expectRecord(types.SourceCloud, types.StatusOK)

		res, err := f.o.SyncCloud(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Equal(t, 1, res.ReadingsInserted)

		require.Len(t, *batches, 1)
		r := (*batches)[0].readings[0]
		assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), r.Timestamp)
		assert.Equal(t, 4.2, r.ProductionKW)
		assert.Equal(t, 3.0, r.GridKW)
		assert.Nil(t, r.BatteryKW)
		assert.Equal(t, 80.0, *r.BatterySOC)
		assert.Nil(t, (*batches)[0].panels)
		f.assertExpectations(t)
	})

	t.Run("NoCurrentPower", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetCurrentPower", mock.Anything).Return(nil, nil)
		f.expectRecord(types.SourceCloud, types.StatusOK)

		res, err := f.o.SyncCloud(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Zero(t, res.ReadingsInserted)
		f.db.AssertNotCalled(t, "WriteBatch", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetCurrentPower", mock.Anything).Return(&sunpower.CurrentPower{Timestamp: "June 1st"}, nil)
		f.expectRecord(types.SourceCloud, types.StatusWarning)

		res, err := f.o.SyncCloud(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.SyncPartialFailure, res.State)
		assert.Equal(t, 1, res.Skipped)
		f.db.AssertNotCalled(t, "WriteBatch", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("FetchFailed", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetCurrentPower", mock.Anything).Return(nil, errors.New("status 502"))
		f.live.On("PublishAlert", types.StatusError, types.SourceCloud, mock.Anything).Return()
		f.expectRecord(types.SourceCloud, types.StatusError)

		res, err := f.o.SyncCloud(context.Background())
		assert.ErrorIs(t, err, types.ErrSourceUnavailable)
		assert.Equal(t, types.SyncUnavailable, res.State)
		f.assertExpectations(t)
	})
}

func energySeries(t *testing.T, n int, bad map[int]bool) []json.RawMessage {
	t.Helper()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	series := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		if bad[i] {
			ts = "yesterday"
		}
		series = append(series, json.RawMessage(fmt.Sprintf(
			`{"timestamp":%q,"production":%d,"consumption":500,"grid":%d}`,
			ts, i*10, i*10-500,
		)))
	}
	return series
}

func TestImportHistory(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 11)

	t.Run("Batches", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetEnergyData", mock.Anything, start, end, "hour").
			Return(energySeries(t, 250, map[int]bool{3: true, 150: true, 249: true}), nil)
		batches := f.captureWrites(types.WriteResult{}, nil)
		f.expectRecord(types.SourceCloud, types.StatusWarning)

		res, err := f.o.ImportHistory(context.Background(), start, end, "hour")
		require.NoError(t, err)
		assert.Equal(t, 247, res.Imported)
		assert.Equal(t, 3, res.Skipped)
		assert.Equal(t, 3, res.Batches)
		assert.Equal(t, types.SyncPartialFailure, res.State)

		var sizes []int
		for _, b := range *batches {
			sizes = append(sizes, len(b.readings))
		}
		assert.Equal(t, []int{100, 100, 47}, sizes)
		assert.Equal(t, start, (*batches)[0].readings[0].Timestamp)
		assert.Equal(t, 0.5, (*batches)[0].readings[1].ConsumptionKW)
		f.live.AssertNotCalled(t, "PublishReading", mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("Clean", func(t *testing.T) {
		f := newFixture()
		f.o.SetBatchSize(10)
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetEnergyData", mock.Anything, start, end, "day").
			Return(energySeries(t, 20, nil), nil)
		batches := f.captureWrites(types.WriteResult{ReadingsInserted: 8, Duplicates: 2}, nil)
		f.expectRecord(types.SourceCloud, types.StatusOK)

		res, err := f.o.ImportHistory(context.Background(), start, end, "day")
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Equal(t, 20, res.Imported)
		assert.Equal(t, 16, res.ReadingsInserted)
		assert.Equal(t, 4, res.Duplicates)
		assert.Len(t, *batches, 2)
		f.assertExpectations(t)
	})

	t.Run("Empty", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetEnergyData", mock.Anything, start, end, "hour").Return(nil, nil)
		f.expectRecord(types.SourceCloud, types.StatusOK)

		res, err := f.o.ImportHistory(context.Background(), start, end, "hour")
		require.NoError(t, err)
		assert.Equal(t, types.SyncCommitted, res.State)
		assert.Zero(t, res.Batches)
		f.db.AssertNotCalled(t, "WriteBatch", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("StoreFailsMidway", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(nil)
		f.cloud.On("GetEnergyData", mock.Anything, start, end, "hour").
			Return(energySeries(t, 250, nil), nil)
		f.db.On("WriteBatch", mock.Anything, mock.Anything, mock.Anything).Return(types.WriteResult{ReadingsInserted: 100}, nil).Once()
		f.db.On("WriteBatch", mock.Anything, mock.Anything, mock.Anything).Return(types.WriteResult{}, fmt.Errorf("insert: %w", types.ErrStoreUnavailable)).Once()
		f.db.On("UpsertSourceState", mock.Anything, mock.MatchedBy(func(s types.SourceState) bool {
			return s.LastError != "" && s.LastSuccessfulFetch.IsZero()
		})).Return(nil).Once()
		f.db.On("InsertStatus", mock.Anything, mock.MatchedBy(func(s types.SystemStatus) bool {
			return s.Status == types.StatusWarning
		})).Return(nil).Once()

		res, err := f.o.ImportHistory(context.Background(), start, end, "hour")
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.Equal(t, types.SyncPartialFailure, res.State)
		assert.Equal(t, 1, res.Batches)
		assert.Equal(t, 100, res.ReadingsInserted)
		f.db.AssertNumberOfCalls(t, "WriteBatch", 2)
	})

	t.Run("Unavailable", func(t *testing.T) {
		f := newFixture()
		f.cloud.On("TestConnection", mock.Anything).Return(errors.New("sunpower graphql error: Unauthorized"))
		f.live.On("PublishAlert", types.StatusError, types.SourceCloud, mock.Anything).Return()
		f.expectRecord(types.SourceCloud, types.StatusError)

		_, err := f.o.ImportHistory(context.Background(), start, end, "hour")
		assert.ErrorIs(t, err, types.ErrSourceUnavailable)
		f.cloud.AssertNotCalled(t, "GetEnergyData", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})
}
