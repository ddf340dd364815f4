package storage

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"math"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatabase runs the behavior every provider must share against an empty
// database.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ReadingRoundTrip", func(t *testing.T) {
		r := types.Reading{
			Timestamp:     base,
			ProductionKW:  5.123456789012345,
			ConsumptionKW: 0.1 + 0.2,
			GridKW:        -math.Pi,
			BatteryKW:     types.Float64(-1.5e-7),
			BatterySOC:    types.Float64(99.99),
		}
		require.NoError(t, db.InsertReading(ctx, r))

		got, err := db.GetReading(ctx, base)
		require.NoError(t, err)
		assert.True(t, base.Equal(got.Timestamp))
		assert.Equal(t, math.Float64bits(r.ProductionKW), math.Float64bits(got.ProductionKW))
		assert.Equal(t, math.Float64bits(r.ConsumptionKW), math.Float64bits(got.ConsumptionKW))
		assert.Equal(t, math.Float64bits(r.GridKW), math.Float64bits(got.GridKW))
		require.NotNil(t, got.BatteryKW)
		assert.Equal(t, math.Float64bits(*r.BatteryKW), math.Float64bits(*got.BatteryKW))
		require.NotNil(t, got.BatterySOC)
		assert.Equal(t, *r.BatterySOC, *got.BatterySOC)

		err = db.InsertReading(ctx, r)
		assert.ErrorIs(t, err, ErrPersistenceConflict)
	})

	t.Run("ReadingNotFound", func(t *testing.T) {
		_, err := db.GetReading(ctx, base.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReadingsRange", func(t *testing.T) {
		for i := 1; i <= 4; i++ {
			require.NoError(t, db.InsertReading(ctx, types.Reading{
				Timestamp:    base.Add(time.Duration(i) * time.Minute),
				ProductionKW: float64(i),
			}))
		}

		all, err := db.GetReadings(ctx, ReadingQuery{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.True(t, all[0].Timestamp.Equal(base.Add(4*time.Minute)), "newest first")
		assert.Nil(t, all[0].BatteryKW)
		assert.Nil(t, all[0].BatterySOC)

		ranged, err := db.GetReadings(ctx, ReadingQuery{
			Start: base.Add(time.Minute),
			End:   base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, ranged, 3)
		assert.Equal(t, 3.0, ranged[0].ProductionKW)
		assert.Equal(t, 1.0, ranged[2].ProductionKW)

		limited, err := db.GetReadings(ctx, ReadingQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		latest, err := db.GetLatestReading(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4.0, latest.ProductionKW)
	})

	t.Run("Panels", func(t *testing.T) {
		p := types.PanelReading{
			Timestamp:    base,
			PanelID:      "INV1",
			SerialNumber: types.String("MOD1"),
			PowerW:       300,
			VoltageV:     types.Float64(240.5),
			TemperatureC: types.Float64(25.5),
		}
		require.NoError(t, db.InsertPanelReading(ctx, p))
		assert.ErrorIs(t, db.InsertPanelReading(ctx, p), ErrPersistenceConflict)

		other := types.PanelReading{Timestamp: base.Add(time.Hour), PanelID: "INV1", PowerW: 10}
		require.NoError(t, db.InsertPanelReading(ctx, other))

		panels, err := db.GetPanelReadings(ctx, PanelQuery{Around: base.Add(2 * time.Minute), Window: 5 * time.Minute, Limit: 100})
		require.NoError(t, err)
		require.Len(t, panels, 1)
		assert.Equal(t, "INV1", panels[0].PanelID)
		require.NotNil(t, panels[0].SerialNumber)
		assert.Equal(t, "MOD1", *panels[0].SerialNumber)
		assert.Equal(t, 240.5, *panels[0].VoltageV)
		assert.Nil(t, panels[0].CurrentA)

		all, err := db.GetPanelReadings(ctx, PanelQuery{Limit: 100})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("WriteBatch", func(t *testing.T) {
		ts := base.Add(24 * time.Hour)
		readings := []types.Reading{{Timestamp: ts, ProductionKW: 1}}
		panels := []types.PanelReading{
			{Timestamp: ts, PanelID: "A", PowerW: 1},
			{Timestamp: ts, PanelID: "B", PowerW: 2},
		}

		res, err := db.WriteBatch(ctx, readings, panels)
		require.NoError(t, err)
		assert.Equal(t, types.WriteResult{ReadingsInserted: 1, PanelsInserted: 2}, res)

		panels = append(panels, types.PanelReading{Timestamp: ts, PanelID: "C", PowerW: 3})
		res, err = db.WriteBatch(ctx, readings, panels)
		require.NoError(t, err)
		assert.Equal(t, types.WriteResult{PanelsInserted: 1, Duplicates: 3}, res)

		res, err = db.WriteBatch(ctx, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, res)
	})

	t.Run("Statuses", func(t *testing.T) {
		for i, lvl := range []types.StatusLevel{types.StatusOK, types.StatusWarning, types.StatusError} {
			require.NoError(t, db.InsertStatus(ctx, types.SystemStatus{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Status:    lvl,
				Component: types.SourceLocal,
				Message:   string(lvl),
			}))
		}
		statuses, err := db.GetStatuses(ctx, 2)
		require.NoError(t, err)
		require.Len(t, statuses, 2)
		assert.Equal(t, types.StatusError, statuses[0].Status)
		assert.Equal(t, types.StatusWarning, statuses[1].Status)
	})

	t.Run("Sources", func(t *testing.T) {
		fetched := base.Add(time.Minute)
		require.NoError(t, db.UpsertSourceState(ctx, types.SourceState{
			Name:                types.SourceLocal,
			Type:                "local",
			LastSuccessfulFetch: fetched,
			UpdatedAt:           fetched,
		}))
		require.NoError(t, db.UpsertSourceState(ctx, types.SourceState{
			Name:      types.SourceLocal,
			Type:      "local",
			LastError: "connection refused",
			UpdatedAt: fetched.Add(time.Minute),
		}))
		require.NoError(t, db.UpsertSourceState(ctx, types.SourceState{
			Name:      types.SourceCloud,
			Type:      "cloud",
			UpdatedAt: fetched,
		}))

		sources, err := db.ListSourceStates(ctx)
		require.NoError(t, err)
		require.Len(t, sources, 2)
		assert.Equal(t, types.SourceLocal, sources[0].Name)
		assert.True(t, fetched.Equal(sources[0].LastSuccessfulFetch), "last success kept")
		assert.Equal(t, "connection refused", sources[0].LastError)
		assert.True(t, fetched.Add(time.Minute).Equal(sources[0].UpdatedAt))
		assert.Equal(t, types.SourceCloud, sources[1].Name)
		assert.True(t, sources[1].LastSuccessfulFetch.IsZero())
	})

	t.Run("Logs", func(t *testing.T) {
		require.NoError(t, db.InsertLogEntries(ctx, []types.LogEntry{
			{Timestamp: base, Level: "WARN", Logger: "syncer", Message: "first", Attrs: json.RawMessage(`{"a":1}`)},
			{Timestamp: base.Add(time.Second), Level: "ERROR", Logger: "syncer", Message: "second", RequestID: "req-1"},
		}))
		require.NoError(t, db.InsertLogEntries(ctx, nil))

		entries, err := db.GetLogEntries(ctx, LogQuery{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "second", entries[0].Message)
		assert.Equal(t, "req-1", entries[0].RequestID)
		assert.JSONEq(t, `{"a":1}`, string(entries[1].Attrs))

		warns, err := db.GetLogEntries(ctx, LogQuery{Level: "warn", Limit: 10})
		require.NoError(t, err)
		require.Len(t, warns, 1)
		assert.Equal(t, "first", warns[0].Message)
	})
}

func TestSQLiteProvider(t *testing.T) {
	s := NewSQLiteProvider(t.TempDir() + "/solar.db")
	require.NoError(t, s.Validate())
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	t.Run("Empty", func(t *testing.T) {
		_, err := s.GetLatestReading(context.Background())
		assert.ErrorIs(t, err, ErrNotFound)

		readings, err := s.GetReadings(context.Background(), ReadingQuery{})
		require.NoError(t, err)
		assert.NotNil(t, readings)
		assert.Empty(t, readings)
	})

	testDatabase(t, s)

	t.Run("Closed", func(t *testing.T) {
		other := NewSQLiteProvider(t.TempDir() + "/closed.db")
		require.NoError(t, other.Init(context.Background()))
		require.NoError(t, other.Close())

		_, err := other.GetLatestReading(context.Background())
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestMigrations(t *testing.T) {
	for driver, migrations := range map[string]embed.FS{
		"sqlite":   sqliteMigrations,
		"postgres": postgresMigrations,
	} {
		t.Run(driver, func(t *testing.T) {
			versions := map[string]bool{}
			err := fs.WalkDir(migrations, ".", func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				assert.Equal(t, "migrations/"+driver, path.Dir(p))
				version, _, _ := strings.Cut(path.Base(p), "_")
				assert.False(t, versions[version], "duplicate version %s", version)
				versions[version] = true
				return nil
			})
			require.NoError(t, err)
			assert.NotEmpty(t, versions)
		})
	}

	t.Run("Reopen", func(t *testing.T) {
		file := t.TempDir() + "/solar.db"
		for i := 0; i < 2; i++ {
			s := NewSQLiteProvider(file)
			require.NoError(t, s.Init(context.Background()))
			_, err := s.GetLatestReading(context.Background())
			assert.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, s.Close())
		}
	})
}

func TestSQLProviderValidate(t *testing.T) {
	assert.Error(t, NewSQLiteProvider("").Validate())
	assert.Error(t, NewPostgresProvider("").Validate())
	assert.NoError(t, NewPostgresProvider("postgres://localhost/solar").Validate())
	assert.Error(t, (&SQLProvider{driver: "mysql"}).Validate())
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?`
	assert.Equal(t, q, (&SQLProvider{driver: "sqlite"}).rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3`, (&SQLProvider{driver: "postgres"}).rebind(q))
}
