// Package syncer pulls readings from the local gateway or the cloud API and
// commits them to storage.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/metrics"
	"github.com/solaranalyzer/solaranalyzer/pkg/pvs"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// DefaultBatchSize is the number of staged readings committed at once during
// a historical import.
const DefaultBatchSize = 100

// recordTimeout bounds writing the outcome of a call once it has finished.
const recordTimeout = 5 * time.Second

// LocalGateway is the subset of the PVS client used for syncing.
type LocalGateway interface {
	TestConnection(ctx context.Context) error
	GetDeviceList(ctx context.Context) (pvs.DeviceList, error)
}

// CloudAPI is the subset of the MySunPower client used for syncing.
type CloudAPI interface {
	TestConnection(ctx context.Context) error
	GetCurrentPower(ctx context.Context) (*sunpower.CurrentPower, error)
	GetEnergyData(ctx context.Context, start, end time.Time, interval string) ([]json.RawMessage, error)
}

// Broadcaster receives committed readings and alerts for live clients.
type Broadcaster interface {
	PublishReading(r types.Reading)
	PublishAlert(level types.StatusLevel, component, message string)
}

var sourceTypes = map[string]string{
	types.SourceLocal: "local",
	types.SourceCloud: "cloud",
}

// Orchestrator runs single sync calls. Calls are independent of each other
// and may run concurrently.
type Orchestrator struct {
	local     LocalGateway
	cloud     CloudAPI
	db        storage.Database
	live      Broadcaster
	batchSize int
	now       func() time.Time
}

// New returns an orchestrator committing to db and publishing to live.
func New(local LocalGateway, cloud CloudAPI, db storage.Database, live Broadcaster) *Orchestrator {
	return &Orchestrator{
		local:     local,
		cloud:     cloud,
		db:        db,
		live:      live,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// SetBatchSize changes the import batch size. Values below 1 are ignored.
func (o *Orchestrator) SetBatchSize(n int) {
	if n > 0 {
		o.batchSize = n
	}
}

// SyncLocal fetches the device list from the gateway and commits one reading
// plus one panel reading per inverter.
func (o *Orchestrator) SyncLocal(ctx context.Context) (types.SyncResult, error) {
	started := o.now()
	res := &types.SyncResult{Source: types.SourceLocal, State: types.SyncIdle}

	res.Enter(types.SyncConnecting)
	if err := o.local.TestConnection(ctx); err != nil {
		return o.unavailable(ctx, res, started, err)
	}

	res.Enter(types.SyncFetching)
	list, err := o.local.GetDeviceList(ctx)
	if err != nil {
		return o.unavailable(ctx, res, started, err)
	}

	res.Enter(types.SyncNormalizing)
	devices, bad := list.Decode(ctx)
	res.Skipped = bad
	snap := pvs.Normalize(devices)

	ts := started.UTC().Truncate(time.Second)
	reading := snap.Reading(ts)
	panels := make([]types.PanelReading, 0, len(snap.Inverters))
	for i, inv := range snap.Inverters {
		p, err := inv.PanelReading(ts)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping inverter", slog.Int("index", i), slog.String("model", inv.Model), slog.Any("error", err))
			res.Skipped++
			continue
		}
		panels = append(panels, p)
	}

	res.Enter(types.SyncPersisting)
	w, err := o.db.WriteBatch(ctx, []types.Reading{reading}, panels)
	if err != nil {
		return o.storeFailed(ctx, res, started, err)
	}
	res.Apply(w)
	res.Batches++
	if w.ReadingsInserted > 0 {
		o.live.PublishReading(reading)
	}

	if res.Skipped > 0 || snap.MalformedFields > 0 {
		res.Enter(types.SyncPartialFailure)
	} else {
		res.Enter(types.SyncCommitted)
	}
	res.Message = fmt.Sprintf(
		"stored %d readings and %d panels from %d inverters (%d duplicates, %d skipped, %d malformed fields)",
		res.ReadingsInserted, res.PanelsInserted, len(snap.Inverters), res.Duplicates, res.Skipped, snap.MalformedFields,
	)
	return o.finish(ctx, res, started, nil)
}

// SyncCloud fetches the current power snapshot from the cloud API and
// commits it as one reading. A site without current power commits nothing.
func (o *Orchestrator) SyncCloud(ctx context.Context) (types.SyncResult, error) {
	started := o.now()
	res := &types.SyncResult{Source: types.SourceCloud, State: types.SyncIdle}

	res.Enter(types.SyncConnecting)
	if err := o.cloud.TestConnection(ctx); err != nil {
		return o.unavailable(ctx, res, started, err)
	}

	res.Enter(types.SyncFetching)
	current, err := o.cloud.GetCurrentPower(ctx)
	if err != nil {
		return o.unavailable(ctx, res, started, err)
	}

	res.Enter(types.SyncNormalizing)
	if current == nil {
		res.Enter(types.SyncCommitted)
		res.Message = "no current power reported"
		return o.finish(ctx, res, started, nil)
	}
	reading, err := current.Reading()
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping current power", slog.Any("error", err))
		res.Skipped++
		res.Enter(types.SyncPartialFailure)
		res.Message = "current power could not be converted"
		res.Error = err.Error()
		return o.finish(ctx, res, started, nil)
	}

	res.Enter(types.SyncPersisting)
	w, err := o.db.WriteBatch(ctx, []types.Reading{reading}, nil)
	if err != nil {
		return o.storeFailed(ctx, res, started, err)
	}
	res.Apply(w)
	res.Batches++
	if w.ReadingsInserted > 0 {
		o.live.PublishReading(reading)
	}

	res.Enter(types.SyncCommitted)
	res.Message = fmt.Sprintf("stored %d readings (%d duplicates)", res.ReadingsInserted, res.Duplicates)
	return o.finish(ctx, res, started, nil)
}

// ImportHistory fetches the cloud energy series between start and end and
// commits it in batches. Items that cannot be converted are skipped and
// counted. Imported readings are not broadcast.
func (o *Orchestrator) ImportHistory(ctx context.Context, start, end time.Time, interval string) (types.SyncResult, error) {
	started := o.now()
	res := &types.SyncResult{Source: types.SourceCloud, State: types.SyncIdle}

	res.Enter(types.SyncConnecting)
	if err := o.cloud.TestConnection(ctx); err != nil {
		return o.unavailable(ctx, res, started, err)
	}

	res.Enter(types.SyncFetching)
	series, err := o.cloud.GetEnergyData(ctx, start, end, interval)
	if err != nil {
		return o.unavailable(ctx, res, started, err)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"importing energy data",
		slog.Time("start", start),
		slog.Time("end", end),
		slog.Int("items", len(series)),
	)

	res.Enter(types.SyncNormalizing)
	staged := make([]types.Reading, 0, o.batchSize)
	for i, raw := range series {
		r, err := sunpower.SeriesReading(raw)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping energy data item", slog.Int("index", i), slog.Any("error", err))
			res.Skipped++
			continue
		}
		staged = append(staged, r)
		res.Imported++
		if len(staged) < o.batchSize {
			continue
		}
		if err := o.commit(ctx, res, staged); err != nil {
			return o.storeFailed(ctx, res, started, err)
		}
		staged = make([]types.Reading, 0, o.batchSize)
	}
	if len(staged) > 0 {
		if err := o.commit(ctx, res, staged); err != nil {
			return o.storeFailed(ctx, res, started, err)
		}
	}

	if res.Skipped > 0 {
		res.Enter(types.SyncPartialFailure)
	} else {
		res.Enter(types.SyncCommitted)
	}
	res.Message = fmt.Sprintf(
		"imported %d readings in %d batches (%d stored, %d duplicates, %d skipped)",
		res.Imported, res.Batches, res.ReadingsInserted, res.Duplicates, res.Skipped,
	)
	return o.finish(ctx, res, started, nil)
}

func (o *Orchestrator) commit(ctx context.Context, res *types.SyncResult, readings []types.Reading) error {
	if res.State != types.SyncPersisting {
		res.Enter(types.SyncPersisting)
	}
	w, err := o.db.WriteBatch(ctx, readings, nil)
	if err != nil {
		return err
	}
	res.Apply(w)
	res.Batches++
	log.Ctx(ctx).DebugContext(ctx, "committed batch", slog.Int("batch", res.Batches), slog.Int("size", len(readings)))
	return nil
}

func (o *Orchestrator) unavailable(ctx context.Context, res *types.SyncResult, started time.Time, cause error) (types.SyncResult, error) {
	err := fmt.Errorf("%s: %w: %w", res.Source, types.ErrSourceUnavailable, cause)
	res.Enter(types.SyncUnavailable)
	res.Message = fmt.Sprintf("%s is unavailable", res.Source)
	res.Error = cause.Error()
	return o.finish(ctx, res, started, err)
}

// storeFailed ends a call whose commit failed. Batches committed before the
// failure stay committed.
func (o *Orchestrator) storeFailed(ctx context.Context, res *types.SyncResult, started time.Time, cause error) (types.SyncResult, error) {
	err := cause
	if !errors.Is(err, types.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", types.ErrStoreUnavailable, cause)
	}
	err = fmt.Errorf("%s: %w", res.Source, err)
	if res.Batches > 0 {
		res.Enter(types.SyncPartialFailure)
	} else {
		res.Enter(types.SyncUnavailable)
	}
	res.Message = "failed to store readings"
	res.Error = cause.Error()
	return o.finish(ctx, res, started, err)
}

// finish records the outcome of a call in metrics, the source state and the
// status log.
func (o *Orchestrator) finish(ctx context.Context, res *types.SyncResult, started time.Time, err error) (types.SyncResult, error) {
	now := o.now().UTC()
	metrics.ObserveSync(res.Source, string(res.State), now.Sub(started))
	metrics.AddSyncItems(res.Source, "inserted", res.ReadingsInserted+res.PanelsInserted)
	metrics.AddSyncItems(res.Source, "duplicate", res.Duplicates)
	metrics.AddSyncItems(res.Source, "skipped", res.Skipped)

	level := types.StatusOK
	switch res.State {
	case types.SyncPartialFailure:
		level = types.StatusWarning
	case types.SyncUnavailable:
		level = types.StatusError
	}

	l := log.Ctx(ctx).With(
		slog.String("source", res.Source),
		slog.String("state", string(res.State)),
		slog.String("message", res.Message),
	)
	switch level {
	case types.StatusOK:
		l.InfoContext(ctx, "sync finished")
	case types.StatusWarning:
		l.WarnContext(ctx, "sync finished with skipped items", slog.Int("skipped", res.Skipped))
	default:
		l.ErrorContext(ctx, "sync failed", slog.Any("error", err))
	}

	state := types.SourceState{
		Name:      res.Source,
		Type:      sourceTypes[res.Source],
		UpdatedAt: now,
	}
	if err == nil {
		state.LastSuccessfulFetch = now
	} else {
		state.LastError = err.Error()
	}

	// the call's context may already be past its deadline
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if serr := o.db.UpsertSourceState(rctx, state); serr != nil {
		l.WarnContext(ctx, "failed to update source state", slog.Any("error", serr))
	}

	status := types.SystemStatus{
		Timestamp: now,
		Status:    level,
		Component: res.Source,
		Message:   res.Message,
	}
	if serr := o.db.InsertStatus(rctx, status); serr != nil {
		l.WarnContext(ctx, "failed to record sync status", slog.Any("error", serr))
	}

	if res.State == types.SyncUnavailable {
		o.live.PublishAlert(types.StatusError, res.Source, res.Message)
	}
	return *res, err
}
