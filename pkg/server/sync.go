package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const defaultImportWindow = 30 * 24 * time.Hour

var importIntervals = map[string]bool{
	"hour":  true,
	"day":   true,
	"week":  true,
	"month": true,
}

type syncResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	State   types.SyncState  `json:"state"`
	Counts  types.SyncResult `json:"counts"`
}

func syncStatus(state types.SyncState) string {
	switch state {
	case types.SyncCommitted:
		return "success"
	case types.SyncPartialFailure:
		return "partial"
	}
	return "error"
}

// runSync writes the outcome of a sync call.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (types.SyncResult, error)) {
	ctx := r.Context()
	res, err := fn(ctx)
	code := http.StatusOK
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "sync request failed", slog.String("source", res.Source), slog.Any("error", err))
		code = httpStatusFor(err)
	}
	writeJSON(w, code, syncResponse{
		Status:  syncStatus(res.State),
		Message: res.Message,
		State:   res.State,
		Counts:  res,
	})
}

func (s *Server) handleSyncLocal(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, s.syncer.SyncLocal)
}

func (s *Server) handleSyncCloud(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, s.syncer.SyncCloud)
}

func (s *Server) handleSyncImport(w http.ResponseWriter, r *http.Request) {
	start, err := parseTime(r, "start")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseTime(r, "end")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-defaultImportWindow)
	}
	if !start.Before(end) {
		writeJSONError(w, "start time must be before end time", http.StatusBadRequest)
		return
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "hour"
	}
	if !importIntervals[interval] {
		writeJSONError(w, "interval must be hour, day, week or month", http.StatusBadRequest)
		return
	}

	s.runSync(w, r, func(ctx context.Context) (types.SyncResult, error) {
		return s.syncer.ImportHistory(ctx, start, end, interval)
	})
}

func (s *Server) handleCloudPanels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cloud == nil || !s.cloud.Configured() {
		writeJSONError(w, "cloud API is not configured", http.StatusServiceUnavailable)
		return
	}
	panels, err := s.cloud.GetPanels(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get cloud panels", slog.Any("error", err))
		writeJSONError(w, "failed to get cloud panels", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, panels)
}

func (s *Server) handleCloudSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cloud == nil || !s.cloud.Configured() {
		writeJSONError(w, "cloud API is not configured", http.StatusServiceUnavailable)
		return
	}
	info, err := s.cloud.GetSystemInfo(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get cloud system info", slog.Any("error", err))
		writeJSONError(w, "failed to get cloud system info", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
