package server

import (
	"log/slog"
	"net/http"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/stats"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
)

const (
	defaultStatusLimit = 10
	maxStatusLimit     = 100
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	period, err := stats.ParsePeriod(r.PathValue("period"))
	if err != nil {
		writeJSONError(w, err.Error(), httpStatusFor(err))
		return
	}

	now := s.now()
	start, err := stats.Window(period, now, s.location)
	if err != nil {
		writeJSONError(w, err.Error(), httpStatusFor(err))
		return
	}
	readings, err := s.storage.GetReadings(ctx, storage.ReadingQuery{Start: start, End: now})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings for stats", slog.String("period", string(period)), slog.Any("error", err))
		writeJSONError(w, "failed to compute statistics", httpStatusFor(err))
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, stats.Compute(period, readings))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r, defaultStatusLimit, maxStatusLimit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	statuses, err := s.storage.GetStatuses(ctx, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get system status", slog.Any("error", err))
		writeJSONError(w, "failed to get system status", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := s.storage.ListSourceStates(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list data sources", slog.Any("error", err))
		writeJSONError(w, "failed to list data sources", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r, defaultReadingsLimit, maxReadingsLimit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := s.storage.GetLogEntries(ctx, storage.LogQuery{Level: r.URL.Query().Get("level"), Limit: limit})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get log entries", slog.Any("error", err))
		writeJSONError(w, "failed to get log entries", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
