package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const (
	defaultReadingsLimit = 100
	maxReadingsLimit     = 1000
	panelWindow          = 5 * time.Minute
	maxBodySize          = 1 << 20
)

// parseLimit returns the limit query parameter or def when it is absent.
func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid limit: %w", err)
	}
	if n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

// parseTime parses an optional RFC 3339 query parameter.
func parseTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s time: %w", name, err)
	}
	return t, nil
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reading, err := s.storage.GetLatestReading(ctx)
	if errors.Is(err, types.ErrNotFound) {
		writeJSONError(w, "no solar data available", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest reading", slog.Any("error", err))
		writeJSONError(w, "failed to get current data", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r, defaultReadingsLimit, maxReadingsLimit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
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
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		writeJSONError(w, "start time must be before end time", http.StatusBadRequest)
		return
	}

	readings, err := s.storage.GetReadings(ctx, storage.ReadingQuery{Start: start, End: end, Limit: limit})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings", slog.Any("error", err))
		writeJSONError(w, "failed to get readings", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ts, err := time.Parse(time.RFC3339Nano, r.PathValue("timestamp"))
	if err != nil {
		writeJSONError(w, "invalid timestamp: "+err.Error(), http.StatusBadRequest)
		return
	}
	reading, err := s.storage.GetReading(ctx, ts)
	if errors.Is(err, types.ErrNotFound) {
		writeJSONError(w, "reading not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get reading", slog.Time("timestamp", ts), slog.Any("error", err))
		writeJSONError(w, "failed to get reading", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reading types.Reading
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&reading); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	reading.Timestamp = reading.Timestamp.UTC()
	if err := reading.Validate(); err != nil {
		writeJSONError(w, err.Error(), httpStatusFor(err))
		return
	}

	if err := s.storage.InsertReading(ctx, reading); err != nil {
		if errors.Is(err, types.ErrPersistenceConflict) {
			writeJSONError(w, "reading with this timestamp already exists", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert reading", slog.Any("error", err))
		writeJSONError(w, "failed to create reading", httpStatusFor(err))
		return
	}
	s.live.PublishReading(reading)
	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) handleListPanels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r, defaultReadingsLimit, maxReadingsLimit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	around, err := parseTime(r, "timestamp")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	panels, err := s.storage.GetPanelReadings(ctx, storage.PanelQuery{Around: around, Window: panelWindow, Limit: limit})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get panel readings", slog.Any("error", err))
		writeJSONError(w, "failed to get panel readings", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, panels)
}

func (s *Server) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var panel types.PanelReading
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&panel); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	panel.Timestamp = panel.Timestamp.UTC()
	if err := panel.Validate(); err != nil {
		writeJSONError(w, err.Error(), httpStatusFor(err))
		return
	}

	if err := s.storage.InsertPanelReading(ctx, panel); err != nil {
		if errors.Is(err, types.ErrPersistenceConflict) {
			writeJSONError(w, "panel reading already exists", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert panel reading", slog.String("panel", panel.PanelID), slog.Any("error", err))
		writeJSONError(w, "failed to create panel reading", httpStatusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, panel)
}
