package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/solaranalyzer/solaranalyzer/pkg/live"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/solaranalyzer/solaranalyzer/web"
)

// Syncer runs sync calls on demand.
type Syncer interface {
	SyncLocal(ctx context.Context) (types.SyncResult, error)
	SyncCloud(ctx context.Context) (types.SyncResult, error)
	ImportHistory(ctx context.Context, start, end time.Time, interval string) (types.SyncResult, error)
}

// CloudInfo exposes the read-only cloud queries.
type CloudInfo interface {
	Configured() bool
	GetPanels(ctx context.Context) ([]sunpower.Panel, error)
	GetSystemInfo(ctx context.Context) (sunpower.SystemInfo, error)
}

// Server serves the REST API, the live channel and the dashboard.
type Server struct {
	storage storage.Database
	syncer  Syncer
	cloud   CloudInfo
	live    *live.Manager

	listenAddr       string
	location         *time.Location
	liveIdle         time.Duration
	serverName       string
	webCacheDuration time.Duration
	httpServer       *http.Server
	now              func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, syncer Syncer, cloud CloudInfo, m *live.Manager) *Server {
	srv := &Server{
		storage:    db,
		syncer:     syncer,
		cloud:      cloud,
		live:       m,
		serverName: "solaranalyzer",
		location:   time.Local,
		now:        time.Now,
	}

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	timezone := lflag.String("stats-timezone", "Local", "IANA time zone used to find midnight for today's statistics")
	liveIdle := lflag.Duration("live-idle-interval", 30*time.Second, "Interval after which idle live clients are sent the current data")
	webCacheDuration := lflag.Duration("web-cache-duration", 0, "Duration to cache web files (e.g. 1h, 5m). 0 means no cache.")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.liveIdle = *liveIdle
		srv.webCacheDuration = *webCacheDuration

		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			log.Ctx(context.Background()).Error("invalid stats-timezone", slog.String("timezone", *timezone), slog.Any("error", err))
			os.Exit(1)
		}
		srv.location = loc
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/v1/current", s.handleCurrent)
	apiMux.HandleFunc("GET /api/v1/readings", s.handleListReadings)
	apiMux.HandleFunc("GET /api/v1/readings/{timestamp}", s.handleGetReading)
	apiMux.HandleFunc("POST /api/v1/readings", s.handleCreateReading)
	apiMux.HandleFunc("GET /api/v1/panels", s.handleListPanels)
	apiMux.HandleFunc("POST /api/v1/panels", s.handleCreatePanel)
	apiMux.HandleFunc("GET /api/v1/stats/{period}", s.handleStats)
	apiMux.HandleFunc("GET /api/v1/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/v1/sources", s.handleSources)
	apiMux.HandleFunc("GET /api/v1/logs", s.handleLogs)
	apiMux.HandleFunc("POST /api/v1/sync/local", s.handleSyncLocal)
	apiMux.HandleFunc("POST /api/v1/sync/cloud", s.handleSyncCloud)
	apiMux.HandleFunc("POST /api/v1/sync/import", s.handleSyncImport)
	apiMux.HandleFunc("GET /api/v1/cloud/panels", s.handleCloudPanels)
	apiMux.HandleFunc("GET /api/v1/cloud/system", s.handleCloudSystem)

	distFS, err := fs.Sub(web.DistFS, "dist")
	if err != nil {
		panic(fmt.Errorf("failed to get web dist fs: %w", err))
	}
	fileServer := http.FileServer(http.FS(distFS))

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(apiMux))
	mux.Handle("/", gziphandler.GzipHandler(s.webHandler(distFS, fileServer)))
	// the gzip writer cannot be hijacked so the live channel is mounted bare
	mux.Handle("GET /ws", live.NewHandler(s.live, s.storage, s.liveIdle))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.requestIDMiddleware(s.revisionMiddleware(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		ReadTimeout: 15 * time.Second,
		// imports can take a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// httpStatusFor maps an error kind to the response code.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrPersistenceConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) webHandler(dir fs.FS, h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// serve the dashboard for unknown paths
		if r.URL.Path != "/" {
			f, err := dir.Open(strings.TrimPrefix(r.URL.Path, "/"))
			if err == nil {
				f.Close()
			} else if errors.Is(err, fs.ErrNotExist) {
				if strings.HasPrefix(r.URL.Path, "/.well-known/") {
					// we don't write JSON here because we don't know what file type is expected
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				r.URL.Path = "/"
			} else {
				log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to open file", "error", err)
				// we don't write JSON here because we don't know what file type is expected
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}
		if s.webCacheDuration > 0 {
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.webCacheDuration.Seconds())))
		}

		h.ServeHTTP(w, r)
	}
}
