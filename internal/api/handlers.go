// Package api provides the JSON HTTP surface of eldesmon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/collector"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/store"

	_ "github.com/darshan-rambhia/eldesmon/docs/swagger"
)

// Syncer runs passes and control requests on demand.
type Syncer interface {
	SyncCredential(ctx context.Context, credentialID int64) model.SyncPass
	Control(ctx context.Context, deviceID int64, action eldes.Action, partitionID *int, partitionName string) (collector.ControlResult, error)
}

// Scheduler is the process-wide background sync handle.
type Scheduler interface {
	Start() bool
	Started() bool
}

// Encrypter seals credential secrets before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Cache     *cache.Cache
	Store     *store.Store
	Syncer    Syncer
	Scheduler Scheduler
	Secrets   Encrypter
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Server is the HTTP server for eldesmon.
type Server struct {
	cache     *cache.Cache
	store     *store.Store
	syncer    Syncer
	scheduler Scheduler
	secrets   Encrypter
	metrics   *metrics.Metrics
	now       func() time.Time
	mux       *http.ServeMux
	server    *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(addr string, d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	srv := &Server{
		cache:     d.Cache,
		store:     d.Store,
		syncer:    d.Syncer,
		scheduler: d.Scheduler,
		secrets:   d.Secrets,
		metrics:   d.Metrics,
		now:       d.Now,
		mux:       http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:        addr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
		// A refresh or control request waits on ELDES Cloud, retries included.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(s.mux)))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /api/credentials", s.handleListCredentials)
	s.mux.HandleFunc("POST /api/credentials", s.handleCreateCredential)
	s.mux.HandleFunc("DELETE /api/credentials/{id}", s.handleDeleteCredential)
	s.mux.HandleFunc("GET /api/credentials/{id}/devices", s.handleCredentialDevices)

	s.mux.HandleFunc("GET /api/devices/{id}", s.handleDeviceDetail)
	s.mux.HandleFunc("POST /api/devices/{id}/control", s.handleControl)

	s.mux.HandleFunc("POST /api/sync/start", s.handleSyncStart)
	s.mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)

	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/widget", s.handleWidget)

	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response. This ensures marshalling errors can be returned as a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

// pathID parses the {id} path segment, answering 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler bool              `json:"scheduler_running"`
	Passes    map[string]string `json:"passes"`
}

// @Summary Health check
// @Description Returns service health and the age of each credential's last pass
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	now := s.now()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: now.Unix(),
		Database:  "ok",
		Scheduler: s.scheduler != nil && s.scheduler.Started(),
		Passes:    make(map[string]string, len(snap.Passes)),
	}
	if len(snap.Passes) == 0 {
		resp.Status = "no_data"
	}
	for id, p := range snap.Passes {
		resp.Passes[strconv.FormatInt(id, 10)] = p.Outcome + " " + now.Sub(p.FinishedAt).Round(time.Second).String() + " ago"
	}

	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Error("health check database ping", "error", err)
		resp.Status = "error"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

type widgetResponse struct {
	Credentials   int      `json:"credentials"`
	Devices       int      `json:"devices"`
	Partitions    int      `json:"partitions"`
	Armed         int      `json:"armed"`
	RateLimited   int      `json:"rate_limited"`
	AuthFailed    int      `json:"auth_failed"`
	MinTemp       *float64 `json:"min_temperature"`
	MaxTemp       *float64 `json:"max_temperature"`
	LastSuccessAt int64    `json:"last_success_at"`
}

// @Summary Dashboard widget data
// @Description Summary counts for homepage-style dashboard widgets
// @Produce json
// @Success 200 {object} widgetResponse
// @Router /api/widget [get]
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	var resp widgetResponse

	resp.Credentials = len(snap.Passes)
	for _, p := range snap.Passes {
		switch p.Outcome {
		case model.OutcomeRateLimited:
			resp.RateLimited++
		case model.OutcomeAuthFailed:
			resp.AuthFailed++
		}
	}
	for _, t := range snap.LastSuccess {
		if t.Unix() > resp.LastSuccessAt {
			resp.LastSuccessAt = t.Unix()
		}
	}

	for _, d := range snap.Devices {
		resp.Devices++
		for _, p := range d.Status.Partitions {
			resp.Partitions++
			if p.Armed {
				resp.Armed++
			}
		}
		if t := d.Status.Temperature; t != nil {
			if resp.MinTemp == nil || *t < *resp.MinTemp {
				v := *t
				resp.MinTemp = &v
			}
			if resp.MaxTemp == nil || *t > *resp.MaxTemp {
				v := *t
				resp.MaxTemp = &v
			}
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}
