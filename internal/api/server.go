// Package api provides the gateway's HTTP API and websocket event stream
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eneverre/eneverre/internal/auth"
	"github.com/eneverre/eneverre/internal/camera"
	"github.com/eneverre/eneverre/internal/control"
	"github.com/eneverre/eneverre/internal/events"
	"github.com/eneverre/eneverre/internal/logging"
	"github.com/eneverre/eneverre/internal/relay"
)

const (
	greeting       = "Hi, I'm a super awesome NVR!!"
	maxAuthBody    = 64 * 1024
	defaultLogTail = 100
	requestTimeout = 60 * time.Second
)

// HealthCheck reports the state of one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the components served by the API. Optional ones may be nil.
type Deps struct {
	Cameras  *camera.Registry
	Control  *control.Dispatcher
	Playback *relay.Proxy
	Relay    *auth.Gateway
	Basic    *auth.Basic

	Audit   *events.Store
	Hub     *Hub
	Metrics http.Handler
	Logs    *logging.RingBuffer
	Checks  map[string]HealthCheck

	CORSOrigins []string
}

// Server holds the HTTP handlers
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the API server
func NewServer(deps Deps) *Server {
	return &Server{
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}
}

// Router builds the chi router with every route and middleware
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(s.deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.deps.Basic.OnDeny(func(w http.ResponseWriter, r *http.Request) {
		Unauthorized(w, "Unauthorized")
	})

	// Open routes; /api/auth is called by the relay itself
	r.Get("/api", s.handleGreeting)
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/auth", s.handleRelayAuth)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Basic.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/api/cameras", s.handleListCameras)
			r.Post("/api/camera/{id}/ptz/{action}", s.handlePTZ)
			r.Post("/api/camera/{id}/privacy", s.handlePrivacy)
			r.Get("/api/camera/{id}/playback/list", s.handlePlaybackList)
			r.Get("/api/events", s.handleListEvents)
			r.Get("/api/logs", s.handleLogs)
		})

		// Streaming routes are bounded by the relay timeout or live forever
		r.Get("/api/camera/{id}/playback/get", s.handlePlaybackGet)
		if s.deps.Hub != nil {
			r.Get("/api/events/ws", s.deps.Hub.HandleWebSocket)
		}
		if s.deps.Metrics != nil {
			r.Handle("/metrics", s.deps.Metrics)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"message": greeting})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	OK(w, map[string]interface{}{
		"status":  status,
		"relay":   s.deps.Playback != nil && s.deps.Playback.Enabled(),
		"cameras": s.deps.Cameras.Len(),
		"checks":  checks,
	})
}

type relayAuthRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// handleRelayAuth answers the relay's per-viewer authentication callback
func (s *Server) handleRelayAuth(w http.ResponseWriter, r *http.Request) {
	var req relayAuthRequest
	body := http.MaxBytesReader(w, r.Body, maxAuthBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		// fail closed: a malformed callback is checked as empty credentials
		req = relayAuthRequest{}
	}

	switch s.deps.Relay.Authenticate(req.User, req.Password) {
	case auth.Authorized:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Authorized")
	case auth.Unauthorized:
		Unauthorized(w, "Unauthorized")
	default:
		NotFound(w, "Relay integration not configured")
	}
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	OK(w, s.deps.Cameras.List())
}

func (s *Server) handlePTZ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.deps.Control.PTZ(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "action"), q.Get("x"), q.Get("y"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handlePrivacy(w http.ResponseWriter, r *http.Request) {
	enable := r.URL.Query().Get("enable") == "true"

	desc, err := s.deps.Control.Privacy(r.Context(), chi.URLParam(r, "id"), enable)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	OK(w, desc)
}

func (s *Server) handlePlaybackList(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Playback.ListRecordings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.relayResponse(w, resp)
}

func (s *Server) handlePlaybackGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.deps.Playback.GetRecording(r.Context(), chi.URLParam(r, "id"), q.Get("start"), q.Get("duration"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.relayResponse(w, resp)
}

// relayResponse copies a relay answer to the client unchanged
func (s *Server) relayResponse(w http.ResponseWriter, resp *relay.Response) {
	defer resp.Body.Close()

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if n, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("Playback stream interrupted", "bytes", n, "error", err)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		NotFound(w, "Audit store not configured")
		return
	}

	opts := events.ListOptions{CameraID: r.URL.Query().Get("camera")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	list, err := s.deps.Audit.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list control events", "error", err)
		InternalError(w, "Failed to list events")
		return
	}
	JSONWithMeta(w, http.StatusOK, list, &Meta{Total: len(list), Limit: effectiveLimit(opts.Limit)})
}

func effectiveLimit(n int) int {
	switch {
	case n <= 0:
		return events.DefaultListLimit
	case n > events.MaxListLimit:
		return events.MaxListLimit
	default:
		return n
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		NotFound(w, "Log buffer not configured")
		return
	}

	n := defaultLogTail
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		n = parsed
	}
	OK(w, s.deps.Logs.Recent(n))
}
