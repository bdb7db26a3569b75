// Package web provides the HTTP status server for the tapdial bridge.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sweeney/tapdial-bridge/internal/status"
)

// DeviceManager provisions and removes devices at runtime.
type DeviceManager interface {
	Provision(ctx context.Context, id, name string) (bool, error)
	Deprovision(ctx context.Context, id string) (bool, error)
}

// Config wires the server to the rest of the bridge. Tracker is required;
// the others disable their routes when nil.
type Config struct {
	Addr        string
	Tracker     *status.Tracker
	Metrics     http.Handler
	Hub         *Hub
	Devices     DeviceManager
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server serves the status page, JSON, metrics and the live event stream.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	hub        *Hub
	devices    DeviceManager
	logger     *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		tracker: cfg.Tracker,
		hub:     cfg.Hub,
		devices: cfg.Devices,
		logger:  cfg.Logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}).Handler)
	}

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/healthz", s.handleHealth)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if s.hub != nil {
		r.Get("/ws", s.handleWS)
	}
	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		if s.devices != nil {
			r.Post("/", s.handleProvision)
			// Friendly names may contain "/", so the id is the whole rest of the path.
			r.Delete("/*", s.handleDeprovision)
		}
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.hub != nil); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mqtt":   s.tracker.Snapshot().MQTTConnected,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.BuildInner(s.tracker.Snapshot()).Devices)
}

type provisionRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.ContainsAny(req.ID, "+#") {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	created, err := s.devices.Provision(r.Context(), req.ID, req.Name)
	if err != nil {
		s.logger.Error("provision failed", "device", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "provision failed")
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"id": req.ID, "created": created})
}

func (s *Server) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	removed, err := s.devices.Deprovision(r.Context(), id)
	if err != nil {
		s.logger.Error("deprovision failed", "device", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deprovision failed")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWS upgrades the connection and registers a client. The first frame
// is a hello listing the provisioned devices.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn, r.RemoteAddr)

	snap := s.tracker.Snapshot()
	ids := make([]string, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		ids = append(ids, d.ID)
	}
	if hello, err := s.hub.encode(MessageHello, helloData{Devices: ids}); err == nil {
		c.send <- hello
	}

	s.hub.register <- c

	// Pumps outlive the request; the hub and socket errors end them.
	go c.writePump()
	go c.readPump()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
