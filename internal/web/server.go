// Package web serves the JSON API and the live event stream of the driver.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zwave-go-home/internal/automation"
	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/scales"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket and CORS origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithScales sets the table used to label meter readings.
func WithScales(table *scales.Table) ServerOption {
	return func(s *Server) {
		s.scales = table
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the API.
type Server struct {
	drv            *driver.Driver
	scales         *scales.Table
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and subscribes it to driver events.
func NewServer(drv *driver.Driver, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		drv:    drv,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scales == nil {
		s.scales = scales.Default()
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = drv.Events().OnAll(s.wsHub.Publish)

	s.routes()
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.HandleFunc("GET /api/classes", s.handleAPIListClasses)
	s.mux.HandleFunc("GET /api/scales", s.handleAPIListScales)
	s.mux.HandleFunc("POST /api/decode", s.handleAPIDecode)

	s.mux.HandleFunc("GET /api/nodes", s.handleAPIListNodes)
	s.mux.HandleFunc("GET /api/nodes/{id}", s.handleAPIGetNode)
	s.mux.HandleFunc("PATCH /api/nodes/{id}", s.handleAPIRenameNode)
	s.mux.HandleFunc("DELETE /api/nodes/{id}", s.handleAPIDeleteNode)
	s.mux.HandleFunc("GET /api/nodes/{id}/values", s.handleAPINodeValues)
	s.mux.HandleFunc("PUT /api/nodes/{id}/versions", s.handleAPISetVersion)
	s.mux.HandleFunc("POST /api/nodes/{id}/meter", s.handleAPIMeterGet)
	s.mux.HandleFunc("POST /api/nodes/{id}/meter/reset", s.handleAPIMeterReset)
	s.mux.HandleFunc("PUT /api/nodes/{id}/wake-up-interval", s.handleAPISetWakeUpInterval)

	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.withScripts(s.handleAPIGetAutomation))
	s.mux.HandleFunc("POST /api/automations", s.withScripts(s.handleAPICreateAutomation))
	s.mux.HandleFunc("PUT /api/automations/{id}", s.withScripts(s.handleAPIUpdateAutomation))
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.withScripts(s.handleAPIDeleteAutomation))
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.withScripts(s.handleAPIToggleAutomation))
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.withScripts(s.handleAPIRunAutomation))

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers from a browser, so
	// only /api/ is key-protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body of at most 1 MB into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}
