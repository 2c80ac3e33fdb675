package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/picker"
	"github.com/markus-lassfolk/locnotifier/pkg/settings"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
	"github.com/markus-lassfolk/locnotifier/pkg/watcher"
)

// AuthHeader carries the API key; the "auth" query parameter is accepted too
const AuthHeader = "X-API-Key"

const searchTimeout = 30 * time.Second

// WatcherControl is the watcher service as seen by the API
type WatcherControl interface {
	Start() error
	Stop()
	IsRunning() bool
	Snapshot() watcher.Snapshot
}

// SettingsStore is the settings database as seen by the API
type SettingsStore interface {
	Dump() (map[string]interface{}, error)
	SetString(key, raw string) error
}

// PickerControl is the destination picker as seen by the API
type PickerControl interface {
	Load()
	Snapshot() picker.State
	DropPin(lat, lng float64) error
	SetRadius(meters int64) int64
	AdjustRadius(progress, zoom, maxZoom int) (int64, error)
	SetUseGPS(enabled bool)
	Search(ctx context.Context, query string, cb picker.SearchCallback) error
	SelectResult(i int) (geocode.Result, error)
	Save() (pkg.Destination, error)
}

// FixLog exposes recently received fixes
type FixLog interface {
	Recent(limit int) []telem.FixEntry
}

// ArrivalHistory exposes persisted arrivals
type ArrivalHistory interface {
	RecentArrivals(ctx context.Context, limit int) ([]pkg.Arrival, error)
}

// Config holds API server configuration
type Config struct {
	Listen  string `json:"listen"`
	KeyHash string `json:"key_hash"` // bcrypt hash of the API key; empty allows anonymous access
}

// Deps are the components served. Service, Settings and Picker are required.
type Deps struct {
	Service  WatcherControl
	Settings SettingsStore
	Picker   PickerControl
	Fixes    FixLog
	History  ArrivalHistory
	Status   http.Handler // websocket status stream
	Metrics  http.Handler
}

// Server is the control API of locnotifierd
type Server struct {
	config    Config
	deps      Deps
	logger    *logx.Logger
	startTime time.Time
	srv       *http.Server
}

// NewServer creates a new API server
func NewServer(config Config, deps Deps, logger *logx.Logger) *Server {
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Handler returns the routed, authenticated handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)

	mux.HandleFunc("GET /api/settings", s.handleSettings)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleSetSetting)

	mux.HandleFunc("GET /api/picker", s.handlePicker)
	mux.HandleFunc("POST /api/picker/load", s.handlePickerLoad)
	mux.HandleFunc("POST /api/picker/pin", s.handlePickerPin)
	mux.HandleFunc("POST /api/picker/radius", s.handlePickerRadius)
	mux.HandleFunc("POST /api/picker/adjust", s.handlePickerAdjust)
	mux.HandleFunc("POST /api/picker/gps", s.handlePickerGPS)
	mux.HandleFunc("POST /api/picker/search", s.handlePickerSearch)
	mux.HandleFunc("POST /api/picker/select", s.handlePickerSelect)
	mux.HandleFunc("POST /api/picker/save", s.handlePickerSave)

	mux.HandleFunc("GET /api/fixes", s.handleFixes)
	mux.HandleFunc("GET /api/arrivals", s.handleArrivals)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.deps.Status != nil {
		mux.Handle("GET /ws", s.deps.Status)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return s.authMiddleware(mux)
}

// authMiddleware checks the API key against the configured bcrypt hash
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.KeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		authKey := r.Header.Get(AuthHeader)
		if authKey == "" {
			authKey = r.URL.Query().Get("auth")
		}

		if authKey == "" || bcrypt.CompareHashAndPassword([]byte(s.config.KeyHash), []byte(authKey)) != nil {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			s.sendErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting control API server", "address", ln.Addr().String(), "auth", s.config.KeyHash != "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.logger.Info("Control API server stopped")
	return err
}

// sendJSONResponse sends a JSON response
func (s *Server) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// sendErrorResponse sends an error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode error response", "error", err)
	}
}

// sendDomainError maps package sentinels onto HTTP status codes
func (s *Server) sendDomainError(w http.ResponseWriter, message string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, watcher.ErrConfiguration),
		errors.Is(err, picker.ErrNoDestination),
		errors.Is(err, picker.ErrInvalidPoint),
		errors.Is(err, settings.ErrWrongType),
		errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, watcher.ErrAlreadyRunning):
		code = http.StatusConflict
	case errors.Is(err, picker.ErrInvalidResult), errors.Is(err, settings.ErrUnknownKey):
		code = http.StatusNotFound
	case errors.Is(err, geocode.ErrGeocodingUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	s.sendErrorResponse(w, code, message, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
