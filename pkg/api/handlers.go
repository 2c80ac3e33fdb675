package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/picker"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
	"github.com/markus-lassfolk/locnotifier/pkg/watcher"
)

var errBadRequest = errors.New("bad request")

const defaultListLimit = 50

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Running bool             `json:"running"`
	Watcher watcher.Snapshot `json:"watcher"`
	Uptime  string           `json:"uptime"`
}

// SettingValue is the body of PUT /api/settings/{key}
type SettingValue struct {
	Value string `json:"value"`
}

// PinRequest drops the staged point
type PinRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RadiusRequest sets the staged radius directly
type RadiusRequest struct {
	Meters int64 `json:"meters"`
}

// AdjustRequest moves the radius slider at the given map zoom
type AdjustRequest struct {
	Progress int `json:"progress"`
	Zoom     int `json:"zoom"`
	MaxZoom  int `json:"max_zoom"`
}

// RadiusResponse reports the staged radius after a change
type RadiusResponse struct {
	Radius int64 `json:"radius_m"`
}

// GPSRequest toggles the high-power provider for the staged destination
type GPSRequest struct {
	Enabled bool `json:"enabled"`
}

// SearchRequest geocodes a free-text query
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResponse lists geocoding results
type SearchResponse struct {
	Results []geocode.Result `json:"results"`
}

// SelectRequest stages the point of a search result
type SelectRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, StatusResponse{
		Running: s.deps.Service.IsRunning(),
		Watcher: s.deps.Service.Snapshot(),
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Service.Start(); err != nil {
		s.sendDomainError(w, "Failed to start watcher", err)
		return
	}
	s.logger.Info("Watcher started via API", "remote_addr", r.RemoteAddr)
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Service.Stop()
	s.logger.Info("Watcher stopped via API", "remote_addr", r.RemoteAddr)
	s.handleStatus(w, r)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.deps.Settings.Dump()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read settings", err)
		return
	}
	s.sendJSONResponse(w, values)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingValue
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	key := r.PathValue("key")
	if err := s.deps.Settings.SetString(key, req.Value); err != nil {
		s.sendDomainError(w, "Failed to update setting", err)
		return
	}
	s.handleSettings(w, r)
}

func (s *Server) handlePicker(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, s.deps.Picker.Snapshot())
}

func (s *Server) handlePickerLoad(w http.ResponseWriter, r *http.Request) {
	s.deps.Picker.Load()
	s.handlePicker(w, r)
}

func (s *Server) handlePickerPin(w http.ResponseWriter, r *http.Request) {
	var req PinRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	if err := s.deps.Picker.DropPin(req.Latitude, req.Longitude); err != nil {
		s.sendDomainError(w, "Failed to drop pin", err)
		return
	}
	s.handlePicker(w, r)
}

func (s *Server) handlePickerRadius(w http.ResponseWriter, r *http.Request) {
	var req RadiusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	s.sendJSONResponse(w, RadiusResponse{Radius: s.deps.Picker.SetRadius(req.Meters)})
}

func (s *Server) handlePickerAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	radius, err := s.deps.Picker.AdjustRadius(req.Progress, req.Zoom, req.MaxZoom)
	if err != nil {
		s.sendDomainError(w, "Failed to adjust radius", err)
		return
	}
	s.sendJSONResponse(w, RadiusResponse{Radius: radius})
}

func (s *Server) handlePickerGPS(w http.ResponseWriter, r *http.Request) {
	var req GPSRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	s.deps.Picker.SetUseGPS(req.Enabled)
	s.handlePicker(w, r)
}

// handlePickerSearch blocks until the picker delivers the outcome. A search
// superseded by a newer one never completes and times out here.
func (s *Server) handlePickerSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}

	type outcome struct {
		results []geocode.Result
		err     error
	}
	done := make(chan outcome, 1)

	ctx := r.Context()
	err := s.deps.Picker.Search(ctx, req.Query, func(results []geocode.Result, err error) {
		done <- outcome{results: results, err: err}
	})
	if err != nil {
		s.sendDomainError(w, "Search unavailable", err)
		return
	}

	timer := time.NewTimer(searchTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			s.sendDomainError(w, "Search failed", out.err)
			return
		}
		s.sendJSONResponse(w, SearchResponse{Results: out.results})
	case <-timer.C:
		s.sendErrorResponse(w, http.StatusGatewayTimeout, "Search did not complete", nil)
	case <-ctx.Done():
	}
}

func (s *Server) handlePickerSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendDomainError(w, "Invalid request body", err)
		return
	}
	result, err := s.deps.Picker.SelectResult(req.Index)
	if err != nil {
		s.sendDomainError(w, "Failed to select result", err)
		return
	}
	s.sendJSONResponse(w, result)
}

func (s *Server) handlePickerSave(w http.ResponseWriter, r *http.Request) {
	dest, err := s.deps.Picker.Save()
	if err != nil && !errors.Is(err, picker.ErrNoDestination) && dest.Valid() {
		// saved, but the restart failed
		s.sendErrorResponse(w, http.StatusInternalServerError, "Destination saved but watcher restart failed", err)
		return
	}
	if err != nil {
		s.sendDomainError(w, "Failed to save destination", err)
		return
	}
	s.sendJSONResponse(w, dest)
}

func (s *Server) handleFixes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fixes == nil {
		s.sendJSONResponse(w, []telem.FixEntry{})
		return
	}
	s.sendJSONResponse(w, s.deps.Fixes.Recent(listLimit(r)))
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.sendJSONResponse(w, []pkg.Arrival{})
		return
	}
	arrivals, err := s.deps.History.RecentArrivals(r.Context(), listLimit(r))
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read arrivals", err)
		return
	}
	if arrivals == nil {
		arrivals = []pkg.Arrival{}
	}
	s.sendJSONResponse(w, arrivals)
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	return limit
}
