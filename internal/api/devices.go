package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zadoli/thermosync/internal/cloud"
	"github.com/zadoli/thermosync/internal/coordinator"
	"github.com/zadoli/thermosync/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxSerialLen        = 64
)

// handleListDevices returns the merged record of every tracked device,
// sorted by serial for stable output.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	store := s.controller.Store()
	if store == nil {
		writeUnavailable(w, "device state not available yet")
		return
	}

	snapshot := store.Snapshot()
	records := make([]*device.Record, 0, len(snapshot))
	for _, rec := range snapshot {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Serial < records[j].Serial
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleGetDevice returns one device's merged record. A device that is
// tracked but has not produced state yet gets a pending stub built from
// the cloud metadata.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	store := s.controller.Store()
	if store == nil {
		writeUnavailable(w, "device state not available yet")
		return
	}

	serial := chi.URLParam(r, "serial")
	if serial == "" || len(serial) > maxSerialLen {
		writeBadRequest(w, "invalid device serial")
		return
	}

	if rec, ok := store.Get(serial); ok {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	meta, ok := store.Metadata(serial)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serial_number": meta.Serial,
		"id":            meta.APIID,
		"type":          meta.Type,
		"discovered":    device.NotDiscovered,
	})
}

// handleGetDeviceHistory returns recorded snapshots for a device, newest
// first.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	store := s.controller.Store()
	if store == nil {
		writeUnavailable(w, "device state not available yet")
		return
	}

	serial := chi.URLParam(r, "serial")
	if serial == "" || len(serial) > maxSerialLen {
		writeBadRequest(w, "invalid device serial")
		return
	}

	if _, ok := store.Metadata(serial); !ok {
		writeNotFound(w, "device not found")
		return
	}

	if s.history == nil {
		writeUnavailable(w, "snapshot history is disabled")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), serial, limit)
	if err != nil {
		s.logger.Error("loading device history", "serial", serial, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serial_number": serial,
		"history":       entries,
		"count":         len(entries),
	})
}

// commandBody is the JSON body accepted on the device command endpoint.
// Exactly one of target_temperature, mode, or function must be present.
type commandBody struct {
	Relay             int      `json:"relay"`
	TargetTemperature *float64 `json:"target_temperature"`
	Mode              string   `json:"mode"`
	Function          string   `json:"function"`
}

// handleSendCommand dispatches one control command to the device via the
// cloud REST API.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	store := s.controller.Store()
	if store == nil {
		writeUnavailable(w, "device state not available yet")
		return
	}

	serial := chi.URLParam(r, "serial")
	if serial == "" || len(serial) > maxSerialLen {
		writeBadRequest(w, "invalid device serial")
		return
	}

	if _, ok := store.Metadata(serial); !ok {
		writeNotFound(w, "device not found")
		return
	}

	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid command body")
		return
	}

	cmd := cloud.Command{
		Relay:    body.Relay,
		SetPoint: body.TargetTemperature,
		Mode:     body.Mode,
		Function: body.Function,
	}

	if err := s.controller.SendCommand(r.Context(), serial, cmd); err != nil {
		switch {
		case errors.Is(err, cloud.ErrInvalidCommand):
			writeBadRequest(w, err.Error())
		case errors.Is(err, coordinator.ErrNotStarted):
			writeUnavailable(w, "device synchronization not running")
		case errors.Is(err, cloud.ErrUnauthorized):
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud rejected the command; token refresh requested")
		default:
			s.logger.Error("dispatching device command", "serial", serial, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, "command dispatch failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"serial_number": serial,
		"status":        "dispatched",
	})
}

// parseHistoryLimit parses the history limit query parameter, applying the
// default and upper bound.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
