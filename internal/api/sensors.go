package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leonorpan/iot-fe/internal/dashboard"
	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/socket"
)

// FilterRequest is the body of PUT /filter.
type FilterRequest struct {
	ConnectedOnly *bool `json:"connected_only"`
}

// Command outcomes reported in CommandResponse.Status.
const (
	CommandStatusSent    = "sent"
	CommandStatusDropped = "dropped"
)

// CommandResponse reports what happened to a command handed to the sensor
// feed. Status is "dropped" when the feed was not open.
type CommandResponse struct {
	Status  string         `json:"status"`
	Command socket.Command `json:"command"`
}

func commandResponse(d dashboard.Dispatch) CommandResponse {
	status := CommandStatusSent
	if !d.Sent {
		status = CommandStatusDropped
	}
	return CommandResponse{Status: status, Command: d.Command}
}

// handleStatus returns the connection status and visible sensors.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.View())
}

// handleListSensors returns the sensors visible under the current filter.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	sensors := s.dashboard.Sensors()
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors, "count": len(sensors)})
}

// handleGetSensor returns one sensor, visible or not.
func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.dashboard.Sensor(id)
	if err != nil {
		if errors.Is(err, dashboard.ErrSensorNotFound) {
			writeNotFound(w, "sensor not found")
			return
		}
		writeInternalError(w, "failed to get sensor")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleSetFilter toggles the connected-only view and returns the new view.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ConnectedOnly == nil {
		writeBadRequest(w, "connected_only is required")
		return
	}

	s.dashboard.SetFilter(*req.ConnectedOnly)
	writeJSON(w, http.StatusOK, s.dashboard.View())
}

// handleToggleSensor sends disconnect to a connected sensor and connect
// otherwise.
func (s *Server) handleToggleSensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.dashboard.Toggle(id)
	if err != nil {
		s.writeCommandError(w, id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, commandResponse(d))
}

// handleSendCommand forwards {"command","id"} to the sensor server as-is.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var cmd socket.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.dashboard.SendCommand(cmd)
	if err != nil {
		s.writeCommandError(w, cmd.ID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, commandResponse(d))
}

func (s *Server) writeCommandError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, dashboard.ErrSensorNotFound):
		writeNotFound(w, "sensor not found")
	case errors.Is(err, socket.ErrInvalidCommand):
		writeValidationError(w, err.Error())
	case errors.Is(err, socket.ErrSendFailed):
		s.logger.Warn("command send failed", "sensor_id", id, "error", err)
		writeUnavailable(w, "sensor server unreachable")
	default:
		s.logger.Error("command failed", "sensor_id", id, "error", err)
		writeInternalError(w, "failed to send command")
	}
}

// handleSensorHistory returns journaled records for a sensor, newest first.
//
// Query parameters:
//   - limit: number of entries, 1 to 500 (default 50)
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.dashboard.History(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, dashboard.ErrHistoryDisabled) {
			writeUnavailable(w, "history is disabled")
			return
		}
		s.logger.Error("reading sensor history failed", "sensor_id", id, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"sensor_id": id, "entries": entries, "count": len(entries)})
}
