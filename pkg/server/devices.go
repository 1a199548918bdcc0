package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/raterudder/gridsync/pkg/engine"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
)

type deviceCommandResponse struct {
	ID   int64 `json:"id"`
	IsOn bool  `json:"isOn"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.engine.Devices()
	if devices == nil {
		devices = []types.DeviceState{}
	}
	writeJSON(w, devices)
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, "invalid device id", http.StatusBadRequest)
		return
	}

	isOn, err := s.engine.ToggleDevice(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownDevice) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to toggle device", slog.Int64("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to toggle device", http.StatusBadGateway)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device toggled", slog.Int64("deviceID", id), slog.Bool("isOn", isOn), slog.String("by", getSubject(r)))
	writeJSON(w, deviceCommandResponse{ID: id, IsOn: isOn})
}

func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, "invalid device id", http.StatusBadRequest)
		return
	}

	var req struct {
		IsOn *bool `json:"is_on"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IsOn == nil {
		writeJSONError(w, "is_on is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetDevice(ctx, id, *req.IsOn); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set device", slog.Int64("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to set device", http.StatusBadGateway)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device set", slog.Int64("deviceID", id), slog.Bool("isOn", *req.IsOn), slog.String("by", getSubject(r)))
	writeJSON(w, deviceCommandResponse{ID: id, IsOn: *req.IsOn})
}
