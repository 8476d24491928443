package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	wateringapp "irrigation-cloud/internal/watering/application"
	watering "irrigation-cloud/internal/watering/domain"
)

// Handler provides the manual watering HTTP endpoints:
//
//	POST /api/v1/watering/start
//	POST /api/v1/watering/stop
//	POST /api/v1/watering/reboot
//	GET  /api/v1/watering/status?device_id=...
//	GET  /api/v1/watering/acks?correlation_id=...
//	GET  /api/v1/watering/acks/wait?correlation_id=...&timeout_s=...
type Handler struct {
	service *wateringapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *wateringapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("watering handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP routes by path suffix.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/start"):
		h.post(w, r, h.handleStart)
	case strings.HasSuffix(r.URL.Path, "/stop"):
		h.post(w, r, h.handleStop)
	case strings.HasSuffix(r.URL.Path, "/reboot"):
		h.post(w, r, h.handleReboot)
	case strings.HasSuffix(r.URL.Path, "/acks/wait"):
		h.get(w, r, h.handleWaitAck)
	case strings.HasSuffix(r.URL.Path, "/acks"):
		h.get(w, r, h.handleGetAck)
	case strings.HasSuffix(r.URL.Path, "/status"):
		h.get(w, r, h.handleStatus)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req wateringapp.StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	resp, err := h.service.Start(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := decodeDeviceID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Stop(r.Context(), deviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) handleReboot(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := decodeDeviceID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Reboot(r.Context(), deviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id required", http.StatusBadRequest)
		return
	}
	view, err := h.service.Status(r.Context(), deviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, view)
}

func (h *Handler) handleGetAck(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		http.Error(w, "correlation_id required", http.StatusBadRequest)
		return
	}
	ack, found, err := h.service.GetAck(r.Context(), correlationID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !found {
		// Not yet answered; distinct from a stored rejection.
		http.Error(w, "ack not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ack)
}

func (h *Handler) handleWaitAck(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		http.Error(w, "correlation_id required", http.StatusBadRequest)
		return
	}
	timeout := 5 * time.Second
	if value := r.URL.Query().Get("timeout_s"); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			http.Error(w, "timeout_s must be a positive integer", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(seconds) * time.Second
	}
	ack, err := h.service.WaitForAck(r.Context(), correlationID, timeout)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, ack)
}

func decodeDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return "", false
	}
	defer r.Body.Close()

	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return "", false
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id required", http.StatusBadRequest)
		return "", false
	}
	return req.DeviceID, true
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, watering.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, watering.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, watering.ErrTransportUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, watering.ErrPublishFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, watering.ErrWaitTimeout):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
