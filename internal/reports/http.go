package reports

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	history "irrigation-cloud/internal/history/domain"
)

// WateringSampleLister loads watering samples for a device and range.
type WateringSampleLister interface {
	ListWateringSamples(ctx context.Context, deviceID string, from, to time.Time) ([]history.WateringSample, error)
}

// Handler serves watering report exports:
//
//	GET /api/v1/reports/watering.xlsx?device_id=...&from=...&to=...
//	GET /api/v1/reports/watering.pdf?device_id=...&from=...&to=...
type Handler struct {
	lister WateringSampleLister
}

// NewHandler constructs a report handler.
func NewHandler(lister WateringSampleLister) (*Handler, error) {
	if lister == nil {
		return nil, errors.New("reports handler: nil lister")
	}
	return &Handler{lister: lister}, nil
}

// ServeHTTP handles report downloads.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID := r.URL.Query().Get("device_id")
	fromValue := r.URL.Query().Get("from")
	toValue := r.URL.Query().Get("to")
	if deviceID == "" || fromValue == "" || toValue == "" {
		http.Error(w, "device_id/from/to required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	samples, err := h.lister.ListWateringSamples(r.Context(), deviceID, from, to)
	if err != nil {
		http.Error(w, "list samples error", http.StatusInternalServerError)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, ".xlsx"):
		payload, err := BuildWateringXLSX(deviceID, samples)
		if err != nil {
			http.Error(w, "build xlsx error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="watering.xlsx"`)
		_, _ = w.Write(payload)
	case strings.HasSuffix(r.URL.Path, ".pdf"):
		payload, err := BuildWateringPDF(deviceID, from, to, samples)
		if err != nil {
			http.Error(w, "build pdf error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="watering.pdf"`)
		_, _ = w.Write(payload)
	default:
		http.NotFound(w, r)
	}
}
