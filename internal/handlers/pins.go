package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/services"
)

type pinPayload struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

// HandleAddPin saves a pin. A pin whose name is already saved is answered with 400, as the pin
// server clients expect.
func (m Main) HandleAddPin(w http.ResponseWriter, r *http.Request) {
	var p pinPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || p.Lat == nil || p.Lon == nil {
		writeError(w, http.StatusBadRequest, "name, lat and lon are required")
		return
	}

	pin := models.LocationPin{Label: p.Name, Lat: *p.Lat, Lon: *p.Lon}
	if !pin.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := m.pins.AddPin(r.Context(), pin); err != nil {
		if errors.Is(err, services.ErrDuplicatePin) {
			writeError(w, http.StatusBadRequest, "pin already exists")
			return
		}
		m.logger.Error("Failed to add pin", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to add pin")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// HandlePins lists saved pins.
func (m Main) HandlePins(w http.ResponseWriter, r *http.Request) {
	pins, err := m.pins.Pins(r.Context())
	if err != nil {
		m.logger.Error("Failed to list pins", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list pins")
		return
	}

	out := make([]pinPayload, len(pins))
	for i, p := range pins {
		lat, lon := p.Lat, p.Lon
		out[i] = pinPayload{Name: p.Label, Lat: &lat, Lon: &lon}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
