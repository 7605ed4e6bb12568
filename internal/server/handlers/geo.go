// internal/server/handlers/geo.go

package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/service/geocode"
)

// GeoHandler handles geospatial HTTP requests
type GeoHandler struct {
	geocoder geocode.Geocoder
	log      *zap.SugaredLogger
}

// NewGeoHandler creates a new geo handler
func NewGeoHandler(geocoder geocode.Geocoder, log *zap.SugaredLogger) *GeoHandler {
	return &GeoHandler{
		geocoder: geocoder,
		log:      log,
	}
}

// GetLocationContext returns a human-readable name for a location. Geocode
// failures degrade to a coordinate label rather than an error response.
func (h *GeoHandler) GetLocationContext(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		respondWithError(w, http.StatusBadRequest, "Missing location parameters", nil)
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid latitude", err)
		return
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid longitude", err)
		return
	}

	point := geo.Point{Latitude: lat, Longitude: lng}

	name, err := h.geocoder.NameFor(r.Context(), point)
	if err != nil {
		h.log.Debugw("reverse geocode failed", "error", err, "lat", lat, "lng", lng)
		name = geocode.FallbackLabel(point)
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"name": name})
}
