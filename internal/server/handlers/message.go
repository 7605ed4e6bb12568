// internal/server/handlers/message.go

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
	"nearchat/internal/service/grouping"
	"nearchat/internal/service/nearby"
)

// MessageHandler handles nearby-message HTTP requests
type MessageHandler struct {
	source        message.Source
	grouper       *grouping.Grouper
	limiter       nearby.RateLimiter
	defaultRadius float64
	maxTextLength int
	log           *zap.SugaredLogger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	source message.Source,
	grouper *grouping.Grouper,
	limiter nearby.RateLimiter,
	defaultRadius float64,
	maxTextLength int,
	log *zap.SugaredLogger,
) *MessageHandler {
	return &MessageHandler{
		source:        source,
		grouper:       grouper,
		limiter:       limiter,
		defaultRadius: defaultRadius,
		maxTextLength: maxTextLength,
		log:           log,
	}
}

// GetNearby returns the one-shot nearby set for a viewer location.
func (h *MessageHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	viewer, radius, ok := h.parseViewer(w, r)
	if !ok {
		return
	}

	msgs, err := h.candidates(r, viewer, radius)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to fetch messages", err)
		return
	}

	respondWithJSON(w, http.StatusOK, nearby.Snapshot{Messages: filterVisible(viewer, radius, msgs)})
}

// GetGroups returns the nearby set bucketed into location groups.
func (h *MessageHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	viewer, radius, ok := h.parseViewer(w, r)
	if !ok {
		return
	}

	msgs, err := h.candidates(r, viewer, radius)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to fetch messages", err)
		return
	}

	groups := h.grouper.Group(filterVisible(viewer, radius, msgs))
	if groups == nil {
		groups = []grouping.LocationGroup{}
	}

	respondWithJSON(w, http.StatusOK, groups)
}

// SendMessage creates a message at the caller's location.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	type sendRequest struct {
		UserID      string   `json:"user_id"`
		DisplayName string   `json:"display_name"`
		AvatarURL   string   `json:"avatar_url"`
		Text        string   `json:"text"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Text == "" {
		respondWithError(w, http.StatusBadRequest, "Message text is required", nil)
		return
	}
	if h.maxTextLength > 0 && len(req.Text) > h.maxTextLength {
		respondWithError(w, http.StatusBadRequest, "Message text too long", nil)
		return
	}

	var at *geo.Point
	if req.Latitude != nil && req.Longitude != nil {
		at = &geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	sess := session.Session{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	}

	msg, err := nearby.Send(r.Context(), h.source, h.limiter, sess, at, h.defaultRadius, req.Text, h.log)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrLocationUnavailable):
			respondWithError(w, http.StatusUnprocessableEntity, "Sender location unknown", err)
		case errors.Is(err, message.ErrRateLimited):
			respondWithError(w, http.StatusTooManyRequests, "Send rate limit exceeded", err)
		default:
			respondWithError(w, http.StatusBadGateway, "Failed to send message", err)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, msg)
}

// parseViewer reads lat/lng/radius query parameters.
func (h *MessageHandler) parseViewer(w http.ResponseWriter, r *http.Request) (geo.Point, float64, bool) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		respondWithError(w, http.StatusBadRequest, "Missing location parameters", nil)
		return geo.Point{}, 0, false
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid latitude", err)
		return geo.Point{}, 0, false
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid longitude", err)
		return geo.Point{}, 0, false
	}

	radius := h.defaultRadius
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil || radius < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid radius", err)
			return geo.Point{}, 0, false
		}
	}

	return geo.Point{Latitude: lat, Longitude: lng}, radius, true
}

// candidates fetches, narrowed server-side when the backend supports it.
func (h *MessageHandler) candidates(r *http.Request, viewer geo.Point, radius float64) ([]message.GeoMessage, error) {
	if near, ok := h.source.(message.NearFetcher); ok {
		return near.FetchNear(r.Context(), viewer, radius)
	}
	return h.source.FetchAll(r.Context())
}

func filterVisible(viewer geo.Point, radius float64, msgs []message.GeoMessage) []message.GeoMessage {
	visible := make([]message.GeoMessage, 0, len(msgs))
	for _, m := range msgs {
		if geo.WithinRadius(&viewer, radius, m.Location) {
			visible = append(visible, m)
		}
	}
	message.SortByRecency(visible)
	return visible
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, msg string, err error) {
	response := map[string]string{"error": msg}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
