package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/skycast-app/skycast/internal/http/response"
	"github.com/skycast-app/skycast/internal/weather"
)

type WeatherHandler struct {
	weather *weather.Service
}

func NewWeatherHandler(svc *weather.Service) *WeatherHandler {
	return &WeatherHandler{weather: svc}
}

type weatherResponse struct {
	*weather.Report
	Cached bool `json:"cached"`
}

func (h *WeatherHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "city is required", nil)
		return
	}
	state, ok := parseState(q.Get("state"))
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "state must be a 2-letter code (e.g., TX)", nil)
		return
	}
	units, ok := parseUnits(q.Get("units"))
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "units must be 'metric' or 'imperial'", nil)
		return
	}

	report, cached, err := h.weather.Get(r.Context(), city, state, units)
	if err != nil {
		switch {
		case errors.Is(err, weather.ErrLocationNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "location not found", nil)
		case errors.Is(err, weather.ErrUpstream):
			response.Error(w, r, http.StatusBadGateway, "BAD_GATEWAY", "weather lookup failed", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, weatherResponse{Report: report, Cached: cached})
}

func parseState(raw string) (string, bool) {
	state := strings.ToUpper(strings.TrimSpace(raw))
	if len(state) != 2 {
		return "", false
	}
	for _, r := range state {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return state, true
}

func parseUnits(raw string) (string, bool) {
	units := strings.ToLower(strings.TrimSpace(raw))
	if units == "" {
		return "metric", true
	}
	if units == "metric" || units == "imperial" {
		return units, true
	}
	return "", false
}
