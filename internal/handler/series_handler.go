package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/omok-arena/api/internal/auth"
	"github.com/omok-arena/api/internal/model"
	"github.com/omok-arena/api/internal/service"
)

// SeriesHandler handles series lifecycle endpoints.
type SeriesHandler struct {
	seriesSvc     *service.SeriesService
	disconnectSvc *service.DisconnectService
}

// NewSeriesHandler creates a SeriesHandler.
func NewSeriesHandler(seriesSvc *service.SeriesService, disconnectSvc *service.DisconnectService) *SeriesHandler {
	return &SeriesHandler{seriesSvc: seriesSvc, disconnectSvc: disconnectSvc}
}

// validUUIDv4 accepts only the canonical 8-4-4-4-12 version-4 form.
func validUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4
}

// seriesIDFromPath validates the {id} path segment, writing a 422 on bad
// input. Returns "" when a response was already written.
func seriesIDFromPath(w http.ResponseWriter, r *http.Request) string {
	id := r.PathValue("id")
	if !validUUIDv4(id) {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "series id must be a version-4 UUID")
		return ""
	}
	return id
}

// CreateSeries handles POST /api/v1/series
func (h *SeriesHandler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player1ID string `json:"player1_id"`
		Player2ID string `json:"player2_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}
	if !validUUIDv4(req.Player1ID) || !validUUIDv4(req.Player2ID) {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "player ids must be version-4 UUIDs")
		return
	}

	series, err := h.seriesSvc.CreateSeries(r.Context(), req.Player1ID, req.Player2ID)
	if err != nil {
		if errors.Is(err, service.ErrSamePlayers) || errors.Is(err, service.ErrPlayerNotFound) {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, series)
}

// GetSeries handles GET /api/v1/series/{id}
func (h *SeriesHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}

	state, err := h.seriesSvc.GetSeries(r.Context(), seriesID)
	if err != nil {
		if errors.Is(err, service.ErrSeriesNotFound) {
			writeError(w, http.StatusNotFound, CodeSeriesNotFound, "series not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series":      state.Series,
		"is_complete": state.IsComplete,
	})
}

// ListMySeries handles GET /api/v1/series/mine
func (h *SeriesHandler) ListMySeries(w http.ResponseWriter, r *http.Request) {
	playerID := auth.PlayerIDFromContext(r.Context())
	series, err := h.seriesSvc.ListPlayerSeries(r.Context(), playerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if series == nil {
		series = []model.Series{}
	}
	writeJSON(w, http.StatusOK, series)
}

// EndGame handles POST /api/v1/series/{id}/end-game
func (h *SeriesHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}
	var req struct {
		MatchID  string `json:"match_id"`
		WinnerID string `json:"winner_id"`
		Duration int    `json:"duration"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}
	if req.WinnerID == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "winner_id is required")
		return
	}

	result, err := h.seriesSvc.EndGame(r.Context(), seriesID, req.MatchID, req.WinnerID, req.Duration)
	if err != nil {
		h.writeSeriesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResultPayload(result))
}

// Rematch handles POST /api/v1/series/{id}/rematch
func (h *SeriesHandler) Rematch(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	result, err := h.seriesSvc.RequestRematch(r.Context(), seriesID, req.PlayerID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSeriesNotFound):
			writeError(w, http.StatusNotFound, CodeSeriesNotFound, "series not found")
		case errors.Is(err, service.ErrNotInSeries):
			writeError(w, http.StatusUnprocessableEntity, CodeUnauthorized, "player is not a participant")
		case errors.Is(err, service.ErrSeriesNotCompleted):
			writeError(w, http.StatusBadRequest, CodeInvalidState, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		}
		return
	}

	payload := map[string]any{
		"rematch_accepted":     result.RematchAccepted,
		"waiting_for_opponent": result.WaitingForOpponent,
	}
	if result.NewSeries != nil {
		payload["new_series"] = result.NewSeries
	}
	writeJSON(w, http.StatusOK, payload)
}

// Disconnect handles POST /api/v1/series/{id}/disconnect
func (h *SeriesHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	result, err := h.disconnectSvc.HandleDisconnect(r.Context(), seriesID, req.PlayerID)
	if err != nil {
		h.writeSeriesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reconnect handles POST /api/v1/series/{id}/reconnect
func (h *SeriesHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	ok, err := h.disconnectSvc.HandleReconnect(r.Context(), seriesID, req.PlayerID)
	if err != nil {
		h.writeSeriesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

// Abandon handles POST /api/v1/series/{id}/abandon
func (h *SeriesHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	seriesID := seriesIDFromPath(w, r)
	if seriesID == "" {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	result, err := h.disconnectSvc.HandleAbandon(r.Context(), seriesID, req.PlayerID)
	if err != nil {
		h.writeSeriesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series":    result.Series,
		"winner_id": result.WinnerID,
		"loser_id":  result.LoserID,
	})
}

// writeSeriesError maps service errors to HTTP statuses and codes.
func (h *SeriesHandler) writeSeriesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSeriesNotFound):
		writeError(w, http.StatusNotFound, CodeSeriesNotFound, "series not found")
	case errors.Is(err, service.ErrSeriesNotActive), errors.Is(err, service.ErrSeriesNotCompleted):
		writeError(w, http.StatusBadRequest, CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrNotInSeries):
		writeError(w, http.StatusForbidden, CodeInvalidActor, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

// gameResultPayload shapes a GameResult for JSON responses.
func gameResultPayload(result *service.GameResult) map[string]any {
	payload := map[string]any{
		"series":          result.Series,
		"is_complete":     result.IsComplete,
		"next_game_ready": result.NextGameReady,
	}
	if result.GameID != "" {
		payload["game_id"] = result.GameID
	}
	if result.Swap2State != nil {
		payload["swap2_state"] = result.Swap2State
	}
	return payload
}
