package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/model"
	"github.com/omok-arena/api/internal/service"
	"github.com/omok-arena/api/pkg/swap2"
)

// Swap2Handler handles the opening dialogue endpoints. All operations go
// through the series so clients address openings by series ID.
type Swap2Handler struct {
	seriesSvc *service.SeriesService
	swap2Svc  *service.Swap2Service
	wsHub     *Hub
}

// NewSwap2Handler creates a Swap2Handler.
func NewSwap2Handler(seriesSvc *service.SeriesService, swap2Svc *service.Swap2Service, wsHub *Hub) *Swap2Handler {
	return &Swap2Handler{seriesSvc: seriesSvc, swap2Svc: swap2Svc, wsHub: wsHub}
}

// currentGame resolves the series' in-flight game ID, writing the error
// response on failure.
func (h *Swap2Handler) currentGame(w http.ResponseWriter, r *http.Request) (seriesID, gameID string, ok bool) {
	seriesID = seriesIDFromPath(w, r)
	if seriesID == "" {
		return "", "", false
	}
	state, err := h.seriesSvc.GetSeries(r.Context(), seriesID)
	if err != nil {
		if errors.Is(err, service.ErrSeriesNotFound) {
			writeError(w, http.StatusNotFound, CodeSeriesNotFound, "series not found")
		} else {
			writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		}
		return "", "", false
	}
	if state.Series.Status != model.SeriesInProgress || state.Series.CurrentGameID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidState, "series has no game in progress")
		return "", "", false
	}
	return seriesID, state.Series.CurrentGameID, true
}

// GetOpening handles GET /api/v1/series/{id}/swap2
func (h *Swap2Handler) GetOpening(w http.ResponseWriter, r *http.Request) {
	_, gameID, ok := h.currentGame(w, r)
	if !ok {
		return
	}
	st, err := h.swap2Svc.GetState(r.Context(), gameID)
	if err != nil {
		h.writeOpeningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PlaceStone handles POST /api/v1/series/{id}/swap2/place
func (h *Swap2Handler) PlaceStone(w http.ResponseWriter, r *http.Request) {
	seriesID, gameID, ok := h.currentGame(w, r)
	if !ok {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
		X        int    `json:"x"`
		Y        int    `json:"y"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	st, err := h.swap2Svc.PlaceStone(r.Context(), gameID, req.PlayerID, req.X, req.Y)
	if err != nil {
		h.writeOpeningError(w, err)
		return
	}
	h.afterMutation(r, seriesID, st)
	writeJSON(w, http.StatusOK, st)
}

// MakeChoice handles POST /api/v1/series/{id}/swap2/choice
func (h *Swap2Handler) MakeChoice(w http.ResponseWriter, r *http.Request) {
	seriesID, gameID, ok := h.currentGame(w, r)
	if !ok {
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
		Choice   string `json:"choice"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid request body")
		return
	}

	st, err := h.swap2Svc.MakeChoice(r.Context(), gameID, req.PlayerID, swap2.Choice(req.Choice))
	if err != nil {
		h.writeOpeningError(w, err)
		return
	}
	h.afterMutation(r, seriesID, st)
	writeJSON(w, http.StatusOK, st)
}

// afterMutation persists the opening onto the series row and notifies
// subscribers.
func (h *Swap2Handler) afterMutation(r *http.Request, seriesID string, st *swap2.State) {
	if err := h.seriesSvc.SyncOpeningState(r.Context(), seriesID, st); err != nil {
		log.Error().Err(err).Str("seriesId", seriesID).Msg("Failed to sync opening state to series")
	}
	h.wsHub.BroadcastToSeries(seriesID, WSEvent{
		Type:     EventSwap2Updated,
		SeriesID: seriesID,
		Data:     st,
	})
}

// writeOpeningError maps opening errors to HTTP statuses and codes.
func (h *Swap2Handler) writeOpeningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrOpeningNotFound):
		writeError(w, http.StatusNotFound, CodeSeriesNotFound, "opening state not found")
	case errors.Is(err, swap2.ErrNotYourTurn):
		writeError(w, http.StatusForbidden, CodeInvalidActor, err.Error())
	case errors.Is(err, swap2.ErrOffBoard), errors.Is(err, swap2.ErrOccupied):
		writeError(w, http.StatusBadRequest, CodeInvalidPosition, err.Error())
	case errors.Is(err, swap2.ErrWrongPhase), errors.Is(err, swap2.ErrBadChoice):
		writeError(w, http.StatusBadRequest, CodeInvalidState, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
