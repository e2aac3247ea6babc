package handler

import (
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/auth"
	"github.com/omok-arena/api/internal/repository"
)

// AuthHandler issues transport-identity tokens. There is no account
// system; a token only names the player ID a connection acts as.
type AuthHandler struct {
	jwtMgr     *auth.JWTManager
	playerRepo repository.PlayerRepository
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(jwtMgr *auth.JWTManager, playerRepo repository.PlayerRepository) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, playerRepo: playerRepo}
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}

	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(claims.PlayerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// DevLogin ensures a rating record exists for the given player ID and
// returns a JWT token pair. Only available when DEV_MODE=true.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if os.Getenv("DEV_MODE") != "true" {
		writeError(w, http.StatusNotFound, CodeSeriesNotFound, "not found")
		return
	}

	playerID := r.URL.Query().Get("player_id")
	if !validUUIDv4(playerID) {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "player_id must be a version-4 UUID")
		return
	}

	player, err := h.playerRepo.EnsurePlayer(r.Context(), playerID)
	if err != nil {
		log.Error().Err(err).Str("playerId", playerID).Msg("Failed to ensure player record")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create player")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(player.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}
