package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fortuna/squadron/internal/store"
	"github.com/gorilla/mux"
)

const searchLimit = 15

// Registry is the read surface the API serves from.
type Registry interface {
	SearchByName(ctx context.Context, name string, limit int) ([]*store.Player, error)
	GetByName(ctx context.Context, name string) (*store.Player, error)
	GetByExternalID(ctx context.Context, externalID int64) (*store.Player, error)
	HasClub(ctx context.Context, externalID int64, club string) (bool, error)
	HasNation(ctx context.Context, externalID int64, nation string) (bool, error)
	HasLeague(ctx context.Context, externalID int64, league string) (bool, error)
	ListNations(ctx context.Context, externalID int64) ([]string, error)
	ListClubs(ctx context.Context, externalID int64) ([]string, error)
	ListLeagues(ctx context.Context, externalID int64) ([]string, error)
	ListClubStats(ctx context.Context, externalID int64) ([]store.ClubStat, error)
	ListSeasonStats(ctx context.Context, externalID int64) ([]store.SeasonStat, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	registry Registry
}

// NewHandler creates a new handler
func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "squadron",
	})
}

// SearchPlayers returns players matching a partial name, most-capped first.
func (h *Handler) SearchPlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 2 {
		respondJSON(w, http.StatusOK, []searchResult{})
		return
	}

	players, err := h.registry.SearchByName(r.Context(), q, searchLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to search players", err)
		return
	}

	results := make([]searchResult, 0, len(players))
	for _, p := range players {
		results = append(results, searchResult{Name: p.Name, ExternalID: p.ExternalID})
	}
	respondJSON(w, http.StatusOK, results)
}

type searchResult struct {
	Name       string `json:"name"`
	ExternalID int64  `json:"external_id"`
}

// Category is one grid criterion a player is checked against.
type Category struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type verifyRequest struct {
	PlayerName string   `json:"playerName"`
	RowCat     Category `json:"rowCat"`
	ColCat     Category `json:"colCat"`
}

type verifyResponse struct {
	Correct bool    `json:"correct"`
	Rarity  float64 `json:"rarity,omitempty"`
}

// VerifyPlayer checks whether a named player satisfies both grid categories
// and, when correct, scores the answer: the more capped the player, the less
// rare the pick.
func (h *Handler) VerifyPlayer(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	player, err := h.registry.GetByName(r.Context(), req.PlayerName)
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, verifyResponse{Correct: false})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to look up player", err)
		return
	}

	matchRow, err := h.matches(r.Context(), player, req.RowCat)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to verify category", err)
		return
	}
	matchCol, err := h.matches(r.Context(), player, req.ColCat)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to verify category", err)
		return
	}

	if !matchRow || !matchCol {
		respondJSON(w, http.StatusOK, verifyResponse{Correct: false})
		return
	}

	respondJSON(w, http.StatusOK, verifyResponse{
		Correct: true,
		Rarity:  rarityFor(player.TotalAppearances),
	})
}

// matches evaluates one category against the registry.
func (h *Handler) matches(ctx context.Context, player *store.Player, cat Category) (bool, error) {
	switch cat.Type {
	case "team":
		return h.registry.HasClub(ctx, player.ExternalID, stringValue(cat.Value))
	case "nation":
		return h.registry.HasNation(ctx, player.ExternalID, stringValue(cat.Value))
	case "league":
		return h.registry.HasLeague(ctx, player.ExternalID, stringValue(cat.Value))
	case "goals":
		return player.TotalGoals > intValue(cat.Value), nil
	case "champion":
		return player.HasDomesticTitle, nil
	case "topscorer":
		return player.IsTopScorer, nil
	case "cupwinner":
		return player.IsCupWinner, nil
	default:
		return false, nil
	}
}

// rarityFor bands a correct answer by career appearances: picking an
// obvious, heavily-capped player scores low.
func rarityFor(appearances int) float64 {
	switch {
	case appearances > 300:
		return 1.0
	case appearances > 150:
		return 3.0
	case appearances > 50:
		return 6.0
	default:
		return 10.0
	}
}

// GetPlayer returns one player with all satellite relations.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	externalID, err := strconv.ParseInt(vars["externalID"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid player ID", err)
		return
	}

	player, err := h.registry.GetByExternalID(r.Context(), externalID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Player not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch player", err)
		return
	}

	nations, err := h.registry.ListNations(r.Context(), externalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch nations", err)
		return
	}
	clubs, err := h.registry.ListClubs(r.Context(), externalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch clubs", err)
		return
	}
	leagues, err := h.registry.ListLeagues(r.Context(), externalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch leagues", err)
		return
	}
	clubStats, err := h.registry.ListClubStats(r.Context(), externalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch club stats", err)
		return
	}
	seasonStats, err := h.registry.ListSeasonStats(r.Context(), externalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch season stats", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"player":       player,
		"nations":      nations,
		"clubs":        clubs,
		"leagues":      leagues,
		"club_stats":   clubStats,
		"season_stats": seasonStats,
	})
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intValue(v interface{}) int {
	// JSON numbers decode as float64
	if f, ok := v.(float64); ok {
		return int(f)
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}
