package store

import (
	"database/sql"
	"time"
)

// Player is the registry's primary entity, one row per external identifier.
// The numeric totals are an authoritative snapshot of the source and are
// overwritten wholesale on every successful refresh, never incremented.
type Player struct {
	ExternalID       int64        `json:"external_id" db:"external_id"`
	Name             string       `json:"name" db:"name"`
	TotalAppearances int          `json:"total_appearances" db:"total_appearances"`
	TotalGoals       int          `json:"total_goals" db:"total_goals"`
	TotalAssists     int          `json:"total_assists" db:"total_assists"`
	Retired          bool         `json:"retired" db:"retired"`
	InLeague         bool         `json:"in_league" db:"in_league"`
	HasDomesticTitle bool         `json:"has_domestic_title" db:"has_domestic_title"`
	IsTopScorer      bool         `json:"is_top_scorer" db:"is_top_scorer"`
	IsCupWinner      bool         `json:"is_cup_winner" db:"is_cup_winner"`
	LastUpdated      sql.NullTime `json:"last_updated,omitempty" db:"last_updated"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// RefreshCandidate is one entry of the staleness-ordered refresh queue.
type RefreshCandidate struct {
	ExternalID int64  `json:"external_id" db:"external_id"`
	Name       string `json:"name" db:"name"`
}

// ClubStat is a per-club goals/assists aggregate for one player.
type ClubStat struct {
	ExternalID int64  `json:"external_id" db:"external_id"`
	Club       string `json:"club" db:"club"`
	Goals      int    `json:"goals" db:"goals"`
	Assists    int    `json:"assists" db:"assists"`
}

// SeasonStat is a per-season goals/assists aggregate for one player.
type SeasonStat struct {
	ExternalID int64  `json:"external_id" db:"external_id"`
	Season     string `json:"season" db:"season"`
	Goals      int    `json:"goals" db:"goals"`
	Assists    int    `json:"assists" db:"assists"`
}
