package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fortuna/squadron/internal/store"
)

// PlayerRepository handles registry data access. Every mutating operation is
// an idempotent upsert keyed by the external identifier, so a crashed run can
// be restarted and re-process the same identifiers safely.
type PlayerRepository struct {
	db *store.Database
}

// NewPlayerRepository creates a new player repository
func NewPlayerRepository(db *store.Database) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// UpsertPlayer inserts a player or overwrites its authoritative fields.
// The totals, flags, and last_updated are replaced wholesale; created_at is
// kept from the first insert.
func (r *PlayerRepository) UpsertPlayer(ctx context.Context, player *store.Player) error {
	query := `
		INSERT INTO players (external_id, name, total_appearances, total_goals, total_assists,
			retired, in_league, has_domestic_title, is_top_scorer, is_cup_winner, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			total_appearances = EXCLUDED.total_appearances,
			total_goals = EXCLUDED.total_goals,
			total_assists = EXCLUDED.total_assists,
			retired = EXCLUDED.retired,
			in_league = EXCLUDED.in_league,
			has_domestic_title = EXCLUDED.has_domestic_title,
			is_top_scorer = EXCLUDED.is_top_scorer,
			is_cup_winner = EXCLUDED.is_cup_winner,
			last_updated = EXCLUDED.last_updated,
			updated_at = NOW()
	`

	_, err := r.db.DB().ExecContext(ctx, query,
		player.ExternalID, player.Name, player.TotalAppearances, player.TotalGoals,
		player.TotalAssists, player.Retired, player.InLeague, player.HasDomesticTitle,
		player.IsTopScorer, player.IsCupWinner, player.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upserting player %d: %w", player.ExternalID, err)
	}

	return nil
}

// ListKnownIDs returns the set of all external identifiers in the registry.
func (r *PlayerRepository) ListKnownIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.db.DB().QueryContext(ctx, "SELECT external_id FROM players")
	if err != nil {
		return nil, fmt.Errorf("listing known ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning external id: %w", err)
		}
		ids[id] = struct{}{}
	}

	return ids, rows.Err()
}

// ResetPresence marks every known player absent. RECONCILE re-marks the ones
// found in this cycle's discovery.
func (r *PlayerRepository) ResetPresence(ctx context.Context) error {
	if _, err := r.db.DB().ExecContext(ctx, "UPDATE players SET in_league = FALSE"); err != nil {
		return fmt.Errorf("resetting presence: %w", err)
	}
	return nil
}

// MarkPresent flags one player as present in this cycle's discovery.
func (r *PlayerRepository) MarkPresent(ctx context.Context, externalID int64) error {
	if _, err := r.db.DB().ExecContext(ctx,
		"UPDATE players SET in_league = TRUE, updated_at = NOW() WHERE external_id = $1", externalID); err != nil {
		return fmt.Errorf("marking player %d present: %w", externalID, err)
	}
	return nil
}

// SelectRefreshCandidates returns up to limit present, non-retired players
// ordered most-overdue first. Never-updated players sort before all dates.
func (r *PlayerRepository) SelectRefreshCandidates(ctx context.Context, limit int) ([]store.RefreshCandidate, error) {
	query := `
		SELECT external_id, name FROM players
		WHERE in_league = TRUE AND retired = FALSE
		ORDER BY last_updated ASC NULLS FIRST, external_id ASC
		LIMIT $1
	`

	rows, err := r.db.DB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting refresh candidates: %w", err)
	}
	defer rows.Close()

	var candidates []store.RefreshCandidate
	for rows.Next() {
		var c store.RefreshCandidate
		if err := rows.Scan(&c.ExternalID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning refresh candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// AddNation records a nation membership. Union-only: memberships are never
// removed, and repeating an insert is a no-op.
func (r *PlayerRepository) AddNation(ctx context.Context, externalID int64, nation string) error {
	if _, err := r.db.DB().ExecContext(ctx,
		"INSERT INTO player_nations (external_id, nation) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		externalID, nation); err != nil {
		return fmt.Errorf("adding nation for player %d: %w", externalID, err)
	}
	return nil
}

// AddClub records a club membership. Union-only.
func (r *PlayerRepository) AddClub(ctx context.Context, externalID int64, club string) error {
	if _, err := r.db.DB().ExecContext(ctx,
		"INSERT INTO player_clubs (external_id, club) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		externalID, club); err != nil {
		return fmt.Errorf("adding club for player %d: %w", externalID, err)
	}
	return nil
}

// AddLeague records a league membership. Union-only.
func (r *PlayerRepository) AddLeague(ctx context.Context, externalID int64, league string) error {
	if _, err := r.db.DB().ExecContext(ctx,
		"INSERT INTO player_leagues (external_id, league) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		externalID, league); err != nil {
		return fmt.Errorf("adding league for player %d: %w", externalID, err)
	}
	return nil
}

// UpsertClubStat replaces the stored per-club aggregate for one key. Each
// fetch recomputes the full career value from source, so last write wins.
func (r *PlayerRepository) UpsertClubStat(ctx context.Context, externalID int64, club string, goals, assists int) error {
	query := `
		INSERT INTO player_club_stats (external_id, club, goals, assists)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id, club) DO UPDATE SET
			goals = EXCLUDED.goals,
			assists = EXCLUDED.assists
	`
	if _, err := r.db.DB().ExecContext(ctx, query, externalID, club, goals, assists); err != nil {
		return fmt.Errorf("upserting club stat for player %d: %w", externalID, err)
	}
	return nil
}

// UpsertSeasonStat replaces the stored per-season aggregate for one key.
func (r *PlayerRepository) UpsertSeasonStat(ctx context.Context, externalID int64, season string, goals, assists int) error {
	query := `
		INSERT INTO player_season_stats (external_id, season, goals, assists)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id, season) DO UPDATE SET
			goals = EXCLUDED.goals,
			assists = EXCLUDED.assists
	`
	if _, err := r.db.DB().ExecContext(ctx, query, externalID, season, goals, assists); err != nil {
		return fmt.Errorf("upserting season stat for player %d: %w", externalID, err)
	}
	return nil
}

// GetByExternalID finds a player by its external identifier.
func (r *PlayerRepository) GetByExternalID(ctx context.Context, externalID int64) (*store.Player, error) {
	query := `
		SELECT external_id, name, total_appearances, total_goals, total_assists,
			retired, in_league, has_domestic_title, is_top_scorer, is_cup_winner,
			last_updated, created_at, updated_at
		FROM players
		WHERE external_id = $1
	`

	player := &store.Player{}
	err := r.db.DB().QueryRowContext(ctx, query, externalID).Scan(
		&player.ExternalID, &player.Name, &player.TotalAppearances, &player.TotalGoals,
		&player.TotalAssists, &player.Retired, &player.InLeague, &player.HasDomesticTitle,
		&player.IsTopScorer, &player.IsCupWinner, &player.LastUpdated,
		&player.CreatedAt, &player.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", store.ErrNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying player: %w", err)
	}

	return player, nil
}

// GetByName finds the player with an exact name, most-capped first when the
// name is ambiguous.
func (r *PlayerRepository) GetByName(ctx context.Context, name string) (*store.Player, error) {
	query := `
		SELECT external_id, name, total_appearances, total_goals, total_assists,
			retired, in_league, has_domestic_title, is_top_scorer, is_cup_winner,
			last_updated, created_at, updated_at
		FROM players
		WHERE name = $1
		ORDER BY total_appearances DESC
		LIMIT 1
	`

	player := &store.Player{}
	err := r.db.DB().QueryRowContext(ctx, query, name).Scan(
		&player.ExternalID, &player.Name, &player.TotalAppearances, &player.TotalGoals,
		&player.TotalAssists, &player.Retired, &player.InLeague, &player.HasDomesticTitle,
		&player.IsTopScorer, &player.IsCupWinner, &player.LastUpdated,
		&player.CreatedAt, &player.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying player: %w", err)
	}

	return player, nil
}

// SearchByName returns players whose name contains the query, most-capped
// first (case-insensitive partial match).
func (r *PlayerRepository) SearchByName(ctx context.Context, name string, limit int) ([]*store.Player, error) {
	query := `
		SELECT external_id, name, total_appearances, total_goals, total_assists,
			retired, in_league, has_domestic_title, is_top_scorer, is_cup_winner,
			last_updated, created_at, updated_at
		FROM players
		WHERE name ILIKE $1
		ORDER BY total_appearances DESC
		LIMIT $2
	`

	rows, err := r.db.DB().QueryContext(ctx, query, "%"+name+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching players: %w", err)
	}
	defer rows.Close()

	return scanPlayers(rows)
}

// HasClub reports whether a player has a club membership row.
func (r *PlayerRepository) HasClub(ctx context.Context, externalID int64, club string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM player_clubs WHERE external_id = $1 AND club = $2", externalID, club)
}

// HasNation reports whether a player has a nation membership row.
func (r *PlayerRepository) HasNation(ctx context.Context, externalID int64, nation string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM player_nations WHERE external_id = $1 AND nation = $2", externalID, nation)
}

// HasLeague reports whether a player has a league membership row.
func (r *PlayerRepository) HasLeague(ctx context.Context, externalID int64, league string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM player_leagues WHERE external_id = $1 AND league = $2", externalID, league)
}

// ListNations returns a player's nation memberships.
func (r *PlayerRepository) ListNations(ctx context.Context, externalID int64) ([]string, error) {
	return r.listStrings(ctx, "SELECT nation FROM player_nations WHERE external_id = $1 ORDER BY nation", externalID)
}

// ListClubs returns a player's club memberships.
func (r *PlayerRepository) ListClubs(ctx context.Context, externalID int64) ([]string, error) {
	return r.listStrings(ctx, "SELECT club FROM player_clubs WHERE external_id = $1 ORDER BY club", externalID)
}

// ListLeagues returns a player's league memberships.
func (r *PlayerRepository) ListLeagues(ctx context.Context, externalID int64) ([]string, error) {
	return r.listStrings(ctx, "SELECT league FROM player_leagues WHERE external_id = $1 ORDER BY league", externalID)
}

// ListClubStats returns a player's per-club aggregates.
func (r *PlayerRepository) ListClubStats(ctx context.Context, externalID int64) ([]store.ClubStat, error) {
	rows, err := r.db.DB().QueryContext(ctx,
		"SELECT external_id, club, goals, assists FROM player_club_stats WHERE external_id = $1 ORDER BY club", externalID)
	if err != nil {
		return nil, fmt.Errorf("listing club stats: %w", err)
	}
	defer rows.Close()

	var stats []store.ClubStat
	for rows.Next() {
		var s store.ClubStat
		if err := rows.Scan(&s.ExternalID, &s.Club, &s.Goals, &s.Assists); err != nil {
			return nil, fmt.Errorf("scanning club stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// ListSeasonStats returns a player's per-season aggregates.
func (r *PlayerRepository) ListSeasonStats(ctx context.Context, externalID int64) ([]store.SeasonStat, error) {
	rows, err := r.db.DB().QueryContext(ctx,
		"SELECT external_id, season, goals, assists FROM player_season_stats WHERE external_id = $1 ORDER BY season", externalID)
	if err != nil {
		return nil, fmt.Errorf("listing season stats: %w", err)
	}
	defer rows.Close()

	var stats []store.SeasonStat
	for rows.Next() {
		var s store.SeasonStat
		if err := rows.Scan(&s.ExternalID, &s.Season, &s.Goals, &s.Assists); err != nil {
			return nil, fmt.Errorf("scanning season stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// CountPlayers returns total and present player counts for the run summary.
func (r *PlayerRepository) CountPlayers(ctx context.Context) (total, present int, err error) {
	err = r.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE in_league) FROM players").Scan(&total, &present)
	if err != nil {
		return 0, 0, fmt.Errorf("counting players: %w", err)
	}
	return total, present, nil
}

func (r *PlayerRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := r.db.DB().QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return true, nil
}

func (r *PlayerRepository) listStrings(ctx context.Context, query string, externalID int64) ([]string, error) {
	rows, err := r.db.DB().QueryContext(ctx, query, externalID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// scanPlayers is a helper to scan multiple player rows
func scanPlayers(rows *sql.Rows) ([]*store.Player, error) {
	var players []*store.Player
	for rows.Next() {
		player := &store.Player{}
		err := rows.Scan(
			&player.ExternalID, &player.Name, &player.TotalAppearances, &player.TotalGoals,
			&player.TotalAssists, &player.Retired, &player.InLeague, &player.HasDomesticTitle,
			&player.IsTopScorer, &player.IsCupWinner, &player.LastUpdated,
			&player.CreatedAt, &player.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, player)
	}

	return players, rows.Err()
}
