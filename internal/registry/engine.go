// Package registry reconciles the persistent player registry against the
// external roster source: discover the currently rostered ids, diff them
// against the known set, onboard a bounded number of unknown players, and
// re-fetch the stalest known ones. All state between runs lives in the store.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/fortuna/squadron/internal/config"
	"github.com/fortuna/squadron/internal/scrape"
	"github.com/fortuna/squadron/internal/store"
)

// Fetcher retrieves raw page bytes for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store is the registry persistence surface the engine mutates. Every
// operation must be an idempotent upsert keyed by external identifier.
type Store interface {
	ListKnownIDs(ctx context.Context) (map[int64]struct{}, error)
	ResetPresence(ctx context.Context) error
	MarkPresent(ctx context.Context, externalID int64) error
	SelectRefreshCandidates(ctx context.Context, limit int) ([]store.RefreshCandidate, error)

	UpsertPlayer(ctx context.Context, player *store.Player) error
	AddNation(ctx context.Context, externalID int64, nation string) error
	AddClub(ctx context.Context, externalID int64, club string) error
	AddLeague(ctx context.Context, externalID int64, league string) error
	UpsertClubStat(ctx context.Context, externalID int64, club string, goals, assists int) error
	UpsertSeasonStat(ctx context.Context, externalID int64, season string, goals, assists int) error
}

// DefaultBaseURL is the roster source root for per-player pages.
const DefaultBaseURL = "https://www.transfermarkt.ch"

// Config holds one run's quotas and sources.
type Config struct {
	BaseURL        string
	ListingSources []config.ListingSource
	NewPlayerQuota int
	RefreshQuota   int
}

// Summary is the result of one update run. A run that reaches DONE is a
// success even when individual entities failed; partial progress is the
// expected normal outcome.
type Summary struct {
	Discovered int           `json:"discovered"`
	Known      int           `json:"known"`
	New        int           `json:"new"`
	Onboarded  int           `json:"onboarded"`
	Refreshed  int           `json:"refreshed"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Engine walks one update cycle: DISCOVER → RECONCILE → ONBOARD → REFRESH.
type Engine struct {
	fetcher Fetcher
	store   Store
	cfg     Config

	now func() time.Time
}

// NewEngine creates an engine for one or more update runs.
func NewEngine(fetcher Fetcher, st Store, cfg Config) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Engine{
		fetcher: fetcher,
		store:   st,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run executes one full update cycle. Transient fetch and parse failures are
// skipped per entity; a store failure aborts the run, since continuing
// without a working store would silently lose data.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := e.now()
	summary := &Summary{}

	// DISCOVER
	discovered, leaguesByID := e.discover(ctx, summary)
	summary.Discovered = len(discovered)

	// RECONCILE
	known, err := e.store.ListKnownIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing known players: %w", err)
	}
	summary.Known = len(known)

	newIDs, existingIDs := partition(discovered, known)
	summary.New = len(newIDs)
	log.Printf("→ Reconcile: %d discovered, %d known, %d new, %d existing",
		len(discovered), len(known), len(newIDs), len(existingIDs))

	if err := e.store.ResetPresence(ctx); err != nil {
		return summary, err
	}
	for _, id := range existingIDs {
		if err := e.store.MarkPresent(ctx, id); err != nil {
			return summary, err
		}
		for _, league := range leaguesByID[id] {
			if err := e.store.AddLeague(ctx, id, league); err != nil {
				return summary, err
			}
		}
	}

	// ONBOARD
	quota := e.cfg.NewPlayerQuota
	if quota > len(newIDs) {
		quota = len(newIDs)
	}
	log.Printf("→ Onboarding %d of %d new players", quota, len(newIDs))
	for _, id := range newIDs[:quota] {
		switch err := e.ingest(ctx, id, leaguesByID[id]); {
		case err == nil:
			summary.Onboarded++
			log.Printf("  ✓ onboarded player %d", id)
		case isSkippable(err):
			summary.Failed++
			log.Printf("  ⚠️  skipping new player %d: %v", id, err)
		default:
			return summary, err
		}
	}

	// REFRESH
	candidates, err := e.store.SelectRefreshCandidates(ctx, e.cfg.RefreshQuota)
	if err != nil {
		return summary, err
	}
	log.Printf("→ Refreshing %d players, most overdue first", len(candidates))
	for _, cand := range candidates {
		switch err := e.ingest(ctx, cand.ExternalID, nil); {
		case err == nil:
			summary.Refreshed++
			log.Printf("  ✓ refreshed %s (%d)", cand.Name, cand.ExternalID)
		case isSkippable(err):
			summary.Failed++
			log.Printf("  ⚠️  skipping %s (%d): %v", cand.Name, cand.ExternalID, err)
		default:
			return summary, err
		}
	}

	// DONE
	summary.Duration = e.now().Sub(start)
	log.Println("═══ Update Run Summary ═══")
	log.Printf("  discovered: %d", summary.Discovered)
	log.Printf("  new:        %d", summary.New)
	log.Printf("  onboarded:  %d", summary.Onboarded)
	log.Printf("  refreshed:  %d", summary.Refreshed)
	log.Printf("  failed:     %d", summary.Failed)
	log.Printf("  duration:   %v", summary.Duration.Round(time.Second))

	return summary, nil
}

// discover fetches every listing page and unions the ids they reference.
// A failure on one listing page never aborts discovery of the others.
func (e *Engine) discover(ctx context.Context, summary *Summary) (map[int64]struct{}, map[int64][]string) {
	discovered := make(map[int64]struct{})
	leaguesByID := make(map[int64][]string)

	for _, src := range e.cfg.ListingSources {
		body, err := e.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			summary.Failed++
			log.Printf("  ⚠️  skipping listing %s: %v", src.URL, err)
			continue
		}

		ids := scrape.RosterIDs(body)
		log.Printf("  ✓ listing %s: %d players", src.URL, len(ids))

		for id := range ids {
			discovered[id] = struct{}{}
			if src.League != "" && !contains(leaguesByID[id], src.League) {
				leaguesByID[id] = append(leaguesByID[id], src.League)
			}
		}
	}

	return discovered, leaguesByID
}

// ingest fetches a player's profile and stats pages and merges the result.
// Nothing is written unless both pages fetch and parse, so a failed attempt
// leaves last_updated untouched and the player maximally overdue.
func (e *Engine) ingest(ctx context.Context, id int64, leagues []string) error {
	profileBody, err := e.fetcher.Fetch(ctx, e.profileURL(id))
	if err != nil {
		return err
	}
	profile, err := scrape.Profile(profileBody)
	if err != nil {
		return err
	}

	statsBody, err := e.fetcher.Fetch(ctx, e.statsURL(id))
	if err != nil {
		return err
	}
	stats, err := scrape.Stats(statsBody)
	if err != nil {
		return err
	}

	return e.merge(ctx, id, profile, stats, leagues)
}

// merge writes one player's freshly scraped facts: authoritative fields are
// overwritten, membership sets grow by union, breakdowns are replaced per
// key. Each write commits on its own so an interrupted run keeps everything
// merged so far.
func (e *Engine) merge(ctx context.Context, id int64, profile *scrape.ProfileFacts, stats *scrape.StatsFacts, leagues []string) error {
	player := &store.Player{
		ExternalID:       id,
		Name:             profile.Name,
		TotalAppearances: stats.Appearances,
		TotalGoals:       stats.Goals,
		TotalAssists:     stats.Assists,
		Retired:          profile.Retired || stats.Retired,
		InLeague:         true,
		HasDomesticTitle: profile.HasDomesticTitle,
		IsTopScorer:      profile.IsTopScorer,
		IsCupWinner:      profile.IsCupWinner,
		LastUpdated:      sql.NullTime{Time: e.today(), Valid: true},
	}
	if err := e.store.UpsertPlayer(ctx, player); err != nil {
		return err
	}

	for _, nation := range profile.Nations {
		if err := e.store.AddNation(ctx, id, nation); err != nil {
			return err
		}
	}
	for _, club := range profile.Clubs {
		if err := e.store.AddClub(ctx, id, club); err != nil {
			return err
		}
	}
	for _, league := range leagues {
		if err := e.store.AddLeague(ctx, id, league); err != nil {
			return err
		}
	}

	for club, line := range stats.PerClub {
		if err := e.store.AddClub(ctx, id, club); err != nil {
			return err
		}
		if err := e.store.UpsertClubStat(ctx, id, club, line.Goals, line.Assists); err != nil {
			return err
		}
	}
	for season, line := range stats.PerSeason {
		if err := e.store.UpsertSeasonStat(ctx, id, season, line.Goals, line.Assists); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) profileURL(id int64) string {
	return fmt.Sprintf("%s/spieler/profil/spieler/%d", e.cfg.BaseURL, id)
}

func (e *Engine) statsURL(id int64) string {
	return fmt.Sprintf("%s/spieler/leistungsdatendetails/spieler/%d/plus/0?saison=&verein=&liga=&wettbewerb=&pos=&trainer_id=", e.cfg.BaseURL, id)
}

// today truncates the engine clock to a calendar date for last_updated.
func (e *Engine) today() time.Time {
	t := e.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// partition splits the discovered set against the known set into sorted
// new and existing id slices. By construction the two slices are disjoint
// and together cover exactly the discovered set.
func partition(discovered, known map[int64]struct{}) (newIDs, existingIDs []int64) {
	for id := range discovered {
		if _, ok := known[id]; ok {
			existingIDs = append(existingIDs, id)
		} else {
			newIDs = append(newIDs, id)
		}
	}
	sortIDs(newIDs)
	sortIDs(existingIDs)
	return newIDs, existingIDs
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
