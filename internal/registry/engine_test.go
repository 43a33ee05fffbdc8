package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/squadron/internal/config"
	"github.com/fortuna/squadron/internal/fetch"
	"github.com/fortuna/squadron/internal/store"
)

const testBaseURL = "https://source.test"

// fakeFetcher serves canned pages and records the order of requests.
type fakeFetcher struct {
	pages map[string][]byte
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, &fetch.StatusError{URL: url, Code: 404}
}

// playerState is one player's row plus satellite relations.
type playerState struct {
	row         store.Player
	nations     map[string]struct{}
	clubs       map[string]struct{}
	leagues     map[string]struct{}
	clubStats   map[string][2]int
	seasonStats map[string][2]int
}

// fakeStore is an in-memory Store with per-operation induced failures.
type fakeStore struct {
	players map[int64]*playerState
	failOn  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: make(map[int64]*playerState),
		failOn:  make(map[string]error),
	}
}

func (s *fakeStore) seed(id int64, name string, present, retired bool, lastUpdated *time.Time) {
	state := &playerState{
		row: store.Player{
			ExternalID: id,
			Name:       name,
			InLeague:   present,
			Retired:    retired,
		},
		nations:     make(map[string]struct{}),
		clubs:       make(map[string]struct{}),
		leagues:     make(map[string]struct{}),
		clubStats:   make(map[string][2]int),
		seasonStats: make(map[string][2]int),
	}
	if lastUpdated != nil {
		state.row.LastUpdated = sql.NullTime{Time: *lastUpdated, Valid: true}
	}
	s.players[id] = state
}

func (s *fakeStore) ListKnownIDs(context.Context) (map[int64]struct{}, error) {
	if err := s.failOn["listKnownIDs"]; err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(s.players))
	for id := range s.players {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *fakeStore) ResetPresence(context.Context) error {
	if err := s.failOn["resetPresence"]; err != nil {
		return err
	}
	for _, p := range s.players {
		p.row.InLeague = false
	}
	return nil
}

func (s *fakeStore) MarkPresent(_ context.Context, id int64) error {
	if err := s.failOn["markPresent"]; err != nil {
		return err
	}
	if p, ok := s.players[id]; ok {
		p.row.InLeague = true
	}
	return nil
}

func (s *fakeStore) SelectRefreshCandidates(_ context.Context, limit int) ([]store.RefreshCandidate, error) {
	if err := s.failOn["selectRefreshCandidates"]; err != nil {
		return nil, err
	}
	var eligible []*playerState
	for _, p := range s.players {
		if p.row.InLeague && !p.row.Retired {
			eligible = append(eligible, p)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i].row, eligible[j].row
		if a.LastUpdated.Valid != b.LastUpdated.Valid {
			return !a.LastUpdated.Valid // nulls first
		}
		if a.LastUpdated.Valid && !a.LastUpdated.Time.Equal(b.LastUpdated.Time) {
			return a.LastUpdated.Time.Before(b.LastUpdated.Time)
		}
		return a.ExternalID < b.ExternalID
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	candidates := make([]store.RefreshCandidate, 0, len(eligible))
	for _, p := range eligible {
		candidates = append(candidates, store.RefreshCandidate{ExternalID: p.row.ExternalID, Name: p.row.Name})
	}
	return candidates, nil
}

func (s *fakeStore) UpsertPlayer(_ context.Context, player *store.Player) error {
	if err := s.failOn["upsertPlayer"]; err != nil {
		return err
	}
	state, ok := s.players[player.ExternalID]
	if !ok {
		state = &playerState{
			nations:     make(map[string]struct{}),
			clubs:       make(map[string]struct{}),
			leagues:     make(map[string]struct{}),
			clubStats:   make(map[string][2]int),
			seasonStats: make(map[string][2]int),
		}
		s.players[player.ExternalID] = state
	}
	state.row = *player
	return nil
}

func (s *fakeStore) AddNation(_ context.Context, id int64, nation string) error {
	s.players[id].nations[nation] = struct{}{}
	return nil
}

func (s *fakeStore) AddClub(_ context.Context, id int64, club string) error {
	s.players[id].clubs[club] = struct{}{}
	return nil
}

func (s *fakeStore) AddLeague(_ context.Context, id int64, league string) error {
	s.players[id].leagues[league] = struct{}{}
	return nil
}

func (s *fakeStore) UpsertClubStat(_ context.Context, id int64, club string, goals, assists int) error {
	s.players[id].clubStats[club] = [2]int{goals, assists}
	return nil
}

func (s *fakeStore) UpsertSeasonStat(_ context.Context, id int64, season string, goals, assists int) error {
	s.players[id].seasonStats[season] = [2]int{goals, assists}
	return nil
}

// Page fixtures.

func listingPage(ids ...int64) []byte {
	page := "<html><body>"
	for _, id := range ids {
		page += fmt.Sprintf(`<a href="/p/profil/spieler/%d">P%d</a>`, id, id)
	}
	return []byte(page + "</body></html>")
}

func profilePage(name string) []byte {
	return []byte(fmt.Sprintf(`<html><body>
		<h1 class="data-header__headline-wrapper">%s</h1>
		<span itemprop="nationality"><img class="flaggenrahmen" alt="Schweiz"/></span>
		<a href="/x/startseite/verein/1" title="FC Test">FC Test</a>
	</body></html>`, name))
}

func statsPage(apps, goals, assists int) []byte {
	return []byte(fmt.Sprintf(`<html><body><table class="items">
		<tbody><tr>
			<td>22/23</td><td>Liga</td>
			<td><a href="/x/startseite/verein/1" title="FC Test">FC Test</a></td>
			<td></td><td>%d</td><td>%d</td><td>%d</td>
		</tr></tbody>
		<tfoot><tr><td></td><td>Gesamt</td><td></td><td></td><td>%d</td><td>%d</td><td>%d</td></tr></tfoot>
	</table></body></html>`, apps, goals, assists, apps, goals, assists))
}

// newTestEngine wires a fake fetcher and store with player pages for ids.
func newTestEngine(st *fakeStore, sources []config.ListingSource, newQuota, refreshQuota int) (*Engine, *fakeFetcher) {
	fetcher := &fakeFetcher{pages: make(map[string][]byte), errs: make(map[string]error)}
	engine := NewEngine(fetcher, st, Config{
		BaseURL:        testBaseURL,
		ListingSources: sources,
		NewPlayerQuota: newQuota,
		RefreshQuota:   refreshQuota,
	})
	return engine, fetcher
}

func (f *fakeFetcher) servePlayer(e *Engine, id int64, name string, apps, goals, assists int) {
	f.pages[e.profileURL(id)] = profilePage(name)
	f.pages[e.statsURL(id)] = statsPage(apps, goals, assists)
}

func TestRun_ReconcileScenario(t *testing.T) {
	// Store has {1,2,3}: 1,2 present, 3 absent, none retired.
	// Discovery returns {2,3,4}.
	st := newFakeStore()
	st.seed(1, "One", true, false, nil)
	st.seed(2, "Two", true, false, nil)
	st.seed(3, "Three", false, false, nil)

	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 10, 10)
	fetcher.pages[testBaseURL+"/list"] = listingPage(2, 3, 4)
	fetcher.servePlayer(engine, 2, "Two", 100, 10, 5)
	fetcher.servePlayer(engine, 3, "Three", 200, 20, 8)
	fetcher.servePlayer(engine, 4, "Four", 10, 1, 0)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Onboarded)
	assert.Equal(t, 0, summary.Failed)

	// Presence: {2,3,4} present, 1 absent but not deleted.
	assert.False(t, st.players[1].row.InLeague)
	assert.True(t, st.players[2].row.InLeague)
	assert.True(t, st.players[3].row.InLeague)
	assert.True(t, st.players[4].row.InLeague)
	assert.Contains(t, st.players, int64(1))

	// Player 1 was not discovered, so it is not a refresh candidate and its
	// last_updated stays null.
	assert.False(t, st.players[1].row.LastUpdated.Valid)

	// 2 and 3 were refreshed with overwritten totals.
	assert.Equal(t, 3, summary.Refreshed)
	assert.Equal(t, 100, st.players[2].row.TotalAppearances)
	assert.Equal(t, 20, st.players[3].row.TotalGoals)

	// Player 4 was fully onboarded.
	assert.Equal(t, "Four", st.players[4].row.Name)
	assert.True(t, st.players[4].row.LastUpdated.Valid)
	assert.Contains(t, st.players[4].nations, "Schweiz")
	assert.Contains(t, st.players[4].clubs, "FC Test")
}

func TestRun_PartitionProperty(t *testing.T) {
	discovered := map[int64]struct{}{1: {}, 2: {}, 5: {}, 9: {}}
	known := map[int64]struct{}{2: {}, 3: {}, 9: {}}

	newIDs, existingIDs := partition(discovered, known)

	assert.Equal(t, []int64{1, 5}, newIDs)
	assert.Equal(t, []int64{2, 9}, existingIDs)

	// Together they cover exactly the discovered set, disjointly.
	all := append(append([]int64{}, newIDs...), existingIDs...)
	assert.Len(t, all, len(discovered))
	for _, id := range all {
		assert.Contains(t, discovered, id)
	}
}

func TestRun_OnboardQuotaRespected(t *testing.T) {
	st := newFakeStore()
	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 2, 0)
	fetcher.pages[testBaseURL+"/list"] = listingPage(10, 11, 12, 13, 14)
	for id := int64(10); id <= 14; id++ {
		fetcher.servePlayer(engine, id, fmt.Sprintf("P%d", id), 1, 0, 0)
	}

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.New)
	assert.Equal(t, 2, summary.Onboarded)
	assert.Len(t, st.players, 2)

	// Stable order: lowest ids first.
	assert.Contains(t, st.players, int64(10))
	assert.Contains(t, st.players, int64(11))
}

func TestRun_FailedOnboardingLeavesNoRow(t *testing.T) {
	st := newFakeStore()
	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 10, 0)
	fetcher.pages[testBaseURL+"/list"] = listingPage(4)
	// No profile/stats pages registered: the fetch 404s.

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Onboarded)
	assert.Equal(t, 1, summary.Failed)
	assert.NotContains(t, st.players, int64(4))

	// Next run: 4 is still undiscovered-in-store, so it reappears as new
	// and onboards once its pages fetch.
	fetcher.servePlayer(engine, 4, "Four", 10, 1, 0)
	summary, err = engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Onboarded)
	assert.Contains(t, st.players, int64(4))
}

func TestRun_RefreshOrderFollowsStaleness(t *testing.T) {
	day := func(n int) *time.Time {
		d := time.Date(2026, 8, n, 0, 0, 0, 0, time.UTC)
		return &d
	}

	st := newFakeStore()
	st.seed(1, "Fresh", true, false, day(20))
	st.seed(2, "NeverUpdated", true, false, nil)
	st.seed(3, "Stale", true, false, day(3))

	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 0, 2)
	fetcher.pages[testBaseURL+"/list"] = listingPage(1, 2, 3)
	fetcher.servePlayer(engine, 2, "NeverUpdated", 1, 0, 0)
	fetcher.servePlayer(engine, 3, "Stale", 1, 0, 0)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	// Quota 2: never-updated first, then the stalest date. The fresh player
	// is not touched.
	assert.Equal(t, 2, summary.Refreshed)
	assert.False(t, st.players[2].row.LastUpdated.Time.IsZero())
	assert.True(t, st.players[3].row.LastUpdated.Valid)
	assert.Equal(t, *day(20), st.players[1].row.LastUpdated.Time)

	require.Len(t, fetcher.calls, 5) // listing + 2 players × 2 pages
	assert.Equal(t, engine.profileURL(2), fetcher.calls[1])
	assert.Equal(t, engine.profileURL(3), fetcher.calls[3])
}

func TestRun_RetiredAndAbsentAreNotRefreshCandidates(t *testing.T) {
	st := newFakeStore()
	st.seed(1, "Retired", true, true, nil)
	st.seed(2, "Absent", false, false, nil)

	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 0, 10)
	fetcher.pages[testBaseURL+"/list"] = listingPage(1)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Refreshed)
}

func TestRun_ListingFailureDoesNotAbortDiscovery(t *testing.T) {
	st := newFakeStore()
	sources := []config.ListingSource{
		{URL: testBaseURL + "/broken"},
		{URL: testBaseURL + "/list"},
	}
	engine, fetcher := newTestEngine(st, sources, 1, 0)
	fetcher.errs[testBaseURL+"/broken"] = &fetch.TransportError{URL: testBaseURL + "/broken", Err: context.DeadlineExceeded}
	fetcher.pages[testBaseURL+"/list"] = listingPage(7)
	fetcher.servePlayer(engine, 7, "Seven", 1, 0, 0)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Discovered)
	assert.Equal(t, 1, summary.Onboarded)
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_StoreFailureAborts(t *testing.T) {
	st := newFakeStore()
	st.seed(1, "One", true, false, nil)
	st.failOn["markPresent"] = fmt.Errorf("connection refused")

	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 0, 0)
	fetcher.pages[testBaseURL+"/list"] = listingPage(1)

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRun_LeagueMembershipFromTaggedSources(t *testing.T) {
	st := newFakeStore()
	st.seed(1, "One", true, false, nil)

	sources := []config.ListingSource{
		{League: "CH1", URL: testBaseURL + "/super-league"},
		{League: "CH2", URL: testBaseURL + "/challenge-league"},
	}
	engine, fetcher := newTestEngine(st, sources, 10, 0)
	fetcher.pages[testBaseURL+"/super-league"] = listingPage(1, 2)
	fetcher.pages[testBaseURL+"/challenge-league"] = listingPage(2)
	fetcher.servePlayer(engine, 2, "Two", 1, 0, 0)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, st.players[1].leagues, "CH1")
	assert.Contains(t, st.players[2].leagues, "CH1")
	assert.Contains(t, st.players[2].leagues, "CH2")
}

func TestMergeIdempotence(t *testing.T) {
	st := newFakeStore()
	sources := []config.ListingSource{{URL: testBaseURL + "/list"}}
	engine, fetcher := newTestEngine(st, sources, 10, 0)
	fetcher.servePlayer(engine, 9, "Nine", 50, 5, 3)

	require.NoError(t, engine.ingest(context.Background(), 9, []string{"CH1"}))
	once := *st.players[9]
	onceRow := once.row

	require.NoError(t, engine.ingest(context.Background(), 9, []string{"CH1"}))

	assert.Equal(t, onceRow, st.players[9].row)
	assert.Equal(t, once.nations, st.players[9].nations)
	assert.Equal(t, once.clubs, st.players[9].clubs)
	assert.Equal(t, once.leagues, st.players[9].leagues)
	assert.Equal(t, once.clubStats, st.players[9].clubStats)
	assert.Equal(t, once.seasonStats, st.players[9].seasonStats)
}
