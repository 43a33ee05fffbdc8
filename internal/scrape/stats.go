package scrape

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Line is a goals/assists pair for one breakdown key.
type Line struct {
	Goals   int
	Assists int
}

// StatsFacts are the performance aggregates extracted from a player's
// performance-detail page.
type StatsFacts struct {
	Appearances int
	Goals       int
	Assists     int

	// Retired mirrors the career-end marker the source renders on this page.
	Retired bool

	// PerClub and PerSeason are recomputed wholesale on every parse; the
	// store replaces its entry for each key rather than accumulating.
	PerClub   map[string]Line
	PerSeason map[string]Line
}

// Column layout of the performance table, career footer included:
// [icon, competition, club, appearances at index 4, goals, assists, ...].
const (
	colAppearances = 4
	colGoals       = 5
	colAssists     = 6

	// Rows with fewer cells are spacers or notices, not data rows.
	minStatColumns = 7
)

var seasonLabelRe = regexp.MustCompile(`^\d{2}/\d{2}$`)

// Stats parses a player's performance-detail page. The career totals live in
// the table footer; the body rows optionally contribute per-club and
// per-season breakdowns.
func Stats(page []byte) (*StatsFacts, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &ParseError{Page: "stats", Missing: "document"}
	}

	facts := &StatsFacts{
		PerClub:   make(map[string]Line),
		PerSeason: make(map[string]Line),
	}

	text := strings.ToLower(doc.Text())
	facts.Retired = strings.Contains(text, "karriereende") || strings.Contains(text, "retired")

	footer := doc.Find("tfoot").First()
	if footer.Length() == 0 {
		return nil, &ParseError{Page: "stats", Missing: "totals footer"}
	}

	cells := footer.Find("td")
	if cells.Length() >= minStatColumns {
		facts.Appearances = cleanCount(cells.Eq(colAppearances).Text())
		facts.Goals = cleanCount(cells.Eq(colGoals).Text())
		facts.Assists = cleanCount(cells.Eq(colAssists).Text())
	}

	doc.Find("table.items tbody tr").Each(func(_ int, row *goquery.Selection) {
		tds := row.Find("td")
		if tds.Length() < minStatColumns {
			return
		}

		goals := cleanCount(tds.Eq(colGoals).Text())
		assists := cleanCount(tds.Eq(colAssists).Text())

		// A row without a recognizable club stays out of the per-club
		// breakdown, but still counts per-season when labelled.
		if club := rowClub(row); club != "" {
			line := facts.PerClub[club]
			line.Goals += goals
			line.Assists += assists
			facts.PerClub[club] = line
		}

		if season := strings.TrimSpace(tds.Eq(0).Text()); seasonLabelRe.MatchString(season) {
			line := facts.PerSeason[season]
			line.Goals += goals
			line.Assists += assists
			facts.PerSeason[season] = line
		}
	})

	return facts, nil
}

func rowClub(row *goquery.Selection) string {
	link := row.Find("a[href*='/verein/']").First()
	if link.Length() == 0 {
		return ""
	}
	if title, ok := link.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(link.Text())
}

// cleanCount normalizes the source's numeric cells. Thousands separators are
// dots ("1.234"), "not applicable" renders as a lone dash, and anything else
// that does not survive cleanup counts as zero rather than an error.
func cleanCount(s string) int {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	if s == "" || s == "-" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
