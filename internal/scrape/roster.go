// Package scrape extracts typed records from roster source pages. All
// parsers are best-effort: the source's markup changes without notice, so
// they prefer returning partial data over failing a whole update run.
package scrape

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

// ParseError reports a page that lacks the structure a parser requires.
// The update run treats it like a transient fetch failure and skips the
// entity.
type ParseError struct {
	Page    string
	Missing string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s page: missing %s", e.Page, e.Missing)
}

// Player profile links look like /<slug>/profil/spieler/123456.
var playerLinkRe = regexp.MustCompile(`/spieler/(\d+)`)

// RosterIDs extracts the set of distinct player identifiers referenced by a
// listing page. Malformed or empty markup yields an empty set, never an
// error; one broken listing page must not abort discovery of the others.
func RosterIDs(page []byte) map[int64]struct{} {
	ids := make(map[int64]struct{})

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ids
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := playerLinkRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return
		}
		ids[id] = struct{}{}
	})

	return ids
}
