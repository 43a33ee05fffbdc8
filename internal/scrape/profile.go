package scrape

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ProfileFacts are the identity facts extracted from a player's profile page.
type ProfileFacts struct {
	Name    string
	Nations []string
	Clubs   []string

	Retired bool

	// Honor flags come from a free-text keyword scan over the page. The
	// source has no structured titles field, so these are best-effort and
	// never authoritative.
	HasDomesticTitle bool
	IsTopScorer      bool
	IsCupWinner      bool
}

// Profile parses a player's profile page. The player's name is the one piece
// of structure the page must have; everything else degrades to empty.
func Profile(page []byte) (*ProfileFacts, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &ParseError{Page: "profile", Missing: "document"}
	}

	facts := &ProfileFacts{
		Name: headlineName(doc),
	}
	if facts.Name == "" {
		return nil, &ParseError{Page: "profile", Missing: "player name"}
	}

	facts.Nations = distinctStrings(doc, "span[itemprop='nationality']", "img.flaggenrahmen[alt]")
	facts.Clubs = clubNames(doc)

	text := strings.ToLower(doc.Text())
	facts.Retired = strings.Contains(text, "karriereende") || strings.Contains(text, "retired")
	facts.HasDomesticTitle = strings.Contains(text, "meister") || strings.Contains(text, "champion")
	facts.IsTopScorer = strings.Contains(text, "torschützenkönig") || strings.Contains(text, "top scorer") || strings.Contains(text, "topscorer")
	facts.IsCupWinner = strings.Contains(text, "cupsieger") || strings.Contains(text, "pokalsieger") || strings.Contains(text, "cup winner")

	return facts, nil
}

// headlineName reads the header name, dropping a leading shirt number
// ("#10 Granit Xhaka" → "Granit Xhaka").
func headlineName(doc *goquery.Document) string {
	name := strings.TrimSpace(doc.Find("h1.data-header__headline-wrapper").First().Text())
	if name == "" {
		name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	name = strings.Join(strings.Fields(name), " ")
	if strings.HasPrefix(name, "#") {
		if idx := strings.Index(name, " "); idx > 0 {
			name = name[idx+1:]
		}
	}
	return name
}

// distinctStrings collects trimmed text of the primary selector and alt
// attributes of the fallback selector, de-duplicated in page order.
func distinctStrings(doc *goquery.Document, textSel, altSel string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	doc.Find(textSel).Each(func(_ int, s *goquery.Selection) {
		s.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
			alt, _ := img.Attr("alt")
			add(alt)
		})
		if s.Find("img").Length() == 0 {
			add(s.Text())
		}
	})
	if len(out) == 0 {
		doc.Find(altSel).Each(func(_ int, img *goquery.Selection) {
			alt, _ := img.Attr("alt")
			add(alt)
		})
	}
	return out
}

// clubNames collects the clubs referenced in the player's station history.
func clubNames(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href*='/verein/']").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("title")
		if !ok || strings.TrimSpace(name) == "" {
			name = s.Text()
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	})
	return out
}
