package analyzer

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// navSelector matches the teacher's chrome-removal containers; here
// the Analyzer tags links found inside them instead of stripping the
// containers outright.
const navSelector = "nav, header, footer, aside"

// harvestLinks enumerates <a href>, resolves each against finalURL,
// discards cross-origin and non-http(s) links, and tags the survivors
// with the is_nav_link heuristic.
func harvestLinks(doc *goquery.Document, finalURL url.URL, navAnchorDensityThreshold int) []Link {
	origin := strings.ToLower(finalURL.Hostname())

	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, ok := resolveLink(finalURL, href)
		if !ok {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), origin) {
			return
		}

		links = append(links, Link{
			URL:       resolved.String(),
			Text:      strings.TrimSpace(sel.Text()),
			IsNavLink: isNavLink(sel, navAnchorDensityThreshold),
		})
	})
	return links
}

func resolveLink(base url.URL, href string) (url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return url.URL{}, false
	}
	switch {
	case strings.HasPrefix(href, "mailto:"),
		strings.HasPrefix(href, "tel:"),
		strings.HasPrefix(href, "javascript:"),
		strings.HasPrefix(href, "#"):
		return url.URL{}, false
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return url.URL{}, false
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return url.URL{}, false
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return *resolved, true
}

// isNavLink flags an anchor as navigation-context when it sits inside a
// chrome container (nav/header/footer/aside) or within a sibling run of
// more than threshold anchors — the teacher's anchor-dense-container
// signal repurposed from extraction to classification.
func isNavLink(sel *goquery.Selection, density int) bool {
	if sel.Closest(navSelector).Length() > 0 {
		return true
	}
	parent := sel.Parent()
	if parent.Length() == 0 {
		return false
	}
	return parent.Find("a").Length() > density
}
