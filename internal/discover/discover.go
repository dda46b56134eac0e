// Package discover extracts crawlable links from fetched HTML pages.
package discover

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// skipMarkers reject hrefs that never lead to another document.
var skipMarkers = []string{"#", "javascript:", "mailto:", "tel:"}

// Filter narrows discovered links by URL substring.
type Filter struct {
	Include []string
	Exclude []string
}

// FilterFor builds the filter configured on a source.
func FilterFor(src crawler.SourceConfig) Filter {
	return Filter{Include: src.Include, Exclude: src.Exclude}
}

// Allows reports whether the URL passes the exclude and include lists.
// Exclusions win; an empty include list accepts everything else.
func (f Filter) Allows(rawURL string) bool {
	for _, pattern := range f.Exclude {
		if pattern != "" && strings.Contains(rawURL, pattern) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if strings.Contains(rawURL, pattern) {
			return true
		}
	}
	return false
}

// Links returns the normalized, de-duplicated same-host links on the page in
// document order.
func Links(pageURL string, body []byte, filter Filter) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || shouldSkip(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !strings.EqualFold(abs.Hostname(), base.Hostname()) {
			return
		}
		normalized, err := crawler.NormalizeURL(abs.String())
		if err != nil || !filter.Allows(normalized) {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links, nil
}

func shouldSkip(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range skipMarkers {
		if marker == "#" {
			if strings.Contains(lower, marker) {
				return true
			}
			continue
		}
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
