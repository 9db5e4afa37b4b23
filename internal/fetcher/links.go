// Package fetcher holds the fetch strategy plumbing shared by the rendered and
// direct crawlers: link discovery and ranking, text extraction, and fallback.
package fetcher

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

// PriorityKeywords orders path fragments from most to least valuable for
// comprehension. Links matching none keep discovery order after all matches.
var PriorityKeywords = []string{
	"/pricing",
	"/price",
	"/plans",
	"/docs",
	"/documentation",
	"/api",
	"/features",
	"/product",
	"/solutions",
	"/about",
	"/enterprise",
	"/integrations",
	"/status",
	"/security",
	"/changelog",
	"/developer",
}

var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".xml": {}, ".json": {}, ".css": {},
	".js": {}, ".mp4": {}, ".mp3": {}, ".woff": {}, ".woff2": {},
}

var skippedSchemes = []string{"mailto:", "tel:", "javascript:", "data:"}

// PriorityRank returns the index of the first keyword found in the link's path,
// or len(PriorityKeywords) when none match. Lower is better.
func PriorityRank(link string) int {
	p := strings.ToLower(link)
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	}
	for i, kw := range PriorityKeywords {
		if strings.Contains(p, kw) {
			return i
		}
	}
	return len(PriorityKeywords)
}

// NormalizeLink produces the comparison key used for de-duplication.
func NormalizeLink(link string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(link), "/"))
}

// RankLinks de-duplicates links, drops any whose key is in exclude, and
// stable-sorts the rest by PriorityRank.
func RankLinks(links []string, exclude ...string) []string {
	seen := make(map[string]struct{}, len(links)+len(exclude))
	for _, e := range exclude {
		seen[NormalizeLink(e)] = struct{}{}
	}
	out := make([]string, 0, len(links))
	for _, link := range links {
		key := NormalizeLink(link)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return PriorityRank(out[i]) < PriorityRank(out[j])
	})
	return out
}

// ExtractLinks returns same-domain, non-asset links from page markup in
// discovery order. Links are reduced to scheme://host/path without a trailing slash.
func ExtractLinks(html string, baseURL string, domain string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		for _, scheme := range skippedSchemes {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !registry.HostMatches(abs.Hostname(), domain) {
			return
		}
		if _, skip := skippedExtensions[strings.ToLower(path.Ext(abs.Path))]; skip {
			return
		}
		clean := strings.TrimSuffix(abs.Scheme+"://"+abs.Host+abs.Path, "/")
		key := NormalizeLink(clean)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, clean)
	})
	return links
}
