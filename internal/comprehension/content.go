package comprehension

import (
	"strings"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Content windows, in bytes.
const (
	pageWindow        = 5000
	metadataWindow    = 30000
	capabilityWindow  = 60000
	limitationWindow  = 40000
	pricingFallback   = 20000
	homepageForPrices = 3000
)

var pricingKeywords = []string{"/pricing", "/price", "/plans"}

// PrepareContent concatenates every page under a URL header, each page capped
// at pageWindow bytes.
func PrepareContent(crawl registry.CrawlResult) string {
	parts := make([]string, 0, len(crawl.Pages))
	for _, p := range crawl.Pages {
		parts = append(parts, "=== PAGE: "+p.URL+" ===\n"+fetcher.Truncate(p.Text, pageWindow))
	}
	return strings.Join(parts, "\n\n")
}

// PricingContent prefers the first page whose URL looks like a pricing page,
// followed by a slice of the homepage. Without one it falls back to the head of
// the general content.
func PricingContent(crawl registry.CrawlResult) string {
	for _, p := range crawl.Pages {
		lower := strings.ToLower(p.URL)
		for _, kw := range pricingKeywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			out := "=== PRICING PAGE: " + p.URL + " ===\n" + p.Text
			if len(crawl.Pages) > 0 {
				out += "\n\n=== HOMEPAGE ===\n" + fetcher.Truncate(crawl.Pages[0].Text, homepageForPrices)
			}
			return out
		}
	}
	return fetcher.Truncate(PrepareContent(crawl), pricingFallback)
}
