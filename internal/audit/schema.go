package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

// nestedKeys are the JSON-LD properties searched for embedded @type values.
var nestedKeys = []string{"@graph", "mainEntity", "hasPart", "publisher", "author"}

// Schema fetches the homepage and reports the schema.org types it declares.
func (a *Auditor) Schema(ctx context.Context, domain string) registry.SchemaAudit {
	url := fmt.Sprintf("%s://%s/", a.cfg.Scheme, domain)
	status, body, _, err := a.get(ctx, url, "text/html,application/xhtml+xml")
	if err != nil {
		a.logger.Warn("schema check failed", zap.String("url", url), zap.Error(err))
		return SummarizeSchema(nil)
	}
	if status >= 400 {
		a.logger.Debug("schema check got error status", zap.String("url", url), zap.Int("status", status))
		return SummarizeSchema(nil)
	}
	types, err := ParseSchemaTypes(body)
	if err != nil {
		a.logger.Warn("schema parse failed", zap.String("url", url), zap.Error(err))
	}
	return SummarizeSchema(types)
}

// ParseSchemaTypes collects JSON-LD @type values and schema.org microdata
// itemtypes in document order, deduplicated case-insensitively.
func ParseSchemaTypes(markup []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return
		}
		found = append(found, jsonLDTypes(data)...)
	})
	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		itemtype, _ := s.Attr("itemtype")
		idx := strings.LastIndex(itemtype, "schema.org/")
		if idx < 0 {
			return
		}
		if t := strings.Trim(itemtype[idx+len("schema.org/"):], "/ "); t != "" {
			found = append(found, t)
		}
	})

	seen := make(map[string]struct{}, len(found))
	unique := []string{}
	for _, t := range found {
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, t)
	}
	return unique, nil
}

func jsonLDTypes(data any) []string {
	var out []string
	switch v := data.(type) {
	case map[string]any:
		switch t := v["@type"].(type) {
		case string:
			out = append(out, t)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
		for _, key := range nestedKeys {
			if nested, ok := v[key]; ok {
				out = append(out, jsonLDTypes(nested)...)
			}
		}
	case []any:
		for _, item := range v {
			out = append(out, jsonLDTypes(item)...)
		}
	}
	return out
}

// SummarizeSchema derives the audit flags from a list of types.
func SummarizeSchema(types []string) registry.SchemaAudit {
	lower := make(map[string]struct{}, len(types))
	for _, t := range types {
		lower[strings.ToLower(t)] = struct{}{}
	}
	has := func(names ...string) bool {
		for _, n := range names {
			if _, ok := lower[n]; ok {
				return true
			}
		}
		return false
	}

	audit := registry.SchemaAudit{
		Types:           append([]string{}, types...),
		HasFAQ:          has("faqpage"),
		HasOrganization: has("organization", "localbusiness"),
		HasHowTo:        has("howto"),
		HasProduct:      has("product", "service"),
		MissingPriority: []string{},
	}
	if !audit.HasFAQ {
		audit.MissingPriority = append(audit.MissingPriority, "FAQPage")
	}
	if !audit.HasOrganization {
		audit.MissingPriority = append(audit.MissingPriority, "Organization")
	}
	if !audit.HasHowTo {
		audit.MissingPriority = append(audit.MissingPriority, "HowTo")
	}
	return audit
}
