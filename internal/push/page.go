package push

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

const schemaOrgTextLimit = 2000

// Page is the structured page snapshot the site snippet reports.
type Page struct {
	URL             string           `json:"url" validate:"required"`
	Title           string           `json:"title,omitempty"`
	Description     string           `json:"description,omitempty"`
	PageType        string           `json:"page_type,omitempty"`
	Headings        []string         `json:"headings,omitempty"`
	CTAs            []string         `json:"ctas,omitempty"`
	Forms           []map[string]any `json:"forms,omitempty"`
	SchemaOrg       []map[string]any `json:"schema_org,omitempty"`
	TextPreview     string           `json:"text_preview,omitempty"`
	WebMCPTools     []map[string]any `json:"webmcp_tools,omitempty"`
	WebMCPSupported bool             `json:"webmcp_supported,omitempty"`
}

// Digest hashes the fields whose change warrants re-extraction.
func Digest(h registry.Hasher, page Page) (string, error) {
	content := page.TextPreview + page.Title + strings.Join(page.Headings, "\n")
	sum, err := h.Hash([]byte(content))
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	return sum, nil
}

// BuildPageText renders a Page as markdown-ish text for the comprehension passes.
func BuildPageText(page Page) string {
	var parts []string
	if page.Title != "" {
		parts = append(parts, "# "+page.Title)
	}
	if page.Description != "" {
		parts = append(parts, page.Description)
	}
	if len(page.Headings) > 0 {
		parts = append(parts, "## Headings\n"+bullets(page.Headings))
	}
	if len(page.CTAs) > 0 {
		parts = append(parts, "## Calls to Action\n"+bullets(page.CTAs))
	}
	if len(page.Forms) > 0 {
		forms := make([]string, 0, len(page.Forms))
		for _, f := range page.Forms {
			forms = append(forms, fmt.Sprintf("Form: %s (%s)",
				formField(f, "name", "unnamed"),
				formField(f, "action", "no action")))
		}
		parts = append(parts, "## Forms\n"+bullets(forms))
	}
	if len(page.SchemaOrg) > 0 {
		if data, err := json.MarshalIndent(page.SchemaOrg, "", "  "); err == nil {
			parts = append(parts, "## Schema.org\n"+fetcher.Truncate(string(data), schemaOrgTextLimit))
		}
	}
	if page.TextPreview != "" {
		parts = append(parts, "## Content\n"+page.TextPreview)
	}
	return strings.Join(parts, "\n\n")
}

// Signals extracts the snippet-reported values stamped on the registry.
func Signals(page Page) *registry.PushSignals {
	tools := page.WebMCPTools
	if tools == nil {
		tools = []map[string]any{}
	}
	return &registry.PushSignals{
		ToolsCount:   len(page.WebMCPTools),
		Enabled:      page.WebMCPSupported,
		FormsExposed: len(page.Forms),
		Tools:        tools,
	}
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func formField(form map[string]any, key, def string) string {
	v, ok := form[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
