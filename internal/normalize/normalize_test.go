package normalize

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	n   int
	err error
}

func (s *seqIDs) NewID(prefix string, _ int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("%s_%d", prefix, s.n), nil
}

func newTestBuilder() *Builder {
	return NewBuilder(&seqIDs{}, fixedClock{time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, zap.NewNop())
}

func TestCoercion(t *testing.T) {
	t.Parallel()

	require.Equal(t, "def", String(nil, "def"))
	require.Equal(t, "def", String("   ", "def"))
	require.Equal(t, "def", String("null", "def"))
	require.Equal(t, "2015", String(2015.0, ""))
	require.Equal(t, "x", String(" x ", ""))

	require.Equal(t, 2015, *Int(2015.0))
	require.Equal(t, 42, *Int(" 42 "))
	require.Nil(t, Int("abc"))
	require.Nil(t, Int(true))

	require.InDelta(t, 99.9, *Float("99.9%"), 1e-9)
	require.InDelta(t, 29.0, *Float(29.0), 1e-9)
	require.Nil(t, Float(map[string]any{}))

	require.True(t, Bool("Yes", false))
	require.False(t, Bool("nope", true))
	require.True(t, Bool(1.0, false))
	require.True(t, Bool(nil, true))

	require.Equal(t, []string{"a", "1"}, StringList([]any{"a", nil, " ", 1.0}))
	require.Equal(t, []string{"solo"}, StringList("solo"))
	require.NotNil(t, StringList(42.0))
	require.Empty(t, StringList(42.0))

	require.Empty(t, Map("x"))
	require.Nil(t, List("x"))
}

func TestCalculateConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  registry.RawExtraction
		want float64
	}{
		{"empty", registry.RawExtraction{}, 0.1},
		{"complete", registry.RawExtraction{
			Metadata:     map[string]any{"name": "Acme", "description": "d", "api_base_url": "https://api.acme.com"},
			Capabilities: []any{map[string]any{}, map[string]any{}, map[string]any{}},
			Pricing:      map[string]any{"model": "subscription"},
		}, 0.967},
		{"partial", registry.RawExtraction{
			Metadata:     map[string]any{"name": "Acme"},
			Capabilities: []any{map[string]any{}},
			Pricing:      map[string]any{"model": "unknown"},
		}, 0.489},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateConfidence(tt.raw)
			require.InDelta(t, tt.want, got, 1e-9)
			require.GreaterOrEqual(t, got, 0.0)
			require.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRound3Clamps(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Round3(-1))
	require.Equal(t, 1.0, Round3(7))
	require.Equal(t, 0.123, Round3(0.12345))
}

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	reg := newTestBuilder().Build("acme.com", registry.RawExtraction{}, 0.1, "https://reg.example.com/", registry.Audits{})

	require.Equal(t, registry.SchemaVersion, reg.SchemaVersion)
	require.Equal(t, "acme.com", reg.Domain)
	require.Equal(t, "c_1", reg.CrawlID)
	require.Equal(t, "acme.com", reg.Metadata.Name)
	require.Equal(t, DefaultDescription, reg.Metadata.Description)
	require.Equal(t, DefaultCategory, reg.Metadata.Category)
	require.Empty(t, reg.Capabilities)
	require.NotNil(t, reg.Capabilities)
	require.Equal(t, DefaultPricingModel, reg.Pricing.Model)
	require.Equal(t, DefaultEncoding, reg.Limitations.DataFormats.Encoding)
	require.Equal(t, DefaultStatus, reg.Reliability.CurrentStatus)
	require.Equal(t, "https://reg.example.com/registry/acme.com/llms.txt", reg.AIMetadata.LLMsTxtURL)
	require.Equal(t, "https://reg.example.com/registry/acme.com/ai-plugin.json", reg.AIMetadata.AIPluginURL)
	require.Equal(t, "https://reg.example.com/registry/acme.com", reg.AIMetadata.RegistryURL)
	require.Equal(t, registry.SourceCrawl, reg.AIMetadata.Source)
	require.Equal(t, "unknown", reg.AIMetadata.ExtractionModel)
}

func TestBuildMapsFieldsAndCapsCapabilities(t *testing.T) {
	t.Parallel()

	caps := []any{"not a capability"}
	for i := 0; i < 10; i++ {
		caps = append(caps, map[string]any{
			"name":            fmt.Sprintf("Cap %d", i),
			"problems_solved": []any{"p"},
			"inputs":          map[string]any{"required": []any{"amount"}},
		})
	}
	raw := registry.RawExtraction{
		Metadata: map[string]any{
			"name":            "Acme",
			"founded_year":    "2015",
			"api_base_url":    "https://api.acme.com",
			"auth_methods":    "api_key",
			"sdks":            []any{map[string]any{"package_name": "acme"}, 5.0},
			"status_page_url": "https://status.acme.com",
		},
		Capabilities: caps,
		Pricing: map[string]any{
			"model":         "usage_based",
			"has_free_tier": "yes",
			"tiers":         []any{map[string]any{"price_per_unit": "0.02"}, "junk"},
		},
		Limitations: map[string]any{
			"rate_limits":        []any{map[string]any{"limit": 100.0}},
			"sla_uptime_percent": 99.95,
		},
		PagesCrawled: 7,
		Model:        "deep-model",
	}
	robotsDelay := 5
	audits := registry.Audits{
		Robots: registry.RobotsAudit{BlocksAICrawlers: true, BlockedCrawlers: []string{"gptbot"}, HasRobotsTxt: true, CrawlDelay: &robotsDelay},
		Schema: registry.SchemaAudit{Types: []string{"Organization"}, HasOrganization: true},
	}

	reg := newTestBuilder().Build("acme.com", raw, 1.7, "http://localhost:8000", audits)

	require.Len(t, reg.Capabilities, registry.MaxCapabilities)
	require.Equal(t, "Cap 0", reg.Capabilities[0].Name)
	require.Equal(t, DefaultCapabilityCat, reg.Capabilities[0].Category)
	require.Equal(t, []string{"amount"}, reg.Capabilities[0].Inputs.Required)
	require.NotEmpty(t, reg.Capabilities[0].ID)
	require.Equal(t, 2015, *reg.Metadata.FoundedYear)
	require.Equal(t, []string{"api_key"}, reg.Integration.AuthMethods)
	require.Len(t, reg.Integration.SDKs, 1)
	require.Equal(t, DefaultSDKLanguage, reg.Integration.SDKs[0].Language)
	require.Equal(t, "https://status.acme.com", reg.Reliability.StatusPageURL)
	require.True(t, reg.Pricing.HasFreeTier)
	require.Len(t, reg.Pricing.Tiers, 1)
	require.Equal(t, DefaultTierName, reg.Pricing.Tiers[0].Name)
	require.Equal(t, DefaultCurrency, reg.Pricing.Tiers[0].Currency)
	require.InDelta(t, 0.02, *reg.Pricing.Tiers[0].PricePerUnit, 1e-9)
	require.Equal(t, DefaultRateScope, reg.Limitations.RateLimits[0].Scope)
	require.Equal(t, 100, *reg.Limitations.RateLimits[0].Limit)
	require.Equal(t, 1.0, reg.AIMetadata.ConfidenceScore)
	require.Equal(t, 7, reg.AIMetadata.PagesCrawled)
	require.Equal(t, "deep-model", reg.AIMetadata.ExtractionModel)
	require.True(t, reg.AIMetadata.RobotsBlocksAICrawlers)
	require.Equal(t, []string{"gptbot"}, reg.AIMetadata.RobotsBlockedCrawlers)
	require.Equal(t, 5, *reg.AIMetadata.RobotsCrawlDelay)
	require.True(t, reg.AIMetadata.SchemaOrgHasOrganization)
}

func TestBuildPushSignals(t *testing.T) {
	t.Parallel()

	audits := registry.Audits{Push: &registry.PushSignals{
		ToolsCount:   2,
		Enabled:      true,
		FormsExposed: 3,
		Tools:        []map[string]any{{"name": "search"}},
	}}
	reg := newTestBuilder().Build("acme.com", registry.RawExtraction{}, 0.5, "", audits)
	require.Equal(t, registry.SourcePush, reg.AIMetadata.Source)
	require.True(t, reg.AIMetadata.WebMCPEnabled)
	require.Equal(t, 2, reg.AIMetadata.WebMCPToolsCount)
	require.Equal(t, 3, reg.AIMetadata.FormsExposed)
	require.Len(t, reg.AIMetadata.WebMCPTools, 1)
}

func TestBuildSurvivesIDFailure(t *testing.T) {
	t.Parallel()

	b := NewBuilder(&seqIDs{err: errors.New("entropy")}, fixedClock{time.Unix(10, 0)}, nil)
	reg := b.Build("acme.com", registry.RawExtraction{Capabilities: []any{map[string]any{}}}, 0, "", registry.Audits{})
	require.NotEmpty(t, reg.CrawlID)
	require.NotEmpty(t, reg.Capabilities[0].ID)
}

func TestCorrectRepairsInvalidRegistry(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	reg := registry.CapabilityRegistry{Domain: "acme.com"}
	for i := 0; i < 11; i++ {
		reg.Capabilities = append(reg.Capabilities, registry.Capability{ID: fmt.Sprintf("cap_%d", i), Name: "Invoices"})
	}
	reg.Capabilities[2].Name = " "
	reg.Capabilities[3].ID = ""
	reg.AIMetadata = registry.AIMetadata{ConfidenceScore: 1.7, PagesCrawled: -3, Source: "scrape"}

	got := b.correct(reg)

	require.NoError(t, b.validate.Struct(got))
	require.Len(t, got.Capabilities, registry.MaxCapabilities)
	require.Equal(t, DefaultCapabilityName, got.Capabilities[2].Name)
	require.Equal(t, "cap_1", got.Capabilities[3].ID)
	require.Equal(t, "acme.com", got.Metadata.Name)
	require.Equal(t, 1.0, got.AIMetadata.ConfidenceScore)
	require.Zero(t, got.AIMetadata.PagesCrawled)
	require.Equal(t, registry.SourceCrawl, got.AIMetadata.Source)
}

func TestCorrectLeavesValidRegistryAlone(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	reg := registry.CapabilityRegistry{
		Domain:       "acme.com",
		Metadata:     registry.ServiceMetadata{Name: "Acme"},
		Capabilities: []registry.Capability{{ID: "cap_x", Name: "Invoices"}},
		AIMetadata:   registry.AIMetadata{ConfidenceScore: 0.5, Source: registry.SourcePush},
	}
	require.Equal(t, reg, b.correct(reg))
}
