package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/id/uuid"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Field defaults.
const (
	DefaultDescription    = "No description available"
	DefaultCategory       = "unknown"
	DefaultCapabilityName = "Unnamed Capability"
	DefaultCapabilityCat  = "core"
	DefaultPricingModel   = "unknown"
	DefaultTierName       = "Unknown Tier"
	DefaultCurrency       = "USD"
	DefaultRateScope      = "API"
	DefaultGeoType        = "availability"
	DefaultEncoding       = "UTF-8"
	DefaultSDKLanguage    = "Unknown"
	DefaultStatus         = "unknown"
)

const (
	crawlIDLength      = 12
	capabilityIDLength = 8
)

// Builder maps a RawExtraction onto the registry schema.
type Builder struct {
	ids      registry.IDGenerator
	clock    registry.Clock
	validate *validator.Validate
	logger   *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(ids registry.IDGenerator, clock registry.Clock, logger *zap.Logger) *Builder {
	return &Builder{
		ids:      ids,
		clock:    clock,
		validate: validator.New(),
		logger:   logging.OrNop(logger),
	}
}

// Build assembles a complete registry in memory. The source is "push" when
// audits carry push signals and "crawl" otherwise.
func (b *Builder) Build(
	domain string,
	raw registry.RawExtraction,
	confidence float64,
	baseURL string,
	audits registry.Audits,
) registry.CapabilityRegistry {
	meta := Map(raw.Metadata)
	now := b.clock.Now()
	base := strings.TrimSuffix(baseURL, "/")

	model := raw.Model
	if model == "" {
		model = "unknown"
	}
	source := registry.SourceCrawl
	if audits.Push != nil {
		source = registry.SourcePush
	}
	pages := raw.PagesCrawled
	if pages < 0 {
		pages = 0
	}

	ai := registry.AIMetadata{
		LLMsTxtURL:      fmt.Sprintf("%s/registry/%s/llms.txt", base, domain),
		AIPluginURL:     fmt.Sprintf("%s/registry/%s/ai-plugin.json", base, domain),
		RegistryURL:     fmt.Sprintf("%s/registry/%s", base, domain),
		ConfidenceScore: Round3(confidence),
		ExtractionModel: model,
		PagesCrawled:    pages,
		LastUpdated:     now,
		Source:          source,
		WebMCPTools:     []map[string]any{},

		RobotsBlocksAICrawlers: audits.Robots.BlocksAICrawlers,
		RobotsBlockedCrawlers:  nonNil(audits.Robots.BlockedCrawlers),
		RobotsHasRobotsTxt:     audits.Robots.HasRobotsTxt,
		RobotsCrawlDelay:       audits.Robots.CrawlDelay,

		SchemaOrgTypes:           nonNil(audits.Schema.Types),
		SchemaOrgHasFAQ:          audits.Schema.HasFAQ,
		SchemaOrgHasOrganization: audits.Schema.HasOrganization,
		SchemaOrgHasHowTo:        audits.Schema.HasHowTo,
	}
	if p := audits.Push; p != nil {
		ai.WebMCPEnabled = p.Enabled
		ai.WebMCPToolsCount = p.ToolsCount
		ai.FormsExposed = p.FormsExposed
		if p.Tools != nil {
			ai.WebMCPTools = p.Tools
		}
	}

	reg := registry.CapabilityRegistry{
		SchemaVersion: registry.SchemaVersion,
		Domain:        domain,
		CrawlID:       b.newID(uuid.PrefixCrawl, crawlIDLength),
		LastUpdated:   now,
		Metadata:      buildMetadata(domain, meta),
		Capabilities:  b.buildCapabilities(domain, raw.Capabilities),
		Pricing:       buildPricing(Map(raw.Pricing)),
		Limitations:   buildLimitations(Map(raw.Limitations)),
		Integration:   buildIntegration(meta),
		Reliability: registry.Reliability{
			StatusPageURL: String(meta["status_page_url"], ""),
			CurrentStatus: DefaultStatus,
		},
		AIMetadata: ai,
	}

	return b.correct(reg)
}

// correct validates reg and repairs any violated invariant in place. It never
// fails: offending fields are logged and clamped, truncated or defaulted.
func (b *Builder) correct(reg registry.CapabilityRegistry) registry.CapabilityRegistry {
	err := b.validate.Struct(reg)
	if err == nil {
		return reg
	}
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+":"+fe.Tag())
		}
	}
	b.logger.Warn("registry failed validation, correcting",
		zap.String("domain", reg.Domain),
		zap.Strings("fields", fields),
		zap.Error(err))

	if len(reg.Capabilities) > registry.MaxCapabilities {
		reg.Capabilities = reg.Capabilities[:registry.MaxCapabilities]
	}
	for i := range reg.Capabilities {
		c := &reg.Capabilities[i]
		if strings.TrimSpace(c.Name) == "" {
			c.Name = DefaultCapabilityName
		}
		if c.ID == "" {
			c.ID = b.newID(uuid.PrefixCapability, capabilityIDLength)
		}
	}
	if strings.TrimSpace(reg.Metadata.Name) == "" {
		reg.Metadata.Name = reg.Domain
	}
	ai := &reg.AIMetadata
	ai.ConfidenceScore = Round3(ai.ConfidenceScore)
	if ai.PagesCrawled < 0 {
		ai.PagesCrawled = 0
	}
	if ai.Source != registry.SourceCrawl && ai.Source != registry.SourcePush {
		ai.Source = registry.SourceCrawl
	}
	return reg
}

func (b *Builder) newID(prefix string, length int) string {
	id, err := b.ids.NewID(prefix, length)
	if err != nil {
		b.logger.Warn("id generation failed", zap.String("prefix", prefix), zap.Error(err))
		return fmt.Sprintf("%s_%d", prefix, b.clock.Now().UnixNano())
	}
	return id
}

func buildMetadata(domain string, raw map[string]any) registry.ServiceMetadata {
	return registry.ServiceMetadata{
		Name:          String(raw["name"], domain),
		Domain:        domain,
		Description:   String(raw["description"], DefaultDescription),
		Category:      String(raw["category"], DefaultCategory),
		SubCategories: StringList(raw["sub_categories"]),
		Headquarters:  String(raw["headquarters"], ""),
		FoundedYear:   Int(raw["founded_year"]),
		CompanySize:   String(raw["company_size"], ""),
		WebsiteURL:    String(raw["website_url"], ""),
		LogoURL:       String(raw["logo_url"], ""),
		SupportURL:    String(raw["support_url"], ""),
		DocsURL:       String(raw["docs_url"], ""),
	}
}

func (b *Builder) buildCapabilities(domain string, raw []any) []registry.Capability {
	caps := []registry.Capability{}
	for i, item := range raw {
		if len(caps) == registry.MaxCapabilities {
			break
		}
		m, ok := item.(map[string]any)
		if !ok {
			b.logger.Warn("skipping malformed capability",
				zap.String("domain", domain),
				zap.Int("index", i),
				zap.String("type", fmt.Sprintf("%T", item)),
			)
			continue
		}
		inputs := Map(m["inputs"])
		outputs := Map(m["outputs"])
		caps = append(caps, registry.Capability{
			ID:             b.newID(uuid.PrefixCapability, capabilityIDLength),
			Name:           String(m["name"], DefaultCapabilityName),
			Description:    String(m["description"], ""),
			Category:       String(m["category"], DefaultCapabilityCat),
			ProblemsSolved: StringList(m["problems_solved"]),
			Inputs: registry.CapabilityIO{
				Required: StringList(inputs["required"]),
				Optional: StringList(inputs["optional"]),
			},
			Outputs: registry.CapabilityOutputs{
				Success: StringList(outputs["success"]),
				Failure: StringList(outputs["failure"]),
			},
			Constraints: StringList(m["constraints"]),
			UseCases:    StringList(m["use_cases"]),
		})
	}
	return caps
}

func buildPricing(raw map[string]any) registry.Pricing {
	tiers := []registry.PricingTier{}
	for _, item := range List(raw["tiers"]) {
		t, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tiers = append(tiers, registry.PricingTier{
			Name:         String(t["name"], DefaultTierName),
			PricePerUnit: Float(t["price_per_unit"]),
			Unit:         String(t["unit"], ""),
			PlusFixed:    Float(t["plus_fixed"]),
			Currency:     String(t["currency"], DefaultCurrency),
			ContactSales: Bool(t["contact_sales"], false),
			Description:  String(t["description"], ""),
		})
	}
	return registry.Pricing{
		Model:                String(raw["model"], DefaultPricingModel),
		HasFreeTier:          Bool(raw["has_free_tier"], false),
		ContactSalesRequired: Bool(raw["contact_sales_required"], false),
		Tiers:                tiers,
		FreeTierDetails:      String(raw["free_tier_details"], ""),
		PricingPageURL:       String(raw["pricing_page_url"], ""),
		PricingNotes:         String(raw["pricing_notes"], ""),
	}
}

func buildLimitations(raw map[string]any) registry.Limitations {
	rates := []registry.RateLimit{}
	for _, item := range List(raw["rate_limits"]) {
		r, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rates = append(rates, registry.RateLimit{
			Scope:  String(r["scope"], DefaultRateScope),
			Limit:  Int(r["limit"]),
			Window: String(r["window"], ""),
			Notes:  String(r["notes"], ""),
		})
	}
	geo := []registry.GeographicRestriction{}
	for _, item := range List(raw["geographic_restrictions"]) {
		g, ok := item.(map[string]any)
		if !ok {
			continue
		}
		geo = append(geo, registry.GeographicRestriction{
			Type:              String(g["type"], DefaultGeoType),
			RegionsAvailable:  StringList(g["regions_available"]),
			RegionsRestricted: StringList(g["regions_restricted"]),
			Notes:             String(g["notes"], ""),
		})
	}
	formats := Map(raw["data_formats"])
	return registry.Limitations{
		RateLimits:             rates,
		GeographicRestrictions: geo,
		DataFormats: registry.DataFormats{
			Input:    StringList(formats["input"]),
			Output:   StringList(formats["output"]),
			Encoding: String(formats["encoding"], DefaultEncoding),
		},
		SLAUptimePercent: Float(raw["sla_uptime_percent"]),
		KnownConstraints: StringList(raw["known_constraints"]),
	}
}

func buildIntegration(raw map[string]any) registry.Integration {
	sdks := []registry.SDK{}
	for _, item := range List(raw["sdks"]) {
		s, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sdks = append(sdks, registry.SDK{
			Language:       String(s["language"], DefaultSDKLanguage),
			PackageName:    String(s["package_name"], ""),
			InstallCommand: String(s["install_command"], ""),
			DocsURL:        String(s["docs_url"], ""),
		})
	}
	return registry.Integration{
		APIBaseURL:        String(raw["api_base_url"], ""),
		APIVersion:        String(raw["api_version"], ""),
		AuthMethods:       StringList(raw["auth_methods"]),
		AuthNotes:         String(raw["auth_notes"], ""),
		SDKs:              sdks,
		WebhooksSupported: Bool(raw["webhooks_supported"], false),
		WebhookDocsURL:    String(raw["webhook_docs_url"], ""),
		OpenAPIURL:        String(raw["openapi_url"], ""),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
