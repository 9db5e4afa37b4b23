// Package registry defines the core types shared across the ingestion subsystems.
package registry

import "time"

// SchemaVersion is stamped on every registry the normalizer builds.
const SchemaVersion = "1.0"

// MaxCapabilities bounds the capability list of a registry.
const MaxCapabilities = 8

// Registry sources recorded in AIMetadata.Source.
const (
	SourceCrawl = "crawl"
	SourcePush  = "push"
)

// Fetch strategies recorded on a CrawlResult.
const (
	StrategyRendered = "rendered"
	StrategyDirect   = "direct"
	StrategyPush     = "push"
)

// FetchedPage is one page retrieved during a crawl.
type FetchedPage struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	HTML       string `json:"html,omitempty"`
	StatusCode int    `json:"status_code"`
	IsError    bool   `json:"is_error"`
}

// CrawlResult is the output of a single fetch run for a domain.
type CrawlResult struct {
	Domain     string        `json:"domain"`
	SeedURL    string        `json:"seed_url"`
	Pages      []FetchedPage `json:"pages"`
	TotalPages int           `json:"total_pages"`
	Duration   time.Duration `json:"duration"`
	Strategy   string        `json:"strategy"`
}

// IngestJob tracks one ingestion attempt for external polling.
type IngestJob struct {
	ID              string     `json:"job_id"`
	Domain          string     `json:"domain"`
	URL             string     `json:"url"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	PagesCrawled    int        `json:"pages_crawled"`
	ConfidenceScore *float64   `json:"confidence_score,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Domain    string
	URL       string
	Submitted int64
}

// RawExtraction is the untyped, best-effort output of the comprehension passes.
type RawExtraction struct {
	Metadata     map[string]any `json:"metadata"`
	Capabilities []any          `json:"capabilities"`
	Pricing      map[string]any `json:"pricing"`
	Limitations  map[string]any `json:"limitations"`
	PagesCrawled int            `json:"pages_crawled"`
	Model        string         `json:"model,omitempty"`
}

// Audits carries side-channel checks computed outside the extraction passes.
type Audits struct {
	Robots RobotsAudit
	Schema SchemaAudit
	Push   *PushSignals
}

// RobotsAudit summarizes AI crawler permissions from robots.txt.
type RobotsAudit struct {
	BlocksAICrawlers bool     `json:"blocks_ai_crawlers"`
	BlockedCrawlers  []string `json:"blocked_crawlers"`
	AllowedCrawlers  []string `json:"allowed_crawlers"`
	HasRobotsTxt     bool     `json:"has_robots_txt"`
	CrawlDelay       *int     `json:"crawl_delay,omitempty"`
	Details          string   `json:"details"`
}

// SchemaAudit summarizes structured markup found on the seed page.
type SchemaAudit struct {
	Types           []string `json:"schema_org_types"`
	HasFAQ          bool     `json:"has_faq"`
	HasOrganization bool     `json:"has_organization"`
	HasHowTo        bool     `json:"has_howto"`
	HasProduct      bool     `json:"has_product"`
	MissingPriority []string `json:"missing_priority"`
}

// PushSignals are auxiliary values reported by the page snippet.
type PushSignals struct {
	ToolsCount   int
	Enabled      bool
	FormsExposed int
	Tools        []map[string]any
}

// CapabilityRegistry is the persisted, per-domain description of a service.
type CapabilityRegistry struct {
	SchemaVersion string          `json:"schema_version"`
	Domain        string          `json:"domain" validate:"required"`
	CrawlID       string          `json:"crawl_id"`
	LastUpdated   time.Time       `json:"last_updated"`
	Metadata      ServiceMetadata `json:"metadata"`
	Capabilities  []Capability    `json:"capabilities" validate:"max=8,dive"`
	Pricing       Pricing         `json:"pricing"`
	Limitations   Limitations     `json:"limitations"`
	Integration   Integration     `json:"integration"`
	Reliability   Reliability     `json:"reliability"`
	AIMetadata    AIMetadata      `json:"ai_metadata"`
}

// RegistrySummary is the listing projection of a stored registry.
type RegistrySummary struct {
	Domain    string    `json:"domain"`
	CrawlID   string    `json:"crawl_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceMetadata describes the business behind a domain.
type ServiceMetadata struct {
	Name          string   `json:"name" validate:"required"`
	Domain        string   `json:"domain"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	SubCategories []string `json:"sub_categories"`
	Headquarters  string   `json:"headquarters,omitempty"`
	FoundedYear   *int     `json:"founded_year,omitempty"`
	CompanySize   string   `json:"company_size,omitempty"`
	WebsiteURL    string   `json:"website_url,omitempty"`
	LogoURL       string   `json:"logo_url,omitempty"`
	SupportURL    string   `json:"support_url,omitempty"`
	DocsURL       string   `json:"docs_url,omitempty"`
}

// CapabilityIO lists parameter names for one side of a capability.
type CapabilityIO struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// CapabilityOutputs lists result shapes of a capability.
type CapabilityOutputs struct {
	Success []string `json:"success"`
	Failure []string `json:"failure"`
}

// Capability is one concrete thing the service does.
type Capability struct {
	ID             string            `json:"id" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	ProblemsSolved []string          `json:"problems_solved"`
	Inputs         CapabilityIO      `json:"inputs"`
	Outputs        CapabilityOutputs `json:"outputs"`
	Constraints    []string          `json:"constraints"`
	UseCases       []string          `json:"use_cases"`
}

// PricingTier is one priced plan.
type PricingTier struct {
	Name         string   `json:"name"`
	PricePerUnit *float64 `json:"price_per_unit,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	PlusFixed    *float64 `json:"plus_fixed,omitempty"`
	Currency     string   `json:"currency"`
	ContactSales bool     `json:"contact_sales"`
	Description  string   `json:"description,omitempty"`
}

// Pricing summarizes the commercial model.
type Pricing struct {
	Model                string        `json:"model"`
	HasFreeTier          bool          `json:"has_free_tier"`
	ContactSalesRequired bool          `json:"contact_sales_required"`
	Tiers                []PricingTier `json:"tiers"`
	FreeTierDetails      string        `json:"free_tier_details,omitempty"`
	PricingPageURL       string        `json:"pricing_page_url,omitempty"`
	PricingNotes         string        `json:"pricing_notes,omitempty"`
}

// RateLimit is one published rate limit.
type RateLimit struct {
	Scope  string `json:"scope"`
	Limit  *int   `json:"limit,omitempty"`
	Window string `json:"window,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// GeographicRestriction lists availability or restriction regions.
type GeographicRestriction struct {
	Type              string   `json:"type"`
	RegionsAvailable  []string `json:"regions_available"`
	RegionsRestricted []string `json:"regions_restricted"`
	Notes             string   `json:"notes,omitempty"`
}

// DataFormats lists accepted and produced formats.
type DataFormats struct {
	Input    []string `json:"input"`
	Output   []string `json:"output"`
	Encoding string   `json:"encoding"`
}

// Limitations gathers operational constraints.
type Limitations struct {
	RateLimits             []RateLimit             `json:"rate_limits"`
	GeographicRestrictions []GeographicRestriction `json:"geographic_restrictions"`
	DataFormats            DataFormats             `json:"data_formats"`
	SLAUptimePercent       *float64                `json:"sla_uptime_percent,omitempty"`
	KnownConstraints       []string                `json:"known_constraints"`
}

// SDK is one published client library.
type SDK struct {
	Language       string `json:"language"`
	PackageName    string `json:"package_name,omitempty"`
	InstallCommand string `json:"install_command,omitempty"`
	DocsURL        string `json:"docs_url,omitempty"`
}

// Integration describes the programmatic surface.
type Integration struct {
	APIBaseURL        string   `json:"api_base_url,omitempty"`
	APIVersion        string   `json:"api_version,omitempty"`
	AuthMethods       []string `json:"auth_methods"`
	AuthNotes         string   `json:"auth_notes,omitempty"`
	SDKs              []SDK    `json:"sdks"`
	WebhooksSupported bool     `json:"webhooks_supported"`
	WebhookDocsURL    string   `json:"webhook_docs_url,omitempty"`
	OpenAPIURL        string   `json:"openapi_url,omitempty"`
}

// Reliability records the operational status surface.
type Reliability struct {
	StatusPageURL      string     `json:"status_page_url,omitempty"`
	CurrentStatus      string     `json:"current_status"`
	CheckedAt          *time.Time `json:"checked_at,omitempty"`
	SLAURL             string     `json:"sla_url,omitempty"`
	IncidentHistoryURL string     `json:"incident_history_url,omitempty"`
	Uptime30dPercent   *float64   `json:"uptime_30d_percent,omitempty"`
}

// AIMetadata carries discovery URLs, scoring and audit flags.
type AIMetadata struct {
	LLMsTxtURL      string    `json:"llms_txt_url"`
	AIPluginURL     string    `json:"ai_plugin_url"`
	RegistryURL     string    `json:"registry_url"`
	ConfidenceScore float64   `json:"confidence_score" validate:"gte=0,lte=1"`
	ExtractionModel string    `json:"extraction_model"`
	PagesCrawled    int       `json:"pages_crawled" validate:"gte=0"`
	LastUpdated     time.Time `json:"last_updated"`
	Source          string    `json:"source" validate:"oneof=crawl push"`

	WebMCPEnabled    bool             `json:"webmcp_enabled"`
	WebMCPToolsCount int              `json:"webmcp_tools_count"`
	FormsExposed     int              `json:"forms_exposed"`
	WebMCPTools      []map[string]any `json:"webmcp_tools"`

	RobotsBlocksAICrawlers bool     `json:"robots_blocks_ai_crawlers"`
	RobotsBlockedCrawlers  []string `json:"robots_blocked_crawlers"`
	RobotsHasRobotsTxt     bool     `json:"robots_has_robots_txt"`
	RobotsCrawlDelay       *int     `json:"robots_crawl_delay,omitempty"`

	SchemaOrgTypes           []string `json:"schema_org_types"`
	SchemaOrgHasFAQ          bool     `json:"schema_org_has_faq"`
	SchemaOrgHasOrganization bool     `json:"schema_org_has_organization"`
	SchemaOrgHasHowTo        bool     `json:"schema_org_has_howto"`
}
