package comprehension

import "strings"

const contentPlaceholder = "{{content}}"

const metadataPrompt = `You are extracting structured business information from website content.
Extract ONLY what is explicitly stated. Use null for unknown fields.
Return valid JSON only. No explanation, no markdown fences.

Website content (multiple pages):
{{content}}

Return this exact JSON structure:
{
  "name": "Company/product name",
  "description": "One sentence value proposition (what it does and for whom)",
  "category": "One of: fintech|devtools|ai|analytics|infrastructure|ecommerce|hr|crm|security|communication|productivity|other",
  "sub_categories": ["tag1", "tag2"],
  "headquarters": "City, Country or null",
  "founded_year": 2015,
  "company_size": "startup|smb|enterprise or null",
  "website_url": "https://...",
  "logo_url": "https://... or null",
  "support_url": "https://support.example.com or null",
  "docs_url": "https://docs.example.com or null",
  "api_base_url": "https://api.example.com or null (infer from docs URLs, code examples, or SDK documentation)",
  "api_version": "v2 or null",
  "auth_methods": ["api_key", "oauth2", "basic_auth"],
  "auth_notes": "How auth works in one sentence or null",
  "sdks": [
    {"language": "Python", "package_name": "example", "install_command": "pip install example", "docs_url": null}
  ],
  "webhooks_supported": false,
  "webhook_docs_url": null,
  "status_page_url": "https://status.example.com or null",
  "pricing_page_url": "https://example.com/pricing or null",
  "openapi_url": null
}
`

const capabilitiesPrompt = `You are a technical analyst identifying what problems this product solves for developers and businesses.
An AI agent will read your output to decide whether to use this service.
Be concrete. Focus on what the service DOES, not marketing language.
Return a valid JSON array only. No explanation, no markdown fences.

Website content:
{{content}}

Return a JSON array of capabilities. Max 8. Each item:
{
  "name": "Short capability name (2-5 words)",
  "description": "What it does in one concrete sentence",
  "category": "core|addon|enterprise",
  "problems_solved": ["Problem 1 (specific)", "Problem 2"],
  "inputs": {"required": ["param1"], "optional": ["param2"]},
  "outputs": {"success": ["result1"], "failure": ["error_code"]},
  "constraints": ["Any hard limitation specific to this capability"],
  "use_cases": ["Concrete use case 1", "Concrete use case 2"]
}
`

const pricingPrompt = `Extract pricing information from this content. Be precise about numbers.
Use null for truly unknown values. Do NOT invent prices.
Return valid JSON only. No explanation, no markdown fences.

Content:
{{content}}

Return:
{
  "model": "per_transaction|subscription|usage_based|freemium|free|contact_sales|unknown",
  "has_free_tier": true,
  "contact_sales_required": false,
  "tiers": [
    {
      "name": "Starter",
      "price_per_unit": 29.00,
      "unit": "per_month|per_seat|per_transaction|per_call|per_1k_tokens|other",
      "plus_fixed": null,
      "currency": "USD",
      "contact_sales": false,
      "description": "Summary of what this tier includes"
    }
  ],
  "free_tier_details": "What the free tier includes, or null",
  "pricing_page_url": "https://... or null",
  "pricing_notes": "Important caveats (annual billing, regional pricing) or null"
}
`

const limitationsPrompt = `Extract operational constraints, limitations, and restrictions from this content.
An AI agent needs this to know what it cannot do with this service.
Be precise. Use empty arrays for unknown fields. Do NOT make up limits.
Return valid JSON only. No explanation, no markdown fences.

Content:
{{content}}

Return:
{
  "rate_limits": [
    {"scope": "API requests", "limit": 100, "window": "per_second", "notes": "..."}
  ],
  "geographic_restrictions": [
    {"type": "availability", "regions_available": ["US", "EU"], "regions_restricted": ["CN"], "notes": null}
  ],
  "data_formats": {"input": ["JSON"], "output": ["JSON"], "encoding": "UTF-8"},
  "sla_uptime_percent": 99.9,
  "known_constraints": ["Maximum file size 100MB"]
}
`

func render(template, content string) string {
	return strings.Replace(template, contentPlaceholder, content, 1)
}
