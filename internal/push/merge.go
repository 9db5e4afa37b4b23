package push

import "github.com/JakeFAU/capability-registry/internal/registry"

// Merge folds a freshly built registry over the stored one. Fresh data wins
// except that a longer capability list, a tiered pricing block and a higher
// confidence score are never given up.
func Merge(existing, fresh registry.CapabilityRegistry) registry.CapabilityRegistry {
	out := fresh
	if len(existing.Capabilities) > len(fresh.Capabilities) {
		out.Capabilities = append([]registry.Capability(nil), existing.Capabilities...)
	}
	if len(fresh.Pricing.Tiers) == 0 && len(existing.Pricing.Tiers) > 0 {
		out.Pricing = existing.Pricing
		out.Pricing.Tiers = append([]registry.PricingTier(nil), existing.Pricing.Tiers...)
	}
	if existing.AIMetadata.ConfidenceScore > fresh.AIMetadata.ConfidenceScore {
		out.AIMetadata.ConfidenceScore = existing.AIMetadata.ConfidenceScore
	}
	return out
}
