package normalize

import (
	"math"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

// CalculateConfidence scores extraction completeness in [0,1] as the mean of
// six signals, rounded to three decimals.
func CalculateConfidence(raw registry.RawExtraction) float64 {
	meta := Map(raw.Metadata)
	pricing := Map(raw.Pricing)
	caps := len(raw.Capabilities)

	signals := []float64{
		presence(truthy(meta["name"]), 1, 0),
		presence(truthy(meta["description"]), 1, 0),
		math.Min(float64(caps)/3.0, 1.0),
		presence(String(pricing["model"], "unknown") != "unknown", 1, 0.2),
		presence(truthy(meta["api_base_url"]), 0.8, 0.4),
		presence(caps > 0, 1, 0),
	}
	var sum float64
	for _, s := range signals {
		sum += s
	}
	return Round3(sum / float64(len(signals)))
}

// Round3 clamps score to [0,1] and rounds it to three decimal places.
func Round3(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return math.Round(score*1000) / 1000
}

func presence(ok bool, yes, no float64) float64 {
	if ok {
		return yes
	}
	return no
}
