// Package entitlement maps subscription tiers to feature grants. The
// resolver is pure: no I/O, no state, safe for concurrent use.
package entitlement

import "github.com/pridato/reelforge/internal/models"

// Feature is a closed identifier for a gated product capability. Only the
// constants below resolve; anything else fails closed.
type Feature string

const (
	FeatureBasicTemplates    Feature = "basic_templates"
	FeatureStandardVoices    Feature = "standard_voices"
	Feature720p              Feature = "720p"
	FeaturePremiumTemplates  Feature = "premium_templates"
	Feature1080p             Feature = "1080p"
	FeatureNoWatermark       Feature = "no_watermark"
	FeaturePremiumVoices     Feature = "premium_voices"
	Feature4KResolution      Feature = "4k_resolution"
	FeatureAnalytics         Feature = "analytics"
	FeaturePriorityRendering Feature = "priority_rendering"
	FeatureAPIAccess         Feature = "api_access"
	FeatureCustomBranding    Feature = "custom_branding"
)

// catalog maps each feature to the lowest tier that grants it. Expressing
// grants as a minimum tier makes the tier subsets strictly nested: whatever
// free gets, creator gets, and so on up to enterprise.
var catalog = map[Feature]models.Tier{
	FeatureBasicTemplates:    models.TierFree,
	FeatureStandardVoices:    models.TierFree,
	Feature720p:              models.TierFree,
	FeaturePremiumTemplates:  models.TierCreator,
	Feature1080p:             models.TierCreator,
	FeatureNoWatermark:       models.TierCreator,
	FeaturePremiumVoices:     models.TierPro,
	Feature4KResolution:      models.TierPro,
	FeatureAnalytics:         models.TierPro,
	FeaturePriorityRendering: models.TierPro,
	FeatureAPIAccess:         models.TierEnterprise,
	FeatureCustomBranding:    models.TierEnterprise,
}

// Catalog returns every known feature. Order is unspecified.
func Catalog() []Feature {
	features := make([]Feature, 0, len(catalog))
	for f := range catalog {
		features = append(features, f)
	}
	return features
}

// Valid reports whether f is in the catalog.
func (f Feature) Valid() bool {
	_, ok := catalog[f]
	return ok
}

// Resolve reports whether the tier grants the feature. Unknown features and
// unknown tiers resolve to false. Unauthenticated callers should be resolved
// with models.TierFree explicitly; the zero Tier deliberately grants nothing.
func Resolve(tier models.Tier, feature Feature) bool {
	min, ok := catalog[feature]
	if !ok {
		return false
	}
	return tier.AtLeast(min)
}

// ResolveAll returns the first feature in required that the tier does not
// grant, with ok=false. ok=true means every feature is granted.
func ResolveAll(tier models.Tier, required []Feature) (Feature, bool) {
	for _, f := range required {
		if !Resolve(tier, f) {
			return f, false
		}
	}
	return "", true
}
