package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pridato/reelforge/internal/models"
)

func TestResolveFreeTier(t *testing.T) {
	assert.True(t, Resolve(models.TierFree, FeatureBasicTemplates))
	assert.True(t, Resolve(models.TierFree, Feature720p))
	assert.False(t, Resolve(models.TierFree, FeaturePremiumTemplates))
	assert.False(t, Resolve(models.TierFree, Feature4KResolution))
	assert.False(t, Resolve(models.TierFree, FeatureAPIAccess))
}

func TestResolveEnterpriseGrantsEverything(t *testing.T) {
	for _, f := range Catalog() {
		assert.True(t, Resolve(models.TierEnterprise, f), "enterprise should grant %s", f)
	}
}

// Every feature granted to a tier must be granted to all tiers above it,
// checked exhaustively over the catalog and all tier pairs.
func TestResolveMonotonicAcrossTiers(t *testing.T) {
	tiers := models.AllTiers()
	for _, f := range Catalog() {
		for i, lower := range tiers {
			if !Resolve(lower, f) {
				continue
			}
			for _, higher := range tiers[i+1:] {
				assert.True(t, Resolve(higher, f),
					"feature %s granted to %s but not to %s", f, lower, higher)
			}
		}
	}
}

func TestResolveUnknownFeatureFailsClosed(t *testing.T) {
	assert.False(t, Resolve(models.TierEnterprise, Feature("definitely_not_a_feature")))
	assert.False(t, Resolve(models.TierFree, Feature("")))
}

func TestResolveUnknownTierFailsClosed(t *testing.T) {
	for _, f := range Catalog() {
		assert.False(t, Resolve(models.Tier("platinum"), f))
		assert.False(t, Resolve(models.Tier(""), f))
	}
}

func TestResolveAll(t *testing.T) {
	denied, ok := ResolveAll(models.TierCreator, []Feature{FeaturePremiumTemplates, Feature1080p})
	assert.True(t, ok)
	assert.Equal(t, Feature(""), denied)

	denied, ok = ResolveAll(models.TierCreator, []Feature{FeaturePremiumTemplates, Feature4KResolution})
	assert.False(t, ok)
	assert.Equal(t, Feature4KResolution, denied)

	// Empty requirement set is always granted.
	_, ok = ResolveAll(models.Tier(""), nil)
	assert.True(t, ok)
}

func TestFeatureValid(t *testing.T) {
	assert.True(t, FeaturePremiumVoices.Valid())
	assert.False(t, Feature("premium_voicez").Valid())
}
