package study

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"activeExperimentName": "button-study",
		"studyType": "pioneer",
		"weightedVariations": [{"name": "kittens", "weight": 1.5}],
		"endings": {"too-popular": {"category": "ended-positive", "baseUrls": ["https://example.com"]}},
		"telemetry": {"send": true, "removeTestingFlag": false},
		"expire": {"days": 7},
		"testing": {"variationName": "kittens", "firstRunTimestamp": 0},
		"allowEnroll": true,
		"enrollmentPercent": 25
	}`)

	cfg, err := ParseConfig(raw)

	require.NoError(t, err)
	assert.Equal(t, TypePioneer, cfg.StudyType)
	assert.Equal(t, 1.5, cfg.WeightedVariations[0].Weight)
	assert.Equal(t, CategoryPositive, cfg.Endings["too-popular"].Category)
	assert.Equal(t, 7, cfg.Expire.Days)
	require.NotNil(t, cfg.Testing.FirstRunTimestamp)
	assert.Equal(t, int64(0), *cfg.Testing.FirstRunTimestamp)
	assert.Nil(t, cfg.Testing.Expired)
	assert.Equal(t, 25, *cfg.EnrollmentPercent)

	_, err = ParseConfig([]byte(`{"weightedVariations": "nope"}`))
	assert.Error(t, err)
}

func TestAssignVariation(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()

	v1, f1, err := AssignVariation(&cfg, "client-a")
	require.NoError(t, err)
	v2, f2, err := AssignVariation(&cfg, "client-a")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, f1, f2)
	assert.GreaterOrEqual(t, f1, 0.0)
	assert.Less(t, f1, 1.0)

	// Assignment spreads across variations roughly by weight (1:2).
	counts := map[string]int{}
	for i := range 3000 {
		v, _, err := AssignVariation(&cfg, fmt.Sprintf("client-%d", i))
		require.NoError(t, err)
		counts[v.Name]++
	}
	assert.InDelta(t, 1000, counts["kittens"], 150)
	assert.InDelta(t, 2000, counts["puppers"], 150)
}

func TestInEnrollment(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	assert.True(t, InEnrollment(&cfg, "anyone"))

	cfg.EnrollmentPercent = ptr(0)
	assert.False(t, InEnrollment(&cfg, "anyone"))

	cfg.EnrollmentPercent = ptr(100)
	assert.True(t, InEnrollment(&cfg, "anyone"))
}
