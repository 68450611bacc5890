package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

type fixedOrgs struct {
	org tenants.Organization
}

func (f fixedOrgs) InsertOrganization(ctx context.Context, org tenants.Organization, apiKeyHash string) error {
	return nil
}

func (f fixedOrgs) OrganizationByID(ctx context.Context, id string) (tenants.Organization, error) {
	return f.org, nil
}

type fixedStats struct {
	stats scoring.DecisionStats
}

func (f fixedStats) DecisionStats(ctx context.Context, orgID string) (scoring.DecisionStats, error) {
	return f.stats, nil
}

func TestWeightedScorer(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		maturity  int
		stats     scoring.DecisionStats
		wantScore int
		wantCat   scoring.Category
	}{
		{
			name:      "mature org with clean history",
			maturity:  90,
			stats:     scoring.DecisionStats{Total: 100, Overrides: 0},
			wantScore: 4, // 10*0.4 + 0*0.6
			wantCat:   scoring.CategoryLow,
		},
		{
			name:      "immature org with heavy overrides",
			maturity:  10,
			stats:     scoring.DecisionStats{Total: 10, Overrides: 8},
			wantScore: 84, // 90*0.4 + 80*0.6
			wantCat:   scoring.CategoryHigh,
		},
		{
			name:      "middling org",
			maturity:  60,
			stats:     scoring.DecisionStats{Total: 20, Overrides: 5},
			wantScore: 31, // 40*0.4 + 25*0.6
			wantCat:   scoring.CategoryModerate,
		},
		{
			name:      "no decision history counts as zero override risk",
			maturity:  50,
			stats:     scoring.DecisionStats{},
			wantScore: 20, // 50*0.4
			wantCat:   scoring.CategoryLow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scorer := scoring.NewWeightedScorer(
				fixedOrgs{org: tenants.Organization{ID: "org-1", IntegrityScore: tc.maturity}},
				fixedStats{stats: tc.stats},
			).WithClock(func() time.Time { return now })

			got, err := scorer.Assess(context.Background(), "org-1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantScore, got.RiskScore)
			assert.Equal(t, tc.wantCat, got.Category)
			assert.Equal(t, now, got.Timestamp)
		})
	}
}

func TestRecommendationThreshold(t *testing.T) {
	now := time.Now()
	high := scoring.NewWeightedScorer(
		fixedOrgs{org: tenants.Organization{IntegrityScore: 0}},
		fixedStats{stats: scoring.DecisionStats{Total: 2, Overrides: 2}},
	).WithClock(func() time.Time { return now })

	got, err := high.Assess(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Audit Verification Required", got.Recommendation)

	low := scoring.NewWeightedScorer(
		fixedOrgs{org: tenants.Organization{IntegrityScore: 100}},
		fixedStats{stats: scoring.DecisionStats{Total: 2, Overrides: 0}},
	).WithClock(func() time.Time { return now })

	got, err = low.Assess(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Eligible for Standard Cyber/AI Policy", got.Recommendation)
}
