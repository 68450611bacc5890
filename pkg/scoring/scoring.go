// Package scoring computes actuarial risk scores for insurance partners.
//
// The score blends two signals: governance maturity (how far the
// organization has progressed toward certification, 40%) and decision
// integrity (the rate at which its automated decisions needed a human
// override, 60%). Higher scores mean higher underwriting risk.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// Category buckets a risk score for underwriting.
type Category string

const (
	CategoryLow      Category = "LOW"
	CategoryModerate Category = "MODERATE"
	CategoryHigh     Category = "HIGH"
)

// DecisionStats summarizes an organization's decision history.
type DecisionStats struct {
	Total     int
	Overrides int
}

// OverrideRate returns overrides/total, or 0 for an empty history.
func (s DecisionStats) OverrideRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Overrides) / float64(s.Total)
}

// StatsSource supplies decision statistics per organization.
type StatsSource interface {
	DecisionStats(ctx context.Context, orgID string) (DecisionStats, error)
}

// Assessment is the underwriting output for one organization.
type Assessment struct {
	OrgID          string    `json:"org_id"`
	Timestamp      time.Time `json:"timestamp"`
	MaturityScore  int       `json:"maturity_score"`
	OverrideRate   float64   `json:"override_rate"`
	RiskScore      int       `json:"risk_score"`
	Category       Category  `json:"risk_category"`
	Recommendation string    `json:"recommendation"`
}

// Scorer is the risk assessment engine.
type Scorer interface {
	Assess(ctx context.Context, orgID string) (Assessment, error)
}

// WeightedScorer implements Scorer with fixed maturity/integrity weights.
type WeightedScorer struct {
	orgs  tenants.Registry
	stats StatsSource
	clock func() time.Time
}

const (
	maturityWeight  = 0.4
	integrityWeight = 0.6
)

func NewWeightedScorer(orgs tenants.Registry, stats StatsSource) *WeightedScorer {
	return &WeightedScorer{orgs: orgs, stats: stats, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *WeightedScorer) WithClock(clock func() time.Time) *WeightedScorer {
	s.clock = clock
	return s
}

// Assess computes the weighted risk score for one organization.
func (s *WeightedScorer) Assess(ctx context.Context, orgID string) (Assessment, error) {
	org, err := s.orgs.OrganizationByID(ctx, orgID)
	if err != nil {
		return Assessment{}, fmt.Errorf("scoring: load organization: %w", err)
	}
	stats, err := s.stats.DecisionStats(ctx, orgID)
	if err != nil {
		return Assessment{}, fmt.Errorf("scoring: load decision stats: %w", err)
	}

	rate := stats.OverrideRate()
	baseRisk := float64(100 - org.IntegrityScore)
	integrityRisk := rate * 100
	score := int(math.Round(baseRisk*maturityWeight + integrityRisk*integrityWeight))

	return Assessment{
		OrgID:          orgID,
		Timestamp:      s.clock().UTC(),
		MaturityScore:  org.IntegrityScore,
		OverrideRate:   rate,
		RiskScore:      score,
		Category:       categorize(score),
		Recommendation: recommend(score),
	}, nil
}

func categorize(score int) Category {
	switch {
	case score > 70:
		return CategoryHigh
	case score > 30:
		return CategoryModerate
	default:
		return CategoryLow
	}
}

func recommend(score int) string {
	if score > 50 {
		return "Audit Verification Required"
	}
	return "Eligible for Standard Cyber/AI Policy"
}
