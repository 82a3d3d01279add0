// Package risk scores opportunities and portfolios on a 1 (lowest) to 10
// (highest) scale.
package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	baseScore = 5
	minScore  = 1
	maxScore  = 10
)

// Recommendation texts.
const (
	RecommendLow        = "Low risk trade - good opportunity"
	RecommendModerate   = "Moderate risk - proceed with caution"
	RecommendHigh       = "High risk - consider skipping"
	RecommendVeryHigh   = "Very high risk - do not trade"
	RecommendNoOpp      = "Do not trade - opportunity not found"
	RecommendNoSettings = "Configure trading settings first"
)

// Classes is the static token classification and the trusted venue.
type Classes struct {
	Stable         []string
	Native         []string
	Volatile       []string
	ReferenceVenue string
}

// OpportunityInfo names the token and venues behind an opportunity. Empty
// fields contribute no adjustment.
type OpportunityInfo struct {
	TokenSymbol string
	BuyVenue    string
	SellVenue   string
}

// Factors are the inputs that drove a score.
type Factors struct {
	SpreadPct decimal.Decimal `json:"price_difference"`
	Threshold decimal.Decimal `json:"min_threshold"`
	Tolerance int             `json:"user_risk_level"`
}

// Assessment is the verdict for one opportunity.
type Assessment struct {
	Score          int      `json:"risk_score"`
	Recommendation string   `json:"recommendation"`
	CanExecute     bool     `json:"can_execute"`
	Factors        *Factors `json:"factors,omitempty"`
}

// Scorer is a pure function of its inputs and safe for concurrent use.
type Scorer struct {
	stable    map[string]bool
	native    map[string]bool
	volatile  map[string]bool
	reference string
}

func symbolSet(symbols []string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = true
	}
	return m
}

// NewScorer builds a Scorer from the configured classes.
func NewScorer(c Classes) *Scorer {
	return &Scorer{
		stable:    symbolSet(c.Stable),
		native:    symbolSet(c.Native),
		volatile:  symbolSet(c.Volatile),
		reference: strings.ToLower(c.ReferenceVenue),
	}
}

// Score assesses opp under the user's settings. A nil opportunity or nil
// settings yields the maximum score and can never execute.
func (s *Scorer) Score(opp *domain.Opportunity, info OpportunityInfo, settings *domain.TradingSettings) Assessment {
	if opp == nil {
		return Assessment{Score: maxScore, Recommendation: RecommendNoOpp}
	}
	if settings == nil {
		return Assessment{Score: maxScore, Recommendation: RecommendNoSettings}
	}

	score := baseScore
	threshold := settings.MinProfitThreshold
	switch {
	case opp.SpreadPct.LessThan(threshold):
		score += 3
	case opp.SpreadPct.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(4))):
		score -= 2
	case opp.SpreadPct.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(2))):
		score--
	}

	sym := strings.ToUpper(info.TokenSymbol)
	switch {
	case s.stable[sym]:
		score -= 2
	case s.native[sym]:
		score--
	case s.volatile[sym]:
		score++
	}

	if s.reference != "" {
		if strings.EqualFold(info.BuyVenue, s.reference) {
			score--
		}
		if strings.EqualFold(info.SellVenue, s.reference) {
			score--
		}
	}

	tolerance := settings.RiskLevel
	final := min(maxScore, max(minScore, score+(5-tolerance)))

	a := Assessment{
		Score: final,
		Factors: &Factors{
			SpreadPct: opp.SpreadPct,
			Threshold: threshold,
			Tolerance: tolerance,
		},
	}
	switch {
	case final <= 3:
		a.Recommendation, a.CanExecute = RecommendLow, true
	case final <= 6:
		a.Recommendation, a.CanExecute = RecommendModerate, true
	case final <= 8:
		a.Recommendation, a.CanExecute = RecommendHigh, tolerance >= 7
	default:
		a.Recommendation = RecommendVeryHigh
	}
	return a
}
