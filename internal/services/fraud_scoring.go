package services

import (
	"math"
	"strings"

	"rebate/internal/config"
)

// PointsPerUnit is the fixed-point scale of the score: 10000 points == 1.0.
const PointsPerUnit = 10000

// Review reasons, highest priority first.
const (
	ReasonFraudWarning         = "fraud_warning"
	ReasonValidationError      = "validation_error"
	ReasonPhotoNotAuthentic    = "photo_not_authentic"
	ReasonLowBottleConfidence  = "low_bottle_confidence"
	ReasonMissingBrandKeyword  = "missing_brand_keyword"
	ReasonScoreBelowThreshold  = "score_below_threshold"
	ReasonAutoApprovalDisabled = "auto_approval_disabled"
	ReasonDailyCapReached      = "daily_cap_reached"
	ReasonCapGuardUnavailable  = "cap_guard_unavailable"
)

// FraudSignals is the bundle scored for one submission. The first group is
// reported by the client and untrusted; the second is server-side context.
type FraudSignals struct {
	HasBrandKeyword    bool     `json:"has_brand_keyword"`
	HasReceiptKeywords bool     `json:"has_receipt_keywords"`
	MatchedKeywords    []string `json:"matched_keywords,omitempty"`
	DetectedText       string   `json:"detected_text,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	Errors             []string `json:"errors,omitempty"`
	IsLikelyRealPhoto  bool     `json:"is_likely_real_photo"`

	BottleConfidence float64 `json:"bottle_confidence"`
	DetectedBrand    string  `json:"detected_brand,omitempty"`
	ClientIP         string  `json:"client_ip,omitempty"`
}

type SignalContribution struct {
	Signal string `json:"signal"`
	Points int    `json:"points"`
}

type ScoreResult struct {
	Score        float64              `json:"score"`
	Points       int                  `json:"points"`
	AutoApprove  bool                 `json:"auto_approve"`
	ReviewReason string               `json:"review_reason,omitempty"`
	Breakdown    []SignalContribution `json:"breakdown"`
}

// ScoringPolicy holds the weights and threshold. The zero value approves
// nothing; use DefaultScoringPolicy or NewScoringPolicy.
type ScoringPolicy struct {
	Threshold              float64
	ExpectedBrand          string
	BottleConfidenceMin    float64
	BrandKeywordPoints     int
	BottleConfidencePoints int
	AuthenticPhotoPoints   int
	KeywordBonusMaxPoints  int
	BrandMatchPoints       int
	DisqualifierPenalty    int
}

func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		Threshold:              0.85,
		BottleConfidenceMin:    0.8,
		BrandKeywordPoints:     4000,
		BottleConfidencePoints: 2500,
		AuthenticPhotoPoints:   2000,
		KeywordBonusMaxPoints:  1000,
		BrandMatchPoints:       500,
		DisqualifierPenalty:    5000,
	}
}

func NewScoringPolicy(cfg config.ScoringConfig, threshold float64) ScoringPolicy {
	return ScoringPolicy{
		Threshold:              threshold,
		ExpectedBrand:          cfg.ExpectedBrand,
		BottleConfidenceMin:    cfg.BottleConfidenceMin,
		BrandKeywordPoints:     cfg.BrandKeywordPoints,
		BottleConfidencePoints: cfg.BottleConfidencePoints,
		AuthenticPhotoPoints:   cfg.AuthenticPhotoPoints,
		KeywordBonusMaxPoints:  cfg.KeywordBonusMaxPoints,
		BrandMatchPoints:       cfg.BrandMatchPoints,
		DisqualifierPenalty:    cfg.DisqualifierPenalty,
	}
}

func (p ScoringPolicy) thresholdPoints() int {
	return int(math.Round(p.Threshold * PointsPerUnit))
}

// Score is pure: same policy and signals give the same result.
func (p ScoringPolicy) Score(signals FraudSignals) ScoreResult {
	var (
		points    int
		breakdown []SignalContribution
	)
	add := func(signal string, pts int) {
		if pts == 0 {
			return
		}
		points += pts
		breakdown = append(breakdown, SignalContribution{Signal: signal, Points: pts})
	}

	if signals.HasBrandKeyword {
		add("brand_keyword", p.BrandKeywordPoints)
	}
	bottleOK := bottleConfident(signals.BottleConfidence, p.BottleConfidenceMin)
	if bottleOK {
		add("bottle_confidence", p.BottleConfidencePoints)
	}
	if signals.IsLikelyRealPhoto {
		add("authentic_photo", p.AuthenticPhotoPoints)
	}
	add("receipt_keywords", keywordBonus(p.KeywordBonusMaxPoints, keywordCount(signals)))
	if p.ExpectedBrand != "" && strings.EqualFold(strings.TrimSpace(signals.DetectedBrand), strings.TrimSpace(p.ExpectedBrand)) {
		add("brand_match", p.BrandMatchPoints)
	}

	warnings := nonEmpty(signals.Warnings)
	errs := nonEmpty(signals.Errors)
	if len(warnings) > 0 {
		add("fraud_warning", -p.DisqualifierPenalty)
	}
	if len(errs) > 0 {
		add("validation_error", -p.DisqualifierPenalty)
	}
	if !signals.IsLikelyRealPhoto {
		add("photo_not_authentic", -p.DisqualifierPenalty)
	}

	if points < 0 {
		points = 0
	}
	if points > PointsPerUnit {
		points = PointsPerUnit
	}
	if breakdown == nil {
		breakdown = []SignalContribution{}
	}

	result := ScoreResult{
		Score:     float64(points) / PointsPerUnit,
		Points:    points,
		Breakdown: breakdown,
	}

	switch {
	case len(warnings) > 0:
		result.ReviewReason = ReasonFraudWarning + ": " + warnings[0]
	case len(errs) > 0:
		result.ReviewReason = ReasonValidationError + ": " + errs[0]
	case !signals.IsLikelyRealPhoto:
		result.ReviewReason = ReasonPhotoNotAuthentic
	case points >= p.thresholdPoints():
		result.AutoApprove = true
	case !bottleOK:
		result.ReviewReason = ReasonLowBottleConfidence
	case !signals.HasBrandKeyword:
		result.ReviewReason = ReasonMissingBrandKeyword
	default:
		result.ReviewReason = ReasonScoreBelowThreshold
	}
	return result
}

func bottleConfident(confidence, min float64) bool {
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return false
	}
	return confidence >= min
}

// keywordCount only trusts the keyword list when the flag is also set.
func keywordCount(signals FraudSignals) int {
	if !signals.HasReceiptKeywords {
		return 0
	}
	seen := make(map[string]struct{}, len(signals.MatchedKeywords))
	for _, kw := range signals.MatchedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			seen[kw] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}

// keywordBonus grows as max - max/2^n.
func keywordBonus(max, n int) int {
	if n <= 0 || max <= 0 {
		return 0
	}
	if n > 16 {
		n = 16
	}
	return max - max/(1<<n)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
