// Package scoring converts raw signals into a bounded attention score and level.
package scoring

import (
	"math"
	"strconv"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
)

const (
	// MinAlpha floors the alpha band so the beta/alpha ratio cannot blow up.
	MinAlpha = 0.1
	// RatioScale maps a typical beta/alpha ratio range onto [0,100].
	RatioScale = 25.0

	MinScore = 0
	MaxScore = 100
)

// Clamp rounds v and clamps it to [MinScore, MaxScore]. NaN maps to MinScore.
func Clamp(v float64) int {
	if math.IsNaN(v) {
		return MinScore
	}
	r := math.Round(v)
	if r < MinScore {
		return MinScore
	}
	if r > MaxScore {
		return MaxScore
	}
	return int(r)
}

// ScoreFromBandpower scores relative alpha and beta bandpower.
// Higher beta relative to alpha indicates engaged attention.
func ScoreFromBandpower(alpha, beta float64) int {
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return MinScore
	}
	return Clamp(beta / math.Max(alpha, MinAlpha) * RatioScale)
}

// LevelFromScore classifies a score. Each case returns; the first match wins.
func LevelFromScore(score int) domain.Level {
	switch {
	case score >= 80:
		return domain.LevelVeryFocused
	case score >= 60:
		return domain.LevelFocused
	case score >= 40:
		return domain.LevelNeutral
	case score >= 20:
		return domain.LevelDistracted
	default:
		return domain.LevelVeryDistracted
	}
}

// Input is the raw material for one reading. Exactly one of Score, Bandpower
// or Calibrating is meaningful; Calibrating takes precedence.
type Input struct {
	Source       domain.SourceKind
	Score        float64
	HasBandpower bool
	Alpha        float64
	Beta         float64
	Calibrating  bool
	Calibration  *domain.Calibration
	Engagement   *float64
	Baseline     *domain.Baseline
	Blinks       *domain.BlinkMetrics
}

// Scorer turns inputs into readings.
type Scorer struct{}

// Score builds the reading for in, stamped at now.
func (Scorer) Score(in Input, now time.Time) domain.Reading {
	r := domain.Reading{
		Source:       in.Source,
		Timestamp:    now,
		Engagement:   in.Engagement,
		Baseline:     in.Baseline,
		BlinkMetrics: in.Blinks,
	}

	switch {
	case in.Calibrating:
		r.AttentionScore = MinScore
		r.Level = domain.LevelCalibrating
		r.Calibration = in.Calibration
		return r
	case in.HasBandpower:
		r.AttentionScore = ScoreFromBandpower(in.Alpha, in.Beta)
	default:
		r.AttentionScore = Clamp(in.Score)
	}
	r.Level = LevelFromScore(r.AttentionScore)
	return r
}

// BadgeFor maps a score to its icon badge. A zero score shows no text.
func BadgeFor(score int) domain.Badge {
	var color domain.BadgeColor
	switch {
	case score >= 70:
		color = domain.BadgeGood
	case score >= 40:
		color = domain.BadgeWarn
	default:
		color = domain.BadgeAlert
	}
	text := ""
	if score > 0 {
		text = strconv.Itoa(score) + "%"
	}
	return domain.Badge{Text: text, Color: color, Hex: color.Hex()}
}

