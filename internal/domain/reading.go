package domain

import "time"

// Level is the qualitative attention level derived from a score.
type Level string

const (
	LevelVeryFocused    Level = "Very Focused"
	LevelFocused        Level = "Focused"
	LevelNeutral        Level = "Neutral"
	LevelDistracted     Level = "Distracted"
	LevelVeryDistracted Level = "Very Distracted"
	// LevelCalibrating is reported only while the bridge warms up.
	LevelCalibrating Level = "Calibrating"
)

// SourceKind identifies a signal source variant.
type SourceKind string

const (
	SourceSimulated SourceKind = "simulated"
	SourceBluetooth SourceKind = "bluetooth"
	SourceBridge    SourceKind = "bridge"
)

// SourceKinds lists every source variant in a stable order.
var SourceKinds = []SourceKind{SourceSimulated, SourceBluetooth, SourceBridge}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceSimulated, SourceBluetooth, SourceBridge:
		return true
	default:
		return false
	}
}

// DisplayName returns the label shown to users for the source.
func (k SourceKind) DisplayName() string {
	switch k {
	case SourceBluetooth:
		return "Muse S"
	case SourceBridge:
		return "Desktop Bridge"
	default:
		return "Simulated"
	}
}

// Baseline is the bridge's rolling engagement baseline.
type Baseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// BlinkMetrics are eye metrics reported by the bridge's blink detector.
type BlinkMetrics struct {
	Rate         float64 `json:"rate"`
	EAR          float64 `json:"ear"`
	FaceDetected bool    `json:"faceDetected"`
}

// Calibration reports bridge warm-up progress.
type Calibration struct {
	Progress int `json:"progress"`
	Total    int `json:"total"`
}

// Reading is one normalized attention sample.
type Reading struct {
	AttentionScore int           `json:"attentionScore"`
	Level          Level         `json:"level"`
	Source         SourceKind    `json:"source"`
	Timestamp      time.Time     `json:"timestamp"`
	Engagement     *float64      `json:"engagement,omitempty"`
	Baseline       *Baseline     `json:"baseline,omitempty"`
	BlinkMetrics   *BlinkMetrics `json:"blinkMetrics,omitempty"`
	Calibration    *Calibration  `json:"calibration,omitempty"`
}

// IsCalibrating reports whether the reading is a bridge warm-up placeholder.
func (r Reading) IsCalibrating() bool {
	return r.Level == LevelCalibrating
}
