package signal

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed bridge_schema.json
var bridgeSchemaJSON string

var (
	bridgeSchemaOnce sync.Once
	bridgeSchema     *jsonschema.Schema
	bridgeSchemaErr  error
)

func compiledBridgeSchema() (*jsonschema.Schema, error) {
	bridgeSchemaOnce.Do(func() {
		bridgeSchema, bridgeSchemaErr = jsonschema.CompileString("bridge_schema.json", bridgeSchemaJSON)
	})
	return bridgeSchema, bridgeSchemaErr
}

// Bridge message statuses.
const (
	bridgeCalibrating = "calibrating"
	bridgeFocus       = "focus"
	bridgeError       = "error"
	bridgeTracking    = "tracking"
	bridgeNoFace      = "no_face"
)

type bridgeMessage struct {
	Status       string           `json:"status"`
	Message      string           `json:"message,omitempty"`
	Progress     int              `json:"progress,omitempty"`
	Total        int              `json:"total,omitempty"`
	Engagement   *float64         `json:"engagement,omitempty"`
	Focus        *float64         `json:"focus,omitempty"`
	Baseline     *domain.Baseline `json:"baseline,omitempty"`
	Blinks       *bridgeBlinks    `json:"blinks,omitempty"`
	BlinkRate    float64          `json:"blink_rate,omitempty"`
	EAR          float64          `json:"ear,omitempty"`
	FaceDetected bool             `json:"face_detected,omitempty"`
}

type bridgeBlinks struct {
	Rate         float64 `json:"rate"`
	EAR          float64 `json:"ear"`
	FaceDetected bool    `json:"face_detected"`
}

func (b *bridgeBlinks) metrics() *domain.BlinkMetrics {
	if b == nil {
		return nil
	}
	return &domain.BlinkMetrics{Rate: b.Rate, EAR: b.EAR, FaceDetected: b.FaceDetected}
}

// BridgeEvent is one decoded bridge message. Sample and Blinks are both set
// for focus messages with nested blink metrics. Info carries any other status.
type BridgeEvent struct {
	Sample *Sample
	Blinks *domain.BlinkMetrics
	Info   string
}

// ParseBridgeMessage validates and decodes a single JSON message from the
// desktop bridge. Error statuses come back as *RemoteError.
func ParseBridgeMessage(line []byte, now time.Time) (BridgeEvent, error) {
	line = bytes.TrimSpace(line)
	perr := func(err error) error {
		return &ParseError{Source: domain.SourceBridge, Raw: string(line), Err: err}
	}

	schema, err := compiledBridgeSchema()
	if err != nil {
		return BridgeEvent{}, perr(fmt.Errorf("compile schema: %w", err))
	}

	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return BridgeEvent{}, perr(err)
	}
	if err := schema.Validate(doc); err != nil {
		return BridgeEvent{}, perr(err)
	}

	var msg bridgeMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return BridgeEvent{}, perr(err)
	}

	switch msg.Status {
	case bridgeCalibrating:
		s := Sample{ReceivedAt: now}
		s.Source = domain.SourceBridge
		s.Calibrating = true
		s.Calibration = &domain.Calibration{Progress: msg.Progress, Total: msg.Total}
		return BridgeEvent{Sample: &s}, nil
	case bridgeFocus:
		blinks := msg.Blinks.metrics()
		if msg.Focus == nil {
			if blinks == nil {
				return BridgeEvent{Info: msg.Status}, nil
			}
			return BridgeEvent{Blinks: blinks}, nil
		}
		s := Sample{ReceivedAt: now}
		s.Source = domain.SourceBridge
		s.Score = *msg.Focus
		s.Engagement = msg.Engagement
		s.Baseline = msg.Baseline
		s.Blinks = blinks
		return BridgeEvent{Sample: &s, Blinks: blinks}, nil
	case bridgeTracking, bridgeNoFace:
		return BridgeEvent{Blinks: &domain.BlinkMetrics{
			Rate:         msg.BlinkRate,
			EAR:          msg.EAR,
			FaceDetected: msg.FaceDetected,
		}}, nil
	case bridgeError:
		return BridgeEvent{}, &RemoteError{Source: domain.SourceBridge, Message: msg.Message}
	default:
		return BridgeEvent{Info: msg.Status}, nil
	}
}

// SplitFrame splits a WebSocket frame into its newline-delimited messages,
// skipping blank lines.
func SplitFrame(frame []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			out = append(out, line)
		}
	}
	return out
}
