package signal

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
)

// Noise yields uniform values in [0,1).
type Noise interface {
	Float64() float64
}

// NewNoise returns a PCG generator. A zero seed picks one from the clock.
func NewNoise(seed uint64) Noise {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Simulated produces a slow sine wave with jitter. It is always connected.
type Simulated struct {
	mu       sync.Mutex
	noise    Noise
	frame    int
	clock    clock.Clock
	handlers handlerSet
}

// NewSimulated creates a simulated source drawing jitter from noise.
func NewSimulated(noise Noise, c clock.Clock) *Simulated {
	if noise == nil {
		noise = NewNoise(0)
	}
	if c == nil {
		c = clock.System{}
	}
	return &Simulated{noise: noise, clock: c}
}

func (s *Simulated) Kind() domain.SourceKind { return domain.SourceSimulated }

func (s *Simulated) Connect(context.Context) error {
	s.handlers.status(domain.SourceSimulated, true)
	return nil
}

func (s *Simulated) Disconnect(context.Context) error { return nil }

func (s *Simulated) IsConnected() bool { return true }

func (s *Simulated) SetHandlers(h Handlers) { s.handlers.set(h) }

// Read synthesizes the value for the current frame, then advances the counter.
// The first read uses frame 0.
func (s *Simulated) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s.mu.Lock()
	t := float64(s.frame)
	s.frame++
	u := s.noise.Float64()
	s.mu.Unlock()

	sm := Sample{ReceivedAt: s.clock.Now()}
	sm.Source = domain.SourceSimulated
	sm.Score = 60 + 20*math.Sin(t/30) + (u-0.5)*15
	s.handlers.sample(sm)
	return sm, nil
}
