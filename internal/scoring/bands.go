package scoring

import "sync"

// Band names an EEG frequency band.
type Band int

const (
	BandAlpha Band = iota
	BandBeta
)

func (b Band) String() string {
	if b == BandAlpha {
		return "alpha"
	}
	return "beta"
}

// BandTracker keeps the last-known alpha and beta values. The two bands arrive
// on independent notifications, so each update only touches its own band.
type BandTracker struct {
	mu       sync.RWMutex
	alpha    float64
	beta     float64
	hasAlpha bool
	hasBeta  bool
}

// Observe records the latest value for band.
func (t *BandTracker) Observe(band Band, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch band {
	case BandAlpha:
		t.alpha = value
		t.hasAlpha = true
	case BandBeta:
		t.beta = value
		t.hasBeta = true
	}
}

// Pair returns the last alpha and beta values. ok is false until at least one
// band has reported; a band that has not reported yet reads as zero.
func (t *BandTracker) Pair() (alpha, beta float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alpha, t.beta, t.hasAlpha || t.hasBeta
}

// Score returns the attention score for the current pair.
func (t *BandTracker) Score() int {
	alpha, beta, _ := t.Pair()
	return ScoreFromBandpower(alpha, beta)
}

// Reset forgets both bands.
func (t *BandTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alpha, t.beta = 0, 0
	t.hasAlpha, t.hasBeta = false, false
}
