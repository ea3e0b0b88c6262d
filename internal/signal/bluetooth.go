package signal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/scoring"
)

// Muse GATT identifiers.
const (
	MuseService         = "0000fe8d-0000-1000-8000-00805f9b34fb"
	MuseAlphaRelative   = "273e000d-4c4d-454d-96be-f03bac821358"
	MuseBetaRelative    = "273e000e-4c4d-454d-96be-f03bac821358"
	DefaultNamePrefix   = "Muse"
	DefaultBLETimeout   = 20 * time.Second
	bandPayloadMinBytes = 16
	rawPayloadMinBytes  = 4
)

// MuseRawEEG lists the raw electrode characteristics (TP9, AF7, AF8, TP10),
// used when the headband does not expose relative bandpower.
var MuseRawEEG = []string{
	"273e0001-4c4d-454d-96be-f03bac821358",
	"273e0002-4c4d-454d-96be-f03bac821358",
	"273e0003-4c4d-454d-96be-f03bac821358",
	"273e0004-4c4d-454d-96be-f03bac821358",
}

// DeviceFilter selects the peripheral to connect to.
type DeviceFilter struct {
	NamePrefix      string
	Service         string
	Characteristics []string
}

// GATTDriver finds and connects to a peripheral matching a filter.
type GATTDriver interface {
	Connect(ctx context.Context, filter DeviceFilter) (GATTConn, error)
}

// GATTConn is a connected peripheral.
type GATTConn interface {
	// Subscribe delivers each notification payload of characteristic to fn.
	Subscribe(ctx context.Context, characteristic string, fn func([]byte)) error
	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
	Close() error
}

// BluetoothEEG reads relative alpha and beta bandpower from a Muse headband.
// It never reconnects on its own after the link drops.
type BluetoothEEG struct {
	driver  GATTDriver
	filter  DeviceFilter
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	tracker  scoring.BandTracker
	latest   latest
	handlers handlerSet

	mu         sync.Mutex
	conn       GATTConn
	connecting bool
}

// BluetoothOption configures a BluetoothEEG.
type BluetoothOption func(*BluetoothEEG)

// WithNamePrefix sets the advertised name prefix to match.
func WithNamePrefix(prefix string) BluetoothOption {
	return func(b *BluetoothEEG) {
		if prefix != "" {
			b.filter.NamePrefix = prefix
		}
	}
}

// WithConnectTimeout bounds discovery plus connection.
func WithConnectTimeout(d time.Duration) BluetoothOption {
	return func(b *BluetoothEEG) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBluetoothClock sets the clock stamping samples.
func WithBluetoothClock(c clock.Clock) BluetoothOption {
	return func(b *BluetoothEEG) { b.clock = c }
}

// WithBluetoothLogger sets the logger.
func WithBluetoothLogger(l *slog.Logger) BluetoothOption {
	return func(b *BluetoothEEG) { b.logger = l }
}

// NewBluetoothEEG creates a Bluetooth source over driver.
func NewBluetoothEEG(driver GATTDriver, opts ...BluetoothOption) *BluetoothEEG {
	b := &BluetoothEEG{
		driver: driver,
		filter: DeviceFilter{
			NamePrefix:      DefaultNamePrefix,
			Service:         MuseService,
			Characteristics: append([]string{MuseAlphaRelative, MuseBetaRelative}, MuseRawEEG...),
		},
		timeout: DefaultBLETimeout,
		clock:   clock.System{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BluetoothEEG) Kind() domain.SourceKind { return domain.SourceBluetooth }

func (b *BluetoothEEG) SetHandlers(h Handlers) { b.handlers.set(h) }

func (b *BluetoothEEG) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Connect discovers the headband and subscribes to both band characteristics.
func (b *BluetoothEEG) Connect(ctx context.Context) error {
	if b.driver == nil {
		return connErr(domain.SourceBluetooth, KindUnavailable, errors.New("bluetooth is not supported on this host"))
	}
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	if b.connecting {
		b.mu.Unlock()
		return connErr(domain.SourceBluetooth, KindUnavailable, errors.New("connection already in progress"))
	}
	b.connecting = true
	b.mu.Unlock()

	conn, err := b.dial(ctx)

	b.mu.Lock()
	b.connecting = false
	if err == nil {
		b.conn = conn
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}

	go b.watch(conn)
	b.logger.Info("Bluetooth EEG connected", "prefix", b.filter.NamePrefix)
	b.handlers.status(domain.SourceBluetooth, true)
	return nil
}

func (b *BluetoothEEG) dial(ctx context.Context) (GATTConn, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	conn, err := b.driver.Connect(ctx, b.filter)
	if err != nil {
		return nil, classifyBluetooth(ctx, err)
	}

	b.tracker.Reset()
	b.latest.clear()
	subs := []struct {
		uuid string
		band scoring.Band
	}{
		{MuseAlphaRelative, scoring.BandAlpha},
		{MuseBetaRelative, scoring.BandBeta},
	}
	var bandErr error
	for _, sub := range subs {
		band := sub.band
		if err := conn.Subscribe(ctx, sub.uuid, func(p []byte) { b.onNotify(band, p) }); err != nil {
			bandErr = fmt.Errorf("subscribe %s: %w", band, err)
			break
		}
	}
	if bandErr == nil {
		return conn, nil
	}

	b.logger.Info("Bandpower characteristics unavailable, using raw EEG", "error", bandErr)
	if err := b.subscribeRaw(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, connErr(domain.SourceBluetooth, KindProtocolMismatch, errors.Join(bandErr, err))
	}
	return conn, nil
}

// subscribeRaw listens on every raw electrode channel the headband exposes.
// At least one channel must subscribe.
func (b *BluetoothEEG) subscribeRaw(ctx context.Context, conn GATTConn) error {
	subscribed := 0
	for _, uuid := range MuseRawEEG {
		if err := conn.Subscribe(ctx, uuid, b.onRawNotify); err != nil {
			b.logger.Debug("Raw EEG channel not available", "characteristic", uuid, "error", err)
			continue
		}
		subscribed++
	}
	if subscribed == 0 {
		return errors.New("no raw EEG channels available")
	}
	return nil
}

// Disconnect closes the link if one is open.
func (b *BluetoothEEG) Disconnect(context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	b.handlers.status(domain.SourceBluetooth, false)
	if err != nil {
		return fmt.Errorf("close bluetooth link: %w", err)
	}
	return nil
}

// Read returns the sample built from the latest band pair.
func (b *BluetoothEEG) Read(context.Context) (Sample, error) {
	if !b.IsConnected() {
		return Sample{}, ErrNotConnected
	}
	s, ok := b.latest.load()
	if !ok {
		return Sample{}, ErrNoSample
	}
	return s, nil
}

func (b *BluetoothEEG) watch(conn GATTConn) {
	<-conn.Disconnected()
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.mu.Unlock()

	_ = conn.Close()
	b.logger.Warn("Bluetooth EEG disconnected")
	b.handlers.status(domain.SourceBluetooth, false)
}

func (b *BluetoothEEG) onNotify(band scoring.Band, payload []byte) {
	v, ok := DecodeBandValue(payload)
	if !ok {
		b.logger.Debug("Dropping short band payload", "band", band.String(), "bytes", len(payload))
		return
	}
	b.onBand(band, v)
}

func (b *BluetoothEEG) onBand(band scoring.Band, v float64) {
	b.tracker.Observe(band, v)
	alpha, beta, ok := b.tracker.Pair()
	if !ok {
		return
	}

	s := Sample{ReceivedAt: b.clock.Now()}
	s.Source = domain.SourceBluetooth
	s.HasBandpower = true
	s.Alpha, s.Beta = alpha, beta
	b.latest.store(s)
	b.handlers.sample(s)
}

// onRawNotify estimates beta from raw signal strength. Alpha stays at its
// floor, so the score follows the raw amplitude.
func (b *BluetoothEEG) onRawNotify(payload []byte) {
	v, ok := DecodeRawValue(payload)
	if !ok || v == 0 {
		return
	}
	b.onBand(scoring.BandBeta, math.Min(100, v/100))
}

// DecodeBandValue reads the first channel of a band notification, a
// little-endian float32 at offset 0. Band payloads carry four channels, so
// anything shorter than 16 bytes is rejected.
func DecodeBandValue(payload []byte) (float64, bool) {
	if len(payload) < bandPayloadMinBytes {
		return 0, false
	}
	return decodeFloat32(payload), true
}

// DecodeRawValue reads the absolute value of the leading float32 of a raw
// electrode notification.
func DecodeRawValue(payload []byte) (float64, bool) {
	if len(payload) < rawPayloadMinBytes {
		return 0, false
	}
	return math.Abs(decodeFloat32(payload)), true
}

func decodeFloat32(payload []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[:4])))
}

func classifyBluetooth(ctx context.Context, err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return connErr(domain.SourceBluetooth, KindTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied") {
		return connErr(domain.SourceBluetooth, KindPermissionDenied, err)
	}
	return connErr(domain.SourceBluetooth, KindUnavailable, err)
}
