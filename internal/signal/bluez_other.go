//go:build !linux

package signal

import "log/slog"

// NewBlueZDriver returns nil off Linux; the Bluetooth source then reports
// itself unavailable.
func NewBlueZDriver(*slog.Logger) GATTDriver {
	return nil
}
