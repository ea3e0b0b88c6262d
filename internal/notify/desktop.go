package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = "org.freedesktop.Notifications.Notify"
	appName             = "Focus Todo"
	alertExpireMillis   = int32(8000)
)

// NotifyCaller is the slice of dbus.BusObject used to raise notifications.
type NotifyCaller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// DesktopNotifier raises alerts through the freedesktop notification service
// on the session bus. Each alert replaces the previous one.
type DesktopNotifier struct {
	logger *slog.Logger
	dial   func() (NotifyCaller, func() error, error)

	mu        sync.Mutex
	caller    NotifyCaller
	closeConn func() error
	lastID    uint32
}

// NewDesktopNotifier returns a notifier that connects to the session bus on
// first use.
func NewDesktopNotifier(logger *slog.Logger) *DesktopNotifier {
	return NewDesktopNotifierWith(func() (NotifyCaller, func() error, error) {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, nil, err
		}
		return conn.Object(notificationsDest, notificationsPath), conn.Close, nil
	}, logger)
}

// NewDesktopNotifierWith uses dial to obtain the notification service object.
func NewDesktopNotifierWith(dial func() (NotifyCaller, func() error, error), logger *slog.Logger) *DesktopNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopNotifier{dial: dial, logger: logger}
}

func (n *DesktopNotifier) Alert(ctx context.Context, a domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.caller == nil {
		caller, closeFn, err := n.dial()
		if err != nil {
			return fmt.Errorf("connect session bus: %w", err)
		}
		n.caller, n.closeConn = caller, closeFn
	}

	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))}
	call := n.caller.CallWithContext(ctx, notificationsNotify, 0,
		appName, n.lastID, "dialog-information", a.Title, a.Body, []string{}, hints, alertExpireMillis)
	if call.Err != nil {
		// Drop the connection so the next alert redials.
		n.resetLocked()
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err == nil {
		n.lastID = id
	}
	return nil
}

// Close releases the session bus connection.
func (n *DesktopNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetLocked()
}

func (n *DesktopNotifier) resetLocked() error {
	closeFn := n.closeConn
	n.caller, n.closeConn = nil, nil
	if closeFn == nil {
		return nil
	}
	if err := closeFn(); err != nil {
		n.logger.Debug("Failed to close session bus", "error", err)
		return err
	}
	return nil
}
