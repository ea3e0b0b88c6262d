//go:build linux

package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/godbus/dbus/v5"
)

const (
	bluezService         = "org.bluez"
	bluezAdapterIface    = "org.bluez.Adapter1"
	bluezDeviceIface     = "org.bluez.Device1"
	bluezCharIface       = "org.bluez.GattCharacteristic1"
	dbusPropertiesIface  = "org.freedesktop.DBus.Properties"
	dbusObjectManager    = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	bluezPollInterval    = 500 * time.Millisecond
	bluezSignalQueueSize = 64
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZDriver talks to BlueZ over the system D-Bus.
type BlueZDriver struct {
	logger *slog.Logger
}

// NewBlueZDriver returns a GATT driver backed by BlueZ.
func NewBlueZDriver(logger *slog.Logger) GATTDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlueZDriver{logger: logger}
}

// Connect scans for a device matching filter, connects and resolves services.
func (d *BlueZDriver) Connect(ctx context.Context, filter DeviceFilter) (GATTConn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, connErr(domain.SourceBluetooth, KindUnavailable, fmt.Errorf("system bus: %w", err))
	}

	c, err := d.connect(ctx, conn, filter)
	if err != nil {
		_ = conn.Close()
		return nil, classifyDBus(err)
	}
	return c, nil
}

func (d *BlueZDriver) connect(ctx context.Context, conn *dbus.Conn, filter DeviceFilter) (*bluezConn, error) {
	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		return nil, err
	}
	adapter, ok := findAdapter(objs)
	if !ok {
		return nil, connErr(domain.SourceBluetooth, KindUnavailable, errors.New("no bluetooth adapter"))
	}

	adapterObj := conn.Object(bluezService, adapter)
	if err := adapterObj.CallWithContext(ctx, bluezAdapterIface+".StartDiscovery", 0).Err; err != nil {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	device, err := d.waitForDevice(ctx, conn, filter)
	if stopErr := adapterObj.CallWithContext(context.WithoutCancel(ctx), bluezAdapterIface+".StopDiscovery", 0).Err; stopErr != nil {
		d.logger.Debug("Failed to stop discovery", "error", stopErr)
	}
	if err != nil {
		return nil, err
	}

	deviceObj := conn.Object(bluezService, device)
	if err := deviceObj.CallWithContext(ctx, bluezDeviceIface+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("connect device: %w", err)
	}

	chars, err := waitForCharacteristics(ctx, conn, device, filter.Characteristics)
	if err != nil {
		_ = deviceObj.Call(bluezDeviceIface+".Disconnect", 0).Err
		return nil, err
	}

	c := &bluezConn{
		conn:     conn,
		device:   device,
		chars:    chars,
		handlers: make(map[dbus.ObjectPath]func([]byte)),
		signals:  make(chan *dbus.Signal, bluezSignalQueueSize),
		gone:     make(chan struct{}),
		logger:   d.logger,
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusPropertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(device),
	); err != nil {
		_ = deviceObj.Call(bluezDeviceIface+".Disconnect", 0).Err
		return nil, fmt.Errorf("match signals: %w", err)
	}
	conn.Signal(c.signals)
	go c.dispatch()
	d.logger.Info("BlueZ device connected", "path", string(device))
	return c, nil
}

func (d *BlueZDriver) waitForDevice(ctx context.Context, conn *dbus.Conn, filter DeviceFilter) (dbus.ObjectPath, error) {
	ticker := time.NewTicker(bluezPollInterval)
	defer ticker.Stop()
	for {
		objs, err := getManagedObjects(ctx, conn)
		if err != nil {
			return "", err
		}
		if path, ok := findDevice(objs, filter); ok {
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no device named %q*: %w", filter.NamePrefix, ctx.Err())
		case <-ticker.C:
		}
	}
}

func waitForCharacteristics(ctx context.Context, conn *dbus.Conn, device dbus.ObjectPath, uuids []string) (map[string]dbus.ObjectPath, error) {
	ticker := time.NewTicker(bluezPollInterval)
	defer ticker.Stop()
	for {
		objs, err := getManagedObjects(ctx, conn)
		if err != nil {
			return nil, err
		}
		resolved, _ := objs[device][bluezDeviceIface]["ServicesResolved"].Value().(bool)
		if resolved {
			chars := findCharacteristics(objs, device, uuids)
			if len(chars) > 0 {
				return chars, nil
			}
			return nil, connErr(domain.SourceBluetooth, KindProtocolMismatch,
				fmt.Errorf("device exposes none of %d EEG characteristics", len(uuids)))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolve services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	if err := conn.Object(bluezService, "/").CallWithContext(ctx, dbusObjectManager, 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}
	return objs, nil
}

func findAdapter(objs managedObjects) (dbus.ObjectPath, bool) {
	for path, ifaces := range objs {
		if _, ok := ifaces[bluezAdapterIface]; ok {
			return path, true
		}
	}
	return "", false
}

func findDevice(objs managedObjects, filter DeviceFilter) (dbus.ObjectPath, bool) {
	for path, ifaces := range objs {
		props, ok := ifaces[bluezDeviceIface]
		if !ok {
			continue
		}
		name, _ := props["Name"].Value().(string)
		if !strings.HasPrefix(name, filter.NamePrefix) {
			continue
		}
		if filter.Service == "" {
			return path, true
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		for _, u := range uuids {
			if strings.EqualFold(u, filter.Service) {
				return path, true
			}
		}
	}
	return "", false
}

func findCharacteristics(objs managedObjects, device dbus.ObjectPath, uuids []string) map[string]dbus.ObjectPath {
	found := make(map[string]dbus.ObjectPath, len(uuids))
	prefix := string(device) + "/"
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[bluezCharIface]
		if !ok {
			continue
		}
		u, _ := props["UUID"].Value().(string)
		for _, want := range uuids {
			if strings.EqualFold(u, want) {
				found[want] = path
			}
		}
	}
	return found
}

// bluezConn is a connected BlueZ device.
type bluezConn struct {
	conn    *dbus.Conn
	device  dbus.ObjectPath
	chars   map[string]dbus.ObjectPath
	signals chan *dbus.Signal
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[dbus.ObjectPath]func([]byte)

	gone      chan struct{}
	goneOnce  sync.Once
	closeOnce sync.Once
}

func (c *bluezConn) Subscribe(ctx context.Context, characteristic string, fn func([]byte)) error {
	path, ok := c.chars[characteristic]
	if !ok {
		return fmt.Errorf("characteristic %s not found", characteristic)
	}
	c.mu.Lock()
	c.handlers[path] = fn
	c.mu.Unlock()
	if err := c.conn.Object(bluezService, path).CallWithContext(ctx, bluezCharIface+".StartNotify", 0).Err; err != nil {
		return fmt.Errorf("start notify: %w", err)
	}
	return nil
}

func (c *bluezConn) Disconnected() <-chan struct{} {
	return c.gone
}

func (c *bluezConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.RLock()
		for path := range c.handlers {
			if stopErr := c.conn.Object(bluezService, path).Call(bluezCharIface+".StopNotify", 0).Err; stopErr != nil {
				c.logger.Debug("Failed to stop notify", "path", string(path), "error", stopErr)
			}
		}
		c.mu.RUnlock()
		if dErr := c.conn.Object(bluezService, c.device).Call(bluezDeviceIface+".Disconnect", 0).Err; dErr != nil {
			c.logger.Debug("Failed to disconnect device", "error", dErr)
		}
		c.conn.RemoveSignal(c.signals)
		err = c.conn.Close()
		c.markGone()
	})
	return err
}

func (c *bluezConn) markGone() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *bluezConn) dispatch() {
	defer c.markGone()
	for {
		select {
		case <-c.gone:
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			if c.handleSignal(sig) {
				return
			}
		}
	}
}

// handleSignal routes one PropertiesChanged signal. It reports true when the
// device link dropped.
func (c *bluezConn) handleSignal(sig *dbus.Signal) bool {
	if sig == nil || len(sig.Body) < 2 {
		return false
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	switch iface {
	case bluezDeviceIface:
		if sig.Path != c.device {
			return false
		}
		if v, ok := changed["Connected"]; ok {
			if connected, _ := v.Value().(bool); !connected {
				return true
			}
		}
	case bluezCharIface:
		v, ok := changed["Value"]
		if !ok {
			return false
		}
		payload, _ := v.Value().([]byte)
		c.mu.RLock()
		fn := c.handlers[sig.Path]
		c.mu.RUnlock()
		if fn != nil {
			fn(payload)
		}
	}
	return false
}

func classifyDBus(err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	var name string
	var dErr dbus.Error
	var dErrPtr *dbus.Error
	switch {
	case errors.As(err, &dErr):
		name = dErr.Name
	case errors.As(err, &dErrPtr):
		name = dErrPtr.Name
	}
	switch name {
	case "org.bluez.Error.NotPermitted", "org.bluez.Error.NotAuthorized", "org.freedesktop.DBus.Error.AccessDenied":
		return connErr(domain.SourceBluetooth, KindPermissionDenied, err)
	case "org.bluez.Error.NotSupported":
		return connErr(domain.SourceBluetooth, KindProtocolMismatch, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connErr(domain.SourceBluetooth, KindTimeout, err)
	}
	return connErr(domain.SourceBluetooth, KindUnavailable, err)
}
