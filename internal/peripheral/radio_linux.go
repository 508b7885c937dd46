//go:build linux

package peripheral

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/chaz8081/bleprov/internal/ble"
)

const (
	bluezDest          = "org.bluez"
	bluezAdapterIface  = "org.bluez.Adapter1"
	bluezDeviceIface   = "org.bluez.Device1"
	advManagerIface    = "org.bluez.LEAdvertisingManager1"
	advIface           = "org.bluez.LEAdvertisement1"
	gattManagerIface   = "org.bluez.GattManager1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	appRootPath = dbus.ObjectPath("/org/bleprov")
	advPath     = dbus.ObjectPath("/org/bleprov/advertisement0")
)

// BlueZRadio implements Radio over the BlueZ D-Bus API. Unlike the
// tinygo-org/bluetooth peripheral support it can fail a write, so the
// validator's verdict reaches the central as the GATT write response.
type BlueZRadio struct {
	opts        SystemOptions
	adapterPath dbus.ObjectPath

	mu          sync.Mutex
	conn        *dbus.Conn
	advertising bool
	app         *gattApplication
	agent       *noIOAgent
	onConnect   func(client string, connected bool)
	signals     chan *dbus.Signal
}

// NewSystemRadio returns the BlueZ-backed radio.
func NewSystemRadio(opts SystemOptions) (SystemRadio, error) {
	if opts.AdapterID == "" {
		opts.AdapterID = "hci0"
	}
	return &BlueZRadio{
		opts:        opts,
		adapterPath: dbus.ObjectPath("/org/bluez/" + opts.AdapterID),
	}, nil
}

var _ SystemRadio = (*BlueZRadio)(nil)

// Enable connects to the system bus, powers the adapter on if needed and
// starts watching for central connections.
func (r *BlueZRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("%w: connect to system D-Bus: %v", ble.ErrAdapter, err)
	}

	obj := conn.Object(bluezDest, r.adapterPath)
	powered, err := obj.GetProperty(bluezAdapterIface + ".Powered")
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: adapter %s: %v", ble.ErrAdapter, r.opts.AdapterID, err)
	}
	if on, _ := powered.Value().(bool); !on {
		slog.Info("[ADV] powering on adapter", "adapter", r.opts.AdapterID)
		if err := obj.SetProperty(bluezAdapterIface+".Powered", dbus.MakeVariant(true)); err != nil {
			conn.Close()
			return fmt.Errorf("%w: power on %s: %v", ble.ErrAdapter, r.opts.AdapterID, err)
		}
	}

	if r.opts.PairingAgent {
		agent, err := registerNoIOAgent(conn)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: %v", ble.ErrAdapter, err)
		}
		r.agent = agent
	}

	matchRule := "type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',arg0='org.bluez.Device1'"
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		conn.Close()
		return fmt.Errorf("%w: add D-Bus match rule: %v", ble.ErrAdapter, err)
	}
	r.signals = make(chan *dbus.Signal, 25)
	conn.Signal(r.signals)
	go r.watchConnections(r.signals)

	r.conn = conn
	slog.Debug("[ADV] BlueZ adapter ready", "adapter", r.opts.AdapterID)
	return nil
}

// watchConnections turns Device1.Connected property changes into connect
// handler callbacks. It exits when the bus connection is closed.
func (r *BlueZRadio) watchConnections(signals <-chan *dbus.Signal) {
	for signal := range signals {
		if signal == nil || len(signal.Body) < 2 {
			continue
		}
		if !strings.HasPrefix(string(signal.Path), string(r.adapterPath)+"/dev_") {
			continue
		}
		iface, ok := signal.Body[0].(string)
		if !ok || iface != bluezDeviceIface {
			continue
		}
		changed, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		v, ok := changed["Connected"]
		if !ok {
			continue
		}
		connected, ok := v.Value().(bool)
		if !ok {
			continue
		}

		r.mu.Lock()
		handler := r.onConnect
		r.mu.Unlock()
		if handler != nil {
			handler(addressFromPath(signal.Path), connected)
		}
	}
}

// addressFromPath converts .../dev_AA_BB_CC_DD_EE_FF to AA:BB:CC:DD:EE:FF.
func addressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	s = s[strings.LastIndex(s, "/")+1:]
	if !strings.HasPrefix(s, "dev_") {
		return ""
	}
	return strings.ReplaceAll(s[4:], "_", ":")
}

func (r *BlueZRadio) SetConnectHandler(handler func(client string, connected bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = handler
}

func (r *BlueZRadio) bus() (*dbus.Conn, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("%w: radio not enabled", ble.ErrAdapter)
	}
	return r.conn, nil
}

// StartAdvertising registers a connectable LE advertisement.
func (r *BlueZRadio) StartAdvertising(name string, serviceUUIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, err := r.bus()
	if err != nil {
		return err
	}
	if r.advertising {
		return fmt.Errorf("peripheral: advertisement already registered")
	}

	props := prop.Map{
		advIface: {
			"Type":         {Value: "peripheral", Emit: prop.EmitFalse},
			"ServiceUUIDs": {Value: serviceUUIDs, Emit: prop.EmitFalse},
			"LocalName":    {Value: name, Emit: prop.EmitFalse},
		},
	}
	if _, err := prop.Export(conn, advPath, props); err != nil {
		return fmt.Errorf("peripheral: export advertisement properties: %w", err)
	}
	if err := conn.Export(advertisement{}, advPath, advIface); err != nil {
		return fmt.Errorf("peripheral: export advertisement: %w", err)
	}

	call := conn.Object(bluezDest, r.adapterPath).Call(advManagerIface+".RegisterAdvertisement", 0,
		advPath, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("%w: register advertisement: %v", ble.ErrAdapter, call.Err)
	}
	r.advertising = true
	return nil
}

// StopAdvertising unregisters the advertisement.
func (r *BlueZRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopAdvertisingLocked()
}

func (r *BlueZRadio) stopAdvertisingLocked() error {
	if !r.advertising || r.conn == nil {
		return nil
	}
	r.advertising = false
	call := r.conn.Object(bluezDest, r.adapterPath).Call(advManagerIface+".UnregisterAdvertisement", 0, advPath)
	// Unexport regardless so a later Start begins from a clean object.
	_ = r.conn.Export(nil, advPath, advIface)
	_ = r.conn.Export(nil, advPath, propertiesIface)
	if call.Err != nil {
		return fmt.Errorf("%w: unregister advertisement: %v", ble.ErrAdapter, call.Err)
	}
	return nil
}

// AddWriteCharacteristic registers a GATT application with one primary
// service holding one write-only characteristic.
func (r *BlueZRadio) AddWriteCharacteristic(serviceUUID, charUUID string, handle WriteHandler) (func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, err := r.bus()
	if err != nil {
		return nil, err
	}
	if r.app != nil {
		return nil, fmt.Errorf("peripheral: GATT application already registered")
	}

	app, err := exportGATTApplication(conn, serviceUUID, charUUID, handle)
	if err != nil {
		return nil, err
	}
	call := conn.Object(bluezDest, r.adapterPath).Call(gattManagerIface+".RegisterApplication", 0,
		appRootPath, map[string]dbus.Variant{})
	if call.Err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("%w: register GATT application: %v", ble.ErrAdapter, call.Err)
	}
	r.app = app

	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.app != app || r.conn == nil {
			return nil
		}
		r.app = nil
		call := r.conn.Object(bluezDest, r.adapterPath).Call(gattManagerIface+".UnregisterApplication", 0, appRootPath)
		app.unexport(r.conn)
		if call.Err != nil {
			return fmt.Errorf("%w: unregister GATT application: %v", ble.ErrAdapter, call.Err)
		}
		return nil
	}, nil
}

// Close releases the agent and the bus connection. Advertising, if still
// registered, is withdrawn first.
func (r *BlueZRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.stopAdvertisingLocked()
	if r.agent != nil {
		if aerr := r.agent.unregister(r.conn); aerr != nil {
			slog.Warn("[ADV] unregister pairing agent", "error", aerr)
		}
		r.agent = nil
	}
	conn := r.conn
	r.conn = nil
	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// advertisement implements the LEAdvertisement1 methods BlueZ calls.
type advertisement struct{}

func (advertisement) Release() *dbus.Error {
	slog.Debug("[ADV] advertisement released by BlueZ")
	return nil
}
