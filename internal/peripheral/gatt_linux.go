//go:build linux

package peripheral

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

const (
	gattServiceIface = "org.bluez.GattService1"
	gattCharIface    = "org.bluez.GattCharacteristic1"

	servicePath = dbus.ObjectPath("/org/bleprov/service0")
	charPath    = dbus.ObjectPath("/org/bleprov/service0/char0")

	bluezErrNotPermitted  = "org.bluez.Error.NotPermitted"
	bluezErrInvalidOffset = "org.bluez.Error.InvalidOffset"
)

// gattApplication is the object tree handed to GattManager1.RegisterApplication.
type gattApplication struct {
	objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager.
func (a *gattApplication) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return a.objects, nil
}

func exportGATTApplication(conn *dbus.Conn, serviceUUID, charUUID string, handle WriteHandler) (*gattApplication, error) {
	serviceProps := map[string]*prop.Prop{
		"UUID":    {Value: serviceUUID, Emit: prop.EmitFalse},
		"Primary": {Value: true, Emit: prop.EmitFalse},
	}
	charProps := map[string]*prop.Prop{
		"UUID":    {Value: charUUID, Emit: prop.EmitFalse},
		"Service": {Value: servicePath, Emit: prop.EmitFalse},
		"Flags":   {Value: []string{"write"}, Emit: prop.EmitFalse},
	}

	app := &gattApplication{
		objects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
			servicePath: {gattServiceIface: variants(serviceProps)},
			charPath:    {gattCharIface: variants(charProps)},
		},
	}

	if err := conn.Export(app, appRootPath, objectManagerIface); err != nil {
		return nil, fmt.Errorf("peripheral: export object manager: %w", err)
	}
	if _, err := prop.Export(conn, servicePath, prop.Map{gattServiceIface: serviceProps}); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("peripheral: export service properties: %w", err)
	}
	if _, err := prop.Export(conn, charPath, prop.Map{gattCharIface: charProps}); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("peripheral: export characteristic properties: %w", err)
	}
	if err := conn.Export(&gattCharacteristic{handle: handle}, charPath, gattCharIface); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("peripheral: export characteristic: %w", err)
	}
	return app, nil
}

func (a *gattApplication) unexport(conn *dbus.Conn) {
	_ = conn.Export(nil, appRootPath, objectManagerIface)
	_ = conn.Export(nil, servicePath, propertiesIface)
	_ = conn.Export(nil, charPath, propertiesIface)
	_ = conn.Export(nil, charPath, gattCharIface)
}

func variants(props map[string]*prop.Prop) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for k, p := range props {
		out[k] = dbus.MakeVariant(p.Value)
	}
	return out
}

// gattCharacteristic implements the GattCharacteristic1 methods for a
// write-only characteristic. BlueZ delivers writes one call at a time.
type gattCharacteristic struct {
	handle WriteHandler
}

func (c *gattCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return nil, dbus.NewError(bluezErrNotPermitted, []interface{}{"characteristic is write-only"})
}

func (c *gattCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	req := WriteRequest{Value: value}
	if v, ok := options["device"]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			req.Client = addressFromPath(p)
		}
	}
	if v, ok := options["offset"]; ok {
		if off, ok := v.Value().(uint16); ok {
			req.Offset = int(off)
		}
	}

	if err := c.handle(req); err != nil {
		slog.Debug("[GATT] answering write with error response", "client", req.Client, "error", err)
		if req.Offset != 0 {
			return dbus.NewError(bluezErrInvalidOffset, []interface{}{err.Error()})
		}
		return dbus.NewError(bluezErrNotPermitted, []interface{}{err.Error()})
	}
	return nil
}
