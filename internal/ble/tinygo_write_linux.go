//go:build linux

package ble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezDest          = "org.bluez"
	bluezGattService   = "org.bluez.GattService1"
	bluezGattChar      = "org.bluez.GattCharacteristic1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezCharacteristic writes with response over BlueZ D-Bus. On Linux
// tinygo-org/bluetooth only offers WriteWithoutResponse, which returns once
// the local stack has queued the data and so cannot confirm delivery.
type bluezCharacteristic struct {
	char bluetooth.DeviceCharacteristic
	obj  dbus.BusObject
}

// newStackCharacteristic locates the D-Bus object backing a characteristic
// tinygo has already discovered on the device at address.
func newStackCharacteristic(address, serviceUUID, charUUID string, char bluetooth.DeviceCharacteristic) (Characteristic, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system D-Bus: %v", ErrTransport, err)
	}
	var objects managedObjects
	if err := conn.Object(bluezDest, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("%w: list BlueZ objects: %v", ErrTransport, err)
	}
	path, err := findCharacteristicPath(objects, address, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	return &bluezCharacteristic{char: char, obj: conn.Object(bluezDest, path)}, nil
}

// findCharacteristicPath returns the object path of charUUID inside
// serviceUUID on the device at address.
func findCharacteristicPath(objects managedObjects, address, serviceUUID, charUUID string) (dbus.ObjectPath, error) {
	devSegment := "/dev_" + strings.ToUpper(strings.ReplaceAll(address, ":", "_")) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.Contains(strings.ToUpper(string(path)), strings.ToUpper(devSegment)) {
			continue
		}
		if !strings.EqualFold(variantString(props["UUID"]), charUUID) {
			continue
		}
		svcPath, _ := props["Service"].Value().(dbus.ObjectPath)
		if !strings.EqualFold(variantString(objects[svcPath][bluezGattService]["UUID"]), serviceUUID) {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %s not exported by BlueZ for %s", ErrCharacteristicNotFound, charUUID, address)
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

// WriteWithResponse issues an ATT Write Request and returns once the peer
// has answered it.
func (c *bluezCharacteristic) WriteWithResponse(data []byte) error {
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	err := c.obj.Call(bluezGattChar+".WriteValue", 0, data, opts).Err
	if err != nil {
		return classifyStackWriteError(describeDBusError(err))
	}
	return nil
}

func (c *bluezCharacteristic) MaxWriteLength() int {
	return maxWriteLength(c.char)
}

// describeDBusError folds the D-Bus error name into the message; godbus
// otherwise reports only the body text.
func describeDBusError(err error) error {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return fmt.Errorf("%s: %w", derr.Name, err)
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return fmt.Errorf("%s: %w", pderr.Name, err)
	}
	return err
}
