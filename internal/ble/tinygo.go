package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter implements Adapter on top of tinygo-org/bluetooth. On
// macOS device addresses are CoreBluetooth UUIDs rather than MAC addresses;
// Device.Address carries whichever form the platform reports.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled and the addresses seen by the last scan.
	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
}

// NewTinyGoAdapter creates an adapter backed by the default system radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

// Enable powers on the radio. Repeated calls are no-ops.
func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bluetooth.Address)

	if ctx.Err() != nil {
		return nil, nil
	}
	done := make(chan struct{})
	go stopWhenDone(ctx, done, a.adapter.StopScan)

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = result.Address
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
		slog.Debug("[SCAN] advertisement", "address", addr, "name", result.LocalName(), "rssi", result.RSSI)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrAdapter, err)
	}

	a.mu.Lock()
	a.seen = seen
	a.mu.Unlock()
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	// tinygo/bluetooth's Connect blocks with its own timeout, so it is
	// wrapped to respect ctx as well.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled. If it completes after
		// we gave up, tear the link down so no session is left dangling.
		go func() {
			result := <-ch
			if result.err == nil {
				slog.Warn("[CONN] late connection after timeout, disconnecting", "address", address)
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransportRejected, result.err)
		}
		return &tinyGoConnection{device: result.device, address: address}, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device  bluetooth.Device
	address string
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %v", ErrCharacteristicNotFound, err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("%w: service %s not present", ErrCharacteristicNotFound, serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("%w: discover characteristics: %v", ErrCharacteristicNotFound, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: characteristic %s not present", ErrCharacteristicNotFound, charUUID)
	}

	return newStackCharacteristic(c.address, serviceUUID, charUUID, chars[0])
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// maxWriteLength derives the single-write payload limit from the ATT MTU.
func maxWriteLength(char bluetooth.DeviceCharacteristic) int {
	mtu, err := char.GetMTU()
	if err != nil || mtu <= 3 {
		return DefaultWriteLength
	}
	return int(mtu) - 3
}

// Texts of error responses that came from the peer's GATT server, as
// reported by BlueZ (D-Bus error names plus message) and CoreBluetooth.
// Anything else is a local or link failure.
var peerRejectMarkers = []string{
	"att error",
	"org.bluez.error.notpermitted",
	"org.bluez.error.notauthorized",
	"org.bluez.error.notsupported",
	"org.bluez.error.invalidoffset",
	"org.bluez.error.invalidvaluelength",
	"cbatterrordomain",
	"writing is not permitted",
	"unlikely error",
}

func classifyStackWriteError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range peerRejectMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", ErrWriteRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

const stopScanRetry = 10 * time.Millisecond

// stopWhenDone calls stop once ctx is done, retrying until it succeeds or
// done is closed. StopScan fails if it races ahead of the scan starting.
func stopWhenDone(ctx context.Context, done <-chan struct{}, stop func() error) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for {
		err := stop()
		if err == nil {
			return
		}
		slog.Debug("[SCAN] stop scan", "error", err)
		select {
		case <-done:
			return
		case <-time.After(stopScanRetry):
		}
	}
}
