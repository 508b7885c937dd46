package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Discover scans for peripherals advertising serviceUUID for the whole
// timeout window and returns the first one observed. When nothing answers
// it returns ErrDiscoveryEmpty; radio failures are wrapped in ErrAdapter.
// Either way no handle is produced.
func Discover(adapter Adapter, serviceUUID string, timeout time.Duration) (Device, error) {
	if timeout <= 0 {
		return Device{}, fmt.Errorf("ble: scan timeout must be > 0, got %s", timeout)
	}

	if err := adapter.Enable(); err != nil {
		err = asAdapterError("enable adapter", err)
		slog.Error("[SCAN] adapter unavailable, ensure Bluetooth is on and permissions are granted",
			"service", serviceUUID, "error", err)
		return Device{}, err
	}

	slog.Info("[SCAN] scanning for service", "service", serviceUUID, "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		err = asAdapterError("scan", err)
		slog.Error("[SCAN] scan failed", "service", serviceUUID, "error", err)
		return Device{}, err
	}

	if len(devices) == 0 {
		slog.Warn("[SCAN] no devices found advertising the target service", "service", serviceUUID)
		return Device{}, fmt.Errorf("ble: scan %s: %w", serviceUUID, ErrDiscoveryEmpty)
	}

	// First observed wins; no signal-strength or name ordering.
	device := devices[0]
	if len(devices) > 1 {
		slog.Debug("[SCAN] multiple devices matched, using first observed", "count", len(devices))
	}
	slog.Info("[SCAN] found device", "name", device.Name, "address", device.Address, "rssi", device.RSSI)
	return device, nil
}

func asAdapterError(op string, err error) error {
	if errors.Is(err, ErrAdapter) {
		return fmt.Errorf("ble: %s: %w", op, err)
	}
	return fmt.Errorf("ble: %s: %w: %v", op, ErrAdapter, err)
}
