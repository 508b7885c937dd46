// Package ble implements the Central side of the provisioning exchange:
// discovering a peripheral that advertises the provisioning service,
// holding a single connection session to it, and writing the payload to
// the provisioning characteristic with a write-with-response.
package ble

import "context"

// Reference provisioning UUIDs. Both roles must agree on them out of band.
const (
	DefaultServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	DefaultCharacteristicUUID = "12345678-1234-5678-1234-56789abcdef1"
)

// DefaultWriteLength is the single-write payload size guaranteed by the
// default ATT MTU of 23 bytes.
const DefaultWriteLength = 20

// Characteristic represents a writable BLE GATT characteristic on a peer.
type Characteristic interface {
	// WriteWithResponse sends data and blocks until the peer's GATT layer
	// acknowledges or rejects it.
	WriteWithResponse(data []byte) error
	// MaxWriteLength reports the largest payload a single unfragmented
	// write can carry on this link.
	MaxWriteLength() int
}

// Device represents a discovered BLE peripheral. The address is only
// meaningful within the discovery cycle that produced it.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the Central's BLE hardware adapter. The adapter is a
// process-wide resource; callers pass it explicitly.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan collects peripherals advertising the given service UUID until ctx
	// is done. Devices are returned in the order they were first observed.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address,
	// giving up when ctx is done.
	Connect(ctx context.Context, address string) (Connection, error)
}
