// Package peripheral implements the Peripheral side of the provisioning
// exchange: advertising the provisioning service and serving a single
// write-only characteristic whose writes are validated and answered through
// the GATT write response.
package peripheral

// WriteRequest is one incoming write to the provisioning characteristic.
type WriteRequest struct {
	// Client identifies the connected central, when the stack reports it.
	Client string
	Offset int
	Value  []byte
}

// WriteHandler processes a write. A non-nil error is sent back to the
// central as a GATT error response; nil acknowledges the write.
type WriteHandler func(req WriteRequest) error

// Radio is the Peripheral's view of the BLE adapter. It is a process-wide
// resource shared by the Advertiser and the Server.
type Radio interface {
	// Enable powers on the adapter.
	Enable() error
	// StartAdvertising broadcasts name and serviceUUIDs until stopped.
	StartAdvertising(name string, serviceUUIDs []string) error
	// StopAdvertising stops the broadcast.
	StopAdvertising() error
	// AddWriteCharacteristic exposes a write-only characteristic under a
	// primary service. The returned func removes it again.
	AddWriteCharacteristic(serviceUUID, charUUID string, handle WriteHandler) (remove func() error, err error)
	// SetConnectHandler registers a callback for centrals connecting and
	// disconnecting.
	SetConnectHandler(handler func(client string, connected bool))
}

// SystemRadio is a Radio bound to the host's Bluetooth stack.
type SystemRadio interface {
	Radio
	Close() error
}

// SystemOptions configures the host-backed radio.
type SystemOptions struct {
	AdapterID string // e.g. "hci0"
	// PairingAgent registers a NoInputNoOutput agent so centrals can pair
	// without user interaction.
	PairingAgent bool
}
