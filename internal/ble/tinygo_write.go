//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// tinyGoCharacteristic writes through the platform stack, whose Write is
// an acknowledged write request.
type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func newStackCharacteristic(_, _, _ string, char bluetooth.DeviceCharacteristic) (Characteristic, error) {
	return &tinyGoCharacteristic{char: char}, nil
}

// WriteWithResponse uses the acknowledged write, never WriteWithoutResponse.
func (c *tinyGoCharacteristic) WriteWithResponse(data []byte) error {
	if _, err := c.char.Write(data); err != nil {
		return classifyStackWriteError(err)
	}
	return nil
}

func (c *tinyGoCharacteristic) MaxWriteLength() int {
	return maxWriteLength(c.char)
}
