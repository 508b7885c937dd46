//go:build !linux

package peripheral

import (
	"fmt"
	"runtime"

	"github.com/chaz8081/bleprov/internal/ble"
)

// NewSystemRadio reports that the host has no supported peripheral stack.
// The GATT server needs a stack that can answer a write with an error,
// which is only wired for BlueZ.
func NewSystemRadio(opts SystemOptions) (SystemRadio, error) {
	return nil, fmt.Errorf("%w: peripheral role is not supported on %s", ble.ErrAdapter, runtime.GOOS)
}
