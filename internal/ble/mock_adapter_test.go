package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockCharacteristic records writes and returns a configurable result.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	delay    time.Duration
	maxLen   int
}

func (c *mockCharacteristic) WriteWithResponse(data []byte) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return c.writeErr
}

func (c *mockCharacteristic) MaxWriteLength() int {
	if c.maxLen == 0 {
		return 512
	}
	return c.maxLen
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// mockConnection simulates a BLE connection exposing one characteristic.
type mockConnection struct {
	mu           sync.Mutex
	char         *mockCharacteristic
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{char: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != DefaultServiceUUID || charUUID != DefaultCharacteristicUUID || c.char == nil {
		return nil, fmt.Errorf("mock: %w: %s/%s", ErrCharacteristicNotFound, serviceUUID, charUUID)
	}
	return c.char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	enableErr  error
	scanErr    error
	connectErr error
	hang       bool // Connect blocks until ctx is done
	delay      time.Duration
	connection *mockConnection
	connects   int
	scans      int
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

// Scan behaves like a radio scan: it blocks for the whole window.
func (a *mockAdapter) Scan(ctx context.Context, _ string) ([]Device, error) {
	a.mu.Lock()
	a.scans++
	a.mu.Unlock()
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	<-ctx.Done()
	return a.devices, nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	a.connects++
	delay := a.delay
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if a.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
