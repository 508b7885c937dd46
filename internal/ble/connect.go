package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the Connection Manager's lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Manager establishes connections on behalf of the Central. At most one
// Session is open at a time.
type Manager struct {
	adapter Adapter

	mu     sync.Mutex
	state  ConnState
	active *Session
}

// NewManager creates a connection manager for the given adapter.
func NewManager(adapter Adapter) *Manager {
	return &Manager{adapter: adapter}
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(to ConnState, device Device) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from != to {
		slog.Debug("[CONN] state", "from", from, "to", to, "address", device.Address)
	}
}

// Connect opens a session to device, failing with ErrConnectTimeout if the
// link is not up within timeout. Failed attempts are not retried. The
// caller owns the returned Session and must Close it; prefer WithSession.
func (m *Manager) Connect(device Device, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("ble: connect timeout must be > 0, got %s", timeout)
	}

	// The check and the Connecting reservation share one critical section so
	// concurrent callers cannot both reach the adapter.
	m.mu.Lock()
	if m.active != nil || m.state != StateDisconnected {
		busy := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("ble: connect to %s: manager is %s: %w", device.Address, busy, ErrSessionActive)
	}
	m.state = StateConnecting
	m.mu.Unlock()
	slog.Debug("[CONN] state", "from", StateDisconnected, "to", StateConnecting, "address", device.Address)

	slog.Info("[CONN] connecting", "address", device.Address, "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := m.adapter.Connect(ctx, device.Address)
	if err != nil {
		m.setState(StateDisconnected, device)
		err = classifyConnectError(ctx, device, err)
		slog.Error("[CONN] connect failed", "address", device.Address, "reason", Reason(err), "error", err)
		return nil, err
	}

	s := &Session{device: device, conn: conn, manager: m}
	m.mu.Lock()
	m.active = s
	m.state = StateConnected
	m.mu.Unlock()
	slog.Debug("[CONN] state", "from", StateConnecting, "to", StateConnected, "address", device.Address)
	slog.Info("[CONN] connected", "address", device.Address, "name", device.Name)
	return s, nil
}

// WithSession connects to device, runs fn with the open session and
// disconnects on every exit path, including a panic in fn.
func (m *Manager) WithSession(device Device, timeout time.Duration, fn func(*Session) error) (err error) {
	s, err := m.Connect(device, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("[CONN] disconnect failed", "address", device.Address, "error", cerr)
		}
	}()
	return fn(s)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	m.setState(StateDisconnected, s.device)
}

func classifyConnectError(ctx context.Context, device Device, err error) error {
	switch {
	case errors.Is(err, ErrAdapter), errors.Is(err, ErrConnectTimeout), errors.Is(err, ErrTransportRejected):
		return fmt.Errorf("ble: connect to %s: %w", device.Address, err)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return fmt.Errorf("ble: connect to %s: %w", device.Address, ErrConnectTimeout)
	default:
		return fmt.Errorf("ble: connect to %s: %w: %v", device.Address, ErrTransportRejected, err)
	}
}

// Session owns the live link to one device.
type Session struct {
	device  Device
	conn    Connection
	manager *Manager

	mu     sync.Mutex
	closed bool
}

// Device returns the peer this session is connected to.
func (s *Session) Device() Device { return s.device }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Characteristic resolves charUUID within serviceUUID on the peer.
func (s *Session) Characteristic(serviceUUID, charUUID string) (Characteristic, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("ble: resolve %s: session closed: %w", charUUID, ErrTransport)
	}

	c, err := s.conn.DiscoverCharacteristic(serviceUUID, charUUID)
	if err != nil {
		if errors.Is(err, ErrCharacteristicNotFound) {
			return nil, fmt.Errorf("ble: resolve %s on %s: %w", charUUID, s.device.Address, err)
		}
		return nil, fmt.Errorf("ble: resolve %s on %s: %w: %v", charUUID, s.device.Address, ErrCharacteristicNotFound, err)
	}
	return c, nil
}

// Close disconnects the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Disconnect()
	s.manager.release(s)
	slog.Info("[CONN] disconnected", "address", s.device.Address)
	return err
}
