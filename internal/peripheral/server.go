package peripheral

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/payload"
)

// ErrOffsetWrite rejects long/prepared writes; payloads must arrive in a
// single write at offset 0.
var ErrOffsetWrite = errors.New("peripheral: writes at non-zero offset are not supported")

// maxEvents bounds the verdict history kept for Events.
const maxEvents = 64

// ServerState is the GATT server's lifecycle state.
type ServerState int

const (
	ServerStopped ServerState = iota
	ServerAdvertising
	ServerConnectionAccepted
	ServerAwaitingWrite
	ServerValidated
	ServerRejected
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerAdvertising:
		return "advertising"
	case ServerConnectionAccepted:
		return "connection-accepted"
	case ServerAwaitingWrite:
		return "awaiting-write"
	case ServerValidated:
		return "validated"
	case ServerRejected:
		return "rejected"
	default:
		return fmt.Sprintf("ServerState(%d)", int(s))
	}
}

// WriteEvent reports the verdict on one incoming write.
type WriteEvent struct {
	Time        time.Time
	Client      string
	Payload     []byte
	Text        string // decoded text, set when Accepted
	Accepted    bool
	Err         error // rejection cause, set when not Accepted
	Fingerprint string
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Name               string
	ServiceUUID        string
	CharacteristicUUID string
	// Validator decides accept/reject; defaults to UTF8.
	Validator Validator
	// PauseAdvertisingWhileConnected stops the broadcast while at least one
	// central is connected.
	PauseAdvertisingWhileConnected bool
	// OnWrite, if set, is called after each write verdict.
	OnWrite func(WriteEvent)
}

// Server exposes the provisioning characteristic and answers each write
// with the validator's verdict. It keeps serving after every write; the
// central decides when to disconnect.
type Server struct {
	radio Radio
	adv   *Advertiser
	opts  ServerOptions

	// writeMu serialises write handling in arrival order.
	writeMu sync.Mutex

	mu      sync.Mutex
	state   ServerState
	clients map[string]struct{}
	remove  func() error
	events  []WriteEvent
}

// NewServer creates a server on radio that advertises through adv.
func NewServer(radio Radio, adv *Advertiser, opts ServerOptions) *Server {
	if opts.Validator == nil {
		opts.Validator = UTF8
	}
	return &Server{
		radio:   radio,
		adv:     adv,
		opts:    opts,
		clients: make(map[string]struct{}),
	}
}

// State returns the current server state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setStateLocked(to ServerState) {
	if s.state == to {
		return
	}
	slog.Debug("[GATT] state", "from", s.state, "to", to)
	s.state = to
}

// Events returns a copy of the most recent write verdicts, oldest first.
func (s *Server) Events() []WriteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteEvent(nil), s.events...)
}

// Start registers the characteristic and begins advertising.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != ServerStopped {
		s.mu.Unlock()
		return errors.New("peripheral: server already started")
	}
	s.mu.Unlock()

	s.radio.SetConnectHandler(s.handleConnect)

	remove, err := s.radio.AddWriteCharacteristic(s.opts.ServiceUUID, s.opts.CharacteristicUUID, s.handleWrite)
	if err != nil {
		s.radio.SetConnectHandler(nil)
		return fmt.Errorf("peripheral: add characteristic %s: %w", s.opts.CharacteristicUUID, err)
	}
	slog.Info("[GATT] characteristic registered",
		"service", s.opts.ServiceUUID, "characteristic", s.opts.CharacteristicUUID)

	if err := s.adv.Start(s.opts.Name, []string{s.opts.ServiceUUID}); err != nil {
		if rerr := remove(); rerr != nil {
			slog.Warn("[GATT] remove characteristic", "error", rerr)
		}
		s.radio.SetConnectHandler(nil)
		return err
	}

	s.mu.Lock()
	s.remove = remove
	s.setStateLocked(ServerAdvertising)
	s.mu.Unlock()
	return nil
}

// Stop stops advertising and removes the characteristic.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state == ServerStopped {
		s.mu.Unlock()
		return nil
	}
	remove := s.remove
	s.remove = nil
	s.clients = make(map[string]struct{})
	s.setStateLocked(ServerStopped)
	s.mu.Unlock()

	s.radio.SetConnectHandler(nil)

	var errs []error
	if err := s.adv.Stop(); err != nil {
		errs = append(errs, err)
	}
	if remove != nil {
		if err := remove(); err != nil {
			errs = append(errs, fmt.Errorf("peripheral: remove characteristic: %w", err))
		}
	}
	slog.Info("[GATT] server stopped")
	return errors.Join(errs...)
}

func (s *Server) handleConnect(client string, connected bool) {
	s.mu.Lock()
	if s.state == ServerStopped {
		s.mu.Unlock()
		return
	}
	if connected {
		s.clients[client] = struct{}{}
		s.setStateLocked(ServerConnectionAccepted)
		s.setStateLocked(ServerAwaitingWrite)
	} else {
		delete(s.clients, client)
		if len(s.clients) == 0 {
			s.setStateLocked(ServerAdvertising)
		}
	}
	remaining := len(s.clients)
	s.mu.Unlock()

	if connected {
		slog.Info("[GATT] central connected", "client", client)
	} else {
		slog.Info("[GATT] central disconnected", "client", client)
	}

	if !s.opts.PauseAdvertisingWhileConnected {
		return
	}
	var err error
	if connected {
		err = s.adv.Pause()
	} else if remaining == 0 {
		err = s.adv.Resume()
	}
	if err != nil {
		slog.Warn("[ADV] advertising policy", "error", err)
	}
}

func (s *Server) handleWrite(req WriteRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state == ServerStopped {
		s.mu.Unlock()
		return fmt.Errorf("peripheral: server stopped: %w", ble.ErrWriteRejected)
	}
	if s.state == ServerAdvertising {
		// Some stacks do not report connections; the write implies one.
		s.setStateLocked(ServerConnectionAccepted)
	}
	s.setStateLocked(ServerAwaitingWrite)
	s.mu.Unlock()

	ev := WriteEvent{
		Time:        time.Now(),
		Client:      req.Client,
		Payload:     append([]byte(nil), req.Value...),
		Fingerprint: payload.Fingerprint(req.Value),
	}

	if req.Offset != 0 {
		ev.Err = fmt.Errorf("%w (offset %d)", ErrOffsetWrite, req.Offset)
	} else {
		ev.Text, ev.Err = s.opts.Validator(ev.Payload)
	}
	ev.Accepted = ev.Err == nil

	s.mu.Lock()
	if ev.Accepted {
		s.setStateLocked(ServerValidated)
	} else {
		s.setStateLocked(ServerRejected)
	}
	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	s.setStateLocked(ServerAwaitingWrite)
	s.mu.Unlock()

	if ev.Accepted {
		slog.Info("[GATT] received data", "client", ev.Client, "data", ev.Text, "fingerprint", ev.Fingerprint)
	} else {
		slog.Warn("[GATT] rejected write", "client", ev.Client, "bytes", len(ev.Payload),
			"fingerprint", ev.Fingerprint, "error", ev.Err)
	}

	if s.opts.OnWrite != nil {
		s.opts.OnWrite(ev)
	}
	return ev.Err
}
