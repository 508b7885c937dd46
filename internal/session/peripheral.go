package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/peripheral"
)

// Peripheral serves the provisioning characteristic on a radio.
type Peripheral struct {
	radio  peripheral.Radio
	server *peripheral.Server

	readyOnce sync.Once
	ready     chan struct{}
}

// NewPeripheral creates a peripheral controller. Empty UUIDs and name fall
// back to the built-in defaults.
func NewPeripheral(radio peripheral.Radio, opts peripheral.ServerOptions) *Peripheral {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = ble.DefaultServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = ble.DefaultCharacteristicUUID
	}
	if opts.Name == "" {
		opts.Name = "MyBLEDevice"
	}
	return &Peripheral{
		radio:  radio,
		server: peripheral.NewServer(radio, peripheral.NewAdvertiser(radio), opts),
		ready:  make(chan struct{}),
	}
}

// Server returns the underlying GATT server.
func (p *Peripheral) Server() *peripheral.Server { return p.server }

// Ready is closed once the server is advertising.
func (p *Peripheral) Ready() <-chan struct{} { return p.ready }

// Run enables the radio, starts serving and blocks until ctx is done. The
// advertisement and characteristic are always withdrawn before returning.
func (p *Peripheral) Run(ctx context.Context) (err error) {
	if err := p.radio.Enable(); err != nil {
		if !errors.Is(err, ble.ErrAdapter) {
			err = fmt.Errorf("%w: %v", ble.ErrAdapter, err)
		}
		slog.Error("[SESSION] radio unavailable", "error", err)
		return fmt.Errorf("session: enable radio: %w", err)
	}

	if err := p.server.Start(); err != nil {
		return fmt.Errorf("session: start server: %w", err)
	}
	defer func() {
		if stopErr := p.server.Stop(); stopErr != nil {
			slog.Warn("[SESSION] shutdown incomplete", "error", stopErr)
			err = errors.Join(err, stopErr)
		}
	}()

	p.readyOnce.Do(func() { close(p.ready) })
	slog.Info("[SESSION] peripheral serving, waiting for writes")
	<-ctx.Done()
	slog.Info("[SESSION] peripheral shutting down")
	return nil
}
