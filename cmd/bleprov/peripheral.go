package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/bleprov/internal/peripheral"
	"github.com/chaz8081/bleprov/internal/session"
)

// PeripheralCmd advertises and serves writes until interrupted.
type PeripheralCmd struct {
	Name string `help:"Override peripheral.name"`
}

func (c *PeripheralCmd) Run(globals *CLI) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	if c.Name != "" {
		cfg.Peripheral.Name = c.Name
	}

	validator, err := peripheral.ValidatorFor(cfg.Peripheral.Validation)
	if err != nil {
		return err
	}

	radio, err := peripheral.NewSystemRadio(peripheral.SystemOptions{
		AdapterID:    cfg.Peripheral.AdapterID,
		PairingAgent: cfg.Peripheral.PairingAgent,
	})
	if err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	defer func() {
		if err := radio.Close(); err != nil {
			slog.Warn("[SESSION] radio close", "error", err)
		}
	}()

	p := session.NewPeripheral(radio, peripheral.ServerOptions{
		Name:                           cfg.Peripheral.Name,
		ServiceUUID:                    cfg.ServiceUUID,
		CharacteristicUUID:             cfg.CharacteristicUUID,
		Validator:                      validator,
		PauseAdvertisingWhileConnected: cfg.Peripheral.PauseAdvertisingWhileConnected,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Advertising %q (service %s). Ctrl+C to quit.\n", cfg.Peripheral.Name, cfg.ServiceUUID)
	return p.Run(ctx)
}
