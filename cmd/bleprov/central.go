package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/payload"
	"github.com/chaz8081/bleprov/internal/session"
)

// CentralCmd runs one provisioning exchange.
type CentralCmd struct {
	Set         map[string]string `short:"s" help:"Payload field as key=value; replaces the configured payload"`
	ScanTimeout time.Duration     `name:"scan-timeout" help:"Override central.scan_timeout"`
}

func (c *CentralCmd) Run(globals *CLI) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	if c.ScanTimeout > 0 {
		cfg.Central.ScanTimeout = c.ScanTimeout
	}

	record := payload.Record(cfg.Central.Payload)
	if len(c.Set) > 0 {
		record = payload.Record(c.Set)
	}

	printBanner(cfg.ServiceUUID, cfg.CharacteristicUUID, cfg.Central.ScanTimeout)

	central := session.NewCentral(ble.NewTinyGoAdapter(), session.CentralOptions{
		ServiceUUID:        cfg.ServiceUUID,
		CharacteristicUUID: cfg.CharacteristicUUID,
		ScanTimeout:        cfg.Central.ScanTimeout,
		ConnectTimeout:     cfg.Central.ConnectTimeout,
		WriteTimeout:       cfg.Central.WriteTimeout,
	})

	out := central.Run(record)
	fmt.Fprintln(os.Stdout, out)
	if !out.Delivered() {
		return &exitError{code: out.ExitCode(), err: errors.New(out.Reason())}
	}
	return nil
}

// printBanner displays the exchange parameters.
func printBanner(service, char string, scan time.Duration) {
	fmt.Println("=== bleprov central ===")
	fmt.Printf("  Service:        %s\n", service)
	fmt.Printf("  Characteristic: %s\n", char)
	fmt.Printf("  Scan window:    %s\n", scan)
	fmt.Println("=======================")
}
