// Package session drives one provisioning exchange end to end for either
// role. The central runs encode, discover, connect and write as one pass
// that always ends with the link released. The peripheral serves writes
// until its context is cancelled.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/payload"
)

// Stage names the step of a central exchange an outcome stopped at.
type Stage string

const (
	StagePayload   Stage = "payload"
	StageDiscovery Stage = "discovery"
	StageConnect   Stage = "connect"
	StageWrite     Stage = "write"
	StageDone      Stage = "done"
)

// Outcome is the terminal result of one central exchange.
type Outcome struct {
	Stage       Stage
	Err         error
	Device      ble.Device
	Fingerprint string
	Elapsed     time.Duration
}

// Delivered reports whether the peripheral accepted the payload.
func (o Outcome) Delivered() bool { return o.Err == nil && o.Stage == StageDone }

// Reason returns the failure taxonomy name, or "" on success.
func (o Outcome) Reason() string { return ble.Reason(o.Err) }

func (o Outcome) String() string {
	if o.Delivered() {
		return fmt.Sprintf("delivered to %s (%s) fingerprint=%s", o.Device.Name, o.Device.Address, o.Fingerprint)
	}
	return fmt.Sprintf("failed at %s: %s: %v", o.Stage, o.Reason(), o.Err)
}

// ExitCode maps the outcome to a process exit status: 0 when delivered,
// otherwise one code per failure stage.
func (o Outcome) ExitCode() int {
	if o.Delivered() {
		return 0
	}
	switch o.Stage {
	case StagePayload:
		return 2
	case StageDiscovery:
		return 3
	case StageConnect:
		return 4
	case StageWrite:
		return 5
	}
	return 1
}

// CentralOptions configures a Central exchange.
type CentralOptions struct {
	ServiceUUID        string
	CharacteristicUUID string
	ScanTimeout        time.Duration
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
}

func (o *CentralOptions) applyDefaults() {
	if o.ServiceUUID == "" {
		o.ServiceUUID = ble.DefaultServiceUUID
	}
	if o.CharacteristicUUID == "" {
		o.CharacteristicUUID = ble.DefaultCharacteristicUUID
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 10 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Central runs provisioning exchanges against one adapter. Runs are
// serialised by the underlying connection manager.
type Central struct {
	opts    CentralOptions
	adapter ble.Adapter
	manager *ble.Manager
	writer  ble.Writer
}

// NewCentral creates a central controller on adapter.
func NewCentral(adapter ble.Adapter, opts CentralOptions) *Central {
	opts.applyDefaults()
	return &Central{
		opts:    opts,
		adapter: adapter,
		manager: ble.NewManager(adapter),
		writer: ble.Writer{
			ServiceUUID:        opts.ServiceUUID,
			CharacteristicUUID: opts.CharacteristicUUID,
			Timeout:            opts.WriteTimeout,
		},
	}
}

// Run encodes record and delivers it.
func (c *Central) Run(record payload.Record) Outcome {
	data, err := payload.Encode(record)
	if err != nil {
		slog.Error("[SESSION] payload encoding failed", "error", err)
		return Outcome{Stage: StagePayload, Err: err}
	}
	return c.RunPayload(data)
}

// RunPayload performs one exchange with already encoded bytes. There is no
// retry at any stage; the caller decides whether to run again.
func (c *Central) RunPayload(data []byte) Outcome {
	start := time.Now()
	out := c.runPayload(data)
	out.Elapsed = time.Since(start)

	if out.Delivered() {
		slog.Info("[SESSION] exchange complete",
			"name", out.Device.Name, "address", out.Device.Address,
			"fingerprint", out.Fingerprint, "elapsed", out.Elapsed.Round(time.Millisecond))
	} else {
		slog.Error("[SESSION] exchange failed",
			"stage", out.Stage, "reason", out.Reason(), "elapsed", out.Elapsed.Round(time.Millisecond), "error", out.Err)
	}
	return out
}

func (c *Central) runPayload(data []byte) Outcome {
	out := Outcome{Stage: StagePayload, Fingerprint: payload.Fingerprint(data)}
	if len(data) == 0 {
		out.Err = fmt.Errorf("session: empty payload: %w", ble.ErrPayloadEncode)
		return out
	}
	slog.Debug("[SESSION] payload ready", "bytes", len(data), "fingerprint", out.Fingerprint)

	out.Stage = StageDiscovery
	device, err := ble.Discover(c.adapter, c.opts.ServiceUUID, c.opts.ScanTimeout)
	if err != nil {
		out.Err = err
		return out
	}
	out.Device = device

	out.Stage = StageConnect
	err = c.manager.WithSession(device, c.opts.ConnectTimeout, func(s *ble.Session) error {
		out.Stage = StageWrite
		return c.writer.Write(s, data).Err
	})
	if err != nil {
		out.Err = err
		return out
	}

	out.Stage = StageDone
	return out
}

// IsRetryable reports whether a failed outcome may succeed on a fresh run
// without changing the payload.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ble.ErrPayloadEncode), errors.Is(err, ble.ErrWriteRejected),
		errors.Is(err, ble.ErrCharacteristicNotFound):
		return false
	}
	return true
}
