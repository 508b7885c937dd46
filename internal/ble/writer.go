package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WriteOutcome is the terminal result of a payload write: delivered when
// Err is nil, failed otherwise.
type WriteOutcome struct {
	Err error
}

// Delivered reports whether the peer acknowledged the write.
func (o WriteOutcome) Delivered() bool { return o.Err == nil }

// Reason returns the failure taxonomy name, or "" when delivered.
func (o WriteOutcome) Reason() string { return Reason(o.Err) }

// Writer resolves the provisioning characteristic on a session and writes
// a payload to it with response. One attempt per call.
type Writer struct {
	ServiceUUID        string
	CharacteristicUUID string
	// Timeout bounds the wait for the peer's acknowledgement.
	Timeout time.Duration
}

// Resolve looks up the target characteristic on the session.
func (w Writer) Resolve(s *Session) (Characteristic, error) {
	c, err := s.Characteristic(w.ServiceUUID, w.CharacteristicUUID)
	if err != nil {
		slog.Error("[WRITE] characteristic not found",
			"service", w.ServiceUUID, "characteristic", w.CharacteristicUUID,
			"address", s.Device().Address, "error", err)
		return nil, err
	}
	slog.Debug("[WRITE] characteristic resolved", "characteristic", w.CharacteristicUUID)
	return c, nil
}

// Write resolves the characteristic and sends payload, collapsing every
// failure into the returned outcome.
func (w Writer) Write(s *Session, payload []byte) WriteOutcome {
	c, err := w.Resolve(s)
	if err != nil {
		return WriteOutcome{Err: err}
	}
	return w.WriteTo(c, s.Device(), payload)
}

// WriteTo sends payload to an already resolved characteristic.
func (w Writer) WriteTo(c Characteristic, device Device, payload []byte) WriteOutcome {
	if limit := c.MaxWriteLength(); limit > 0 && len(payload) > limit {
		err := fmt.Errorf("ble: payload is %d bytes, single write limit is %d: %w", len(payload), limit, ErrPayloadEncode)
		slog.Error("[WRITE] payload too large", "characteristic", w.CharacteristicUUID, "error", err)
		return WriteOutcome{Err: err}
	}

	slog.Info("[WRITE] writing", "characteristic", w.CharacteristicUUID, "address", device.Address, "bytes", len(payload))

	err := writeWithTimeout(c, payload, w.Timeout)
	if err != nil {
		err = classifyWriteError(w.CharacteristicUUID, err)
		slog.Error("[WRITE] write failed",
			"characteristic", w.CharacteristicUUID, "address", device.Address,
			"reason", Reason(err), "error", err)
		return WriteOutcome{Err: err}
	}

	slog.Info("[WRITE] write acknowledged", "characteristic", w.CharacteristicUUID, "address", device.Address)
	return WriteOutcome{}
}

// writeWithTimeout blocks on the write until it returns or timeout passes.
// A zero timeout waits for the transport's own timeout.
func writeWithTimeout(c Characteristic, payload []byte, timeout time.Duration) error {
	if timeout <= 0 {
		return c.WriteWithResponse(payload)
	}

	ch := make(chan error, 1)
	go func() {
		ch <- c.WriteWithResponse(payload)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return fmt.Errorf("no acknowledgement after %s: %w", timeout, ErrWriteTimeout)
	}
}

func classifyWriteError(charUUID string, err error) error {
	for _, known := range []error{ErrWriteRejected, ErrWriteTimeout, ErrTransport, ErrCharacteristicNotFound} {
		if errors.Is(err, known) {
			return fmt.Errorf("ble: write %s: %w", charUUID, err)
		}
	}
	return fmt.Errorf("ble: write %s: %w: %v", charUUID, ErrTransport, err)
}
