package ble

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testWriter() Writer {
	return Writer{
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
		Timeout:            time.Second,
	}
}

func writeOnce(t *testing.T, adapter *mockAdapter, w Writer, payload []byte) WriteOutcome {
	t.Helper()
	m := NewManager(adapter)
	s, err := m.Connect(testDevice, time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()
	return w.Write(s, payload)
}

func TestWriteDelivered(t *testing.T) {
	adapter := newMockAdapter(nil)
	payload := []byte(`{"someValue":"test"}`)

	out := writeOnce(t, adapter, testWriter(), payload)
	if !out.Delivered() {
		t.Fatalf("Write() outcome = %v, want delivered", out.Err)
	}
	writes := adapter.connection.char.writes
	if len(writes) != 1 || string(writes[0]) != string(payload) {
		t.Errorf("writes = %q, want exactly one %q", writes, payload)
	}
}

func TestWriteFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*mockAdapter, *Writer)
		reason string
	}{
		{
			name: "characteristic not found",
			setup: func(_ *mockAdapter, w *Writer) {
				w.CharacteristicUUID = "12345678-1234-5678-1234-56789abcdef9"
			},
			reason: "CharacteristicNotFound",
		},
		{
			name: "rejected by peer",
			setup: func(a *mockAdapter, _ *Writer) {
				a.connection.char.writeErr = ErrWriteRejected
			},
			reason: "WriteRejected",
		},
		{
			name: "timeout",
			setup: func(a *mockAdapter, w *Writer) {
				a.connection.char.delay = 200 * time.Millisecond
				w.Timeout = 20 * time.Millisecond
			},
			reason: "WriteTimeout",
		},
		{
			name: "unclassified transport error",
			setup: func(a *mockAdapter, _ *Writer) {
				a.connection.char.writeErr = errors.New("link dropped")
			},
			reason: "TransportError",
		},
		{
			name: "oversized payload",
			setup: func(a *mockAdapter, _ *Writer) {
				a.connection.char.maxLen = 4
			},
			reason: "PayloadEncodeError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newMockAdapter(nil)
			w := testWriter()
			tt.setup(adapter, &w)

			out := writeOnce(t, adapter, w, []byte(`{"someValue":"test"}`))
			if out.Delivered() {
				t.Fatal("Write() should have failed")
			}
			if got := out.Reason(); got != tt.reason {
				t.Errorf("Reason() = %q, want %q (err: %v)", got, tt.reason, out.Err)
			}
		})
	}
}

func TestWriteSingleAttempt(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connection.char.writeErr = ErrWriteRejected

	_ = writeOnce(t, adapter, testWriter(), []byte("x"))
	if n := adapter.connection.char.writeCount(); n != 1 {
		t.Errorf("write attempts = %d, want 1", n)
	}
}

func TestWriteAfterCloseIsTransportError(t *testing.T) {
	adapter := newMockAdapter(nil)
	m := NewManager(adapter)
	s, err := m.Connect(testDevice, time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.Close()

	out := testWriter().Write(s, []byte("x"))
	if !errors.Is(out.Err, ErrTransport) {
		t.Fatalf("Write() on closed session error = %v, want ErrTransport", out.Err)
	}
}

func TestClassifyStackWriteError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Operation failed with ATT error: 0x03", ErrWriteRejected},
		{"org.bluez.Error.NotPermitted: Write not permitted", ErrWriteRejected},
		{"Writing is not permitted.", ErrWriteRejected},
		{"org.bluez.Error.InvalidOffset: Invalid offset", ErrWriteRejected},
		{"Error Domain=CBATTErrorDomain Code=14 \"Unlikely error.\"", ErrWriteRejected},
		{"org.bluez.Error.Failed: Not connected", ErrTransport},
		{"le-connection-abort-by-local", ErrTransport},
		{"invalid argument", ErrTransport},
		{"invalid object path", ErrTransport},
		{"org.bluez.Error.InProgress: In Progress", ErrTransport},
	}
	for _, tt := range tests {
		err := classifyStackWriteError(errors.New(tt.msg))
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyStackWriteError(%q) = %v, want %v", tt.msg, err, tt.want)
		}
		if !strings.Contains(err.Error(), tt.msg) {
			t.Errorf("classified error %q lost the stack detail", err)
		}
	}
}
