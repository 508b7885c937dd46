package bletest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/peripheral"
)

const (
	svc  = ble.DefaultServiceUUID
	char = ble.DefaultCharacteristicUUID
)

func scan(t *testing.T, c *Central) []ble.Device {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	devices, err := c.Scan(ctx, svc)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	return devices
}

func TestScanReportsAdvertisersInStartOrder(t *testing.T) {
	m := NewMedium()
	late := m.NewRadio("AA:AA:AA:AA:AA:02")
	early := m.NewRadio("AA:AA:AA:AA:AA:01")
	other := m.NewRadio("AA:AA:AA:AA:AA:03")

	if err := early.StartAdvertising("early", []string{svc}); err != nil {
		t.Fatal(err)
	}
	if err := late.StartAdvertising("late", []string{svc}); err != nil {
		t.Fatal(err)
	}
	if err := other.StartAdvertising("other", []string{"0000180f-0000-1000-8000-00805f9b34fb"}); err != nil {
		t.Fatal(err)
	}

	devices := scan(t, m.NewCentral("CC:CC:CC:CC:CC:CC"))
	if len(devices) != 2 {
		t.Fatalf("Scan() returned %d devices, want 2", len(devices))
	}
	if devices[0].Name != "early" || devices[1].Name != "late" {
		t.Errorf("Scan() order = %q, %q; want early, late", devices[0].Name, devices[1].Name)
	}
}

func TestScanSkipsStoppedAdvertiser(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("AA:AA:AA:AA:AA:01")
	_ = r.StartAdvertising("p", []string{svc})
	_ = r.StopAdvertising()

	if devices := scan(t, m.NewCentral("CC")); len(devices) != 0 {
		t.Errorf("Scan() = %v, want none", devices)
	}
}

func TestScanObservesAdvertiserThatStopsMidWindow(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("AA:AA:AA:AA:AA:01")
	c := m.NewCentral("CC")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	result := make(chan []ble.Device, 1)
	go func() {
		devices, _ := c.Scan(ctx, svc)
		result <- devices
	}()

	time.Sleep(10 * time.Millisecond)
	if err := r.StartAdvertising("brief", []string{svc}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	_ = r.StopAdvertising()

	devices := <-result
	if len(devices) != 1 || devices[0].Name != "brief" {
		t.Errorf("Scan() = %v, want the brief advertiser", devices)
	}
}

func TestWriteReachesHandler(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("AA:AA:AA:AA:AA:01")
	var got peripheral.WriteRequest
	if _, err := r.AddWriteCharacteristic(svc, char, func(req peripheral.WriteRequest) error {
		got = req
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var events []bool
	r.SetConnectHandler(func(_ string, connected bool) { events = append(events, connected) })

	c := m.NewCentral("CC:CC:CC:CC:CC:CC")
	conn, err := c.Connect(context.Background(), "AA:AA:AA:AA:AA:01")
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if m.OpenConnections() != 1 {
		t.Errorf("OpenConnections() = %d, want 1", m.OpenConnections())
	}

	ch, err := conn.DiscoverCharacteristic(svc, char)
	if err != nil {
		t.Fatalf("DiscoverCharacteristic() error: %v", err)
	}
	if err := ch.WriteWithResponse([]byte("hello")); err != nil {
		t.Fatalf("WriteWithResponse() error: %v", err)
	}
	if string(got.Value) != "hello" || got.Client != "CC:CC:CC:CC:CC:CC" {
		t.Errorf("handler got %+v", got)
	}

	_ = conn.Disconnect()
	_ = conn.Disconnect()
	if m.OpenConnections() != 0 {
		t.Errorf("OpenConnections() after disconnect = %d, want 0", m.OpenConnections())
	}
	if len(events) != 2 || !events[0] || events[1] {
		t.Errorf("connect events = %v, want [true false]", events)
	}

	if err := ch.WriteWithResponse([]byte("again")); !errors.Is(err, ble.ErrTransport) {
		t.Errorf("write after disconnect = %v, want ErrTransport", err)
	}
}

func TestHandlerErrorIsWriteRejected(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("AA")
	_, _ = r.AddWriteCharacteristic(svc, char, func(peripheral.WriteRequest) error {
		return errors.New("bad payload")
	})

	conn, err := m.NewCentral("CC").Connect(context.Background(), "AA")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect()

	ch, err := conn.DiscoverCharacteristic(svc, char)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteWithResponse([]byte("x")); !errors.Is(err, ble.ErrWriteRejected) {
		t.Errorf("WriteWithResponse() = %v, want ErrWriteRejected", err)
	}
}

func TestConnectFailures(t *testing.T) {
	m := NewMedium()
	c := m.NewCentral("CC")

	if _, err := c.Connect(context.Background(), "missing"); !errors.Is(err, ble.ErrTransportRejected) {
		t.Errorf("Connect(unknown) = %v, want ErrTransportRejected", err)
	}

	r := m.NewRadio("AA")
	r.SetReachable(false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Connect(ctx, "AA"); !errors.Is(err, ble.ErrConnectTimeout) {
		t.Errorf("Connect(unreachable) = %v, want ErrConnectTimeout", err)
	}
	if m.OpenConnections() != 0 {
		t.Errorf("OpenConnections() = %d, want 0", m.OpenConnections())
	}
	if c.ConnectAttempts() != 2 {
		t.Errorf("ConnectAttempts() = %d, want 2", c.ConnectAttempts())
	}
}

func TestMissingCharacteristic(t *testing.T) {
	m := NewMedium()
	m.NewRadio("AA")
	conn, err := m.NewCentral("CC").Connect(context.Background(), "AA")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect()
	if _, err := conn.DiscoverCharacteristic(svc, char); !errors.Is(err, ble.ErrCharacteristicNotFound) {
		t.Errorf("DiscoverCharacteristic() = %v, want ErrCharacteristicNotFound", err)
	}
}

func TestMaxWriteLengthFollowsMTU(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("AA")
	r.SetMTU(23)
	_, _ = r.AddWriteCharacteristic(svc, char, func(peripheral.WriteRequest) error { return nil })
	conn, _ := m.NewCentral("CC").Connect(context.Background(), "AA")
	defer conn.Disconnect()
	ch, _ := conn.DiscoverCharacteristic(svc, char)
	if got := ch.MaxWriteLength(); got != 20 {
		t.Errorf("MaxWriteLength() = %d, want 20", got)
	}
}
