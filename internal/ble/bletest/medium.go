// Package bletest provides an in-memory radio medium that stands in for the
// BLE stack on both roles, so a Central and a Peripheral can complete a
// full exchange inside one test process.
package bletest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/peripheral"
)

// Medium connects the centrals and peripherals created from it.
type Medium struct {
	mu      sync.Mutex
	radios  []*Radio
	scans   map[*scanWindow]struct{}
	openCnt int
}

// scanWindow collects advertisers seen while one Scan call is listening.
type scanWindow struct {
	serviceUUID string

	mu      sync.Mutex
	seen    map[string]bool
	devices []ble.Device
}

func (w *scanWindow) observe(d ble.Device) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[d.Address] {
		return
	}
	w.seen[d.Address] = true
	w.devices = append(w.devices, d)
}

func (w *scanWindow) result() []ble.Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ble.Device(nil), w.devices...)
}

// openScan registers a window seeded with the advertisers already on air,
// in the order they began.
func (m *Medium) openScan(serviceUUID string) *scanWindow {
	w := &scanWindow{serviceUUID: serviceUUID, seen: make(map[string]bool)}
	m.mu.Lock()
	if m.scans == nil {
		m.scans = make(map[*scanWindow]struct{})
	}
	m.scans[w] = struct{}{}
	m.mu.Unlock()

	for _, d := range m.advertisersOf(serviceUUID) {
		w.observe(d)
	}
	return w
}

func (m *Medium) closeScan(w *scanWindow) {
	m.mu.Lock()
	delete(m.scans, w)
	m.mu.Unlock()
}

// broadcast reports a newly started advertisement to every open window
// listening for one of its services.
func (m *Medium) broadcast(d ble.Device, serviceUUIDs []string) {
	m.mu.Lock()
	windows := make([]*scanWindow, 0, len(m.scans))
	for w := range m.scans {
		windows = append(windows, w)
	}
	m.mu.Unlock()

	for _, w := range windows {
		if slices.Contains(serviceUUIDs, w.serviceUUID) {
			w.observe(d)
		}
	}
}

// NewMedium returns an empty medium.
func NewMedium() *Medium {
	return &Medium{}
}

// OpenConnections returns the number of links currently open.
func (m *Medium) OpenConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCnt
}

// NewRadio attaches a peripheral radio with the given address.
func (m *Medium) NewRadio(address string) *Radio {
	r := &Radio{medium: m, address: address, reachable: true, mtu: 185}
	m.mu.Lock()
	m.radios = append(m.radios, r)
	m.mu.Unlock()
	return r
}

// NewCentral attaches a central adapter.
func (m *Medium) NewCentral(address string) *Central {
	return &Central{medium: m, address: address}
}

func (m *Medium) advertisersOf(serviceUUID string) []ble.Device {
	m.mu.Lock()
	radios := append([]*Radio(nil), m.radios...)
	m.mu.Unlock()

	type seen struct {
		seq    uint64
		device ble.Device
	}
	var found []seen
	for _, r := range radios {
		if name, seq, ok := r.advertises(serviceUUID); ok {
			found = append(found, seen{seq, ble.Device{Name: name, Address: r.address, RSSI: -50}})
		}
	}
	// First observed wins, so report in the order advertising began.
	slices.SortFunc(found, func(a, b seen) int { return cmp.Compare(a.seq, b.seq) })

	devices := make([]ble.Device, 0, len(found))
	for _, f := range found {
		devices = append(devices, f.device)
	}
	return devices
}

func (m *Medium) radio(address string) *Radio {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.radios {
		if r.address == address {
			return r
		}
	}
	return nil
}

func (m *Medium) linkOpened() {
	m.mu.Lock()
	m.openCnt++
	m.mu.Unlock()
}

func (m *Medium) linkClosed() {
	m.mu.Lock()
	m.openCnt--
	m.mu.Unlock()
}

var advSeq struct {
	sync.Mutex
	n uint64
}

func nextSeq() uint64 {
	advSeq.Lock()
	defer advSeq.Unlock()
	advSeq.n++
	return advSeq.n
}

// Radio is a simulated peripheral adapter. It implements peripheral.Radio.
type Radio struct {
	medium  *Medium
	address string

	mu          sync.Mutex
	enableErr   error
	reachable   bool
	mtu         int
	writeDelay  time.Duration
	advertising bool
	advSeq      uint64
	advName     string
	advUUIDs    []string
	chars       map[string]peripheral.WriteHandler // key: service/char
	onConnect   func(string, bool)
}

var _ peripheral.Radio = (*Radio)(nil)

// SetEnableError makes Enable fail with err.
func (r *Radio) SetEnableError(err error) {
	r.mu.Lock()
	r.enableErr = err
	r.mu.Unlock()
}

// SetReachable controls whether connection attempts complete. An
// unreachable radio keeps advertising but never answers a connect.
func (r *Radio) SetReachable(reachable bool) {
	r.mu.Lock()
	r.reachable = reachable
	r.mu.Unlock()
}

// SetMTU sets the ATT MTU reported to centrals.
func (r *Radio) SetMTU(mtu int) {
	r.mu.Lock()
	r.mtu = mtu
	r.mu.Unlock()
}

// SetWriteDelay delays every write response by d.
func (r *Radio) SetWriteDelay(d time.Duration) {
	r.mu.Lock()
	r.writeDelay = d
	r.mu.Unlock()
}

// Advertising reports whether the radio is broadcasting.
func (r *Radio) Advertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

func (r *Radio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enableErr
}

func (r *Radio) StartAdvertising(name string, serviceUUIDs []string) error {
	r.mu.Lock()
	if r.advertising {
		r.mu.Unlock()
		return fmt.Errorf("bletest: %s already advertising", r.address)
	}
	r.advertising = true
	r.advSeq = nextSeq()
	r.advName = name
	r.advUUIDs = append([]string(nil), serviceUUIDs...)
	uuids := r.advUUIDs
	r.mu.Unlock()

	r.medium.broadcast(ble.Device{Name: name, Address: r.address, RSSI: -50}, uuids)
	return nil
}

func (r *Radio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertising = false
	return nil
}

func (r *Radio) AddWriteCharacteristic(serviceUUID, charUUID string, handle peripheral.WriteHandler) (func() error, error) {
	key := serviceUUID + "/" + charUUID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chars == nil {
		r.chars = make(map[string]peripheral.WriteHandler)
	}
	if _, ok := r.chars[key]; ok {
		return nil, fmt.Errorf("bletest: characteristic %s already registered", charUUID)
	}
	r.chars[key] = handle
	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.chars, key)
		return nil
	}, nil
}

func (r *Radio) SetConnectHandler(handler func(client string, connected bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = handler
}

func (r *Radio) advertises(serviceUUID string) (name string, seq uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.advertising {
		return "", 0, false
	}
	for _, u := range r.advUUIDs {
		if u == serviceUUID {
			return r.advName, r.advSeq, true
		}
	}
	return "", 0, false
}

func (r *Radio) notifyConnect(client string, connected bool) {
	r.mu.Lock()
	h := r.onConnect
	r.mu.Unlock()
	if h != nil {
		h(client, connected)
	}
}

// Central is a simulated central adapter. It implements ble.Adapter.
type Central struct {
	medium  *Medium
	address string

	mu        sync.Mutex
	enableErr error
	scanErr   error
	connects  int
}

var _ ble.Adapter = (*Central)(nil)

// SetEnableError makes Enable fail with err.
func (c *Central) SetEnableError(err error) {
	c.mu.Lock()
	c.enableErr = err
	c.mu.Unlock()
}

// SetScanError makes Scan fail with err.
func (c *Central) SetScanError(err error) {
	c.mu.Lock()
	c.scanErr = err
	c.mu.Unlock()
}

// ConnectAttempts returns how many times Connect was called.
func (c *Central) ConnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Central) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enableErr != nil {
		return fmt.Errorf("%w: %v", ble.ErrAdapter, c.enableErr)
	}
	return nil
}

// Scan listens for the whole window and reports every advertiser observed
// during it, in first-observed order, including ones that stopped before
// the window closed.
func (c *Central) Scan(ctx context.Context, serviceUUID string) ([]ble.Device, error) {
	c.mu.Lock()
	scanErr := c.scanErr
	c.mu.Unlock()
	if scanErr != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrAdapter, scanErr)
	}
	w := c.medium.openScan(serviceUUID)
	defer c.medium.closeScan(w)
	<-ctx.Done()
	return w.result(), nil
}

func (c *Central) Connect(ctx context.Context, address string) (ble.Connection, error) {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()

	r := c.medium.radio(address)
	if r == nil {
		return nil, fmt.Errorf("%w: no device at %s", ble.ErrTransportRejected, address)
	}

	r.mu.Lock()
	reachable := r.reachable
	r.mu.Unlock()
	if !reachable {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", ble.ErrConnectTimeout, ctx.Err())
	}

	c.medium.linkOpened()
	r.notifyConnect(c.address, true)
	return &link{central: c, radio: r}, nil
}

type link struct {
	central *Central
	radio   *Radio

	mu     sync.Mutex
	closed bool
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *link) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	if l.isClosed() {
		return nil, fmt.Errorf("%w: link closed", ble.ErrTransport)
	}
	key := serviceUUID + "/" + charUUID
	l.radio.mu.Lock()
	_, ok := l.radio.chars[key]
	l.radio.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not in service table", ble.ErrCharacteristicNotFound, charUUID)
	}
	return &characteristic{link: l, key: key}, nil
}

func (l *link) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.central.medium.linkClosed()
	l.radio.notifyConnect(l.central.address, false)
	return nil
}

type characteristic struct {
	link *link
	key  string
}

func (c *characteristic) WriteWithResponse(data []byte) error {
	if c.link.isClosed() {
		return fmt.Errorf("%w: link closed", ble.ErrTransport)
	}
	r := c.link.radio
	r.mu.Lock()
	handle, ok := r.chars[c.key]
	delay := r.writeDelay
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: characteristic removed", ble.ErrTransport)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	value := append([]byte(nil), data...)
	if err := handle(peripheral.WriteRequest{Client: c.link.central.address, Value: value}); err != nil {
		return fmt.Errorf("%w: %v", ble.ErrWriteRejected, err)
	}
	return nil
}

func (c *characteristic) MaxWriteLength() int {
	r := c.link.radio
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mtu <= 3 {
		return ble.DefaultWriteLength
	}
	return r.mtu - 3
}
