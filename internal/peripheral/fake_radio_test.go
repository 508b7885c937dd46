package peripheral

import (
	"errors"
	"sync"
	"testing"
)

// fakeRadio records advertising calls and lets tests drive writes and
// connection events directly.
type fakeRadio struct {
	mu          sync.Mutex
	advertising bool
	advStarts   int
	advStops    int
	lastName    string
	lastUUIDs   []string
	startErr    error
	addErr      error
	handler     WriteHandler
	removed     bool
	onConnect   func(string, bool)
}

func (r *fakeRadio) Enable() error { return nil }

func (r *fakeRadio) StartAdvertising(name string, uuids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.advertising {
		return errors.New("fake: already advertising")
	}
	r.advertising = true
	r.advStarts++
	r.lastName = name
	r.lastUUIDs = uuids
	return nil
}

func (r *fakeRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertising = false
	r.advStops++
	return nil
}

func (r *fakeRadio) AddWriteCharacteristic(_, _ string, handle WriteHandler) (func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return nil, r.addErr
	}
	r.handler = handle
	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removed = true
		r.handler = nil
		return nil
	}, nil
}

func (r *fakeRadio) SetConnectHandler(h func(string, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = h
}

func (r *fakeRadio) write(t *testing.T, value []byte) error {
	t.Helper()
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		t.Fatal("no characteristic registered")
	}
	return h(WriteRequest{Client: "11:22:33:44:55:66", Value: value})
}

func (r *fakeRadio) connect(client string, connected bool) {
	r.mu.Lock()
	h := r.onConnect
	r.mu.Unlock()
	if h != nil {
		h(client, connected)
	}
}

func (r *fakeRadio) isAdvertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

func TestFakeRadioImplementsInterface(t *testing.T) {
	var _ Radio = (*fakeRadio)(nil)
}
