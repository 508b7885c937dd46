package peripheral

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Advertiser broadcasts the provisioning service so centrals can find it.
// Every successful Start must be paired with Stop.
type Advertiser struct {
	radio Radio

	mu       sync.Mutex
	active   bool
	paused   bool
	name     string
	services []string
}

// NewAdvertiser creates an advertiser on radio.
func NewAdvertiser(radio Radio) *Advertiser {
	return &Advertiser{radio: radio}
}

// Start begins advertising name and services.
func (a *Advertiser) Start(name string, services []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return errors.New("peripheral: advertising already active")
	}
	if len(services) == 0 {
		return errors.New("peripheral: no service UUIDs to advertise")
	}
	if err := a.radio.StartAdvertising(name, services); err != nil {
		return fmt.Errorf("peripheral: start advertising: %w", err)
	}
	a.active = true
	a.paused = false
	a.name = name
	a.services = append([]string(nil), services...)
	slog.Info("[ADV] advertising started", "name", name, "services", services)
	return nil
}

// Stop ends advertising. Stopping an inactive advertiser is a no-op.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}
	a.active = false
	if a.paused {
		a.paused = false
		return nil
	}
	if err := a.radio.StopAdvertising(); err != nil {
		return fmt.Errorf("peripheral: stop advertising: %w", err)
	}
	slog.Info("[ADV] advertising stopped", "name", a.name)
	return nil
}

// Pause temporarily stops the broadcast while keeping the advertiser
// started, so Resume can restart it with the same data.
func (a *Advertiser) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active || a.paused {
		return nil
	}
	if err := a.radio.StopAdvertising(); err != nil {
		return fmt.Errorf("peripheral: pause advertising: %w", err)
	}
	a.paused = true
	slog.Debug("[ADV] advertising paused")
	return nil
}

// Resume restarts a paused broadcast.
func (a *Advertiser) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active || !a.paused {
		return nil
	}
	if err := a.radio.StartAdvertising(a.name, a.services); err != nil {
		return fmt.Errorf("peripheral: resume advertising: %w", err)
	}
	a.paused = false
	slog.Debug("[ADV] advertising resumed")
	return nil
}

// Broadcasting reports whether the radio is currently advertising.
func (a *Advertiser) Broadcasting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active && !a.paused
}
