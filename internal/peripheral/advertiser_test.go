package peripheral

import (
	"errors"
	"testing"
)

func TestAdvertiserStartStop(t *testing.T) {
	radio := &fakeRadio{}
	adv := NewAdvertiser(radio)

	if err := adv.Start("MyBLEDevice", []string{"12345678-1234-5678-1234-56789abcdef0"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !radio.isAdvertising() || !adv.Broadcasting() {
		t.Fatal("radio should be advertising after Start")
	}
	if radio.lastName != "MyBLEDevice" {
		t.Errorf("advertised name = %q, want MyBLEDevice", radio.lastName)
	}
	if err := adv.Start("again", []string{"x"}); err == nil {
		t.Error("second Start() should fail while active")
	}

	if err := adv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if radio.isAdvertising() {
		t.Error("radio still advertising after Stop")
	}
	if err := adv.Stop(); err != nil {
		t.Errorf("Stop() on inactive advertiser error = %v", err)
	}
	if radio.advStops != 1 {
		t.Errorf("StopAdvertising calls = %d, want 1", radio.advStops)
	}
}

func TestAdvertiserRequiresServices(t *testing.T) {
	adv := NewAdvertiser(&fakeRadio{})
	if err := adv.Start("name", nil); err == nil {
		t.Fatal("Start() with no services should fail")
	}
}

func TestAdvertiserStartError(t *testing.T) {
	radio := &fakeRadio{startErr: errors.New("adapter off")}
	adv := NewAdvertiser(radio)
	if err := adv.Start("name", []string{"x"}); err == nil {
		t.Fatal("Start() should propagate radio error")
	}
	if adv.Broadcasting() {
		t.Error("Broadcasting() should be false after failed Start")
	}
}

func TestAdvertiserPauseResume(t *testing.T) {
	radio := &fakeRadio{}
	adv := NewAdvertiser(radio)
	if err := adv.Start("MyBLEDevice", []string{"svc"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := adv.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if radio.isAdvertising() || adv.Broadcasting() {
		t.Error("should not broadcast while paused")
	}
	if err := adv.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !radio.isAdvertising() {
		t.Error("should broadcast after Resume")
	}
	if radio.advStarts != 2 {
		t.Errorf("StartAdvertising calls = %d, want 2", radio.advStarts)
	}

	// Stop while paused must not call the radio again.
	_ = adv.Pause()
	stops := radio.advStops
	if err := adv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if radio.advStops != stops {
		t.Error("Stop() while paused should not stop the radio twice")
	}
}
