//go:build linux

package peripheral

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	agentIface        = "org.bluez.Agent1"
	agentManagerIface = "org.bluez.AgentManager1"
	agentPath         = dbus.ObjectPath("/org/bleprov/agent")
)

// noIOAgent is a NoInputNoOutput pairing agent: it accepts every request
// without user interaction, which is the only trust model the exchange
// supports.
type noIOAgent struct{}

func registerNoIOAgent(conn *dbus.Conn) (*noIOAgent, error) {
	agent := &noIOAgent{}
	if err := conn.Export(agent, agentPath, agentIface); err != nil {
		return nil, fmt.Errorf("export pairing agent: %w", err)
	}

	obj := conn.Object(bluezDest, "/org/bluez")
	if err := obj.Call(agentManagerIface+".RegisterAgent", 0, agentPath, "NoInputNoOutput").Err; err != nil {
		_ = conn.Export(nil, agentPath, agentIface)
		return nil, fmt.Errorf("register pairing agent: %w", err)
	}
	if err := obj.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		slog.Warn("[ADV] could not become default pairing agent", "error", err)
	}
	slog.Debug("[ADV] pairing agent registered", "capability", "NoInputNoOutput")
	return agent, nil
}

func (a *noIOAgent) unregister(conn *dbus.Conn) error {
	obj := conn.Object(bluezDest, "/org/bluez")
	err := obj.Call(agentManagerIface+".UnregisterAgent", 0, agentPath).Err
	_ = conn.Export(nil, agentPath, agentIface)
	return err
}

func (a *noIOAgent) Release() *dbus.Error { return nil }

func (a *noIOAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "0000", nil
}

func (a *noIOAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (a *noIOAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, nil
}

func (a *noIOAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (a *noIOAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	slog.Info("[ADV] auto-confirming pairing", "client", addressFromPath(device))
	return nil
}

func (a *noIOAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil
}

func (a *noIOAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *noIOAgent) Cancel() *dbus.Error { return nil }
