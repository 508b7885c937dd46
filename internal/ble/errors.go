package ble

import "errors"

// Failure taxonomy shared by both roles. Stage code wraps these so callers
// can classify with errors.Is.
var (
	ErrDiscoveryEmpty         = errors.New("no device advertising the target service")
	ErrAdapter                = errors.New("bluetooth adapter error")
	ErrConnectTimeout         = errors.New("connect timed out")
	ErrTransportRejected      = errors.New("connection rejected by transport")
	ErrSessionActive          = errors.New("a connection session is already open")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrWriteRejected          = errors.New("write rejected by peer")
	ErrWriteTimeout           = errors.New("write timed out")
	ErrTransport              = errors.New("transport error")
	ErrPayloadEncode          = errors.New("payload encode error")
	ErrPayloadDecode          = errors.New("payload decode error")
)

var reasons = []struct {
	err  error
	name string
}{
	{ErrDiscoveryEmpty, "DiscoveryEmpty"},
	{ErrAdapter, "AdapterError"},
	{ErrConnectTimeout, "ConnectTimeout"},
	{ErrTransportRejected, "TransportRejected"},
	{ErrSessionActive, "SessionActive"},
	{ErrCharacteristicNotFound, "CharacteristicNotFound"},
	{ErrWriteRejected, "WriteRejected"},
	{ErrWriteTimeout, "WriteTimeout"},
	{ErrTransport, "TransportError"},
	{ErrPayloadEncode, "PayloadEncodeError"},
	{ErrPayloadDecode, "PayloadDecodeError"},
}

// Reason returns the taxonomy name of err, "" for nil and "Internal" for
// errors outside the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "Internal"
}
