// Package payload encodes the provisioning record into the bytes written
// over GATT and fingerprints them so both roles can log a matching digest.
package payload

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/bleprov/internal/ble"
)

// Record is the structured value sent to the peripheral.
type Record map[string]string

// Encode serializes r as a compact JSON object in UTF-8. Keys are emitted
// in sorted order so the same record always yields the same bytes.
func Encode(r Record) ([]byte, error) {
	if len(r) == 0 {
		return nil, fmt.Errorf("payload: record is empty: %w", ble.ErrPayloadEncode)
	}
	for k, v := range r {
		if k == "" {
			return nil, fmt.Errorf("payload: empty key: %w", ble.ErrPayloadEncode)
		}
		// encoding/json would silently substitute U+FFFD.
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return nil, fmt.Errorf("payload: field %q is not valid UTF-8: %w", k, ble.ErrPayloadEncode)
		}
	}

	data, err := json.Marshal(map[string]string(r))
	if err != nil {
		return nil, fmt.Errorf("payload: marshal: %w: %v", ble.ErrPayloadEncode, err)
	}
	return data, nil
}

// Fingerprint returns a short hex BLAKE2b digest of data.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
