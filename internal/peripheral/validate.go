package peripheral

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/chaz8081/bleprov/internal/ble"
)

// Validator decodes a raw write. It returns the decoded text on accept and
// an error wrapping ble.ErrPayloadDecode on reject.
type Validator func(payload []byte) (string, error)

// Validation policy names.
const (
	ValidateUTF8 = "utf8"
	ValidateJSON = "json"
)

// UTF8 accepts any payload that is valid UTF-8 text.
func UTF8(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("peripheral: payload is not valid UTF-8: %w", ble.ErrPayloadDecode)
	}
	return string(payload), nil
}

// JSONObject accepts UTF-8 text that parses as a JSON object.
func JSONObject(payload []byte) (string, error) {
	text, err := UTF8(payload)
	if err != nil {
		return "", err
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", fmt.Errorf("peripheral: payload is not a JSON object: %w: %v", ble.ErrPayloadDecode, err)
	}
	if obj == nil {
		return "", fmt.Errorf("peripheral: payload is JSON null: %w", ble.ErrPayloadDecode)
	}
	return text, nil
}

// ValidatorFor returns the validator for a policy name.
func ValidatorFor(policy string) (Validator, error) {
	switch policy {
	case "", ValidateUTF8:
		return UTF8, nil
	case ValidateJSON:
		return JSONObject, nil
	default:
		return nil, fmt.Errorf("peripheral: unknown validation policy %q", policy)
	}
}
