package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/bleprov/internal/ble"
	"github.com/chaz8081/bleprov/internal/peripheral"
)

// Config holds all application configuration.
type Config struct {
	ServiceUUID        string           `yaml:"service_uuid"`
	CharacteristicUUID string           `yaml:"characteristic_uuid"`
	LogLevel           string           `yaml:"log_level"`
	Central            CentralConfig    `yaml:"central"`
	Peripheral         PeripheralConfig `yaml:"peripheral"`
}

// CentralConfig holds settings for the provisioning (writing) side.
type CentralConfig struct {
	ScanTimeout    time.Duration     `yaml:"scan_timeout"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	WriteTimeout   time.Duration     `yaml:"write_timeout"`
	Payload        map[string]string `yaml:"payload"`
}

// PeripheralConfig holds settings for the advertising (receiving) side.
type PeripheralConfig struct {
	Name                           string `yaml:"name"`
	Validation                     string `yaml:"validation"` // "utf8" or "json"
	PauseAdvertisingWhileConnected bool   `yaml:"pause_advertising_while_connected"`
	PairingAgent                   bool   `yaml:"pairing_agent"`
	AdapterID                      string `yaml:"adapter_id"` // BlueZ adapter, e.g. "hci0"
}

const configHeader = `# bleprov configuration
# Both roles must agree on service_uuid and characteristic_uuid.
`

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleprov")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ServiceUUID:        ble.DefaultServiceUUID,
		CharacteristicUUID: ble.DefaultCharacteristicUUID,
		LogLevel:           "info",
		Central: CentralConfig{
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   10 * time.Second,
			Payload:        map[string]string{"someValue": "test"},
		},
		Peripheral: PeripheralConfig{
			Name:       "MyBLEDevice",
			Validation: peripheral.ValidateUTF8,
			AdapterID:  "hci0",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. UUIDs are normalised to lowercase canonical form.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	// A payload in the file replaces the default record rather than merging.
	cfg.Central.Payload = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Central.Payload == nil {
		cfg.Central.Payload = Default().Central.Payload
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	svc, err := NormalizeUUID(c.ServiceUUID)
	if err != nil {
		return fmt.Errorf("service_uuid: %w", err)
	}
	char, err := NormalizeUUID(c.CharacteristicUUID)
	if err != nil {
		return fmt.Errorf("characteristic_uuid: %w", err)
	}
	c.ServiceUUID, c.CharacteristicUUID = svc, char
	return nil
}

// NormalizeUUID returns s in lowercase canonical 128-bit form. A 16-bit
// short form like "180f" expands against the Bluetooth base UUID.
func NormalizeUUID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		s = "0000" + s + "-0000-1000-8000-00805f9b34fb"
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.ServiceUUID); err != nil {
		return fmt.Errorf("service_uuid must be a UUID, got %q", c.ServiceUUID)
	}
	if _, err := uuid.Parse(c.CharacteristicUUID); err != nil {
		return fmt.Errorf("characteristic_uuid must be a UUID, got %q", c.CharacteristicUUID)
	}
	if strings.EqualFold(c.ServiceUUID, c.CharacteristicUUID) {
		return errors.New("characteristic_uuid must differ from service_uuid")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Central.ScanTimeout <= 0 {
		return fmt.Errorf("central.scan_timeout must be > 0")
	}
	if c.Central.ConnectTimeout <= 0 {
		return fmt.Errorf("central.connect_timeout must be > 0")
	}
	if c.Central.WriteTimeout <= 0 {
		return fmt.Errorf("central.write_timeout must be > 0")
	}

	if c.Peripheral.Name == "" {
		return fmt.Errorf("peripheral.name must not be empty")
	}
	if _, err := peripheral.ValidatorFor(c.Peripheral.Validation); err != nil {
		return fmt.Errorf("peripheral.validation: %w", err)
	}
	if c.Peripheral.AdapterID == "" {
		return fmt.Errorf("peripheral.adapter_id must not be empty")
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
