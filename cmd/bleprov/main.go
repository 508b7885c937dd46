package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/bleprov/internal/config"
)

// CLI is the root command structure for bleprov.
type CLI struct {
	Config   string `short:"c" type:"path" help:"Path to config file (default: ~/.config/bleprov/config.yaml)"`
	LogLevel string `name:"log-level" help:"Override log_level from config (debug, info, warn, error)"`

	Central    CentralCmd    `cmd:"" help:"Scan for a provisioning peripheral and write the payload"`
	Peripheral PeripheralCmd `cmd:"" help:"Advertise the provisioning service and accept writes"`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write the default config file if none exists"`
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bleprov"),
		kong.Description("Provision a BLE peripheral by writing a payload to a GATT characteristic."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(os.Stderr, "bleprov:", ee.err)
		os.Exit(ee.code)
	}
	ctx.FatalIfErrorf(err)
}

// load resolves the config for a command and installs the logger.
func (c *CLI) load() (*config.Config, error) {
	cfg, source, err := loadConfig(c.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Debug("config loaded", "source", source)
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	return config.Default(), "defaults", nil
}

// InitConfigCmd writes the default config.
type InitConfigCmd struct{}

func (c *InitConfigCmd) Run(globals *CLI) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote default config to", path)
	return nil
}
