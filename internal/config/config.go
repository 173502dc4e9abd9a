/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config captures the tunables required to start the consent server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Policy   PolicyConfig   `yaml:"policy"`
	Registry RegistryConfig `yaml:"registry"`

	Logger *log.Logger `yaml:"-"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL prefixes the agent links handed out at issuance.
	// Empty means links are relative to the request host.
	PublicURL         string        `yaml:"public_url,omitempty"`
	TLSCertFile       string        `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile        string        `yaml:"tls_key_file,omitempty"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type PolicyConfig struct {
	MaxTTL     time.Duration `yaml:"max_ttl"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	QRSize     int           `yaml:"qr_size"` // pixels per side
}

type RegistryConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path,omitempty"`
	// SweepInterval enables periodic removal of expired consents. Zero disables it.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
		},
		Policy: PolicyConfig{
			MaxTTL:     24 * time.Hour,
			DefaultTTL: 24 * time.Hour,
			QRSize:     256,
		},
		Registry: RegistryConfig{
			Driver: DriverMemory,
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if len(data) == 0 {
		return Config{}, errors.New("config file is empty")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Policy.MaxTTL <= 0 {
		return fmt.Errorf("policy.max_ttl must be positive, got %v", c.Policy.MaxTTL)
	}
	if c.Policy.DefaultTTL <= 0 || c.Policy.DefaultTTL > c.Policy.MaxTTL {
		return fmt.Errorf("policy.default_ttl %v must be in (0, %v]", c.Policy.DefaultTTL, c.Policy.MaxTTL)
	}
	if c.Policy.QRSize <= 0 {
		return fmt.Errorf("policy.qr_size must be positive, got %d", c.Policy.QRSize)
	}
	switch c.Registry.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Registry.Path == "" {
			return errors.New("registry.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown registry.driver %q", c.Registry.Driver)
	}
	if c.Registry.SweepInterval < 0 {
		return fmt.Errorf("registry.sweep_interval must not be negative, got %v", c.Registry.SweepInterval)
	}
	return nil
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c Config) TLSEnabled() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}
