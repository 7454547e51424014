package core

import (
	"fmt"
	"strings"
)

type ProtocolsConfig struct {
	// Enabled restricts the dispatchable protocols by name. Empty enables all.
	Enabled []string `koanf:"enabled" mapstructure:"enabled"`
}

type HardeningConfig struct {
	AllowContextReuse   bool `koanf:"allow_context_reuse" mapstructure:"allow_context_reuse"`
	AllowNestedInitiate bool `koanf:"allow_nested_initiate" mapstructure:"allow_nested_initiate"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Protocols   ProtocolsConfig `koanf:"protocols" mapstructure:"protocols"`
	Hardening   HardeningConfig `koanf:"hardening" mapstructure:"hardening"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "flashroute",
		Protocols:   ProtocolsConfig{},
		Hardening:   HardeningConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	for _, name := range c.Protocols.Enabled {
		id, err := ParseProtocol(name)
		if err != nil {
			return fmt.Errorf("core: protocols.enabled: %w", err)
		}
		if !id.Known() {
			return fmt.Errorf("core: protocols.enabled: unknown protocol id %d", uint8(id))
		}
	}
	return nil
}

func (c Config) ProtocolEnabled(id ProtocolID) bool {
	if !id.Known() {
		return false
	}
	if len(c.Protocols.Enabled) == 0 {
		return true
	}
	for _, name := range c.Protocols.Enabled {
		parsed, err := ParseProtocol(name)
		if err == nil && parsed == id {
			return true
		}
	}
	return false
}
