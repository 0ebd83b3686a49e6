// Package config loads and merges the daemon's TOML-or-JSON configuration
// file (spec §4.4/§4.5's network/floxy/instance defaults), grounded on
// original_source's lore::conf and the teacher's viper-backed flag binding.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// FloxyConfig is the reverse-proxy configurator's on-disk settings.
type FloxyConfig struct {
	BasePath   string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
	ConfigPath string `mapstructure:"config_path" toml:"config_path,omitempty" json:"config_path,omitempty"`
}

func (c *FloxyConfig) merge(other FloxyConfig) {
	trivialMergeString(&c.BasePath, other.BasePath)
	trivialMergeString(&c.ConfigPath, other.ConfigPath)
}

// InstanceConfig is the instance engine's on-disk settings.
type InstanceConfig struct {
	BasePath string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
}

func (c *InstanceConfig) merge(other InstanceConfig) { trivialMergeString(&c.BasePath, other.BasePath) }

// NetworkConfig is the default bridge network's on-disk settings (spec
// §4.5's default network: name "flecs", gateway 172.21.0.1, CIDR
// 172.21.0.0/16).
type NetworkConfig struct {
	DefaultCIDRSubnet string `mapstructure:"default_cidr_subnet" toml:"default_cidr_subnet,omitempty" json:"default_cidr_subnet,omitempty"`
	DefaultGateway    string `mapstructure:"default_gateway" toml:"default_gateway,omitempty" json:"default_gateway,omitempty"`
	DefaultNetworkKind string `mapstructure:"default_network_kind" toml:"default_network_kind,omitempty" json:"default_network_kind,omitempty"`
	DefaultNetworkName string `mapstructure:"default_network_name" toml:"default_network_name,omitempty" json:"default_network_name,omitempty"`
}

func (c *NetworkConfig) merge(other NetworkConfig) {
	trivialMergeString(&c.DefaultCIDRSubnet, other.DefaultCIDRSubnet)
	trivialMergeString(&c.DefaultGateway, other.DefaultGateway)
	trivialMergeString(&c.DefaultNetworkKind, other.DefaultNetworkKind)
	trivialMergeString(&c.DefaultNetworkName, other.DefaultNetworkName)
}

// AppConfig, DeploymentConfig, ManifestConfig, SecretConfig each hold just a
// base path (spec §6 layout roots), mirroring the original's one-field
// per-domain config sections.
type AppConfig struct {
	BasePath string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
}
type DeploymentConfig struct {
	BasePath string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
}
type ManifestConfig struct {
	BasePath string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
}
type SecretConfig struct {
	BasePath string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
}

func (c *AppConfig) merge(other AppConfig)             { trivialMergeString(&c.BasePath, other.BasePath) }
func (c *DeploymentConfig) merge(other DeploymentConfig) { trivialMergeString(&c.BasePath, other.BasePath) }
func (c *ManifestConfig) merge(other ManifestConfig)   { trivialMergeString(&c.BasePath, other.BasePath) }
func (c *SecretConfig) merge(other SecretConfig)       { trivialMergeString(&c.BasePath, other.BasePath) }

// FlecsConfig is the daemon's top-level configuration document.
type FlecsConfig struct {
	Version          int    `mapstructure:"version" toml:"version" json:"version"`
	TracingFilter    string `mapstructure:"tracing_filter" toml:"tracing_filter,omitempty" json:"tracing_filter,omitempty"`
	BasePath         string `mapstructure:"base_path" toml:"base_path,omitempty" json:"base_path,omitempty"`
	FlecsdSocketPath string `mapstructure:"flecsd_socket_path" toml:"flecsd_socket_path,omitempty" json:"flecsd_socket_path,omitempty"`

	Floxy      FloxyConfig      `mapstructure:"floxy" toml:"floxy,omitempty" json:"floxy,omitempty"`
	Instance   InstanceConfig   `mapstructure:"instance" toml:"instance,omitempty" json:"instance,omitempty"`
	Network    NetworkConfig    `mapstructure:"network" toml:"network,omitempty" json:"network,omitempty"`
	App        AppConfig        `mapstructure:"app" toml:"app,omitempty" json:"app,omitempty"`
	Deployment DeploymentConfig `mapstructure:"deployment" toml:"deployment,omitempty" json:"deployment,omitempty"`
	Manifest   ManifestConfig   `mapstructure:"manifest" toml:"manifest,omitempty" json:"manifest,omitempty"`
	Secret     SecretConfig     `mapstructure:"secret" toml:"secret,omitempty" json:"secret,omitempty"`
}

// Default returns the daemon's built-in configuration (spec §4.4/§4.5's
// documented defaults), used as the last, lowest-priority merge source.
func Default() *FlecsConfig {
	return &FlecsConfig{
		Version:          1,
		TracingFilter:    "info",
		BasePath:         "/var/lib/flecs",
		FlecsdSocketPath: "/run/flecs/flecsd.sock",
		Floxy: FloxyConfig{
			BasePath:   "/var/lib/flecs/floxy",
			ConfigPath: "/etc/nginx/flecs",
		},
		Instance:   InstanceConfig{BasePath: "/var/lib/flecs/instances"},
		Network:    NetworkConfig{DefaultCIDRSubnet: "172.21.0.0/16", DefaultGateway: "172.21.0.1", DefaultNetworkKind: "bridge", DefaultNetworkName: "flecs"},
		App:        AppConfig{BasePath: "/var/lib/flecs/apps"},
		Deployment: DeploymentConfig{BasePath: "/var/lib/flecs/deployments"},
		Manifest:   ManifestConfig{BasePath: "/var/lib/flecs/manifests"},
		Secret:     SecretConfig{BasePath: "/var/lib/flecs/secrets"},
	}
}

// trivialMergeString fills dst from src only if dst is still empty (spec
// §4.4 "a higher-priority source's populated field is never overridden by a
// later, lower-priority merge").
func trivialMergeString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

// Merge folds other into c, keeping every field c already has set and
// filling in only the gaps from other (original's Mergeable/TriviallyMergeable
// contract).
func (c *FlecsConfig) Merge(other *FlecsConfig) {
	if other == nil {
		return
	}
	trivialMergeString(&c.TracingFilter, other.TracingFilter)
	trivialMergeString(&c.BasePath, other.BasePath)
	trivialMergeString(&c.FlecsdSocketPath, other.FlecsdSocketPath)
	c.Floxy.merge(other.Floxy)
	c.Instance.merge(other.Instance)
	c.Network.merge(other.Network)
	c.App.merge(other.App)
	c.Deployment.merge(other.Deployment)
	c.Manifest.merge(other.Manifest)
	c.Secret.merge(other.Secret)
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

// Load reads path (TOML unless its extension is .json, per the original's
// "any extension but .json is TOML") into a FlecsConfig, then merges it over
// Default() so every unset field still has a sane value.
func Load(fs afero.Fs, path string) (*FlecsConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType(formatFromExt(path))
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &FlecsConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	cfg.Merge(Default())
	return cfg, nil
}

// Save writes c to path, encoding as TOML or JSON by extension (matching
// Load's convention).
func Save(fs afero.Fs, path string, c *FlecsConfig) error {
	var data []byte
	var err error
	if formatFromExt(path) == "json" {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
