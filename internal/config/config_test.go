package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/etc/flecs/flecsd.toml"
	if err := afero.WriteFile(fs, path, []byte(`
version = 1
base_path = "/custom/flecs"

[network]
default_network_name = "custom-net"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BasePath != "/custom/flecs" {
		t.Fatalf("expected configured base_path to win, got %q", cfg.BasePath)
	}
	if cfg.Network.DefaultNetworkName != "custom-net" {
		t.Fatalf("expected configured network name to win, got %q", cfg.Network.DefaultNetworkName)
	}
	if cfg.Network.DefaultGateway != "172.21.0.1" {
		t.Fatalf("expected unset network gateway to fall back to default, got %q", cfg.Network.DefaultGateway)
	}
	if cfg.Floxy.BasePath != "/var/lib/flecs/floxy" {
		t.Fatalf("expected unset floxy base_path to fall back to default, got %q", cfg.Floxy.BasePath)
	}
}

func TestLoadJSONByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/etc/flecs/flecsd.json"
	if err := afero.WriteFile(fs, path, []byte(`{"version":1,"base_path":"/json/flecs"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BasePath != "/json/flecs" {
		t.Fatalf("expected /json/flecs, got %q", cfg.BasePath)
	}
}

func TestMergeNeverOverridesAlreadyPopulatedFields(t *testing.T) {
	c := &FlecsConfig{BasePath: "/mine", Network: NetworkConfig{DefaultNetworkName: "mine-net"}}
	other := &FlecsConfig{BasePath: "/theirs", Network: NetworkConfig{DefaultNetworkName: "their-net", DefaultGateway: "10.0.0.1"}}

	c.Merge(other)

	if c.BasePath != "/mine" {
		t.Fatalf("expected /mine to survive the merge, got %q", c.BasePath)
	}
	if c.Network.DefaultNetworkName != "mine-net" {
		t.Fatalf("expected mine-net to survive the merge, got %q", c.Network.DefaultNetworkName)
	}
	if c.Network.DefaultGateway != "10.0.0.1" {
		t.Fatalf("expected the unset gateway to be filled in from other, got %q", c.Network.DefaultGateway)
	}
}

func TestSaveRoundTripsTOML(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/etc/flecs/flecsd.toml"
	cfg := Default()
	cfg.BasePath = "/round/trip"

	if err := Save(fs, path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("round-tripped config differs (-want +got):\n%s", diff)
	}
}
