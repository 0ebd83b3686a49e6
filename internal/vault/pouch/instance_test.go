package pouch

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

func TestInstancePouchReservationBookkeeping(t *testing.T) {
	p := NewInstancePouch()

	if p.IsIPReserved("net-1", "172.21.0.2") {
		t.Fatal("expected no reservation before ReserveIP")
	}
	p.ReserveIP("net-1", "172.21.0.2")
	if !p.IsIPReserved("net-1", "172.21.0.2") {
		t.Fatal("expected reservation after ReserveIP")
	}
	p.ClearIP("net-1", "172.21.0.2")
	if p.IsIPReserved("net-1", "172.21.0.2") {
		t.Fatal("expected reservation cleared")
	}

	if p.IsProviderPortReserved(9000) {
		t.Fatal("expected no provider port reserved")
	}
	p.ReserveProviderPort("auth", 9000)
	if !p.IsProviderPortReserved(9000) {
		t.Fatal("expected provider port reserved")
	}
	p.ClearProviderPort("auth")
	if p.IsProviderPortReserved(9000) {
		t.Fatal("expected provider port released")
	}
}

func TestInstancePouchSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/var/lib/flecs"

	id := core.NewInstanceID()
	cfg := core.NewInstanceConfig()
	cfg.PortMapping[manifest.ProtoTCP] = []core.PortMapping{
		{Kind: core.PortMappingSingle, Host: 8080, Container: 80},
	}
	cfg.Networks["net-1"] = "172.21.0.3"
	cfg.UsbDevices["1-1"] = core.UsbDevice{Port: "1-1", BusNum: 1, DevNum: 2}
	cfg.AuthProvider = &core.AuthProviderConfig{Port: 9000}

	inst := &core.Instance{
		ID:           id,
		Name:         "web",
		AppKey:       manifest.AppKey{Name: "io.test.app", Version: "1.0.0"},
		DeploymentID: "dep-1",
		Variant:      core.VariantDocker,
		Status:       core.StatusRunning,
		Config:       cfg,
		Dependencies: map[string]core.ProviderReference{
			"auth": {Kind: core.ProviderKindBuiltin},
		},
	}

	saved := NewInstancePouch()
	saved.Put(inst)
	if err := saved.Save(fs, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewInstancePouch()
	if err := loaded.Load(fs, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := loaded.Get(id)
	if !ok {
		t.Fatalf("expected instance %s to be loaded", id)
	}
	if got.Name != "web" || got.AppKey.Name != "io.test.app" || got.Status != core.StatusRunning {
		t.Fatalf("unexpected loaded instance: %+v", got)
	}
	if got.Config == nil || got.Config.Networks["net-1"] != "172.21.0.3" {
		t.Fatalf("expected network assignment to round trip, got %+v", got.Config)
	}
	if len(got.Config.PortMapping[manifest.ProtoTCP]) != 1 || got.Config.PortMapping[manifest.ProtoTCP][0].Host != 8080 {
		t.Fatalf("expected port mapping to round trip, got %+v", got.Config.PortMapping)
	}
	if got.Config.AuthProvider == nil || got.Config.AuthProvider.Port != 9000 {
		t.Fatalf("expected auth provider config to round trip, got %+v", got.Config.AuthProvider)
	}

	if !loaded.IsIPReserved("net-1", "172.21.0.3") {
		t.Fatal("expected Load to re-reserve the instance's assigned IP")
	}
	if !loaded.IsProviderPortReserved(9000) {
		t.Fatal("expected Load to re-reserve the auth provider port")
	}
}

func TestInstancePouchLoadTreatsMissingDirAsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewInstancePouch()
	if err := p.Load(fs, "/nonexistent"); err != nil {
		t.Fatalf("Load on a missing directory should be a no-op, got %v", err)
	}
	if len(p.List()) != 0 {
		t.Fatalf("expected no instances, got %d", len(p.List()))
	}
}

func TestInstancePouchDeleteAndList(t *testing.T) {
	p := NewInstancePouch()
	id := core.NewInstanceID()
	p.Put(&core.Instance{ID: id, Name: "t", Variant: core.VariantDocker, Config: core.NewInstanceConfig()})

	if len(p.List()) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(p.List()))
	}
	p.Delete(id)
	if _, ok := p.Get(id); ok {
		t.Fatal("expected instance to be deleted")
	}
	if len(p.List()) != 0 {
		t.Fatalf("expected 0 instances after delete, got %d", len(p.List()))
	}
}
