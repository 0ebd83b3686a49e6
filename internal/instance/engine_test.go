package instance

import (
	"context"
	"io"
	"testing"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/jeweler"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
	"github.com/scoutflo/flecsd-core/internal/manifest"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// fakeAdapter is a minimal in-memory deployment.Adapter double for engine
// tests; it only implements the operations the engine actually calls.
type fakeAdapter struct {
	id        core.DeploymentID
	running   map[core.InstanceID]bool
	failStart bool
}

func newFakeAdapter(id core.DeploymentID) *fakeAdapter {
	return &fakeAdapter{id: id, running: map[core.InstanceID]bool{}}
}

func (f *fakeAdapter) ID() core.DeploymentID      { return f.id }
func (f *fakeAdapter) Kind() core.DeploymentKind  { return core.DeploymentDocker }

func (f *fakeAdapter) InstallApp(ctx context.Context, image string, token *string) (deployment.AppID, error) {
	return deployment.AppID(image), nil
}
func (f *fakeAdapter) UninstallApp(ctx context.Context, id deployment.AppID) error { return nil }
func (f *fakeAdapter) AppInfo(ctx context.Context, id deployment.AppID) (*deployment.AppInfo, error) {
	return &deployment.AppInfo{ID: id}, nil
}
func (f *fakeAdapter) CopyFromAppImage(ctx context.Context, image, src, dst string, isDstFile bool) error {
	return nil
}

func (f *fakeAdapter) CreateVolume(ctx context.Context, name string) (deployment.VolumeID, error) {
	return deployment.VolumeID(name), nil
}
func (f *fakeAdapter) DeleteVolume(ctx context.Context, id deployment.VolumeID) error { return nil }
func (f *fakeAdapter) ImportVolume(ctx context.Context, archive io.Reader, name, helperImage string) error {
	return nil
}
func (f *fakeAdapter) ExportVolume(ctx context.Context, id deployment.VolumeID, path, helperImage string) error {
	return nil
}
func (f *fakeAdapter) ListVolumesFor(ctx context.Context, instance core.InstanceID) ([]deployment.VolumeID, error) {
	return nil, nil
}
func (f *fakeAdapter) ExportAllVolumesFor(ctx context.Context, instance core.InstanceID, path, helperImage string) error {
	return nil
}

func (f *fakeAdapter) CreateNetwork(ctx context.Context, cfg core.Network) (core.NetworkID, error) {
	return cfg.ID, nil
}
func (f *fakeAdapter) DefaultNetwork(ctx context.Context) (*core.Network, error) { return nil, nil }
func (f *fakeAdapter) DeleteNetwork(ctx context.Context, id core.NetworkID) error { return nil }
func (f *fakeAdapter) InspectNetwork(ctx context.Context, id core.NetworkID) (*core.Network, error) {
	return nil, nil
}
func (f *fakeAdapter) ListNetworks(ctx context.Context) ([]core.Network, error) { return nil, nil }
func (f *fakeAdapter) ConnectNetwork(ctx context.Context, id core.NetworkID, ip string, instance core.InstanceID) error {
	return nil
}
func (f *fakeAdapter) DisconnectNetwork(ctx context.Context, id core.NetworkID, instance core.InstanceID) error {
	return nil
}

func (f *fakeAdapter) StartInstance(ctx context.Context, cfg deployment.StartConfig, existing *core.InstanceID, files []deployment.ConfigFile) (core.InstanceID, error) {
	if f.failStart {
		return 0, ferr.RuntimeBackendf(nil, "fake start failure")
	}
	id := *existing
	f.running[id] = true
	return id, nil
}
func (f *fakeAdapter) StopInstance(ctx context.Context, id core.InstanceID, files []deployment.ConfigFile) error {
	f.running[id] = false
	return nil
}
func (f *fakeAdapter) DeleteInstance(ctx context.Context, id core.InstanceID) (bool, error) {
	_, existed := f.running[id]
	delete(f.running, id)
	return existed, nil
}
func (f *fakeAdapter) InstanceStatus(ctx context.Context, id core.InstanceID) (core.Status, error) {
	if f.running[id] {
		return core.StatusRunning, nil
	}
	return core.StatusNotCreated, nil
}
func (f *fakeAdapter) InstanceLogs(ctx context.Context, id core.InstanceID) (*deployment.Logs, error) {
	return &deployment.Logs{}, nil
}
func (f *fakeAdapter) CopyToInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error {
	return nil
}
func (f *fakeAdapter) CopyFromInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error {
	return nil
}

func setup(t *testing.T) (*Engine, *pouch.InstancePouch, *pouch.AppPouch, *pouch.ProviderPouch, *fakeAdapter, core.InstanceID) {
	t.Helper()
	reg := jeweler.NewRegistry()
	adapter := newFakeAdapter("dep-1")
	reg.Register(adapter)

	instances := pouch.NewInstancePouch()
	apps := pouch.NewAppPouch()
	providers := pouch.NewProviderPouch()

	key := manifest.AppKey{Name: "io.test.app", Version: "1.0.0"}
	apps.Put(&core.App{
		Key: key,
		Manifest: &manifest.AppManifest{
			Key: key, Kind: manifest.KindSingle,
			Single: &manifest.Single{Image: "registry/io.test.app"},
		},
	})

	id := core.NewInstanceID()
	instances.Put(&core.Instance{
		ID: id, Name: "t1", AppKey: key, DeploymentID: "dep-1",
		Variant: core.VariantDocker, Status: core.StatusCreated, Config: core.NewInstanceConfig(),
	})

	engine := NewEngine(reg, "/flecs/config")
	return engine, instances, apps, providers, adapter, id
}

func TestStartTransitionsToRunning(t *testing.T) {
	engine, instances, apps, _, _, id := setup(t)
	if err := engine.Start(context.Background(), instances, apps, id); err != nil {
		t.Fatal(err)
	}
	inst, _ := instances.Get(id)
	if inst.Status != core.StatusRunning {
		t.Fatalf("expected Running, got %s", inst.Status)
	}
}

func TestStopTransitionsToStopped(t *testing.T) {
	engine, instances, apps, _, _, id := setup(t)
	_ = engine.Start(context.Background(), instances, apps, id)
	if err := engine.Stop(context.Background(), instances, apps, id); err != nil {
		t.Fatal(err)
	}
	inst, _ := instances.Get(id)
	if inst.Status != core.StatusStopped {
		t.Fatalf("expected Stopped, got %s", inst.Status)
	}
}

func TestResumeIsIdempotentWhenAlreadyRunning(t *testing.T) {
	engine, instances, apps, _, adapter, id := setup(t)
	_ = engine.Start(context.Background(), instances, apps, id)
	adapter.failStart = true // prove Resume doesn't re-call StartInstance
	if err := engine.Resume(context.Background(), instances, apps, id); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestDeleteRefusedWhenPinned(t *testing.T) {
	engine, instances, _, providers, _, id := setup(t)
	providers.SetDefaultProvider("auth", id)
	_, err := engine.Delete(context.Background(), instances, providers, id)
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestDeleteRefusedWhenDependedOn(t *testing.T) {
	engine, instances, _, providers, _, id := setup(t)
	dependent := core.NewInstanceID()
	instances.Put(&core.Instance{
		ID: dependent, Status: core.StatusRunning,
		Dependencies: map[string]core.ProviderReference{
			"auth": {Kind: core.ProviderKindInstance, Provider: id},
		},
	})
	_, err := engine.Delete(context.Background(), instances, providers, id)
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestDeleteSucceedsOnceUnblocked(t *testing.T) {
	engine, instances, apps, providers, _, id := setup(t)
	_ = engine.Start(context.Background(), instances, apps, id)
	found, err := engine.Delete(context.Background(), instances, providers, id)
	if err != nil || !found {
		t.Fatalf("expected clean delete, got found=%v err=%v", found, err)
	}
	if _, ok := instances.Get(id); ok {
		t.Fatal("expected instance removed from pouch")
	}
}

func TestGetDetailedInfoMarksOrphanedWhenBackingContainerMissing(t *testing.T) {
	engine, instances, apps, _, adapter, id := setup(t)
	_ = engine.Start(context.Background(), instances, apps, id)
	delete(adapter.running, id) // simulate the container vanishing underneath us

	inst, err := engine.GetDetailedInfo(context.Background(), instances, id)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != core.StatusOrphaned {
		t.Fatalf("expected Orphaned, got %s", inst.Status)
	}
}

func TestCreateAllocatesAnInstanceInCreatedState(t *testing.T) {
	reg := jeweler.NewRegistry()
	reg.Register(newFakeAdapter("dep-1"))
	instances := pouch.NewInstancePouch()
	apps := pouch.NewAppPouch()

	key := manifest.AppKey{Name: "io.test.app", Version: "1.0.0"}
	apps.Put(&core.App{
		Key: key,
		Manifest: &manifest.AppManifest{
			Key: key, Kind: manifest.KindSingle,
			Single: &manifest.Single{Image: "registry/io.test.app"},
		},
		Installs: map[core.DeploymentID]*core.DeploymentInstallState{
			"dep-1": {Desired: core.DesiredInstalled},
		},
	})

	engine := NewEngine(reg, "/flecs/config")
	id, err := engine.Create(context.Background(), instances, apps, key, "t2")
	if err != nil {
		t.Fatal(err)
	}
	inst, ok := instances.Get(id)
	if !ok {
		t.Fatal("expected instance to be present in the pouch")
	}
	if inst.Status != core.StatusCreated {
		t.Fatalf("expected Created, got %s", inst.Status)
	}
	if inst.DeploymentID != "dep-1" {
		t.Fatalf("expected dep-1, got %s", inst.DeploymentID)
	}
}

func TestCreateFailsWhenAppUnknown(t *testing.T) {
	reg := jeweler.NewRegistry()
	instances := pouch.NewInstancePouch()
	apps := pouch.NewAppPouch()

	engine := NewEngine(reg, "/flecs/config")
	_, err := engine.Create(context.Background(), instances, apps, manifest.AppKey{Name: "missing", Version: "1.0.0"}, "t3")
	if !ferr.Is(err, ferr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
