package sorcerer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/scoutflo/flecsd-core/internal/app"
	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/instance"
	"github.com/scoutflo/flecsd-core/internal/jeweler"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
	"github.com/scoutflo/flecsd-core/internal/manifest"
	"github.com/scoutflo/flecsd-core/internal/quest"
	"github.com/scoutflo/flecsd-core/internal/vault"
)

type fakeAdapter struct {
	id      core.DeploymentID
	images  map[string]bool
	running map[core.InstanceID]bool
}

func newFakeAdapter(id core.DeploymentID) *fakeAdapter {
	return &fakeAdapter{id: id, images: map[string]bool{}, running: map[core.InstanceID]bool{}}
}

func (f *fakeAdapter) ID() core.DeploymentID     { return f.id }
func (f *fakeAdapter) Kind() core.DeploymentKind { return core.DeploymentDocker }

func (f *fakeAdapter) InstallApp(ctx context.Context, image string, token *string) (deployment.AppID, error) {
	f.images[image] = true
	return deployment.AppID(image), nil
}
func (f *fakeAdapter) UninstallApp(ctx context.Context, id deployment.AppID) error {
	delete(f.images, string(id))
	return nil
}
func (f *fakeAdapter) AppInfo(ctx context.Context, id deployment.AppID) (*deployment.AppInfo, error) {
	return &deployment.AppInfo{ID: id, Size: 1024, ImageRef: string(id)}, nil
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

const testDeployment core.DeploymentID = "dep-1"

func setup(t *testing.T) (*InstanceSorcerer, *AppSorcerer, *vault.Vault, core.InstanceID, *manifest.AppManifest) {
	t.Helper()
	v := vault.New(afero.NewMemMapFs(), "/flecs")
	master := quest.NewMaster()
	reg := jeweler.NewRegistry()
	reg.Register(newFakeAdapter(testDeployment))

	instEngine := instance.NewEngine(reg, "/flecs/config")
	appEngine := app.NewEngine(reg, instEngine)

	instSorcerer := NewInstanceSorcerer(v, master, instEngine)
	appSorcerer := NewAppSorcerer(v, master, appEngine)

	key := manifest.AppKey{Name: "io.test.app", Version: "1.0.0"}
	man := &manifest.AppManifest{Key: key, Kind: manifest.KindSingle, Single: &manifest.Single{Image: "registry/io.test.app:1.0.0"}}

	g := v.Reserve().ReserveAppPouchMut().Grab()
	g.Apps.Put(&core.App{Key: key, Manifest: man, Installs: map[core.DeploymentID]*core.DeploymentInstallState{
		testDeployment: {Desired: core.DesiredInstalled},
	}})
	g.Release()

	id := core.NewInstanceID()
	g2 := v.Reserve().ReserveInstancePouchMut().Grab()
	g2.Instances.Put(&core.Instance{ID: id, Name: "t1", AppKey: key, DeploymentID: testDeployment, Variant: core.VariantDocker, Status: core.StatusCreated, Config: core.NewInstanceConfig()})
	g2.Release()

	return instSorcerer, appSorcerer, v, id, man
}

func await(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quest to finish")
		return nil
	}
}

func TestInstanceSorcererStartStop(t *testing.T) {
	instSorcerer, _, v, id, _ := setup(t)

	_, done, err := instSorcerer.Start(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}

	g := v.Reserve().ReserveInstancePouch().Grab()
	inst, _ := g.Instances.Get(id)
	g.Release()
	if inst.Status != core.StatusRunning {
		t.Fatalf("expected Running, got %s", inst.Status)
	}

	_, done, err = instSorcerer.Stop(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestAppSorcererInstallAndGet(t *testing.T) {
	_, appSorcerer, _, _, man := setup(t)
	otherKey := manifest.AppKey{Name: "io.test.other", Version: "2.0.0"}
	otherMan := &manifest.AppManifest{Key: otherKey, Kind: manifest.KindSingle, Single: &manifest.Single{Image: "registry/io.test.other:2.0.0"}}

	_, done, err := appSorcerer.Install(otherMan, testDeployment)
	if err != nil {
		t.Fatal(err)
	}
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}

	got, err := appSorcerer.Get(otherKey)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsInstalledOn(testDeployment) {
		t.Fatal("expected the newly installed app to be marked Installed")
	}

	_, err = appSorcerer.Get(man.Key)
	if err != nil {
		t.Fatal(err)
	}
}

func TestInstanceSorcererPortMappingPutAndDelete(t *testing.T) {
	instSorcerer, _, _, id, _ := setup(t)

	mapping := core.PortMapping{Kind: core.PortMappingSingle, Host: 8080, Container: 80}
	if err := instSorcerer.PutPortMapping(id, manifest.ProtoTCP, mapping); err != nil {
		t.Fatal(err)
	}

	if err := instSorcerer.DeletePortMapping(id, manifest.ProtoTCP, core.PortRange{Start: 8080, End: 8080}); err != nil {
		t.Fatal(err)
	}
	if err := instSorcerer.DeletePortMapping(id, manifest.ProtoTCP, core.PortRange{Start: 8080, End: 8080}); err == nil {
		t.Fatal("expected deleting an already-removed mapping to fail")
	}
}

func TestAppSorcererUninstallRemovesInstances(t *testing.T) {
	instSorcerer, appSorcerer, v, id, man := setup(t)

	_, done, err := instSorcerer.Stop(id) // ensure status is settled before delete
	if err != nil {
		t.Fatal(err)
	}
	_ = await(t, done)

	_, done, err = appSorcerer.Uninstall(man.Key, testDeployment)
	if err != nil {
		t.Fatal(err)
	}
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}

	g := v.Reserve().ReserveInstancePouch().Grab()
	_, ok := g.Instances.Get(id)
	g.Release()
	if ok {
		t.Fatal("expected instance to be deleted")
	}
}
