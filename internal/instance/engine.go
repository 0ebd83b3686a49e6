package instance

import (
	"context"
	"fmt"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/jeweler"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
	"github.com/scoutflo/flecsd-core/internal/manifest"
	"github.com/scoutflo/flecsd-core/internal/provider"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// Engine drives the per-operation semantics table of spec §4.3: start,
// stop, resume, delete, update, get_detailed_info. Every method takes the
// pouches it needs directly; callers (the sorcerer façade) are responsible
// for holding the matching Vault reservation for the call's duration.
type Engine struct {
	registry      *jeweler.Registry
	configBaseDir string
}

// NewEngine returns an Engine that resolves live adapters from registry and
// resolves manifest ConfFile host paths under <configBaseDir>/<instance_id>.
func NewEngine(registry *jeweler.Registry, configBaseDir string) *Engine {
	return &Engine{registry: registry, configBaseDir: configBaseDir}
}

func (e *Engine) adapterFor(inst *core.Instance) (deployment.Adapter, error) {
	a, err := e.registry.Get(inst.DeploymentID)
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "instance %s: deployment %s unreachable", inst.ID, inst.DeploymentID)
	}
	return a, nil
}

func (e *Engine) configFiles(inst *core.Instance, confFiles []manifest.ConfFile) []deployment.ConfigFile {
	base := filepath.Join(e.configBaseDir, inst.ID.String())
	out := make([]deployment.ConfigFile, 0, len(confFiles))
	for _, cf := range confFiles {
		out = append(out, deployment.ConfigFile{
			HostFileName:      filepath.Join(base, cf.Name),
			ContainerFilePath: cf.ContainerPath,
		})
	}
	return out
}

func envStrings(env []manifest.EnvVar) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if e.Value != nil {
			out = append(out, fmt.Sprintf("%s=%s", e.Name, *e.Value))
		} else {
			out = append(out, e.Name)
		}
	}
	return out
}

func labelMap(labels []manifest.Label) map[string]string {
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		if l.Value != nil {
			out[l.Key] = *l.Value
		} else {
			out[l.Key] = ""
		}
	}
	return out
}

func capStrings(caps []manifest.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

func mountSpecs(mounts []manifest.Mount, isBind bool) []deployment.MountSpec {
	out := make([]deployment.MountSpec, 0, len(mounts))
	for _, m := range mounts {
		src := m.VolumeName
		if isBind {
			src = m.HostPath
		}
		out = append(out, deployment.MountSpec{Source: src, Target: m.ContainerPath, IsBindMount: isBind, ReadOnly: m.ReadOnly})
	}
	return out
}

func portBindings(mapping map[manifest.Protocol][]core.PortMapping) map[string][]deployment.PortBinding {
	out := map[string][]deployment.PortBinding{}
	for proto, mappings := range mapping {
		for _, m := range mappings {
			if m.Kind == core.PortMappingSingle {
				key := fmt.Sprintf("%d/%s", m.Container, proto)
				out[key] = append(out[key], deployment.PortBinding{HostPort: fmt.Sprintf("%d", m.Host)})
				continue
			}
			for offset := 0; offset <= m.From.End-m.From.Start; offset++ {
				key := fmt.Sprintf("%d/%s", m.To.Start+offset, proto)
				out[key] = append(out[key], deployment.PortBinding{HostPort: fmt.Sprintf("%d", m.From.Start+offset)})
			}
		}
	}
	return out
}

func (e *Engine) startConfigFor(inst *core.Instance, app *core.App) (deployment.StartConfig, []deployment.ConfigFile, error) {
	if app.Manifest == nil || app.Manifest.Kind != manifest.KindSingle || app.Manifest.Single == nil {
		return deployment.StartConfig{}, nil, ferr.Unsupportedf("instance %s: app %s is not a single-container manifest", inst.ID, inst.AppKey)
	}
	single := app.Manifest.Single
	cfg := inst.Config
	if cfg == nil {
		cfg = core.NewInstanceConfig()
	}
	start := deployment.StartConfig{
		Image:        single.Image,
		Args:         single.Args,
		Capabilities: capStrings(single.Capabilities),
		Hostname:     single.Hostname,
		Env:          envStrings(cfg.EnvironmentVariables),
		Labels:       labelMap(cfg.Labels),
		Ports:        portBindings(cfg.PortMapping),
		Networks:     cfg.Networks,
		Interactive:  single.Interactive,
	}
	start.Mounts = append(start.Mounts, mountSpecs(cfg.VolumeMounts, false)...)
	start.Mounts = append(start.Mounts, mountSpecs(cfg.BindMounts, true)...)
	return start, e.configFiles(inst, single.ConfFiles), nil
}

// Create allocates a new Instance of appKey's App and steps it through the
// state machine's creation path (spec §4.3: `Requested` -> `ResourcesReady`
// -> `Created`), without starting it (spec §6's `POST /v2/instances/create`
// only schedules creation; the caller issues a separate start).
func (e *Engine) Create(ctx context.Context, instances *pouch.InstancePouch, apps *pouch.AppPouch, appKey manifest.AppKey, name string) (core.InstanceID, error) {
	app, ok := apps.Get(appKey)
	if !ok {
		return 0, ferr.NotFound("app", appKey.String())
	}
	dep, ok := firstDeployment(app)
	if !ok {
		return 0, ferr.Conflictf("app %s has no deployment to create an instance on", appKey)
	}

	variant := core.VariantDocker
	if app.Manifest != nil && app.Manifest.Kind == manifest.KindMulti {
		variant = core.VariantCompose
	}

	id := core.NewInstanceID()
	inst := &core.Instance{
		ID: id, Name: name, AppKey: appKey, DeploymentID: dep, Variant: variant,
		Status: core.StatusRequested, Config: core.NewInstanceConfig(),
	}
	instances.Put(inst)

	if _, err := e.adapterFor(inst); err != nil {
		inst.Status = core.StatusNotCreated
		instances.Put(inst)
		return 0, err
	}
	inst.Status = core.StatusResourcesReady
	instances.Put(inst)

	inst.Status = core.StatusCreated
	instances.Put(inst)
	return id, nil
}

// firstDeployment returns the first deployment appKey is marked Installed
// on; callers needing a specific deployment should bind it explicitly
// instead of relying on this default.
func firstDeployment(app *core.App) (core.DeploymentID, bool) {
	for dep, st := range app.Installs {
		if st.Desired == core.DesiredInstalled {
			return dep, true
		}
	}
	return "", false
}

// Start implements spec §4.3's start operation.
func (e *Engine) Start(ctx context.Context, instances *pouch.InstancePouch, apps *pouch.AppPouch, id core.InstanceID) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	app, ok := apps.Get(inst.AppKey)
	if !ok {
		return ferr.NotFound("app", inst.AppKey.String())
	}
	adapter, err := e.adapterFor(inst)
	if err != nil {
		return err
	}
	startCfg, files, err := e.startConfigFor(inst, app)
	if err != nil {
		return err
	}
	if _, err := adapter.StartInstance(ctx, startCfg, &inst.ID, files); err != nil {
		return err
	}
	inst.Status = core.StatusRunning
	instances.Put(inst)
	return nil
}

// Stop implements spec §4.3's stop operation: fail-soft on config-file
// copy-back, hard-fail on container stop failure.
func (e *Engine) Stop(ctx context.Context, instances *pouch.InstancePouch, apps *pouch.AppPouch, id core.InstanceID) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	app, ok := apps.Get(inst.AppKey)
	if !ok {
		return ferr.NotFound("app", inst.AppKey.String())
	}
	adapter, err := e.adapterFor(inst)
	if err != nil {
		return err
	}
	var files []deployment.ConfigFile
	if app.Manifest != nil && app.Manifest.Kind == manifest.KindSingle && app.Manifest.Single != nil {
		files = e.configFiles(inst, app.Manifest.Single.ConfFiles)
	}
	if err := adapter.StopInstance(ctx, id, files); err != nil {
		return err
	}
	inst.Status = core.StatusStopped
	instances.Put(inst)
	return nil
}

// Resume implements spec §4.3's resume operation: idempotent no-op if
// already Running.
func (e *Engine) Resume(ctx context.Context, instances *pouch.InstancePouch, apps *pouch.AppPouch, id core.InstanceID) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if inst.Status == core.StatusRunning {
		return nil
	}
	return e.Start(ctx, instances, apps, id)
}

// Delete implements spec §4.3's delete operation: refused while the
// instance is pinned (default/core-auth provider) or still depended on by
// a living consumer.
func (e *Engine) Delete(ctx context.Context, instances *pouch.InstancePouch, providers *pouch.ProviderPouch, id core.InstanceID) (bool, error) {
	inst, ok := instances.Get(id)
	if !ok {
		return false, nil
	}
	if err := provider.CheckDeletable(instances, providers, id); err != nil {
		return false, err
	}

	adapter, err := e.adapterFor(inst)
	if err != nil {
		return false, err
	}
	found, err := adapter.DeleteInstance(ctx, id)
	if err != nil {
		return false, err
	}
	instances.Delete(id)
	provider.ReleaseProviderState(providers, id)
	if inst.Config != nil {
		for netID, ip := range inst.Config.Networks {
			instances.ClearIP(netID, ip)
		}
	}
	return found, nil
}

// Update implements spec §4.3's update operation: rebind to a new AppKey,
// restarting with the new manifest's image; rolls the instance back to its
// previous AppKey and config on any failure.
func (e *Engine) Update(ctx context.Context, instances *pouch.InstancePouch, apps *pouch.AppPouch, id core.InstanceID, newKey manifest.AppKey) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if _, ok := apps.Get(newKey); !ok {
		return ferr.NotFound("app", newKey.String())
	}
	wasRunning := inst.Status == core.StatusRunning
	oldKey := inst.AppKey

	if wasRunning {
		if err := e.Stop(ctx, instances, apps, id); err != nil {
			return ferr.Conflictf("update %s: stop before migration failed: %v", id, err)
		}
	}

	inst.AppKey = newKey
	instances.Put(inst)

	if !wasRunning {
		return nil
	}
	if err := e.Start(ctx, instances, apps, id); err != nil {
		// Roll back to the previous AppKey and attempt to restore the
		// prior running state (spec §4.3: "rollback instance on any step
		// failure").
		inst.AppKey = oldKey
		instances.Put(inst)
		if restartErr := e.Start(ctx, instances, apps, id); restartErr != nil {
			klog.Warningf("instance %s: rollback restart to %s also failed: %v", id, oldKey, restartErr)
		}
		return ferr.Conflictf("update %s to %s failed, rolled back to %s: %v", id, newKey, oldKey, err)
	}
	return nil
}

// GetDetailedInfo implements spec §4.3's get_detailed_info operation: a live
// status query against the deployment adapter. A vault record whose backing
// container has vanished is reported (and persisted) as Orphaned; an
// unreachable deployment adapter is reported as Unknown (spec §9 decision).
func (e *Engine) GetDetailedInfo(ctx context.Context, instances *pouch.InstancePouch, id core.InstanceID) (*core.Instance, error) {
	inst, ok := instances.Get(id)
	if !ok {
		return nil, ferr.NotFound("instance", id.String())
	}
	adapter, err := e.adapterFor(inst)
	if err != nil {
		inst.Status = core.StatusUnknown
		instances.Put(inst)
		return inst, nil
	}
	status, err := adapter.InstanceStatus(ctx, id)
	if err != nil {
		inst.Status = core.StatusUnknown
		instances.Put(inst)
		return inst, nil
	}
	if status == core.StatusNotCreated && inst.Status != core.StatusNotCreated {
		inst.Status = core.StatusOrphaned
	} else {
		inst.Status = status
	}
	instances.Put(inst)
	return inst, nil
}
