// Package app drives App install/uninstall: resolving and attaching a
// manifest, pulling/removing the image via a deployment adapter, and tearing
// down every instance of an App before it is uninstalled (spec §4.6),
// grounded on original_source's sorcerer::appraiser::appraiser_impl.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/instance"
	"github.com/scoutflo/flecsd-core/internal/jeweler"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
	"github.com/scoutflo/flecsd-core/internal/manifest"
	"github.com/scoutflo/flecsd-core/internal/provider"
	"github.com/scoutflo/flecsd-core/internal/quest"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// Engine drives App install/uninstall against the deployment registry; like
// instance.Engine, callers supply the pouches they are already holding a
// Vault reservation for.
type Engine struct {
	registry *jeweler.Registry
	instance *instance.Engine
}

// NewEngine returns an Engine that installs/removes images via registry and
// delegates per-instance teardown to instanceEngine.
func NewEngine(registry *jeweler.Registry, instanceEngine *instance.Engine) *Engine {
	return &Engine{registry: registry, instance: instanceEngine}
}

// SetManifest upserts apps[key] with m attached and marks it Installed for
// dep, creating the App record if this is its first install (spec §4.6
// "set_manifest_and_desired_or_create_app").
func SetManifest(apps *pouch.AppPouch, m *manifest.AppManifest, dep core.DeploymentID) (*core.App, error) {
	if err := m.Validate(); err != nil {
		return nil, ferr.ConfigInvalidf("manifest %s: %v", m.Key, err)
	}
	existing, ok := apps.Get(m.Key)
	if !ok {
		existing = &core.App{Key: m.Key, Installs: map[core.DeploymentID]*core.DeploymentInstallState{}}
	}
	existing.Manifest = m
	existing.Installs[dep] = &core.DeploymentInstallState{Desired: core.DesiredInstalled}
	apps.Put(existing)
	return existing, nil
}

// Install pulls app's image on dep (single-container manifests only; multi
// manifests have no image of their own to pull, per spec §4.6 Non-goals on
// compose image management) and records the installed size.
func (e *Engine) Install(ctx context.Context, apps *pouch.AppPouch, m *manifest.AppManifest, dep core.DeploymentID) error {
	app, err := SetManifest(apps, m, dep)
	if err != nil {
		return err
	}
	if m.Kind != manifest.KindSingle || m.Single == nil {
		return nil
	}
	adapter, err := e.registry.Get(dep)
	if err != nil {
		return ferr.RuntimeBackendf(err, "install %s: deployment %s unreachable", m.Key, dep)
	}
	appID, err := adapter.InstallApp(ctx, m.Single.Image, nil)
	if err != nil {
		return ferr.RuntimeBackendf(err, "install %s: pull %s", m.Key, m.Single.Image)
	}
	info, err := adapter.AppInfo(ctx, appID)
	if err == nil {
		app.Installs[dep].InstalledBytes = &info.Size
		apps.Put(app)
	}
	return nil
}

// instanceIDsByAppKey returns every instance ID bound to key, for the
// uninstall flow's teardown fan-out.
func instanceIDsByAppKey(instances *pouch.InstancePouch, key manifest.AppKey) []core.InstanceID {
	var out []core.InstanceID
	for _, inst := range instances.List() {
		if inst.AppKey == key {
			out = append(out, inst.ID)
		}
	}
	return out
}

// Uninstall refuses if any instance of key is still needed as a provider,
// then deletes every instance of key in parallel (via quest sub-quests),
// removes the image from dep, and garbage-collects the manifest if no App
// references it anymore (spec §4.6's "uninstall_app").
func (e *Engine) Uninstall(
	ctx context.Context,
	q *quest.Quest,
	instances *pouch.InstancePouch,
	apps *pouch.AppPouch,
	providers *pouch.ProviderPouch,
	manifests *pouch.ManifestPouch,
	key manifest.AppKey,
	dep core.DeploymentID,
) error {
	targets := instanceIDsByAppKey(instances, key)
	if err := provider.CheckAppDeletable(instances, providers, targets); err != nil {
		return err
	}

	deleteErr := e.deleteInstances(ctx, q, instances, providers, key, targets)
	uninstallErr := e.uninstallImage(ctx, apps, key, dep)

	switch {
	case deleteErr == nil && uninstallErr == nil:
		manifests.GC(apps.ReferencesManifest)
		return nil
	case deleteErr != nil && uninstallErr != nil:
		return ferr.Conflictf("could not uninstall app (%v), could not remove all instances (%v)", uninstallErr, deleteErr)
	case deleteErr != nil:
		return ferr.Conflictf("app was uninstalled, but not all instances could be removed: %v", deleteErr)
	default:
		return ferr.Conflictf("instances were removed but app could not be uninstalled: %v", uninstallErr)
	}
}

// deleteInstances tears down every id in targets concurrently via quest
// sub-quests, aggregating any per-instance failure rather than stopping at
// the first (spec §4.1 "sub-quest progress aggregation").
func (e *Engine) deleteInstances(
	ctx context.Context,
	q *quest.Quest,
	instances *pouch.InstancePouch,
	providers *pouch.ProviderPouch,
	key manifest.AppKey,
	targets []core.InstanceID,
) error {
	if len(targets) == 0 {
		return nil
	}
	dones := make([]<-chan error, 0, len(targets))
	for _, id := range targets {
		id := id
		_, done := quest.SpawnSubQuest(ctx, q, fmt.Sprintf("Delete instance %s of %s", id, key), func(ctx context.Context, sub *quest.Quest) error {
			_, err := e.instance.Delete(ctx, instances, providers, id)
			return err
		})
		dones = append(dones, done)
	}
	var result *multierror.Error
	for i, done := range dones {
		if err := <-done; err != nil {
			result = multierror.Append(result, fmt.Errorf("instance %s: %w", targets[i], err))
		}
	}
	if result != nil {
		return result
	}
	return nil
}

func (e *Engine) uninstallImage(ctx context.Context, apps *pouch.AppPouch, key manifest.AppKey, dep core.DeploymentID) error {
	app, ok := apps.Get(key)
	if !ok {
		return nil
	}
	if app.Manifest == nil || app.Manifest.Kind != manifest.KindSingle || app.Manifest.Single == nil {
		delete(app.Installs, dep)
		if len(app.Installs) == 0 {
			apps.Delete(key)
		}
		return nil
	}
	adapter, err := e.registry.Get(dep)
	if err != nil {
		return ferr.RuntimeBackendf(err, "uninstall %s: deployment %s unreachable", key, dep)
	}
	if err := adapter.UninstallApp(ctx, deployment.AppID(app.Manifest.Single.Image)); err != nil {
		klog.Warningf("uninstall %s: remove image %s: %v", key, app.Manifest.Single.Image, err)
	}
	delete(app.Installs, dep)
	if len(app.Installs) == 0 {
		apps.Delete(key)
	} else {
		apps.Put(app)
	}
	return nil
}
