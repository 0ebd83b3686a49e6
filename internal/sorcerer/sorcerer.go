// Package sorcerer provides the thin façades that tie quest scheduling,
// Vault reservations, and the instance/app engines together — the HTTP
// handlers' only entry point into the rest of the daemon, mirroring spec
// §2's flow description and the teacher's "init* registers tool handlers
// that call into pkg/kubernetes" layering.
package sorcerer

import (
	"context"
	"fmt"

	"github.com/scoutflo/flecsd-core/internal/app"
	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/instance"
	"github.com/scoutflo/flecsd-core/internal/manifest"
	"github.com/scoutflo/flecsd-core/internal/quest"
	"github.com/scoutflo/flecsd-core/internal/vault"
)

// InstanceSorcerer drives instance.Engine operations under quest scheduling
// and Vault reservations.
type InstanceSorcerer struct {
	vault  *vault.Vault
	master *quest.Master
	engine *instance.Engine
}

// NewInstanceSorcerer returns an InstanceSorcerer wiring v, m, and engine.
func NewInstanceSorcerer(v *vault.Vault, m *quest.Master, engine *instance.Engine) *InstanceSorcerer {
	return &InstanceSorcerer{vault: v, master: m, engine: engine}
}

// Start schedules a quest that reserves the app and instance pouches
// exclusively and runs instance.Engine.Start.
func (s *InstanceSorcerer) Start(id core.InstanceID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Start instance %s", id), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveAppPouch().Grab()
		defer g.Release()
		return s.engine.Start(ctx, g.Instances, g.Apps, id)
	})
}

// Stop schedules a quest that stops id.
func (s *InstanceSorcerer) Stop(id core.InstanceID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Stop instance %s", id), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveAppPouch().Grab()
		defer g.Release()
		return s.engine.Stop(ctx, g.Instances, g.Apps, id)
	})
}

// Resume schedules a quest that resumes id, a no-op if already Running.
func (s *InstanceSorcerer) Resume(id core.InstanceID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Resume instance %s", id), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveAppPouch().Grab()
		defer g.Release()
		return s.engine.Resume(ctx, g.Instances, g.Apps, id)
	})
}

// Delete schedules a quest that deletes id, refusing if it is still pinned
// or depended on.
func (s *InstanceSorcerer) Delete(id core.InstanceID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Delete instance %s", id), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveProviderPouchMut().Grab()
		defer g.Release()
		_, err := s.engine.Delete(ctx, g.Instances, g.Providers, id)
		return err
	})
}

// Update schedules a quest that rebinds id to newKey.
func (s *InstanceSorcerer) Update(id core.InstanceID, newKey manifest.AppKey) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Update instance %s to %s", id, newKey), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveAppPouch().Grab()
		defer g.Release()
		return s.engine.Update(ctx, g.Instances, g.Apps, id, newKey)
	})
}

// GetDetailedInfo returns a live detailed view of id, run synchronously (no
// quest needed for a read-only query).
func (s *InstanceSorcerer) GetDetailedInfo(ctx context.Context, id core.InstanceID) (*core.Instance, error) {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	return s.engine.GetDetailedInfo(ctx, g.Instances, id)
}

// Get returns the recorded (non-live) view of id, for callers that only
// need the Vault's bookkeeping rather than a fresh adapter query.
func (s *InstanceSorcerer) Get(id core.InstanceID) (*core.Instance, error) {
	g := s.vault.Reserve().ReserveInstancePouch().Grab()
	defer g.Release()
	inst, ok := g.Instances.Get(id)
	if !ok {
		return nil, ferr.NotFound("instance", string(id))
	}
	return inst, nil
}

// List returns every instance recorded in the Vault.
func (s *InstanceSorcerer) List() []*core.Instance {
	g := s.vault.Reserve().ReserveInstancePouch().Grab()
	defer g.Release()
	return g.Instances.List()
}

// Create schedules a quest that allocates a new instance of key and steps it
// through to Created, matching spec §6's async `POST /v2/instances/create`
// contract (the caller issues a separate Start). The new instance's ID is
// attached to the quest's Result once it finishes, for pollers to read back.
func (s *InstanceSorcerer) Create(key manifest.AppKey, name string) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Create instance of %s", key), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveInstancePouchMut().ReserveAppPouch().Grab()
		defer g.Release()
		newID, err := s.engine.Create(ctx, g.Instances, g.Apps, key, name)
		if err != nil {
			return err
		}
		q.SetResult(quest.Result{Kind: quest.ResultInstance, InstanceID: string(newID)})
		return nil
	})
}

// AttachNetwork reserves the instance pouch exclusively and runs
// instance.Engine.AttachNetwork synchronously (a single IP allocation has no
// useful async-progress shape of its own).
func (s *InstanceSorcerer) AttachNetwork(ctx context.Context, id core.InstanceID, netCfg core.Network) (string, error) {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	return s.engine.AttachNetwork(ctx, g.Instances, id, netCfg)
}

// DetachNetwork reserves the instance pouch exclusively and detaches id
// from netID.
func (s *InstanceSorcerer) DetachNetwork(ctx context.Context, id core.InstanceID, netID core.NetworkID) error {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	return s.engine.DetachNetwork(ctx, g.Instances, id, netID)
}

// BindUSB records a USB passthrough binding for id.
func (s *InstanceSorcerer) BindUSB(id core.InstanceID, port string, dev core.UsbDevice) error {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	return instance.BindUSB(g.Instances, id, port, dev)
}

// UnbindUSB removes a USB passthrough binding from id.
func (s *InstanceSorcerer) UnbindUSB(id core.InstanceID, port string) error {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	return instance.UnbindUSB(g.Instances, id, port)
}

// PutPortMapping validates and inserts mapping into id's port-mapping set
// for proto (spec §6's `PUT .../config/ports/{proto}/{range}`).
func (s *InstanceSorcerer) PutPortMapping(id core.InstanceID, proto manifest.Protocol, mapping core.PortMapping) error {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	inst, ok := g.Instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if inst.Config == nil {
		inst.Config = core.NewInstanceConfig()
	}
	if err := instance.AddPortMapping(inst.Config, proto, mapping); err != nil {
		return err
	}
	g.Instances.Put(inst)
	return nil
}

// DeletePortMapping removes the port mapping on proto whose host range is
// rng from id (spec §6's `DELETE .../config/ports/{proto}/{range}`).
func (s *InstanceSorcerer) DeletePortMapping(id core.InstanceID, proto manifest.Protocol, rng core.PortRange) error {
	g := s.vault.Reserve().ReserveInstancePouchMut().Grab()
	defer g.Release()
	inst, ok := g.Instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if inst.Config == nil {
		return ferr.NotFound("port mapping", string(proto))
	}
	if err := instance.RemovePortMapping(inst.Config, proto, rng); err != nil {
		return err
	}
	g.Instances.Put(inst)
	return nil
}

// GetUSB returns the USB device bound to id at port.
func (s *InstanceSorcerer) GetUSB(id core.InstanceID, port string) (core.UsbDevice, error) {
	g := s.vault.Reserve().ReserveInstancePouch().Grab()
	defer g.Release()
	return instance.GetUSB(g.Instances, id, port)
}

// AppSorcerer drives app.Engine operations under quest scheduling and Vault
// reservations.
type AppSorcerer struct {
	vault  *vault.Vault
	master *quest.Master
	engine *app.Engine
}

// NewAppSorcerer returns an AppSorcerer wiring v, m, and engine.
func NewAppSorcerer(v *vault.Vault, m *quest.Master, engine *app.Engine) *AppSorcerer {
	return &AppSorcerer{vault: v, master: m, engine: engine}
}

// Install schedules a quest that attaches man to the App registry and pulls
// its image on dep.
func (s *AppSorcerer) Install(man *manifest.AppManifest, dep core.DeploymentID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Install app %s", man.Key), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().ReserveAppPouchMut().Grab()
		defer g.Release()
		return s.engine.Install(ctx, g.Apps, man, dep)
	})
}

// Uninstall schedules a quest that removes every instance of key, removes
// its image from dep, and garbage-collects its manifest if unreferenced.
func (s *AppSorcerer) Uninstall(key manifest.AppKey, dep core.DeploymentID) (quest.ID, <-chan error, error) {
	return s.master.Schedule(fmt.Sprintf("Uninstall app %s", key), func(ctx context.Context, q *quest.Quest) error {
		g := s.vault.Reserve().
			ReserveInstancePouchMut().
			ReserveAppPouchMut().
			ReserveProviderPouchMut().
			ReserveManifestPouchMut().
			Grab()
		defer g.Release()
		return s.engine.Uninstall(ctx, q, g.Instances, g.Apps, g.Providers, g.Manifests, key, dep)
	})
}

// Get returns the App record for key, if installed.
func (s *AppSorcerer) Get(key manifest.AppKey) (*core.App, error) {
	g := s.vault.Reserve().ReserveAppPouch().Grab()
	defer g.Release()
	a, ok := g.Apps.Get(key)
	if !ok {
		return nil, ferr.NotFound("app", key.String())
	}
	return a, nil
}

// List returns every installed App.
func (s *AppSorcerer) List() []*core.App {
	g := s.vault.Reserve().ReserveAppPouch().Grab()
	defer g.Release()
	return g.Apps.List()
}
