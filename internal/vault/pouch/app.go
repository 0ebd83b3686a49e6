// Package pouch implements the seven Vault pouches (spec §4.2): typed,
// individually-lockable sections of persisted state. Locking itself is the
// Vault's responsibility (internal/vault.Reservation); pouches here are
// plain, non-concurrent data containers plus their on-disk encoding.
package pouch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

// AppPouch maps AppKey -> App (spec §4.2).
type AppPouch struct {
	apps map[manifest.AppKey]*core.App
}

// NewAppPouch returns an empty AppPouch.
func NewAppPouch() *AppPouch {
	return &AppPouch{apps: make(map[manifest.AppKey]*core.App)}
}

// Get returns the App for key, if present.
func (p *AppPouch) Get(key manifest.AppKey) (*core.App, bool) {
	a, ok := p.apps[key]
	return a, ok
}

// Put inserts or replaces an App.
func (p *AppPouch) Put(app *core.App) { p.apps[app.Key] = app }

// Delete removes an App.
func (p *AppPouch) Delete(key manifest.AppKey) { delete(p.apps, key) }

// List returns every App, in no particular order.
func (p *AppPouch) List() []*core.App {
	out := make([]*core.App, 0, len(p.apps))
	for _, a := range p.apps {
		out = append(out, a)
	}
	return out
}

// ReferencesManifest reports whether any App in the pouch still references
// key — used by the Manifest pouch's garbage collector (spec §8).
func (p *AppPouch) ReferencesManifest(key manifest.AppKey) bool {
	_, ok := p.apps[key]
	return ok
}

type jsonInstallState struct {
	Desired        core.DesiredState `json:"desired"`
	InstalledBytes *int64             `json:"installedBytes,omitempty"`
}

type jsonApp struct {
	Name     string                                    `json:"name"`
	Version  string                                    `json:"version"`
	Manifest json.RawMessage                           `json:"manifest"`
	Installs map[core.DeploymentID]jsonInstallState `json:"installs,omitempty"`
}

func appFileName(key manifest.AppKey) string {
	return fmt.Sprintf("%s-%s.json", key.Name, key.Version)
}

// Save writes one file per App under dir/apps (spec §6 layout:
// apps/<app_name>-<version>.json), replacing each file wholesale.
func (p *AppPouch) Save(fs afero.Fs, dir string) error {
	appsDir := filepath.Join(dir, "apps")
	if err := fs.MkdirAll(appsDir, 0o755); err != nil {
		return fmt.Errorf("pouch: mkdir %s: %w", appsDir, err)
	}
	for _, app := range p.apps {
		manifestJSON, err := manifest.MarshalJSON(app.Manifest)
		if err != nil {
			return fmt.Errorf("pouch: marshal manifest for %s: %w", app.Key, err)
		}
		installs := make(map[core.DeploymentID]jsonInstallState, len(app.Installs))
		for dep, st := range app.Installs {
			installs[dep] = jsonInstallState{Desired: st.Desired, InstalledBytes: st.InstalledBytes}
		}
		raw := jsonApp{Name: app.Key.Name, Version: app.Key.Version, Manifest: manifestJSON, Installs: installs}
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return fmt.Errorf("pouch: marshal app %s: %w", app.Key, err)
		}
		path := filepath.Join(appsDir, appFileName(app.Key))
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			return fmt.Errorf("pouch: write %s: %w", path, err)
		}
	}
	return nil
}

// Load reads every app file under dir/apps, skipping and logging any
// individually unreadable/corrupt file rather than aborting (spec §1
// "best-effort file persistence"; SPEC_FULL.md §4.2).
func (p *AppPouch) Load(fs afero.Fs, dir string) error {
	appsDir := filepath.Join(dir, "apps")
	entries, err := afero.ReadDir(fs, appsDir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("pouch: read dir %s: %w", appsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(appsDir, entry.Name())
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			klog.Warningf("pouch: skipping unreadable app file %s: %v", path, err)
			continue
		}
		var raw jsonApp
		if err := json.Unmarshal(data, &raw); err != nil {
			klog.Warningf("pouch: skipping corrupt app file %s: %v", path, err)
			continue
		}
		m, err := manifest.ParseJSON(raw.Manifest)
		if err != nil {
			klog.Warningf("pouch: skipping app file %s with invalid manifest: %v", path, err)
			continue
		}
		installs := make(map[core.DeploymentID]*core.DeploymentInstallState, len(raw.Installs))
		for dep, st := range raw.Installs {
			st := st
			installs[dep] = &core.DeploymentInstallState{Desired: st.Desired, InstalledBytes: st.InstalledBytes}
		}
		key := manifest.AppKey{Name: raw.Name, Version: raw.Version}
		p.apps[key] = &core.App{Key: key, Manifest: m, Installs: installs}
	}
	return nil
}
