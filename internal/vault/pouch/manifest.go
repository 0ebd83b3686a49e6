package pouch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/manifest"
)

// ManifestPouch maps AppKey -> AppManifest, the raw schema-versioned form
// (spec §4.2).
type ManifestPouch struct {
	manifests map[manifest.AppKey]*manifest.AppManifest
}

// NewManifestPouch returns an empty ManifestPouch.
func NewManifestPouch() *ManifestPouch {
	return &ManifestPouch{manifests: make(map[manifest.AppKey]*manifest.AppManifest)}
}

// Get returns the manifest for key, if present.
func (p *ManifestPouch) Get(key manifest.AppKey) (*manifest.AppManifest, bool) {
	m, ok := p.manifests[key]
	return m, ok
}

// Put inserts or replaces a manifest.
func (p *ManifestPouch) Put(m *manifest.AppManifest) { p.manifests[m.Key] = m }

// Delete removes a manifest.
func (p *ManifestPouch) Delete(key manifest.AppKey) { delete(p.manifests, key) }

// List returns every manifest, in no particular order.
func (p *ManifestPouch) List() []*manifest.AppManifest {
	out := make([]*manifest.AppManifest, 0, len(p.manifests))
	for _, m := range p.manifests {
		out = append(out, m)
	}
	return out
}

// GC removes any manifest no longer referenced by referenced (spec §8:
// "for any manifest m, exists App A with A.key = m.key — else GC'd on next
// uninstall flow").
func (p *ManifestPouch) GC(referenced func(manifest.AppKey) bool) []manifest.AppKey {
	var removed []manifest.AppKey
	for key := range p.manifests {
		if !referenced(key) {
			delete(p.manifests, key)
			removed = append(removed, key)
		}
	}
	return removed
}

func manifestFileName(key manifest.AppKey) string { return fmt.Sprintf("%s-%s.json", key.Name, key.Version) }

// Save writes one file per manifest under dir/manifests (spec §6 layout).
func (p *ManifestPouch) Save(fs afero.Fs, dir string) error {
	manifestsDir := filepath.Join(dir, "manifests")
	if err := fs.MkdirAll(manifestsDir, 0o755); err != nil {
		return fmt.Errorf("pouch: mkdir %s: %w", manifestsDir, err)
	}
	for _, m := range p.manifests {
		data, err := manifest.MarshalJSON(m)
		if err != nil {
			return fmt.Errorf("pouch: marshal manifest %s: %w", m.Key, err)
		}
		path := filepath.Join(manifestsDir, manifestFileName(m.Key))
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			return fmt.Errorf("pouch: write %s: %w", path, err)
		}
	}
	return nil
}

// Load reads every manifest file under dir/manifests, tolerating
// individually corrupt entries.
func (p *ManifestPouch) Load(fs afero.Fs, dir string) error {
	manifestsDir := filepath.Join(dir, "manifests")
	entries, err := afero.ReadDir(fs, manifestsDir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("pouch: read dir %s: %w", manifestsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(manifestsDir, entry.Name())
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			klog.Warningf("pouch: skipping unreadable manifest file %s: %v", path, err)
			continue
		}
		m, err := manifest.ParseJSON(data)
		if err != nil {
			klog.Warningf("pouch: skipping corrupt manifest file %s: %v", path, err)
			continue
		}
		p.manifests[m.Key] = m
	}
	return nil
}
