package pouch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
)

// DeploymentPouch maps DeploymentID -> Deployment metadata (spec §4.2).
type DeploymentPouch struct {
	deployments map[core.DeploymentID]*core.Deployment
}

// NewDeploymentPouch returns an empty DeploymentPouch.
func NewDeploymentPouch() *DeploymentPouch {
	return &DeploymentPouch{deployments: make(map[core.DeploymentID]*core.Deployment)}
}

// Get returns the Deployment for id, if present.
func (p *DeploymentPouch) Get(id core.DeploymentID) (*core.Deployment, bool) {
	d, ok := p.deployments[id]
	return d, ok
}

// Put inserts or replaces a Deployment record.
func (p *DeploymentPouch) Put(d *core.Deployment) { p.deployments[d.ID] = d }

// List returns every Deployment, in no particular order.
func (p *DeploymentPouch) List() []*core.Deployment {
	out := make([]*core.Deployment, 0, len(p.deployments))
	for _, d := range p.deployments {
		out = append(out, d)
	}
	return out
}

func deploymentFileName(id core.DeploymentID) string { return fmt.Sprintf("%s.json", id) }

// Save writes one file per deployment under dir/deployments (spec §6
// layout: deployments/<deployment_id>.json).
func (p *DeploymentPouch) Save(fs afero.Fs, dir string) error {
	deploymentsDir := filepath.Join(dir, "deployments")
	if err := fs.MkdirAll(deploymentsDir, 0o755); err != nil {
		return fmt.Errorf("pouch: mkdir %s: %w", deploymentsDir, err)
	}
	for _, d := range p.deployments {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("pouch: marshal deployment %s: %w", d.ID, err)
		}
		path := filepath.Join(deploymentsDir, deploymentFileName(d.ID))
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			return fmt.Errorf("pouch: write %s: %w", path, err)
		}
	}
	return nil
}

// Load reads every deployment file under dir/deployments.
func (p *DeploymentPouch) Load(fs afero.Fs, dir string) error {
	deploymentsDir := filepath.Join(dir, "deployments")
	entries, err := afero.ReadDir(fs, deploymentsDir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("pouch: read dir %s: %w", deploymentsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(deploymentsDir, entry.Name())
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			klog.Warningf("pouch: skipping unreadable deployment file %s: %v", path, err)
			continue
		}
		var d core.Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			klog.Warningf("pouch: skipping corrupt deployment file %s: %v", path, err)
			continue
		}
		p.deployments[d.ID] = &d
	}
	return nil
}
