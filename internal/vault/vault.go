// Package vault implements the process-wide state store: seven pouches
// behind a reservation-based locking protocol, with a single open/close
// file-persistence lifecycle (spec §4.2).
package vault

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// Vault owns the seven pouches and their file-backed persistence.
type Vault struct {
	fs      afero.Fs
	baseDir string

	appMu        sync.RWMutex
	instanceMu   sync.RWMutex
	manifestMu   sync.RWMutex
	deploymentMu sync.RWMutex
	providerMu   sync.RWMutex
	secretMu     sync.RWMutex
	sessionMu    sync.RWMutex

	apps        *pouch.AppPouch
	instances   *pouch.InstancePouch
	manifests   *pouch.ManifestPouch
	deployments *pouch.DeploymentPouch
	providers   *pouch.ProviderPouch
	secrets     *pouch.SecretPouch
	sessions    *pouch.SessionPouch
}

// New constructs a Vault backed by fs rooted at baseDir. Callers must still
// call Open to load persisted state.
func New(fs afero.Fs, baseDir string) *Vault {
	return &Vault{
		fs:          fs,
		baseDir:     baseDir,
		apps:        pouch.NewAppPouch(),
		instances:   pouch.NewInstancePouch(),
		manifests:   pouch.NewManifestPouch(),
		deployments: pouch.NewDeploymentPouch(),
		providers:   pouch.NewProviderPouch(),
		secrets:     pouch.NewSecretPouch(),
		sessions:    pouch.NewSessionPouch(),
	}
}

// Open loads every pouch from disk (spec §4.2). The SessionPouch has no
// on-disk form and is left empty.
func (v *Vault) Open() error {
	if err := v.apps.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open app pouch: %w", err)
	}
	if err := v.instances.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open instance pouch: %w", err)
	}
	if err := v.manifests.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open manifest pouch: %w", err)
	}
	if err := v.deployments.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open deployment pouch: %w", err)
	}
	if err := v.providers.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open provider pouch: %w", err)
	}
	if err := v.secrets.Load(v.fs, v.baseDir); err != nil {
		return fmt.Errorf("vault: open secret pouch: %w", err)
	}
	klog.V(1).Infof("vault: opened at %s", v.baseDir)
	return nil
}

// Close flushes every pouch to disk, combining per-pouch errors into one
// aggregate (spec §4.2).
func (v *Vault) Close() error {
	var result *multierror.Error
	if err := v.apps.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.instances.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.manifests.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.deployments.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.providers.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := v.secrets.Save(v.fs, v.baseDir); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		return fmt.Errorf("vault: close: %w", result)
	}
	klog.V(1).Infof("vault: closed at %s", v.baseDir)
	return nil
}
