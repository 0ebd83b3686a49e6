package pouch

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/scoutflo/flecsd-core/internal/core"
)

// ProviderPouch is the provider/feature registry: which instances provide
// which features, the default provider per feature, and the distinguished
// core auth slot (spec §4.2, §4.7).
type ProviderPouch struct {
	// provides[instance] is the set of features that instance provides.
	provides map[core.InstanceID]map[string]struct{}
	// defaultProviders[feature] is the default provider instance for feature.
	defaultProviders map[string]core.InstanceID
	coreAuth         *core.InstanceID
}

// NewProviderPouch returns an empty ProviderPouch.
func NewProviderPouch() *ProviderPouch {
	return &ProviderPouch{
		provides:         make(map[core.InstanceID]map[string]struct{}),
		defaultProviders: make(map[string]core.InstanceID),
	}
}

// RegisterProvider records that instance provides feature.
func (p *ProviderPouch) RegisterProvider(instance core.InstanceID, feature string) {
	set, ok := p.provides[instance]
	if !ok {
		set = make(map[string]struct{})
		p.provides[instance] = set
	}
	set[feature] = struct{}{}
}

// UnregisterProvider removes instance as a provider of feature.
func (p *ProviderPouch) UnregisterProvider(instance core.InstanceID, feature string) {
	if set, ok := p.provides[instance]; ok {
		delete(set, feature)
		if len(set) == 0 {
			delete(p.provides, instance)
		}
	}
}

// Provides reports whether instance provides feature.
func (p *ProviderPouch) Provides(instance core.InstanceID, feature string) bool {
	set, ok := p.provides[instance]
	if !ok {
		return false
	}
	_, ok = set[feature]
	return ok
}

// FeaturesOf returns the features instance currently provides, for callers
// that need to sweep every registration when an instance is deleted.
func (p *ProviderPouch) FeaturesOf(instance core.InstanceID) []string {
	set, ok := p.provides[instance]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

// SetDefaultProvider sets the default provider for feature.
func (p *ProviderPouch) SetDefaultProvider(feature string, instance core.InstanceID) {
	p.defaultProviders[feature] = instance
}

// DefaultProvider returns the default provider for feature, if set.
func (p *ProviderPouch) DefaultProvider(feature string) (core.InstanceID, bool) {
	id, ok := p.defaultProviders[feature]
	return id, ok
}

// ClearDefaultProvider removes feature's default provider entry, if it
// points at instance (a no-op otherwise, so callers can fire-and-forget on
// delete without racing a newer default).
func (p *ProviderPouch) ClearDefaultProvider(feature string, instance core.InstanceID) {
	if id, ok := p.defaultProviders[feature]; ok && id == instance {
		delete(p.defaultProviders, feature)
	}
}

// SetCoreAuthProvider pins the distinguished core_providers.auth slot.
func (p *ProviderPouch) SetCoreAuthProvider(instance core.InstanceID) {
	id := instance
	p.coreAuth = &id
}

// CoreAuthProvider returns the core auth provider instance, if pinned.
func (p *ProviderPouch) CoreAuthProvider() (core.InstanceID, bool) {
	if p.coreAuth == nil {
		return 0, false
	}
	return *p.coreAuth, true
}

// IsPinned reports whether instance must not be deleted: it is the default
// provider for some feature, or it is the core auth provider (spec §3/§4.7).
func (p *ProviderPouch) IsPinned(instance core.InstanceID) bool {
	for _, id := range p.defaultProviders {
		if id == instance {
			return true
		}
	}
	id, ok := p.CoreAuthProvider()
	return ok && id == instance
}

type jsonProviderPouch struct {
	Provides         map[string][]string      `json:"provides,omitempty"`
	DefaultProviders map[string]core.InstanceID `json:"defaultProviders,omitempty"`
	CoreAuth         *core.InstanceID          `json:"coreAuth,omitempty"`
}

// Save writes the registry to dir/providers.json (spec §6 layout).
func (p *ProviderPouch) Save(fs afero.Fs, dir string) error {
	raw := jsonProviderPouch{DefaultProviders: p.defaultProviders, CoreAuth: p.coreAuth}
	if len(p.provides) > 0 {
		raw.Provides = make(map[string][]string, len(p.provides))
		for instance, set := range p.provides {
			features := make([]string, 0, len(set))
			for f := range set {
				features = append(features, f)
			}
			raw.Provides[instance.String()] = features
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("pouch: marshal providers: %w", err)
	}
	path := filepath.Join(dir, "providers.json")
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("pouch: write %s: %w", path, err)
	}
	return nil
}

// Load reads dir/providers.json, if present.
func (p *ProviderPouch) Load(fs afero.Fs, dir string) error {
	path := filepath.Join(dir, "providers.json")
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("pouch: read %s: %w", path, err)
	}
	var raw jsonProviderPouch
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("pouch: corrupt providers file %s: %w", path, err)
	}
	if raw.DefaultProviders != nil {
		p.defaultProviders = raw.DefaultProviders
	}
	p.coreAuth = raw.CoreAuth
	for instanceStr, features := range raw.Provides {
		instance, err := core.ParseInstanceID(instanceStr)
		if err != nil {
			continue
		}
		for _, f := range features {
			p.RegisterProvider(instance, f)
		}
	}
	return nil
}
