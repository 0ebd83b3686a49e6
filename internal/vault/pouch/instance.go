package pouch

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

// InstancePouch maps InstanceID -> Instance, plus the free-pool ledgers
// reservation methods mutate (spec §4.2).
type InstancePouch struct {
	instances map[core.InstanceID]*core.Instance

	// reservedIPs[network][ip] marks an IPv4 address as taken.
	reservedIPs map[core.NetworkID]map[string]struct{}
	// reservedProviderPorts[feature] marks a provider port as taken.
	reservedProviderPorts map[string]int
}

// NewInstancePouch returns an empty InstancePouch.
func NewInstancePouch() *InstancePouch {
	return &InstancePouch{
		instances:             make(map[core.InstanceID]*core.Instance),
		reservedIPs:           make(map[core.NetworkID]map[string]struct{}),
		reservedProviderPorts: make(map[string]int),
	}
}

// Get returns the Instance for id, if present.
func (p *InstancePouch) Get(id core.InstanceID) (*core.Instance, bool) {
	inst, ok := p.instances[id]
	return inst, ok
}

// Put inserts or replaces an Instance.
func (p *InstancePouch) Put(inst *core.Instance) { p.instances[inst.ID] = inst }

// Delete removes an Instance.
func (p *InstancePouch) Delete(id core.InstanceID) { delete(p.instances, id) }

// List returns every Instance, in no particular order.
func (p *InstancePouch) List() []*core.Instance {
	out := make([]*core.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	return out
}

// ReserveIP marks ip as taken on network. Callers must already hold the
// exclusive InstancePouch reservation.
func (p *InstancePouch) ReserveIP(network core.NetworkID, ip string) {
	set, ok := p.reservedIPs[network]
	if !ok {
		set = make(map[string]struct{})
		p.reservedIPs[network] = set
	}
	set[ip] = struct{}{}
}

// ClearIP releases ip's reservation on network.
func (p *InstancePouch) ClearIP(network core.NetworkID, ip string) {
	if set, ok := p.reservedIPs[network]; ok {
		delete(set, ip)
	}
}

// IsIPReserved reports whether ip is currently reserved on network.
func (p *InstancePouch) IsIPReserved(network core.NetworkID, ip string) bool {
	set, ok := p.reservedIPs[network]
	if !ok {
		return false
	}
	_, reserved := set[ip]
	return reserved
}

// ReserveProviderPort marks port as taken for feature.
func (p *InstancePouch) ReserveProviderPort(feature string, port int) {
	p.reservedProviderPorts[feature] = port
}

// ClearProviderPort releases feature's reserved port.
func (p *InstancePouch) ClearProviderPort(feature string) {
	delete(p.reservedProviderPorts, feature)
}

// IsProviderPortReserved reports whether port is reserved for any feature.
func (p *InstancePouch) IsProviderPortReserved(port int) bool {
	for _, reserved := range p.reservedProviderPorts {
		if reserved == port {
			return true
		}
	}
	return false
}

type jsonPortMapping struct {
	Kind      core.PortMappingKind `json:"kind"`
	Host      int                  `json:"host,omitempty"`
	Container int                  `json:"container,omitempty"`
	FromStart int                  `json:"fromStart,omitempty"`
	FromEnd   int                  `json:"fromEnd,omitempty"`
	ToStart   int                  `json:"toStart,omitempty"`
	ToEnd     int                  `json:"toEnd,omitempty"`
}

type jsonInstance struct {
	ID             string                                  `json:"id"`
	Name           string                                  `json:"name"`
	AppName        string                                  `json:"appName"`
	AppVersion     string                                  `json:"appVersion"`
	DeploymentID   core.DeploymentID                        `json:"deploymentId"`
	Variant        core.Variant                             `json:"variant"`
	Status         core.Status                              `json:"status"`
	PortMapping    map[manifest.Protocol][]jsonPortMapping  `json:"portMapping,omitempty"`
	Env            []manifest.EnvVar                        `json:"env,omitempty"`
	Labels         []manifest.Label                         `json:"labels,omitempty"`
	UsbDevices     map[string]core.UsbDevice                `json:"usbDevices,omitempty"`
	VolumeMounts   []manifest.Mount                         `json:"volumeMounts,omitempty"`
	BindMounts     []manifest.Mount                         `json:"bindMounts,omitempty"`
	Networks       map[core.NetworkID]string                `json:"networks,omitempty"`
	AuthProvider   *core.AuthProviderConfig                 `json:"authProvider,omitempty"`
	Dependencies   map[string]core.ProviderReference        `json:"dependencies,omitempty"`
	ComposeProject string                                   `json:"composeProject,omitempty"`
}

func toJSONMapping(m core.PortMapping) jsonPortMapping {
	return jsonPortMapping{
		Kind: m.Kind, Host: m.Host, Container: m.Container,
		FromStart: m.From.Start, FromEnd: m.From.End, ToStart: m.To.Start, ToEnd: m.To.End,
	}
}

func fromJSONMapping(j jsonPortMapping) core.PortMapping {
	return core.PortMapping{
		Kind: j.Kind, Host: j.Host, Container: j.Container,
		From: core.PortRange{Start: j.FromStart, End: j.FromEnd},
		To:   core.PortRange{Start: j.ToStart, End: j.ToEnd},
	}
}

func instanceFileName(id core.InstanceID) string { return fmt.Sprintf("%s.json", id) }

// Save writes one file per instance under dir/instances/<id>/<id>.json
// (spec §6 layout).
func (p *InstancePouch) Save(fs afero.Fs, dir string) error {
	root := filepath.Join(dir, "instances")
	for _, inst := range p.instances {
		instDir := filepath.Join(root, inst.ID.String())
		if err := fs.MkdirAll(instDir, 0o755); err != nil {
			return fmt.Errorf("pouch: mkdir %s: %w", instDir, err)
		}
		raw := jsonInstance{
			ID: inst.ID.String(), Name: inst.Name,
			AppName: inst.AppKey.Name, AppVersion: inst.AppKey.Version,
			DeploymentID: inst.DeploymentID, Variant: inst.Variant, Status: inst.Status,
			ComposeProject: inst.ComposeProject, Dependencies: inst.Dependencies,
		}
		if inst.Config != nil {
			raw.PortMapping = make(map[manifest.Protocol][]jsonPortMapping, len(inst.Config.PortMapping))
			for proto, mappings := range inst.Config.PortMapping {
				for _, m := range mappings {
					raw.PortMapping[proto] = append(raw.PortMapping[proto], toJSONMapping(m))
				}
			}
			raw.Env = inst.Config.EnvironmentVariables
			raw.Labels = inst.Config.Labels
			raw.UsbDevices = inst.Config.UsbDevices
			raw.VolumeMounts = inst.Config.VolumeMounts
			raw.BindMounts = inst.Config.BindMounts
			raw.Networks = inst.Config.Networks
			raw.AuthProvider = inst.Config.AuthProvider
		}
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return fmt.Errorf("pouch: marshal instance %s: %w", inst.ID, err)
		}
		path := filepath.Join(instDir, instanceFileName(inst.ID))
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			return fmt.Errorf("pouch: write %s: %w", path, err)
		}
	}
	return nil
}

// Load reads every instance directory under dir/instances, tolerating
// individually corrupt entries (spec §1 best-effort persistence).
func (p *InstancePouch) Load(fs afero.Fs, dir string) error {
	root := filepath.Join(dir, "instances")
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("pouch: read dir %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), entry.Name()+".json")
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			klog.Warningf("pouch: skipping unreadable instance file %s: %v", path, err)
			continue
		}
		var raw jsonInstance
		if err := json.Unmarshal(data, &raw); err != nil {
			klog.Warningf("pouch: skipping corrupt instance file %s: %v", path, err)
			continue
		}
		id, err := core.ParseInstanceID(raw.ID)
		if err != nil {
			klog.Warningf("pouch: skipping instance file %s with bad id: %v", path, err)
			continue
		}
		inst := &core.Instance{
			ID: id, Name: raw.Name,
			AppKey:         manifest.AppKey{Name: raw.AppName, Version: raw.AppVersion},
			DeploymentID:   raw.DeploymentID,
			Variant:        raw.Variant,
			Status:         raw.Status,
			ComposeProject: raw.ComposeProject,
			Dependencies:   raw.Dependencies,
		}
		if inst.Variant == core.VariantDocker {
			cfg := core.NewInstanceConfig()
			for proto, mappings := range raw.PortMapping {
				for _, m := range mappings {
					cfg.PortMapping[proto] = append(cfg.PortMapping[proto], fromJSONMapping(m))
				}
			}
			cfg.EnvironmentVariables = raw.Env
			cfg.Labels = raw.Labels
			if raw.UsbDevices != nil {
				cfg.UsbDevices = raw.UsbDevices
			}
			cfg.VolumeMounts = raw.VolumeMounts
			cfg.BindMounts = raw.BindMounts
			if raw.Networks != nil {
				cfg.Networks = raw.Networks
			}
			cfg.AuthProvider = raw.AuthProvider
			inst.Config = cfg
		}
		p.instances[id] = inst

		for netID, ip := range raw.Networks {
			p.ReserveIP(netID, ip)
		}
		if raw.AuthProvider != nil {
			p.ReserveProviderPort("auth", raw.AuthProvider.Port)
		}
	}
	return nil
}
