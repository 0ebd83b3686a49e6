package manifest

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"
)

// rawEnvelope mirrors the on-the-wire schema-versioned manifest format
// (SPEC_FULL.md §3): a single JSON envelope tagging its schema and either a
// single-image payload or a compose document. Future schema bumps are
// expected to add new raw*/convert* pairs, not touch AppManifest itself —
// this mirrors the original's split between generated/manifest_3_0_0.rs and
// conversion.rs.
type rawEnvelope struct {
	Schema  string          `json:"_schema"`
	App     string          `json:"app"`
	Version string          `json:"version"`
	Single  *rawSingle      `json:"single,omitempty"`
	Compose json.RawMessage `json:"compose,omitempty"`
}

type rawSingle struct {
	Image               string       `json:"image"`
	Args                []string     `json:"args,omitempty"`
	Capabilities        []string     `json:"capabilities,omitempty"`
	ConfFiles           []rawConf    `json:"conffiles,omitempty"`
	Devices             []rawDevice  `json:"devices,omitempty"`
	Editors             []rawEditor  `json:"editors,omitempty"`
	Env                 []rawKV      `json:"env,omitempty"`
	Labels              []rawKV      `json:"labels,omitempty"`
	Ports               []rawPort    `json:"ports,omitempty"`
	Volumes             []rawMount   `json:"volumes,omitempty"`
	MinimumFlecsVersion string       `json:"minimumFlecsVersion,omitempty"`
	Hostname            string       `json:"hostname,omitempty"`
	MultiInstance       bool         `json:"multiInstance,omitempty"`
	Revision            string       `json:"revision,omitempty"`
	Interactive         bool         `json:"interactive,omitempty"`
}

type rawConf struct {
	Name          string `json:"name"`
	ContainerPath string `json:"containerPath"`
	LocalPath     string `json:"localPath"`
	ReadOnly      bool   `json:"readonly,omitempty"`
}

type rawDevice struct {
	USB     bool `json:"usb,omitempty"`
	Hotplug bool `json:"hotplug,omitempty"`
}

type rawEditor struct {
	Name                 string `json:"name"`
	Port                 int    `json:"port"`
	SupportsReverseProxy bool   `json:"supportsReverseProxy,omitempty"`
}

type rawKV struct {
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

type rawPort struct {
	Protocol string `json:"protocol"`
	Port     *int   `json:"port,omitempty"`
	From     *int   `json:"from,omitempty"`
	To       *int   `json:"to,omitempty"`
}

type rawMount struct {
	Kind          string `json:"kind"`
	VolumeName    string `json:"volumeName,omitempty"`
	HostPath      string `json:"hostPath,omitempty"`
	ContainerPath string `json:"containerPath"`
	ReadOnly      bool   `json:"readonly,omitempty"`
}

// ParseJSON decodes a raw schema-versioned manifest payload into the
// internal AppManifest model.
func ParseJSON(data []byte) (*AppManifest, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("manifest: invalid envelope: %w", err)
	}
	return convert(&env)
}

func convert(env *rawEnvelope) (*AppManifest, error) {
	key := AppKey{Name: env.App, Version: env.Version}
	m := &AppManifest{Key: key}

	switch {
	case env.Single != nil:
		m.Kind = KindSingle
		single, err := convertSingle(env.Single)
		if err != nil {
			return nil, err
		}
		m.Single = single
	case len(env.Compose) > 0:
		m.Kind = KindMulti
		// The compose document arrives either as a YAML string or, as
		// MarshalJSON writes it, as a JSON object.
		composeSrc := []byte(env.Compose)
		var composeStr string
		if err := json.Unmarshal(env.Compose, &composeStr); err == nil {
			composeSrc = []byte(composeStr)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(composeSrc, &doc); err != nil {
			return nil, fmt.Errorf("manifest %s: invalid compose document: %w", key, err)
		}
		composeYAML, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: re-marshal compose document: %w", key, err)
		}
		m.Multi = &Multi{ComposeYAML: string(composeYAML)}
	default:
		return nil, fmt.Errorf("manifest %s: envelope carries neither single nor compose payload", key)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func convertSingle(raw *rawSingle) (*Single, error) {
	s := &Single{
		Image:               raw.Image,
		Args:                raw.Args,
		MinimumFlecsVersion: raw.MinimumFlecsVersion,
		Hostname:            raw.Hostname,
		MultiInstance:       raw.MultiInstance,
		Revision:            raw.Revision,
		Interactive:         raw.Interactive,
	}
	for _, c := range raw.Capabilities {
		s.Capabilities = append(s.Capabilities, Capability(c))
	}
	for _, c := range raw.ConfFiles {
		s.ConfFiles = append(s.ConfFiles, ConfFile{
			Name: c.Name, ContainerPath: c.ContainerPath, LocalPath: c.LocalPath, ReadOnly: c.ReadOnly,
		})
	}
	for _, d := range raw.Devices {
		s.Devices = append(s.Devices, Device{USB: d.USB, Hotplug: d.Hotplug})
	}
	for _, e := range raw.Editors {
		s.Editors = append(s.Editors, Editor{Name: e.Name, Port: e.Port, SupportsReverseProxy: e.SupportsReverseProxy})
	}
	for _, e := range raw.Env {
		s.Env = append(s.Env, EnvVar{Name: e.Key, Value: e.Value})
	}
	for _, l := range raw.Labels {
		s.Labels = append(s.Labels, Label{Key: l.Key, Value: l.Value})
	}
	for _, p := range raw.Ports {
		port := Port{Protocol: Protocol(p.Protocol), Single: p.Port, RangeLo: p.From, RangeHi: p.To}
		s.Ports = append(s.Ports, port)
	}
	for _, v := range raw.Volumes {
		mount := Mount{Kind: MountKind(v.Kind), VolumeName: v.VolumeName, HostPath: v.HostPath, ContainerPath: v.ContainerPath, ReadOnly: v.ReadOnly}
		s.Volumes = append(s.Volumes, mount)
	}
	return s, nil
}

// MarshalJSON re-encodes an AppManifest back to the raw envelope form, used
// when persisting to the Manifest pouch.
func MarshalJSON(m *AppManifest) ([]byte, error) {
	env := rawEnvelope{Schema: "3.0.0", App: m.Key.Name, Version: m.Key.Version}
	switch m.Kind {
	case KindSingle:
		raw := &rawSingle{
			Image:               m.Single.Image,
			Args:                m.Single.Args,
			MinimumFlecsVersion: m.Single.MinimumFlecsVersion,
			Hostname:            m.Single.Hostname,
			MultiInstance:       m.Single.MultiInstance,
			Revision:            m.Single.Revision,
			Interactive:         m.Single.Interactive,
		}
		for _, c := range m.Single.Capabilities {
			raw.Capabilities = append(raw.Capabilities, string(c))
		}
		for _, c := range m.Single.ConfFiles {
			raw.ConfFiles = append(raw.ConfFiles, rawConf{Name: c.Name, ContainerPath: c.ContainerPath, LocalPath: c.LocalPath, ReadOnly: c.ReadOnly})
		}
		for _, d := range m.Single.Devices {
			raw.Devices = append(raw.Devices, rawDevice{USB: d.USB, Hotplug: d.Hotplug})
		}
		for _, e := range m.Single.Editors {
			raw.Editors = append(raw.Editors, rawEditor{Name: e.Name, Port: e.Port, SupportsReverseProxy: e.SupportsReverseProxy})
		}
		for _, e := range m.Single.Env {
			raw.Env = append(raw.Env, rawKV{Key: e.Name, Value: e.Value})
		}
		for _, l := range m.Single.Labels {
			raw.Labels = append(raw.Labels, rawKV{Key: l.Key, Value: l.Value})
		}
		for _, p := range m.Single.Ports {
			raw.Ports = append(raw.Ports, rawPort{Protocol: string(p.Protocol), Port: p.Single, From: p.RangeLo, To: p.RangeHi})
		}
		for _, v := range m.Single.Volumes {
			raw.Volumes = append(raw.Volumes, rawMount{Kind: string(v.Kind), VolumeName: v.VolumeName, HostPath: v.HostPath, ContainerPath: v.ContainerPath, ReadOnly: v.ReadOnly})
		}
		env.Single = raw
	case KindMulti:
		composeJSON, err := yaml.YAMLToJSON([]byte(m.Multi.ComposeYAML))
		if err != nil {
			return nil, fmt.Errorf("manifest %s: compose document is not valid YAML: %w", m.Key, err)
		}
		env.Compose = composeJSON
	}
	return json.MarshalIndent(env, "", "  ")
}
