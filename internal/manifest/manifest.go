// Package manifest implements the App manifest data model (spec §3) and the
// schema-versioned conversion layer described in SPEC_FULL.md, grounded on
// original_source/flecs_app_manifest/src/generated/manifest_3_0_0.rs and
// conversion.rs.
package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

var appNamePattern = regexp.MustCompile(`^([a-z]+[a-z0-9.\-_]+[a-z0-9])$`)

// AppKey identifies an App by (name, version). Version is an opaque,
// sortable string (spec §3).
type AppKey struct {
	Name    string
	Version string
}

func (k AppKey) String() string { return fmt.Sprintf("%s-%s", k.Name, k.Version) }

// Validate checks the name against the reverse-DNS pattern spec §3 requires.
func (k AppKey) Validate() error {
	if !appNamePattern.MatchString(k.Name) {
		return fmt.Errorf("app name %q does not match %s", k.Name, appNamePattern.String())
	}
	if k.Version == "" {
		return fmt.Errorf("app version must not be empty")
	}
	return nil
}

// Capability is one of the fixed, validated set of Linux/Docker
// capabilities a Single manifest may request.
type Capability string

const (
	CapNetAdmin  Capability = "NET_ADMIN"
	CapSysNice   Capability = "SYS_NICE"
	CapIPCLock   Capability = "IPC_LOCK"
	CapDocker    Capability = "DOCKER"
	CapBluetooth Capability = "BLUETOOTH"
)

var knownCapabilities = map[Capability]struct{}{
	CapNetAdmin: {}, CapSysNice: {}, CapIPCLock: {}, CapDocker: {}, CapBluetooth: {},
}

// ValidateCapability rejects unknown capability strings as ConfigInvalid
// material (SPEC_FULL.md §3).
func ValidateCapability(c Capability) error {
	if _, ok := knownCapabilities[c]; !ok {
		return fmt.Errorf("unknown capability %q", c)
	}
	return nil
}

// ConfFile is a manifest-declared config file an instance may bind a host
// path to (SPEC_FULL.md §3).
type ConfFile struct {
	Name          string
	ContainerPath string
	LocalPath     string
	ReadOnly      bool
}

// Device is a manifest-declared passthrough candidate.
type Device struct {
	USB     bool
	Hotplug bool
}

// Editor describes one instance-exposed editor/UI port.
type Editor struct {
	Name                 string
	Port                 int
	SupportsReverseProxy bool
}

// Validate checks the editor's port is in the valid TCP port range.
func (e Editor) Validate() error {
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("editor %q port %d out of range 1..65535", e.Name, e.Port)
	}
	return nil
}

// Label is a manifest-default key/value pair; instance overrides win.
type Label struct {
	Key   string
	Value *string
}

// EnvVar is a manifest-default environment variable.
type EnvVar struct {
	Name  string
	Value *string
}

// Protocol is a transport protocol for port mappings.
type Protocol string

const (
	ProtoTCP  Protocol = "tcp"
	ProtoUDP  Protocol = "udp"
	ProtoSCTP Protocol = "sctp"
)

// Port is a manifest-default port declaration, single or range.
type Port struct {
	Protocol Protocol
	Single   *int
	RangeLo  *int
	RangeHi  *int
}

// MountKind tags a Mount variant.
type MountKind string

const (
	MountVolume MountKind = "volume"
	MountBind   MountKind = "bind"
)

// Mount is a manifest-default volume or bind mount.
type Mount struct {
	Kind          MountKind
	VolumeName    string
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Single is the single-image App manifest variant (spec §3).
type Single struct {
	Image                string
	Args                 []string
	Capabilities         []Capability
	ConfFiles            []ConfFile
	Devices              []Device
	Editors              []Editor
	Env                  []EnvVar
	Labels               []Label
	Ports                []Port
	Volumes              []Mount
	MinimumFlecsVersion  string
	Hostname             string
	MultiInstance        bool
	Revision             string
	Interactive          bool
}

// Multi is the compose-document App manifest variant (spec §3).
type Multi struct {
	ComposeYAML string
	Revision    string
}

// Kind tags which variant an AppManifest carries.
type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
)

// AppManifest is the authoritative schema for what an App expects
// (spec §3): a tagged Single/Multi variant bound to an AppKey.
type AppManifest struct {
	Key    AppKey
	Kind   Kind
	Single *Single
	Multi  *Multi
}

// Validate rejects manifests with an invalid key, unknown capabilities, or
// out-of-range editor ports.
func (m *AppManifest) Validate() error {
	if err := m.Key.Validate(); err != nil {
		return err
	}
	switch m.Kind {
	case KindSingle:
		if m.Single == nil {
			return fmt.Errorf("manifest %s tagged Single but carries no Single payload", m.Key)
		}
		for _, c := range m.Single.Capabilities {
			if err := ValidateCapability(c); err != nil {
				return err
			}
		}
		for _, e := range m.Single.Editors {
			if err := e.Validate(); err != nil {
				return err
			}
		}
		if _, pinned, err := imageDigest(m.Single.Image); pinned && err != nil {
			return fmt.Errorf("manifest %s: image %q: %w", m.Key, m.Single.Image, err)
		}
	case KindMulti:
		if m.Multi == nil {
			return fmt.Errorf("manifest %s tagged Multi but carries no Multi payload", m.Key)
		}
	default:
		return fmt.Errorf("manifest %s has unknown kind %q", m.Key, m.Kind)
	}
	return nil
}

// imageDigest splits a digest-pinned image reference ("repo@sha256:...")
// and parses the digest half, reporting whether the reference is pinned at
// all so callers can ignore tag-only references.
func imageDigest(image string) (digest.Digest, bool, error) {
	idx := strings.LastIndex(image, "@")
	if idx < 0 {
		return "", false, nil
	}
	d, err := digest.Parse(image[idx+1:])
	if err != nil {
		return "", true, err
	}
	return d, true, nil
}
