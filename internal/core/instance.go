package core

import "github.com/scoutflo/flecsd-core/internal/manifest"

// Status is the per-instance lifecycle state (spec §3).
type Status string

const (
	StatusCreated        Status = "Created"
	StatusNotCreated     Status = "NotCreated"
	StatusRequested      Status = "Requested"
	StatusResourcesReady Status = "ResourcesReady"
	StatusStopped        Status = "Stopped"
	StatusRunning        Status = "Running"
	StatusOrphaned       Status = "Orphaned"
	StatusUnknown        Status = "Unknown"
)

// IsFinished matches spec §3's quest-style reasoning set.
func (s Status) IsFinished() bool {
	switch s {
	case StatusStopped, StatusCreated, StatusNotCreated:
		return true
	default:
		return false
	}
}

// ProviderKind tags a ProviderReference variant.
type ProviderKind string

const (
	ProviderKindInstance ProviderKind = "provider"
	ProviderKindBuiltin  ProviderKind = "builtin"
)

// ProviderReference identifies how a dependency is satisfied (spec §3).
type ProviderReference struct {
	Kind     ProviderKind
	Provider InstanceID // valid only when Kind == ProviderKindInstance
}

// PortMappingKind tags a PortMapping variant.
type PortMappingKind string

const (
	PortMappingSingle PortMappingKind = "single"
	PortMappingRange  PortMappingKind = "range"
)

// PortRange is an inclusive [Start, End] host or container port range.
type PortRange struct {
	Start int
	End   int
}

// Size returns the number of ports the range covers.
func (r PortRange) Size() int { return r.End - r.Start + 1 }

// PortMapping is one host<->container port binding for one protocol
// (spec §3): either a single host/container pair, or a same-sized range.
type PortMapping struct {
	Kind PortMappingKind

	// Single variant.
	Host      int
	Container int

	// Range variant.
	From PortRange
	To   PortRange
}

// HostRange returns the mapping's host-port span as a PortRange, valid for
// both variants — used for overlap checks.
func (m PortMapping) HostRange() PortRange {
	if m.Kind == PortMappingSingle {
		return PortRange{Start: m.Host, End: m.Host}
	}
	return m.From
}

// UsbDevice is a bound USB passthrough, recording bus/device numbers at the
// moment of binding (spec §3/§4.3).
type UsbDevice struct {
	Port    string
	BusNum  int
	DevNum  int
}

// AuthProviderConfig is the one currently-defined provider config variant
// (spec §3: "providers: { auth?: {port} }").
type AuthProviderConfig struct {
	Port int
}

// InstanceConfig is the docker variant's runtime-mutable configuration
// (spec §3).
type InstanceConfig struct {
	PortMapping          map[manifest.Protocol][]PortMapping
	EnvironmentVariables []manifest.EnvVar
	Labels               []manifest.Label
	UsbDevices           map[string]UsbDevice
	VolumeMounts         []manifest.Mount
	BindMounts           []manifest.Mount
	Networks             map[NetworkID]string // assigned IPv4, as dotted-quad string
	AuthProvider         *AuthProviderConfig
}

// NewInstanceConfig returns a zero-value, ready-to-use InstanceConfig.
func NewInstanceConfig() *InstanceConfig {
	return &InstanceConfig{
		PortMapping: make(map[manifest.Protocol][]PortMapping),
		UsbDevices:  make(map[string]UsbDevice),
		Networks:    make(map[NetworkID]string),
	}
}

// Variant tags which payload an Instance carries.
type Variant string

const (
	VariantDocker  Variant = "docker"
	VariantCompose Variant = "compose"
)

// Instance is the tagged Docker/Compose instance variant (spec §3).
type Instance struct {
	ID           InstanceID
	Name         string
	AppKey       manifest.AppKey
	DeploymentID DeploymentID
	Variant      Variant
	Status       Status

	// Docker variant.
	Config       *InstanceConfig
	Dependencies map[string]ProviderReference // feature -> provider

	// Compose variant.
	ComposeProject string
}

// IsDocker reports whether this is the Docker-backed instance variant.
func (i *Instance) IsDocker() bool { return i.Variant == VariantDocker }
