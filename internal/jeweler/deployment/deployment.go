// Package deployment defines the abstract capability-set contract the
// instance engine drives (spec §4.5): the Deployment adapter. Variants are
// Docker (single-container) and Compose (multi-container); Compose
// implements only the Instance subset.
package deployment

import (
	"context"
	"io"

	"github.com/scoutflo/flecsd-core/internal/core"
)

// AppID identifies an installed image/app inside the runtime (spec §4.5).
type AppID string

// VolumeID identifies a runtime-managed volume.
type VolumeID string

// AppInfo is the runtime's view of an installed app/image.
type AppInfo struct {
	ID       AppID
	Size     int64
	ImageRef string
}

// ConfigFile is one manifest config file the adapter copies into/out of a
// container around start/stop (spec §4.5 "Config-file copy discipline").
type ConfigFile struct {
	HostFileName      string
	ContainerFilePath string
}

// Logs is the captured stdout/stderr of a container (spec §4.5).
type Logs struct {
	Stdout string
	Stderr string
}

// StartConfig carries everything the Instance variant needs to start a
// container (spec §3 InstanceConfig plus the manifest's image/args/caps).
type StartConfig struct {
	Image        string
	Args         []string
	Capabilities []string
	Hostname     string
	Env          []string
	Labels       map[string]string
	PortBindings map[core.NetworkID]string // unused placeholder kept minimal; real port wiring in instance engine
	Ports        map[string][]PortBinding  // "80/tcp" -> host bindings
	Mounts       []MountSpec
	Networks     map[core.NetworkID]string // network -> desired IPv4
	Interactive  bool
}

// PortBinding is one host-port binding for a container port.
type PortBinding struct {
	HostIP   string
	HostPort string
}

// MountSpec is one bind or named-volume mount.
type MountSpec struct {
	Source      string // host path or volume name
	Target      string
	IsBindMount bool
	ReadOnly    bool
}

// AppOps is the image-facing capability set.
type AppOps interface {
	InstallApp(ctx context.Context, manifestImage string, token *string) (AppID, error)
	UninstallApp(ctx context.Context, id AppID) error
	AppInfo(ctx context.Context, id AppID) (*AppInfo, error)
	CopyFromAppImage(ctx context.Context, image string, src, dst string, isDstFile bool) error
}

// VolumeOps is the volume-facing capability set.
type VolumeOps interface {
	CreateVolume(ctx context.Context, name string) (VolumeID, error)
	DeleteVolume(ctx context.Context, id VolumeID) error
	ImportVolume(ctx context.Context, archive io.Reader, name, helperImage string) error
	ExportVolume(ctx context.Context, id VolumeID, path, helperImage string) error
	ListVolumesFor(ctx context.Context, instance core.InstanceID) ([]VolumeID, error)
	ExportAllVolumesFor(ctx context.Context, instance core.InstanceID, path, helperImage string) error
}

// NetworkOps is the network-facing capability set.
type NetworkOps interface {
	CreateNetwork(ctx context.Context, cfg core.Network) (core.NetworkID, error)
	DefaultNetwork(ctx context.Context) (*core.Network, error)
	DeleteNetwork(ctx context.Context, id core.NetworkID) error
	InspectNetwork(ctx context.Context, id core.NetworkID) (*core.Network, error)
	ListNetworks(ctx context.Context) ([]core.Network, error)
	ConnectNetwork(ctx context.Context, id core.NetworkID, ip string, instance core.InstanceID) error
	DisconnectNetwork(ctx context.Context, id core.NetworkID, instance core.InstanceID) error
}

// InstanceOps is the container-facing capability set. Both the Docker and
// Compose variants implement this; only Docker implements AppOps/VolumeOps/
// NetworkOps (spec §9 "compose instances only implement the instance
// subset").
type InstanceOps interface {
	StartInstance(ctx context.Context, cfg StartConfig, existing *core.InstanceID, files []ConfigFile) (core.InstanceID, error)
	StopInstance(ctx context.Context, id core.InstanceID, files []ConfigFile) error
	DeleteInstance(ctx context.Context, id core.InstanceID) (bool, error)
	InstanceStatus(ctx context.Context, id core.InstanceID) (core.Status, error)
	InstanceLogs(ctx context.Context, id core.InstanceID) (*Logs, error)
	CopyToInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error
	CopyFromInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error
}

// Adapter is the full capability-set trait object spec §9 calls for: a
// single interface composing every operation group, implemented in full by
// the Docker variant. Compose adapters satisfy only InstanceOps and return
// ferr.Unsupported from the rest.
type Adapter interface {
	AppOps
	VolumeOps
	NetworkOps
	InstanceOps
	ID() core.DeploymentID
	Kind() core.DeploymentKind
}
