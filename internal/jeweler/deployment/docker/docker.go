// Package docker implements the Docker-backed deployment.Adapter: the only
// variant that implements the full capability set (apps, volumes, networks,
// instances). Grounded on the upstream Rust DockerDeployment (spec §4.5).
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	connnat "github.com/docker/go-connections/nat"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment"
)

// DefaultNetworkName is the well-known bridge network flecs creates on first
// use if it does not already exist (spec §4.5).
const DefaultNetworkName = "flecs"

// DefaultGateway is the gateway address of the default bridge network.
var DefaultGateway = net.IPv4(172, 21, 0, 1)

// DefaultCIDR is the address space of the default bridge network.
var DefaultCIDR = &net.IPNet{IP: net.IPv4(172, 21, 0, 0), Mask: net.CIDRMask(16, 32)}

// Deployment is the Docker-backed deployment.Adapter.
type Deployment struct {
	id         core.DeploymentID
	socketPath string
	cli        *client.Client
}

// New dials the Docker engine at socketPath (e.g. "unix:///var/run/docker.sock").
func New(id core.DeploymentID, socketPath string) (*Deployment, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: connect %s", socketPath)
	}
	return &Deployment{id: id, socketPath: socketPath, cli: cli}, nil
}

func (d *Deployment) ID() core.DeploymentID      { return d.id }
func (d *Deployment) Kind() core.DeploymentKind { return core.DeploymentDocker }
func (d *Deployment) Close() error              { return d.cli.Close() }

// --- AppOps -----------------------------------------------------------

func (d *Deployment) InstallApp(ctx context.Context, image string, token *string) (deployment.AppID, error) {
	var opts types.ImagePullOptions
	if token != nil {
		opts.RegistryAuth = *token
	}
	rc, err := d.cli.ImagePull(ctx, image, opts)
	if err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: pull %s", image)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: pull %s: read progress stream", image)
	}
	klog.V(1).Infof("docker: installed app image %s", image)
	return deployment.AppID(image), nil
}

func (d *Deployment) UninstallApp(ctx context.Context, id deployment.AppID) error {
	if _, err := d.cli.ImageRemove(ctx, string(id), types.ImageRemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return ferr.RuntimeBackendf(err, "docker: remove image %s", id)
	}
	return nil
}

func (d *Deployment) AppInfo(ctx context.Context, id deployment.AppID) (*deployment.AppInfo, error) {
	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, string(id))
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ferr.NotFound("app image", string(id))
		}
		return nil, ferr.RuntimeBackendf(err, "docker: inspect image %s", id)
	}
	return &deployment.AppInfo{ID: id, Size: inspect.Size, ImageRef: string(id)}, nil
}

func (d *Deployment) CopyFromAppImage(ctx context.Context, image string, src, dst string, isDstFile bool) error {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{Image: image}, nil, nil, nil, "")
	if err != nil {
		return ferr.RuntimeBackendf(err, "docker: create helper container for %s", image)
	}
	defer func() {
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
	}()
	return copyFromContainer(ctx, d.cli, resp.ID, src, dst, isDstFile)
}

// --- VolumeOps ----------------------------------------------------------

func (d *Deployment) CreateVolume(ctx context.Context, name string) (deployment.VolumeID, error) {
	v, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	if err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: create volume %s", name)
	}
	return deployment.VolumeID(v.Name), nil
}

func (d *Deployment) DeleteVolume(ctx context.Context, id deployment.VolumeID) error {
	if err := d.cli.VolumeRemove(ctx, string(id), true); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return ferr.RuntimeBackendf(err, "docker: remove volume %s", id)
	}
	return nil
}

// ImportVolume and ExportVolume run a short-lived helper container that
// bind-mounts the target volume, and stream a tar archive in or out of it
// via CopyToContainer/CopyFromContainer (spec §4.5 volume import/export).
func (d *Deployment) ImportVolume(ctx context.Context, archive io.Reader, name, helperImage string) error {
	id, err := d.runHelper(ctx, helperImage, name, "/volume")
	if err != nil {
		return err
	}
	defer func() { _ = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}) }()
	if err := d.cli.CopyToContainer(ctx, id, "/volume", archive, types.CopyToContainerOptions{}); err != nil {
		return ferr.RuntimeBackendf(err, "docker: import volume %s", name)
	}
	return nil
}

func (d *Deployment) ExportVolume(ctx context.Context, id deployment.VolumeID, path, helperImage string) error {
	cid, err := d.runHelper(ctx, helperImage, string(id), "/volume")
	if err != nil {
		return err
	}
	defer func() { _ = d.cli.ContainerRemove(ctx, cid, container.RemoveOptions{Force: true}) }()
	rc, _, err := d.cli.CopyFromContainer(ctx, cid, "/volume")
	if err != nil {
		return ferr.RuntimeBackendf(err, "docker: export volume %s", id)
	}
	defer rc.Close()
	return writeArchiveToPath(rc, path)
}

func (d *Deployment) ListVolumesFor(ctx context.Context, instance core.InstanceID) ([]deployment.VolumeID, error) {
	insp, err := d.cli.ContainerInspect(ctx, containerName(instance))
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, ferr.RuntimeBackendf(err, "docker: inspect %s", instance)
	}
	var out []deployment.VolumeID
	for _, m := range insp.Mounts {
		if m.Type == "volume" {
			out = append(out, deployment.VolumeID(m.Name))
		}
	}
	return out, nil
}

func (d *Deployment) ExportAllVolumesFor(ctx context.Context, instance core.InstanceID, path, helperImage string) error {
	vols, err := d.ListVolumesFor(ctx, instance)
	if err != nil {
		return err
	}
	for _, v := range vols {
		if err := d.ExportVolume(ctx, v, path+"/"+string(v)+".tar", helperImage); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployment) runHelper(ctx context.Context, image, volumeName, mountPath string) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{Image: image, Cmd: []string{"sleep", "3600"}},
		&container.HostConfig{Binds: []string{volumeName + ":" + mountPath}},
		nil, nil, "")
	if err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: create helper container")
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: start helper container")
	}
	return resp.ID, nil
}

// --- NetworkOps -----------------------------------------------------------

func (d *Deployment) CreateNetwork(ctx context.Context, cfg core.Network) (core.NetworkID, error) {
	ipamCfg := dockernetwork.IPAM{Driver: "default"}
	if cfg.CIDR != nil {
		pool := dockernetwork.IPAMConfig{Subnet: cfg.CIDR.String()}
		if cfg.Gateway != nil {
			pool.Gateway = cfg.Gateway.String()
		}
		ipamCfg.Config = append(ipamCfg.Config, pool)
	}
	driver := "bridge"
	opts := map[string]string{}
	if cfg.Kind == core.NetworkIPVLAN {
		driver = "ipvlan"
		if cfg.Parent != "" {
			opts["parent"] = cfg.Parent
		}
	}
	resp, err := d.cli.NetworkCreate(ctx, cfg.Name, types.NetworkCreate{
		Driver:  driver,
		IPAM:    &ipamCfg,
		Options: opts,
	})
	if err != nil {
		return "", ferr.RuntimeBackendf(err, "docker: create network %s", cfg.Name)
	}
	return core.NetworkID(resp.ID), nil
}

// DefaultNetwork returns the well-known "flecs" bridge network, creating it
// with its fixed gateway/subnet if it does not exist yet (spec §4.5).
func (d *Deployment) DefaultNetwork(ctx context.Context) (*core.Network, error) {
	nets, err := d.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: list networks")
	}
	for _, n := range nets {
		if n.Name == DefaultNetworkName {
			return d.InspectNetwork(ctx, core.NetworkID(n.ID))
		}
	}
	id, err := d.CreateNetwork(ctx, core.Network{
		Name:    DefaultNetworkName,
		Kind:    core.NetworkBridge,
		CIDR:    DefaultCIDR,
		Gateway: DefaultGateway,
	})
	if err != nil {
		return nil, err
	}
	return d.InspectNetwork(ctx, id)
}

func (d *Deployment) DeleteNetwork(ctx context.Context, id core.NetworkID) error {
	if err := d.cli.NetworkRemove(ctx, string(id)); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return ferr.RuntimeBackendf(err, "docker: remove network %s", id)
	}
	return nil
}

func (d *Deployment) InspectNetwork(ctx context.Context, id core.NetworkID) (*core.Network, error) {
	n, err := d.cli.NetworkInspect(ctx, string(id), types.NetworkInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ferr.NotFound("network", string(id))
		}
		return nil, ferr.RuntimeBackendf(err, "docker: inspect network %s", id)
	}
	out := &core.Network{ID: core.NetworkID(n.ID), Name: n.Name}
	switch n.Driver {
	case "ipvlan":
		out.Kind = core.NetworkIPVLAN
	default:
		out.Kind = core.NetworkBridge
	}
	if len(n.IPAM.Config) > 0 {
		cfg := n.IPAM.Config[0]
		if _, ipnet, err := net.ParseCIDR(cfg.Subnet); err == nil {
			out.CIDR = ipnet
		}
		if cfg.Gateway != "" {
			out.Gateway = net.ParseIP(cfg.Gateway)
		}
	}
	if opt, ok := n.Options["parent"]; ok {
		out.Parent = opt
	}
	return out, nil
}

func (d *Deployment) ListNetworks(ctx context.Context) ([]core.Network, error) {
	nets, err := d.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: list networks")
	}
	out := make([]core.Network, 0, len(nets))
	for _, n := range nets {
		inspected, err := d.InspectNetwork(ctx, core.NetworkID(n.ID))
		if err != nil {
			continue
		}
		out = append(out, *inspected)
	}
	return out, nil
}

func (d *Deployment) ConnectNetwork(ctx context.Context, id core.NetworkID, ip string, instance core.InstanceID) error {
	var settings *dockernetwork.EndpointSettings
	if ip != "" {
		settings = &dockernetwork.EndpointSettings{IPAMConfig: &dockernetwork.EndpointIPAMConfig{IPv4Address: ip}}
	}
	if err := d.cli.NetworkConnect(ctx, string(id), containerName(instance), settings); err != nil {
		return ferr.RuntimeBackendf(err, "docker: connect %s to network %s", instance, id)
	}
	return nil
}

func (d *Deployment) DisconnectNetwork(ctx context.Context, id core.NetworkID, instance core.InstanceID) error {
	if err := d.cli.NetworkDisconnect(ctx, string(id), containerName(instance), true); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return ferr.RuntimeBackendf(err, "docker: disconnect %s from network %s", instance, id)
	}
	return nil
}

// --- InstanceOps ------------------------------------------------------

func containerName(id core.InstanceID) string { return "flecs-" + id.String() }

func (d *Deployment) StartInstance(ctx context.Context, cfg deployment.StartConfig, existing *core.InstanceID, files []deployment.ConfigFile) (core.InstanceID, error) {
	id := core.NewInstanceID()
	if existing != nil {
		id = *existing
	}
	name := containerName(id)

	exposed, bindings, err := toPortSet(cfg.Ports)
	if err != nil {
		return 0, err
	}

	hostCfg := &container.HostConfig{PortBindings: bindings, CapAdd: cfg.Capabilities}
	for _, m := range cfg.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		hostCfg.Binds = append(hostCfg.Binds, bind)
	}

	netCfg := &dockernetwork.NetworkingConfig{EndpointsConfig: map[string]*dockernetwork.EndpointSettings{}}
	for netID, ip := range cfg.Networks {
		ep := &dockernetwork.EndpointSettings{}
		if ip != "" {
			ep.IPAMConfig = &dockernetwork.EndpointIPAMConfig{IPv4Address: ip}
		}
		netCfg.EndpointsConfig[string(netID)] = ep
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Args,
		Hostname:     cfg.Hostname,
		Env:          cfg.Env,
		Labels:       cfg.Labels,
		ExposedPorts: exposed,
		Tty:          cfg.Interactive,
		OpenStdin:    cfg.Interactive,
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return 0, ferr.RuntimeBackendf(err, "docker: create instance %s", id)
	}

	// Config files are copied in before the container starts; if any copy
	// fails, the freshly created container is torn down (spec §4.5 "config
	// file copy discipline").
	for _, f := range files {
		if err := d.CopyToInstance(ctx, id, f.HostFileName, f.ContainerFilePath, true); err != nil {
			_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
			return 0, err
		}
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return 0, ferr.RuntimeBackendf(err, "docker: start instance %s", id)
	}
	return id, nil
}

func (d *Deployment) StopInstance(ctx context.Context, id core.InstanceID, files []deployment.ConfigFile) error {
	if err := d.cli.ContainerStop(ctx, containerName(id), container.StopOptions{}); err != nil {
		if !client.IsErrNotFound(err) {
			return ferr.RuntimeBackendf(err, "docker: stop instance %s", id)
		}
	}
	// Config files are copied back out once the container is stopped, the
	// reverse of the start-time copy-in (spec §4.5).
	for _, f := range files {
		if err := d.CopyFromInstance(ctx, id, f.ContainerFilePath, f.HostFileName, true); err != nil {
			klog.Warningf("docker: copy-out %s from stopped instance %s failed: %v", f.ContainerFilePath, id, err)
		}
	}
	return nil
}

func (d *Deployment) DeleteInstance(ctx context.Context, id core.InstanceID) (bool, error) {
	err := d.cli.ContainerRemove(ctx, containerName(id), container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, ferr.RuntimeBackendf(err, "docker: delete instance %s", id)
	}
	return true, nil
}

func (d *Deployment) InstanceStatus(ctx context.Context, id core.InstanceID) (core.Status, error) {
	insp, err := d.cli.ContainerInspect(ctx, containerName(id))
	if err != nil {
		if client.IsErrNotFound(err) {
			return core.StatusNotCreated, nil
		}
		return core.StatusUnknown, ferr.RuntimeBackendf(err, "docker: inspect instance %s", id)
	}
	if insp.State == nil {
		return core.StatusUnknown, nil
	}
	switch {
	case insp.State.Running:
		return core.StatusRunning, nil
	case insp.State.Status == "created":
		return core.StatusCreated, nil
	default:
		return core.StatusStopped, nil
	}
}

func (d *Deployment) InstanceLogs(ctx context.Context, id core.InstanceID) (*deployment.Logs, error) {
	stdoutR, err := d.cli.ContainerLogs(ctx, containerName(id), container.LogsOptions{ShowStdout: true})
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: logs (stdout) for %s", id)
	}
	defer stdoutR.Close()
	var stdoutBuf bytes.Buffer
	if _, err := io.Copy(&stdoutBuf, stdoutR); err != nil {
		return nil, ferr.IOf(err, "docker: read stdout for %s", id)
	}

	stderrR, err := d.cli.ContainerLogs(ctx, containerName(id), container.LogsOptions{ShowStderr: true})
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: logs (stderr) for %s", id)
	}
	defer stderrR.Close()
	var stderrBuf bytes.Buffer
	if _, err := io.Copy(&stderrBuf, stderrR); err != nil {
		return nil, ferr.IOf(err, "docker: read stderr for %s", id)
	}

	return &deployment.Logs{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}, nil
}

func (d *Deployment) CopyToInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error {
	data, err := tarSingleFile(src, dst, isDstFile)
	if err != nil {
		return err
	}
	if err := d.cli.CopyToContainer(ctx, containerName(id), "/", data, types.CopyToContainerOptions{}); err != nil {
		return ferr.RuntimeBackendf(err, "docker: copy to instance %s", id)
	}
	return nil
}

func (d *Deployment) CopyFromInstance(ctx context.Context, id core.InstanceID, src, dst string, isDstFile bool) error {
	return copyFromContainer(ctx, d.cli, containerName(id), src, dst, isDstFile)
}

// Pause and Unpause suspend/resume all processes in the instance's
// container (spec §4.5). They are not part of the Adapter interface, and
// nothing in this module calls them.
func (d *Deployment) Pause(ctx context.Context, id core.InstanceID) error {
	if err := d.cli.ContainerPause(ctx, containerName(id)); err != nil {
		return ferr.RuntimeBackendf(err, "docker: pause instance %s", id)
	}
	return nil
}

func (d *Deployment) Unpause(ctx context.Context, id core.InstanceID) error {
	if err := d.cli.ContainerUnpause(ctx, containerName(id)); err != nil {
		return ferr.RuntimeBackendf(err, "docker: unpause instance %s", id)
	}
	return nil
}

// ContainerStats returns the raw docker stats JSON stream for one sample
// (non-streaming) (spec §4.5). It is not part of the Adapter interface, and
// nothing in this module calls it.
func (d *Deployment) ContainerStats(ctx context.Context, id core.InstanceID) ([]byte, error) {
	stats, err := d.cli.ContainerStats(ctx, containerName(id), false)
	if err != nil {
		return nil, ferr.RuntimeBackendf(err, "docker: stats for %s", id)
	}
	defer stats.Body.Close()
	return io.ReadAll(stats.Body)
}

// --- helpers ------------------------------------------------------------

func toPortSet(ports map[string][]deployment.PortBinding) (connnat.PortSet, connnat.PortMap, error) {
	exposed := connnat.PortSet{}
	bindings := connnat.PortMap{}
	for portSpec, hostBindings := range ports {
		p := connnat.Port(portSpec)
		exposed[p] = struct{}{}
		for _, hb := range hostBindings {
			bindings[p] = append(bindings[p], connnat.PortBinding{HostIP: hb.HostIP, HostPort: hb.HostPort})
		}
	}
	return exposed, bindings, nil
}

func tarSingleFile(src, dst string, isDstFile bool) (io.Reader, error) {
	data, err := readHostFile(src)
	if err != nil {
		return nil, ferr.IOf(err, "read %s", src)
	}
	name := dst
	if !isDstFile {
		name = strings.TrimRight(dst, "/") + "/" + lastPathElem(src)
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: strings.TrimPrefix(name, "/"), Mode: 0o644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, ferr.IOf(err, "tar header for %s", name)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, ferr.IOf(err, "tar write for %s", name)
	}
	if err := tw.Close(); err != nil {
		return nil, ferr.IOf(err, "tar close for %s", name)
	}
	return &buf, nil
}

func copyFromContainer(ctx context.Context, cli *client.Client, containerID, src, dst string, isDstFile bool) error {
	rc, _, err := cli.CopyFromContainer(ctx, containerID, src)
	if err != nil {
		return ferr.RuntimeBackendf(err, "docker: copy from %s:%s", containerID, src)
	}
	defer rc.Close()
	return writeArchiveToPath(rc, dst)
}

func writeArchiveToPath(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ferr.IOf(err, "read tar stream")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return ferr.IOf(err, "read tar entry %s", hdr.Name)
		}
		if err := writeHostFile(dst, data); err != nil {
			return ferr.IOf(err, "write %s", dst)
		}
		return nil
	}
}

func lastPathElem(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
