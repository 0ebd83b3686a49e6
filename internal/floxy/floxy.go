// Package floxy generates and maintains the nginx reverse-proxy
// configuration that exposes instance editors and redirected host ports
// (spec §4.4), grounded on the original's enchantment::floxy::floxy_impl.
package floxy

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/template"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/core"
)

const (
	serversDirName   = "servers"
	instancesDirName = "instances"
	configExtension  = "conf"
)

// AdditionalLocation is one extra nginx location block beyond an instance's
// primary editor redirect (spec §4.4's additional-location config).
type AdditionalLocation struct {
	Port     int
	Location string
}

// Floxy owns the servers/ and instances/ config trees under BasePath and
// coordinates nginx reloads.
type Floxy struct {
	fs       afero.Fs
	basePath string
	pidFile  string
}

// New returns a Floxy rooted at basePath, reloading the nginx instance whose
// pid is tracked at pidFile.
func New(fs afero.Fs, basePath, pidFile string) *Floxy {
	return &Floxy{fs: fs, basePath: basePath, pidFile: pidFile}
}

func (f *Floxy) serversPath() string   { return filepath.Join(f.basePath, serversDirName) }
func (f *Floxy) instancesPath() string { return filepath.Join(f.basePath, instancesDirName) }

// Start creates the servers/instances trees and clears any pre-existing
// server configs left over from a previous run (spec §4.4).
func (f *Floxy) Start() error {
	if err := f.fs.MkdirAll(f.serversPath(), 0o755); err != nil {
		return fmt.Errorf("floxy: mkdir %s: %w", f.serversPath(), err)
	}
	if err := f.fs.MkdirAll(f.instancesPath(), 0o755); err != nil {
		return fmt.Errorf("floxy: mkdir %s: %w", f.instancesPath(), err)
	}
	return f.ClearServerConfigs()
}

// ClearServerConfigs removes every *.conf entry under servers/, aggregating
// individual failures rather than stopping at the first (spec §4.4
// "startup clears pre-existing server configs").
func (f *Floxy) ClearServerConfigs() error {
	entries, err := afero.ReadDir(f.fs, f.serversPath())
	if err != nil {
		return fmt.Errorf("floxy: read %s: %w", f.serversPath(), err)
	}
	var result *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != "."+configExtension {
			continue
		}
		path := filepath.Join(f.serversPath(), entry.Name())
		if err := f.fs.Remove(path); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
		}
	}
	if result != nil {
		return fmt.Errorf("floxy: could not delete all server configs: %w", result)
	}
	klog.V(1).Infof("floxy: cleared server configs under %s", f.serversPath())
	return nil
}

func instanceEditorLocation(id core.InstanceID, port int) string {
	return fmt.Sprintf("/v2/instances/%s/editor/%d", id, port)
}

var instanceConfigTemplate = template.Must(template.New("instance").Parse(`
location {{.Location}} {
   server_name_in_redirect on;
   return 307 $request_uri/;

   location ~ ^{{.Location}}/(.*) {
      set $upstream http://{{.IP}}:{{.Port}}/$1$is_args$args;
      proxy_pass $upstream;

      proxy_http_version 1.1;

      proxy_set_header Upgrade $http_upgrade;
      proxy_set_header Connection $connection_upgrade;
      proxy_set_header Host $host;
      proxy_set_header X-Forwarded-Proto $scheme;
      proxy_set_header X-Real-IP $remote_addr;
      proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
      proxy_set_header X-Forwarded-Host $host;
      proxy_set_header X-Forwarded-Port $server_port;

      client_max_body_size 0;
      client_body_timeout 30m;
   }
}`))

var locationConfigTemplate = template.Must(template.New("location").Parse(`
location {{.AdditionalLocation}} {
   server_name_in_redirect on;
   return 307 {{.Location}};
}
location ~ ^{{.AdditionalLocation}}/(.*) {
   server_name_in_redirect on;
   return 307 {{.Location}}/$1;
}`))

var serverConfigTemplate = template.Must(template.New("server").Parse(`
server {
   listen {{.HostPort}};
   location / {
      set $upstream http://{{.IP}}:{{.DestPort}};
      proxy_pass $upstream;

      proxy_http_version 1.1;

      proxy_set_header Upgrade $http_upgrade;
      proxy_set_header Connection $connection_upgrade;
      proxy_set_header Host $host;
      proxy_set_header X-Forwarded-Proto $scheme;
      proxy_set_header X-Real-IP $remote_addr;
      proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
      proxy_set_header X-Forwarded-Host $host;
      proxy_set_header X-Forwarded-Port $server_port;

      client_max_body_size 0;
      client_body_timeout 30m;
   }
}`))

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("floxy: template render: %v", err))
	}
	return buf.String()
}

func createInstanceConfig(ip net.IP, port int, location string) string {
	return render(instanceConfigTemplate, struct {
		IP       net.IP
		Port     int
		Location string
	}{ip, port, location})
}

func createLocationConfig(location, additionalLocation string) string {
	return render(locationConfigTemplate, struct{ Location, AdditionalLocation string }{location, additionalLocation})
}

func createServerConfig(ip net.IP, hostPort, destPort int) string {
	return render(serverConfigTemplate, struct {
		IP       net.IP
		HostPort int
		DestPort int
	}{ip, hostPort, destPort})
}

func (f *Floxy) buildServerConfigPath(appName string, id core.InstanceID, hostPort int) string {
	return filepath.Join(f.serversPath(), fmt.Sprintf("%s-%s_%d.%s", appName, id, hostPort, configExtension))
}

func (f *Floxy) buildInstanceConfigPath(appName string, id core.InstanceID) string {
	return filepath.Join(f.instancesPath(), fmt.Sprintf("%s-%s.%s", appName, id, configExtension))
}

func (f *Floxy) buildInstanceLocationsConfigPath(appName string, id core.InstanceID) string {
	return filepath.Join(f.instancesPath(), fmt.Sprintf("%s-%s-locations.%s", appName, id, configExtension))
}

// add writes config to path, returning true if the file was created or its
// content changed, false if the identical content was already there
// (content-addressed write-if-different, spec §4.4).
func (f *Floxy) add(config, path string) (bool, error) {
	if !strings.HasPrefix(path, f.basePath) {
		return false, fmt.Errorf("floxy: config path %s is outside base path %s", path, f.basePath)
	}
	if existing, err := afero.ReadFile(f.fs, path); err == nil && string(existing) == config {
		return false, nil
	}
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("floxy: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(f.fs, path, []byte(config), 0o644); err != nil {
		return false, fmt.Errorf("floxy: write %s: %w", path, err)
	}
	return true, nil
}

// AddInstanceReverseProxyConfig writes the instance's editor-redirect
// config block for each of destPorts (spec §4.4 "instance config" block).
func (f *Floxy) AddInstanceReverseProxyConfig(appName string, id core.InstanceID, ip net.IP, destPorts []int) (bool, error) {
	var sb strings.Builder
	for _, port := range destPorts {
		sb.WriteString(createInstanceConfig(ip, port, instanceEditorLocation(id, port)))
	}
	changed, err := f.add(sb.String(), f.buildInstanceConfigPath(appName, id))
	if err != nil {
		return false, err
	}
	klog.V(1).Infof("floxy: instance reverse proxy config for %s changed=%v", id, changed)
	return changed, nil
}

// AddAdditionalLocationsConfig writes the extra location blocks beyond an
// instance's primary editor redirect.
func (f *Floxy) AddAdditionalLocationsConfig(appName string, id core.InstanceID, locations []AdditionalLocation) (bool, error) {
	var sb strings.Builder
	for _, loc := range locations {
		sb.WriteString(createLocationConfig(instanceEditorLocation(id, loc.Port), loc.Location))
	}
	return f.add(sb.String(), f.buildInstanceLocationsConfigPath(appName, id))
}

// AddInstanceEditorRedirectToFreePort picks a free host port, writes a
// server block redirecting it to ip:destPort, and returns whether a reload
// is required plus the chosen port (spec §4.4 editor-redirect flow).
func (f *Floxy) AddInstanceEditorRedirectToFreePort(appName string, id core.InstanceID, ip net.IP, destPort int) (bool, int, error) {
	port, err := randomFreePort()
	if err != nil {
		return false, 0, fmt.Errorf("floxy: find free port: %w", err)
	}
	config := createServerConfig(ip, port, destPort)
	changed, err := f.add(config, f.buildServerConfigPath(appName, id, port))
	if err != nil {
		return false, 0, err
	}
	return changed, port, nil
}

// DeleteReverseProxyConfig removes an instance's primary config file.
func (f *Floxy) DeleteReverseProxyConfig(appName string, id core.InstanceID) (bool, error) {
	return f.deleteConfigFile(f.buildInstanceConfigPath(appName, id))
}

// DeleteAdditionalLocationsConfig removes an instance's additional-location
// config file.
func (f *Floxy) DeleteAdditionalLocationsConfig(appName string, id core.InstanceID) (bool, error) {
	return f.deleteConfigFile(f.buildInstanceLocationsConfigPath(appName, id))
}

// DeleteServerConfig removes one server block by its host port.
func (f *Floxy) DeleteServerConfig(appName string, id core.InstanceID, hostPort int) (bool, error) {
	return f.deleteConfigFile(f.buildServerConfigPath(appName, id, hostPort))
}

// DeleteServerProxyConfigs removes several server blocks, returning whether
// a reload is needed and an aggregate error naming every failed path
// without aborting the rest (spec §8 "delete-many partial success").
func (f *Floxy) DeleteServerProxyConfigs(appName string, id core.InstanceID, hostPorts []int) (bool, error) {
	var result *multierror.Error
	reload := false
	for _, port := range hostPorts {
		changed, err := f.DeleteServerConfig(appName, id, port)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		reload = reload || changed
	}
	if result != nil {
		return reload, fmt.Errorf("floxy: could not delete all server proxy configs: %w", result)
	}
	return reload, nil
}

func (f *Floxy) deleteConfigFile(path string) (bool, error) {
	exists, err := afero.Exists(f.fs, path)
	if err != nil {
		return false, fmt.Errorf("floxy: stat %s: %w", path, err)
	}
	if !exists {
		return false, nil
	}
	if err := f.fs.Remove(path); err != nil {
		return false, fmt.Errorf("floxy: remove %s: %w", path, err)
	}
	return true, nil
}

// ReloadConfig signals the running nginx master process to reload its
// config (spec §4.4), by sending SIGHUP to the pid recorded in f.pidFile.
func (f *Floxy) ReloadConfig() error {
	data, err := os.ReadFile(f.pidFile)
	if err != nil {
		return fmt.Errorf("floxy: read pidfile %s: %w", f.pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("floxy: parse pidfile %s: %w", f.pidFile, err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("floxy: reload nginx (pid %d): %w", pid, err)
	}
	klog.V(1).Infof("floxy: reload triggered (nginx pid %d)", pid)
	return nil
}

func randomFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
