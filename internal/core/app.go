package core

import "github.com/scoutflo/flecsd-core/internal/manifest"

// DesiredState is the per-deployment install intent for an App (spec §3).
type DesiredState string

const (
	DesiredInstalled    DesiredState = "installed"
	DesiredNotInstalled DesiredState = "not_installed"
)

// DeploymentInstallState records whether an App is installed for one
// deployment, and how large the install is once known.
type DeploymentInstallState struct {
	Desired        DesiredState
	InstalledBytes *int64
}

// App is an AppKey bound to its manifest and its per-deployment install
// state (spec §3).
type App struct {
	Key      manifest.AppKey
	Manifest *manifest.AppManifest
	Installs map[DeploymentID]*DeploymentInstallState
}

// IsInstalledOn reports whether the App is marked Installed for dep.
func (a *App) IsInstalledOn(dep DeploymentID) bool {
	st, ok := a.Installs[dep]
	return ok && st.Desired == DesiredInstalled
}

// DeploymentKind tags which adapter variant a Deployment record describes.
type DeploymentKind string

const (
	DeploymentDocker  DeploymentKind = "docker"
	DeploymentCompose DeploymentKind = "compose"
)

// Deployment is the Deployment pouch's record: the adapter's identity and
// connection metadata (spec §3). The live adapter object itself is held by
// the jeweler registry, keyed by this same ID.
type Deployment struct {
	ID   DeploymentID
	Kind DeploymentKind
	// SocketPath is the Docker engine endpoint (e.g. unix:///var/run/docker.sock)
	// for the Docker variant; empty for Compose. This module contains no
	// Compose adapter that would use the record.
	SocketPath string
}
