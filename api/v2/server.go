package v2

import (
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/quest"
	"github.com/scoutflo/flecsd-core/internal/sorcerer"
	healthpkg "github.com/scoutflo/flecsd-core/pkg/health"
)

// Server holds the sorcerer façades the HTTP handlers dispatch to, plus the
// default deployment new instances/apps are created on (the daemon runs a
// single Docker adapter by default; spec §6 names no multi-deployment
// routing for this surface).
type Server struct {
	instances         *sorcerer.InstanceSorcerer
	apps              *sorcerer.AppSorcerer
	master            *quest.Master
	defaultDeployment core.DeploymentID
}

// NewServer wires a Server and returns an http.Handler exposing every
// spec §6 route plus the supplemented quest/app endpoints, on a bare
// http.ServeMux (Go 1.22+ method-and-path routing, matching the teacher's
// preference for stdlib over a router dependency; see DESIGN.md).
func NewServer(instances *sorcerer.InstanceSorcerer, apps *sorcerer.AppSorcerer, master *quest.Master, defaultDeployment core.DeploymentID, checker *healthpkg.HealthChecker) http.Handler {
	s := &Server{instances: instances, apps: apps, master: master, defaultDeployment: defaultDeployment}

	mux := http.NewServeMux()
	healthpkg.AttachHealthEndpoints(mux, checker)

	mux.HandleFunc("GET /v2/instances", s.listInstances)
	mux.HandleFunc("POST /v2/instances/create", s.createInstance)
	mux.HandleFunc("GET /v2/instances/{id}", s.getInstance)
	mux.HandleFunc("PATCH /v2/instances/{id}", s.patchInstance)
	mux.HandleFunc("DELETE /v2/instances/{id}", s.deleteInstance)

	mux.HandleFunc("GET /v2/instances/{id}/config/ports/{proto}/{range}", s.getPortMapping)
	mux.HandleFunc("PUT /v2/instances/{id}/config/ports/{proto}/{range}", s.putPortMapping)
	mux.HandleFunc("DELETE /v2/instances/{id}/config/ports/{proto}/{range}", s.deletePortMapping)

	mux.HandleFunc("GET /v2/instances/{id}/config/devices/usb/{port}", s.getUSBDevice)
	mux.HandleFunc("PUT /v2/instances/{id}/config/devices/usb/{port}", s.putUSBDevice)
	mux.HandleFunc("DELETE /v2/instances/{id}/config/devices/usb/{port}", s.deleteUSBDevice)

	mux.HandleFunc("GET /v2/system/network_adapters", s.listNetworkAdapters)
	mux.HandleFunc("GET /v2/system/network_adapters/{id}", s.getNetworkAdapter)

	mux.HandleFunc("GET /v2/apps", s.listApps)
	mux.HandleFunc("GET /v2/apps/{name}/{version}", s.getApp)
	mux.HandleFunc("POST /v2/apps/install", s.installApp)
	mux.HandleFunc("DELETE /v2/apps/{name}/{version}", s.uninstallApp)

	mux.HandleFunc("GET /v2/quests", s.listQuests)
	mux.HandleFunc("GET /v2/quests/{id}", s.getQuest)
	mux.HandleFunc("DELETE /v2/quests/{id}", s.deleteQuest)

	return mux
}
