package v2

import (
	"encoding/json"
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

type appDTO struct {
	Name    string `json:"app_key_name"`
	Version string `json:"app_key_version"`
	Status  string `json:"status"`
}

func toAppDTO(a *core.App, dep core.DeploymentID) appDTO {
	status := "not_installed"
	if a.IsInstalledOn(dep) {
		status = "installed"
	}
	return appDTO{Name: a.Key.Name, Version: a.Key.Version, Status: status}
}

// listApps handles `GET /v2/apps`.
func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	apps := s.apps.List()
	out := make([]appDTO, 0, len(apps))
	for _, a := range apps {
		out = append(out, toAppDTO(a, s.defaultDeployment))
	}
	writeJSON(w, http.StatusOK, out)
}

// getApp handles `GET /v2/apps/{name}/{version}`.
func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	key := manifest.AppKey{Name: r.PathValue("name"), Version: r.PathValue("version")}
	a, err := s.apps.Get(key)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppDTO(a, s.defaultDeployment))
}

type installAppRequest struct {
	Name    string `json:"app_key_name"`
	Version string `json:"app_key_version"`
	Image   string `json:"image"`
}

// installApp handles `POST /v2/apps/install`: it constructs a minimal
// single-image manifest from the request body and schedules an install
// quest (spec §6's supplemented app endpoints; the full manifest-download
// pipeline is out of scope here, see SPEC_FULL.md).
func (s *Server) installApp(w http.ResponseWriter, r *http.Request) {
	var req installAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Image == "" || req.Name == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "app_key_name, app_key_version and image are required")
		return
	}
	key := manifest.AppKey{Name: req.Name, Version: req.Version}
	man := &manifest.AppManifest{Key: key, Kind: manifest.KindSingle, Single: &manifest.Single{Image: req.Image}}
	if err := man.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, _, err := s.apps.Install(man, s.defaultDeployment)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: string(jobID)})
}

// uninstallApp handles `DELETE /v2/apps/{name}/{version}`.
func (s *Server) uninstallApp(w http.ResponseWriter, r *http.Request) {
	key := manifest.AppKey{Name: r.PathValue("name"), Version: r.PathValue("version")}
	jobID, _, err := s.apps.Uninstall(key, s.defaultDeployment)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: string(jobID)})
}
