package v2

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

type portMappingDTO struct {
	Host      int `json:"host,omitempty"`
	Container int `json:"container,omitempty"`
	HostFrom  int `json:"host_from,omitempty"`
	HostTo    int `json:"host_to,omitempty"`
	ContFrom  int `json:"container_from,omitempty"`
	ContTo    int `json:"container_to,omitempty"`
}

func toPortMappingDTO(m core.PortMapping) portMappingDTO {
	if m.Kind == core.PortMappingSingle {
		return portMappingDTO{Host: m.Host, Container: m.Container}
	}
	return portMappingDTO{HostFrom: m.From.Start, HostTo: m.From.End, ContFrom: m.To.Start, ContTo: m.To.End}
}

type instanceDTO struct {
	ID           string                      `json:"instance_id"`
	Name         string                      `json:"instance_name"`
	AppName      string                      `json:"app_key_name"`
	AppVersion   string                      `json:"app_key_version"`
	DeploymentID string                      `json:"deployment_id"`
	Status       string                      `json:"status"`
	Ports        map[string][]portMappingDTO `json:"ports,omitempty"`
}

func toInstanceDTO(inst *core.Instance) instanceDTO {
	dto := instanceDTO{
		ID: inst.ID.String(), Name: inst.Name,
		AppName: inst.AppKey.Name, AppVersion: inst.AppKey.Version,
		DeploymentID: string(inst.DeploymentID), Status: string(inst.Status),
	}
	if inst.Config != nil && len(inst.Config.PortMapping) > 0 {
		dto.Ports = make(map[string][]portMappingDTO, len(inst.Config.PortMapping))
		for proto, mappings := range inst.Config.PortMapping {
			list := make([]portMappingDTO, 0, len(mappings))
			for _, m := range mappings {
				list = append(list, toPortMappingDTO(m))
			}
			dto.Ports[string(proto)] = list
		}
	}
	return dto
}

// listInstances handles `GET /v2/instances`.
func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	instances := s.instances.List()
	out := make([]instanceDTO, 0, len(instances))
	for _, inst := range instances {
		out = append(out, toInstanceDTO(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

// getInstance handles `GET /v2/instances/{id}`.
func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inst, err := s.instances.Get(id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceDTO(inst))
}

type createInstanceRequest struct {
	App          string `json:"app"`
	Version      string `json:"version"`
	InstanceName string `json:"instance_name"`
}

// createInstance handles `POST /v2/instances/create`: it schedules a create
// quest and returns the quest id for the caller to poll, per spec §6's async
// instance-creation contract.
func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.App == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "app and version are required")
		return
	}
	key := manifest.AppKey{Name: req.App, Version: req.Version}
	jobID, _, err := s.instances.Create(key, req.InstanceName)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: string(jobID)})
}

type patchInstanceRequest struct {
	DesiredStatus string `json:"desired_status"`
}

// patchInstance handles `PATCH /v2/instances/{id}`: start/stop/resume,
// selected by the body's desired_status verb.
func (s *Server) patchInstance(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req patchInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var scheduled string
	var schedErr error
	switch req.DesiredStatus {
	case "running":
		id2, _, e := s.instances.Start(id)
		scheduled, schedErr = string(id2), e
	case "stopped":
		id2, _, e := s.instances.Stop(id)
		scheduled, schedErr = string(id2), e
	case "resumed":
		id2, _, e := s.instances.Resume(id)
		scheduled, schedErr = string(id2), e
	default:
		writeError(w, http.StatusBadRequest, "desired_status must be one of running, stopped, resumed")
		return
	}
	if schedErr != nil {
		writeTaxonomyError(w, schedErr)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: scheduled})
}

// deleteInstance handles `DELETE /v2/instances/{id}`.
func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, _, err := s.instances.Delete(id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: string(jobID)})
}

// parseInstanceID extracts and parses the `{id}` path value shared by every
// instance-scoped route.
func parseInstanceID(r *http.Request) (core.InstanceID, error) {
	raw := r.PathValue("id")
	id, err := core.ParseInstanceID(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed instance id %q", raw)
	}
	return id, nil
}

type jobResponse struct {
	JobID string `json:"job_id"`
}
