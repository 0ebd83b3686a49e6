package v2

import (
	"encoding/json"
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/instance"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

// putPortRequest accepts either a bare container port (single mapping) or a
// {start, end} range, mirroring spec §6's "PUT body is a single i32 port or
// PortRange{start,end}".
type putPortRequest struct {
	Port  *int `json:"port"`
	Start *int `json:"start"`
	End   *int `json:"end"`
}

func (req putPortRequest) toMapping(hostRange core.PortRange) (core.PortMapping, error) {
	if req.Port != nil {
		if hostRange.Size() != 1 {
			return core.PortMapping{}, ferr.ConfigInvalidf("host range %v is not a single port", hostRange)
		}
		return core.PortMapping{Kind: core.PortMappingSingle, Host: hostRange.Start, Container: *req.Port}, nil
	}
	if req.Start == nil || req.End == nil {
		return core.PortMapping{}, ferr.ConfigInvalidf("request must set either port or start/end")
	}
	return core.PortMapping{
		Kind: core.PortMappingRange,
		From: hostRange,
		To:   core.PortRange{Start: *req.Start, End: *req.End},
	}, nil
}

func protoAndRangeFromPath(r *http.Request) (manifest.Protocol, core.PortRange, error) {
	proto := manifest.Protocol(r.PathValue("proto"))
	switch proto {
	case manifest.ProtoTCP, manifest.ProtoUDP, manifest.ProtoSCTP:
	default:
		return "", core.PortRange{}, ferr.ConfigInvalidf("unknown transport protocol %q", proto)
	}
	rng, err := instance.ParsePortRange(r.PathValue("range"))
	if err != nil {
		return "", core.PortRange{}, err
	}
	return proto, rng, nil
}

// getPortMapping handles `GET /v2/instances/{id}/config/ports/{proto}/{range}`.
func (s *Server) getPortMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proto, rng, err := protoAndRangeFromPath(r)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	inst, err := s.instances.Get(id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if inst.Config != nil {
		for _, m := range inst.Config.PortMapping[proto] {
			if m.HostRange() == rng {
				writeJSON(w, http.StatusOK, toPortMappingDTO(m))
				return
			}
		}
	}
	writeTaxonomyError(w, ferr.NotFound("port mapping", r.PathValue("range")))
}

// putPortMapping handles `PUT /v2/instances/{id}/config/ports/{proto}/{range}`.
func (s *Server) putPortMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proto, rng, err := protoAndRangeFromPath(r)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	var req putPortRequest
	var bare *int
	if err := json.Unmarshal(raw, &bare); err == nil {
		req.Port = bare
	} else {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}
	mapping, err := req.toMapping(rng)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if err := s.instances.PutPortMapping(id, proto, mapping); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// deletePortMapping handles `DELETE /v2/instances/{id}/config/ports/{proto}/{range}`.
func (s *Server) deletePortMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proto, rng, err := protoAndRangeFromPath(r)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if err := s.instances.DeletePortMapping(id, proto, rng); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
