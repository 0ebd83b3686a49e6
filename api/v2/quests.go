package v2

import (
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/quest"
)

type questDTO struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	Detail      string     `json:"detail,omitempty"`
	Current     int        `json:"current"`
	Total       *int       `json:"total,omitempty"`
	ResultID    string     `json:"result_id,omitempty"`
	SubQuests   []questDTO `json:"sub_quests,omitempty"`
}

func toQuestDTO(s quest.Snapshot) questDTO {
	subs := make([]questDTO, 0, len(s.SubQuests))
	for _, sub := range s.SubQuests {
		subs = append(subs, toQuestDTO(sub))
	}
	dto := questDTO{
		ID: string(s.ID), Description: s.Description, State: string(s.State),
		Detail: s.Detail, Current: s.Progress.Current, Total: s.Progress.Total,
		SubQuests: subs,
	}
	if s.Result.Kind == quest.ResultInstance {
		dto.ResultID = s.Result.InstanceID
	} else if s.Result.Kind == quest.ResultExportID {
		dto.ResultID = s.Result.ExportID
	}
	return dto
}

// listQuests handles `GET /v2/quests`.
func (s *Server) listQuests(w http.ResponseWriter, r *http.Request) {
	snapshots := s.master.List()
	out := make([]questDTO, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, toQuestDTO(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

// getQuest handles `GET /v2/quests/{id}`.
func (s *Server) getQuest(w http.ResponseWriter, r *http.Request) {
	id := quest.ID(r.PathValue("id"))
	snap, ok := s.master.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toQuestDTO(snap))
}

// deleteQuest handles `DELETE /v2/quests/{id}`, removing a finished quest from
// the registry (spec §4.1's poll-then-reap contract).
func (s *Server) deleteQuest(w http.ResponseWriter, r *http.Request) {
	id := quest.ID(r.PathValue("id"))
	if err := s.master.Delete(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
