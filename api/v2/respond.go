// Package v2 implements the daemon's HTTP surface (spec §6): instance
// lifecycle and configuration, app install/uninstall, quest polling, and
// system introspection, routed with the standard library's http.ServeMux
// method-and-path patterns rather than a router dependency (the teacher
// itself never reaches for one, and the pack carries no HTTP router either;
// see DESIGN.md).
package v2

import (
	"encoding/json"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/scoutflo/flecsd-core/internal/ferr"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("api/v2: encode response: %v", err)
	}
}

type additionalInfo struct {
	AdditionalInfo string `json:"additionalInfo"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, additionalInfo{AdditionalInfo: msg})
}

// writeTaxonomyError maps a ferr.Error's Kind to the HTTP status the spec's
// handlers use, falling back to 500 for anything not in the taxonomy.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	e, ok := ferr.As(err)
	if !ok {
		klog.Errorf("api/v2: unclassified error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch e.Kind {
	case ferr.KindNotFound:
		writeError(w, http.StatusNotFound, e.Error())
	case ferr.KindConflict:
		writeError(w, http.StatusConflict, e.Error())
	case ferr.KindConfigInvalid:
		writeError(w, http.StatusBadRequest, e.Error())
	case ferr.KindUnsupported:
		writeError(w, http.StatusNotImplemented, e.Error())
	case ferr.KindCancelled:
		writeError(w, http.StatusServiceUnavailable, e.Error())
	default:
		klog.Errorf("api/v2: internal error: %v", e)
		writeError(w, http.StatusInternalServerError, e.Error())
	}
}
