package server

import (
	"encoding/json"
	"net/http"

	"github.com/roadsight/holderd/internal/model"
)

// HandleExportSubjects streams all subject records as NDJSON, one record per
// line, newest first. Downstream reporting systems consume this directly.
// GET /v1/export/subjects
func (h *Handlers) HandleExportSubjects(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ExportRecords(r.Context())
	if err != nil {
		h.logger.Error("export subjects", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to export subjects")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="subjects.ndjson"`)
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			// Headers are out; log and stop mid-stream.
			h.logger.Warn("export stream interrupted", "error", err)
			return
		}
	}
}
