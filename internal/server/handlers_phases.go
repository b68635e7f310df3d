package server

import (
	"net/http"

	"github.com/siftlab/sieve/internal/model"
)

// HandlePhaseStats returns the gate counters for a project phase.
func (h *Handlers) HandlePhaseStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	phase, ok := pathPhase(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.PhaseStats(r.Context(), actorFromContext(r.Context()), projectID, phase)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleListConflicts returns the unresolved disagreements for a phase.
func (h *Handlers) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	phase, ok := pathPhase(w, r)
	if !ok {
		return
	}

	conflicts, err := h.svc.ListConflicts(r.Context(), projectID, phase)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, conflicts)
}

// HandleAdvancePhase moves every qualifying study out of the given phase.
func (h *Handlers) HandleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	phase, ok := pathPhase(w, r)
	if !ok {
		return
	}

	result, err := h.svc.AdvancePhase(r.Context(), actorFromContext(r.Context()), projectID, phase)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleBatch runs a bulk operation over a set of studies.
func (h *Handlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	var op model.BatchOperation
	if err := decodeJSON(w, r, &op, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.svc.Batch(r.Context(), actorFromContext(r.Context()), projectID, op)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}

	status := http.StatusOK
	if result.Failed > 0 && result.Processed == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, r, status, result)
}
