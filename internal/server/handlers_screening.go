package server

import (
	"net/http"

	"github.com/siftlab/sieve/internal/model"
)

// HandleGetStudy returns a study by id.
func (h *Handlers) HandleGetStudy(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathUUID(w, r, "study_id")
	if !ok {
		return
	}
	study, err := h.db.GetStudy(r.Context(), studyID)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, study)
}

// HandleSubmitDecision records the caller's screening verdict on a study.
func (h *Handlers) HandleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathUUID(w, r, "study_id")
	if !ok {
		return
	}
	var req model.SubmitDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	decision, status, err := h.svc.SubmitDecision(r.Context(), actorFromContext(r.Context()), studyID, req)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"decision": decision,
		"status":   status,
	})
}

// HandleStudyStatus returns the caller's quorum view of a study at a phase.
func (h *Handlers) HandleStudyStatus(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathUUID(w, r, "study_id")
	if !ok {
		return
	}
	phase, err := model.ParsePhase(r.URL.Query().Get("phase"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	status, err := h.svc.StudyStatus(r.Context(), actorFromContext(r.Context()), studyID, phase)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// HandleResolve harmonizes a completed disagreement into a final verdict.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	studyID, ok := pathUUID(w, r, "study_id")
	if !ok {
		return
	}
	var req model.ResolveConflictRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resolution, err := h.svc.Resolve(r.Context(), actorFromContext(r.Context()), studyID, req)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resolution)
}
