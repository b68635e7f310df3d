package server

import (
	"net/http"
	"strconv"

	"github.com/siftlab/sieve/internal/model"
)

// maxIngestStudies bounds one bulk ingestion request.
const maxIngestStudies = 5000

type createProjectRequest struct {
	Name           string `json:"name"`
	QuorumSize     int    `json:"quorum_size,omitempty"`
	BlindScreening *bool  `json:"blind_screening,omitempty"` // nil = server default
}

// HandleCreateProject creates a screening project.
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if req.QuorumSize < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "quorum_size must be at least 1")
		return
	}
	quorum := req.QuorumSize
	if quorum == 0 {
		quorum = h.defaultQuorum
	}
	blind := h.defaultBlind
	if req.BlindScreening != nil {
		blind = *req.BlindScreening
	}

	project, err := h.db.CreateProject(r.Context(), model.Project{
		Name:           req.Name,
		QuorumSize:     quorum,
		BlindScreening: blind,
	})
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, project)
}

// HandleGetProject returns a project by id.
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	project, err := h.db.GetProject(r.Context(), projectID)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, project)
}

type ingestStudiesRequest struct {
	Studies []model.NewStudyInput `json:"studies"`
}

// HandleIngestStudies bulk-inserts studies into a project. All records
// are validated before any row is written; a bad record fails the batch.
func (h *Handlers) HandleIngestStudies(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}

	var req ingestStudiesRequest
	if err := decodeJSON(w, r, &req, h.maxBody*16); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Studies) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "studies must be non-empty")
		return
	}
	if len(req.Studies) > maxIngestStudies {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"too many studies in one request (max "+strconv.Itoa(maxIngestStudies)+")")
		return
	}
	for i, in := range req.Studies {
		if err := in.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"studies["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
	}

	if _, err := h.db.GetProject(r.Context(), projectID); err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}

	studies, err := h.db.CreateStudies(r.Context(), projectID, req.Studies)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"created": len(studies),
		"studies": studies,
	})
}

// HandleQueue returns the caller's screening queue for a phase.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	q := r.URL.Query()

	phase, err := model.ParsePhase(q.Get("phase"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	sortBy, err := model.ParseQueueSort(q.Get("sort_by"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	status, err := model.ParseQueueStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	limit := queryInt(q.Get("limit"), 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	// An absent desc falls back to the sort key's natural direction.
	desc := sortBy.DefaultDesc()
	if v := q.Get("desc"); v != "" {
		desc = v == "true"
	}

	req := model.QueueRequest{
		ProjectID: projectID,
		Phase:     phase,
		Search:    q.Get("search"),
		SortBy:    sortBy,
		SortDesc:  desc,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	}

	entries, total, err := h.svc.Queue(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeList(w, r, entries, total, limit, offset)
}

// HandleAudit returns the most recent audit events for a project.
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	events, err := h.db.ListAuditEvents(r.Context(), projectID, limit)
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
