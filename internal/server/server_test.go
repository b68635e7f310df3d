package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/ratelimit"
	"github.com/siftlab/sieve/internal/service/review"
)

type testEnv struct {
	store   *fakeStore
	jwtMgr  *auth.JWTManager
	handler http.Handler
}

func newTestEnv(t *testing.T, cfgFns ...func(*ServerConfig)) *testEnv {
	t.Helper()
	store := newFakeStore()
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	logger := testLogger()
	cfg := ServerConfig{
		DB:        store,
		JWTMgr:    jwtMgr,
		ReviewSvc: review.New(store, 4, logger),
		Logger:    logger,
		Version:   "test",
	}
	for _, fn := range cfgFns {
		fn(&cfg)
	}
	return &testEnv{store: store, jwtMgr: jwtMgr, handler: New(cfg).Handler()}
}

// token mints a JWT for a reviewer, registering them in the store.
func (e *testEnv) token(t *testing.T, role model.ReviewerRole) (string, uuid.UUID) {
	t.Helper()
	reviewer := model.Reviewer{
		ID:     uuid.New(),
		Handle: "rev-" + uuid.NewString()[:8],
		Role:   role,
	}
	e.store.reviewers[reviewer.ID] = reviewer
	token, _, err := e.jwtMgr.IssueToken(reviewer)
	require.NoError(t, err)
	return token, reviewer.ID
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error model.ErrorDetail `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeData(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)
	reviewerTok, _ := env.token(t, model.RoleReviewer)
	leadTok, _ := env.token(t, model.RoleLead)

	// A plain reviewer cannot create projects or reviewers.
	rec := env.do(t, http.MethodPost, "/v1/projects", reviewerTok, map[string]any{"name": "x"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/v1/reviewers", leadTok, map[string]any{"handle": "x", "role": "reviewer"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAndGetProject(t *testing.T) {
	env := newTestEnv(t)
	leadTok, _ := env.token(t, model.RoleLead)

	rec := env.do(t, http.MethodPost, "/v1/projects", leadTok, map[string]any{
		"name":            "hypertension review",
		"blind_screening": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Project
	decodeData(t, rec, &created)
	assert.Equal(t, "hypertension review", created.Name)
	assert.Equal(t, model.DefaultQuorumSize, created.QuorumSize)
	assert.True(t, created.BlindScreening)

	rec = env.do(t, http.MethodGet, "/v1/projects/"+created.ID.String(), leadTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), leadTok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, rec))
}

func TestIngestStudiesValidation(t *testing.T) {
	env := newTestEnv(t)
	leadTok, _ := env.token(t, model.RoleLead)
	project, err := env.store.CreateProject(context.Background(), model.Project{Name: "p", QuorumSize: 2})
	require.NoError(t, err)
	base := "/v1/projects/" + project.ID.String() + "/studies"

	rec := env.do(t, http.MethodPost, base, leadTok, map[string]any{"studies": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base, leadTok, map[string]any{
		"studies": []map[string]any{{"title": "ok"}, {"authors": "no title"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "studies[1]")

	rec = env.do(t, http.MethodPost, base, leadTok, map[string]any{
		"studies": []map[string]any{
			{"title": "Trial A", "year": 2021},
			{"title": "Trial B", "ai_suggestion": map[string]any{"verdict": "INCLUDE", "confidence": 90}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Created int           `json:"created"`
		Studies []model.Study `json:"studies"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, 2, resp.Created)
	require.Len(t, resp.Studies, 2)
	assert.Equal(t, model.PhaseTitleAbstract, resp.Studies[0].Phase)
}

func TestSubmitDecisionFlow(t *testing.T) {
	env := newTestEnv(t)
	tok, _ := env.token(t, model.RoleReviewer)
	project, err := env.store.CreateProject(context.Background(), model.Project{Name: "p", QuorumSize: 2})
	require.NoError(t, err)
	studies, err := env.store.CreateStudies(context.Background(), project.ID, []model.NewStudyInput{{Title: "s"}})
	require.NoError(t, err)
	study := studies[0]

	rec := env.do(t, http.MethodPost, "/v1/studies/"+study.ID.String()+"/decisions", tok, map[string]any{
		"phase":      "TITLE_ABSTRACT",
		"verdict":    "INCLUDE",
		"confidence": 80,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Decision model.Decision    `json:"decision"`
		Status   model.StudyStatus `json:"status"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, model.VerdictInclude, resp.Decision.Verdict)
	assert.Equal(t, 1, resp.Status.ReviewersVoted)

	// EXCLUDE without a reason is rejected by validation.
	rec = env.do(t, http.MethodPost, "/v1/studies/"+study.ID.String()+"/decisions", tok, map[string]any{
		"phase":      "TITLE_ABSTRACT",
		"verdict":    "EXCLUDE",
		"confidence": 80,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))

	// Unknown body fields are rejected.
	rec = env.do(t, http.MethodPost, "/v1/studies/"+study.ID.String()+"/decisions", tok, map[string]any{
		"phase": "TITLE_ABSTRACT", "verdict": "INCLUDE", "confidence": 80, "bogus": true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Status endpoint reflects the recorded vote.
	rec = env.do(t, http.MethodGet, "/v1/studies/"+study.ID.String()+"/status?phase=TITLE_ABSTRACT", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status model.StudyStatus
	decodeData(t, rec, &status)
	assert.Equal(t, 1, status.ReviewersVoted)
}

func TestResolutionRequiresLead(t *testing.T) {
	env := newTestEnv(t)
	tok, _ := env.token(t, model.RoleReviewer)

	rec := env.do(t, http.MethodPost, "/v1/studies/"+uuid.NewString()+"/resolution", tok, map[string]any{
		"phase": "TITLE_ABSTRACT", "verdict": "INCLUDE",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdvanceBlockedReturnsStaleState(t *testing.T) {
	env := newTestEnv(t)
	leadTok, _ := env.token(t, model.RoleLead)
	project, err := env.store.CreateProject(context.Background(), model.Project{Name: "p", QuorumSize: 2})
	require.NoError(t, err)
	studies, err := env.store.CreateStudies(context.Background(), project.ID, []model.NewStudyInput{{Title: "pending study"}})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost,
		"/v1/projects/"+project.ID.String()+"/phases/TITLE_ABSTRACT/advance", leadTok, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var envelope struct {
		Error model.ErrorDetail `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, model.ErrCodeStaleState, envelope.Error.Code)
	assert.Contains(t, envelope.Error.Studies, studies[0].ID)
}

func TestAuthTokenFlow(t *testing.T) {
	env := newTestEnv(t)

	apiKey := "sieve_test_key_for_jsmith"
	hash, err := auth.HashAPIKey(apiKey)
	require.NoError(t, err)
	_, err = env.store.CreateReviewer(context.Background(), model.Reviewer{
		Handle: "jsmith", Role: model.RoleReviewer, APIKeyHash: &hash,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/auth/token", "", map[string]any{
		"handle": "jsmith", "api_key": apiKey,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	// The issued token works on a protected route.
	rec = env.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), resp.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Wrong key and unknown handle both return the same 401.
	rec = env.do(t, http.MethodPost, "/auth/token", "", map[string]any{
		"handle": "jsmith", "api_key": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/auth/token", "", map[string]any{
		"handle": "nobody", "api_key": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthTokenRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.01, 1)
	defer limiter.Close()
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.AuthLimiter = limiter
	})

	body := map[string]any{"handle": "nobody", "api_key": "x"}
	rec := env.do(t, http.MethodPost, "/auth/token", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/token", "", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCreateReviewerReturnsKeyOnce(t *testing.T) {
	env := newTestEnv(t)
	adminTok, _ := env.token(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/v1/reviewers", adminTok, map[string]any{
		"handle": "newbie", "display_name": "New Reviewer", "role": "reviewer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Reviewer model.Reviewer `json:"reviewer"`
		APIKey   string         `json:"api_key"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, "newbie", resp.Reviewer.Handle)
	assert.True(t, len(resp.APIKey) > 20)
	assert.Contains(t, resp.APIKey, "sieve_")
	// The stored hash verifies the returned key.
	stored, err := env.store.GetReviewerByHandle(context.Background(), "newbie")
	require.NoError(t, err)
	require.NotNil(t, stored.APIKeyHash)
	ok, err := auth.VerifyAPIKey(resp.APIKey, *stored.APIKeyHash)
	require.NoError(t, err)
	assert.True(t, ok)

	// The reserved system role cannot be minted.
	rec = env.do(t, http.MethodPost, "/v1/reviewers", adminTok, map[string]any{
		"handle": "bot", "role": "system",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tok, _ := env.token(t, model.RoleReviewer)
	project, err := env.store.CreateProject(context.Background(), model.Project{Name: "p", QuorumSize: 2})
	require.NoError(t, err)
	_, err = env.store.CreateStudies(context.Background(), project.ID, []model.NewStudyInput{
		{Title: "a"}, {Title: "b"},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/queue?phase=TITLE_ABSTRACT", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data  []model.QueueEntry `json:"data"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Total)
	assert.Len(t, envelope.Data, 2)

	// Bad phase and bad sort key are rejected before hitting the store.
	rec = env.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/queue?phase=NOPE", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/queue?phase=TITLE_ABSTRACT&sort_by=bogus", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
