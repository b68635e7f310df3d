package model

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSubmitDecisionRequest_Validate(t *testing.T) {
	base := SubmitDecisionRequest{
		Phase:      "TITLE_ABSTRACT",
		Verdict:    "INCLUDE",
		Confidence: 80,
	}

	t.Run("valid include", func(t *testing.T) {
		verdict, phase, err := base.Validate()
		require.NoError(t, err)
		assert.Equal(t, VerdictInclude, verdict)
		assert.Equal(t, PhaseTitleAbstract, phase)
	})

	t.Run("exclude requires reason", func(t *testing.T) {
		req := base
		req.Verdict = "EXCLUDE"
		_, _, err := req.Validate()
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "exclusion_reason", verr.Field)

		req.ExclusionReason = strPtr("Wrong Population")
		_, _, err = req.Validate()
		assert.NoError(t, err)
	})

	t.Run("confidence out of range is rejected, not clamped", func(t *testing.T) {
		for _, c := range []int{-1, 101, 1000} {
			req := base
			req.Confidence = c
			_, _, err := req.Validate()
			var verr ValidationError
			require.ErrorAs(t, err, &verr, "confidence %d", c)
			assert.Equal(t, "confidence", verr.Field)
		}
	})

	t.Run("unknown verdict", func(t *testing.T) {
		req := base
		req.Verdict = "include" // case matters: closed set
		_, _, err := req.Validate()
		assert.Error(t, err)
	})

	t.Run("unknown phase", func(t *testing.T) {
		req := base
		req.Phase = "SCREENING"
		_, _, err := req.Validate()
		assert.Error(t, err)
	})

	t.Run("oversized reasoning", func(t *testing.T) {
		req := base
		req.Reasoning = strPtr(strings.Repeat("x", MaxReasoningLen+1))
		_, _, err := req.Validate()
		assert.Error(t, err)
	})
}

func TestResolveConflictRequest_Validate(t *testing.T) {
	req := ResolveConflictRequest{Phase: "FULL_TEXT", Verdict: "EXCLUDE", Notes: "lead call"}
	verdict, phase, err := req.Validate()
	require.NoError(t, err)
	assert.Equal(t, VerdictExclude, verdict)
	assert.Equal(t, PhaseFullText, phase)

	req.Verdict = "MAYBE"
	_, _, err = req.Validate()
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "INCLUDE or EXCLUDE")
}

func TestPhaseNext(t *testing.T) {
	next, ok := PhaseTitleAbstract.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseFullText, next)

	next, ok = PhaseFullText.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseFinal, next)

	_, ok = PhaseFinal.Next()
	assert.False(t, ok)
}

func TestBatchOperation_Validate(t *testing.T) {
	ids := []uuid.UUID{uuid.New()}
	threshold := 80
	target := PhaseFullText
	assignee := uuid.New()

	tests := []struct {
		name    string
		op      BatchOperation
		wantErr string
	}{
		{
			name: "assign ok",
			op:   BatchOperation{Kind: BatchAssign, StudyIDs: ids, Params: BatchParams{AssigneeID: &assignee}},
		},
		{
			name:    "assign without assignee",
			op:      BatchOperation{Kind: BatchAssign, StudyIDs: ids},
			wantErr: "assignee_id",
		},
		{
			name: "apply_ai ok",
			op:   BatchOperation{Kind: BatchApplyAI, StudyIDs: ids, Params: BatchParams{AIThreshold: &threshold}},
		},
		{
			name:    "apply_ai without threshold",
			op:      BatchOperation{Kind: BatchApplyAI, StudyIDs: ids},
			wantErr: "ai_threshold",
		},
		{
			name: "move_phase ok",
			op:   BatchOperation{Kind: BatchMovePhase, StudyIDs: ids, Params: BatchParams{TargetPhase: &target}},
		},
		{
			name:    "move_phase without target",
			op:      BatchOperation{Kind: BatchMovePhase, StudyIDs: ids},
			wantErr: "target_phase",
		},
		{
			name: "reset ok",
			op:   BatchOperation{Kind: BatchReset, StudyIDs: ids},
		},
		{
			name:    "empty target list",
			op:      BatchOperation{Kind: BatchReset},
			wantErr: "study_ids",
		},
		{
			name:    "unknown kind",
			op:      BatchOperation{Kind: "archive", StudyIDs: ids},
			wantErr: "op",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestParseQueueSort(t *testing.T) {
	got, err := ParseQueueSort("")
	require.NoError(t, err)
	assert.Equal(t, SortPriority, got)

	_, err = ParseQueueSort("citations")
	assert.Error(t, err)
}

func TestQueueSortDefaultDesc(t *testing.T) {
	assert.True(t, SortAIConfidence.DefaultDesc())
	assert.True(t, SortRecency.DefaultDesc())
	assert.False(t, SortPriority.DefaultDesc())
	assert.False(t, SortTitle.DefaultDesc())
	assert.False(t, SortYear.DefaultDesc())
}

func TestStaleStateError_ListsStudies(t *testing.T) {
	id := uuid.New()
	err := StaleStateError{Reason: "gate no longer holds", Studies: []uuid.UUID{id}}
	assert.Contains(t, err.Error(), id.String())
}
