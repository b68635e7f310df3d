package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/ctxutil"
	"github.com/siftlab/sieve/internal/model"
)

func (s *Server) registerTools() {
	// sieve_queue: fetch the caller's screening queue.
	s.mcpServer.AddTool(
		mcplib.NewTool("sieve_queue",
			mcplib.WithDescription(`Fetch your screening queue for a project phase.

WHEN TO USE: At the start of a screening session, and again whenever you
finish a batch of verdicts. The queue reflects what still needs YOUR vote.

WHAT YOU GET BACK: A list of studies with their bibliographic fields, the
AI suggestion (verdict plus confidence) when one exists, your own previous
vote if any, and the quorum status. Peer votes are hidden while blind
screening is active.

Default ordering is by screening priority: studies where the AI is least
certain come first, because those benefit most from human judgment.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project_id",
				mcplib.Description("The project to screen for"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Screening phase: TITLE_ABSTRACT, FULL_TEXT, or FINAL"),
				mcplib.Required(),
			),
			mcplib.WithString("status",
				mcplib.Description("Optional filter: pending (you have not voted), voted, completed (quorum met), conflicts"),
			),
			mcplib.WithString("search",
				mcplib.Description("Optional case-insensitive search over title and authors"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum studies to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleQueue,
	)

	// sieve_decide: record a screening verdict.
	s.mcpServer.AddTool(
		mcplib.NewTool("sieve_decide",
			mcplib.WithDescription(`Record your screening verdict on a study.

WHEN TO USE: After you have read the study's title/abstract (or full text,
depending on the phase) and reached a judgment against the review's
inclusion criteria.

RULES:
- verdict is INCLUDE, EXCLUDE, or MAYBE. Use MAYBE when you genuinely
  cannot decide from the available text; it routes the study to
  harmonization rather than silently passing or dropping it.
- EXCLUDE requires exclusion_reason, stated against a criterion
  ("wrong population: pediatric only").
- Submitting again for the same study and phase replaces your earlier
  vote. Other reviewers' votes are never affected.

WHAT YOU GET BACK: Your recorded decision and the study's quorum status
(how many votes are in, how many are needed).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("study_id",
				mcplib.Description("The study being screened"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Screening phase: TITLE_ABSTRACT, FULL_TEXT, or FINAL. Must match the study's current phase."),
				mcplib.Required(),
			),
			mcplib.WithString("verdict",
				mcplib.Description("INCLUDE, EXCLUDE, or MAYBE"),
				mcplib.Required(),
			),
			mcplib.WithNumber("confidence",
				mcplib.Description("How certain you are (0-100)"),
				mcplib.Required(),
				mcplib.Min(0),
				mcplib.Max(100),
			),
			mcplib.WithString("exclusion_reason",
				mcplib.Description("Required when verdict is EXCLUDE: which criterion the study fails"),
			),
			mcplib.WithString("reasoning",
				mcplib.Description("Optional free-text rationale for the verdict"),
			),
		),
		s.handleDecide,
	)

	// sieve_status: quorum status for one study.
	s.mcpServer.AddTool(
		mcplib.NewTool("sieve_status",
			mcplib.WithDescription(`Check the quorum status of a study at a phase.

WHEN TO USE: To see whether your vote is still needed, or whether the
study's quorum has completed. Voter identities are redacted while blind
screening is active, except for your own entry.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("study_id",
				mcplib.Description("The study to check"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Screening phase: TITLE_ABSTRACT, FULL_TEXT, or FINAL"),
				mcplib.Required(),
			),
		),
		s.handleStatus,
	)

	// sieve_stats: phase gate statistics.
	s.mcpServer.AddTool(
		mcplib.NewTool("sieve_stats",
			mcplib.WithDescription(`Get the advancement gate statistics for a project phase.

WHEN TO USE: To judge how much screening work remains. total_pending is
the number of studies still waiting on YOUR vote; conflicts counts
unresolved disagreements; can_advance reports whether the phase is ready
to move every study forward.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project_id",
				mcplib.Description("The project to report on"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Screening phase: TITLE_ABSTRACT, FULL_TEXT, or FINAL"),
				mcplib.Required(),
			),
		),
		s.handleStats,
	)

	// sieve_conflicts: unresolved disagreements for a phase.
	s.mcpServer.AddTool(
		mcplib.NewTool("sieve_conflicts",
			mcplib.WithDescription(`List the unresolved reviewer disagreements for a project phase.

WHEN TO USE: Before attempting to advance a phase, or when acting as the
harmonizing lead. Each conflict lists the distinct verdicts in play; a
unanimous MAYBE also appears here because it needs a lead's final call.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project_id",
				mcplib.Description("The project to inspect"),
				mcplib.Required(),
			),
			mcplib.WithString("phase",
				mcplib.Description("Screening phase: TITLE_ABSTRACT, FULL_TEXT, or FINAL"),
				mcplib.Required(),
			),
		),
		s.handleConflicts,
	)
}

// actorFrom resolves the caller identity placed in the context by the
// HTTP auth middleware.
func actorFrom(ctx context.Context) model.Actor {
	return ctxutil.ActorFromContext(ctx)
}

func (s *Server) handleQueue(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID, err := uuid.Parse(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a valid UUID"), nil
	}
	phase, err := model.ParsePhase(request.GetString("phase", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	status, err := model.ParseQueueStatusFilter(request.GetString("status", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	entries, total, err := s.svc.Queue(ctx, actorFrom(ctx), model.QueueRequest{
		ProjectID: projectID,
		Phase:     phase,
		Search:    request.GetString("search", ""),
		SortBy:    model.SortPriority,
		Status:    status,
		Limit:     request.GetInt("limit", 20),
	})
	if err != nil {
		return errorResult("queue failed: " + err.Error()), nil
	}

	return jsonResult(map[string]any{
		"total":   total,
		"entries": entries,
	}), nil
}

func (s *Server) handleDecide(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	studyID, err := uuid.Parse(request.GetString("study_id", ""))
	if err != nil {
		return errorResult("study_id must be a valid UUID"), nil
	}

	req := model.SubmitDecisionRequest{
		Phase:      request.GetString("phase", ""),
		Verdict:    request.GetString("verdict", ""),
		Confidence: request.GetInt("confidence", 0),
	}
	if reason := request.GetString("exclusion_reason", ""); reason != "" {
		req.ExclusionReason = &reason
	}
	if reasoning := request.GetString("reasoning", ""); reasoning != "" {
		req.Reasoning = &reasoning
	}

	decision, status, err := s.svc.SubmitDecision(ctx, actorFrom(ctx), studyID, req)
	if err != nil {
		return errorResult("decide failed: " + err.Error()), nil
	}

	return jsonResult(map[string]any{
		"decision": decision,
		"status":   status,
	}), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	studyID, err := uuid.Parse(request.GetString("study_id", ""))
	if err != nil {
		return errorResult("study_id must be a valid UUID"), nil
	}
	phase, err := model.ParsePhase(request.GetString("phase", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	status, err := s.svc.StudyStatus(ctx, actorFrom(ctx), studyID, phase)
	if err != nil {
		return errorResult("status failed: " + err.Error()), nil
	}
	return jsonResult(status), nil
}

func (s *Server) handleStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID, err := uuid.Parse(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a valid UUID"), nil
	}
	phase, err := model.ParsePhase(request.GetString("phase", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	stats, err := s.svc.PhaseStats(ctx, actorFrom(ctx), projectID, phase)
	if err != nil {
		return errorResult("stats failed: " + err.Error()), nil
	}
	return jsonResult(stats), nil
}

func (s *Server) handleConflicts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID, err := uuid.Parse(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a valid UUID"), nil
	}
	phase, err := model.ParsePhase(request.GetString("phase", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	conflicts, err := s.svc.ListConflicts(ctx, projectID, phase)
	if err != nil {
		return errorResult("conflicts failed: " + err.Error()), nil
	}
	return jsonResult(map[string]any{
		"count":     len(conflicts),
		"conflicts": conflicts,
	}), nil
}
