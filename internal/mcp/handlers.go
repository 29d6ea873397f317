package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// Request types for each tool

// TrajectoryCreateRequest represents the arguments for trajectory_create.
type TrajectoryCreateRequest struct {
	Name string `json:"name"`
}

// TrajectoryGetRequest represents the arguments for trajectory_get.
type TrajectoryGetRequest struct {
	ID string `json:"id"`
}

// TrajectoryListRequest represents the arguments for trajectory_list.
type TrajectoryListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// TrajectoryDeleteRequest represents the arguments for trajectory_delete.
type TrajectoryDeleteRequest struct {
	ID      string `json:"id"`
	Archive bool   `json:"archive,omitempty"`
}

// ScopeCreateRequest represents the arguments for scope_create.
type ScopeCreateRequest struct {
	TrajectoryID string `json:"trajectory_id"`
	Name         string `json:"name"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty"`
}

// ScopeGetRequest represents the arguments for scope_get.
type ScopeGetRequest struct {
	ID string `json:"id"`
}

// ScopeCloseRequest represents the arguments for scope_close.
type ScopeCloseRequest struct {
	ID string `json:"id"`
}

// TurnAppendRequest represents the arguments for turn_append.
type TurnAppendRequest struct {
	ScopeID       string   `json:"scope_id"`
	InputContent  string   `json:"input_content"`
	OutputContent string   `json:"output_content,omitempty"`
	TokenCount    int      `json:"token_count,omitempty"`
	ArtifactIDs   []string `json:"artifact_ids,omitempty"`
	NoteIDs       []string `json:"note_ids,omitempty"`
}

// ContextAssembleRequest represents the arguments for context_assemble.
type ContextAssembleRequest struct {
	ScopeID     string   `json:"scope_id"`
	TokenBudget int      `json:"token_budget"`
	NoteTags    []string `json:"note_tags,omitempty"`
	Query       string   `json:"query,omitempty"`
	MaxNotes    int      `json:"max_notes,omitempty"`
}

// ScopeValidateRequest represents the arguments for scope_validate.
type ScopeValidateRequest struct {
	ScopeID string `json:"scope_id"`
}

// ScopeCommitRequest represents the arguments for scope_commit.
type ScopeCommitRequest struct {
	ScopeID string `json:"scope_id"`
}

// ScopeRollbackRequest represents the arguments for scope_rollback.
type ScopeRollbackRequest struct {
	ScopeID string `json:"scope_id"`
}

// CheckpointListRequest represents the arguments for checkpoint_list.
type CheckpointListRequest struct {
	ScopeID string `json:"scope_id"`
}

// NoteCreateRequest represents the arguments for note_create.
type NoteCreateRequest struct {
	Content            string   `json:"content"`
	Tags               []string `json:"tags,omitempty"`
	SourceTrajectoryID string   `json:"source_trajectory_id"`
	TokenCount         int      `json:"token_count,omitempty"`
}

// NoteSearchRequest represents the arguments for note_search.
type NoteSearchRequest struct {
	Tags            []string `json:"tags"`
	IncludeOrphaned bool     `json:"include_orphaned,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

// ArtifactCreateRequest represents the arguments for artifact_create.
type ArtifactCreateRequest struct {
	TrajectoryID string `json:"trajectory_id"`
	TurnID       string `json:"turn_id,omitempty"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type,omitempty"`
	Content      string `json:"content"`
}

// ArtifactGetRequest represents the arguments for artifact_get.
type ArtifactGetRequest struct {
	ID string `json:"id"`
}

// DelegationCreateRequest represents the arguments for delegation_create.
type DelegationCreateRequest struct {
	TrajectoryID string `json:"trajectory_id"`
	FromAgentID  string `json:"from_agent_id"`
	ToAgentID    string `json:"to_agent_id"`
	Payload      string `json:"payload,omitempty"`
}

// DelegationAdvanceRequest represents the arguments for delegation_advance.
type DelegationAdvanceRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DelegationListRequest represents the arguments for delegation_list.
type DelegationListRequest struct {
	TrajectoryID string `json:"trajectory_id"`
}

// HandleTrajectoryCreate handles the trajectory_create tool call.
func (h *Handlers) HandleTrajectoryCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TrajectoryCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.TrajectoryCreate(ctx, h.env, ops.TrajectoryCreateInput{Name: input.Name})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTrajectoryGet handles the trajectory_get tool call.
func (h *Handlers) HandleTrajectoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TrajectoryGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.TrajectoryGet(ctx, h.env, ops.TrajectoryGetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTrajectoryList handles the trajectory_list tool call.
func (h *Handlers) HandleTrajectoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TrajectoryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.TrajectoryList(ctx, h.env, ops.TrajectoryListInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTrajectoryDelete handles the trajectory_delete tool call.
func (h *Handlers) HandleTrajectoryDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TrajectoryDeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.TrajectoryDelete(ctx, h.env, ops.TrajectoryDeleteInput{
		ID:      input.ID,
		Archive: input.Archive,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeCreate handles the scope_create tool call.
func (h *Handlers) HandleScopeCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ScopeCreate(ctx, h.env, ops.ScopeCreateInput{
		TrajectoryID: input.TrajectoryID,
		Name:         input.Name,
		MaxTokens:    input.MaxTokens,
		MaxTurns:     input.MaxTurns,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeGet handles the scope_get tool call.
func (h *Handlers) HandleScopeGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ScopeGet(ctx, h.env, ops.ScopeGetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeClose handles the scope_close tool call.
func (h *Handlers) HandleScopeClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeCloseRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ScopeClose(ctx, h.env, ops.ScopeCloseInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTurnAppend handles the turn_append tool call.
func (h *Handlers) HandleTurnAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TurnAppendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.TurnAppend(ctx, h.env, ops.TurnAppendInput{
		ScopeID:       input.ScopeID,
		InputContent:  input.InputContent,
		OutputContent: input.OutputContent,
		TokenCount:    input.TokenCount,
		ArtifactIDs:   input.ArtifactIDs,
		NoteIDs:       input.NoteIDs,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleContextAssemble handles the context_assemble tool call.
func (h *Handlers) HandleContextAssemble(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextAssembleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Assemble(ctx, h.env, ops.AssembleInput{
		ScopeID:     input.ScopeID,
		TokenBudget: input.TokenBudget,
		NoteTags:    input.NoteTags,
		Query:       input.Query,
		MaxNotes:    input.MaxNotes,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeValidate handles the scope_validate tool call.
func (h *Handlers) HandleScopeValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeValidateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Validate(ctx, h.env, ops.ValidateInput{ScopeID: input.ScopeID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeCommit handles the scope_commit tool call.
func (h *Handlers) HandleScopeCommit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeCommitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Commit(ctx, h.env, ops.CommitInput{ScopeID: input.ScopeID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleScopeRollback handles the scope_rollback tool call.
func (h *Handlers) HandleScopeRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScopeRollbackRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Rollback(ctx, h.env, ops.RollbackInput{ScopeID: input.ScopeID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCheckpointList handles the checkpoint_list tool call.
func (h *Handlers) HandleCheckpointList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CheckpointListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.CheckpointList(ctx, h.env, ops.CheckpointListInput{ScopeID: input.ScopeID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleNoteCreate handles the note_create tool call.
func (h *Handlers) HandleNoteCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.NoteCreate(ctx, h.env, ops.NoteCreateInput{
		Content:            input.Content,
		Tags:               input.Tags,
		SourceTrajectoryID: input.SourceTrajectoryID,
		TokenCount:         input.TokenCount,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleNoteSearch handles the note_search tool call.
func (h *Handlers) HandleNoteSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteSearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.NoteSearch(ctx, h.env, ops.NoteSearchInput{
		Tags:            input.Tags,
		IncludeOrphaned: input.IncludeOrphaned,
		Limit:           input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArtifactCreate handles the artifact_create tool call.
func (h *Handlers) HandleArtifactCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ArtifactCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ArtifactCreate(ctx, h.env, ops.ArtifactCreateInput{
		TrajectoryID: input.TrajectoryID,
		TurnID:       input.TurnID,
		Name:         input.Name,
		MimeType:     input.MimeType,
		Content:      input.Content,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArtifactGet handles the artifact_get tool call.
func (h *Handlers) HandleArtifactGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ArtifactGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ArtifactGet(ctx, h.env, ops.ArtifactGetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelegationCreate handles the delegation_create tool call.
func (h *Handlers) HandleDelegationCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DelegationCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.DelegationCreate(ctx, h.env, ops.DelegationCreateInput{
		TrajectoryID: input.TrajectoryID,
		FromAgentID:  input.FromAgentID,
		ToAgentID:    input.ToAgentID,
		Payload:      input.Payload,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelegationAdvance handles the delegation_advance tool call.
func (h *Handlers) HandleDelegationAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DelegationAdvanceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.DelegationAdvance(ctx, h.env, ops.DelegationAdvanceInput{
		ID:     input.ID,
		Status: input.Status,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelegationList handles the delegation_list tool call.
func (h *Handlers) HandleDelegationList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DelegationListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.DelegationList(ctx, h.env, ops.DelegationListInput{TrajectoryID: input.TrajectoryID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult converts an error to an MCP error result.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var calErr *errors.CaliberError
	if stderrors.As(err, &calErr) {
		errorObj := map[string]any{
			"code":    calErr.Code,
			"message": calErr.Message,
			"status":  calErr.Status,
		}
		// Internal and storage errors can carry file paths or SQL text,
		// so those are replaced with a generic message at this boundary.
		if calErr.Code == errors.ErrInternal || calErr.Code == errors.ErrStorage {
			errorObj["message"] = "an internal error occurred"
		} else if calErr.Details != nil {
			errorObj["details"] = calErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult wraps data in a JSON tool result.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
