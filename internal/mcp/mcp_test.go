package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/config"
	"github.com/caliber-ai/caliber/internal/coordinator"
	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/ops"
	"github.com/caliber-ai/caliber/internal/pcp"
	"github.com/caliber-ai/caliber/internal/store"
)

// testEnv builds an ops environment over the in-memory store.
func testEnv(t *testing.T) *ops.Env {
	t.Helper()

	s := store.NewMemory()
	cfg := config.DefaultConfig()
	engine := pcp.New(s, cfg.OrphanPolicy, nil)
	assembler := assemble.New(s, nil, nil)
	coord, err := coordinator.New(s, engine, assembler, time.Minute, nil)
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	return &ops.Env{
		Store:       s,
		Engine:      engine,
		Assembler:   assembler,
		Coordinator: coord,
		Config:      cfg,
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if !result.IsError {
		t.Fatal("expected error result, got success")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing error object: %v", payload)
	}
	if errObj["code"] != expectedCode {
		t.Errorf("error code = %v, want %v", errObj["code"], expectedCode)
	}
}

// createTrajectory creates a trajectory through the handler and
// returns its ID.
func createTrajectory(t *testing.T, h *Handlers, name string) string {
	t.Helper()
	result, err := h.HandleTrajectoryCreate(context.Background(), makeRequest(map[string]any{"name": name}))
	if err != nil {
		t.Fatalf("HandleTrajectoryCreate: %v", err)
	}
	out := parseOutput(t, result)
	return out["trajectory"].(map[string]any)["id"].(string)
}

// createScope creates a scope through the handler and returns its ID.
func createScope(t *testing.T, h *Handlers, trajectoryID string, maxTokens int) string {
	t.Helper()
	result, err := h.HandleScopeCreate(context.Background(), makeRequest(map[string]any{
		"trajectory_id": trajectoryID,
		"name":          "working",
		"max_tokens":    maxTokens,
	}))
	if err != nil {
		t.Fatalf("HandleScopeCreate: %v", err)
	}
	out := parseOutput(t, result)
	return out["scope"].(map[string]any)["id"].(string)
}

func TestHandleTrajectoryCreate(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name:      "valid trajectory",
			args:      map[string]any{"name": "migrate billing"},
			wantError: false,
		},
		{
			name:      "missing name",
			args:      map[string]any{},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "blank name",
			args:      map[string]any{"name": "   "},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleTrajectoryCreate(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if tt.wantError {
				assertErrorCode(t, result, tt.errorCode)
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleTrajectoryGetAndList(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	id := createTrajectory(t, h, "alpha")
	createTrajectory(t, h, "beta")

	result, err := h.HandleTrajectoryGet(ctx, makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleTrajectoryGet: %v", err)
	}
	out := parseOutput(t, result)
	if got := out["trajectory"].(map[string]any)["name"]; got != "alpha" {
		t.Errorf("trajectory name = %v, want alpha", got)
	}

	result, err = h.HandleTrajectoryList(ctx, makeRequest(map[string]any{"limit": 1}))
	if err != nil {
		t.Fatalf("HandleTrajectoryList: %v", err)
	}
	out = parseOutput(t, result)
	if items := out["items"].([]any); len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
	if hasMore := out["pagination"].(map[string]any)["has_more"]; hasMore != true {
		t.Errorf("has_more = %v, want true", hasMore)
	}

	result, err = h.HandleTrajectoryGet(ctx, makeRequest(map[string]any{"id": string(entity.NewTrajectoryID())}))
	if err != nil {
		t.Fatalf("HandleTrajectoryGet: %v", err)
	}
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleScopeLifecycle(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "rollout")

	// A scope without a memory limit is rejected.
	result, err := h.HandleScopeCreate(ctx, makeRequest(map[string]any{
		"trajectory_id": trajectoryID,
		"name":          "unbounded",
	}))
	if err != nil {
		t.Fatalf("HandleScopeCreate: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")

	scopeID := createScope(t, h, trajectoryID, 1000)

	result, err = h.HandleScopeGet(ctx, makeRequest(map[string]any{"id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeGet: %v", err)
	}
	out := parseOutput(t, result)
	if got := out["scope"].(map[string]any)["status"]; got != "open" {
		t.Errorf("scope status = %v, want open", got)
	}

	result, err = h.HandleScopeClose(ctx, makeRequest(map[string]any{"id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeClose: %v", err)
	}
	out = parseOutput(t, result)
	if got := out["scope"].(map[string]any)["status"]; got != "closed" {
		t.Errorf("scope status = %v, want closed", got)
	}
}

func TestHandleTurnValidateCommit(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "session")
	scopeID := createScope(t, h, trajectoryID, 100)

	result, err := h.HandleTurnAppend(ctx, makeRequest(map[string]any{
		"scope_id":      scopeID,
		"input_content": "inspect the schema",
		"token_count":   40,
	}))
	if err != nil {
		t.Fatalf("HandleTurnAppend: %v", err)
	}
	out := parseOutput(t, result)
	if seq := out["turn"].(map[string]any)["sequence"]; seq != float64(1) {
		t.Errorf("sequence = %v, want 1", seq)
	}

	// Commit before validation is refused.
	result, err = h.HandleScopeCommit(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeCommit: %v", err)
	}
	assertErrorCode(t, result, "VALIDATION_FAILED")

	result, err = h.HandleScopeValidate(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeValidate: %v", err)
	}
	out = parseOutput(t, result)
	if pass := out["result"].(map[string]any)["pass"]; pass != true {
		t.Fatalf("validation pass = %v, want true", pass)
	}

	result, err = h.HandleScopeCommit(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeCommit: %v", err)
	}
	out = parseOutput(t, result)
	if tc := out["checkpoint"].(map[string]any)["token_count"]; tc != float64(40) {
		t.Errorf("checkpoint token_count = %v, want 40", tc)
	}

	result, err = h.HandleCheckpointList(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleCheckpointList: %v", err)
	}
	out = parseOutput(t, result)
	if items := out["items"].([]any); len(items) != 1 {
		t.Errorf("checkpoints = %d, want 1", len(items))
	}
}

func TestHandleValidationFailureAndRollback(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "constrained")
	scopeID := createScope(t, h, trajectoryID, 30)

	result, err := h.HandleTurnAppend(ctx, makeRequest(map[string]any{
		"scope_id":      scopeID,
		"input_content": "oversized work",
		"token_count":   50,
	}))
	if err != nil {
		t.Fatalf("HandleTurnAppend: %v", err)
	}
	parseOutput(t, result)

	result, err = h.HandleScopeValidate(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeValidate: %v", err)
	}
	out := parseOutput(t, result)
	vr := out["result"].(map[string]any)
	if vr["pass"] != false {
		t.Fatalf("validation pass = %v, want false", vr["pass"])
	}
	if vr["reason"] != "memory limit exceeded" {
		t.Errorf("reason = %v, want memory limit exceeded", vr["reason"])
	}

	result, err = h.HandleScopeRollback(ctx, makeRequest(map[string]any{"scope_id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeRollback: %v", err)
	}
	out = parseOutput(t, result)
	// No checkpoint exists, so the scope reverts to its empty state.
	if _, ok := out["checkpoint"]; ok {
		t.Errorf("expected no checkpoint in rollback output, got %v", out["checkpoint"])
	}

	result, err = h.HandleScopeGet(ctx, makeRequest(map[string]any{"id": scopeID}))
	if err != nil {
		t.Fatalf("HandleScopeGet: %v", err)
	}
	out = parseOutput(t, result)
	if turns := out["turns"].([]any); len(turns) != 0 {
		t.Errorf("visible turns after rollback = %d, want 0", len(turns))
	}
}

func TestHandleContextAssemble(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "assembly")
	scopeID := createScope(t, h, trajectoryID, 1000)

	for i := 0; i < 2; i++ {
		result, err := h.HandleTurnAppend(ctx, makeRequest(map[string]any{
			"scope_id":      scopeID,
			"input_content": fmt.Sprintf("step %d", i),
			"token_count":   30,
		}))
		if err != nil {
			t.Fatalf("HandleTurnAppend: %v", err)
		}
		parseOutput(t, result)
	}
	if r, err := h.HandleScopeValidate(ctx, makeRequest(map[string]any{"scope_id": scopeID})); err != nil {
		t.Fatalf("HandleScopeValidate: %v", err)
	} else {
		parseOutput(t, r)
	}
	if r, err := h.HandleScopeCommit(ctx, makeRequest(map[string]any{"scope_id": scopeID})); err != nil {
		t.Fatalf("HandleScopeCommit: %v", err)
	} else {
		parseOutput(t, r)
	}

	result, err := h.HandleContextAssemble(ctx, makeRequest(map[string]any{
		"scope_id":     scopeID,
		"token_budget": 100,
	}))
	if err != nil {
		t.Fatalf("HandleContextAssemble: %v", err)
	}
	out := parseOutput(t, result)
	window := out["window"].(map[string]any)
	if turns := window["turns"].([]any); len(turns) != 2 {
		t.Errorf("window turns = %d, want 2", len(turns))
	}
	if tc := window["token_count"]; tc != float64(60) {
		t.Errorf("window token_count = %v, want 60", tc)
	}

	result, err = h.HandleContextAssemble(ctx, makeRequest(map[string]any{
		"scope_id":     scopeID,
		"token_budget": 10,
	}))
	if err != nil {
		t.Fatalf("HandleContextAssemble: %v", err)
	}
	assertErrorCode(t, result, "BUDGET_TOO_SMALL")
}

func TestHandleNoteCreateAndSearch(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "knowledge")

	result, err := h.HandleNoteCreate(ctx, makeRequest(map[string]any{
		"content":              "the billing table is partitioned by month",
		"tags":                 []any{"Billing", "schema"},
		"source_trajectory_id": trajectoryID,
	}))
	if err != nil {
		t.Fatalf("HandleNoteCreate: %v", err)
	}
	out := parseOutput(t, result)
	tags := out["note"].(map[string]any)["tags"].([]any)
	if tags[0] != "billing" {
		t.Errorf("tags[0] = %v, want billing (normalized)", tags[0])
	}

	result, err = h.HandleNoteSearch(ctx, makeRequest(map[string]any{
		"tags": []any{"billing"},
	}))
	if err != nil {
		t.Fatalf("HandleNoteSearch: %v", err)
	}
	out = parseOutput(t, result)
	if items := out["items"].([]any); len(items) != 1 {
		t.Errorf("search items = %d, want 1", len(items))
	}

	result, err = h.HandleNoteSearch(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("HandleNoteSearch: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleArtifactCreateAndGet(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "artifacts")

	result, err := h.HandleArtifactCreate(ctx, makeRequest(map[string]any{
		"trajectory_id": trajectoryID,
		"name":          "plan.md",
		"content":       "# Plan\n\n1. inspect\n2. migrate",
	}))
	if err != nil {
		t.Fatalf("HandleArtifactCreate: %v", err)
	}
	out := parseOutput(t, result)
	artifactID := out["artifact"].(map[string]any)["id"].(string)

	result, err = h.HandleArtifactGet(ctx, makeRequest(map[string]any{"id": artifactID}))
	if err != nil {
		t.Fatalf("HandleArtifactGet: %v", err)
	}
	out = parseOutput(t, result)
	if ok := out["integrity_ok"]; ok != true {
		t.Errorf("integrity_ok = %v, want true", ok)
	}
}

func TestHandleDelegationLifecycle(t *testing.T) {
	env := testEnv(t)
	h := NewHandlers(env)
	ctx := context.Background()

	trajectoryID := createTrajectory(t, h, "teamwork")
	from := string(entity.NewAgentID())
	to := string(entity.NewAgentID())

	result, err := h.HandleDelegationCreate(ctx, makeRequest(map[string]any{
		"trajectory_id": trajectoryID,
		"from_agent_id": from,
		"to_agent_id":   to,
		"payload":       "review the schema changes",
	}))
	if err != nil {
		t.Fatalf("HandleDelegationCreate: %v", err)
	}
	out := parseOutput(t, result)
	delegationID := out["delegation"].(map[string]any)["id"].(string)
	if status := out["delegation"].(map[string]any)["status"]; status != "pending" {
		t.Errorf("status = %v, want pending", status)
	}

	result, err = h.HandleDelegationAdvance(ctx, makeRequest(map[string]any{
		"id":     delegationID,
		"status": "accepted",
	}))
	if err != nil {
		t.Fatalf("HandleDelegationAdvance: %v", err)
	}
	parseOutput(t, result)

	// Skipping in_progress is an invalid transition.
	result, err = h.HandleDelegationAdvance(ctx, makeRequest(map[string]any{
		"id":     delegationID,
		"status": "completed",
	}))
	if err != nil {
		t.Fatalf("HandleDelegationAdvance: %v", err)
	}
	assertErrorCode(t, result, "CONFLICT")

	result, err = h.HandleDelegationList(ctx, makeRequest(map[string]any{
		"trajectory_id": trajectoryID,
	}))
	if err != nil {
		t.Fatalf("HandleDelegationList: %v", err)
	}
	out = parseOutput(t, result)
	if items := out["items"].([]any); len(items) != 1 {
		t.Errorf("delegations = %d, want 1", len(items))
	}
}

func TestServerRegistration(t *testing.T) {
	env := testEnv(t)

	s := NewServer(env, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"trajectory_create",
		"trajectory_get",
		"trajectory_list",
		"trajectory_delete",
		"scope_create",
		"scope_get",
		"scope_close",
		"turn_append",
		"context_assemble",
		"scope_validate",
		"scope_commit",
		"scope_rollback",
		"checkpoint_list",
		"note_create",
		"note_search",
		"artifact_create",
		"artifact_get",
		"delegation_create",
		"delegation_advance",
		"delegation_list",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testEnv(t)
	env.Config.DisabledTools = []string{"trajectory_delete", "scope_rollback"}

	s := NewServer(env, "test")
	tools := s.ListTools()

	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"trajectory_delete", "scope_rollback"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	for _, name := range []string{"trajectory_create", "turn_append", "scope_commit"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testEnv(t)
	env.Config.DisabledTools = AllToolNames()

	s := NewServer(env, "test")
	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{
			name:    "all valid",
			input:   []string{"trajectory_delete", "scope_rollback"},
			wantLen: 0,
		},
		{
			name:    "one unknown",
			input:   []string{"turn_append", "fake_tool"},
			wantLen: 1,
		},
		{
			name:    "all unknown",
			input:   []string{"foo", "bar"},
			wantLen: 2,
		},
		{
			name:    "empty list",
			input:   []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Errorf("AllToolNames() returned %d names, want %d", len(names), len(toolRegistry))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalHidesDetails(t *testing.T) {
	r := errorResult(errors.NewStorage(fmt.Errorf("open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrStorage) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrStorage)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected storage errors to omit details")
	}
	if msg := errObj["message"].(string); msg != "an internal error occurred" {
		t.Errorf("message = %q, want generic message", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewNotFound("scope", "abc"))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-internal errors to include details when present")
	}
}

func TestErrorResult_WrappedErrorKeepsCode(t *testing.T) {
	wrapped := fmt.Errorf("advance: %w", errors.NewConflict("invalid transition"))
	r := errorResult(wrapped)
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrConflict) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrConflict)
	}
}

func TestErrorResult_UnknownErrorIsGeneric(t *testing.T) {
	r := errorResult(fmt.Errorf("something unexpected"))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != "INTERNAL" {
		t.Errorf("code=%v, want INTERNAL", errObj["code"])
	}
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message = %v, want generic message", errObj["message"])
	}
}

func TestDecode_BadArgumentTypes(t *testing.T) {
	req := makeRequest(map[string]any{"token_budget": "not a number"})
	if _, err := decode[ContextAssembleRequest](req); err == nil {
		t.Fatal("expected decode error for mistyped argument")
	}
}
