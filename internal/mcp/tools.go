package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var stringItems = map[string]any{"type": "string"}

var trajectoryCreateToolDef = mcp.NewTool("trajectory_create",
	mcp.WithDescription("Create a new trajectory (top-level task container)."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable trajectory name.")),
)

var trajectoryGetToolDef = mcp.NewTool("trajectory_get",
	mcp.WithDescription("Fetch a trajectory and its scopes."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Trajectory ID (ULID).")),
)

var trajectoryListToolDef = mcp.NewTool("trajectory_list",
	mcp.WithDescription("List trajectories in creation order."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100).")),
	mcp.WithNumber("offset", mcp.Description("Rows to skip.")),
)

var trajectoryDeleteToolDef = mcp.NewTool("trajectory_delete",
	mcp.WithDescription("Delete a trajectory, cascading over its scopes, turns, and checkpoints. Artifacts and notes survive with orphaned provenance."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Trajectory ID (ULID).")),
	mcp.WithBoolean("archive", mcp.Description("Archive instead of delete: keeps all records, closes the scopes.")),
)

var scopeCreateToolDef = mcp.NewTool("scope_create",
	mcp.WithDescription("Create a memory scope under a trajectory. A memory limit is required; there are no default budgets."),
	mcp.WithString("trajectory_id", mcp.Required(), mcp.Description("Owning trajectory ID.")),
	mcp.WithString("name", mcp.Required(), mcp.Description("Scope name.")),
	mcp.WithNumber("max_tokens", mcp.Description("Token budget for committed content.")),
	mcp.WithNumber("max_turns", mcp.Description("Turn count budget.")),
)

var scopeGetToolDef = mcp.NewTool("scope_get",
	mcp.WithDescription("Fetch a scope with its provisional and committed turns."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scope ID.")),
)

var scopeCloseToolDef = mcp.NewTool("scope_close",
	mcp.WithDescription("Close a scope. Closed scopes accept no further turns."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scope ID.")),
)

var turnAppendToolDef = mcp.NewTool("turn_append",
	mcp.WithDescription("Append a provisional turn to an open scope. Provisional turns become durable only after scope_validate and scope_commit."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Target scope ID.")),
	mcp.WithString("input_content", mcp.Required(), mcp.Description("The turn's input side.")),
	mcp.WithString("output_content", mcp.Description("The turn's output side.")),
	mcp.WithNumber("token_count", mcp.Description("Token count from the caller's tokenizer; omitted means estimated.")),
	mcp.WithArray("artifact_ids", mcp.Description("Artifacts this turn produced."), mcp.Items(stringItems)),
	mcp.WithArray("note_ids", mcp.Description("Notes this turn produced."), mcp.Items(stringItems)),
)

var contextAssembleToolDef = mcp.NewTool("context_assemble",
	mcp.WithDescription("Assemble a bounded context window from a scope's committed turns, newest first, plus tag-matched notes for leftover budget."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope to assemble from.")),
	mcp.WithNumber("token_budget", mcp.Required(), mcp.Description("Hard token budget for the window.")),
	mcp.WithArray("note_tags", mcp.Description("Tags selecting cross-trajectory notes."), mcp.Items(stringItems)),
	mcp.WithString("query", mcp.Description("Optional query for semantic note ranking.")),
	mcp.WithNumber("max_notes", mcp.Description("Cap on included notes.")),
)

var scopeValidateToolDef = mcp.NewTool("scope_validate",
	mcp.WithDescription("Validate a scope's provisional turns against its limits. Read-only; the result gates scope_commit."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope to validate.")),
)

var scopeCommitToolDef = mcp.NewTool("scope_commit",
	mcp.WithDescription("Commit validated provisional turns into a new checkpoint. Fails with STALE_REVISION if the scope changed since validation."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope to commit.")),
)

var scopeRollbackToolDef = mcp.NewTool("scope_rollback",
	mcp.WithDescription("Roll a scope back to its current checkpoint, discarding later turns. Idempotent."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope to roll back.")),
)

var checkpointListToolDef = mcp.NewTool("checkpoint_list",
	mcp.WithDescription("List a scope's checkpoint chain, oldest first."),
	mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope whose history to read.")),
)

var noteCreateToolDef = mcp.NewTool("note_create",
	mcp.WithDescription("Record a cross-trajectory note. Notes outlive scopes and are never rolled back."),
	mcp.WithString("content", mcp.Required(), mcp.Description("Note content.")),
	mcp.WithArray("tags", mcp.Description("Tags for later retrieval; normalized."), mcp.Items(stringItems)),
	mcp.WithString("source_trajectory_id", mcp.Required(), mcp.Description("Trajectory the note came from (provenance).")),
	mcp.WithNumber("token_count", mcp.Description("Token count; omitted means estimated.")),
)

var noteSearchToolDef = mcp.NewTool("note_search",
	mcp.WithDescription("Find notes by tag, newest first."),
	mcp.WithArray("tags", mcp.Required(), mcp.Description("Tags to match (any)."), mcp.Items(stringItems)),
	mcp.WithBoolean("include_orphaned", mcp.Description("Include notes whose producing turn was rolled back.")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100).")),
)

var artifactCreateToolDef = mcp.NewTool("artifact_create",
	mcp.WithDescription("Store a generated output with a SHA-256 content hash. Reports existing artifacts with the same hash."),
	mcp.WithString("trajectory_id", mcp.Required(), mcp.Description("Owning trajectory ID.")),
	mcp.WithString("turn_id", mcp.Description("Producing turn ID, if any.")),
	mcp.WithString("name", mcp.Required(), mcp.Description("Artifact name.")),
	mcp.WithString("mime_type", mcp.Description("MIME type (default text/plain).")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Raw content.")),
)

var artifactGetToolDef = mcp.NewTool("artifact_get",
	mcp.WithDescription("Fetch an artifact and re-verify its content hash."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Artifact ID.")),
)

var delegationCreateToolDef = mcp.NewTool("delegation_create",
	mcp.WithDescription("Record a durable delegation message from one agent to another. Ordering per trajectory is guaranteed."),
	mcp.WithString("trajectory_id", mcp.Required(), mcp.Description("Trajectory the delegation belongs to.")),
	mcp.WithString("from_agent_id", mcp.Required(), mcp.Description("Delegating agent.")),
	mcp.WithString("to_agent_id", mcp.Required(), mcp.Description("Receiving agent.")),
	mcp.WithString("payload", mcp.Description("Opaque payload for the receiving agent.")),
)

var delegationAdvanceToolDef = mcp.NewTool("delegation_advance",
	mcp.WithDescription("Advance a delegation's status (pending -> accepted -> in_progress -> completed/rejected/failed)."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Delegation ID.")),
	mcp.WithString("status", mcp.Required(), mcp.Description("Target status.")),
)

var delegationListToolDef = mcp.NewTool("delegation_list",
	mcp.WithDescription("List a trajectory's delegations in sequence order."),
	mcp.WithString("trajectory_id", mcp.Required(), mcp.Description("Trajectory whose delegation log to read.")),
)
