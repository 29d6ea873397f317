package web

import (
	"net/http"
	"strconv"

	"github.com/caliber-ai/caliber/internal/ops"
)

// Handlers contains HTTP route handlers for the read-only viewer.
type Handlers struct {
	env      *ops.Env
	renderer *Renderer
}

// HandleTrajectoryList handles GET /trajectories.
func (h *Handlers) HandleTrajectoryList(w http.ResponseWriter, r *http.Request) {
	result, err := ops.TrajectoryList(r.Context(), h.env, ops.TrajectoryListInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "trajectories", TrajectoryListPageData{
		PageData: PageData{
			Title:   "Trajectories",
			Version: h.renderer.version,
			Nav:     "trajectories",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
	})
}

// HandleTrajectoryDetail handles GET /trajectories/{id}.
func (h *Handlers) HandleTrajectoryDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := ops.TrajectoryGet(r.Context(), h.env, ops.TrajectoryGetInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	delegations, err := ops.DelegationList(r.Context(), h.env, ops.DelegationListInput{TrajectoryID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "trajectory", TrajectoryPageData{
		PageData: PageData{
			Title:   result.Trajectory.Name,
			Version: h.renderer.version,
			Nav:     "trajectories",
		},
		Trajectory:  result.Trajectory,
		Scopes:      result.Scopes,
		Delegations: delegations.Items,
	})
}

// HandleScopeDetail handles GET /scopes/{id}.
func (h *Handlers) HandleScopeDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := ops.ScopeGet(r.Context(), h.env, ops.ScopeGetInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	checkpoints, err := ops.CheckpointList(r.Context(), h.env, ops.CheckpointListInput{ScopeID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	turns := make([]TurnView, 0, len(result.Turns))
	for _, turn := range result.Turns {
		turns = append(turns, TurnView{
			Turn:       turn,
			InputHTML:  renderMarkdown(turn.InputContent),
			OutputHTML: renderMarkdown(turn.OutputContent),
		})
	}

	h.renderer.renderPage(w, "scope", ScopePageData{
		PageData: PageData{
			Title:   result.Scope.Name,
			Version: h.renderer.version,
			Nav:     "trajectories",
		},
		Scope:       result.Scope,
		Turns:       turns,
		Checkpoints: checkpoints.Items,
	})
}

// HandleNotes handles GET /notes, a tag search over cross-trajectory notes.
func (h *Handlers) HandleNotes(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")

	data := NotesPageData{
		PageData: PageData{
			Title:   "Notes",
			Version: h.renderer.version,
			Nav:     "notes",
		},
		Tag:      tag,
		HasQuery: tag != "",
	}

	if tag == "" {
		h.renderer.renderPage(w, "notes", data)
		return
	}

	result, err := ops.NoteSearch(r.Context(), h.env, ops.NoteSearchInput{
		Tags:            []string{tag},
		IncludeOrphaned: parseBoolParam(r, "include_orphaned"),
		Limit:           parseIntParam(r, "limit", ops.DefaultListLimit),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	for _, note := range result.Items {
		data.Items = append(data.Items, NoteView{
			Note: note,
			HTML: renderMarkdown(note.Content),
		})
	}

	h.renderer.renderPage(w, "notes", data)
}

// HandleArtifactDetail handles GET /artifacts/{id}.
func (h *Handlers) HandleArtifactDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := ops.ArtifactGet(r.Context(), h.env, ops.ArtifactGetInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "artifact", ArtifactPageData{
		PageData: PageData{
			Title:   result.Artifact.Name,
			Version: h.renderer.version,
			Nav:     "trajectories",
		},
		Artifact:     result.Artifact,
		IntegrityOK:  result.IntegrityOK,
		RenderedHTML: renderMarkdown(result.Artifact.Content),
	})
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// parseBoolParam parses a boolean query parameter, defaulting to false.
func parseBoolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}
