package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/ops"
	"github.com/caliber-ai/caliber/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "caliber",
		Usage:   "Agent memory hierarchy with checkpointed recovery",
		Version: Version,
		Commands: []*cli.Command{
			trajectoryCmd(env),
			scopeCmd(env),
			turnCmd(env),
			contextCmd(env),
			checkpointCmd(env),
			noteCmd(env),
			artifactCmd(env),
			delegationCmd(env),
			webCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// trajectoryCmd groups trajectory management commands.
func trajectoryCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "trajectory",
		Usage: "Manage trajectories",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a new trajectory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Trajectory name"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.TrajectoryCreate(c.Context, env, ops.TrajectoryCreateInput{
						Name: c.String("name"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch a trajectory and its scopes",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.TrajectoryGet(c.Context, env, ops.TrajectoryGetInput{
						ID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List trajectories",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: ops.DefaultListLimit, Usage: "Page size"},
					&cli.IntFlag{Name: "offset", Usage: "Rows to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.TrajectoryList(c.Context, env, ops.TrajectoryListInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete or archive a trajectory",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "archive", Usage: "Archive instead of delete"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.TrajectoryDelete(c.Context, env, ops.TrajectoryDeleteInput{
						ID:      c.Args().First(),
						Archive: c.Bool("archive"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// scopeCmd groups scope lifecycle and checkpoint protocol commands.
func scopeCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "scope",
		Usage: "Manage memory scopes",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a scope (a memory limit is required)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "trajectory", Aliases: []string{"t"}, Required: true, Usage: "Owning trajectory ID"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Scope name"},
					&cli.IntFlag{Name: "max-tokens", Usage: "Token budget for committed content"},
					&cli.IntFlag{Name: "max-turns", Usage: "Turn count budget"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ScopeCreate(c.Context, env, ops.ScopeCreateInput{
						TrajectoryID: c.String("trajectory"),
						Name:         c.String("name"),
						MaxTokens:    c.Int("max-tokens"),
						MaxTurns:     c.Int("max-turns"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch a scope with its turns",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.ScopeGet(c.Context, env, ops.ScopeGetInput{
						ID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "close",
				Usage:     "Close a scope",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.ScopeClose(c.Context, env, ops.ScopeCloseInput{
						ID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "validate",
				Usage:     "Validate a scope's provisional turns",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.Validate(c.Context, env, ops.ValidateInput{
						ScopeID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "commit",
				Usage:     "Commit validated provisional turns to a checkpoint",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.Commit(c.Context, env, ops.CommitInput{
						ScopeID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "rollback",
				Usage:     "Revert a scope to its current checkpoint",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.Rollback(c.Context, env, ops.RollbackInput{
						ScopeID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// turnCmd groups turn commands.
func turnCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "turn",
		Usage: "Manage turns",
		Subcommands: []*cli.Command{
			{
				Name:  "append",
				Usage: "Append a provisional turn (input read from stdin when piped)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Required: true, Usage: "Target scope ID"},
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Input content (ignored when stdin is piped)"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output content"},
					&cli.IntFlag{Name: "tokens", Usage: "Token count (omitted means estimated)"},
					&cli.StringFlag{Name: "artifacts", Usage: "Comma-separated artifact IDs"},
					&cli.StringFlag{Name: "notes", Usage: "Comma-separated note IDs"},
				},
				Action: func(c *cli.Context) error {
					inputContent := c.String("input")
					if stdinHasData() {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						if text != "" {
							inputContent = text
						}
					}

					output, err := ops.TurnAppend(c.Context, env, ops.TurnAppendInput{
						ScopeID:       c.String("scope"),
						InputContent:  inputContent,
						OutputContent: c.String("output"),
						TokenCount:    c.Int("tokens"),
						ArtifactIDs:   splitList(c.String("artifacts")),
						NoteIDs:       splitList(c.String("notes")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// contextCmd groups context assembly commands.
func contextCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "context",
		Usage: "Assemble bounded context windows",
		Subcommands: []*cli.Command{
			{
				Name:  "assemble",
				Usage: "Assemble a context window from committed turns and notes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Required: true, Usage: "Scope ID"},
					&cli.IntFlag{Name: "budget", Aliases: []string{"b"}, Required: true, Usage: "Token budget"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated note tags"},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Semantic ranking query for notes"},
					&cli.IntFlag{Name: "max-notes", Usage: "Maximum notes to include"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.Assemble(c.Context, env, ops.AssembleInput{
						ScopeID:     c.String("scope"),
						TokenBudget: c.Int("budget"),
						NoteTags:    splitList(c.String("tags")),
						Query:       c.String("query"),
						MaxNotes:    c.Int("max-notes"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// checkpointCmd groups checkpoint inspection commands.
func checkpointCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Inspect checkpoint history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a scope's checkpoints, oldest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Required: true, Usage: "Scope ID"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.CheckpointList(c.Context, env, ops.CheckpointListInput{
						ScopeID: c.String("scope"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// noteCmd groups cross-trajectory note commands.
func noteCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "note",
		Usage: "Manage cross-trajectory notes",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a note (content read from stdin when piped)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content", Usage: "Note content (ignored when stdin is piped)"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
					&cli.StringFlag{Name: "trajectory", Aliases: []string{"t"}, Required: true, Usage: "Source trajectory ID"},
					&cli.IntFlag{Name: "tokens", Usage: "Token count (omitted means estimated)"},
				},
				Action: func(c *cli.Context) error {
					content := c.String("content")
					if stdinHasData() {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						if text != "" {
							content = text
						}
					}

					output, err := ops.NoteCreate(c.Context, env, ops.NoteCreateInput{
						Content:            content,
						Tags:               splitList(c.String("tags")),
						SourceTrajectoryID: c.String("trajectory"),
						TokenCount:         c.Int("tokens"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "search",
				Usage: "Search notes by tag, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tags", Required: true, Usage: "Comma-separated tags (any match)"},
					&cli.BoolFlag{Name: "include-orphaned", Usage: "Include notes whose producing turn was rolled back"},
					&cli.IntFlag{Name: "limit", Value: ops.DefaultListLimit, Usage: "Maximum results"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.NoteSearch(c.Context, env, ops.NoteSearchInput{
						Tags:            splitList(c.String("tags")),
						IncludeOrphaned: c.Bool("include-orphaned"),
						Limit:           c.Int("limit"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// artifactCmd groups artifact commands.
func artifactCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "artifact",
		Usage: "Manage artifacts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Store an artifact (content read from stdin when piped)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "trajectory", Aliases: []string{"t"}, Required: true, Usage: "Owning trajectory ID"},
					&cli.StringFlag{Name: "turn", Usage: "Producing turn ID"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Artifact name"},
					&cli.StringFlag{Name: "mime", Usage: "MIME type (default text/plain)"},
					&cli.StringFlag{Name: "content", Usage: "Artifact content (ignored when stdin is piped)"},
				},
				Action: func(c *cli.Context) error {
					content := c.String("content")
					if stdinHasData() {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						if text != "" {
							content = text
						}
					}

					output, err := ops.ArtifactCreate(c.Context, env, ops.ArtifactCreateInput{
						TrajectoryID: c.String("trajectory"),
						TurnID:       c.String("turn"),
						Name:         c.String("name"),
						MimeType:     c.String("mime"),
						Content:      content,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch an artifact and verify its hash",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.ArtifactGet(c.Context, env, ops.ArtifactGetInput{
						ID: c.Args().First(),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// delegationCmd groups delegation commands.
func delegationCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "delegation",
		Usage: "Manage agent-to-agent delegations",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Record a delegation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "trajectory", Aliases: []string{"t"}, Required: true, Usage: "Trajectory ID"},
					&cli.StringFlag{Name: "from", Required: true, Usage: "Delegating agent ID"},
					&cli.StringFlag{Name: "to", Required: true, Usage: "Receiving agent ID"},
					&cli.StringFlag{Name: "payload", Usage: "Task payload"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DelegationCreate(c.Context, env, ops.DelegationCreateInput{
						TrajectoryID: c.String("trajectory"),
						FromAgentID:  c.String("from"),
						ToAgentID:    c.String("to"),
						Payload:      c.String("payload"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "advance",
				Usage:     "Advance a delegation's status",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Required: true, Usage: "New status: accepted|rejected|in_progress|completed|failed"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DelegationAdvance(c.Context, env, ops.DelegationAdvanceInput{
						ID:     c.Args().First(),
						Status: c.String("status"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List a trajectory's delegations in sequence order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "trajectory", Aliases: []string{"t"}, Required: true, Usage: "Trajectory ID"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DelegationList(c.Context, env, ops.DelegationListInput{
						TrajectoryID: c.String("trajectory"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// webCmd starts the read-only web viewer.
func webCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the read-only web viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			if listen := c.String("listen"); listen != "" {
				env.Config.WebListenAddr = listen
			}
			srv := web.NewServer(env, Version, nil)
			return web.Run(srv, nil)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := err.(*errors.CaliberError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// splitList splits a comma-separated string into trimmed parts.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
