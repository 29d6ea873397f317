package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/config"
	"github.com/caliber-ai/caliber/internal/coordinator"
	"github.com/caliber-ai/caliber/internal/db"
	"github.com/caliber-ai/caliber/internal/llm"
	"github.com/caliber-ai/caliber/internal/mcp"
	"github.com/caliber-ai/caliber/internal/ops"
	"github.com/caliber-ai/caliber/internal/pcp"
	"github.com/caliber-ai/caliber/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// defaultLockLease applies when config leaves lock_lease_ms unset.
const defaultLockLease = time.Minute

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"trajectory": true, "scope": true, "turn": true,
	"context": true, "checkpoint": true, "note": true,
	"artifact": true, "delegation": true, "web": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___      _ _ _
  / __|__ _| (_) |__  ___ _ _
 | (__/ _` + "`" + ` | | | '_ \/ -_) '_|
  \___\__,_|_|_|_.__/\___|_|

  Agent memory hierarchy with checkpointed recovery

  Usage: caliber <command> [options]
         caliber --help

  MCP server mode requires piped input.`)
}

// buildEnv assembles the operation environment over the SQLite store.
func buildEnv(cfg *config.Config, baseDir string) (*ops.Env, func(), error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	s := store.NewSQLite(database)
	client := llm.NewClient(cfg)

	var embedder llm.Embedder
	if client != nil {
		embedder = client
	}

	engine := pcp.New(s, cfg.OrphanPolicy, nil)
	assembler := assemble.New(s, embedder, nil)

	lease := defaultLockLease
	if cfg.LockLeaseMS > 0 {
		lease = time.Duration(cfg.LockLeaseMS) * time.Millisecond
	}
	coord, err := coordinator.New(s, engine, assembler, lease, nil)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	env := &ops.Env{
		Store:       s,
		Engine:      engine,
		Assembler:   assembler,
		Coordinator: coord,
		Config:      cfg,
	}
	return env, func() { database.Close() }, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before store init (no store needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".caliber")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	env, cleanup, err := buildEnv(cfg, baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'caliber --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(env, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
