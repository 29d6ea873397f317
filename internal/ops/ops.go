// Package ops implements the operations shared by the CLI, MCP, and
// web surfaces. Each operation takes an Env plus a typed input and
// returns a typed output; surfaces only translate arguments and
// render results.
package ops

import (
	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/config"
	"github.com/caliber-ai/caliber/internal/coordinator"
	"github.com/caliber-ai/caliber/internal/pcp"
	"github.com/caliber-ai/caliber/internal/store"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Env bundles the wired core components.
type Env struct {
	Store       store.Store
	Engine      *pcp.Engine
	Assembler   *assemble.Assembler
	Coordinator *coordinator.Coordinator
	Config      *config.Config
}

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
