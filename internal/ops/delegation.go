package ops

import (
	"context"
	"strings"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
)

// DelegationCreateInput contains parameters for DelegationCreate.
type DelegationCreateInput struct {
	TrajectoryID string
	FromAgentID  string
	ToAgentID    string
	Payload      string
}

// DelegationCreateOutput contains the result of DelegationCreate.
type DelegationCreateOutput struct {
	Delegation entity.Delegation `json:"delegation"`
}

// DelegationCreate records a durable, ordered delegation message.
func DelegationCreate(ctx context.Context, env *Env, input DelegationCreateInput) (*DelegationCreateOutput, error) {
	trajectoryID, err := entity.ParseTrajectoryID(strings.TrimSpace(input.TrajectoryID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	from := entity.AgentID(strings.TrimSpace(input.FromAgentID))
	to := entity.AgentID(strings.TrimSpace(input.ToAgentID))
	if from == "" || to == "" {
		return nil, errors.NewInvalidRequest("from_agent_id and to_agent_id are required")
	}
	delegation, err := env.Coordinator.Delegate(ctx, from, to, trajectoryID, input.Payload)
	if err != nil {
		return nil, err
	}
	return &DelegationCreateOutput{Delegation: *delegation}, nil
}

// DelegationListInput contains parameters for DelegationList.
type DelegationListInput struct {
	TrajectoryID string
}

// DelegationListOutput contains delegations in sequence order.
type DelegationListOutput struct {
	Items []entity.Delegation `json:"items"`
}

// DelegationList returns a trajectory's delegation log.
func DelegationList(ctx context.Context, env *Env, input DelegationListInput) (*DelegationListOutput, error) {
	trajectoryID, err := entity.ParseTrajectoryID(strings.TrimSpace(input.TrajectoryID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	if _, err := env.Store.Trajectories().Get(ctx, trajectoryID); err != nil {
		return nil, err
	}
	items, err := env.Store.Delegations().ListByTrajectory(ctx, trajectoryID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []entity.Delegation{}
	}
	return &DelegationListOutput{Items: items}, nil
}

// DelegationAdvanceInput contains parameters for DelegationAdvance.
type DelegationAdvanceInput struct {
	ID     string
	Status string
}

// DelegationAdvanceOutput contains the result of DelegationAdvance.
type DelegationAdvanceOutput struct {
	Delegation entity.Delegation `json:"delegation"`
}

// DelegationAdvance moves a delegation along its status machine.
func DelegationAdvance(ctx context.Context, env *Env, input DelegationAdvanceInput) (*DelegationAdvanceOutput, error) {
	id, err := entity.ParseDelegationID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid delegation id")
	}
	status := entity.DelegationStatus(strings.TrimSpace(input.Status))
	switch status {
	case entity.DelegationAccepted, entity.DelegationInProgress,
		entity.DelegationCompleted, entity.DelegationRejected, entity.DelegationFailed:
	default:
		return nil, errors.NewInvalidRequest("status must be one of: accepted, in_progress, completed, rejected, failed")
	}
	delegation, err := env.Coordinator.AdvanceDelegation(ctx, id, status)
	if err != nil {
		return nil, err
	}
	return &DelegationAdvanceOutput{Delegation: *delegation}, nil
}
