package errors

import "fmt"

// ErrorCode represents a Caliber error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrConflict         ErrorCode = "CONFLICT"          // 409
	ErrAlreadyLocked    ErrorCode = "ALREADY_LOCKED"    // 409
	ErrStaleRevision    ErrorCode = "STALE_REVISION"    // 409
	ErrBudgetTooSmall   ErrorCode = "BUDGET_TOO_SMALL"  // 422
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED" // 422
	ErrLockTimeout      ErrorCode = "LOCK_TIMEOUT"      // 429
	ErrStorage          ErrorCode = "STORAGE_ERROR"     // 500
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// CaliberError is a structured error with code, status, and details.
// Details carry enough context (entity id, scope id, violated
// invariant) that callers can log the error without inspecting
// internal state.
type CaliberError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CaliberError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CaliberError {
	return &CaliberError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an entity id that does not resolve.
func NewNotFound(entityType, id string) *CaliberError {
	return &CaliberError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", entityType, id),
		Details: map[string]any{"entity_type": entityType, "id": id},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *CaliberError {
	return &CaliberError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewAlreadyLocked creates a 409 error when a scope lock is held elsewhere.
func NewAlreadyLocked(scopeID, holder string) *CaliberError {
	return &CaliberError{
		Code:    ErrAlreadyLocked,
		Status:  409,
		Message: fmt.Sprintf("scope %s is locked by agent %s", scopeID, holder),
		Details: map[string]any{"scope_id": scopeID, "holder_agent_id": holder},
	}
}

// NewStaleRevision creates a 409 error when a commit targets a
// provisional set that changed since the last passing validation.
func NewStaleRevision(scopeID string, validated, current int64) *CaliberError {
	return &CaliberError{
		Code:    ErrStaleRevision,
		Status:  409,
		Message: fmt.Sprintf("scope %s changed since validation (revision %d, validated %d)", scopeID, current, validated),
		Details: map[string]any{"scope_id": scopeID, "validated_revision": validated, "current_revision": current},
	}
}

// NewBudgetTooSmall creates a 422 error when no whole turn fits the
// requested token budget.
func NewBudgetTooSmall(scopeID string, budget int) *CaliberError {
	return &CaliberError{
		Code:    ErrBudgetTooSmall,
		Status:  422,
		Message: fmt.Sprintf("token budget %d cannot fit any turn of scope %s", budget, scopeID),
		Details: map[string]any{"scope_id": scopeID, "token_budget": budget},
	}
}

// NewValidationFailed creates a 422 error naming the violated invariant.
func NewValidationFailed(scopeID, reason string) *CaliberError {
	return &CaliberError{
		Code:    ErrValidationFailed,
		Status:  422,
		Message: fmt.Sprintf("validation failed for scope %s: %s", scopeID, reason),
		Details: map[string]any{"scope_id": scopeID, "reason": reason},
	}
}

// NewLockTimeout creates a 429 error when an acquire waited out its timeout.
func NewLockTimeout(scopeID string) *CaliberError {
	return &CaliberError{
		Code:    ErrLockTimeout,
		Status:  429,
		Message: fmt.Sprintf("timed out waiting for lock on scope %s", scopeID),
		Details: map[string]any{"scope_id": scopeID},
	}
}

// NewStorage creates a 500 error for backend I/O failures. Storage
// errors are always surfaced; the core never retries them silently.
func NewStorage(err error) *CaliberError {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return &CaliberError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CaliberError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CaliberError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a CaliberError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := err.(*CaliberError); ok {
		return cErr.Code == code
	}
	return false
}
