package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ListRequest struct {
	Action     string
	TargetType string
	Limit      int
}

type Service interface {
	// Record appends an audit entry. Failures are logged and swallowed so
	// auditing never fails the operation it describes.
	Record(ctx context.Context, actorID *snowflake.ID, action, targetType string, targetID *string, metadata map[string]any)
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

var ErrInvalidAction = errors.New("invalid_action")
