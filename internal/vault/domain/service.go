package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type IssueRequest struct {
	Scope    Scope
	IssuedBy snowflake.ID
}

// IssuedCode carries the plaintext exactly once. It is never persisted.
type IssuedCode struct {
	Plaintext string
	Code      OneTimeCode
}

type Service interface {
	// Issue generates a formatted code, stores its hash and returns the
	// plaintext for out-of-band delivery.
	Issue(ctx context.Context, req IssueRequest) (*IssuedCode, error)
	List(ctx context.Context, scope Scope) ([]OneTimeCode, error)

	// RedeemInTx validates and consumes a submitted code inside the caller's
	// transaction, so the used-flag flip commits together with the authorized
	// side effect. At most one redemption ever succeeds per code.
	RedeemInTx(ctx context.Context, tx *gorm.DB, scope Scope, submittedCode string, redeemer snowflake.ID) (*OneTimeCode, error)
}

var (
	ErrEmptyCode         = errors.New("empty_code")
	ErrInvalidOrUsedCode = errors.New("invalid_or_used_code")
	ErrInvalidScope      = errors.New("invalid_scope")
)
