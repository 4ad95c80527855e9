package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, code *OneTimeCode) error
	// FindUnusedByHash looks up an unused code in scope with a matching hash.
	// Returns nil when no such code exists.
	FindUnusedByHash(ctx context.Context, db *gorm.DB, scope Scope, codeHash string) (*OneTimeCode, error)
	// MarkUsed flips the used flag. The update is guarded on used = false and
	// reports whether this call won the flip, so two concurrent redemptions
	// of the same code cannot both succeed.
	MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBy snowflake.ID, usedAt time.Time) (bool, error)
	ListByScope(ctx context.Context, db *gorm.DB, scope Scope) ([]OneTimeCode, error)
	DeleteByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error
}
