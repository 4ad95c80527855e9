package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ClosePatch is the batch-side write of the close transaction.
type ClosePatch struct {
	Mode           AssignmentMode
	CommitHash     string
	Secret         string
	SecretRevealed bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *Batch) error
	// FindByIDForUpdate loads the batch under a row lock so join, close and
	// reservation writes against the same batch serialize.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	// FindOpen returns the highest-numbered open batch, or nil.
	FindOpen(ctx context.Context, db *gorm.DB) (*Batch, error)
	// FindOpenForUpdate is FindOpen under a row lock.
	FindOpenForUpdate(ctx context.Context, db *gorm.DB) (*Batch, error)
	List(ctx context.Context, db *gorm.DB) ([]Batch, error)
	// NextNumber computes MAX(number)+1 across all batches.
	NextNumber(ctx context.Context, db *gorm.DB) (int64, error)
	ApplyClose(ctx context.Context, db *gorm.DB, batch *Batch, patch ClosePatch) error
	UpdateSettings(ctx context.Context, db *gorm.DB, batch *Batch) error
	MarkRevealed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
