package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, profile *Profile) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Profile, error)
	FindByAuthUserID(ctx context.Context, db *gorm.DB, authUserID string) (*Profile, error)
	List(ctx context.Context, db *gorm.DB) ([]Profile, error)
	ListByRole(ctx context.Context, db *gorm.DB, role Role) ([]Profile, error)
	Update(ctx context.Context, db *gorm.DB, profile *Profile) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
