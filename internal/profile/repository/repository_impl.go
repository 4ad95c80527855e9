package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, profile *domain.Profile) error {
	return conn.WithContext(ctx).Create(profile).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Profile, error) {
	var profile domain.Profile
	err := conn.WithContext(ctx).First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) FindByAuthUserID(ctx context.Context, conn *gorm.DB, authUserID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := conn.WithContext(ctx).First(&profile, "auth_user_id = ?", authUserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB) ([]domain.Profile, error) {
	var profiles []domain.Profile
	err := conn.WithContext(ctx).
		Order("created_at asc, id asc").
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *repo) ListByRole(ctx context.Context, conn *gorm.DB, role domain.Role) ([]domain.Profile, error) {
	var profiles []domain.Profile
	err := conn.WithContext(ctx).
		Where("role = ?", role).
		Order("created_at asc, id asc").
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, profile *domain.Profile) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE profiles SET name = ?, phone = ?, role = ?, updated_at = ? WHERE id = ?`,
		profile.Name,
		profile.Phone,
		profile.Role,
		profile.UpdatedAt,
		profile.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Profile{}, "id = ?", id).Error
}
