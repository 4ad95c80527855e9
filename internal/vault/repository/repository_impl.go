package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/vault/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *domain.OneTimeCode) error {
	return db.WithContext(ctx).Create(code).Error
}

func (r *repo) FindUnusedByHash(ctx context.Context, db *gorm.DB, scope domain.Scope, codeHash string) (*domain.OneTimeCode, error) {
	stmt := db.WithContext(ctx).
		Where("kind = ? AND code_hash = ? AND used = ?", scope.Kind, codeHash, false)
	if scope.Kind == domain.ScopeLeave {
		stmt = stmt.Where("batch_id = ?", scope.BatchID)
	} else {
		stmt = stmt.Where("batch_id IS NULL")
	}

	var code domain.OneTimeCode
	err := stmt.First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBy snowflake.ID, usedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE one_time_codes SET used = ?, used_by = ?, used_at = ? WHERE id = ? AND used = ?`,
		true, usedBy, usedAt, id, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListByScope(ctx context.Context, db *gorm.DB, scope domain.Scope) ([]domain.OneTimeCode, error) {
	stmt := db.WithContext(ctx).Where("kind = ?", scope.Kind)
	if scope.Kind == domain.ScopeLeave {
		stmt = stmt.Where("batch_id = ?", scope.BatchID)
	}

	var codes []domain.OneTimeCode
	if err := stmt.Order("created_at desc, id desc").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *repo) DeleteByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Delete(&domain.OneTimeCode{}).Error
}
