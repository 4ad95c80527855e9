package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM batches WHERE id = ?`+db.RowLock(conn),
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := conn.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) FindOpen(ctx context.Context, conn *gorm.DB) (*domain.Batch, error) {
	return r.findOpen(ctx, conn, "")
}

func (r *repo) FindOpenForUpdate(ctx context.Context, conn *gorm.DB) (*domain.Batch, error) {
	return r.findOpen(ctx, conn, db.RowLock(conn))
}

func (r *repo) findOpen(ctx context.Context, conn *gorm.DB, lock string) (*domain.Batch, error) {
	var batch domain.Batch
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM batches WHERE status = ? ORDER BY number DESC LIMIT 1`+lock,
		domain.BatchOpen,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := conn.WithContext(ctx).
		Order("number desc").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) NextNumber(ctx context.Context, conn *gorm.DB) (int64, error) {
	var next int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(number), 0) + 1 FROM batches`,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) ApplyClose(ctx context.Context, conn *gorm.DB, batch *domain.Batch, patch domain.ClosePatch) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE batches
		 SET status = ?, payout_order_locked = ?, payout_assignment_mode = ?,
		     commit_hash = ?, secret = ?, secret_revealed = ?,
		     closed_at = ?, cycle_start_date = ?, updated_at = ?
		 WHERE id = ?`,
		domain.BatchClosed,
		true,
		patch.Mode,
		patch.CommitHash,
		patch.Secret,
		patch.SecretRevealed,
		batch.ClosedAt,
		batch.CycleStartDate,
		batch.UpdatedAt,
		batch.ID,
	).Error
}

func (r *repo) UpdateSettings(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE batches SET frequency = ?, duration = ?, amount = ?, updated_at = ? WHERE id = ?`,
		batch.Frequency,
		batch.Duration,
		batch.Amount,
		batch.UpdatedAt,
		batch.ID,
	).Error
}

func (r *repo) MarkRevealed(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE batches SET secret_revealed = ? WHERE id = ?`,
		true,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Batch{}, "id = ?", id).Error
}
