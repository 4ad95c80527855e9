package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/membership/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertMember(ctx context.Context, conn *gorm.DB, member *domain.Member) error {
	return conn.WithContext(ctx).Create(member).Error
}

func (r *repo) FindMember(ctx context.Context, conn *gorm.DB, batchID, userID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := conn.WithContext(ctx).
		First(&member, "batch_id = ? AND user_id = ?", batchID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repo) FindMemberByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := conn.WithContext(ctx).First(&member, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repo) ListMembers(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) ([]domain.Member, error) {
	var members []domain.Member
	err := conn.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("member_number asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) CountMembers(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) (int, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.Member{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repo) NextMemberNumber(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) (int, error) {
	var next int
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(member_number), 0) + 1 FROM members WHERE batch_id = ?`,
		batchID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) HasOpenMembership(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.Member{}).
		Where("user_id = ? AND open = ?", userID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListMembershipsByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) ([]domain.Member, error) {
	var members []domain.Member
	err := conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("joined_at desc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) UpdateReservation(ctx context.Context, conn *gorm.DB, memberID snowflake.ID, month, round *int) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE members SET requested_month_index = ?, requested_round_index = ? WHERE id = ?`,
		month, round, memberID,
	).Error
}

func (r *repo) ApplyPayout(ctx context.Context, conn *gorm.DB, memberID snowflake.ID, patch domain.MemberPatch) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE members
		 SET payout_month_index = ?, payout_round_index = ?, payout_month = ?, payout_status = ?
		 WHERE id = ?`,
		patch.PayoutMonthIndex,
		patch.PayoutRoundIndex,
		patch.PayoutMonth,
		patch.PayoutStatus,
		memberID,
	).Error
}

func (r *repo) CloseMemberships(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE members SET open = ? WHERE batch_id = ?`,
		false, batchID,
	).Error
}

func (r *repo) MarkPaid(ctx context.Context, conn *gorm.DB, memberID snowflake.ID, paidAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE members SET payout_status = ?, paid_at = ? WHERE id = ?`,
		domain.PayoutPaid, paidAt, memberID,
	).Error
}

func (r *repo) DeleteMember(ctx context.Context, conn *gorm.DB, memberID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Member{}, "id = ?", memberID).Error
}

func (r *repo) DeleteMembersByBatch(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Member{}, "batch_id = ?", batchID).Error
}

func (r *repo) DeleteMembersByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Member{}, "user_id = ?", userID).Error
}

func (r *repo) InsertLeaveRequest(ctx context.Context, conn *gorm.DB, request *domain.LeaveRequest) error {
	return conn.WithContext(ctx).Create(request).Error
}

func (r *repo) FindLeaveRequestByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.LeaveRequest, error) {
	var request domain.LeaveRequest
	err := conn.WithContext(ctx).First(&request, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repo) FindPendingLeaveRequest(ctx context.Context, conn *gorm.DB, batchID, userID snowflake.ID) (*domain.LeaveRequest, error) {
	var request domain.LeaveRequest
	err := conn.WithContext(ctx).
		First(&request, "batch_id = ? AND user_id = ? AND status = ?", batchID, userID, domain.LeavePending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repo) ListLeaveRequests(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) ([]domain.LeaveRequest, error) {
	var requests []domain.LeaveRequest
	err := conn.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("requested_at desc").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repo) ResolveLeaveRequest(ctx context.Context, conn *gorm.DB, id snowflake.ID, status domain.LeaveStatus, resolvedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE leave_requests SET status = ?, resolved_at = ? WHERE id = ?`,
		status, resolvedAt, id,
	).Error
}

func (r *repo) DeleteLeaveRequestsByBatch(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.LeaveRequest{}, "batch_id = ?", batchID).Error
}

func (r *repo) DeleteLeaveRequestsByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.LeaveRequest{}, "user_id = ?", userID).Error
}

func (r *repo) PaymentVerified(ctx context.Context, conn *gorm.DB, batchID, userID snowflake.ID) (bool, error) {
	var verification domain.PaymentVerification
	err := conn.WithContext(ctx).
		First(&verification, "batch_id = ? AND user_id = ?", batchID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return verification.Verified, nil
}

func (r *repo) UpsertPaymentVerification(ctx context.Context, conn *gorm.DB, verification *domain.PaymentVerification) error {
	existing := domain.PaymentVerification{}
	err := conn.WithContext(ctx).
		First(&existing, "batch_id = ? AND user_id = ?", verification.BatchID, verification.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conn.WithContext(ctx).Create(verification).Error
	}
	if err != nil {
		return err
	}
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_verifications SET verified = ?, verified_at = ? WHERE id = ?`,
		verification.Verified, verification.VerifiedAt, existing.ID,
	).Error
}

func (r *repo) DeletePaymentVerificationsByBatch(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.PaymentVerification{}, "batch_id = ?", batchID).Error
}

func (r *repo) DeletePaymentVerificationsByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.PaymentVerification{}, "user_id = ?", userID).Error
}
