package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type MemberPatch struct {
	PayoutMonthIndex *int
	PayoutRoundIndex *int
	PayoutMonth      *int
	PayoutStatus     PayoutStatus
}

type Repository interface {
	InsertMember(ctx context.Context, db *gorm.DB, member *Member) error
	FindMember(ctx context.Context, db *gorm.DB, batchID, userID snowflake.ID) (*Member, error)
	FindMemberByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	ListMembers(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Member, error)
	CountMembers(ctx context.Context, db *gorm.DB, batchID snowflake.ID) (int, error)
	// NextMemberNumber computes MAX(member_number)+1 for the batch. Callers
	// must hold the batch row lock in the same transaction.
	NextMemberNumber(ctx context.Context, db *gorm.DB, batchID snowflake.ID) (int, error)
	HasOpenMembership(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)
	ListMembershipsByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Member, error)
	UpdateReservation(ctx context.Context, db *gorm.DB, memberID snowflake.ID, month, round *int) error
	// ApplyPayout writes a member's final payout assignment.
	ApplyPayout(ctx context.Context, db *gorm.DB, memberID snowflake.ID, patch MemberPatch) error
	// CloseMemberships flips Open to false for every member of the batch.
	CloseMemberships(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error
	MarkPaid(ctx context.Context, db *gorm.DB, memberID snowflake.ID, paidAt time.Time) error
	DeleteMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) error
	DeleteMembersByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error
	DeleteMembersByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error

	InsertLeaveRequest(ctx context.Context, db *gorm.DB, request *LeaveRequest) error
	FindLeaveRequestByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LeaveRequest, error)
	FindPendingLeaveRequest(ctx context.Context, db *gorm.DB, batchID, userID snowflake.ID) (*LeaveRequest, error)
	ListLeaveRequests(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]LeaveRequest, error)
	ResolveLeaveRequest(ctx context.Context, db *gorm.DB, id snowflake.ID, status LeaveStatus, resolvedAt time.Time) error
	DeleteLeaveRequestsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error
	DeleteLeaveRequestsByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error

	PaymentVerified(ctx context.Context, db *gorm.DB, batchID, userID snowflake.ID) (bool, error)
	UpsertPaymentVerification(ctx context.Context, db *gorm.DB, verification *PaymentVerification) error
	DeletePaymentVerificationsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) error
	DeletePaymentVerificationsByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
}
