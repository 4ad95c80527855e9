package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

// Member is one profile's seat in a batch. The member number is dense (1..N)
// and immutable; final payout fields are written exactly once at batch close.
// Manual mode fills (PayoutMonthIndex, PayoutRoundIndex); randomized mode
// fills PayoutMonth, an ordinal that is deliberately not capped at 12.
type Member struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	BatchID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_batch_user" json:"batch_id"`
	UserID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_batch_user" json:"user_id"`
	MemberNumber int          `gorm:"not null" json:"member_number"`
	DisplayName  string       `gorm:"not null" json:"display_name"`

	// Open mirrors the owning batch's status so the one-open-batch-per-member
	// rule can be a partial unique index instead of a scan. Flipped to false
	// inside the close transaction.
	Open bool `gorm:"not null;default:true" json:"-"`

	RequestedMonthIndex *int `json:"requested_month_index,omitempty"`
	RequestedRoundIndex *int `json:"requested_round_index,omitempty"`

	PayoutMonthIndex *int          `json:"payout_month_index,omitempty"`
	PayoutRoundIndex *int          `json:"payout_round_index,omitempty"`
	PayoutMonth      *int          `json:"payout_month,omitempty"`
	PayoutStatus     *PayoutStatus `json:"payout_status,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`

	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveDenied   LeaveStatus = "denied"
)

// LeaveRequest tracks one member's request to exit an open batch, resolved by
// an admin or settled immediately through a leave code.
type LeaveRequest struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	BatchID     snowflake.ID `gorm:"not null;index" json:"batch_id"`
	UserID      snowflake.ID `gorm:"not null;index" json:"user_id"`
	Status      LeaveStatus  `gorm:"not null" json:"status"`
	Reason      string       `json:"reason,omitempty"`
	RequestedAt time.Time    `gorm:"not null" json:"requested_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// PaymentVerification is the externally-owned boolean this service consumes
// at join time. Only the outcome is stored; the bookkeeping lives elsewhere.
type PaymentVerification struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BatchID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_payment_batch_user" json:"batch_id"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:ux_payment_batch_user" json:"user_id"`
	Verified   bool         `gorm:"not null;default:false" json:"verified"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty"`
}
