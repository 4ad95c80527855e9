package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type BatchSummary struct {
	Batch
	MemberCount       int `json:"member_count"`
	PendingLeaveCount int `json:"pending_leave_count"`
}

type CloseResult struct {
	ClosedBatchNumber int64 `json:"closed_batch_number"`
	NewBatchNumber    int64 `json:"new_batch_number"`
}

type UpdateSettingsRequest struct {
	BatchID   string
	Frequency Frequency
	Duration  int
	Amount    int64
}

// ScheduleRow is one member's line in the payout schedule read model.
type ScheduleRow struct {
	MemberID         snowflake.ID  `json:"member_id"`
	DisplayName      string        `json:"display_name"`
	PayoutMonthIndex *int          `json:"payout_month_index,omitempty"`
	PayoutRoundIndex *int          `json:"payout_round_index,omitempty"`
	PayoutMonth      *int          `json:"payout_month,omitempty"`
	PayoutLabel      string        `json:"payout_label"`
	PayoutStatus     string        `json:"payout_status,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
}

type Schedule struct {
	PayoutAssignmentMode AssignmentMode `json:"payout_assignment_mode"`
	Members              []ScheduleRow  `json:"members"`
}

// Verification is the fairness-verification payload. ScheduleMapping maps
// payout ordinal to member number; Secret is nil until reveal.
type Verification struct {
	CommitHash      string      `json:"commit_hash"`
	ScheduleMapping map[int]int `json:"schedule_mapping"`
	Revealed        bool        `json:"revealed"`
	Secret          *string     `json:"secret"`
	Instructions    string      `json:"instructions,omitempty"`
}

type Service interface {
	// EnsureInitial creates Batch #1 with defaults when no batch exists.
	EnsureInitial(ctx context.Context) (*Batch, error)
	List(ctx context.Context) ([]BatchSummary, error)
	Get(ctx context.Context, batchID string) (*Batch, error)
	// Open returns the highest-numbered open batch.
	Open(ctx context.Context) (*Batch, error)

	// Close runs the close-and-schedule transition in its own transaction.
	Close(ctx context.Context, batchID string) (*CloseResult, error)
	// CloseInTx runs the same transition inside an existing transaction; used
	// by the join that fills the batch. Idempotent: closing a closed batch is
	// a no-op.
	CloseInTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) error

	// Create inserts the next sequential open batch, inheriting settings from
	// the latest batch. Fails while another batch is open.
	Create(ctx context.Context) (*Batch, error)
	// Delete cascades removal of members, leave requests, one-time codes and
	// payment verifications before deleting the batch itself.
	Delete(ctx context.Context, batchID string) error
	UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*Batch, error)

	MarkPayoutPaid(ctx context.Context, batchID, memberID string) error
	// RevealFairnessSeed exposes the committed secret of a closed randomized
	// batch. It never regenerates the secret.
	RevealFairnessSeed(ctx context.Context, batchID string) error

	Schedule(ctx context.Context, batchID string) (*Schedule, error)
	Verification(ctx context.Context, batchID string) (*Verification, error)
}

var (
	ErrBatchNotFound   = errors.New("batch_not_found")
	ErrBatchNotOpen    = errors.New("batch_not_open")
	ErrBatchNotLocked  = errors.New("batch_not_locked")
	ErrNoOpenBatch     = errors.New("no_open_batch")
	ErrOpenBatchExists = errors.New("open_batch_exists")
	ErrMemberNotFound  = errors.New("member_not_found")
	ErrInvalidID       = errors.New("invalid_batch_id")
	ErrInvalidSettings = errors.New("invalid_settings")
)

// ParseID parses a snowflake batch ID from its string form.
func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
