package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type BatchStatus string

const (
	BatchOpen   BatchStatus = "open"
	BatchClosed BatchStatus = "closed"
)

type AssignmentMode string

const (
	// ModeUnset means the batch has not been scheduled yet.
	ModeUnset AssignmentMode = ""
	// ModeManual is chosen at close when at least one member reserved a month.
	ModeManual AssignmentMode = "manual_selection"
	// ModeRandomized is chosen when no reservations exist; the order comes
	// from the commit-reveal shuffle.
	ModeRandomized AssignmentMode = "randomized"
)

type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Batch is one cohort sharing a payout cycle. Number is strictly increasing
// and immutable; status only ever transitions from open to closed, after
// which the payout order and the fairness fields are locked for good.
type Batch struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	Number int64        `gorm:"not null;uniqueIndex" json:"number"`
	Status BatchStatus  `gorm:"not null;index" json:"status"`

	MaxMembers int       `gorm:"not null" json:"max_members"`
	Frequency  Frequency `gorm:"not null" json:"frequency"`
	Duration   int       `gorm:"not null" json:"duration"`
	Amount     int64     `gorm:"not null" json:"amount"`

	PayoutAssignmentMode AssignmentMode `json:"payout_assignment_mode,omitempty"`
	PayoutOrderLocked    bool           `gorm:"not null;default:false" json:"payout_order_locked"`

	// Commit-reveal fields, written at close for randomized batches. The
	// stored values are byte-stable; reveal only flips SecretRevealed.
	CommitHash     string `json:"commit_hash,omitempty"`
	Secret         string `json:"-"`
	SecretRevealed bool   `gorm:"not null;default:false" json:"secret_revealed"`

	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CycleStartDate *time.Time `json:"cycle_start_date,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}
