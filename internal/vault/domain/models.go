package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ScopeKind says what a one-time code authorizes.
type ScopeKind string

const (
	// ScopeLeave authorizes leaving one specific batch.
	ScopeLeave ScopeKind = "leave"
	// ScopeSignup authorizes creating one new profile.
	ScopeSignup ScopeKind = "signup"
)

// Scope binds a code to its authorized action. BatchID is zero for sign-up
// codes.
type Scope struct {
	Kind    ScopeKind
	BatchID snowflake.ID
}

// OneTimeCode is the stored commitment for a single-use authorization code.
// Only the SHA-256 of the normalized plaintext is persisted; the plaintext is
// returned exactly once at issuance and relayed out-of-band.
type OneTimeCode struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Kind      ScopeKind     `gorm:"not null;index" json:"kind"`
	BatchID   *snowflake.ID `gorm:"index" json:"batch_id,omitempty"`
	CodeHash  string        `gorm:"not null;uniqueIndex" json:"-"`
	IssuedBy  snowflake.ID  `gorm:"not null" json:"issued_by"`
	Used      bool          `gorm:"not null;default:false" json:"used"`
	UsedBy    *snowflake.ID `json:"used_by,omitempty"`
	UsedAt    *time.Time    `json:"used_at,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}
