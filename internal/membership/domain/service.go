package domain

import (
	"context"
	"errors"
)

type JoinResult struct {
	MemberNumber int    `json:"member_number"`
	DisplayName  string `json:"display_name"`
	// BatchClosed is true when this join filled the batch and the
	// close-and-schedule transition ran in the same call.
	BatchClosed bool `json:"batch_closed"`
}

type LeaveRequestInput struct {
	BatchID string
	Reason  string
}

type ResolveLeaveInput struct {
	RequestID string
	Approve   bool
}

type ReservationInput struct {
	BatchID string
	Month   int
}

type ReservationResult struct {
	Month int `json:"month"`
	Round int `json:"round"`
}

// MonthAvailability is the reservation picture for one calendar month.
type MonthAvailability struct {
	Total     int `json:"total"`
	Taken     int `json:"taken"`
	Remaining int `json:"remaining"`
}

type Availability struct {
	BatchID       string                    `json:"batch_id"`
	MemberCount   int                       `json:"member_count"`
	RoundCount    int                       `json:"round_count"`
	ByMonth       map[int]MonthAvailability `json:"by_month"`
	MyReservation *ReservationResult        `json:"my_reservation,omitempty"`
}

type LeaveRequestView struct {
	LeaveRequest
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

type Service interface {
	// Join adds the caller to the currently open batch. When the join brings
	// the batch to capacity the close-and-schedule transition runs inside the
	// same transaction.
	Join(ctx context.Context) (*JoinResult, error)

	RequestLeave(ctx context.Context, input LeaveRequestInput) error
	ResolveLeave(ctx context.Context, input ResolveLeaveInput) error
	// LeaveViaCode redeems a leave code and removes the caller's membership
	// atomically, recording an approved leave request for audit.
	LeaveViaCode(ctx context.Context, batchID, submittedCode string) error
	ListLeaveRequests(ctx context.Context, batchID string) ([]LeaveRequestView, error)

	SetReservation(ctx context.Context, input ReservationInput) (*ReservationResult, error)
	ClearReservation(ctx context.Context, batchID string) error
	OpenBatchAvailability(ctx context.Context) (*Availability, error)

	// MarkPaymentVerified records the boolean outcome of the external payment
	// verification for (user, batch).
	MarkPaymentVerified(ctx context.Context, batchID, profileID string) error
}

var (
	ErrAlreadyMember        = errors.New("already_member")
	ErrAlreadyInOpenBatch   = errors.New("already_in_open_batch")
	ErrPaymentNotVerified   = errors.New("payment_not_verified")
	ErrNotAMember           = errors.New("not_a_member")
	ErrLeaveRequestPending  = errors.New("leave_request_pending")
	ErrLeaveRequestResolved = errors.New("leave_request_resolved")
	ErrLeaveRequestNotFound = errors.New("leave_request_not_found")
	ErrInvalidMonth         = errors.New("invalid_month")
	ErrMonthFullyBooked     = errors.New("month_fully_booked")
)
