package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/identity"
	"github.com/smallbiznis/sousou/internal/membership/domain"
	"github.com/smallbiznis/sousou/internal/observability/metrics"
	"github.com/smallbiznis/sousou/internal/payout"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Profiles profiledomain.Repository
	Batches  batchdomain.Repository
	BatchSvc batchdomain.Service
	Vault    vaultdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	profiles profiledomain.Repository
	batches  batchdomain.Repository
	batchSvc batchdomain.Service
	vault    vaultdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("membership.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		profiles: p.Profiles,
		batches:  p.Batches,
		batchSvc: p.BatchSvc,
		vault:    p.Vault,
		metrics:  p.Metrics,
	}
}

func (s *Service) caller(ctx context.Context, conn *gorm.DB) (*profiledomain.Profile, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, identity.ErrUnauthenticated
	}
	profile, err := s.profiles.FindByAuthUserID(ctx, conn, id.Subject)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, profiledomain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) Join(ctx context.Context) (*domain.JoinResult, error) {
	var result domain.JoinResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caller, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		batch, err := s.batches.FindOpenForUpdate(ctx, tx)
		if err != nil {
			return err
		}
		if batch == nil {
			return batchdomain.ErrNoOpenBatch
		}

		existing, err := s.repo.FindMember(ctx, tx, batch.ID, caller.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyMember
		}

		open, err := s.repo.HasOpenMembership(ctx, tx, caller.ID)
		if err != nil {
			return err
		}
		if open {
			return domain.ErrAlreadyInOpenBatch
		}

		verified, err := s.repo.PaymentVerified(ctx, tx, batch.ID, caller.ID)
		if err != nil {
			return err
		}
		if !verified {
			return domain.ErrPaymentNotVerified
		}

		number, err := s.repo.NextMemberNumber(ctx, tx, batch.ID)
		if err != nil {
			return err
		}

		member := domain.Member{
			ID:           s.genID.Generate(),
			BatchID:      batch.ID,
			UserID:       caller.ID,
			MemberNumber: number,
			DisplayName:  fmt.Sprintf("%s #%02d", caller.Name, number),
			Open:         true,
			JoinedAt:     s.clock.Now(),
		}
		if err := s.repo.InsertMember(ctx, tx, &member); err != nil {
			return err
		}

		result.MemberNumber = member.MemberNumber
		result.DisplayName = member.DisplayName

		// filling the last seat closes the batch in the same transaction.
		// Member numbers are MAX+1 and survive departures, so capacity is
		// judged on the live count, not the number just handed out.
		count, err := s.repo.CountMembers(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if count >= batch.MaxMembers {
			if err := s.batchSvc.CloseInTx(ctx, tx, batch.ID); err != nil {
				return err
			}
			result.BatchClosed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordJoin()
	s.log.Info("member joined",
		zap.Int("member_number", result.MemberNumber),
		zap.Bool("batch_closed", result.BatchClosed),
	)
	return &result, nil
}

func (s *Service) RequestLeave(ctx context.Context, input domain.LeaveRequestInput) error {
	batchID, err := batchdomain.ParseID(input.BatchID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caller, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		batch, err := s.batches.FindByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return batchdomain.ErrBatchNotFound
		}
		if batch.Status != batchdomain.BatchOpen {
			return batchdomain.ErrBatchNotOpen
		}

		member, err := s.repo.FindMember(ctx, tx, batchID, caller.ID)
		if err != nil {
			return err
		}
		if member == nil {
			return domain.ErrNotAMember
		}

		pending, err := s.repo.FindPendingLeaveRequest(ctx, tx, batchID, caller.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return domain.ErrLeaveRequestPending
		}

		return s.repo.InsertLeaveRequest(ctx, tx, &domain.LeaveRequest{
			ID:          s.genID.Generate(),
			BatchID:     batchID,
			UserID:      caller.ID,
			Status:      domain.LeavePending,
			Reason:      strings.TrimSpace(input.Reason),
			RequestedAt: s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}

	s.metrics.RecordLeaveRequest()
	return nil
}

func (s *Service) ResolveLeave(ctx context.Context, input domain.ResolveLeaveInput) error {
	requestID, err := snowflake.ParseString(input.RequestID)
	if err != nil || requestID == 0 {
		return domain.ErrLeaveRequestNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := s.repo.FindLeaveRequestByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return domain.ErrLeaveRequestNotFound
		}
		if request.Status != domain.LeavePending {
			return domain.ErrLeaveRequestResolved
		}

		status := domain.LeaveDenied
		if input.Approve {
			status = domain.LeaveApproved
		}
		if err := s.repo.ResolveLeaveRequest(ctx, tx, requestID, status, s.clock.Now()); err != nil {
			return err
		}
		if !input.Approve {
			return nil
		}

		// approval removes the membership; other member numbers keep their
		// values, gaps are fine until close
		member, err := s.repo.FindMember(ctx, tx, request.BatchID, request.UserID)
		if err != nil {
			return err
		}
		if member == nil {
			return nil
		}
		return s.repo.DeleteMember(ctx, tx, member.ID)
	})
}

func (s *Service) LeaveViaCode(ctx context.Context, batchID, submittedCode string) error {
	id, err := batchdomain.ParseID(batchID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caller, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		batch, err := s.batches.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return batchdomain.ErrBatchNotFound
		}
		if batch.Status != batchdomain.BatchOpen {
			return batchdomain.ErrBatchNotOpen
		}

		member, err := s.repo.FindMember(ctx, tx, id, caller.ID)
		if err != nil {
			return err
		}
		if member == nil {
			return domain.ErrNotAMember
		}

		code, err := s.vault.RedeemInTx(ctx, tx, vaultdomain.Scope{Kind: vaultdomain.ScopeLeave, BatchID: id}, submittedCode, caller.ID)
		if err != nil {
			s.metrics.RecordRedemption(string(vaultdomain.ScopeLeave), false)
			return err
		}

		if err := s.repo.DeleteMember(ctx, tx, member.ID); err != nil {
			return err
		}

		now := s.clock.Now()
		fragment := strings.ToUpper(strings.TrimSpace(submittedCode))
		if len(fragment) > 8 {
			fragment = fragment[:8]
		}
		err = s.repo.InsertLeaveRequest(ctx, tx, &domain.LeaveRequest{
			ID:          s.genID.Generate(),
			BatchID:     id,
			UserID:      caller.ID,
			Status:      domain.LeaveApproved,
			Reason:      fmt.Sprintf("Left via admin code: %s...", fragment),
			RequestedAt: now,
			ResolvedAt:  &now,
		})
		if err != nil {
			return err
		}

		s.metrics.RecordRedemption(string(code.Kind), true)
		return nil
	})
}

func (s *Service) ListLeaveRequests(ctx context.Context, batchID string) ([]domain.LeaveRequestView, error) {
	id, err := batchdomain.ParseID(batchID)
	if err != nil {
		return nil, err
	}

	requests, err := s.repo.ListLeaveRequests(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	views := make([]domain.LeaveRequestView, 0, len(requests))
	for _, request := range requests {
		view := domain.LeaveRequestView{LeaveRequest: request}
		profile, err := s.profiles.FindByID(ctx, s.db, request.UserID)
		if err != nil {
			return nil, err
		}
		if profile != nil {
			view.UserName = profile.Name
			view.UserEmail = profile.Email
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) SetReservation(ctx context.Context, input domain.ReservationInput) (*domain.ReservationResult, error) {
	if input.Month < 1 || input.Month > 12 {
		return nil, domain.ErrInvalidMonth
	}
	id, err := batchdomain.ParseID(input.BatchID)
	if err != nil {
		return nil, err
	}

	var result domain.ReservationResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caller, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		batch, err := s.batches.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return batchdomain.ErrBatchNotFound
		}
		if batch.Status != batchdomain.BatchOpen {
			return batchdomain.ErrBatchNotOpen
		}

		member, err := s.repo.FindMember(ctx, tx, id, caller.ID)
		if err != nil {
			return err
		}
		if member == nil {
			return domain.ErrNotAMember
		}

		members, err := s.repo.ListMembers(ctx, tx, id)
		if err != nil {
			return err
		}

		rounds := payout.RoundCount(batch.MaxMembers)
		taken := make([]int, 0, rounds)
		for i := range members {
			m := members[i]
			if m.ID == member.ID {
				continue
			}
			if m.RequestedMonthIndex != nil && *m.RequestedMonthIndex == input.Month && m.RequestedRoundIndex != nil {
				taken = append(taken, *m.RequestedRoundIndex)
			}
		}

		round, ok := payout.LowestFreeRound(taken, rounds)
		if !ok {
			return domain.ErrMonthFullyBooked
		}

		if err := s.repo.UpdateReservation(ctx, tx, member.ID, &input.Month, &round); err != nil {
			return err
		}
		result = domain.ReservationResult{Month: input.Month, Round: round}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReservation()
	return &result, nil
}

func (s *Service) ClearReservation(ctx context.Context, batchID string) error {
	id, err := batchdomain.ParseID(batchID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caller, err := s.caller(ctx, tx)
		if err != nil {
			return err
		}

		batch, err := s.batches.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return batchdomain.ErrBatchNotFound
		}
		if batch.Status != batchdomain.BatchOpen {
			return batchdomain.ErrBatchNotOpen
		}

		member, err := s.repo.FindMember(ctx, tx, id, caller.ID)
		if err != nil {
			return err
		}
		if member == nil {
			return domain.ErrNotAMember
		}
		return s.repo.UpdateReservation(ctx, tx, member.ID, nil, nil)
	})
}

func (s *Service) OpenBatchAvailability(ctx context.Context) (*domain.Availability, error) {
	batch, err := s.batches.FindOpen(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, batchdomain.ErrNoOpenBatch
	}

	members, err := s.repo.ListMembers(ctx, s.db, batch.ID)
	if err != nil {
		return nil, err
	}

	rounds := payout.RoundCount(batch.MaxMembers)
	byMonth := make(map[int]domain.MonthAvailability, 12)
	for month := 1; month <= 12; month++ {
		byMonth[month] = domain.MonthAvailability{Total: rounds, Remaining: rounds}
	}
	for i := range members {
		m := members[i]
		if m.RequestedMonthIndex == nil {
			continue
		}
		entry := byMonth[*m.RequestedMonthIndex]
		entry.Taken++
		entry.Remaining = entry.Total - entry.Taken
		byMonth[*m.RequestedMonthIndex] = entry
	}

	availability := &domain.Availability{
		BatchID:     batch.ID.String(),
		MemberCount: len(members),
		RoundCount:  rounds,
		ByMonth:     byMonth,
	}

	if id, ok := identity.FromContext(ctx); ok {
		profile, err := s.profiles.FindByAuthUserID(ctx, s.db, id.Subject)
		if err != nil {
			return nil, err
		}
		if profile != nil {
			for i := range members {
				m := members[i]
				if m.UserID == profile.ID && m.RequestedMonthIndex != nil && m.RequestedRoundIndex != nil {
					availability.MyReservation = &domain.ReservationResult{
						Month: *m.RequestedMonthIndex,
						Round: *m.RequestedRoundIndex,
					}
					break
				}
			}
		}
	}
	return availability, nil
}

func (s *Service) MarkPaymentVerified(ctx context.Context, batchID, profileID string) error {
	id, err := batchdomain.ParseID(batchID)
	if err != nil {
		return err
	}
	userID, err := profiledomain.ParseID(profileID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.profiles.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if profile == nil {
			return profiledomain.ErrNotFound
		}

		now := s.clock.Now()
		return s.repo.UpsertPaymentVerification(ctx, tx, &domain.PaymentVerification{
			ID:         s.genID.Generate(),
			BatchID:    id,
			UserID:     userID,
			Verified:   true,
			VerifiedAt: &now,
		})
	})
}
