package service

import (
	"context"
	"sort"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/config"
	"github.com/smallbiznis/sousou/internal/fairness"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	"github.com/smallbiznis/sousou/internal/observability/metrics"
	"github.com/smallbiznis/sousou/internal/payout"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

const verificationInstructions = "Seed the PRNG (sfc32 seeded via cyrb128) with this secret string, " +
	"generate the sequence [1..N], and shuffle via Fisher-Yates traversing backwards. " +
	"The result matches the schedule mapping."

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Members membershipdomain.Repository
	Codes   vaultdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	repo    domain.Repository
	members membershipdomain.Repository
	codes   vaultdomain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("batch.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		members: p.Members,
		codes:   p.Codes,
		metrics: p.Metrics,
	}
}

func (s *Service) EnsureInitial(ctx context.Context) (*domain.Batch, error) {
	var created *domain.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches, err := s.repo.List(ctx, tx)
		if err != nil {
			return err
		}
		if len(batches) > 0 {
			created = &batches[len(batches)-1]
			return nil
		}

		batch := s.newBatch(1, nil)
		if err := s.repo.Insert(ctx, tx, &batch); err != nil {
			return err
		}
		created = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) List(ctx context.Context) ([]domain.BatchSummary, error) {
	batches, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.BatchSummary, 0, len(batches))
	for _, b := range batches {
		count, err := s.members.CountMembers(ctx, s.db, b.ID)
		if err != nil {
			return nil, err
		}
		requests, err := s.members.ListLeaveRequests(ctx, s.db, b.ID)
		if err != nil {
			return nil, err
		}
		pending := 0
		for _, r := range requests {
			if r.Status == membershipdomain.LeavePending {
				pending++
			}
		}
		summaries = append(summaries, domain.BatchSummary{
			Batch:             b,
			MemberCount:       count,
			PendingLeaveCount: pending,
		})
	}
	return summaries, nil
}

func (s *Service) Get(ctx context.Context, batchID string) (*domain.Batch, error) {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Service) Open(ctx context.Context) (*domain.Batch, error) {
	batch, err := s.repo.FindOpen(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrNoOpenBatch
	}
	return batch, nil
}

func (s *Service) Close(ctx context.Context, batchID string) (*domain.CloseResult, error) {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return nil, err
	}

	var result domain.CloseResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if batch.Status != domain.BatchOpen {
			return domain.ErrBatchNotOpen
		}
		result.ClosedBatchNumber = batch.Number
		result.NewBatchNumber = batch.Number + 1
		return s.closeLocked(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) CloseInTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) error {
	batch, err := s.repo.FindByIDForUpdate(ctx, tx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return domain.ErrBatchNotFound
	}
	// idempotent guard against retried or duplicated close calls
	if batch.Status != domain.BatchOpen {
		return nil
	}
	return s.closeLocked(ctx, tx, batch)
}

// closeLocked runs the close-and-schedule transition. The caller holds the
// batch row lock and has verified status == open. The full assignment is
// computed in memory, then applied together with the batch patch and the
// successor insert as one write-set.
func (s *Service) closeLocked(ctx context.Context, tx *gorm.DB, batch *domain.Batch) error {
	now := s.clock.Now()
	batch.ClosedAt = &now
	batch.CycleStartDate = &now
	batch.UpdatedAt = now

	members, err := s.members.ListMembers(ctx, tx, batch.ID)
	if err != nil {
		return err
	}

	patch := domain.ClosePatch{Mode: domain.ModeUnset}
	if len(members) > 0 {
		hasReservation := false
		for i := range members {
			if members[i].RequestedMonthIndex != nil {
				hasReservation = true
				break
			}
		}

		if hasReservation {
			patch.Mode = domain.ModeManual
			if err := s.applyManualSchedule(ctx, tx, members); err != nil {
				return err
			}
		} else {
			patch.Mode = domain.ModeRandomized
			commitment, err := fairness.NewCommitment()
			if err != nil {
				return err
			}
			patch.CommitHash = commitment.CommitHash
			patch.Secret = commitment.Secret
			patch.SecretRevealed = false
			if err := s.applyRandomizedSchedule(ctx, tx, members, commitment.Secret); err != nil {
				return err
			}
		}

		if err := s.members.CloseMemberships(ctx, tx, batch.ID); err != nil {
			return err
		}
	}

	if err := s.repo.ApplyClose(ctx, tx, batch, patch); err != nil {
		return err
	}

	if _, err := s.createSuccessor(ctx, tx, batch); err != nil {
		return err
	}

	s.metrics.RecordClose(string(patch.Mode))
	s.log.Info("batch closed",
		zap.Int64("number", batch.Number),
		zap.String("mode", string(patch.Mode)),
		zap.Int("members", len(members)),
	)
	return nil
}

func (s *Service) applyManualSchedule(ctx context.Context, tx *gorm.DB, members []membershipdomain.Member) error {
	input := make([]payout.Member, 0, len(members))
	byNumber := make(map[int]snowflake.ID, len(members))
	for i := range members {
		m := members[i]
		byNumber[m.MemberNumber] = m.ID
		pm := payout.Member{MemberNumber: m.MemberNumber}
		if m.RequestedMonthIndex != nil && m.RequestedRoundIndex != nil {
			pm.Requested = &payout.Slot{Month: *m.RequestedMonthIndex, Round: *m.RequestedRoundIndex}
		}
		input = append(input, pm)
	}

	for _, a := range payout.BuildManual(input) {
		month := a.Slot.Month
		round := a.Slot.Round
		err := s.members.ApplyPayout(ctx, tx, byNumber[a.MemberNumber], membershipdomain.MemberPatch{
			PayoutMonthIndex: &month,
			PayoutRoundIndex: &round,
			PayoutStatus:     membershipdomain.PayoutPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyRandomizedSchedule(ctx context.Context, tx *gorm.DB, members []membershipdomain.Member, secret string) error {
	// the permutation is applied over members in ascending member-number
	// order; this ordering is part of the public verification contract
	ordered := make([]membershipdomain.Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].MemberNumber < ordered[j].MemberNumber
	})

	perm := fairness.Permutation(secret, len(ordered))
	for i := range ordered {
		month := perm[i]
		err := s.members.ApplyPayout(ctx, tx, ordered[i].ID, membershipdomain.MemberPatch{
			PayoutMonth:  &month,
			PayoutStatus: membershipdomain.PayoutPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createSuccessor(ctx context.Context, tx *gorm.DB, previous *domain.Batch) (*domain.Batch, error) {
	number, err := s.repo.NextNumber(ctx, tx)
	if err != nil {
		return nil, err
	}
	batch := s.newBatch(number, previous)
	if err := s.repo.Insert(ctx, tx, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Service) newBatch(number int64, previous *domain.Batch) domain.Batch {
	now := s.clock.Now()
	batch := domain.Batch{
		ID:         s.genID.Generate(),
		Number:     number,
		Status:     domain.BatchOpen,
		MaxMembers: s.cfg.DefaultMaxMembers,
		Frequency:  domain.Frequency(s.cfg.DefaultFrequency),
		Duration:   s.cfg.DefaultDuration,
		Amount:     s.cfg.DefaultAmount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if previous != nil {
		batch.MaxMembers = previous.MaxMembers
		batch.Frequency = previous.Frequency
		batch.Duration = previous.Duration
		batch.Amount = previous.Amount
	}
	return batch
}

func (s *Service) Create(ctx context.Context) (*domain.Batch, error) {
	var created *domain.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.repo.FindOpenForUpdate(ctx, tx)
		if err != nil {
			return err
		}
		if open != nil {
			return domain.ErrOpenBatchExists
		}

		number, err := s.repo.NextNumber(ctx, tx)
		if err != nil {
			return err
		}

		batches, err := s.repo.List(ctx, tx)
		if err != nil {
			return err
		}
		var latest *domain.Batch
		if len(batches) > 0 {
			latest = &batches[0]
		}

		batch := s.newBatch(number, latest)
		if err := s.repo.Insert(ctx, tx, &batch); err != nil {
			return err
		}
		created = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("batch created", zap.Int64("number", created.Number))
	return created, nil
}

func (s *Service) Delete(ctx context.Context, batchID string) error {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}

		if err := s.members.DeleteMembersByBatch(ctx, tx, id); err != nil {
			return err
		}
		if err := s.members.DeleteLeaveRequestsByBatch(ctx, tx, id); err != nil {
			return err
		}
		if err := s.members.DeletePaymentVerificationsByBatch(ctx, tx, id); err != nil {
			return err
		}
		if err := s.codes.DeleteByBatch(ctx, tx, id); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}

		s.log.Info("batch deleted", zap.Int64("number", batch.Number))
		return nil
	})
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.UpdateSettingsRequest) (*domain.Batch, error) {
	id, err := domain.ParseID(req.BatchID)
	if err != nil {
		return nil, err
	}
	if req.Frequency != domain.FrequencyWeekly && req.Frequency != domain.FrequencyMonthly {
		return nil, domain.ErrInvalidSettings
	}
	if req.Duration <= 0 || req.Amount <= 0 {
		return nil, domain.ErrInvalidSettings
	}

	var updated *domain.Batch
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if batch.Status != domain.BatchOpen {
			return domain.ErrBatchNotOpen
		}

		batch.Frequency = req.Frequency
		batch.Duration = req.Duration
		batch.Amount = req.Amount
		batch.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateSettings(ctx, tx, batch); err != nil {
			return err
		}
		updated = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) MarkPayoutPaid(ctx context.Context, batchID, memberID string) error {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return err
	}
	mid, err := snowflake.ParseString(memberID)
	if err != nil || mid == 0 {
		return domain.ErrMemberNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.members.FindMemberByID(ctx, tx, mid)
		if err != nil {
			return err
		}
		if member == nil || member.BatchID != id {
			return domain.ErrMemberNotFound
		}
		return s.members.MarkPaid(ctx, tx, mid, s.clock.Now())
	})
}

func (s *Service) RevealFairnessSeed(ctx context.Context, batchID string) error {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if !batch.PayoutOrderLocked {
			return domain.ErrBatchNotLocked
		}
		return s.repo.MarkRevealed(ctx, tx, id)
	})
}

func (s *Service) Schedule(ctx context.Context, batchID string) (*domain.Schedule, error) {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}

	members, err := s.members.ListMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.PayoutMonthIndex != nil && b.PayoutMonthIndex != nil {
			if *a.PayoutMonthIndex != *b.PayoutMonthIndex {
				return *a.PayoutMonthIndex < *b.PayoutMonthIndex
			}
			return derefOrZero(a.PayoutRoundIndex) < derefOrZero(b.PayoutRoundIndex)
		}
		if a.PayoutMonth != nil && b.PayoutMonth != nil {
			return *a.PayoutMonth < *b.PayoutMonth
		}
		return a.MemberNumber < b.MemberNumber
	})

	rounds := payout.RoundCount(len(members))
	rows := make([]domain.ScheduleRow, 0, len(members))
	for i := range members {
		m := members[i]
		row := domain.ScheduleRow{
			MemberID:         m.ID,
			DisplayName:      m.DisplayName,
			PayoutMonthIndex: m.PayoutMonthIndex,
			PayoutRoundIndex: m.PayoutRoundIndex,
			PayoutMonth:      m.PayoutMonth,
			PayoutLabel:      payoutLabel(m, rounds),
			PaidAt:           m.PaidAt,
		}
		if m.PayoutStatus != nil {
			row.PayoutStatus = string(*m.PayoutStatus)
		}
		rows = append(rows, row)
	}

	return &domain.Schedule{
		PayoutAssignmentMode: batch.PayoutAssignmentMode,
		Members:              rows,
	}, nil
}

func (s *Service) Verification(ctx context.Context, batchID string) (*domain.Verification, error) {
	id, err := domain.ParseID(batchID)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	if !batch.PayoutOrderLocked {
		return nil, domain.ErrBatchNotLocked
	}

	members, err := s.members.ListMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	mapping := make(map[int]int, len(members))
	for i := range members {
		if members[i].PayoutMonth != nil {
			mapping[*members[i].PayoutMonth] = members[i].MemberNumber
		}
	}

	verification := &domain.Verification{
		CommitHash:      batch.CommitHash,
		ScheduleMapping: mapping,
		Revealed:        batch.SecretRevealed,
	}
	if batch.SecretRevealed {
		secret := batch.Secret
		verification.Secret = &secret
		verification.Instructions = verificationInstructions
	}
	return verification, nil
}

func payoutLabel(m membershipdomain.Member, rounds int) string {
	if m.PayoutMonthIndex != nil {
		name := monthNames[*m.PayoutMonthIndex-1]
		if m.PayoutRoundIndex != nil && rounds > 1 {
			return name + " - Round " + strconv.Itoa(*m.PayoutRoundIndex)
		}
		return name
	}
	if m.PayoutMonth != nil {
		if *m.PayoutMonth <= 12 {
			return monthNames[*m.PayoutMonth-1]
		}
		return "Period " + strconv.Itoa(*m.PayoutMonth)
	}
	return "-"
}

func derefOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
