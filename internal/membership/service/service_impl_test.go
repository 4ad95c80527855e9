package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
	batchrepository "github.com/smallbiznis/sousou/internal/batch/repository"
	batchservice "github.com/smallbiznis/sousou/internal/batch/service"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/config"
	"github.com/smallbiznis/sousou/internal/identity"
	"github.com/smallbiznis/sousou/internal/membership/domain"
	membershiprepository "github.com/smallbiznis/sousou/internal/membership/repository"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	profilerepository "github.com/smallbiznis/sousou/internal/profile/repository"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	vaultrepository "github.com/smallbiznis/sousou/internal/vault/repository"
	vaultservice "github.com/smallbiznis/sousou/internal/vault/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	svc      domain.Service
	batchSvc batchdomain.Service
	vaultSvc vaultdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&profiledomain.Profile{},
		&batchdomain.Batch{},
		&domain.Member{},
		&domain.LeaveRequest{},
		&domain.PaymentVerification{},
		&vaultdomain.OneTimeCode{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		DefaultMaxMembers: 50,
		DefaultFrequency:  "monthly",
		DefaultDuration:   12,
		DefaultAmount:     1000,
	}

	memberRepo := membershiprepository.Provide()
	batchRepo := batchrepository.Provide()
	vaultRepo := vaultrepository.Provide()
	profileRepo := profilerepository.Provide()

	vaultSvc := vaultservice.New(vaultservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  vaultRepo,
	})
	batchSvc := batchservice.New(batchservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Cfg:     cfg,
		Repo:    batchRepo,
		Members: memberRepo,
		Codes:   vaultRepo,
	})
	svc := New(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     memberRepo,
		Profiles: profileRepo,
		Batches:  batchRepo,
		BatchSvc: batchSvc,
		Vault:    vaultSvc,
	})

	return &testEnv{db: db, node: node, svc: svc, batchSvc: batchSvc, vaultSvc: vaultSvc}
}

func (e *testEnv) seedBatch(t *testing.T, maxMembers int) *batchdomain.Batch {
	t.Helper()

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	batch := &batchdomain.Batch{
		ID:         e.node.Generate(),
		Number:     1,
		Status:     batchdomain.BatchOpen,
		MaxMembers: maxMembers,
		Frequency:  batchdomain.FrequencyMonthly,
		Duration:   12,
		Amount:     1000,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, e.db.Create(batch).Error)
	return batch
}

func (e *testEnv) seedProfile(t *testing.T, name string) *profiledomain.Profile {
	t.Helper()

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	profile := &profiledomain.Profile{
		ID:         e.node.Generate(),
		AuthUserID: fmt.Sprintf("auth|%s", name),
		Name:       name,
		Email:      fmt.Sprintf("%s@example.com", strings.ToLower(name)),
		Role:       profiledomain.RoleMember,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, e.db.Create(profile).Error)
	return profile
}

func (e *testEnv) verifyPayment(t *testing.T, batchID, userID snowflake.ID) {
	t.Helper()

	now := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.db.Create(&domain.PaymentVerification{
		ID:         e.node.Generate(),
		BatchID:    batchID,
		UserID:     userID,
		Verified:   true,
		VerifiedAt: &now,
	}).Error)
}

func asUser(profile *profiledomain.Profile) context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{Subject: profile.AuthUserID})
}

func TestJoinAssignsDenseNumbers(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)

	for i := 1; i <= 3; i++ {
		profile := env.seedProfile(t, fmt.Sprintf("User%d", i))
		env.verifyPayment(t, batch.ID, profile.ID)

		result, err := env.svc.Join(asUser(profile))
		require.NoError(t, err)
		require.Equal(t, i, result.MemberNumber)
		require.Equal(t, fmt.Sprintf("User%d #%02d", i, i), result.DisplayName)
		require.False(t, result.BatchClosed)
	}
}

func TestJoinRequiresPaymentVerification(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch(t, 20)
	profile := env.seedProfile(t, "Unpaid")

	_, err := env.svc.Join(asUser(profile))
	require.ErrorIs(t, err, domain.ErrPaymentNotVerified)
}

func TestJoinTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	profile := env.seedProfile(t, "Repeat")
	env.verifyPayment(t, batch.ID, profile.ID)

	_, err := env.svc.Join(asUser(profile))
	require.NoError(t, err)

	_, err = env.svc.Join(asUser(profile))
	require.ErrorIs(t, err, domain.ErrAlreadyMember)
}

func TestJoinFillingBatchClosesIt(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 2)

	first := env.seedProfile(t, "First")
	env.verifyPayment(t, batch.ID, first.ID)
	result, err := env.svc.Join(asUser(first))
	require.NoError(t, err)
	require.False(t, result.BatchClosed)

	second := env.seedProfile(t, "Second")
	env.verifyPayment(t, batch.ID, second.ID)
	result, err = env.svc.Join(asUser(second))
	require.NoError(t, err)
	require.True(t, result.BatchClosed)

	var closed batchdomain.Batch
	require.NoError(t, env.db.First(&closed, "id = ?", batch.ID).Error)
	require.Equal(t, batchdomain.BatchClosed, closed.Status)
	require.True(t, closed.PayoutOrderLocked)
	require.Equal(t, batchdomain.ModeRandomized, closed.PayoutAssignmentMode)

	// the successor opened in the same transaction
	var successor batchdomain.Batch
	require.NoError(t, env.db.First(&successor, "number = ?", int64(2)).Error)
	require.Equal(t, batchdomain.BatchOpen, successor.Status)
}

func TestJoinAfterDepartureJudgesCapacityByCount(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 3)

	alice := env.seedProfile(t, "Alice")
	bob := env.seedProfile(t, "Bob")
	for _, p := range []*profiledomain.Profile{alice, bob} {
		env.verifyPayment(t, batch.ID, p.ID)
		_, err := env.svc.Join(asUser(p))
		require.NoError(t, err)
	}

	require.NoError(t, env.svc.RequestLeave(asUser(alice), domain.LeaveRequestInput{
		BatchID: batch.ID.String(),
	}))
	var request domain.LeaveRequest
	require.NoError(t, env.db.First(&request, "batch_id = ? AND user_id = ?", batch.ID, alice.ID).Error)
	require.NoError(t, env.svc.ResolveLeave(context.Background(), domain.ResolveLeaveInput{
		RequestID: request.ID.String(),
		Approve:   true,
	}))

	// numbers are MAX+1 and are not reclaimed, so Carol gets #3 while only
	// two of three seats are filled. That must not close the batch.
	carol := env.seedProfile(t, "Carol")
	env.verifyPayment(t, batch.ID, carol.ID)
	result, err := env.svc.Join(asUser(carol))
	require.NoError(t, err)
	require.Equal(t, 3, result.MemberNumber)
	require.False(t, result.BatchClosed)

	var open batchdomain.Batch
	require.NoError(t, env.db.First(&open, "id = ?", batch.ID).Error)
	require.Equal(t, batchdomain.BatchOpen, open.Status)

	dave := env.seedProfile(t, "Dave")
	env.verifyPayment(t, batch.ID, dave.ID)
	result, err = env.svc.Join(asUser(dave))
	require.NoError(t, err)
	require.Equal(t, 4, result.MemberNumber)
	require.True(t, result.BatchClosed)

	var closed batchdomain.Batch
	require.NoError(t, env.db.First(&closed, "id = ?", batch.ID).Error)
	require.Equal(t, batchdomain.BatchClosed, closed.Status)
}

func TestLeaveViaCodeRemovesMembership(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	admin := env.seedProfile(t, "Admin")
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	issued, err := env.vaultSvc.Issue(context.Background(), vaultdomain.IssueRequest{
		Scope:    vaultdomain.Scope{Kind: vaultdomain.ScopeLeave, BatchID: batch.ID},
		IssuedBy: admin.ID,
	})
	require.NoError(t, err)

	// submitted codes are normalized before hashing
	sloppy := "  " + strings.ToLower(issued.Plaintext) + "  "
	require.NoError(t, env.svc.LeaveViaCode(asUser(member), batch.ID.String(), sloppy))

	var count int64
	require.NoError(t, env.db.Model(&domain.Member{}).Where("batch_id = ?", batch.ID).Count(&count).Error)
	require.Zero(t, count)

	var request domain.LeaveRequest
	require.NoError(t, env.db.First(&request, "batch_id = ? AND user_id = ?", batch.ID, member.ID).Error)
	require.Equal(t, domain.LeaveApproved, request.Status)
	require.Contains(t, request.Reason, "Left via admin code: ")
	require.NotContains(t, request.Reason, issued.Plaintext)
	require.NotNil(t, request.ResolvedAt)
}

func TestLeaveViaWrongCodeKeepsMembership(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	err = env.svc.LeaveViaCode(asUser(member), batch.ID.String(), "SSH-0000-0000-0000-0000")
	require.ErrorIs(t, err, vaultdomain.ErrInvalidOrUsedCode)

	var count int64
	require.NoError(t, env.db.Model(&domain.Member{}).Where("batch_id = ?", batch.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestLeaveCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	admin := env.seedProfile(t, "Admin")

	one := env.seedProfile(t, "One")
	two := env.seedProfile(t, "Two")
	env.verifyPayment(t, batch.ID, one.ID)
	env.verifyPayment(t, batch.ID, two.ID)

	_, err := env.svc.Join(asUser(one))
	require.NoError(t, err)
	_, err = env.svc.Join(asUser(two))
	require.NoError(t, err)

	issued, err := env.vaultSvc.Issue(context.Background(), vaultdomain.IssueRequest{
		Scope:    vaultdomain.Scope{Kind: vaultdomain.ScopeLeave, BatchID: batch.ID},
		IssuedBy: admin.ID,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.LeaveViaCode(asUser(one), batch.ID.String(), issued.Plaintext))

	err = env.svc.LeaveViaCode(asUser(two), batch.ID.String(), issued.Plaintext)
	require.ErrorIs(t, err, vaultdomain.ErrInvalidOrUsedCode)
}

func TestRequestAndResolveLeave(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	err = env.svc.RequestLeave(asUser(member), domain.LeaveRequestInput{
		BatchID: batch.ID.String(),
		Reason:  "moving away",
	})
	require.NoError(t, err)

	// one pending request at a time
	err = env.svc.RequestLeave(asUser(member), domain.LeaveRequestInput{BatchID: batch.ID.String()})
	require.ErrorIs(t, err, domain.ErrLeaveRequestPending)

	var request domain.LeaveRequest
	require.NoError(t, env.db.First(&request, "batch_id = ? AND user_id = ?", batch.ID, member.ID).Error)

	require.NoError(t, env.svc.ResolveLeave(context.Background(), domain.ResolveLeaveInput{
		RequestID: request.ID.String(),
		Approve:   true,
	}))

	var count int64
	require.NoError(t, env.db.Model(&domain.Member{}).Where("batch_id = ?", batch.ID).Count(&count).Error)
	require.Zero(t, count)

	err = env.svc.ResolveLeave(context.Background(), domain.ResolveLeaveInput{
		RequestID: request.ID.String(),
		Approve:   false,
	})
	require.ErrorIs(t, err, domain.ErrLeaveRequestResolved)
}

func TestResolveLeaveDenyKeepsMember(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	require.NoError(t, env.svc.RequestLeave(asUser(member), domain.LeaveRequestInput{
		BatchID: batch.ID.String(),
	}))

	var request domain.LeaveRequest
	require.NoError(t, env.db.First(&request, "batch_id = ? AND user_id = ?", batch.ID, member.ID).Error)

	require.NoError(t, env.svc.ResolveLeave(context.Background(), domain.ResolveLeaveInput{
		RequestID: request.ID.String(),
		Approve:   false,
	}))

	var count int64
	require.NoError(t, env.db.Model(&domain.Member{}).Where("batch_id = ?", batch.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestSetReservationAssignsLowestFreeRound(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)

	one := env.seedProfile(t, "One")
	two := env.seedProfile(t, "Two")
	three := env.seedProfile(t, "Three")
	for _, p := range []*profiledomain.Profile{one, two, three} {
		env.verifyPayment(t, batch.ID, p.ID)
		_, err := env.svc.Join(asUser(p))
		require.NoError(t, err)
	}

	result, err := env.svc.SetReservation(asUser(one), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Month)
	require.Equal(t, 1, result.Round)

	// 20-seat batch spans two rounds, so a second member shares the month
	result, err = env.svc.SetReservation(asUser(two), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   3,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Round)

	_, err = env.svc.SetReservation(asUser(three), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   3,
	})
	require.ErrorIs(t, err, domain.ErrMonthFullyBooked)

	_, err = env.svc.SetReservation(asUser(three), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   13,
	})
	require.ErrorIs(t, err, domain.ErrInvalidMonth)
}

func TestClearReservation(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	_, err = env.svc.SetReservation(asUser(member), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   7,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.ClearReservation(asUser(member), batch.ID.String()))

	var row domain.Member
	require.NoError(t, env.db.First(&row, "batch_id = ? AND user_id = ?", batch.ID, member.ID).Error)
	require.Nil(t, row.RequestedMonthIndex)
	require.Nil(t, row.RequestedRoundIndex)
}

func TestOpenBatchAvailability(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")
	env.verifyPayment(t, batch.ID, member.ID)

	_, err := env.svc.Join(asUser(member))
	require.NoError(t, err)

	_, err = env.svc.SetReservation(asUser(member), domain.ReservationInput{
		BatchID: batch.ID.String(),
		Month:   5,
	})
	require.NoError(t, err)

	availability, err := env.svc.OpenBatchAvailability(asUser(member))
	require.NoError(t, err)
	require.Equal(t, batch.ID.String(), availability.BatchID)
	require.Equal(t, 1, availability.MemberCount)
	require.Equal(t, 2, availability.RoundCount)
	require.Len(t, availability.ByMonth, 12)
	require.Equal(t, 1, availability.ByMonth[5].Taken)
	require.Equal(t, 1, availability.ByMonth[5].Remaining)
	require.Equal(t, 0, availability.ByMonth[6].Taken)
	require.NotNil(t, availability.MyReservation)
	require.Equal(t, 5, availability.MyReservation.Month)
	require.Equal(t, 1, availability.MyReservation.Round)
}

func TestMarkPaymentVerifiedGatesJoin(t *testing.T) {
	env := newTestEnv(t)
	batch := env.seedBatch(t, 20)
	member := env.seedProfile(t, "Member")

	_, err := env.svc.Join(asUser(member))
	require.ErrorIs(t, err, domain.ErrPaymentNotVerified)

	require.NoError(t, env.svc.MarkPaymentVerified(context.Background(), batch.ID.String(), member.ID.String()))

	result, err := env.svc.Join(asUser(member))
	require.NoError(t, err)
	require.Equal(t, 1, result.MemberNumber)
}
