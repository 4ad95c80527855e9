package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/sousou/internal/batch/domain"
	batchrepository "github.com/smallbiznis/sousou/internal/batch/repository"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/config"
	"github.com/smallbiznis/sousou/internal/fairness"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	membershiprepository "github.com/smallbiznis/sousou/internal/membership/repository"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	vaultrepository "github.com/smallbiznis/sousou/internal/vault/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&profiledomain.Profile{},
		&domain.Batch{},
		&membershipdomain.Member{},
		&membershipdomain.LeaveRequest{},
		&membershipdomain.PaymentVerification{},
		&vaultdomain.OneTimeCode{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		Cfg: config.Config{
			DefaultMaxMembers: 50,
			DefaultFrequency:  "monthly",
			DefaultDuration:   12,
			DefaultAmount:     1000,
		},
		Repo:    batchrepository.Provide(),
		Members: membershiprepository.Provide(),
		Codes:   vaultrepository.Provide(),
	})
	return svc.(*Service), node
}

func seedBatch(t *testing.T, db *gorm.DB, node *snowflake.Node, number int64, maxMembers int) *domain.Batch {
	t.Helper()

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		ID:         node.Generate(),
		Number:     number,
		Status:     domain.BatchOpen,
		MaxMembers: maxMembers,
		Frequency:  domain.FrequencyMonthly,
		Duration:   12,
		Amount:     1000,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, db.Create(batch).Error)
	return batch
}

func seedMember(t *testing.T, db *gorm.DB, node *snowflake.Node, batchID snowflake.ID, number int) *membershipdomain.Member {
	t.Helper()

	member := &membershipdomain.Member{
		ID:           node.Generate(),
		BatchID:      batchID,
		UserID:       node.Generate(),
		MemberNumber: number,
		DisplayName:  fmt.Sprintf("Member #%02d", number),
		Open:         true,
		JoinedAt:     time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(member).Error)
	return member
}

func TestCloseRandomized(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	for i := 1; i <= 13; i++ {
		seedMember(t, db, node, batch.ID, i)
	}

	result, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)
	require.Equal(t, int64(1), result.ClosedBatchNumber)
	require.Equal(t, int64(2), result.NewBatchNumber)

	var closed domain.Batch
	require.NoError(t, db.First(&closed, "id = ?", batch.ID).Error)
	require.Equal(t, domain.BatchClosed, closed.Status)
	require.True(t, closed.PayoutOrderLocked)
	require.Equal(t, domain.ModeRandomized, closed.PayoutAssignmentMode)
	require.Len(t, closed.Secret, 64)
	require.Len(t, closed.CommitHash, 64)
	require.False(t, closed.SecretRevealed)
	require.NotNil(t, closed.ClosedAt)

	sum := sha256.Sum256([]byte(closed.Secret))
	require.Equal(t, hex.EncodeToString(sum[:]), closed.CommitHash)

	var members []membershipdomain.Member
	require.NoError(t, db.Where("batch_id = ?", batch.ID).Order("member_number asc").Find(&members).Error)
	require.Len(t, members, 13)

	perm := fairness.Permutation(closed.Secret, 13)
	seen := make(map[int]bool)
	for i, m := range members {
		require.False(t, m.Open)
		require.NotNil(t, m.PayoutMonth)
		require.Equal(t, perm[i], *m.PayoutMonth)
		require.False(t, seen[*m.PayoutMonth])
		seen[*m.PayoutMonth] = true
		require.GreaterOrEqual(t, *m.PayoutMonth, 1)
		require.LessOrEqual(t, *m.PayoutMonth, 13)
		require.NotNil(t, m.PayoutStatus)
		require.Equal(t, membershipdomain.PayoutPending, *m.PayoutStatus)
	}

	var successor domain.Batch
	require.NoError(t, db.First(&successor, "number = ?", int64(2)).Error)
	require.Equal(t, domain.BatchOpen, successor.Status)
	require.Equal(t, 20, successor.MaxMembers)
	require.Equal(t, domain.FrequencyMonthly, successor.Frequency)
}

func TestCloseManualReservationsKept(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	members := make(map[int]*membershipdomain.Member, 13)
	for i := 1; i <= 13; i++ {
		members[i] = seedMember(t, db, node, batch.ID, i)
	}

	// member 5 reserved March round 1 while the batch was open
	month, round := 3, 1
	require.NoError(t, db.Model(members[5]).Updates(map[string]any{
		"requested_month_index": month,
		"requested_round_index": round,
	}).Error)

	_, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	var closed domain.Batch
	require.NoError(t, db.First(&closed, "id = ?", batch.ID).Error)
	require.Equal(t, domain.ModeManual, closed.PayoutAssignmentMode)
	require.True(t, closed.PayoutOrderLocked)
	require.Empty(t, closed.CommitHash)

	expected := map[int][2]int{
		1:  {1, 1},
		2:  {1, 2},
		3:  {2, 1},
		4:  {2, 2},
		5:  {3, 1},
		6:  {3, 2},
		7:  {4, 1},
		8:  {4, 2},
		9:  {5, 1},
		10: {5, 2},
		11: {6, 1},
		12: {6, 2},
		13: {7, 1},
	}
	var rows []membershipdomain.Member
	require.NoError(t, db.Where("batch_id = ?", batch.ID).Find(&rows).Error)
	require.Len(t, rows, 13)
	for _, m := range rows {
		want := expected[m.MemberNumber]
		require.NotNil(t, m.PayoutMonthIndex, "member %d", m.MemberNumber)
		require.NotNil(t, m.PayoutRoundIndex, "member %d", m.MemberNumber)
		require.Equal(t, want[0], *m.PayoutMonthIndex, "member %d month", m.MemberNumber)
		require.Equal(t, want[1], *m.PayoutRoundIndex, "member %d round", m.MemberNumber)
	}
}

func TestCloseManualStaleReservationDropped(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	for i := 1; i <= 3; i++ {
		seedMember(t, db, node, batch.ID, i)
	}

	// round 2 does not exist for a 3-member group; the reservation is stale
	require.NoError(t, db.Model(&membershipdomain.Member{}).
		Where("batch_id = ? AND member_number = ?", batch.ID, 2).
		Updates(map[string]any{"requested_month_index": 5, "requested_round_index": 2}).Error)

	_, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	var rows []membershipdomain.Member
	require.NoError(t, db.Where("batch_id = ?", batch.ID).Order("member_number asc").Find(&rows).Error)
	for _, m := range rows {
		require.NotNil(t, m.PayoutMonthIndex)
		require.Equal(t, 1, *m.PayoutRoundIndex)
	}
	// everyone fell back to fill order
	require.Equal(t, 1, *rows[0].PayoutMonthIndex)
	require.Equal(t, 2, *rows[1].PayoutMonthIndex)
	require.Equal(t, 3, *rows[2].PayoutMonthIndex)
}

func TestCloseEmptyBatch(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)

	result, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)
	require.Equal(t, int64(2), result.NewBatchNumber)

	var closed domain.Batch
	require.NoError(t, db.First(&closed, "id = ?", batch.ID).Error)
	require.Equal(t, domain.BatchClosed, closed.Status)
	require.Equal(t, domain.ModeUnset, closed.PayoutAssignmentMode)
	require.Empty(t, closed.CommitHash)

	var count int64
	require.NoError(t, db.Model(&domain.Batch{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestCloseIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	seedMember(t, db, node, batch.ID, 1)

	_, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	// a second explicit close is a conflict
	_, err = svc.Close(ctx, batch.ID.String())
	require.ErrorIs(t, err, domain.ErrBatchNotOpen)

	// but the in-transaction variant is a no-op, not an error
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.CloseInTx(ctx, tx, batch.ID)
	}))

	var count int64
	require.NoError(t, db.Model(&domain.Batch{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestCreateConflictsWithOpenBatch(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)

	_, err := svc.Create(ctx)
	require.ErrorIs(t, err, domain.ErrOpenBatchExists)

	_, err = svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	// closing already created the successor; delete it to free the slot
	var successor domain.Batch
	require.NoError(t, db.First(&successor, "number = ?", int64(2)).Error)
	require.NoError(t, svc.Delete(ctx, successor.ID.String()))

	created, err := svc.Create(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), created.Number)
	require.Equal(t, domain.BatchOpen, created.Status)
	require.Equal(t, 20, created.MaxMembers)
}

func TestRevealAndVerification(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	for i := 1; i <= 5; i++ {
		seedMember(t, db, node, batch.ID, i)
	}

	require.ErrorIs(t, svc.RevealFairnessSeed(ctx, batch.ID.String()), domain.ErrBatchNotLocked)

	_, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	before, err := svc.Verification(ctx, batch.ID.String())
	require.NoError(t, err)
	require.False(t, before.Revealed)
	require.Nil(t, before.Secret)
	require.Len(t, before.CommitHash, 64)
	require.Len(t, before.ScheduleMapping, 5)

	require.NoError(t, svc.RevealFairnessSeed(ctx, batch.ID.String()))

	after, err := svc.Verification(ctx, batch.ID.String())
	require.NoError(t, err)
	require.True(t, after.Revealed)
	require.NotNil(t, after.Secret)
	require.Equal(t, before.CommitHash, after.CommitHash)
	require.NotEmpty(t, after.Instructions)

	// reveal never regenerates the committed values
	sum := sha256.Sum256([]byte(*after.Secret))
	require.Equal(t, after.CommitHash, hex.EncodeToString(sum[:]))

	// mapping stays byte-stable across reveal
	require.Equal(t, before.ScheduleMapping, after.ScheduleMapping)
}

func TestMarkPayoutPaid(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	member := seedMember(t, db, node, batch.ID, 1)
	other := seedBatch(t, db, node, 2, 20)

	err := svc.MarkPayoutPaid(ctx, other.ID.String(), member.ID.String())
	require.ErrorIs(t, err, domain.ErrMemberNotFound)

	require.NoError(t, svc.MarkPayoutPaid(ctx, batch.ID.String(), member.ID.String()))

	var reloaded membershipdomain.Member
	require.NoError(t, db.First(&reloaded, "id = ?", member.ID).Error)
	require.NotNil(t, reloaded.PayoutStatus)
	require.Equal(t, membershipdomain.PayoutPaid, *reloaded.PayoutStatus)
	require.NotNil(t, reloaded.PaidAt)
}

func TestUpdateSettings(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)

	_, err := svc.UpdateSettings(ctx, domain.UpdateSettingsRequest{
		BatchID:   batch.ID.String(),
		Frequency: "daily",
		Duration:  12,
		Amount:    1000,
	})
	require.ErrorIs(t, err, domain.ErrInvalidSettings)

	updated, err := svc.UpdateSettings(ctx, domain.UpdateSettingsRequest{
		BatchID:   batch.ID.String(),
		Frequency: domain.FrequencyWeekly,
		Duration:  6,
		Amount:    2500,
	})
	require.NoError(t, err)
	require.Equal(t, domain.FrequencyWeekly, updated.Frequency)
	require.Equal(t, 6, updated.Duration)
	require.Equal(t, int64(2500), updated.Amount)

	_, err = svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	_, err = svc.UpdateSettings(ctx, domain.UpdateSettingsRequest{
		BatchID:   batch.ID.String(),
		Frequency: domain.FrequencyMonthly,
		Duration:  12,
		Amount:    1000,
	})
	require.ErrorIs(t, err, domain.ErrBatchNotOpen)
}

func TestScheduleLabels(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()

	batch := seedBatch(t, db, node, 1, 20)
	for i := 1; i <= 13; i++ {
		seedMember(t, db, node, batch.ID, i)
	}
	require.NoError(t, db.Model(&membershipdomain.Member{}).
		Where("batch_id = ? AND member_number = ?", batch.ID, 5).
		Updates(map[string]any{"requested_month_index": 3, "requested_round_index": 1}).Error)

	_, err := svc.Close(ctx, batch.ID.String())
	require.NoError(t, err)

	schedule, err := svc.Schedule(ctx, batch.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.ModeManual, schedule.PayoutAssignmentMode)
	require.Len(t, schedule.Members, 13)

	// rows come back in slot order and carry round suffixes because the
	// group spans two rounds
	require.Equal(t, "Jan - Round 1", schedule.Members[0].PayoutLabel)
	require.Equal(t, "Jan - Round 2", schedule.Members[1].PayoutLabel)
	require.Equal(t, "Mar - Round 1", schedule.Members[4].PayoutLabel)
	for i := 1; i < len(schedule.Members); i++ {
		prev, cur := schedule.Members[i-1], schedule.Members[i]
		if *prev.PayoutMonthIndex == *cur.PayoutMonthIndex {
			require.Less(t, *prev.PayoutRoundIndex, *cur.PayoutRoundIndex)
		} else {
			require.Less(t, *prev.PayoutMonthIndex, *cur.PayoutMonthIndex)
		}
	}
}

func TestEnsureInitial(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	first, err := svc.EnsureInitial(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Number)
	require.Equal(t, 50, first.MaxMembers)
	require.Equal(t, domain.FrequencyMonthly, first.Frequency)

	again, err := svc.EnsureInitial(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
}
