package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/vault/domain"
	"github.com/smallbiznis/sousou/internal/vault/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.OneTimeCode{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db, node
}

var codePattern = regexp.MustCompile(`^(SSH|SSI)(-[0-9A-F]{4}){4}$`)

func TestIssueFormatsCode(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	batchID := node.Generate()

	leave, err := svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID},
		IssuedBy: node.Generate(),
	})
	require.NoError(t, err)
	require.Regexp(t, codePattern, leave.Plaintext)
	require.True(t, strings.HasPrefix(leave.Plaintext, "SSH-"))
	require.NotNil(t, leave.Code.BatchID)
	require.Equal(t, batchID, *leave.Code.BatchID)

	signup, err := svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeSignup},
		IssuedBy: node.Generate(),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signup.Plaintext, "SSI-"))
	require.Nil(t, signup.Code.BatchID)

	// only the hash is stored
	var stored domain.OneTimeCode
	require.NoError(t, db.First(&stored, "id = ?", leave.Code.ID).Error)
	require.Len(t, stored.CodeHash, 64)
	require.NotContains(t, stored.CodeHash, leave.Plaintext)
	require.Equal(t, HashSubmitted(leave.Plaintext), stored.CodeHash)
}

func TestIssueRejectsInvalidScope(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeLeave},
		IssuedBy: node.Generate(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeSignup, BatchID: node.Generate()},
		IssuedBy: node.Generate(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: "other"},
		IssuedBy: node.Generate(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestRedeemOnce(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	batchID := node.Generate()
	scope := domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID}

	issued, err := svc.Issue(ctx, domain.IssueRequest{Scope: scope, IssuedBy: node.Generate()})
	require.NoError(t, err)

	redeemer := node.Generate()
	err = db.Transaction(func(tx *gorm.DB) error {
		code, err := svc.RedeemInTx(ctx, tx, scope, issued.Plaintext, redeemer)
		if err != nil {
			return err
		}
		require.True(t, code.Used)
		require.NotNil(t, code.UsedBy)
		require.Equal(t, redeemer, *code.UsedBy)
		return nil
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RedeemInTx(ctx, tx, scope, issued.Plaintext, node.Generate())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrUsedCode)
}

func TestRedeemNormalizesInput(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	batchID := node.Generate()
	scope := domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID}

	issued, err := svc.Issue(ctx, domain.IssueRequest{Scope: scope, IssuedBy: node.Generate()})
	require.NoError(t, err)

	sloppy := "\t " + strings.ToLower(issued.Plaintext) + " \n"
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RedeemInTx(ctx, tx, scope, sloppy, node.Generate())
		return err
	})
	require.NoError(t, err)
}

func TestRedeemScopeMismatch(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	batchID := node.Generate()

	issued, err := svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID},
		IssuedBy: node.Generate(),
	})
	require.NoError(t, err)

	// a leave code for one batch is worthless for another
	otherScope := domain.Scope{Kind: domain.ScopeLeave, BatchID: node.Generate()}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RedeemInTx(ctx, tx, otherScope, issued.Plaintext, node.Generate())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrUsedCode)

	// and it never redeems as a sign-up code
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RedeemInTx(ctx, tx, domain.Scope{Kind: domain.ScopeSignup}, issued.Plaintext, node.Generate())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrUsedCode)
}

func TestRedeemEmptyCode(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	scope := domain.Scope{Kind: domain.ScopeLeave, BatchID: node.Generate()}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RedeemInTx(ctx, tx, scope, "   ", node.Generate())
		return err
	})
	require.ErrorIs(t, err, domain.ErrEmptyCode)
}

func TestListByScope(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	batchID := node.Generate()

	for i := 0; i < 3; i++ {
		_, err := svc.Issue(ctx, domain.IssueRequest{
			Scope:    domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID},
			IssuedBy: node.Generate(),
		})
		require.NoError(t, err)
	}
	_, err := svc.Issue(ctx, domain.IssueRequest{
		Scope:    domain.Scope{Kind: domain.ScopeSignup},
		IssuedBy: node.Generate(),
	})
	require.NoError(t, err)

	leaves, err := svc.List(ctx, domain.Scope{Kind: domain.ScopeLeave, BatchID: batchID})
	require.NoError(t, err)
	require.Len(t, leaves, 3)

	signups, err := svc.List(ctx, domain.Scope{Kind: domain.ScopeSignup})
	require.NoError(t, err)
	require.Len(t, signups, 1)
}
