package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	leaveCodePrefix  = "SSH"
	signupCodePrefix = "SSI"
	codeRandomBytes  = 8
	codeGroupSize    = 4
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("vault.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (*domain.IssuedCode, error) {
	if err := validateScope(req.Scope); err != nil {
		return nil, err
	}

	plain, err := generateCode(req.Scope.Kind)
	if err != nil {
		return nil, err
	}

	code := domain.OneTimeCode{
		ID:        s.genID.Generate(),
		Kind:      req.Scope.Kind,
		CodeHash:  hashCode(plain),
		IssuedBy:  req.IssuedBy,
		Used:      false,
		CreatedAt: s.clock.Now(),
	}
	if req.Scope.Kind == domain.ScopeLeave {
		batchID := req.Scope.BatchID
		code.BatchID = &batchID
	}

	if err := s.repo.Insert(ctx, s.db, &code); err != nil {
		return nil, err
	}

	s.log.Info("one-time code issued",
		zap.String("kind", string(req.Scope.Kind)),
		zap.String("code_id", code.ID.String()),
	)

	return &domain.IssuedCode{Plaintext: plain, Code: code}, nil
}

func (s *Service) List(ctx context.Context, scope domain.Scope) ([]domain.OneTimeCode, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	return s.repo.ListByScope(ctx, s.db, scope)
}

func (s *Service) RedeemInTx(ctx context.Context, tx *gorm.DB, scope domain.Scope, submittedCode string, redeemer snowflake.ID) (*domain.OneTimeCode, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	normalized := normalizeCode(submittedCode)
	if normalized == "" {
		return nil, domain.ErrEmptyCode
	}

	code, err := s.repo.FindUnusedByHash(ctx, tx, scope, hashCode(normalized))
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, domain.ErrInvalidOrUsedCode
	}

	usedAt := s.clock.Now()
	won, err := s.repo.MarkUsed(ctx, tx, code.ID, redeemer, usedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// a concurrent redemption got there first
		return nil, domain.ErrInvalidOrUsedCode
	}

	code.Used = true
	code.UsedBy = &redeemer
	code.UsedAt = &usedAt
	return code, nil
}

func validateScope(scope domain.Scope) error {
	switch scope.Kind {
	case domain.ScopeLeave:
		if scope.BatchID == 0 {
			return domain.ErrInvalidScope
		}
	case domain.ScopeSignup:
		if scope.BatchID != 0 {
			return domain.ErrInvalidScope
		}
	default:
		return domain.ErrInvalidScope
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func hashCode(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// generateCode builds a formatted code like SSH-A7F2-B9C4-E1D8-3F06.
func generateCode(kind domain.ScopeKind) (string, error) {
	buf := make([]byte, codeRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hexPart := strings.ToUpper(hex.EncodeToString(buf))

	prefix := leaveCodePrefix
	if kind == domain.ScopeSignup {
		prefix = signupCodePrefix
	}

	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < len(hexPart); i += codeGroupSize {
		b.WriteByte('-')
		b.WriteString(hexPart[i : i+codeGroupSize])
	}
	return b.String(), nil
}

// HashSubmitted exposes the normalization + hash used at redemption, for
// callers that only need to compare.
func HashSubmitted(code string) string {
	return hashCode(normalizeCode(code))
}
