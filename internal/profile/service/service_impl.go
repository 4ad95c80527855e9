package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/identity"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	"github.com/smallbiznis/sousou/internal/profile/domain"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Members membershipdomain.Repository
	Vault   vaultdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	members membershipdomain.Repository
	vault   vaultdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("profile.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		members: p.Members,
		vault:   p.Vault,
	}
}

func (s *Service) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.Profile, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, identity.ErrUnauthenticated
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	if strings.TrimSpace(req.InviteCode) == "" {
		return nil, domain.ErrInviteRequired
	}

	var profile *domain.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByAuthUserID(ctx, tx, id.Subject)
		if err != nil {
			return err
		}
		if existing != nil {
			profile = existing
			return nil
		}

		created := &domain.Profile{
			ID:         s.genID.Generate(),
			AuthUserID: id.Subject,
			Name:       name,
			Email:      email,
			Role:       domain.RoleMember,
			CreatedAt:  s.clock.Now(),
			UpdatedAt:  s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, created); err != nil {
			return err
		}

		// the invite code is consumed in the same transaction; an invalid
		// code rolls back the profile insert
		_, err = s.vault.RedeemInTx(ctx, tx, vaultdomain.Scope{Kind: vaultdomain.ScopeSignup}, req.InviteCode, created.ID)
		if err != nil {
			return err
		}

		profile = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("profile signed up", zap.String("profile_id", profile.ID.String()))
	return profile, nil
}

func (s *Service) Me(ctx context.Context) (*domain.Profile, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, identity.ErrUnauthenticated
	}
	profile, err := s.repo.FindByAuthUserID(ctx, s.db, id.Subject)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) UpdateMe(ctx context.Context, req domain.UpdateProfileRequest) (*domain.Profile, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, identity.ErrUnauthenticated
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	var updated *domain.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.repo.FindByAuthUserID(ctx, tx, id.Subject)
		if err != nil {
			return err
		}
		if profile == nil {
			return domain.ErrNotFound
		}

		profile.Name = name
		profile.Phone = strings.TrimSpace(req.Phone)
		profile.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, profile); err != nil {
			return err
		}
		updated = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) AdminContacts(ctx context.Context) ([]domain.AdminContact, error) {
	admins, err := s.repo.ListByRole(ctx, s.db, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.AdminContact, 0, len(admins))
	for _, admin := range admins {
		contacts = append(contacts, domain.AdminContact{
			Name:  admin.Name,
			Email: admin.Email,
			Phone: admin.Phone,
		})
	}
	return contacts, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Profile, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) UpdateRole(ctx context.Context, req domain.UpdateRoleRequest) (*domain.Profile, error) {
	if !req.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	id, err := domain.ParseID(req.ProfileID)
	if err != nil {
		return nil, err
	}

	var updated *domain.Profile
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if profile == nil {
			return domain.ErrNotFound
		}

		profile.Role = req.Role
		profile.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, profile); err != nil {
			return err
		}
		updated = profile
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("role updated",
		zap.String("profile_id", updated.ID.String()),
		zap.String("role", string(updated.Role)),
	)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, profileID string) error {
	id, err := domain.ParseID(profileID)
	if err != nil {
		return err
	}

	caller, ok := identity.FromContext(ctx)
	if !ok {
		return identity.ErrUnauthenticated
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if profile == nil {
			return domain.ErrNotFound
		}
		if profile.AuthUserID == caller.Subject {
			return domain.ErrSelfDeletion
		}

		if err := s.members.DeleteMembersByUser(ctx, tx, id); err != nil {
			return err
		}
		if err := s.members.DeleteLeaveRequestsByUser(ctx, tx, id); err != nil {
			return err
		}
		if err := s.members.DeletePaymentVerificationsByUser(ctx, tx, id); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}

		s.log.Info("profile deleted", zap.String("profile_id", id.String()))
		return nil
	})
}
