package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/config"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	vaultservice "github.com/smallbiznis/sousou/internal/vault/service"
	"gorm.io/gorm"
)

// Ensure seeds what a fresh deployment needs besides Batch #1 (the batch
// service creates that one): when configured, one redeemable sign-up code so
// the first account can be created.
func Ensure(db *gorm.DB, node *snowflake.Node, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ensureBootstrapCode(ctx, tx, node, cfg)
	})
}

func ensureBootstrapCode(ctx context.Context, tx *gorm.DB, node *snowflake.Node, cfg config.Config) error {
	plain := strings.TrimSpace(cfg.BootstrapInviteCode)
	if plain == "" {
		return nil
	}

	hash := vaultservice.HashSubmitted(plain)
	var count int64
	err := tx.WithContext(ctx).Model(&vaultdomain.OneTimeCode{}).
		Where("code_hash = ?", hash).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return tx.WithContext(ctx).Create(&vaultdomain.OneTimeCode{
		ID:        node.Generate(),
		Kind:      vaultdomain.ScopeSignup,
		CodeHash:  hash,
		IssuedBy:  0,
		Used:      false,
		CreatedAt: time.Now().UTC(),
	}).Error
}
