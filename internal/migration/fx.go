package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sousou/internal/audit/domain"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/internal/config"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	"github.com/smallbiznis/sousou/internal/seed"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, node *snowflake.Node, cfg config.Config, batchSvc batchdomain.Service) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite is for local runs; the gorm models carry enough schema
			err := conn.AutoMigrate(
				&profiledomain.Profile{},
				&batchdomain.Batch{},
				&membershipdomain.Member{},
				&membershipdomain.LeaveRequest{},
				&membershipdomain.PaymentVerification{},
				&vaultdomain.OneTimeCode{},
				&auditdomain.AuditLog{},
			)
			if err != nil {
				return err
			}
		}
		if err := seed.Ensure(conn, node, cfg); err != nil {
			return err
		}
		_, err := batchSvc.EnsureInitial(context.Background())
		return err
	}),
)
