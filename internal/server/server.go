package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/sousou/internal/audit"
	auditdomain "github.com/smallbiznis/sousou/internal/audit/domain"
	"github.com/smallbiznis/sousou/internal/batch"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/internal/config"
	"github.com/smallbiznis/sousou/internal/membership"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	obslogger "github.com/smallbiznis/sousou/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sousou/internal/observability/metrics"
	obstracing "github.com/smallbiznis/sousou/internal/observability/tracing"
	"github.com/smallbiznis/sousou/internal/profile"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	"github.com/smallbiznis/sousou/internal/vault"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	batch.Module,
	membership.Module,
	profile.Module,
	vault.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(log, metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	auditSvc      auditdomain.Service
	batchSvc      batchdomain.Service
	membershipSvc membershipdomain.Service
	profileSvc    profiledomain.Service
	vaultSvc      vaultdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	AuditSvc      auditdomain.Service
	BatchSvc      batchdomain.Service
	MembershipSvc membershipdomain.Service
	ProfileSvc    profiledomain.Service
	VaultSvc      vaultdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		auditSvc:      p.AuditSvc,
		batchSvc:      p.BatchSvc,
		membershipSvc: p.MembershipSvc,
		profileSvc:    p.ProfileSvc,
		vaultSvc:      p.VaultSvc,
	}

	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(IdentityMiddleware())

	v1.POST("/signup", s.SignUp)

	authed := v1.Group("")
	authed.Use(s.AuthRequired())

	authed.GET("/me", s.Me)
	authed.PATCH("/me", s.UpdateMe)
	authed.GET("/admins", s.AdminContacts)

	authed.GET("/batches", s.ListBatches)
	authed.GET("/batches/open", s.OpenBatch)
	authed.GET("/batches/open/availability", s.OpenBatchAvailability)
	authed.POST("/batches/open/join", s.JoinOpenBatch)
	authed.GET("/batches/:batch_id", s.GetBatch)
	authed.GET("/batches/:batch_id/schedule", s.BatchSchedule)
	authed.GET("/batches/:batch_id/verification", s.BatchVerification)

	authed.POST("/batches/:batch_id/leave-requests", s.RequestLeave)
	authed.POST("/batches/:batch_id/leave", s.LeaveViaCode)
	authed.PUT("/batches/:batch_id/reservation", s.SetReservation)
	authed.DELETE("/batches/:batch_id/reservation", s.ClearReservation)

	managers := authed.Group("")
	managers.Use(s.RequireBatchManager())
	managers.POST("/batches", s.CreateBatch)
	managers.DELETE("/batches/:batch_id", s.DeleteBatch)

	admins := authed.Group("")
	admins.Use(s.RequireAdmin())
	admins.POST("/batches/:batch_id/close", s.CloseBatch)
	admins.POST("/batches/:batch_id/reveal", s.RevealFairnessSeed)
	admins.PATCH("/batches/:batch_id/settings", s.UpdateBatchSettings)
	admins.POST("/batches/:batch_id/members/:member_id/paid", s.MarkPayoutPaid)
	admins.GET("/batches/:batch_id/leave-requests", s.ListLeaveRequests)
	admins.POST("/leave-requests/:request_id/resolve", s.ResolveLeave)
	admins.POST("/batches/:batch_id/payments/:profile_id/verify", s.MarkPaymentVerified)
	admins.POST("/codes", s.IssueCode)
	admins.GET("/codes", s.ListCodes)
	admins.GET("/users", s.ListProfiles)
	admins.PATCH("/users/:profile_id/role", s.UpdateRole)
	admins.DELETE("/users/:profile_id", s.DeleteProfile)
	admins.GET("/audit-logs", s.ListAuditLogs)
}
