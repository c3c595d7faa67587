package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/config"
	"github.com/you/accountportal/internal/events"
	httpx "github.com/you/accountportal/internal/http"
	"github.com/you/accountportal/internal/http/handlers"
	"github.com/you/accountportal/internal/http/middleware"
	"github.com/you/accountportal/internal/infrastructure/auth"
	"github.com/you/accountportal/internal/infrastructure/database"
	"github.com/you/accountportal/internal/infrastructure/notifications"
	"github.com/you/accountportal/internal/infrastructure/repositories"
	"github.com/you/accountportal/internal/risk"
	"github.com/you/accountportal/internal/services"
)

// ServiceName labels logs, traces and metrics
const ServiceName = "accountportal"

// attemptTTL bounds how long a crashed attempt can hold the in-flight slot
const attemptTTL = 30 * time.Second

// Container holds all dependencies
type Container struct {
	// Config
	Config *config.Config
	Logger *zap.Logger

	// Infrastructure
	DB          *gorm.DB
	RedisClient *redis.Client
	Casbin      *auth.CasbinService

	// Repositories
	AccountStore domain.AccountStore
	Caches       domain.SessionCacheProvider
	Guard        domain.AttemptGuard

	// Services
	PasswordSvc     domain.PasswordService
	DeviceTokenSvc  domain.DeviceTokenService
	NotificationSvc domain.NotificationService
	RiskEvaluator   domain.RiskEvaluator
	AuditLogger     domain.AuditLogger
	Publisher       domain.EventPublisher
	Navigation      domain.NavigationPolicy
	Portal          *services.Portal

	closers []io.Closer
}

// NewContainer creates and initializes all dependencies
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.Open(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rdb := database.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	return NewContainerWithClients(ctx, cfg, logger, db, rdb.Client)
}

// NewContainerWithClients wires the portal over already opened database and Redis clients.
// The container takes ownership of both, and closes them if wiring fails.
func NewContainerWithClients(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *gorm.DB, rdb *redis.Client) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	container := &Container{Config: cfg, Logger: logger, DB: db, RedisClient: rdb}

	// Initialize infrastructure
	if err := database.AutoMigrate(db); err != nil {
		container.Close()
		return nil, err
	}
	if err := container.pingRedis(ctx); err != nil {
		container.Close()
		return nil, err
	}

	// Initialize repositories
	container.initRepositories()

	// Initialize services
	if err := container.initServices(); err != nil {
		container.Close()
		return nil, err
	}

	return container, nil
}

func (c *Container) pingRedis(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.RedisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", c.Config.RedisAddr, err)
	}
	return nil
}

func (c *Container) initRepositories() {
	c.AccountStore = repositories.NewAccountStore(c.DB)
	c.Caches = repositories.NewSessionCacheProvider(c.RedisClient, c.Config.SessionTTL, c.Logger)
	c.Guard = repositories.NewAttemptGuard(c.RedisClient, attemptTTL, c.Logger)
}

func (c *Container) initServices() error {
	// Initialize basic services
	c.PasswordSvc = auth.NewPasswordService()
	c.DeviceTokenSvc = auth.NewDeviceTokenService(
		c.Config.DeviceSecret,
		c.Config.DeviceIssuer,
		c.Config.DeviceTTL,
	)
	c.NotificationSvc = notifications.NewTwilioService(
		c.Config.TwilioSID,
		c.Config.TwilioToken,
		c.Config.TwilioFrom,
		c.Config.SMSCountryCode,
		c.Logger,
	)

	// Risk: velocity always, the remote scorer when configured
	evaluators := []domain.RiskEvaluator{
		risk.NewVelocityEvaluator(c.RedisClient, risk.VelocityConfig{
			Limit:  c.Config.VelocityLimit,
			Window: c.Config.VelocityWindow,
		}),
	}
	if c.Config.RiskURL != "" {
		evaluators = append(evaluators, risk.NewHTTPEvaluator(c.Config.RiskURL, nil))
	}
	composite := risk.NewComposite(evaluators...)
	c.RiskEvaluator = composite
	c.Logger.Info("risk evaluators configured", zap.Int("count", composite.Len()))

	// Audit and account events
	c.AuditLogger = events.MultiAuditLogger{events.NewZapAuditLogger(c.Logger)}
	if len(c.Config.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(c.Config.KafkaBrokers, c.Config.KafkaTopic)
		c.closers = append(c.closers, publisher)
		c.Publisher = publisher
	} else {
		c.Publisher = events.NopPublisher{}
	}

	// Navigation policy backed by the casbin_rule table
	cas, err := auth.NewCasbinService(c.DB, c.Config.NavigationModel)
	if err != nil {
		return fmt.Errorf("failed to initialize navigation policy: %w", err)
	}
	c.Casbin = cas
	c.Navigation = services.NewNavigationPolicy(cas.E)
	seeded, err := services.SeedDefaults(c.Navigation)
	if err != nil {
		return err
	}
	if seeded {
		c.Logger.Info("navigation: seeded default rules", zap.Int("count", len(services.DefaultNavigationRules())))
	}

	c.Portal = services.NewPortal(services.PortalDeps{
		Store:     c.AccountStore,
		Risk:      c.RiskEvaluator,
		Passwords: c.PasswordSvc,
		Notifier:  c.NotificationSvc,
		Audit:     c.AuditLogger,
		Publisher: c.Publisher,
		Guard:     c.Guard,
		Logger:    c.Logger,
	}, services.PortalConfig{
		RiskTimeout:       c.Config.RiskTimeout,
		RiskThreshold:     c.Config.RiskThreshold,
		ReconcileOnResume: c.Config.ReconcileOnResume,
	})

	return nil
}

// Router builds the HTTP surface over the container's services
func (c *Container) Router() *gin.Engine {
	var admin *middleware.AdminMW
	if c.Config.AdminToken != "" {
		admin = middleware.NewAdminMW(c.Config.AdminToken)
	}

	return httpx.BuildRouter(
		handlers.NewSessionHandlers(c.Config.EventsKeepAlive),
		handlers.NewProfileHandlers(),
		&handlers.NavigationHandlers{Policy: c.Navigation},
		middleware.NewDeviceMW(c.DeviceTokenSvc, c.Config.DeviceCookie, c.Config.DeviceTTL, c.Config.DeviceCookieSecure),
		middleware.NewSessionMW(c.Portal, c.Caches, c.Navigation),
		admin,
		ServiceName,
	)
}

// Close closes all connections
func (c *Container) Close() error {
	var err error
	for _, closer := range c.closers {
		err = multierr.Append(err, closer.Close())
	}

	if c.RedisClient != nil {
		err = multierr.Append(err, c.RedisClient.Close())
	}

	if c.DB != nil {
		sqlDB, dbErr := c.DB.DB()
		if dbErr != nil {
			return multierr.Append(err, dbErr)
		}
		err = multierr.Append(err, sqlDB.Close())
	}

	return err
}
