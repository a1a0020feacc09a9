package di

import (
	"context"
	"fmt"

	"campusconnect/backend/messaging/api"
	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/realtime"
	"campusconnect/backend/messaging/repository"
	"campusconnect/backend/messaging/service"
	"campusconnect/backend/messaging/view"
	"campusconnect/backend/messaging/webhook"
	"campusconnect/backend/messaging/ws"
	"campusconnect/backend/pkg/cache"
	"campusconnect/backend/pkg/config"
	"campusconnect/backend/pkg/health"
	"campusconnect/backend/pkg/jwt"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/middleware"
	"campusconnect/backend/pkg/resilience"
	sharedredis "campusconnect/backend/shared/redis"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logger.Logger

	JWTService *jwt.Service

	MessageRepository repository.MessageRepository
	ProfileRepository repository.ProfileRepository
	ProfileCache      *cache.Cache[models.Profile]

	ProfileService      *service.ProfileService
	MessageService      *service.MessageService
	ConversationService *service.ConversationService

	Broker         realtime.Broker
	RedisClient    *redis.Client
	Breaker        *resilience.CircuitBreaker
	RateLimiter    *middleware.RateLimiter
	Hub            *ws.Hub
	Health         *health.Checker
	API            *api.Handler
	WebhookHandler *webhook.IdentityHandler
}

// New wires every component from cfg. The database must already be open.
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
	}

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	c.MessageRepository = repository.NewGormMessageRepository(db)
	c.ProfileRepository = repository.NewGormProfileRepository(db)

	if cfg.Cache.Enabled {
		c.ProfileCache = cache.New[models.Profile](cache.Options{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.PurgeWindow,
			MaxItems:        cfg.Cache.MaxSize,
		})
	}

	broker, err := c.newBroker()
	if err != nil {
		return nil, err
	}
	c.Broker = broker

	c.Breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("live-delivery"), log)

	c.ProfileService = service.NewProfileService(c.ProfileRepository, c.ProfileCache)
	c.MessageService = service.NewMessageService(c.MessageRepository, c.Broker, c.Breaker, service.MessageServiceConfig{
		MaxLength:         cfg.Messaging.MaxMessageLength,
		AllowSelfMessages: cfg.Messaging.AllowSelfMessages,
	}, log)
	c.ConversationService = service.NewConversationService(c.MessageRepository, c.ProfileService, cfg.Messaging.PreviewLength, log)

	limiterOptions := middleware.DefaultRateLimiterOptions()
	limiterOptions.Limit = rate.Limit(cfg.Security.RateLimit)
	limiterOptions.Burst = cfg.Security.RateLimitBurst
	c.RateLimiter = middleware.NewRateLimiter(log, limiterOptions)

	viewOptions := view.DefaultOptions()
	viewOptions.ReconnectAttempts = cfg.Realtime.ReconnectAttempts
	viewOptions.ReconnectBackoff = cfg.Realtime.ReconnectBackoff
	c.Hub = ws.NewHub(c.ConversationService, c.MessageService, c.Broker, c.RateLimiter, log, ws.HubOptions{
		View:           viewOptions,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	})

	c.API = api.NewHandler(c.ConversationService, c.MessageService)

	c.WebhookHandler, err = webhook.NewIdentityHandler(cfg.Webhook.IdentitySecret, c.ProfileService, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity webhook handler: %w", err)
	}

	c.Health = health.NewChecker(log, cfg.Observability.HealthCheckPeriod)
	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	c.Health.RegisterBrokerCheck("broker", c.Broker.Ping)
	c.Health.RegisterGaugeCheck("websocket", "active connections", c.Hub.ActiveConnections)

	return c, nil
}

func (c *Container) newBroker() (realtime.Broker, error) {
	switch c.Config.Realtime.Broker {
	case config.BrokerRedis:
		client, err := sharedredis.NewClient(c.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		c.RedisClient = client
		c.Logger.Info("Using redis live delivery", "addr", client.Options().Addr)
		return realtime.NewRedisBroker(client, c.Config.Realtime.SubscriberBuffer, c.Logger), nil

	case config.BrokerMemory, "":
		c.Logger.Info("Using in-process live delivery")
		return realtime.NewLocalBroker(c.Config.Realtime.SubscriberBuffer), nil

	default:
		return nil, fmt.Errorf("unknown realtime broker %q", c.Config.Realtime.Broker)
	}
}

// Close releases background resources. The database is closed by the caller.
func (c *Container) Close() {
	c.Health.Stop()
	c.Hub.Shutdown()
	c.RateLimiter.Close()
	if err := c.Broker.Close(); err != nil {
		c.Logger.LogError(err, "Failed to close broker")
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
	if c.ProfileCache != nil {
		c.ProfileCache.Close()
	}
}
