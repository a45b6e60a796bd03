package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-service/consumer"
	"pos-service/controllers"
	"pos-service/database"
	"pos-service/logger"
	"pos-service/middleware"
	"pos-service/models"
	"pos-service/providers"
	"pos-service/repository"
	"pos-service/routes"
	"pos-service/services"

	aws_pkg "pos-service/pkg/aws"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const serviceName = "pos-service"

func main() {
	// Load .env file (optional, falls back to system env)
	envErr := godotenv.Load()

	appLogger, err := logger.New(getEnv("APP_ENV", "development"), nil)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	if envErr != nil {
		appLogger.Info("No .env file found, using process environment")
	}

	cfg, err := LoadConfig(appLogger)
	if err != nil {
		appLogger.Fatal("Failed to load config", zap.Error(err))
	}

	// AWS clients
	var (
		awsCfg    aws.Config
		awsReady  bool
		publisher aws_pkg.SNSPublisher
		metrics   *aws_pkg.MetricsClient
	)
	if c, err := aws_pkg.LoadAWSConfig(context.Background()); err != nil {
		appLogger.Warn("AWS config unavailable, SNS/SQS/CloudWatch disabled", zap.Error(err))
	} else {
		awsCfg, awsReady = c, true
		if cfg.OrderSNSTopicARN != "" {
			publisher = aws_pkg.NewSNSClient(awsCfg)
		}
		metrics = aws_pkg.NewMetricsClient(awsCfg)
	}

	if awsReady && cfg.CloudWatchEnabled {
		cw, err := aws_pkg.NewCloudWatchLogsClient(context.Background(), awsCfg, serviceName)
		if err != nil {
			appLogger.Warn("CloudWatch Logs unavailable, logging to console only", zap.Error(err))
		} else if l, err := logger.New(cfg.Env, cw); err == nil {
			appLogger = l
		}
	}
	defer appLogger.Sync() //nolint:errcheck

	if err := database.Connect(cfg.Postgres(), appLogger); err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close() //nolint:errcheck

	redisClient, err := database.NewRedisClient(context.Background(), cfg.RedisURL)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck

	// Repositories
	orderRepo := repository.NewGormOrderRepository(database.DB)
	productRepo := repository.NewGormProductRepository(database.DB)
	cartRepo := repository.NewRedisCartRepository(redisClient, cfg.CartTTL)

	// Provider and DI chain
	gateway, stripeGateway, sandbox := buildGateway(cfg)
	appLogger.Info("Payment provider selected", zap.String("provider", gateway.Name()))

	orderService := services.NewOrderService(
		orderRepo,
		services.NewPricer(productRepo, cfg.TaxRate),
		gateway,
		publisher,
		metrics,
		services.OrderServiceConfig{
			SetupAttempts:     cfg.PaymentSetupTries,
			RetryBackoff:      500 * time.Millisecond,
			SimulationEnabled: cfg.SimulationEnabled,
			SNSTopicArn:       cfg.OrderSNSTopicARN,
		},
		appLogger,
	)

	var callbackParser services.SignedCallbackParser
	if stripeGateway != nil {
		callbackParser = stripeGateway
	}
	webhookService := services.NewWebhookService(orderService, cfg.XenditWebhookToken, callbackParser, metrics, appLogger)
	if sandbox != nil {
		sandbox.SetCallback(func(ctx context.Context, cb *models.PaymentCallback) error {
			_, err := webhookService.HandleCallback(ctx, cb)
			return err
		})
	}

	salesService := services.NewSalesService(orderRepo, appLogger)
	cartService := services.NewCartService(cartRepo, productRepo, orderService, appLogger)

	orderController := controllers.NewOrderController(orderService, salesService, cartService, appLogger)
	cartController := controllers.NewCartController(cartService, appLogger)
	webhookController := controllers.NewWebhookController(webhookService, appLogger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Queued payment callbacks
	if cfg.PaymentCallbackQueueURL != "" && awsReady {
		callbacks := consumer.NewPaymentCallbackConsumer(webhookService, appLogger)
		sqsConsumer := aws_pkg.NewSQSConsumer(awsCfg, cfg.PaymentCallbackQueueURL, appLogger)
		go func() {
			if err := sqsConsumer.StartPolling(ctx, callbacks.Handle); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Payment callback consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(appLogger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))

	// 30-second request timeout
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	routes.RegisterRoutes(r, orderController, cartController, webhookController, routes.Options{
		JWTSecret:        cfg.JWTSecret,
		WebhookPerMinute: cfg.WebhookRatePerMinute,
		WebhookBurst:     cfg.WebhookRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	appLogger.Info("POS service started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	<-quit
	appLogger.Info("Shutting down POS service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	appLogger.Info("Server exited cleanly")
}

// buildGateway returns the configured provider. The Stripe and sandbox
// gateways are also returned on their own when selected, since they take
// part in webhook verification and in-process callbacks respectively.
func buildGateway(cfg *Config) (providers.PaymentGateway, *providers.StripeGateway, *providers.SandboxGateway) {
	switch cfg.PaymentProvider {
	case ProviderStripe:
		sg := providers.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.PaymentCurrency, cfg.PaymentTimeout)
		return sg, sg, nil
	case ProviderSandbox:
		sb := providers.NewSandboxGateway()
		return sb, nil, sb
	default:
		return providers.NewXenditGateway(cfg.XenditSecretKey, cfg.XenditBaseURL, cfg.PaymentCurrency, cfg.PaymentTimeout), nil, nil
	}
}
