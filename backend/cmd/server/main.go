package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"coyote/backend/internal/adapter"
	"coyote/backend/internal/agent"
	"coyote/backend/internal/audit"
	"coyote/backend/internal/constants"
	"coyote/backend/internal/reply"
	"coyote/backend/internal/sms"
	"coyote/backend/internal/tools"
	"coyote/backend/pkg/config"
	"coyote/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting COYOTE SMS server...", zap.String("version", constants.Version))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	router, cleanup, err := newServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build server", zap.Error(err))
	}
	defer cleanup()

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.Any("integrations", cfg.Integrations()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newServer wires integrations, the tool registry, the model adapter, the
// orchestration loop and the SMS handler into a router. cleanup releases
// long-lived clients.
func newServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gin.Engine, func(), error) {
	loc, err := time.LoadLocation(cfg.CalendarTimezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid calendar timezone: %w", err)
	}

	deps, err := newDependencies(ctx, cfg, loc, log)
	if err != nil {
		return nil, nil, err
	}

	registry, err := tools.NewRegistryFromConfig(cfg.ToolToggles(tools.IntegrationRequirements), deps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	llmAdapter := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID,
		adapter.WithRetryPolicy(constants.ModelMaxAttempts, cfg.ModelRetryBaseDelay),
		adapter.WithTimeout(cfg.ModelTimeout),
		adapter.WithMaxTokens(cfg.ModelMaxTokens),
		adapter.WithLogger(log),
	)

	orchestrator := agent.NewOrchestrator(llmAdapter, registry,
		agent.WithMaxRounds(cfg.MaxRounds),
		agent.WithToolTimeout(cfg.ToolTimeout),
		agent.WithPersona(cfg.Persona),
		agent.WithReplyLength(cfg.SMSMaxLength),
		agent.WithLocation(loc),
	)

	opts := sms.Options{
		Integrations: cfg.Integrations(),
		Tools:        registry,
		Audit:        audit.NewRecorder(audit.Pricing{InputPerMillion: cfg.ModelCostInput, OutputPerMillion: cfg.ModelCostOutput}),
		Model:        llmAdapter.Model(),
	}
	if cfg.TwilioConfigured() {
		opts.Sender = sms.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
		log.Info("Replies go out through the Twilio REST API")
	} else {
		log.Warn("Twilio credentials missing, replies go back in the webhook response")
	}

	cleanup := func() {}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("Redis is not reachable yet, de-duplication will retry per message", zap.Error(err))
		}
		cancel()
		opts.Deduplicator = sms.NewRedisDeduplicator(rdb, cfg.DedupTTL)
		cleanup = func() { _ = rdb.Close() }
	}

	handler := sms.NewHandler(orchestrator, reply.NewFormatter(cfg.SMSMaxLength, cfg.SMSCharset), opts)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	return router, cleanup, nil
}

// newDependencies creates a client for every configured integration
func newDependencies(ctx context.Context, cfg *config.Config, loc *time.Location, log *zap.Logger) (tools.Dependencies, error) {
	var deps tools.Dependencies

	if cfg.GoogleCredentials != nil {
		httpClient := tools.NewGoogleHTTPClient(ctx, cfg.GoogleCredentials)
		services, err := tools.NewGoogleServices(ctx, option.WithHTTPClient(httpClient))
		if err != nil {
			return deps, fmt.Errorf("failed to create Google clients: %w", err)
		}
		deps.Gmail = tools.NewGmailExecutor(services.Gmail)
		deps.Calendar = tools.NewCalendarExecutor(services.Calendar, loc)
		deps.Drive = tools.NewDriveExecutor(services.Drive)
	} else {
		log.Warn("Google credentials missing, Gmail, Calendar and Drive tools are off")
	}

	if cfg.SwarmAPIURL != "" {
		deps.Swarm = tools.NewSwarmExecutor(cfg.SwarmAPIURL)
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		deps.Revenue = tools.NewRevenueExecutor(cfg.SupabaseURL, cfg.SupabaseKey, loc)
	}

	return deps, nil
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// Query strings carry message bodies on GET webhooks, keep them out of logs
		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
