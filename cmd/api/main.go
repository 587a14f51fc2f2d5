package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	stripeadapter "github.com/robertarktes/event-ticketing/internal/adapters/stripe"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/config"
	httphandler "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/outbox"
	"github.com/robertarktes/event-ticketing/internal/promocode"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
	"github.com/robertarktes/event-ticketing/internal/scheduler"
	"github.com/robertarktes/event-ticketing/internal/settlement"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "ticketing-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)
	clk := clock.NewSystem()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), clk, logger)
	if err := audit.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to create audit indexes")
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)
	publishQueue := redisadapter.NewDelayQueue(redisClient, clk, scheduler.QueueName)

	renderer := ticketdoc.NewRenderer(cfg.ClientURL)
	inv := inventory.NewService(repo, clk, logger)
	publishing := scheduler.New(publishQueue, repo, audit, clk, logger)

	coordinator := settlement.NewCoordinator(settlement.Deps{
		Processor: stripeadapter.NewProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		Payouts:   repo,
		Store:     repo,
		Inventory: inv,
		Renderer:  renderer,
		Notifier:  outbox.NewNotifier(repo),
		Auditor:   audit,
		Clock:     clk,
		Logger:    logger,
	}, cfg.Currency)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Checkout:   checkout.NewService(promocode.NewValidator(repo, clk), inv, coordinator, logger),
		Settlement: coordinator,
		Catalog:    catalog.NewService(repo, publishing, clk, logger),
		Tickets:    catalog.NewTicketDocuments(repo, renderer),
		Idemp:      idemp,
		Ready: map[string]httphandler.Pinger{
			"crdb":  repo,
			"redis": redisCache,
			"mongo": audit,
		},
		Logger: logger,
	})

	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
