/**
 * @description
 * This is the main entry point for the redeem-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, the message broker producer, the worker
 * pool, and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/midtrans, pkg/redemption, pkg/session, pkg/rabbitmq: External boundaries.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redeemworks/redeem-service/internal/api"
	"github.com/redeemworks/redeem-service/internal/app"
	"github.com/redeemworks/redeem-service/internal/config"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/midtrans"
	rmrabbit "github.com/redeemworks/redeem-service/pkg/rabbitmq"
	"github.com/redeemworks/redeem-service/pkg/redemption"
	"github.com/redeemworks/redeem-service/pkg/session"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.MidtransServerKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"midtrans server key must be configured\" env=MIDTRANS_SERVER_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting redeem-service\" port=%s workers=%d", cfg.ServerPort, cfg.WorkerCount)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish progress and payment events.
	// The service only publishes; a fallback keeps it booting without a broker.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional redis-backed submission rate limiting.
	var redisClient *redis.Client
	if cfg.SubmitRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// External boundaries.
	gateway := midtrans.NewClient(cfg.MidtransServerKey, cfg.MidtransIsProduction)
	redeemClient := redemption.NewClient(cfg.RedemptionAPIBaseURL, cfg.RedemptionSecretKey)
	sessionClient := session.NewClient(cfg.SessionProviderURL)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// The submission queue is in-memory, so batches left queued by a previous
	// process will never be picked up. Surface them at startup.
	if orphaned, err := repository.CountQueuedBatches(context.Background()); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"failed to count queued batches\" err=%v", err)
	} else if orphaned > 0 {
		log.Printf("level=warn component=bootstrap msg=\"found queued batches from a previous run; they will not be processed\" count=%d", orphaned)
	}

	// Worker pool draining the submission queue.
	runner := app.NewRunner(
		repository,
		producer,
		redeemClient,
		sessionClient,
		cfg.MaxTransientRetries,
		cfg.MaxRegionCycles,
		time.Duration(cfg.JobTimeoutSeconds)*time.Second,
	)
	pool := app.NewWorkerPool(runner, cfg.WorkerCount)

	poolCtx, poolCancel := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	// Initialize the core application service with its dependencies.
	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisSubmitRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}
	service := app.NewService(repository, pool, gateway, limiter, cfg)
	webhook := app.NewWebhookProcessor(repository, gateway, producer)

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(service, webhook)
	router := api.Routes(handlers, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Stop the workers after the HTTP server so no new jobs arrive while
	// draining. In-flight jobs observe the cancelled context and finish as
	// cancelled.
	poolCancel()
	pool.Stop()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
