/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * bank connector registry, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/bankclient, pkg/profileclient, pkg/webhook, pkg/rabbitmq: External collaborator clients.
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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/interpay/transfer-service/internal/api"
	"github.com/interpay/transfer-service/internal/app"
	"github.com/interpay/transfer-service/internal/config"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/pkg/bankclient"
	"github.com/interpay/transfer-service/pkg/profileclient"
	"github.com/interpay/transfer-service/pkg/rabbitmq"
	"github.com/interpay/transfer-service/pkg/webhook"
)

func main() {
	// Load an optional .env file for local development before reading config.
	if err := godotenv.Load(); err == nil {
		log.Println("level=info component=bootstrap msg=\"loaded .env file\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
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

	repository := store.NewPostgresRepository(dbpool)

	// Load the configured bank connections and build the connector registry.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	connections, err := repository.ListBankConnections(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"bank connection load failed\" err=%v", err)
	}
	bankRegistry := bankclient.NewRegistry(connections)
	if bankRegistry.Size() == 0 {
		log.Println("level=warn component=bootstrap msg=\"no active bank connections configured; all money movement will fail\"")
	} else {
		log.Printf("level=info component=bootstrap msg=\"bank connector registry loaded\" banks=%d", bankRegistry.Size())
	}

	// Initialize the RabbitMQ producer to publish events.
	// This service only needs to publish, so we use a producer.
	var eventProducer rabbitmq.Publisher
	if producer, producerErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); producerErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", producerErr)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		defer producer.Close()
		eventProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the profile collaborator client. Missing config degrades to no
	// avatar enrichment rather than preventing boot.
	var profileClient *profileclient.Client
	if strings.TrimSpace(cfg.ProfileServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"profile service not configured; avatar enrichment disabled\" env=PROFILE_SERVICE_URL")
	} else {
		profileClient = profileclient.NewClient(cfg.ProfileServiceURL, cfg.InternalAPIKey)
	}

	// Initialize the webhook notifier.
	var notifier app.Notifier
	if strings.TrimSpace(cfg.WebhookEndpointURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"webhook endpoint not configured; event delivery disabled\" env=WEBHOOK_ENDPOINT_URL")
	} else {
		notifier = webhook.NewNotifier(cfg.WebhookEndpointURL, cfg.WebhookSecret)
	}

	// Initialize the core application service with its dependencies.
	transferService := app.NewService(
		repository,
		app.NewBankRegistry(bankRegistry),
		profileClient,
		notifier,
		eventProducer,
		cfg.MaxTransferAmountCents,
		cfg.DefaultCurrency,
	)

	// Redis guards settlement idempotency across instances. Missing Redis
	// degrades to the database unique constraint alone.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; settlement idempotency guard disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; settlement idempotency guard disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; settlement idempotency guard disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				transferService.SetIdempotencyReserver(
					app.NewRedisIdempotencyReserver(redisClient, cfg.RedisIdempotencyPrefix, 0),
				)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Start the stale-transfer expiry sweeper.
	reaper := app.NewReaper(transferService, cfg.TransferExpirySchedule)
	reaper.Start()
	defer func() { <-reaper.Stop().Done() }()

	// Initialize the API handlers and router.
	transferHandlers := api.NewTransferHandlers(transferService)
	settlementHandlers := api.NewSettlementHandlers(transferService)
	router := api.Routes(transferHandlers, settlementHandlers, cfg.JWTSecret, cfg.InternalAPIKey)

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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
