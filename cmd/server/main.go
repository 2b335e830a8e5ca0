package main

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/accounts"
	"github.com/novabank/transaction-engine/internal/cache"
	"github.com/novabank/transaction-engine/internal/command"
	"github.com/novabank/transaction-engine/internal/config"
	"github.com/novabank/transaction-engine/internal/events"
	"github.com/novabank/transaction-engine/internal/fraud"
	"github.com/novabank/transaction-engine/internal/handler"
	"github.com/novabank/transaction-engine/internal/ledger"
	"github.com/novabank/transaction-engine/internal/models"
	"github.com/novabank/transaction-engine/internal/notify"
	"github.com/novabank/transaction-engine/internal/query"
	"github.com/novabank/transaction-engine/internal/repository/postgres"
	"github.com/novabank/transaction-engine/internal/saga"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	// Database connection
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	// Redis connection (read model cache + event stream)
	redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Stores
	ledgerStore := postgres.NewLedgerStore(db)
	txStore := postgres.NewTransactionStore(db)

	// Collaborators
	overdrafts := accounts.NewClient(cfg.AccountServiceURL, redisClient, cfg.CallTimeout, log)
	fraudChecker := newFraudChecker(cfg, log)
	notifier := newNotifier(cfg)
	sink := newEventSink(cfg, redisClient, log)

	// Core services
	engine := ledger.NewEngine(ledgerStore, overdrafts, log)
	orchestrator := saga.NewOrchestrator(engine, fraudChecker, txStore, sink, notifier, saga.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryBaseDelay,
		CallTimeout:  cfg.CallTimeout,
	}, log)

	views := cache.NewView[models.TransactionView](redisClient, 24*time.Hour, log)
	commandSvc := command.NewTransactionService(txStore, orchestrator, views, log)
	querySvc := query.NewTransactionQueryService(txStore, views, engine, log)

	transactionHandler := handler.NewTransactionHandler(commandSvc, querySvc)
	ledgerHandler := handler.NewLedgerHandler(engine)

	// Setup router
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/transactions", transactionHandler.InitiateTransaction)
		v1.GET("/transactions/:transactionId", transactionHandler.GetTransaction)
		v1.POST("/transactions/:transactionId/reverse", transactionHandler.ReverseTransaction)
		v1.POST("/transactions/:transactionId/cancel", transactionHandler.CancelTransaction)
		v1.GET("/accounts/:accountId/transactions", transactionHandler.ListTransactions)
		v1.GET("/accounts/:accountId/balance", transactionHandler.GetAccountBalance)
		v1.GET("/accounts/:accountId/entries", transactionHandler.ListAccountEntries)

		v1.POST("/ledger/credit", ledgerHandler.Credit)
		v1.POST("/ledger/debit", ledgerHandler.Debit)
		v1.GET("/ledger/balance/:accountId", ledgerHandler.GetBalance)
		v1.POST("/ledger/rebuild-cache/:accountId", ledgerHandler.RebuildBalanceCache)
		v1.GET("/ledger/entries/:accountId", ledgerHandler.ListEntries)
	}

	log.Info("transaction engine starting", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newFraudChecker(cfg config.Config, log *zap.Logger) fraud.Checker {
	if cfg.FraudServiceURL == "" {
		log.Warn("no fraud service configured, approving all transactions")
		return fraud.StaticChecker{}
	}
	return fraud.NewClient(cfg.FraudServiceURL, cfg.CallTimeout, cfg.FraudFailOpen, log)
}

func newNotifier(cfg config.Config) notify.Notifier {
	if cfg.NotifyServiceURL == "" {
		return notify.NoopNotifier{}
	}
	return notify.NewHTTPNotifier(cfg.NotifyServiceURL, cfg.CallTimeout)
}

func newEventSink(cfg config.Config, redisClient *goredis.Client, log *zap.Logger) events.Sink {
	switch cfg.EventBackend {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "none":
		return events.NoopSink{}
	default:
		return events.NewRedisPublisher(redisClient, events.TransactionEventsStream)
	}
}
