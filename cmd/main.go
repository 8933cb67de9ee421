package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"market-settler/internal/audit"
	"market-settler/internal/auth"
	"market-settler/internal/config"
	"market-settler/internal/database"
	"market-settler/internal/handlers"
	"market-settler/internal/indexer"
	"market-settler/internal/ingest"
	"market-settler/internal/jobs"
	"market-settler/internal/ledger"
	"market-settler/internal/oracle"
	"market-settler/internal/settlement"
	"market-settler/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize admin token secret
	auth.InitJWT(cfg.App.AdminTokenSecret)

	// Connect to database
	if err := database.Connect(cfg.Database.Driver, cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize entity store
	marketStore := store.NewStore(database.GetDB(), cfg.Scheduler.MaxRetries)

	// Replay unresolved journal entries before anything else may write
	if _, _, err := marketStore.ReplayPending(context.Background()); err != nil {
		log.Fatalf("Journal recovery failed: %v", err)
	}

	// Initialize ledger client
	ledgerClient, err := ledger.NewSolanaLedger(
		cfg.Ledger.Network,
		cfg.Ledger.MarketProgramID,
		cfg.Ledger.AuthorityPrivateKey,
		cfg.Ledger.MinAuthoritySOL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize ledger client: %v", err)
	}

	// Initialize oracle client
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey)

	// Initialize audit sink
	var auditSink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		auditSink = audit.NewClient(cfg.Audit.BaseURL, cfg.Audit.APIKey)
	}

	// Initialize event feed client
	feed := indexer.NewClient(
		cfg.Indexer.BaseURL,
		cfg.Indexer.APIKey,
		cfg.Indexer.PollInterval,
		cfg.Indexer.PageSize,
	)

	// Initialize ingestion adapter and replay the historical range
	adapter := ingest.NewAdapter(marketStore, ledgerClient, feed, cfg.Indexer.PageSize)

	cursor, err := adapter.SyncHistorical(context.Background(), cfg.Indexer.StartCursor)
	if err != nil {
		log.Printf("Historical sync incomplete, continuing from cursor %d: %v", cursor, err)
	}

	// Live subscription picks up where the replay stopped
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	go func() {
		err := feed.Subscribe(subCtx, cursor, func(event indexer.ConditionEvent) {
			if err := adapter.OnLive(subCtx, event); err != nil {
				log.Printf("Failed to apply live event %s: %v", event.ConditionID, err)
			}
		})
		if err != nil && err != context.Canceled {
			log.Printf("Live subscription stopped: %v", err)
		}
	}()

	// Initialize settlement pipeline and jobs
	pipeline := settlement.NewPipeline(marketStore, ledgerClient, oracleClient, auditSink)

	settlementJob := jobs.NewSettlementJob(
		marketStore,
		pipeline,
		cfg.Scheduler.SettlementInterval,
		cfg.Scheduler.SettlementDelay,
		cfg.Scheduler.EntityPause,
	)
	settlementJob.Start()
	log.Println("Settlement job started")

	backfillJob := jobs.NewBackfillJob(
		marketStore,
		adapter,
		cfg.Scheduler.BackfillInterval,
		cfg.Scheduler.EntityPause,
		cfg.Scheduler.BackfillBatchSize,
	)
	backfillJob.Start()
	log.Println("Metadata backfill job started")

	// Set up Gin router
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	marketHandler := handlers.NewMarketHandler(database.GetDB(), marketStore)

	// Public status routes
	router.GET("/api/markets", marketHandler.GetMarkets)
	router.GET("/api/markets/:id", marketHandler.GetMarketByID)

	// Admin routes (service token only)
	admin := router.Group("/api/admin")
	admin.Use(auth.AdminMiddleware())
	{
		admin.POST("/markets/:id/reset", marketHandler.ResetMarket)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	settlementJob.Stop()
	backfillJob.Stop()
	subCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
