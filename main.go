package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hdgokani/atlan-metastore-sub001/audit"
	"github.com/hdgokani/atlan-metastore-sub001/authz/compiler"
	"github.com/hdgokani/atlan-metastore-sub001/authz/engine"
	"github.com/hdgokani/atlan-metastore-sub001/authz/refresher"
	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	"github.com/hdgokani/atlan-metastore-sub001/client"
	"github.com/hdgokani/atlan-metastore-sub001/config"
	"github.com/hdgokani/atlan-metastore-sub001/controller"
	"github.com/hdgokani/atlan-metastore-sub001/db"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"github.com/hdgokani/atlan-metastore-sub001/router"
	"github.com/hdgokani/atlan-metastore-sub001/search"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	cfg := config.GetConfig()

	// Initialize Neo4j
	if err := db.InitNeo4j(); err != nil {
		logger.Fatal("Failed to initialize Neo4j", zap.Error(err))
	}
	defer db.CloseNeo4j()

	// Initialize Redis
	if err := db.InitRedis(); err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer db.CloseRedis()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Policy snapshot store, disk fallback cache and refresher
	snapshots := store.NewSnapshotStore()
	diskCache := store.NewDiskCache(cfg.Authz.CacheDir, cfg.Authz.AppID, cfg.Authz.ServiceName)
	adminClient := client.NewAdminClient(cfg)
	policyRefresher := refresher.NewRefresher(
		cfg.Authz.ServiceName,
		snapshots,
		diskCache,
		adminClient,
		time.Duration(cfg.Authz.PollIntervalMs)*time.Millisecond,
	)
	policyRefresher.UseHardPolls(cfg.Authz.HardRefreshDefault)
	if err := policyRefresher.Start(ctx); err != nil {
		logger.Fatal("Failed to start policy refresher", zap.Error(err))
	}
	defer policyRefresher.Stop()

	// Cross-node cache invalidation
	subscriber := db.NewInvalidationSubscriber(cfg.Redis.RefreshChannel, func(req model.RefreshRequest) {
		if err := policyRefresher.Submit(req); err != nil {
			logger.Warn("Dropping invalidation request", zap.Error(err))
		}
	})
	subscriber.Start(ctx)
	defer subscriber.Stop()

	// Decision engines
	vertexStore := db.NewNeo4jVertexStore()
	typeRegistry := loadTypeRegistry()
	criteriaEvaluator := engine.NewCriteriaEvaluator(vertexStore)
	evaluator := engine.NewEvaluator(snapshots, typeRegistry, criteriaEvaluator)

	searchExecutor, err := search.NewElasticsearchExecutor(cfg.Elasticsearch.URL, cfg.Elasticsearch.Index)
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	queryCompiler := compiler.NewCompiler(snapshots, cfg.Authz.MaxClauseLimit)
	correlator := compiler.NewCorrelator(queryCompiler, searchExecutor)

	// Decision audit trail
	var auditSvc audit.Service
	auditSvc, err = audit.NewElasticsearchService(cfg.Elasticsearch.URL)
	if err != nil {
		logger.Warn("Decision auditing disabled", zap.Error(err))
		auditSvc = audit.NopService{}
	}

	// Initialize controller
	broadcast := func(ctx context.Context, req model.RefreshRequest) error {
		return db.PublishRefresh(ctx, cfg.Redis.RefreshChannel, req)
	}
	authzController := controller.NewAuthzController(evaluator, correlator, policyRefresher, snapshots, auditSvc, broadcast)

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	engineRouter := router.SetupRouter(authzController)

	// Set up the server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler: engineRouter,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

// loadTypeRegistry reads the entity type hierarchy from the configured type
// definitions file: a JSON object mapping each type name to its direct
// supertypes. Without the file, types simply have no supertypes.
func loadTypeRegistry() *engine.MapTypeRegistry {
	path := config.GetString("authz.typeDefsFile")
	if path == "" {
		return engine.NewMapTypeRegistry(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read type definitions file, continuing without supertypes",
			zap.String("path", path), zap.Error(err))
		return engine.NewMapTypeRegistry(nil)
	}

	var direct map[string][]string
	if err := json.Unmarshal(data, &direct); err != nil {
		logger.Warn("Failed to parse type definitions file, continuing without supertypes",
			zap.String("path", path), zap.Error(err))
		return engine.NewMapTypeRegistry(nil)
	}
	return engine.NewMapTypeRegistry(direct)
}
