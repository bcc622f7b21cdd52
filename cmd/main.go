package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/raglab-search/auth"
	"github.com/raglab-search/config"
	"github.com/raglab-search/handlers"
	"github.com/raglab-search/models"
	"github.com/raglab-search/services/chunk"
	"github.com/raglab-search/services/impl"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize services
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	storage, err := impl.NewObjectStorageService(ctx, &cfg.ObjectStore)
	cancel()
	if err != nil {
		log.Fatal("Failed to connect to object store:", err)
	}

	cacheService := impl.NewQueryCacheService(&cfg.Redis)
	embedder := impl.NewEmbeddingService(&cfg.Embedding)
	insights := impl.NewMetadataExtractionService(&cfg.LLM, cfg.Ingest.EnableLLM)
	reranker := impl.NewRerankService(&cfg.LLM)

	chunker := chunk.New(
		chunk.WithChunkSize(cfg.Ingest.ChunkSize),
		chunk.WithOverlap(cfg.Ingest.ChunkOverlap),
	)

	documentService := impl.NewDocumentService(db, storage, embedder, insights, cacheService, chunker)
	queryService := impl.NewQueryService(db, storage, embedder, reranker, cacheService, &cfg.Search)

	// Initialize handlers
	documentHandlers := handlers.NewDocumentHandlers(documentService)
	queryHandlers := handlers.NewQueryHandlers(queryService)

	// Setup router
	router := setupRouter(documentHandlers, queryHandlers, cfg)

	// Start server
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("RAG search server starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	// TranslateError lets the dedup path detect unique violations portably.
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

// migrate creates the schema plus the indexes AutoMigrate cannot express:
// the pgvector extension, the HNSW index for k-NN, and GIN indexes for
// keyword and metadata filters.
func migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}

	if err := db.AutoMigrate(
		&models.OriginalDocument{},
		&models.DocumentChunk{},
	); err != nil {
		return err
	}

	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS idx_documents_keywords ON original_documents USING gin (keywords)",
		"CREATE INDEX IF NOT EXISTS idx_documents_metadata ON original_documents USING gin (metadata)",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func setupRouter(documentHandlers *handlers.DocumentHandlers, queryHandlers *handlers.QueryHandlers, cfg *config.Config) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Service-Account"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "rag-search",
		})
	})

	jwtValidator := auth.NewJWTValidator(
		cfg.Auth.JWTSecret,
		nil,
		cfg.Auth.AllowedUsers,
		cfg.Auth.TrustedServices,
	)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(jwtValidator))

	documents := v1.Group("/documents")
	{
		documents.POST("", documentHandlers.Upload)
		documents.GET("", documentHandlers.List)
		documents.GET("/by-hash/:hash", documentHandlers.GetByHash)
		documents.DELETE("/by-hash/:hash", documentHandlers.DeleteByHash)
		documents.GET("/:id", documentHandlers.Get)
		documents.DELETE("/:id", documentHandlers.Delete)
		documents.GET("/:id/download", documentHandlers.Download)
		documents.GET("/:id/chunks", documentHandlers.GetChunks)
		documents.GET("/:id/chunks/:index/context", documentHandlers.GetChunkContext)
	}

	v1.POST("/query", queryHandlers.Query)
	v1.POST("/embed", queryHandlers.Embed)

	return router
}

// authMiddleware validates bearer tokens and resolves the effective user,
// honoring X-Service-Account delegation for trusted services.
func authMiddleware(validator *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		effectiveUser := validator.ResolveEffectiveUser(claims, c.GetHeader("X-Service-Account"))

		c.Set("user_id", claims.Sub)
		c.Set("user_email", claims.Email)
		c.Set("effective_user", effectiveUser)
		if effectiveUser != claims.Sub {
			c.Set("uploaded_via", "service:"+claims.Sub)
		}

		c.Next()
	}
}
