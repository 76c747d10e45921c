package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"insight-backend/internal/analysis"
	"insight-backend/internal/cache"
	"insight-backend/internal/documents"
	"insight-backend/internal/fallback"
	"insight-backend/internal/insights"
	"insight-backend/internal/kv"
	"insight-backend/internal/kv/badgerstore"
	"insight-backend/internal/kv/memory"
	"insight-backend/internal/kv/pg"
	"insight-backend/internal/llm"
	openai "insight-backend/internal/llm/openai"
	"insight-backend/internal/orchestrator"
	"insight-backend/internal/shared/config"
	"insight-backend/internal/shared/server"
	"insight-backend/internal/shared/storage/db"
	"insight-backend/internal/shared/storage/object"
	localstore "insight-backend/internal/shared/storage/object/local"
	s3store "insight-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies and the wired router.
type App struct {
	Config config.Config
	Router *gin.Engine

	KV    kv.Store
	Cache *cache.Cache
	Blobs object.ObjectStore
	LLM   llm.Client

	Documents   *documents.Service
	Insights    *insights.Service
	Coordinator *analysis.Coordinator

	DocumentsHandler *documents.Handler
	InsightsHandler  *insights.Handler
	AnalysisHandler  *analysis.Handler

	closeKV func()
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	store, closeKV, err := buildKV(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := buildBlobs(ctx, cfg)
	if err != nil {
		closeKV()
		return nil, err
	}

	app := &App{
		Config:  cfg,
		KV:      store,
		Blobs:   blobs,
		LLM:     buildLLM(cfg),
		Cache:   cache.New(cfg.CacheMaxEntries, cfg.CacheTTL),
		closeKV: closeKV,
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           cfg,
		DocumentsHandler: app.DocumentsHandler,
		InsightsHandler:  app.InsightsHandler,
		AnalysisHandler:  app.AnalysisHandler,
	})
	return app, nil
}

// Close drains in-flight analysis completions and releases storage backends.
func (a *App) Close() {
	if a.Coordinator != nil {
		a.Coordinator.Wait()
	}
	if a.closeKV != nil {
		a.closeKV()
	}
}

func buildKV(ctx context.Context, cfg config.Config) (kv.Store, func(), error) {
	noop := func() {}
	switch cfg.KVStoreType {
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: DATABASE_URL empty; using in-memory store")
				return memory.New(), noop, nil
			}
			return nil, noop, fmt.Errorf("DATABASE_URL is required for KV_STORE=postgres")
		}
		conn, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err == nil {
			err = db.RunMigrations(ctx, conn)
			if err != nil {
				conn.Close()
			}
		}
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: database unavailable; using in-memory store: %v", err)
				return memory.New(), noop, nil
			}
			return nil, noop, err
		}
		return pg.New(conn), func() {
			if err := conn.Close(); err != nil {
				log.Printf("bootstrap: close database: %v", err)
			}
		}, nil
	case "memory":
		return memory.New(), noop, nil
	default:
		store, err := badgerstore.Open(badgerstore.Options{Dir: cfg.BadgerDir})
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: badger unavailable; using in-memory store: %v", err)
				return memory.New(), noop, nil
			}
			return nil, noop, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("bootstrap: close badger store: %v", err)
			}
		}, nil
	}
}

func buildBlobs(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildLLM(cfg config.Config) llm.Client {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("bootstrap: no LLM credentials; analyses will serve fallback insights")
		return llm.PlaceholderClient{}
	}
	client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	if err != nil {
		log.Printf("bootstrap: llm client init failed; analyses will serve fallback insights: %v", err)
		return llm.PlaceholderClient{}
	}
	return client
}

func buildServices(app *App) {
	cfg := app.Config
	app.Documents = documents.NewService(app.KV, app.Cache, app.Blobs, documents.Limits{
		MaxDocuments:   cfg.MaxDocumentsPerProject,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	})
	app.Insights = insights.NewService(app.KV, app.Cache, app.Documents)
	app.Coordinator = analysis.NewCoordinator(orchestrator.New(), app.LLM, fallback.New(), app.Insights, app.KV, analysis.Config{
		SoftTimeout: cfg.AnalysisSoftTimeout,
		Orchestration: orchestrator.Options{
			Timeout:     cfg.LLMTimeout,
			MaxRetries:  cfg.LLMMaxRetries,
			BaseBackoff: cfg.LLMBaseBackoff,
		},
	})

	app.DocumentsHandler = documents.NewHandler(app.Documents)
	app.InsightsHandler = insights.NewHandler(app.Insights)
	app.AnalysisHandler = analysis.NewHandler(app.Coordinator, app.Documents, app.Blobs)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
