package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/app/controllers"
	"github.com/aihub/docqa-go/app/router"
	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/di"
	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/services"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config   *config.Config
	Routes   router.Routes
	loader   *config.Loader
	registry *prometheus.Registry
	cleanup  *di.Cleanup
}

// Global app instance
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// SetGlobalApp sets the global app instance
func SetGlobalApp(app *App) {
	globalApp = app
}

// Init bootstraps configuration, logger and the dependency graph.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	loader := config.NewLoader(logger.Named("config"))
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	config.AppConfig = cfg

	app, err := New(cfg, logger.GetLogger())
	if err != nil {
		return nil, err
	}
	app.loader = loader

	loader.OnChange(func(next *config.Config) {
		config.AppConfig = next
		logger.Info("Configuration reloaded",
			zap.Int("top_k", next.RAG.TopK),
			zap.Bool("pooled_retrieval", next.RAG.PooledRetrieval))
	})
	loader.Watch()

	SetGlobalApp(app)
	return app, nil
}

// New builds the dependency graph for cfg and resolves the HTTP dependencies.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	container, cleanup, err := di.Build(cfg, log, registry)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, registry: registry, cleanup: cleanup}
	err = container.Invoke(func(
		ingest *services.IngestService,
		query *services.QueryService,
		handler *apperrors.ErrorHandler,
		embedder knowledge.Embedder,
		chat knowledge.ChatModel,
		store knowledge.VectorStore,
		breakers services.Breakers,
	) {
		app.Routes = router.Routes{
			RAG: controllers.NewRAGDeps(ingest, query, handler, log),
			Health: &controllers.HealthDeps{
				Embedder:  embedder,
				ChatModel: chat,
				Store:     store,
				Breakers:  breakers,
			},
		}
		if cfg.Metrics.Enabled {
			app.Routes.Gatherer = registry
		}
	})
	if err != nil {
		_ = cleanup.Run()
		return nil, err
	}

	log.Info("Application initialized",
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("chat_provider", cfg.Chat.Provider))
	return app, nil
}

// Shutdown flushes logs and closes resources gracefully.
func (a *App) Shutdown() {
	if a.cleanup != nil {
		if err := a.cleanup.Run(); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	logger.Sync()
}
