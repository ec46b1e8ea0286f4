package di

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/metrics"
	"github.com/aihub/docqa-go/internal/services"
	"github.com/aihub/docqa-go/internal/storage"
)

// 连接外部组件时的超时
const connectTimeout = 10 * time.Second

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		metrics.New,
		errors.NewErrorMonitor,
		errors.NewErrorHandler,
		NewRedisClient,
		NewEmbedder,
		NewChatModel,
		NewVectorStore,
		NewTextExtractor,
		NewChunker,
		NewBreakers,
		NewSessionStore,
		NewArchiver,
		NewEventPublisher,
		NewIngestService,
		NewQueryService,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return fmt.Errorf("failed to register provider: %w", err)
		}
	}
	return nil
}

// NewRedisClient Redis未启用或连接失败时返回nil，依赖方降级为无缓存
func NewRedisClient(cfg *config.Config, log *zap.Logger, cleanup *Cleanup) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Failed to initialize Redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		return nil
	}
	cleanup.Add(client.Close)
	log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	return client
}

// NewEmbedder 按配置创建向量生成器，并按需叠加限流与缓存
func NewEmbedder(cfg *config.Config, rdb *redis.Client, log *zap.Logger) knowledge.Embedder {
	var embedder knowledge.Embedder
	switch cfg.Embedding.Provider {
	case "local":
		embedder = knowledge.NewHashingEmbedder(cfg.Embedding.Dimensions)
	default:
		embedder = knowledge.NewOpenAIEmbedder(knowledge.OpenAIOptions{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	}

	if rps := cfg.Embedding.RequestsPerSecond; rps > 0 {
		embedder = knowledge.NewRateLimitedEmbedder(embedder, rps, int(math.Ceil(rps)))
	}
	if cfg.Embedding.Cache.Enabled {
		embedder = knowledge.NewCachedEmbedder(embedder, rdb, knowledge.CacheOptions{
			TTL: cfg.Embedding.Cache.TTL,
		}, log.Named("embedding_cache"))
	}

	log.Info("Embedder ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", embedder.Model()),
		zap.Int("dimensions", embedder.Dimensions()))
	return embedder
}

// NewChatModel 按配置创建语言模型
func NewChatModel(cfg *config.Config) knowledge.ChatModel {
	if cfg.Chat.Provider == "local" {
		return knowledge.ExtractiveChatModel{}
	}
	return knowledge.NewOpenAIChatModel(knowledge.ChatOptions{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
	})
}

// VectorStoreParams 向量库依赖
type VectorStoreParams struct {
	dig.In

	Config   *config.Config
	Embedder knowledge.Embedder
	Logger   *zap.Logger
	Registry prometheus.Registerer
	Cleanup  *Cleanup
}

// NewVectorStore 按配置创建向量库适配器，维度取自向量生成器
func NewVectorStore(p VectorStoreParams) (knowledge.VectorStore, error) {
	cfg := p.Config.VectorStore
	dims := p.Embedder.Dimensions()

	var (
		store knowledge.VectorStore
		err   error
	)
	switch cfg.Provider {
	case "milvus":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		store, err = knowledge.NewMilvusVectorStore(ctx, knowledge.MilvusOptions{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			Database:   cfg.Milvus.Database,
			VectorSize: dims,
			Distance:   cfg.Milvus.Distance,
			UseTLS:     cfg.Milvus.TLS,
			Timeout:    p.Config.RAG.Timeouts.Store,
		}, p.Logger.Named("milvus"))
	case "qdrant":
		store, err = knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			Endpoint:   cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			VectorSize: dims,
			Distance:   cfg.Qdrant.Distance,
			Timeout:    p.Config.RAG.Timeouts.Store,
		})
	case "elasticsearch":
		store, err = knowledge.NewElasticVectorStore(knowledge.ElasticOptions{
			Addresses:  cfg.Elasticsearch.Addresses,
			Username:   cfg.Elasticsearch.Username,
			Password:   cfg.Elasticsearch.Password,
			APIKey:     cfg.Elasticsearch.APIKey,
			VectorSize: dims,
		})
	case "postgres":
		store, err = newDatabaseVectorStore(p, dims)
	default:
		store = knowledge.NewMemoryVectorStore(dims)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s vector store: %w", cfg.Provider, err)
	}

	if closer, ok := store.(io.Closer); ok {
		p.Cleanup.Add(closer.Close)
	}
	p.Logger.Info("Vector store ready", zap.String("provider", cfg.Provider), zap.Int("dimensions", dims))
	return store, nil
}

func newDatabaseVectorStore(p VectorStoreParams, dims int) (knowledge.VectorStore, error) {
	db, err := database.NewGormDB(p.Config.Database.URL, database.DefaultPoolOptions)
	if err != nil {
		return nil, err
	}
	p.Cleanup.Add(func() error { return database.Close(db) })

	if err := database.RegisterPoolMetrics(p.Registry, db, "docqa"); err != nil {
		p.Logger.Warn("Failed to register pool metrics", zap.Error(err))
	}

	store := knowledge.NewDatabaseVectorStore(db, dims, p.Config.VectorStore.Postgres.CandidateLimit)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate vector table: %w", err)
	}
	return store, nil
}

// NewTextExtractor 文件文本提取
func NewTextExtractor() knowledge.TextExtractor {
	return knowledge.NewFileParserManager()
}

// NewChunker 分块器
func NewChunker(cfg *config.Config) *knowledge.Chunker {
	return knowledge.NewChunker(cfg.RAG.MaxChunkSize, cfg.RAG.ChunkOverlap)
}

// NewBreakers 远程调用熔断器；未启用时各字段为nil，调用直接透传
func NewBreakers(cfg *config.Config) services.Breakers {
	if !cfg.Breaker.Enabled {
		return services.Breakers{}
	}
	return services.NewBreakers(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenTimeout)
}

// NewSessionStore 会话状态存储，Redis为nil时为空操作
func NewSessionStore(rdb *redis.Client, log *zap.Logger) *services.SessionStore {
	return services.NewSessionStore(rdb, 0, log.Named("session_store"))
}

// NewArchiver 未启用MinIO时返回nil
func NewArchiver(cfg *config.Config, log *zap.Logger) services.Archiver {
	if !cfg.Storage.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	archive, err := storage.NewArchive(ctx, cfg.Storage, log.Named("archive"))
	if err != nil {
		log.Warn("Failed to initialize MinIO", zap.Error(err))
		return nil
	}
	return archive
}

// NewEventPublisher 未启用Kafka时返回nil
func NewEventPublisher(cfg *config.Config, log *zap.Logger, cleanup *Cleanup) services.EventPublisher {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
	if err != nil {
		log.Warn("Failed to initialize Kafka producer", zap.Error(err))
		return nil
	}
	cleanup.Add(producer.Close)
	return producer
}

// IngestParams 入库服务依赖
type IngestParams struct {
	dig.In

	Config    *config.Config
	Extractor knowledge.TextExtractor
	Chunker   *knowledge.Chunker
	Embedder  knowledge.Embedder
	Store     knowledge.VectorStore
	Breakers  services.Breakers
	Metrics   *metrics.Metrics
	Archive   services.Archiver
	Events    services.EventPublisher
	Sessions  *services.SessionStore
	Logger    *zap.Logger
}

// NewIngestService 入库服务
func NewIngestService(p IngestParams) *services.IngestService {
	rag := p.Config.RAG
	return services.NewIngestService(services.IngestDeps{
		Extractor: p.Extractor,
		Chunker:   p.Chunker,
		Embedder:  p.Embedder,
		Store:     p.Store,
		Breakers:  p.Breakers,
		Metrics:   p.Metrics,
		Archive:   p.Archive,
		Events:    p.Events,
		Sessions:  p.Sessions,
		Logger:    p.Logger,
	}, services.IngestOptions{
		Namespace:           rag.Namespace,
		MaxParallelFiles:    rag.MaxParallelFiles,
		EmbedConcurrency:    rag.EmbedConcurrency,
		ReturnExtractedText: rag.ReturnExtractedText,
		Timeouts:            timeoutsFrom(rag.Timeouts),
	})
}

// QueryParams 问答服务依赖
type QueryParams struct {
	dig.In

	Config    *config.Config
	Embedder  knowledge.Embedder
	Store     knowledge.VectorStore
	ChatModel knowledge.ChatModel
	Breakers  services.Breakers
	Metrics   *metrics.Metrics
	Sessions  *services.SessionStore
	Logger    *zap.Logger
}

// NewQueryService 问答服务
func NewQueryService(p QueryParams) *services.QueryService {
	rag := p.Config.RAG
	return services.NewQueryService(services.QueryDeps{
		Embedder:  p.Embedder,
		Store:     p.Store,
		ChatModel: p.ChatModel,
		Breakers:  p.Breakers,
		Metrics:   p.Metrics,
		Sessions:  p.Sessions,
		Logger:    p.Logger,
	}, services.QueryOptions{
		Namespace:       rag.Namespace,
		TopK:            rag.TopK,
		PooledRetrieval: rag.PooledRetrieval,
		MaxContextChars: rag.MaxContextChars,
		Timeouts:        timeoutsFrom(rag.Timeouts),
	})
}

func timeoutsFrom(t config.TimeoutsConfig) services.Timeouts {
	return services.Timeouts{
		Extract:  t.Extract,
		Embed:    t.Embed,
		Store:    t.Store,
		Generate: t.Generate,
	}
}
