package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/services"
)

func localConfig() *config.Config {
	return &config.Config{
		RAG: config.RAGConfig{
			MaxChunkSize:     200,
			TopK:             3,
			Namespace:        knowledge.DefaultNamespace,
			MaxParallelFiles: 2,
			EmbedConcurrency: 2,
		},
		Embedding:   config.EmbeddingConfig{Provider: "local", Dimensions: 64},
		Chat:        config.ChatConfig{Provider: "local"},
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
	}
}

func TestContainerBasicOperations(t *testing.T) {
	container := InitContainer()
	assert.Same(t, container, GetContainer())

	type testService struct {
		Name string
	}
	require.NoError(t, Provide(func() *testService { return &testService{Name: "test"} }))
	assert.NoError(t, Invoke(func(svc *testService) {
		assert.Equal(t, "test", svc.Name)
	}))
}

func TestBuild_LocalPipeline(t *testing.T) {
	container, cleanup, err := Build(localConfig(), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer cleanup.Run()

	err = container.Invoke(func(ingest *services.IngestService, query *services.QueryService, store knowledge.VectorStore) {
		assert.IsType(t, &knowledge.MemoryVectorStore{}, store)

		result, err := ingest.Ingest(context.Background(), []knowledge.UploadFile{
			{Name: "notes.txt", Data: []byte("The sky is blue. The grass is green."), MimeType: "text/plain"},
		}, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, result.TotalChunks)

		answer, err := query.Query(context.Background(), "What color is the sky?", "s1", 0)
		require.NoError(t, err)
		assert.Contains(t, answer.Answer, "blue")
	})
	require.NoError(t, err)
}

func TestBuild_OptionalInfraDisabled(t *testing.T) {
	container, _, err := Build(localConfig(), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)

	err = container.Invoke(func(archive services.Archiver, events services.EventPublisher, sessions *services.SessionStore) {
		assert.Nil(t, archive)
		assert.Nil(t, events)
		assert.False(t, sessions.Enabled())
	})
	require.NoError(t, err)
}

func TestCleanup_ReverseOrder(t *testing.T) {
	var order []int
	c := &Cleanup{}
	c.Add(func() error { order = append(order, 1); return nil })
	c.Add(func() error { order = append(order, 2); return errors.New("second") })
	c.Add(func() error { order = append(order, 3); return nil })

	assert.EqualError(t, c.Run(), "second")
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.NoError(t, c.Run())
}

func TestNewBreakers_DisabledByDefault(t *testing.T) {
	cfg := localConfig()
	breakers := NewBreakers(cfg)
	assert.Nil(t, breakers.Embedder)
	assert.Nil(t, breakers.VectorStore)
	assert.Nil(t, breakers.ChatModel)
	assert.Empty(t, breakers.Stats())

	cfg.Breaker = config.BreakerConfig{Enabled: true, FailureThreshold: 3, OpenTimeout: time.Minute}
	breakers = NewBreakers(cfg)
	require.NotNil(t, breakers.Embedder)
	assert.Equal(t, 3, breakers.Embedder.GetStats()["failure_threshold"])
	assert.Equal(t, "closed", breakers.Stats()["chat_model"])
}
