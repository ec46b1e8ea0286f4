package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder 记录调用次数
type countingEmbedder struct {
	inner Embedder
	calls int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Embed(ctx, text)
}
func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) Model() string   { return c.inner.Model() }
func (c *countingEmbedder) Ready() bool     { return c.inner.Ready() }

func TestNewOpenAIEmbedder_NoKey(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIOptions{})
	assert.False(t, e.Ready())
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{APIKey: "test-key", BaseURL: server.URL, Model: "text-embedding-3-small", Dimensions: 3})
	vec, err := e.Embed(context.Background(), "The sky is blue.")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, e.Dimensions())
}

func TestOpenAIEmbedder_SendsConfiguredDimensions(t *testing.T) {
	var bodies []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		dims := 1536
		if d, ok := body["dimensions"].(float64); ok {
			dims = int(d)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": make([]float32, dims)},
			},
		})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: server.URL, Model: "text-embedding-3-small", Dimensions: 512})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 512)
	assert.Equal(t, 512, e.Dimensions())

	e = NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: server.URL, Model: "text-embedding-3-small"})
	vec, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)

	require.Len(t, bodies, 2)
	assert.Equal(t, float64(512), bodies[0]["dimensions"])
	assert.NotContains(t, bodies[1], "dimensions")
}

func TestOpenAIEmbedder_RejectsWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: server.URL, Dimensions: 3})
	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDimensionsForModel(t *testing.T) {
	assert.Equal(t, 1536, DimensionsForModel("text-embedding-3-small"))
	assert.Equal(t, 3072, DimensionsForModel("text-embedding-3-large"))
	assert.Equal(t, 0, DimensionsForModel("unknown"))
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed(context.Background(), "The sky is blue.")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the SKY is blue")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)

	_, err = e.Embed(context.Background(), "  ... ")
	assert.Error(t, err)
}

func TestCachedEmbedder_LocalHit(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashingEmbedder(32)}
	cached := NewCachedEmbedder(inner, nil, CacheOptions{}, nil)

	first, err := cached.Embed(context.Background(), "cache me")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "cache me")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 32, cached.Dimensions())
}

func TestRateLimitedEmbedder_Passthrough(t *testing.T) {
	inner := NewHashingEmbedder(8)
	assert.Same(t, Embedder(inner), NewRateLimitedEmbedder(inner, 0, 0))

	limited := NewRateLimitedEmbedder(inner, 1000, 10)
	vec, err := limited.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestCachedEmbedder_RedisSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingEmbedder{inner: NewHashingEmbedder(16)}
	first := NewCachedEmbedder(inner, client, CacheOptions{TTL: time.Hour}, nil)
	want, err := first.Embed(context.Background(), "shared text")
	require.NoError(t, err)

	key := first.makeKey("shared text")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	// 新实例的进程内缓存为空，只能命中Redis
	second := NewCachedEmbedder(inner, client, CacheOptions{TTL: time.Hour}, nil)
	got, err := second.Embed(context.Background(), "shared text")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestCachedEmbedder_RejectsCachedVectorWithWrongDimension(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingEmbedder{inner: NewHashingEmbedder(16)}
	cached := NewCachedEmbedder(inner, client, CacheOptions{}, nil)

	key := cached.makeKey("stale")
	stale, err := json.Marshal(cachedEmbedding{Vector: []float32{1, 2, 3}, Model: inner.Model()})
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, string(stale)))

	vec, err := cached.Embed(context.Background(), "stale")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	raw, err := mr.Get(key)
	require.NoError(t, err)
	var refreshed cachedEmbedding
	require.NoError(t, json.Unmarshal([]byte(raw), &refreshed))
	assert.Len(t, refreshed.Vector, 16)
}
