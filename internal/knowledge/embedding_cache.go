package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheOptions 向量缓存配置
type CacheOptions struct {
	Prefix    string
	TTL       time.Duration
	LocalSize int
}

// cachedEmbedding Redis中的缓存结构
type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// CachedEmbedder 两级缓存：进程内LRU + Redis
type CachedEmbedder struct {
	next   Embedder
	redis  *redis.Client
	local  *expirable.LRU[string, []float32]
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewCachedEmbedder 包装Embedder，redisClient可为nil
func NewCachedEmbedder(next Embedder, redisClient *redis.Client, opts CacheOptions, log *zap.Logger) *CachedEmbedder {
	if opts.Prefix == "" {
		opts.Prefix = "emb:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedEmbedder{
		next:   next,
		redis:  redisClient,
		local:  expirable.NewLRU[string, []float32](opts.LocalSize, nil, opts.TTL),
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		log:    log,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.makeKey(text)

	if vec, ok := c.local.Get(key); ok {
		return cloneVector(vec), nil
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil && CheckDimensions(cached.Vector, c.next.Dimensions()) == nil {
				c.local.Add(key, cached.Vector)
				return cloneVector(cached.Vector), nil
			}
		} else if err != redis.Nil {
			c.log.Debug("embedding cache read failed", zap.Error(err))
		}
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.local.Add(key, cloneVector(vec))

	if c.redis != nil {
		payload, err := json.Marshal(cachedEmbedding{Vector: vec, Model: c.next.Model(), CreatedAt: time.Now()})
		if err == nil {
			if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
				c.log.Debug("embedding cache write failed", zap.Error(err))
			}
		}
	}
	return vec, nil
}

func (c *CachedEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

func (c *CachedEmbedder) Ready() bool {
	return c.next.Ready()
}

func (c *CachedEmbedder) makeKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + c.next.Model() + ":" + hex.EncodeToString(hash[:16])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
