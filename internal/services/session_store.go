package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IngestSummary 会话最近一次入库的摘要
type IngestSummary struct {
	SessionID     string    `json:"sessionId"`
	AcceptedFiles []string  `json:"acceptedFiles"`
	TotalChunks   int       `json:"totalChunks"`
	FailureCount  int       `json:"failureCount"`
	CompletedAt   time.Time `json:"completedAt"`
}

// SessionStore 基于Redis的会话状态与问答缓存；client为nil时全部为空操作。
// 每次入库会递增会话代数，旧代数下的问答缓存自然失效。
type SessionStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	answerTTL time.Duration
	logger    *zap.Logger
}

// NewSessionStore 创建会话存储
func NewSessionStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *SessionStore {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		client:    client,
		prefix:    "docqa:",
		ttl:       ttl,
		answerTTL: 10 * time.Minute,
		logger:    log,
	}
}

// Enabled 是否连接了Redis
func (s *SessionStore) Enabled() bool {
	return s != nil && s.client != nil
}

func (s *SessionStore) statusKey(sessionID string) string {
	return s.prefix + "ingest:" + sessionID
}

func (s *SessionStore) generationKey(sessionID string) string {
	return s.prefix + "gen:" + sessionID
}

func (s *SessionStore) answerKey(sessionID string, generation int64, question string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(question)))
	return fmt.Sprintf("%sanswer:%s:%d:%s", s.prefix, sessionID, generation, hex.EncodeToString(sum[:16]))
}

// RecordIngest 保存入库摘要并递增会话代数
func (s *SessionStore) RecordIngest(ctx context.Context, summary IngestSummary) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.statusKey(summary.SessionID), payload, s.ttl)
	pipe.Incr(ctx, s.generationKey(summary.SessionID))
	pipe.Expire(ctx, s.generationKey(summary.SessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record ingest status: %w", err)
	}
	return nil
}

// LastIngest 读取最近一次入库摘要，不存在时返回nil
func (s *SessionStore) LastIngest(ctx context.Context, sessionID string) (*IngestSummary, error) {
	if !s.Enabled() {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, s.statusKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary IngestSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *SessionStore) generation(ctx context.Context, sessionID string) (int64, error) {
	gen, err := s.client.Get(ctx, s.generationKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// CachedAnswer 查询缓存的回答
func (s *SessionStore) CachedAnswer(ctx context.Context, sessionID, question string) (*Answer, bool) {
	if !s.Enabled() {
		return nil, false
	}
	gen, err := s.generation(ctx, sessionID)
	if err != nil {
		s.logger.Debug("读取会话代数失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	raw, err := s.client.Get(ctx, s.answerKey(sessionID, gen, question)).Bytes()
	if err != nil {
		return nil, false
	}
	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, false
	}
	answer.State = StateAnswered
	return &answer, true
}

// StoreAnswer 缓存成功生成的回答
func (s *SessionStore) StoreAnswer(ctx context.Context, sessionID, question string, answer *Answer) {
	if !s.Enabled() || answer == nil {
		return
	}
	gen, err := s.generation(ctx, sessionID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.answerKey(sessionID, gen, question), payload, s.answerTTL).Err(); err != nil {
		s.logger.Debug("缓存回答失败", zap.String("session_id", sessionID), zap.Error(err))
	}
}
