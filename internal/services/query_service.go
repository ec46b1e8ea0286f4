package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/metrics"
)

// QueryState 问答请求的处理阶段
type QueryState string

const (
	StateReceived      QueryState = "received"
	StateEmbedded      QueryState = "embedded"
	StateRetrieved     QueryState = "retrieved"
	StateGrounded      QueryState = "grounded"
	StateAnswered      QueryState = "answered"
	StateRejectedInput QueryState = "rejected_input"
	StateNoContext     QueryState = "no_context"
)

// 问答固定文案
const (
	MsgMissingQuery  = "Missing query"
	MsgNoContext     = "No relevant context found for this question."
	MsgCannotAnswer  = "Could not generate an answer."
	DefaultTopK      = 5
	contextSeparator = "\n\n"
)

const systemPrompt = "You are a document assistant. Answer the question using only the provided context. " +
	"Respond in the same language as the question. " +
	"If the context does not contain the answer, say that you cannot answer from the uploaded documents."

// Answer 问答结果
type Answer struct {
	Answer    string               `json:"answer"`
	Citations []knowledge.Citation `json:"citations"`
	State     QueryState           `json:"-"`
}

// QueryOptions 问答参数
type QueryOptions struct {
	Namespace       string
	TopK            int
	PooledRetrieval bool
	MaxContextChars int
	Timeouts        Timeouts
}

// QueryDeps 问答依赖；Sessions、Metrics 可为空
type QueryDeps struct {
	Embedder  knowledge.Embedder
	Store     knowledge.VectorStore
	ChatModel knowledge.ChatModel
	Breakers  Breakers
	Metrics   *metrics.Metrics
	Sessions  *SessionStore
	Logger    *zap.Logger
}

// QueryService 检索增强问答
type QueryService struct {
	deps QueryDeps
	opts QueryOptions
	log  *zap.Logger
}

// NewQueryService 创建问答服务
func NewQueryService(deps QueryDeps, opts QueryOptions) *QueryService {
	if opts.Namespace == "" {
		opts.Namespace = knowledge.DefaultNamespace
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryService{deps: deps, opts: opts, log: log.Named("query")}
}

// Query 回答一个问题。检索不到上下文时返回固定提示且不调用语言模型；
// 生成失败时返回固定提示、引用以及错误。
func (s *QueryService) Query(ctx context.Context, question, sessionID string, topK int) (*Answer, error) {
	question = strings.TrimSpace(question)
	sessionID = strings.TrimSpace(sessionID)
	if question == "" {
		s.deps.Metrics.QueryState(string(StateRejectedInput))
		return &Answer{State: StateRejectedInput}, apperrors.NewValidationError(MsgMissingQuery)
	}
	if sessionID == "" && !s.opts.PooledRetrieval {
		s.deps.Metrics.QueryState(string(StateRejectedInput))
		return &Answer{State: StateRejectedInput}, apperrors.NewValidationError(MsgMissingSession)
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	// 共享检索的结果受其他会话入库影响，会话级缓存无法失效，不使用
	useCache := sessionID != "" && !s.opts.PooledRetrieval
	if useCache {
		if cached, ok := s.deps.Sessions.CachedAnswer(ctx, sessionID, question); ok {
			s.deps.Metrics.QueryState(string(StateAnswered))
			return cached, nil
		}
	}

	vector, err := s.embed(ctx, question)
	if err != nil {
		s.log.Error("问题向量化失败", zap.String("session_id", sessionID), zap.Error(err))
		if errors.Is(err, knowledge.ErrDimensionMismatch) {
			return &Answer{State: StateReceived}, apperrors.NewDimensionMismatchError(err)
		}
		return &Answer{State: StateReceived}, apperrors.NewEmbeddingError(err)
	}

	matches, err := s.retrieve(ctx, vector, topK, sessionID)
	if err != nil {
		s.log.Error("向量检索失败", zap.String("session_id", sessionID), zap.Error(err))
		return &Answer{State: StateEmbedded}, apperrors.NewGenerationError(err)
	}

	citations := buildCitations(matches)
	if len(citations) == 0 {
		s.deps.Metrics.QueryState(string(StateNoContext))
		return &Answer{Answer: MsgNoContext, Citations: []knowledge.Citation{}, State: StateNoContext}, nil
	}

	contextText := s.buildContext(citations)
	messages := []knowledge.ChatMessage{
		{Role: knowledge.RoleSystem, Content: systemPrompt},
		{Role: knowledge.RoleUser, Content: "Context:\n" + contextText + "\n\nQuestion: " + question},
	}

	text, err := s.generate(ctx, messages)
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = errors.New("empty completion")
		}
		s.log.Error("回答生成失败",
			zap.String("session_id", sessionID),
			zap.Int("citations", len(citations)),
			zap.Error(err))
		s.deps.Metrics.QueryState(string(StateGrounded))
		return &Answer{Answer: MsgCannotAnswer, Citations: citations, State: StateGrounded}, apperrors.NewGenerationError(err)
	}

	answer := &Answer{Answer: strings.TrimSpace(text), Citations: citations, State: StateAnswered}
	s.deps.Metrics.QueryState(string(StateAnswered))
	if useCache {
		s.deps.Sessions.StoreAnswer(ctx, sessionID, question, answer)
	}
	return answer, nil
}

func (s *QueryService) embed(ctx context.Context, question string) ([]float32, error) {
	var vector []float32
	start := time.Now()
	err := s.deps.Breakers.Embedder.Execute(ctx, func(ctx context.Context) error {
		embedCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Embed)
		defer cancel()
		v, err := s.deps.Embedder.Embed(embedCtx, question)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	s.deps.Metrics.ObserveStage(metrics.StageEmbed, start)
	if err != nil {
		return nil, err
	}
	if err := knowledge.CheckDimensions(vector, s.deps.Embedder.Dimensions()); err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *QueryService) retrieve(ctx context.Context, vector []float32, topK int, sessionID string) ([]knowledge.Match, error) {
	// 共享检索模式下不按会话过滤
	var filter knowledge.Filter
	if !s.opts.PooledRetrieval {
		filter = knowledge.SessionFilter(sessionID)
	}

	var matches []knowledge.Match
	start := time.Now()
	err := s.deps.Breakers.VectorStore.Execute(ctx, func(ctx context.Context) error {
		storeCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Store)
		defer cancel()
		m, err := s.deps.Store.Query(storeCtx, s.opts.Namespace, vector, topK, filter)
		if err != nil {
			return err
		}
		matches = m
		return nil
	})
	s.deps.Metrics.ObserveStage(metrics.StageRetrieve, start)
	return matches, err
}

func (s *QueryService) generate(ctx context.Context, messages []knowledge.ChatMessage) (string, error) {
	var text string
	start := time.Now()
	err := s.deps.Breakers.ChatModel.Execute(ctx, func(ctx context.Context) error {
		genCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Generate)
		defer cancel()
		out, err := s.deps.ChatModel.Complete(genCtx, messages)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	s.deps.Metrics.ObserveStage(metrics.StageGenerate, start)
	return text, err
}

// buildCitations 去掉空文本和重复片段，按分数降序
func buildCitations(matches []knowledge.Match) []knowledge.Citation {
	seenIDs := make(map[string]struct{}, len(matches))
	seenText := make(map[string]int, len(matches))
	citations := make([]knowledge.Citation, 0, len(matches))

	for _, m := range matches {
		text := m.Metadata.Text
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, dup := seenIDs[m.ID]; dup && m.ID != "" {
			continue
		}
		seenIDs[m.ID] = struct{}{}

		if idx, dup := seenText[text]; dup {
			if m.Score > citations[idx].Score {
				citations[idx].Score = m.Score
				citations[idx].FileName = m.Metadata.FileName
			}
			continue
		}
		seenText[text] = len(citations)
		citations = append(citations, knowledge.Citation{
			Text:     text,
			FileName: m.Metadata.FileName,
			Score:    m.Score,
		})
	}

	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Score > citations[j].Score
	})
	return citations
}

// buildContext 按排名拼接片段直到达到字符上限；第一个片段总会保留
func (s *QueryService) buildContext(citations []knowledge.Citation) string {
	limit := s.opts.MaxContextChars
	parts := make([]string, 0, len(citations))
	used := 0
	for i, c := range citations {
		n := utf8.RuneCountInString(c.Text)
		if limit > 0 {
			if i > 0 {
				n += utf8.RuneCountInString(contextSeparator)
			}
			if used+n > limit {
				if i == 0 {
					parts = append(parts, string([]rune(c.Text)[:limit]))
				}
				break
			}
		}
		parts = append(parts, c.Text)
		used += n
	}
	return strings.Join(parts, contextSeparator)
}
