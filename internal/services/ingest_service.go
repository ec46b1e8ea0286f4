package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/metrics"
)

// 入库响应中的固定文案
const (
	MsgIngestSucceeded = "Parsed and embedded successfully"
	MsgNoFiles         = "No files uploaded."
	MsgNoContent       = "No content extracted."
	MsgNothingIndexed  = "No chunks were indexed."
	MsgMissingSession  = "Missing sessionId"
)

// FileSeparator 预览文本中文件之间的分隔符
const FileSeparator = "\n\n---\n\n"

// IngestFailure 单个文件或片段的失败记录
type IngestFailure struct {
	FileName string `json:"fileName"`
	ChunkID  string `json:"chunkId,omitempty"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// ExtractedDocument 单个文件提取出的全文
type ExtractedDocument struct {
	FileName string `json:"fileName"`
	Text     string `json:"text"`
}

// IngestResult 入库结果
type IngestResult struct {
	Message       string              `json:"message"`
	SessionID     string              `json:"sessionId"`
	TotalFiles    int                 `json:"totalFiles"`
	AcceptedFiles []string            `json:"acceptedFiles"`
	TotalChunks   int                 `json:"totalChunks"`
	Failures      []IngestFailure     `json:"failures"`
	Documents     []ExtractedDocument `json:"documents,omitempty"`
	Preview       string              `json:"preview,omitempty"`
}

// Archiver 原始文件归档
type Archiver interface {
	Put(ctx context.Context, sessionID, fileName string, data []byte, contentType string) (string, error)
}

// EventPublisher 入库事件发布
type EventPublisher interface {
	PublishIngestCompleted(ctx context.Context, event kafka.IngestCompletedEvent) error
}

// Timeouts 每次远程调用的超时
type Timeouts struct {
	Extract  time.Duration
	Embed    time.Duration
	Store    time.Duration
	Generate time.Duration
}

// IngestOptions 入库参数
type IngestOptions struct {
	Namespace           string
	MaxParallelFiles    int
	EmbedConcurrency    int
	ReturnExtractedText bool
	Timeouts            Timeouts
}

// IngestDeps 入库依赖；Archive、Events、Sessions、Metrics 可为空
type IngestDeps struct {
	Extractor knowledge.TextExtractor
	Chunker   *knowledge.Chunker
	Embedder  knowledge.Embedder
	Store     knowledge.VectorStore
	Breakers  Breakers
	Metrics   *metrics.Metrics
	Archive   Archiver
	Events    EventPublisher
	Sessions  *SessionStore
	Logger    *zap.Logger
}

// IngestService 文件入库编排：提取、分块、向量化、写入向量库
type IngestService struct {
	deps IngestDeps
	opts IngestOptions
	log  *zap.Logger
}

// NewIngestService 创建入库服务
func NewIngestService(deps IngestDeps, opts IngestOptions) *IngestService {
	if deps.Chunker == nil {
		deps.Chunker = knowledge.NewChunker(knowledge.DefaultChunkSize, 0)
	}
	if opts.Namespace == "" {
		opts.Namespace = knowledge.DefaultNamespace
	}
	if opts.MaxParallelFiles <= 0 {
		opts.MaxParallelFiles = 1
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 1
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{deps: deps, opts: opts, log: log.Named("ingest")}
}

type extraction struct {
	text    string
	failure *IngestFailure
}

type embedded struct {
	record  *knowledge.Record
	failure *IngestFailure
}

// Ingest 处理一批文件。单个文件或片段的失败记录在结果中而不返回错误；
// 只有没有任何片段入库或向量库整体写入失败时才返回错误，此时结果仍然有效。
func (s *IngestService) Ingest(ctx context.Context, files []knowledge.UploadFile, sessionID string) (*IngestResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.NewValidationError(MsgMissingSession)
	}
	if len(files) == 0 {
		return nil, apperrors.NewValidationError(MsgNoFiles)
	}

	result := &IngestResult{
		SessionID:     sessionID,
		TotalFiles:    len(files),
		AcceptedFiles: []string{},
		Failures:      []IngestFailure{},
	}

	extracted := s.extractAll(ctx, files, sessionID)

	var chunks []knowledge.Chunk
	var texts []string
	for i, file := range files {
		ex := extracted[i]
		if ex.failure != nil {
			result.Failures = append(result.Failures, *ex.failure)
			s.deps.Metrics.IngestFailure(metrics.StageExtract)
			continue
		}
		result.AcceptedFiles = append(result.AcceptedFiles, file.Name)
		texts = append(texts, ex.text)
		if s.opts.ReturnExtractedText {
			result.Documents = append(result.Documents, ExtractedDocument{FileName: file.Name, Text: ex.text})
		}
		// 每个文件单独分块，片段序号在整批内连续
		chunks = append(chunks, s.deps.Chunker.SplitFile(ex.text, sessionID, file.Name, len(chunks))...)
	}
	if s.opts.ReturnExtractedText {
		result.Preview = strings.Join(texts, FileSeparator)
	}

	if len(result.AcceptedFiles) == 0 {
		s.finish(ctx, result, "no_content")
		return result, apperrors.NewNothingIndexedError(MsgNoContent).WithDetails(result.Failures)
	}

	records := s.embedAll(ctx, chunks, result)
	if len(records) == 0 {
		s.finish(ctx, result, "nothing_indexed")
		return result, apperrors.NewNothingIndexedError(MsgNothingIndexed).WithDetails(result.Failures)
	}

	indexed, err := s.upsert(ctx, records, result)
	if err != nil {
		result.TotalChunks = 0
		s.finish(ctx, result, "index_failed")
		return result, apperrors.NewIndexError(err).WithDetails(result.Failures)
	}
	result.TotalChunks = indexed
	if indexed == 0 {
		s.finish(ctx, result, "nothing_indexed")
		return result, apperrors.NewNothingIndexedError(MsgNothingIndexed).WithDetails(result.Failures)
	}

	result.Message = MsgIngestSucceeded
	s.deps.Metrics.ChunksIndexed(indexed)
	s.finish(ctx, result, "ok")
	s.log.Info("入库完成",
		zap.String("session_id", sessionID),
		zap.Int("files", len(files)),
		zap.Int("accepted", len(result.AcceptedFiles)),
		zap.Int("chunks", indexed),
		zap.Int("failures", len(result.Failures)))
	return result, nil
}

// extractAll 并发提取（上限 MaxParallelFiles），单个文件失败互不影响
func (s *IngestService) extractAll(ctx context.Context, files []knowledge.UploadFile, sessionID string) []extraction {
	out := make([]extraction, len(files))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxParallelFiles)
	for i := range files {
		i := i
		g.Go(func() error {
			out[i] = s.extractOne(ctx, files[i], sessionID)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *IngestService) extractOne(ctx context.Context, file knowledge.UploadFile, sessionID string) extraction {
	fail := func(reason string) extraction {
		s.log.Warn("文件提取失败",
			zap.String("session_id", sessionID),
			zap.String("file_name", file.Name),
			zap.String("reason", reason))
		return extraction{failure: &IngestFailure{FileName: file.Name, Stage: metrics.StageExtract, Reason: reason}}
	}

	if err := ctx.Err(); err != nil {
		return fail(err.Error())
	}
	if s.deps.Extractor == nil {
		return fail("no text extractor configured")
	}

	start := time.Now()
	extractCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Extract)
	segments, err := s.deps.Extractor.Extract(extractCtx, file)
	cancel()
	s.deps.Metrics.ObserveStage(metrics.StageExtract, start)
	if err != nil {
		return fail(apperrors.NewExtractionError(file.Name, err).Error())
	}

	text := strings.Join(segments, "")
	if strings.TrimSpace(text) == "" {
		return fail("no text extracted")
	}

	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.Put(ctx, sessionID, file.Name, file.Data, file.MimeType); err != nil {
			s.log.Warn("原文件归档失败", zap.String("file_name", file.Name), zap.Error(err))
		}
	}
	return extraction{text: text}
}

// embedAll 并发向量化（上限 EmbedConcurrency），按片段顺序返回成功的记录
func (s *IngestService) embedAll(ctx context.Context, chunks []knowledge.Chunk, result *IngestResult) []knowledge.Record {
	out := make([]embedded, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.opts.EmbedConcurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			out[i] = s.embedOne(ctx, chunks[i])
			return nil
		})
	}
	_ = g.Wait()

	records := make([]knowledge.Record, 0, len(chunks))
	for _, e := range out {
		if e.failure != nil {
			result.Failures = append(result.Failures, *e.failure)
			s.deps.Metrics.IngestFailure(metrics.StageEmbed)
			continue
		}
		records = append(records, *e.record)
	}
	return records
}

func (s *IngestService) embedOne(ctx context.Context, chunk knowledge.Chunk) embedded {
	fail := func(reason string) embedded {
		s.log.Warn("片段向量化失败",
			zap.String("session_id", chunk.SessionID),
			zap.String("file_name", chunk.FileName),
			zap.String("chunk_id", chunk.ID),
			zap.String("reason", reason))
		return embedded{failure: &IngestFailure{
			FileName: chunk.FileName,
			ChunkID:  chunk.ID,
			Stage:    metrics.StageEmbed,
			Reason:   reason,
		}}
	}

	// 调用方取消后不再发起新的远程调用
	if err := ctx.Err(); err != nil {
		return fail(err.Error())
	}

	// 片段之间互不影响：不经过共享熔断器，超时只算本片段失败
	start := time.Now()
	embedCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Embed)
	vector, err := s.deps.Embedder.Embed(embedCtx, chunk.Text)
	cancel()
	s.deps.Metrics.ObserveStage(metrics.StageEmbed, start)
	if err != nil {
		return fail(err.Error())
	}
	if err := knowledge.CheckDimensions(vector, s.deps.Embedder.Dimensions()); err != nil {
		return fail(apperrors.NewDimensionMismatchError(err).Error())
	}

	return embedded{record: &knowledge.Record{
		ID:     chunk.ID,
		Vector: vector,
		Metadata: knowledge.RecordMetadata{
			Text:      chunk.Text,
			SessionID: chunk.SessionID,
			FileName:  chunk.FileName,
			Chunk:     chunk.Index,
		},
	}}
}

// upsert 单次批量写入；部分失败转为片段失败，其余错误整体失败
func (s *IngestService) upsert(ctx context.Context, records []knowledge.Record, result *IngestResult) (int, error) {
	start := time.Now()
	err := s.deps.Breakers.VectorStore.Execute(ctx, func(ctx context.Context) error {
		storeCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Store)
		defer cancel()
		return s.deps.Store.Upsert(storeCtx, s.opts.Namespace, records)
	})
	s.deps.Metrics.ObserveStage(metrics.StageUpsert, start)
	if err == nil {
		return len(records), nil
	}

	var partial *knowledge.PartialUpsertError
	if !errors.As(err, &partial) {
		s.log.Error("向量库写入失败",
			zap.String("session_id", result.SessionID),
			zap.Int("records", len(records)),
			zap.Error(err))
		return 0, err
	}

	for _, rec := range records {
		reason, failed := partial.Failed[rec.ID]
		if !failed {
			continue
		}
		result.Failures = append(result.Failures, IngestFailure{
			FileName: rec.Metadata.FileName,
			ChunkID:  rec.ID,
			Stage:    metrics.StageUpsert,
			Reason:   reason,
		})
		s.deps.Metrics.IngestFailure(metrics.StageUpsert)
		s.log.Warn("片段写入失败",
			zap.String("session_id", result.SessionID),
			zap.String("file_name", rec.Metadata.FileName),
			zap.String("chunk_id", rec.ID),
			zap.String("reason", reason))
	}
	return len(records) - len(partial.Failed), nil
}

// finish 记录指标、会话状态并发布事件；这些副作用失败只记日志
func (s *IngestService) finish(ctx context.Context, result *IngestResult, outcome string) {
	s.deps.Metrics.IngestOutcome(outcome)

	if s.deps.Sessions != nil {
		summary := IngestSummary{
			SessionID:     result.SessionID,
			AcceptedFiles: result.AcceptedFiles,
			TotalChunks:   result.TotalChunks,
			FailureCount:  len(result.Failures),
			CompletedAt:   time.Now().UTC(),
		}
		if err := s.deps.Sessions.RecordIngest(ctx, summary); err != nil {
			s.log.Warn("记录入库状态失败", zap.String("session_id", result.SessionID), zap.Error(err))
		}
	}

	if s.deps.Events != nil && result.TotalChunks > 0 {
		event := kafka.IngestCompletedEvent{
			SessionID:     result.SessionID,
			AcceptedFiles: result.AcceptedFiles,
			TotalFiles:    result.TotalFiles,
			TotalChunks:   result.TotalChunks,
			FailureCount:  len(result.Failures),
			Namespace:     s.opts.Namespace,
			Timestamp:     time.Now().UTC(),
		}
		if err := s.deps.Events.PublishIngestCompleted(ctx, event); err != nil {
			s.log.Warn("发布入库事件失败", zap.String("session_id", result.SessionID), zap.Error(err))
		}
	}
}

// LastIngest 查询会话最近一次入库摘要
func (s *IngestService) LastIngest(ctx context.Context, sessionID string) (*IngestSummary, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.NewValidationError(MsgMissingSession)
	}
	if s.deps.Sessions == nil || !s.deps.Sessions.Enabled() {
		return nil, nil
	}
	summary, err := s.deps.Sessions.LastIngest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingest status: %w", err)
	}
	return summary, nil
}

// withTimeout d<=0 时不设超时
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
