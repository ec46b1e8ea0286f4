package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
)

// fakeStore 可注入失败的向量库
type fakeStore struct {
	*knowledge.MemoryVectorStore
	upsertErr   error
	failFile    string
	queryErr    error
	matches     []knowledge.Match
	queryCalls  int
	lastFilter  knowledge.Filter
	upsertCalls int
}

func newFakeStore(dims int) *fakeStore {
	return &fakeStore{MemoryVectorStore: knowledge.NewMemoryVectorStore(dims)}
}

func (s *fakeStore) Upsert(ctx context.Context, namespace string, records []knowledge.Record) error {
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if s.failFile == "" {
		return s.MemoryVectorStore.Upsert(ctx, namespace, records)
	}
	var kept []knowledge.Record
	partial := &knowledge.PartialUpsertError{Failed: map[string]string{}}
	for _, rec := range records {
		if rec.Metadata.FileName == s.failFile {
			partial.Failed[rec.ID] = "rejected by store"
			continue
		}
		kept = append(kept, rec)
	}
	if err := s.MemoryVectorStore.Upsert(ctx, namespace, kept); err != nil {
		return err
	}
	return partial
}

func (s *fakeStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter knowledge.Filter) ([]knowledge.Match, error) {
	s.queryCalls++
	s.lastFilter = filter
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.matches != nil {
		return s.matches, nil
	}
	return s.MemoryVectorStore.Query(ctx, namespace, vector, topK, filter)
}

// fakeEmbedder 返回固定向量或错误
type fakeEmbedder struct {
	dims   int
	vector []float32
	err    error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *fakeEmbedder) Dimensions() int { return e.dims }
func (e *fakeEmbedder) Model() string   { return "fake" }
func (e *fakeEmbedder) Ready() bool     { return true }

// fakeChat 记录调用次数
type fakeChat struct {
	mu       sync.Mutex
	calls    int
	reply    string
	err      error
	messages []knowledge.ChatMessage
}

func (c *fakeChat) Complete(ctx context.Context, messages []knowledge.ChatMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.messages = messages
	return c.reply, c.err
}

func (c *fakeChat) Model() string { return "fake-chat" }
func (c *fakeChat) Ready() bool   { return true }

// fakeExtractor 按文件名决定成功或失败
type fakeExtractor struct {
	fail map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, file knowledge.UploadFile) ([]string, error) {
	if err, ok := f.fail[file.Name]; ok {
		return nil, err
	}
	return []string{string(file.Data)}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.IngestCompletedEvent
}

func (p *fakePublisher) PublishIngestCompleted(ctx context.Context, event kafka.IngestCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) Put(ctx context.Context, sessionID, fileName string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := sessionID + "/" + fileName
	a.keys = append(a.keys, key)
	return key, nil
}

var errBoom = errors.New("boom")

func textFile(name, body string) knowledge.UploadFile {
	return knowledge.UploadFile{Name: name, Data: []byte(body), MimeType: "text/plain"}
}

// selectiveEmbedder 对指定前缀的文本失败或阻塞，其余交给内部实现
type selectiveEmbedder struct {
	inner      knowledge.Embedder
	failPrefix string
	slowText   string
}

func (e *selectiveEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failPrefix != "" && strings.HasPrefix(text, e.failPrefix) {
		return nil, errBoom
	}
	if e.slowText != "" && text == e.slowText {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.inner.Embed(ctx, text)
}

func (e *selectiveEmbedder) Dimensions() int { return e.inner.Dimensions() }
func (e *selectiveEmbedder) Model() string   { return e.inner.Model() }
func (e *selectiveEmbedder) Ready() bool     { return true }
