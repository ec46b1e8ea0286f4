package knowledge

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryVectorStore 进程内向量存储，用于本地运行和测试
type MemoryVectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
	dimensions int
}

// NewMemoryVectorStore dimensions<=0时不校验维度
func NewMemoryVectorStore(dimensions int) *MemoryVectorStore {
	return &MemoryVectorStore{
		namespaces: make(map[string]map[string]Record),
		dimensions: dimensions,
	}
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecords(records, s.dimensions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		s.namespaces[namespace] = ns
	}
	for _, rec := range records {
		rec.Vector = cloneVector(rec.Vector)
		ns[rec.ID] = rec
	}
	return nil
}

func (s *MemoryVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := CheckDimensions(vector, s.dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	queryNorm := vectorNorm(vector)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Match, 0, topK)
	for _, rec := range s.namespaces[namespace] {
		if !filter.Matches(rec.Metadata) {
			continue
		}
		results = append(results, Match{
			ID:       rec.ID,
			Score:    cosineSimilarity(vector, rec.Vector, queryNorm),
			Metadata: rec.Metadata,
		})
	}

	sortMatchesByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len 返回命名空间内的记录数
func (s *MemoryVectorStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * math.Sqrt(normB))
}
