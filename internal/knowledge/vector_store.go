package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultNamespace 所有会话共享的命名空间，隔离仅依赖sessionId过滤
const DefaultNamespace = "uploaded-docs"

// 元数据键
const (
	MetaSessionID = "sessionId"
	MetaFileName  = "fileName"
)

// RecordMetadata 向量附带的元数据
type RecordMetadata struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	Chunk     int    `json:"chunk"`
}

// Record 待写入的向量记录
type Record struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

// Match 检索结果
type Match struct {
	ID       string
	Score    float64
	Metadata RecordMetadata
}

// Filter 元数据精确匹配过滤，仅支持 sessionId 与 fileName
type Filter map[string]string

// SessionFilter 按会话过滤
func SessionFilter(sessionID string) Filter {
	return Filter{MetaSessionID: sessionID}
}

// Validate 校验过滤键
func (f Filter) Validate() error {
	for key := range f {
		if key != MetaSessionID && key != MetaFileName {
			return fmt.Errorf("unsupported filter key: %s", key)
		}
	}
	return nil
}

// Matches 判断元数据是否满足过滤条件
func (f Filter) Matches(meta RecordMetadata) bool {
	for key, value := range f {
		switch key {
		case MetaSessionID:
			if meta.SessionID != value {
				return false
			}
		case MetaFileName:
			if meta.FileName != value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// sortedKeys 保证生成的过滤表达式稳定
func (f Filter) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// PartialUpsertError 存储仅部分写入成功
type PartialUpsertError struct {
	Failed map[string]string
}

func (e *PartialUpsertError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%d records failed to upsert: %s", len(ids), strings.Join(ids, ","))
}

// VectorStore 向量存储抽象
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error)
	Ready() bool
}

// validateRecords 写入前统一校验维度
func validateRecords(records []Record, dims int) error {
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record id is empty")
		}
		if err := CheckDimensions(rec.Vector, dims); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func sortMatchesByScore(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}
