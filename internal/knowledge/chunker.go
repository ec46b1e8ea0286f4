package knowledge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultChunkSize 默认分块长度（字符数）
const DefaultChunkSize = 1000

// Chunk 表示分块后的文本结构
type Chunk struct {
	ID        string
	Index     int
	Text      string
	SessionID string
	FileName  string
}

// Chunker 文本分块器
// 按字符数切分，不做空白归一化，overlap为0时各块拼接后与原文完全一致
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// Size 返回分块长度
func (c *Chunker) Size() int {
	return c.chunkSize
}

// Overlap 返回重叠长度
func (c *Chunker) Overlap() int {
	return c.chunkOverlap
}

// Split 将文本切分为多个连续片段
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return []string{}
	}

	bounds := runeBounds(text)
	n := len(bounds) - 1
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = c.chunkSize
	}

	chunks := make([]string, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, text[bounds[start]:bounds[end]])
		if end == n {
			break
		}
	}

	return chunks
}

// runeBounds 返回每个字符的起始字节偏移，末尾追加len(text)。
// 非法UTF-8字节按单个字符计，切片取自原文字节
func runeBounds(text string) []int {
	bounds := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		bounds = append(bounds, i)
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return append(bounds, len(text))
}

// SplitFile 切分单个文件的文本并打上会话和文件标签，ordinal从startIndex开始连续编号
func (c *Chunker) SplitFile(text, sessionID, fileName string, startIndex int) []Chunk {
	parts := c.Split(text)
	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		ordinal := startIndex + i
		chunks = append(chunks, Chunk{
			ID:        NewChunkID(fileName, ordinal),
			Index:     ordinal,
			Text:      part,
			SessionID: sessionID,
			FileName:  fileName,
		})
	}
	return chunks
}

// SplitText 无重叠切分
func SplitText(text string, maxChunkSize int) []string {
	return NewChunker(maxChunkSize, 0).Split(text)
}

// NewChunkID 由文件名、序号和随机后缀组成，避免并发导入时冲突
func NewChunkID(fileName string, ordinal int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", slugFileName(fileName), ordinal, suffix)
}

func slugFileName(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	slug := strings.Trim(builder.String(), "_")
	if slug == "" {
		return "chunk"
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug
}
