package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VectorRow 向量表结构
type VectorRow struct {
	ID        string `gorm:"primaryKey;size:256"`
	Namespace string `gorm:"size:128;index:idx_vectors_scope,priority:1"`
	SessionID string `gorm:"size:256;index:idx_vectors_scope,priority:2"`
	FileName  string `gorm:"size:1024"`
	Chunk     int
	Content   string `gorm:"type:text"`
	Embedding string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName 表名
func (VectorRow) TableName() string {
	return "rag_vectors"
}

// DatabaseVectorStore 基于PostgreSQL的退化向量存储，相似度在进程内计算
type DatabaseVectorStore struct {
	db             *gorm.DB
	dimensions     int
	candidateLimit int
}

// NewDatabaseVectorStore 创建数据库向量存储
func NewDatabaseVectorStore(db *gorm.DB, dimensions, candidateLimit int) *DatabaseVectorStore {
	if candidateLimit <= 0 {
		candidateLimit = 2000
	}
	return &DatabaseVectorStore{db: db, dimensions: dimensions, candidateLimit: candidateLimit}
}

// AutoMigrate 建表
func (s *DatabaseVectorStore) AutoMigrate() error {
	return s.db.AutoMigrate(&VectorRow{})
}

func (s *DatabaseVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.dimensions); err != nil {
		return err
	}

	rows := make([]VectorRow, 0, len(records))
	for _, rec := range records {
		embeddingJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return err
		}
		rows = append(rows, VectorRow{
			ID:        rec.ID,
			Namespace: namespace,
			SessionID: rec.Metadata.SessionID,
			FileName:  rec.Metadata.FileName,
			Chunk:     rec.Metadata.Chunk,
			Content:   rec.Metadata.Text,
			Embedding: string(embeddingJSON),
		})
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
}

func (s *DatabaseVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := CheckDimensions(vector, s.dimensions); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	queryNorm := vectorNorm(vector)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	tx := s.db.WithContext(ctx).Model(&VectorRow{}).Where("namespace = ?", namespace)
	if sessionID, ok := filter[MetaSessionID]; ok {
		tx = tx.Where("session_id = ?", sessionID)
	}
	if fileName, ok := filter[MetaFileName]; ok {
		tx = tx.Where("file_name = ?", fileName)
	}

	var rows []VectorRow
	if err := tx.Limit(s.candidateLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]Match, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			continue
		}
		results = append(results, Match{
			ID:    row.ID,
			Score: cosineSimilarity(vector, embedding, queryNorm),
			Metadata: RecordMetadata{
				Text:      row.Content,
				SessionID: row.SessionID,
				FileName:  row.FileName,
				Chunk:     row.Chunk,
			},
		})
	}

	sortMatchesByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *DatabaseVectorStore) Ready() bool {
	if s.db == nil {
		return false
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}
