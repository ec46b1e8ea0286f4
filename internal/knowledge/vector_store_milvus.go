package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

// milvus字段名
const (
	milvusFieldID        = "id"
	milvusFieldSessionID = "session_id"
	milvusFieldFileName  = "file_name"
	milvusFieldChunk     = "chunk"
	milvusFieldContent   = "content"
	milvusFieldVector    = "vector"
)

var milvusFilterFields = map[string]string{
	MetaSessionID: milvusFieldSessionID,
	MetaFileName:  milvusFieldFileName,
}

type milvusVectorStore struct {
	milvusClient client.Client
	vectorSize   int
	distance     string
	log          *zap.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions, log *zap.Logger) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("milvus vector size must be positive")
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		vectorSize:   opts.VectorSize,
		distance:     formatMilvusDistance(opts.Distance),
		log:          log,
		ready:        make(map[string]bool),
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

// milvusCollectionName 集合名只允许字母、数字和下划线
func milvusCollectionName(namespace string) string {
	var builder strings.Builder
	for _, r := range namespace {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			builder.WriteRune(r)
		} else {
			builder.WriteRune('_')
		}
	}
	name := builder.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "ns_" + name
	}
	return name
}

// buildMilvusExpr 将过滤条件转换为布尔表达式
func buildMilvusExpr(filter Filter) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", err
	}
	clauses := make([]string, 0, len(filter))
	for _, key := range filter.sortedKeys() {
		value := strings.ReplaceAll(filter[key], `\`, `\\`)
		value = strings.ReplaceAll(value, `"`, `\"`)
		clauses = append(clauses, fmt.Sprintf(`%s == "%s"`, milvusFilterFields[key], value))
	}
	return strings.Join(clauses, " && "), nil
}

func (s *milvusVectorStore) metricType() entity.MetricType {
	switch s.distance {
	case "IP":
		return entity.IP
	case "L2":
		return entity.L2
	default:
		return entity.COSINE
	}
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[name] {
		return nil
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "document chunk vectors",
			Fields: []*entity.Field{
				{
					Name:       milvusFieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "256"},
				},
				{
					Name:       milvusFieldSessionID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "256"},
				},
				{
					Name:       milvusFieldFileName,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "1024"},
				},
				{
					Name:     milvusFieldChunk,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       milvusFieldContent,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       milvusFieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)},
				},
			},
		}

		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(s.metricType(), 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := s.milvusClient.CreateIndex(ctx, name, milvusFieldVector, index, false); err != nil {
			s.log.Warn("milvus create index failed", zap.String("collection", name), zap.Error(err))
		}
	}

	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	s.ready[name] = true
	return nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.vectorSize); err != nil {
		return err
	}

	name := milvusCollectionName(namespace)
	if err := s.ensureCollection(ctx, name); err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	sessions := make([]string, 0, len(records))
	files := make([]string, 0, len(records))
	ordinals := make([]int64, 0, len(records))
	contents := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		sessions = append(sessions, rec.Metadata.SessionID)
		files = append(files, rec.Metadata.FileName)
		ordinals = append(ordinals, int64(rec.Metadata.Chunk))
		contents = append(contents, rec.Metadata.Text)
		vectors = append(vectors, rec.Vector)
	}

	_, err := s.milvusClient.Upsert(ctx, name, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldSessionID, sessions),
		entity.NewColumnVarChar(milvusFieldFileName, files),
		entity.NewColumnInt64(milvusFieldChunk, ordinals),
		entity.NewColumnVarChar(milvusFieldContent, contents),
		entity.NewColumnFloatVector(milvusFieldVector, s.vectorSize, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		s.log.Warn("milvus flush failed", zap.String("collection", name), zap.Error(err))
	}
	return nil
}

func (s *milvusVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := CheckDimensions(vector, s.vectorSize); err != nil {
		return nil, err
	}
	expr, err := buildMilvusExpr(filter)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	name := milvusCollectionName(namespace)
	if err := s.ensureCollection(ctx, name); err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		name,
		[]string{},
		expr,
		[]string{milvusFieldSessionID, milvusFieldFileName, milvusFieldChunk, milvusFieldContent},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusFieldVector,
		s.metricType(),
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []Match{}, nil
	}

	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []Match{}, nil
	}

	var ids, sessions, files, contents []string
	var ordinals []int64
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}
	for _, field := range result.Fields {
		switch field.Name() {
		case milvusFieldSessionID:
			if col, ok := field.(*entity.ColumnVarChar); ok {
				sessions = col.Data()
			}
		case milvusFieldFileName:
			if col, ok := field.(*entity.ColumnVarChar); ok {
				files = col.Data()
			}
		case milvusFieldContent:
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		case milvusFieldChunk:
			if col, ok := field.(*entity.ColumnInt64); ok {
				ordinals = col.Data()
			}
		}
	}

	matches := make([]Match, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := Match{}
		if i < len(ids) {
			match.ID = ids[i]
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
			if s.distance == "L2" {
				// 距离越小越相近，转换为相似度
				match.Score = 1 / (1 + match.Score)
			}
		}
		if i < len(sessions) {
			match.Metadata.SessionID = sessions[i]
		}
		if i < len(files) {
			match.Metadata.FileName = files[i]
		}
		if i < len(contents) {
			match.Metadata.Text = contents[i]
		}
		if i < len(ordinals) {
			match.Metadata.Chunk = int(ordinals[i])
		}
		matches = append(matches, match)
	}

	sortMatchesByScore(matches)
	return matches, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// Close 关闭客户端连接
func (s *milvusVectorStore) Close() error {
	if s.milvusClient == nil {
		return nil
	}
	return s.milvusClient.Close()
}
