package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

type qdrantVectorStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	vectorSize int
	distance   string

	mu    sync.Mutex
	ready map[string]bool
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(opts QdrantOptions) (VectorStore, error) {
	scheme := "http"
	if opts.UseTLS {
		scheme = "https"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("qdrant vector size must be positive")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &qdrantVectorStore{
		client:     httpClient,
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		vectorSize: opts.VectorSize,
		distance:   formatQdrantDistance(opts.Distance),
		ready:      make(map[string]bool),
	}, nil
}

func formatQdrantDistance(value string) string {
	switch strings.ToLower(value) {
	case "dot", "dotproduct", "ip":
		return "Dot"
	case "euclid", "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}

// qdrantPointID Qdrant只接受无符号整数或UUID作为点ID
func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// buildQdrantFilter 生成 must/match 过滤条件
func buildQdrantFilter(filter Filter) (map[string]interface{}, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for _, key := range filter.sortedKeys() {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": filter[key]},
		})
	}
	return map[string]interface{}{"must": must}, nil
}

func (s *qdrantVectorStore) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[name] {
		return nil
	}

	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		s.ready[name] = true
		return nil
	}
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": s.distance,
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s failed: %s", name, resp.Status)
	}

	// 会话过滤字段建立keyword索引
	for _, field := range []string{MetaSessionID, MetaFileName} {
		indexResp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index?wait=true", name), map[string]interface{}{
			"field_name":   field,
			"field_schema": "keyword",
		})
		if err != nil {
			return err
		}
		indexResp.Body.Close()
	}

	s.ready[name] = true
	return nil
}

func (s *qdrantVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.vectorSize); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	points := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		points = append(points, map[string]interface{}{
			"id":     qdrantPointID(rec.ID),
			"vector": rec.Vector,
			"payload": map[string]interface{}{
				"chunk_id":    rec.ID,
				"text":        rec.Metadata.Text,
				MetaSessionID: rec.Metadata.SessionID,
				MetaFileName:  rec.Metadata.FileName,
				"chunk":       rec.Metadata.Chunk,
			},
		})
	}

	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", namespace), map[string]interface{}{
		"points": points,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(body))
	}
	return nil
}

func (s *qdrantVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := CheckDimensions(vector, s.vectorSize); err != nil {
		return nil, err
	}
	qfilter, err := buildQdrantFilter(filter)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if qfilter != nil {
		body["filter"] = qfilter
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", namespace), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{} `json:"id"`
			Score   float64     `json:"score"`
			Payload struct {
				ChunkID   string `json:"chunk_id"`
				Text      string `json:"text"`
				SessionID string `json:"sessionId"`
				FileName  string `json:"fileName"`
				Chunk     int    `json:"chunk"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		id := item.Payload.ChunkID
		if id == "" {
			id = fmt.Sprintf("%v", item.ID)
		}
		matches = append(matches, Match{
			ID:    id,
			Score: item.Score,
			Metadata: RecordMetadata{
				Text:      item.Payload.Text,
				SessionID: item.Payload.SessionID,
				FileName:  item.Payload.FileName,
				Chunk:     item.Payload.Chunk,
			},
		})
	}

	sortMatchesByScore(matches)
	return matches, nil
}

func (s *qdrantVectorStore) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := s.doRequest(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
