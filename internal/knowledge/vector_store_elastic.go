package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticOptions Elasticsearch配置
type ElasticOptions struct {
	Addresses  []string
	Username   string
	Password   string
	APIKey     string
	VectorSize int
	Transport  http.RoundTripper
}

// ElasticVectorStore 基于dense_vector的kNN检索
type ElasticVectorStore struct {
	client     *elasticsearch.Client
	vectorSize int

	mu         sync.Mutex
	indexCache map[string]bool
}

// NewElasticVectorStore 创建ES向量存储
func NewElasticVectorStore(opts ElasticOptions) (*ElasticVectorStore, error) {
	if len(opts.Addresses) == 0 {
		opts.Addresses = []string{"http://localhost:9200"}
	}
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("elasticsearch vector size must be positive")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
		Transport: opts.Transport,
	})
	if err != nil {
		return nil, err
	}

	return &ElasticVectorStore{
		client:     client,
		vectorSize: opts.VectorSize,
		indexCache: make(map[string]bool),
	}, nil
}

// elasticIndexName ES索引名必须小写
func elasticIndexName(namespace string) string {
	return strings.ToLower(namespace)
}

func (e *ElasticVectorStore) ensureIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexCache[name] {
		return nil
	}

	resp, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		e.indexCache[name] = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"text":        map[string]interface{}{"type": "text"},
				MetaSessionID: map[string]interface{}{"type": "keyword"},
				MetaFileName:  map[string]interface{}{"type": "keyword"},
				"chunk":       map[string]interface{}{"type": "integer"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       e.vectorSize,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createResp, err := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.indexCache[name] = true
	return nil
}

type elasticDoc struct {
	Text      string    `json:"text"`
	SessionID string    `json:"sessionId"`
	FileName  string    `json:"fileName"`
	Chunk     int       `json:"chunk"`
	Vector    []float32 `json:"vector,omitempty"`
}

// Upsert 使用_bulk写入，逐条失败时返回PartialUpsertError
func (e *ElasticVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, e.vectorSize); err != nil {
		return err
	}

	name := elasticIndexName(namespace)
	if err := e.ensureIndex(ctx, name); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(map[string]interface{}{"index": map[string]interface{}{"_id": rec.ID}}); err != nil {
			return err
		}
		if err := enc.Encode(elasticDoc{
			Text:      rec.Metadata.Text,
			SessionID: rec.Metadata.SessionID,
			FileName:  rec.Metadata.FileName,
			Chunk:     rec.Metadata.Chunk,
			Vector:    rec.Vector,
		}); err != nil {
			return err
		}
	}

	resp, err := esapi.BulkRequest{
		Index:   name,
		Body:    &buf,
		Refresh: "true",
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("bulk upsert error: %s", resp.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !bulkResp.Errors {
		return nil
	}

	failed := make(map[string]string)
	for _, item := range bulkResp.Items {
		for _, result := range item {
			if result.Error != nil || result.Status >= 300 {
				reason := fmt.Sprintf("status %d", result.Status)
				if result.Error != nil {
					reason = result.Error.Type + ": " + result.Error.Reason
				}
				failed[result.ID] = reason
			}
		}
	}
	if len(failed) == len(records) {
		return fmt.Errorf("bulk upsert rejected every record")
	}
	if len(failed) > 0 {
		return &PartialUpsertError{Failed: failed}
	}
	return nil
}

func (e *ElasticVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := CheckDimensions(vector, e.vectorSize); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	name := elasticIndexName(namespace)
	if err := e.ensureIndex(ctx, name); err != nil {
		return nil, err
	}

	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": numCandidates,
	}
	if len(filter) > 0 {
		terms := make([]interface{}, 0, len(filter))
		for _, key := range filter.sortedKeys() {
			terms = append(terms, map[string]interface{}{
				"term": map[string]interface{}{key: filter[key]},
			})
		}
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": terms},
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": []string{"text", MetaSessionID, MetaFileName, "chunk"},
	})

	resp, err := esapi.SearchRequest{
		Index: []string{name},
		Body:  bytes.NewReader(payload),
	}.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string     `json:"_id"`
				Score  float64    `json:"_score"`
				Source elasticDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		matches = append(matches, Match{
			ID:    hit.ID,
			Score: hit.Score,
			Metadata: RecordMetadata{
				Text:      hit.Source.Text,
				SessionID: hit.Source.SessionID,
				FileName:  hit.Source.FileName,
				Chunk:     hit.Source.Chunk,
			},
		})
	}

	sortMatchesByScore(matches)
	return matches, nil
}

func (e *ElasticVectorStore) Ready() bool {
	if e.client == nil {
		return false
	}
	resp, err := e.client.Ping()
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return !resp.IsError()
}
