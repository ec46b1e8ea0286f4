package knowledge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func testRecord(id, session, file, text string, vec []float32) Record {
	return Record{
		ID:     id,
		Vector: vec,
		Metadata: RecordMetadata{
			Text:      text,
			SessionID: session,
			FileName:  file,
		},
	}
}

func TestMemoryVectorStore_SessionIsolation(t *testing.T) {
	store := NewMemoryVectorStore(2)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, DefaultNamespace, []Record{
		testRecord("a-1", "A", "a.txt", "alpha", []float32{1, 0}),
		testRecord("b-1", "B", "b.txt", "beta", []float32{1, 0}),
	}))

	matches, err := store.Query(ctx, DefaultNamespace, []float32{1, 0}, 5, SessionFilter("B"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b-1", matches[0].ID)
	assert.Equal(t, "B", matches[0].Metadata.SessionID)

	pooled, err := store.Query(ctx, DefaultNamespace, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, pooled, 2)
}

func TestMemoryVectorStore_RankAndTopK(t *testing.T) {
	store := NewMemoryVectorStore(2)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "ns", []Record{
		testRecord("far", "s", "f", "far", []float32{0, 1}),
		testRecord("near", "s", "f", "near", []float32{1, 0.1}),
		testRecord("mid", "s", "f", "mid", []float32{1, 1}),
	}))

	matches, err := store.Query(ctx, "ns", []float32{1, 0}, 2, SessionFilter("s"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryVectorStore_RejectsDimensionMismatch(t *testing.T) {
	store := NewMemoryVectorStore(3)
	err := store.Upsert(context.Background(), "ns", []Record{testRecord("x", "s", "f", "t", []float32{1, 2})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, store.Len("ns"))

	_, err = store.Query(context.Background(), "ns", []float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{MetaSessionID: "s", MetaFileName: "f"}.Validate())
	assert.Error(t, Filter{"owner": "x"}.Validate())
}

func TestBuildMilvusExpr(t *testing.T) {
	expr, err := buildMilvusExpr(SessionFilter(`s"1`))
	require.NoError(t, err)
	assert.Equal(t, `session_id == "s\"1"`, expr)

	expr, err = buildMilvusExpr(Filter{MetaSessionID: "s", MetaFileName: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, `file_name == "a.pdf" && session_id == "s"`, expr)

	expr, err = buildMilvusExpr(nil)
	require.NoError(t, err)
	assert.Equal(t, "", expr)

	assert.Equal(t, "uploaded_docs", milvusCollectionName("uploaded-docs"))
	assert.Equal(t, "ns_1abc", milvusCollectionName("1abc"))
}

func TestQdrantVectorStore_UpsertAndQuery(t *testing.T) {
	var searchBody map[string]interface{}
	var upserted []interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/uploaded-docs":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"result":{}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/uploaded-docs/points":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			upserted = body["points"].([]interface{})
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/uploaded-docs/points/search":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))
			_, _ = w.Write([]byte(`{"result":[
				{"id":"u1","score":0.42,"payload":{"chunk_id":"a.txt-0-x","text":"low","sessionId":"s1","fileName":"a.txt","chunk":0}},
				{"id":"u2","score":0.91,"payload":{"chunk_id":"a.txt-1-y","text":"high","sessionId":"s1","fileName":"a.txt","chunk":1}}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store, err := NewQdrantVectorStore(QdrantOptions{Endpoint: server.URL, APIKey: "secret", VectorSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, DefaultNamespace, []Record{testRecord("a.txt-0-x", "s1", "a.txt", "low", []float32{1, 0})}))
	require.Len(t, upserted, 1)
	point := upserted[0].(map[string]interface{})
	assert.Equal(t, qdrantPointID("a.txt-0-x"), point["id"])

	matches, err := store.Query(ctx, DefaultNamespace, []float32{1, 0}, 5, SessionFilter("s1"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.txt-1-y", matches[0].ID)
	assert.Equal(t, "high", matches[0].Metadata.Text)

	filter := searchBody["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	clause := must[0].(map[string]interface{})
	assert.Equal(t, "sessionId", clause["key"])
	assert.Equal(t, "s1", clause["match"].(map[string]interface{})["value"])
}

func elasticHandler(t *testing.T, bulkResponse string, searchBody *map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/uploaded-docs":
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			raw, _ := io.ReadAll(r.Body)
			assert.Equal(t, 4, strings.Count(string(raw), "\n"))
			_, _ = w.Write([]byte(bulkResponse))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			if searchBody != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(searchBody))
			}
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_id":"c1","_score":0.7,"_source":{"text":"first","sessionId":"s1","fileName":"a.txt","chunk":0}},
				{"_id":"c2","_score":0.9,"_source":{"text":"second","sessionId":"s1","fileName":"b.txt","chunk":1}}
			]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}
}

func TestElasticVectorStore_UpsertAndQuery(t *testing.T) {
	var searchBody map[string]interface{}
	server := httptest.NewServer(elasticHandler(t, `{"errors":false,"items":[]}`, &searchBody))
	defer server.Close()

	store, err := NewElasticVectorStore(ElasticOptions{Addresses: []string{server.URL}, VectorSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, DefaultNamespace, []Record{
		testRecord("c1", "s1", "a.txt", "first", []float32{1, 0}),
		testRecord("c2", "s1", "b.txt", "second", []float32{0, 1}),
	}))

	matches, err := store.Query(ctx, DefaultNamespace, []float32{1, 0}, 3, SessionFilter("s1"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c2", matches[0].ID)
	assert.Equal(t, "b.txt", matches[0].Metadata.FileName)

	knn := searchBody["knn"].(map[string]interface{})
	assert.Equal(t, float64(3), knn["k"])
	assert.Contains(t, knn, "filter")
}

func TestElasticVectorStore_PartialUpsert(t *testing.T) {
	bulk := `{"errors":true,"items":[
		{"index":{"_id":"c1","status":201}},
		{"index":{"_id":"c2","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}
	]}`
	server := httptest.NewServer(elasticHandler(t, bulk, nil))
	defer server.Close()

	store, err := NewElasticVectorStore(ElasticOptions{Addresses: []string{server.URL}, VectorSize: 2})
	require.NoError(t, err)

	err = store.Upsert(context.Background(), DefaultNamespace, []Record{
		testRecord("c1", "s1", "a.txt", "first", []float32{1, 0}),
		testRecord("c2", "s1", "a.txt", "second", []float32{0, 1}),
	})
	var partial *PartialUpsertError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, map[string]string{"c2": "mapper_parsing_exception: bad vector"}, partial.Failed)
}

func TestDatabaseVectorStore_Query(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "namespace", "session_id", "file_name", "chunk", "content", "embedding", "created_at"}).
		AddRow("c1", DefaultNamespace, "s1", "a.txt", 0, "orthogonal", "[0,1]", time.Now()).
		AddRow("c2", DefaultNamespace, "s1", "a.txt", 1, "aligned", "[1,0]", time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM "rag_vectors" WHERE (.+)`).WillReturnRows(rows)

	store := NewDatabaseVectorStore(gdb, 2, 0)
	matches, err := store.Query(context.Background(), DefaultNamespace, []float32{1, 0}, 5, SessionFilter("s1"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c2", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "aligned", matches[0].Metadata.Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}
