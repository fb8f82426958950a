package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/queue"
	"github.com/fyrsmithlabs/knowledged/internal/source"
	"github.com/fyrsmithlabs/knowledged/internal/sqlkb"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// stubStore is a minimal vector store for handler tests.
type stubStore struct {
	results []vectorstore.Document
}

func (s *stubStore) CreateCollection(context.Context, string, int) error { return nil }
func (s *stubStore) AddTexts(_ context.Context, _ string, docs []vectorstore.Document, _ [][]float32) ([]string, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.PK
	}
	return ids, nil
}
func (s *stubStore) DeleteByIDs(context.Context, string, []string) error { return nil }
func (s *stubStore) DeleteByMetadataField(context.Context, string, string, any) error {
	return nil
}
func (s *stubStore) UpdateByID(context.Context, string, string, vectorstore.Document, []float32) error {
	return nil
}
func (s *stubStore) SearchByVector(context.Context, string, []float32, int, map[string]any) ([]vectorstore.Document, error) {
	return s.results, nil
}
func (s *stubStore) SearchByFullText(context.Context, string, string, vectorstore.FullTextOptions) ([]vectorstore.Document, error) {
	return s.results, nil
}
func (s *stubStore) MetadataKeyUniqueValues(context.Context, string, string) ([]string, error) {
	return []string{"v"}, nil
}
func (s *stubStore) Drop(context.Context, string) error { return nil }
func (s *stubStore) Close() error                       { return nil }

type testEnv struct {
	server *Server
	store  *stubStore
	mock   sqlmock.Sqlmock
	redis  *miniredis.Miniredis
	files  map[string][]byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	meta := metadata.NewWithDB(sqlx.NewDb(db, "sqlmock"), zap.NewNop())

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.New(client, "", zap.NewNop())

	embSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			data[i] = map[string]any{"embedding": []float64{1, 2, 3}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(embSrv.Close)

	registry := embeddings.NewRegistry(config.EmbeddingsConfig{
		Models: []config.ModelConfig{{
			Name: "remote-model", DisplayName: "Remote", Dimension: 3, Enabled: true, Type: "api",
			APIConfig: &config.APIConfig{URL: embSrv.URL, ResultPath: "data.#.embedding"},
		}},
	}, http.DefaultClient, zap.NewNop())

	env := &testEnv{mock: mock, redis: mr, files: map[string][]byte{}}

	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := env.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(fileSrv.Close)

	sqlStore, err := sqlkb.New(config.SQLStoreConfig{Path: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	env.store = &stubStore{}
	svc := knowledge.NewService(meta, env.store, registry, zap.NewNop())
	env.server = New(config.ServerConfig{Port: 0}, svc, meta, q, registry, sqlStore,
		source.NewDownloader(http.DefaultClient, fileSrv.URL), zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func expectKBRow(mock sqlmock.Sqlmock, id string) {
	rows := sqlmock.NewRows([]string{
		"id", "embedding_model", "dimension", "display_name", "icon_url", "description", "created_at", "updated_at",
	}).AddRow(id, "remote-model", 3, "", "", "", time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, embedding_model").WillReturnRows(rows)
}

func TestHealthAndManifest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/manifest.json", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"namespace":"knowledged"`)
}

func TestEmbeddingModels(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/embedding-models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []struct {
			Name      string `json:"name"`
			Dimension int    `json:"dimension"`
			Enabled   bool   `json:"enabled"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "remote-model", resp.Models[0].Name)
	assert.Equal(t, 3, resp.Models[0].Dimension)
}

func TestCreateKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("INSERT INTO knowledge_bases").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	rec := env.do(t, http.MethodPost, "/knowledge-bases/",
		`{"embeddingModel": "remote-model", "displayName": "docs"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var kb kbResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kb))
	assert.NotEmpty(t, kb.ID)
	assert.Equal(t, 3, kb.Dimension)
	assert.Equal(t, "docs", kb.DisplayName)
}

func TestCreateKnowledgeBaseUnknownModel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/knowledge-bases/",
		`{"embeddingModel": "missing"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Code)
	assert.Contains(t, body.Message, "unknown model")
}

func TestSubmitTaskEnqueues(t *testing.T) {
	env := newTestEnv(t)
	expectKBRow(env.mock, "kb1")
	env.mock.ExpectBegin()
	env.mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	rec := env.do(t, http.MethodPost, "/knowledge-bases/kb1/documents",
		`{"fileURL": "/files/a.txt", "fileName": "a.txt", "splitterType": "custom-segment",
		  "splitterConfig": {"chunk_size": 400, "chunk_overlap": 40, "separator": "\n\n"}}`,
		map[string]string{"x-monkeys-userid": "user-7"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])

	raw, err := env.redis.Lpop(queue.DefaultName)
	require.NoError(t, err)
	var p queue.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, resp["task_id"], p.TaskID)
	assert.Equal(t, "user-7", p.UserID)
	assert.Equal(t, 400, p.ChunkSize)
}

func TestSubmitTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/knowledge-bases/kb1/documents",
		`{"splitterType": "custom-segment"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT id, knowledge_base_id, status").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := env.do(t, http.MethodGet, "/knowledge-bases/kb1/tasks/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Code)
}

func TestVectorSearchResponseShape(t *testing.T) {
	env := newTestEnv(t)
	expectKBRow(env.mock, "kb1")
	env.store.results = []vectorstore.Document{
		{PK: "p1", PageContent: "alpha", Metadata: map[string]any{"score": 0.9}},
		{PK: "p2", PageContent: "beta", Metadata: map[string]any{"score": 0.5}},
	}

	rec := env.do(t, http.MethodPost, "/knowledge-bases/kb1/vector-search",
		`{"query": "hello", "topK": 2}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Hits []hit  `json:"hits"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "p1", resp.Hits[0].PK)
	assert.Equal(t, "alpha\nbeta", resp.Text)
}

func TestVectorSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/knowledge-bases/kb1/vector-search", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSegments(t *testing.T) {
	env := newTestEnv(t)
	expectKBRow(env.mock, "kb1")
	env.mock.ExpectBegin()
	env.mock.ExpectQuery("SELECT key FROM metadata_fields").
		WillReturnRows(sqlmock.NewRows([]string{"key"}))
	env.mock.ExpectExec("INSERT INTO metadata_fields").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	rec := env.do(t, http.MethodPost, "/knowledge-bases/kb1/segments",
		`{"text": "one---two", "delimiter": "---", "metadata": {"category": "faq"}}`,
		map[string]string{"x-monkeys-userid": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		PK []string `json:"pk"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.PK, 2)
}

func TestSQLImportAndQuery(t *testing.T) {
	env := newTestEnv(t)
	env.files["/files/products.csv"] = []byte("name,price\nwidget,9.99\n")

	rec := env.do(t, http.MethodPost, "/sql-knowledge-bases/kb1/import",
		`{"fileURL": "/files/products.csv", "fileName": "products.csv"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"table":"products"`)

	rec = env.do(t, http.MethodPost, "/sql-knowledge-bases/kb1/query",
		`{"sql": "SELECT name FROM products"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "widget")

	rec = env.do(t, http.MethodGet, "/sql-knowledge-bases/kb1/tables", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "products")
}

func TestSQLQueryRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/sql-knowledge-bases/kb1/query",
		`{"sql": "DROP TABLE x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataFieldValues(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/knowledge-bases/kb1/metadata-fields/category/values", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"values":["v"]`)
}

func TestIdentityParsing(t *testing.T) {
	env := newTestEnv(t)
	e := env.server.echo

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-monkeys-userid", "u9")
	req.Header.Set("x-monkeys-teamid", "t3")
	c := e.NewContext(req, httptest.NewRecorder())

	handler := identityMiddleware(func(c echo.Context) error { return nil })
	require.NoError(t, handler(c))

	id := identityFrom(c)
	assert.Equal(t, "u9", id.UserID)
	assert.Equal(t, "t3", id.TeamID)
	assert.Equal(t, "", id.AppID)
}
