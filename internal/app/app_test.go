package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasan-murad02/rag/internal/adapter/sqlite"
	"github.com/hasan-murad02/rag/internal/config"
)

// keywordEmbedder maps texts onto three axes so similarity is predictable.
type keywordEmbedder struct{}

func keywordVector(text string) []float32 {
	switch {
	case strings.Contains(text, "ATP"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "osmosis"):
		return []float32{0, 1, 0}
	}
	return []float32{0, 0, 1}
}

func (keywordEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return keywordVector(text), nil
}

func (keywordEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		CollectionName:      "test_questions",
		SimilarityThreshold: 0.75,
		SearchLimit:         10,
		IngestBatchSize:     100,
		MaxBatchSize:        1000,
		IngestMaxAttempts:   3,
		QueryLogPath:        filepath.Join(t.TempDir(), "query.log"),
	}
}

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a, err := New(testConfig(t), db, store, nil, slog.Default(), WithEmbedder(keywordEmbedder{}))
	require.NoError(t, err)
	return a, mock
}

func serve(a *App, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "missing data envelope: %s", w.Body.String())
	return d
}

func TestNew(t *testing.T) {
	a, _ := newTestApp(t)
	assert.NotNil(t, a.Handler)
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Retrieval)
	assert.NotNil(t, a.IngestConsumer)

	w := serve(a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(a, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"premed-rag"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestNew_RequiresStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(testConfig(t), db, nil, nil, nil)
	assert.Error(t, err)
}

func TestNew_CORSPreflight(t *testing.T) {
	a, _ := newTestApp(t)

	w := serve(a, http.MethodOptions, "/api/v1/query", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_IngestThenQuery(t *testing.T) {
	a, _ := newTestApp(t)

	body := `{"questions":[
		{"_id":"a","question":"What is ATP?","subject":"biochemistry"},
		{"_id":"b","question":"Define osmosis","context":"water crosses membranes"}
	]}`
	w := serve(a, http.MethodPost, "/api/v1/questions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 2.0, data(t, w)["total_objects"])
	assert.Equal(t, "test_questions", data(t, w)["collection_name"])

	n, err := a.Pipeline.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "osmosis carries context and is stored twice")

	w = serve(a, http.MethodPost, "/api/v1/query", `{"query":"ATP energy"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, 1.0, d["total_results"])
	assert.InDelta(t, 0.75, d["threshold"], 1e-6)
	results := d["results"].([]interface{})
	first := results[0].(map[string]interface{})
	assert.Equal(t, "a", first["id"])
	assert.InDelta(t, 1.0, first["score"], 1e-6)
	q := first["question"].(map[string]interface{})
	assert.Equal(t, "What is ATP?", q["question"])
	assert.Equal(t, "biochemistry", q["subject"])

	w = serve(a, http.MethodPost, "/api/v1/questions", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 0.0, data(t, w)["total_objects"])
	assert.Equal(t, 2.0, data(t, w)["duplicates"])

	w = serve(a, http.MethodDelete, "/api/v1/collection", "")
	require.Equal(t, http.StatusOK, w.Code)
	n, err = a.Pipeline.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew_QueryValidation(t *testing.T) {
	a, _ := newTestApp(t)

	w := serve(a, http.MethodPost, "/api/v1/query", `{"query":"ATP","threshold":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(a, http.MethodPost, "/api/v1/query", `{"query":"ATP","limit":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNew_AsyncWithoutBroker(t *testing.T) {
	a, _ := newTestApp(t)

	w := serve(a, http.MethodPost, "/api/v1/load-json", `{"json_file_path":"/tmp/q.json","async":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_Stats(t *testing.T) {
	a, mock := newTestApp(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	w := serve(a, http.MethodGet, "/stats", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, "test_questions", d["collection"])
	assert.Equal(t, 0.0, d["points"])
	assert.Equal(t, 4.0, d["failed_jobs"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_MCPSearch(t *testing.T) {
	a, _ := newTestApp(t)
	w := serve(a, http.MethodPost, "/api/v1/questions", `{"questions":[{"_id":"a","question":"What is ATP?"}]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(a, http.MethodPost, "/mcp",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_questions","arguments":{"query":"ATP"}}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "What is ATP?")
}
