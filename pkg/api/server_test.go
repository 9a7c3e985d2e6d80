package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/crucible/pkg/security"
	"github.com/cuemby/crucible/pkg/store"
)

type noopExecutor struct{ called chan string }

func (e *noopExecutor) Execute(ctx context.Context, jobID string) {
	if e.called != nil {
		e.called <- jobID
	}
}

func newTestServer(t *testing.T) (*Server, *security.KeyStore) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "crucible.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.NewBoltStore(db)
	require.NoError(t, err)

	keys, err := security.NewKeyStore(db)
	require.NoError(t, err)

	srv := NewServer(st, keys, &noopExecutor{called: make(chan string, 10)})
	return srv, keys
}

func TestSubmitRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(`{"source":"x"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitRejectsMissingSource(t *testing.T) {
	srv, keys := newTestServer(t)
	key, err := keys.Create("alice", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", key)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRejectsPathTraversalInputName(t *testing.T) {
	srv, keys := newTestServer(t)
	key, err := keys.Create("alice", "")
	require.NoError(t, err)

	body := `{"source":"x","input_files":[{"name":"../etc/passwd","content":"y"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(body))
	req.Header.Set("X-API-Key", key)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitAndGetJob(t *testing.T) {
	srv, keys := newTestServer(t)
	key, err := keys.Create("alice", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(`{"source":"puts 1"}`))
	req.Header.Set("X-API-Key", key)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var submitResp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitResp))
	assert.NotEmpty(t, submitResp.JobID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/job/"+submitResp.JobID, nil)
	getReq.Header.Set("X-API-Key", key)
	getW := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestGetJobNotOwnedReturnsNotFound(t *testing.T) {
	srv, keys := newTestServer(t)
	aliceKey, err := keys.Create("alice", "")
	require.NoError(t, err)
	bobKey, err := keys.Create("bob", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(`{"source":"x"}`))
	req.Header.Set("X-API-Key", aliceKey)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var submitResp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitResp))

	getReq := httptest.NewRequest(http.MethodGet, "/api/job/"+submitResp.JobID, nil)
	getReq.Header.Set("X-API-Key", bobKey)
	getW := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusNotFound, getW.Code)
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}
