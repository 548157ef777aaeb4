package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaorchestrator/internal/remoteshell"
	"qaorchestrator/internal/storage"
	"qaorchestrator/internal/supervisor"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), t.TempDir()+"/qa.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sup := supervisor.New(store, remoteshell.NewLocal(), remoteshell.NewLocal(), nil)
	return NewHandler(store, sup, nil, []string{"remote-executor"}), store
}

func TestListCases_Empty(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ListCases(w, httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestGetCase_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	r := chi.NewRouter()
	r.Get("/cases/{caseID}", h.GetCase)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cases/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCase_Found(t *testing.T) {
	h, store := newTestHandler(t)
	require.NoError(t, store.CreateCase(context.Background(), "case-1", "corr-1"))

	r := chi.NewRouter()
	r.Get("/cases/{caseID}", h.GetCase)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cases/case-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "case-1")
}

func TestCaseHistory(t *testing.T) {
	h, store := newTestHandler(t)
	require.NoError(t, store.CreateCase(context.Background(), "case-2", "corr-2"))

	r := chi.NewRouter()
	r.Get("/cases/{caseID}/history", h.CaseHistory)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cases/case-2/history", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "NEW")
}

func TestListProcesses_Empty(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ListProcesses(w, httptest.NewRequest(http.MethodGet, "/api/v1/processes", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processes":[]`)
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListDLQ_NoBroker(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ListDLQ(w, httptest.NewRequest(http.MethodGet, "/api/v1/queues/remote-executor/dlq", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries":[]`)
}
