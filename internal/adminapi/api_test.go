package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/logging"
	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/store"
)

func newTestAPI() *API {
	s := store.NewMemoryStore()
	reg := scheduler.NewRegistry(s)
	return New(s, reg, nil, logging.Noop(), 100, 100)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNodeCRUDRoundTrip(t *testing.T) {
	api := newTestAPI()
	h := api.Handler()

	createRec := doJSON(t, h, http.MethodPost, "/api/nodes", map[string]any{
		"name": "n1", "host": "10.0.0.1", "port": 1080, "protocol": "socks5",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created nodeDTO
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	assert.Equal(t, "n1", created.Name)
	assert.Equal(t, 1, created.Weight) // default applied
	assert.Equal(t, 100, created.MaxConnections)

	getRec := doJSON(t, h, http.MethodGet, "/api/nodes/"+strconv.FormatInt(created.ID, 10), nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	updateRec := doJSON(t, h, http.MethodPut, "/api/nodes/"+strconv.FormatInt(created.ID, 10), map[string]any{
		"is_active": false,
	})
	require.Equal(t, http.StatusOK, updateRec.Code)
	var updated nodeDTO
	require.NoError(t, json.Unmarshal(updateRec.Body.Bytes(), &updated))
	assert.False(t, updated.IsActive)
	assert.Equal(t, "n1", updated.Name) // untouched field survives the sparse patch

	listRec := doJSON(t, h, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var list []nodeDTO
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	deleteRec := doJSON(t, h, http.MethodDelete, "/api/nodes/"+strconv.FormatInt(created.ID, 10), nil)
	require.Equal(t, http.StatusNoContent, deleteRec.Code)

	getAfterDeleteRec := doJSON(t, h, http.MethodGet, "/api/nodes/"+strconv.FormatInt(created.ID, 10), nil)
	assert.Equal(t, http.StatusNotFound, getAfterDeleteRec.Code)
}

func TestSchedulerGetAndPut(t *testing.T) {
	api := newTestAPI()
	h := api.Handler()

	getRec := doJSON(t, h, http.MethodGet, "/api/scheduler", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	var got schedulerDTO
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	assert.Equal(t, "health_first", got.Name) // lazy default

	putRec := doJSON(t, h, http.MethodPut, "/api/scheduler?scheduler_type=random", nil)
	require.Equal(t, http.StatusOK, putRec.Code)
	var set schedulerDTO
	require.NoError(t, json.Unmarshal(putRec.Body.Bytes(), &set))
	assert.Equal(t, "random", set.Name)
}

func TestSchedulerPutRejectsUnknownKind(t *testing.T) {
	api := newTestAPI()
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPut, "/api/scheduler?scheduler_type=not_a_real_policy", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutatingRequestsAreRateLimited(t *testing.T) {
	s := store.NewMemoryStore()
	reg := scheduler.NewRegistry(s)
	// burst of 1, effectively zero refill: the second mutating call within
	// the same instant must be rejected.
	api := New(s, reg, nil, logging.Noop(), 0, 1)
	h := api.Handler()

	first := doJSON(t, h, http.MethodPost, "/api/nodes", map[string]any{"name": "a", "host": "x", "port": 1})
	assert.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, h, http.MethodPost, "/api/nodes", map[string]any{"name": "b", "host": "y", "port": 2})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	listRec := doJSON(t, h, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var list []nodeDTO
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	assert.Len(t, list, 1) // the rate-limited request never reached the store
}
