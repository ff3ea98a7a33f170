package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")

	cfg := &config.Config{}
	router, bg := NewRouter(cfg, db, nil)
	t.Cleanup(func() {
		bg.Shutdown()
		mockDB.Close()
	})
	return router, mock
}

func TestHealthEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectPing()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadyEndpointWithoutRedis(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectPing()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":true`)
	assert.Contains(t, w.Body.String(), `"redis":"skipped"`)
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":false`)
}

func TestReadEndpointsRequireJWT(t *testing.T) {
	router, _ := newTestRouter(t)

	paths := []string{
		"/api/v1/records",
		"/api/v1/records/1",
		"/api/v1/records/search?q=x",
		"/api/v1/records/stats",
		"/api/v1/records/history/invoice/INV-1",
		"/api/v1/summaries",
		"/api/v1/summaries/stats",
		"/api/v1/summaries/recent",
		"/api/v1/action-types",
	}
	for _, path := range paths {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "path %s", path)
	}
}

func TestSubmitRequiresServiceKey(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectPing()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
