package router_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdevstuff/up-ynab-sync/internal/router"
	"github.com/swiftdevstuff/up-ynab-sync/internal/sync"
)

func newTestRouter(t *testing.T, service router.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r, err := router.Config()
	require.NoError(t, err)

	router.AttachRoutes(router.Controller{Service: service}, r.Group(""))
	return r
}

func request(t *testing.T, r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	return recorder
}

func TestGetRoot(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	recorder := request(t, r, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var response router.RootResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "/healthz", response.Links.Healthz)
	assert.Equal(t, "/v1", response.Links.V1)
}

func TestGetVersion(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	recorder := request(t, r, http.MethodGet, "/version")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var response router.VersionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "0.0.0", response.Data.Version)
}

func TestGetV1(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	recorder := request(t, r, http.MethodGet, "/v1")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var response router.V1Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "/v1/status", response.Links.Status)
	assert.Equal(t, "/v1/failed", response.Links.Failed)
}

func TestOptions(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	for _, path := range []string{"/", "/version", "/healthz", "/v1", "/v1/status"} {
		recorder := request(t, r, http.MethodOptions, path)
		assert.Equal(t, http.StatusNoContent, recorder.Code, "OPTIONS %s", path)
		assert.Contains(t, recorder.Header().Get("allow"), "GET")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	recorder := request(t, r, http.MethodPost, "/version")
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestGetMetrics(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	// Generate a request so the middleware has something to count
	_ = request(t, r, http.MethodGet, "/healthz")

	recorder := request(t, r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRegisterPrometheusMetrics(t *testing.T) {
	require.NoError(t, router.RegisterPrometheusMetrics())
	assert.Error(t, router.RegisterPrometheusMetrics(), "double registration must fail")
	assert.True(t, router.UnregisterPrometheusMetrics())
}

// sanity check that the engine satisfies the service interface
var _ router.Service = (*sync.Engine)(nil)
