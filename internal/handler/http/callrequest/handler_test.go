package callrequest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider/memhub"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/queue"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

func setupRouter(t *testing.T) (*gin.Engine, *queue.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := token.NewIssuer("api-key", "secret", time.Hour)
	hub := memhub.New(issuer, nil)
	q := queue.New(hub, issuer, nil, time.Hour)
	coord := queue.NewCoordinator(q, issuer, time.Hour)
	h := NewHandler(q, coord)

	router := gin.New()
	router.POST("/api/call-request", h.Create)
	router.GET("/api/call-requests", h.List)
	router.POST("/api/call-request/:id/joined", h.Joined)
	router.POST("/api/call-request/:id/decline", h.Decline)
	router.POST("/api/call-request/:id/error", h.Errored)
	return router, q
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateReturnsCredentials(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode(t, w)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "api-key", data["apiKey"])
	assert.NotEmpty(t, data["sessionId"])
	assert.NotEmpty(t, data["token"])
	assert.NotEmpty(t, data["requestId"])
}

func TestCreateRejectsMissingName(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestListReturnsPendingOldestFirst(t *testing.T) {
	router, _ := setupRouter(t)

	for _, name := range []string{"first", "second"} {
		w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{"name": name})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(router, http.MethodGet, "/api/call-requests", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	list := resp.Data.([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].(map[string]any)["name"])
	assert.Equal(t, "second", list[1].(map[string]any)["name"])
}

func TestJoinedClaimsRequest(t *testing.T) {
	router, q := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w).Data.(map[string]any)["requestId"].(string)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/call-request/%s/joined", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	data := resp.Data.(map[string]any)
	creds := data["credentials"].(map[string]any)
	assert.NotEmpty(t, creds["token"])
	assert.Equal(t, "Jane Doe", data["request"].(map[string]any)["name"])
	assert.Empty(t, q.ListPending())

	// second claim loses the race
	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/call-request/%s/joined", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeclineThenDeclineAgain(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{"name": "Jane Doe"})
	id := decode(t, w).Data.(map[string]any)["requestId"].(string)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/call-request/%s/decline", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/call-request/%s/decline", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErroredResolvesRequest(t *testing.T) {
	router, q := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request", gin.H{"name": "Jane Doe"})
	id := decode(t, w).Data.(map[string]any)["requestId"].(string)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/api/call-request/%s/error", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, q.ListPending())
}

func TestInvalidIDRejected(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/api/call-request/not-a-uuid/joined", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
