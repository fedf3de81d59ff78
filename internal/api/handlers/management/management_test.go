package management

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type testEnv struct {
	router  *gin.Engine
	manager *credential.Manager
	dir     string
	logs    *logging.RingBuffer
	stats   *usage.RequestStatistics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	env := &testEnv{
		dir:   dir,
		logs:  logging.NewRingBuffer(10),
		stats: usage.NewRequestStatistics(),
	}
	env.manager = credential.NewManager(credential.NewPool(1, time.Minute), credential.NewFileStore(dir))
	h := NewHandler(env.manager, env.stats, env.logs)
	h.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r := gin.New()
	r.GET("/v1/credentials", h.ListCredentials)
	r.POST("/v1/credentials", h.AddCredential)
	r.POST("/v1/credentials/select", h.SelectCredential)
	r.POST("/v1/credentials/auto", h.ResumeAutoRotation)
	r.POST("/v1/credentials/toggle-rotation", h.ToggleAutoRotation)
	r.GET("/v1/credentials/current", h.CurrentCredential)
	r.POST("/v1/credentials/delete", h.DeleteCredential)
	r.GET("/v1/usage", h.GetUsageStatistics)
	r.GET("/v1/logs", h.GetLogs)
	env.router = r
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, tokens ...string) {
	t.Helper()
	for _, tok := range tokens {
		_, err := e.manager.Add(context.Background(), credential.AddRequest{BearerToken: tok, UserID: "u-" + tok[:3], FileName: tok[:3] + ".json"})
		require.NoError(t, err)
	}
}

func TestAddCredential(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/credentials", `{"user_id":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "bearer_token is required", gjson.Get(w.Body.String(), "error.message").String())

	w = env.do(http.MethodPost, "/v1/credentials", `{"bearer_token":"abc","filename":"../evil"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/v1/credentials", `{"bearer_token":"abcdefghijklmnopqrstuvwxyz","user_id":"alice","filename":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Credential added successfully", gjson.Get(w.Body.String(), "message").String())
	assert.Equal(t, "alice.json", gjson.Get(w.Body.String(), "id").String())

	_, err := os.Stat(filepath.Join(env.dir, "alice.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, env.manager.Pool().Len())
}

func TestListCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb")
	env.manager.Pool().Add(credential.Credential{
		ID:        "short.json",
		Bearer:    "short",
		CreatedAt: time.Unix(1_700_000_000-100, 0),
		ExpiresAt: time.Unix(1_700_000_000+2*86400+3*3600, 0),
	})

	w := env.do(http.MethodGet, "/v1/credentials", "")
	require.Equal(t, http.StatusOK, w.Code)
	creds := gjson.Get(w.Body.String(), "credentials").Array()
	require.Len(t, creds, 3)

	first := creds[0]
	assert.Equal(t, int64(0), first.Get("index").Int())
	assert.Equal(t, "aaa.json", first.Get("id").String())
	assert.Equal(t, "aaaaaaaaaa...aaaa", first.Get("token_preview").String())
	assert.True(t, first.Get("has_token").Bool())
	assert.True(t, first.Get("is_current").Bool())
	assert.False(t, first.Get("is_pinned").Bool())
	assert.Equal(t, "Unknown", first.Get("time_remaining_str").String())
	assert.Equal(t, gjson.Null, first.Get("time_remaining").Type)

	third := creds[2]
	assert.Equal(t, "Invalid Token", third.Get("token_preview").String())
	assert.Equal(t, "2d 3h", third.Get("time_remaining_str").String())
	assert.Equal(t, int64(2*86400+3*3600), third.Get("time_remaining").Int())
}

func TestSelectAndAutoRotation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb")

	w := env.do(http.MethodPost, "/v1/credentials/select", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(http.MethodPost, "/v1/credentials/select", `{"index":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/v1/credentials/select", `{"index":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Credential #2 selected successfully", gjson.Get(w.Body.String(), "message").String())

	for i := 0; i < 3; i++ {
		c, err := env.manager.Pool().Next()
		require.NoError(t, err)
		assert.Equal(t, "bbb.json", c.ID)
	}

	w = env.do(http.MethodGet, "/v1/credentials/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bbb.json", gjson.Get(w.Body.String(), "credential.id").String())
	assert.True(t, gjson.Get(w.Body.String(), "credential.is_pinned").Bool())
	assert.True(t, gjson.Get(w.Body.String(), "manual_selection").Bool())

	w = env.do(http.MethodPost, "/v1/credentials/auto", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Resumed automatic credential rotation", gjson.Get(w.Body.String(), "message").String())
	assert.Equal(t, -1, env.manager.Pool().Snapshot().PinnedIndex)
}

func TestToggleRotation(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/v1/credentials/toggle-rotation", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Auto rotation disabled", gjson.Get(w.Body.String(), "message").String())
	assert.False(t, gjson.Get(w.Body.String(), "auto_rotation_enabled").Bool())

	w = env.do(http.MethodPost, "/v1/credentials/toggle-rotation", "")
	assert.Equal(t, "Auto rotation enabled", gjson.Get(w.Body.String(), "message").String())
	assert.True(t, gjson.Get(w.Body.String(), "auto_rotation_enabled").Bool())
}

func TestCurrentCredential_Empty(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/v1/credentials/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, gjson.Null, gjson.Get(w.Body.String(), "credential").Type)
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "total").Int())
}

func TestDeleteCredential(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb")

	for _, body := range []string{`{}`, `{"index":"1"}`, `{"index":1.5}`, `not json`} {
		w := env.do(http.MethodPost, "/v1/credentials/delete", body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, body)
		assert.Equal(t, "Valid integer index is required", gjson.Get(w.Body.String(), "error.message").String())
	}

	w := env.do(http.MethodPost, "/v1/credentials/delete", `{"index":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/v1/credentials/delete", `{"index":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Credential #1 deleted successfully", gjson.Get(w.Body.String(), "message").String())

	_, err := os.Stat(filepath.Join(env.dir, "aaa.json"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, env.manager.Pool().Len())
}

func TestGetUsageStatistics(t *testing.T) {
	env := newTestEnv(t)
	env.stats.Record(usage.Record{Model: "gpt-5", Tokens: usage.TokenStats{TotalTokens: 3}})
	env.stats.Record(usage.Record{Model: "gpt-5", Failed: true})

	w := env.do(http.MethodGet, "/v1/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "usage.total_requests").Int())
	assert.Equal(t, int64(2), gjson.Get(body, "by_model.gpt-5").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "failed_requests").Int())
}

func TestGetLogs(t *testing.T) {
	env := newTestEnv(t)
	env.logs.Write(logging.LogEntry{Timestamp: time.Now(), Level: log.DebugLevel.String(), Message: "debug line"})
	env.logs.Write(logging.LogEntry{Timestamp: time.Now(), Level: log.WarnLevel.String(), Message: "warn line"})
	env.logs.Write(logging.LogEntry{Timestamp: time.Now(), Level: log.InfoLevel.String(), Message: "info line"})

	w := env.do(http.MethodGet, "/v1/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), gjson.Get(w.Body.String(), "count").Int())
	assert.Equal(t, int64(10), gjson.Get(w.Body.String(), "capacity").Int())

	w = env.do(http.MethodGet, "/v1/logs?limit=1", "")
	assert.Equal(t, "info line", gjson.Get(w.Body.String(), "logs.0.message").String())

	w = env.do(http.MethodGet, "/v1/logs?level=warn", "")
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "count").Int())
	assert.Equal(t, "warn line", gjson.Get(w.Body.String(), "logs.0.message").String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/logs?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/logs?level=loud", "").Code)
}
