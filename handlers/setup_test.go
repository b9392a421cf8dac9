package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polls-backend/lifecycle"
	"polls-backend/metrics"
	"polls-backend/repository"
	"polls-backend/service"
	"polls-backend/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	clock   *lifecycle.FixedClock
	metrics *metrics.Metrics
}

// SetupTestEnvironment builds a router over an in-memory SQLite database
// and a fixed clock. The routes mirror the production router.
func SetupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	clock := lifecycle.NewFixedClock(t0)
	m := metrics.New()
	svc := service.NewPollService(repository.NewGormPollRepository(db),
		service.WithClock(clock),
		service.WithMetrics(m))

	polls := NewPollHandler(svc, zap.NewNop())
	health := NewHealthHandler(db, nil)

	router := gin.New()
	router.Use(RequestID(), RequestLogger(zap.NewNop()), Metrics(m))

	api := router.Group("/api")
	{
		api.GET("/hc/health", health.Health)
		api.GET("/hc/status", health.Status)

		api.POST("/polls", polls.CreatePoll)
		api.GET("/polls", polls.ListPolls)
		api.GET("/polls/:id", polls.GetPoll)
		api.PATCH("/polls/:id", polls.UpdatePoll)
		api.DELETE("/polls/:id", polls.DeletePoll)
		api.POST("/polls/:id/vote", polls.CastVote)

		api.POST("/admin/sweep", polls.Sweep)
		api.GET("/admin/polls/:id/votes", polls.ListVotes)
		api.GET("/admin/polls/:id/audit", polls.AuditPoll)
	}

	return &testEnv{router: router, db: db, clock: clock, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
