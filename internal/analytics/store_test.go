package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), ":memory:",
		WithSalt("test-salt"),
		WithClock(clk.Now),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clk
}

func TestHashIP(t *testing.T) {
	store, _ := newTestStore(t)

	h := store.HashIP("203.0.113.7")
	assert.Len(t, h, 16)
	assert.Equal(t, h, store.HashIP("203.0.113.7"))
	assert.NotEqual(t, h, store.HashIP("203.0.113.8"))

	other, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer other.Close()
	assert.NotEqual(t, h, other.HashIP("203.0.113.7"), "random salt must differ")
}

func TestStats(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1", "old-agent", "/"))

	clk.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.2", "agent", "/projects"))

	clk.Set(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1", "agent", "/"))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.3", "agent", "/"))
	require.NoError(t, store.RecordClick(ctx, "fraud-dbt"))
	require.NoError(t, store.RecordClick(ctx, "churn-dashboard"))
	require.NoError(t, store.RecordClick(ctx, "churn-dashboard"))

	clk.Set(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 4, stats.TotalVisitors)
	assert.EqualValues(t, 3, stats.UniqueVisitors)
	assert.EqualValues(t, 2, stats.VisitorsToday)
	assert.EqualValues(t, 3, stats.VisitorsThisWeek)
	assert.EqualValues(t, 3, stats.TotalClicks)
	assert.Equal(t, []ProjectClicks{{"churn-dashboard", 2}, {"fraud-dbt", 1}}, stats.TopProjects)

	require.Len(t, stats.RecentVisitors, 4)
	assert.Equal(t, store.HashIP("10.0.0.3"), stats.RecentVisitors[0].HashedIP)
	assert.Equal(t, "old-agent", stats.RecentVisitors[3].UserAgent)
	for _, v := range stats.RecentVisitors {
		assert.NotContains(t, v.HashedIP, "10.0.0")
	}
}

func TestResetClicks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordClick(ctx, "fraud-dbt"))
	require.NoError(t, store.RecordClick(ctx, "fraud-dbt"))

	n, err := store.ResetClicks(ctx, "fraud-dbt")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.ResetClicks(ctx, "fraud-dbt")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanup(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1", "a", "/"))
	require.NoError(t, store.RecordClick(ctx, "fraud-dbt"))

	clk.Set(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.2", "a", "/"))

	clk.Set(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	removed, err := store.Cleanup(ctx, 365*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalVisitors)
	assert.Zero(t, stats.TotalClicks)
}

func TestSchedulerRunCleanup(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1", "a", "/"))
	clk.Set(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))

	_, err := NewScheduler(store, "not a schedule", time.Hour)
	require.Error(t, err)

	sched, err := NewScheduler(store, "@daily", 24*time.Hour)
	require.NoError(t, err)
	sched.Start()
	sched.RunCleanup()
	sched.Stop()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVisitors)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, _ := newTestStore(t)

	r := gin.New()
	r.Use(store.Middleware(func(r *http.Request) bool { return r.URL.EscapedPath() == "/churn-dashboard" }))
	r.GET("/*any", func(c *gin.Context) { c.Status(http.StatusOK) })

	requests := []struct {
		path string
		dnt  string
	}{
		{"/", ""},
		{"/projects", ""},
		{"/projects", "1"},
		{"/static/site.css", ""},
		{"/admin/dashboard", ""},
		{"/go/fraud-dbt", ""},
		{"/churn-dashboard", ""},
	}
	for _, rq := range requests {
		req := httptest.NewRequest(http.MethodGet, rq.path, nil)
		req.Header.Set("User-Agent", "test-agent")
		if rq.dnt != "" {
			req.Header.Set("DNT", rq.dnt)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	store.Wait()

	visits, err := store.RecentVisitors(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, visits, 2)
	paths := []string{visits[0].Path, visits[1].Path}
	assert.ElementsMatch(t, []string{"/", "/projects"}, paths)
	assert.Equal(t, "test-agent", visits[0].UserAgent)
}
