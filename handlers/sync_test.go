package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelab-ris/capsync/internal/lock"
	"github.com/corelab-ris/capsync/internal/store"
	"github.com/corelab-ris/capsync/internal/sync"
)

type fakeRunner struct {
	report *sync.Report
	drift  *sync.DriftReport
	err    error
}

func (f *fakeRunner) Run(ctx context.Context) (*sync.Report, error) {
	return f.report, f.err
}

func (f *fakeRunner) SchemaDrift(ctx context.Context) (*sync.DriftReport, error) {
	return f.drift, f.err
}

type fakeWatermarks struct {
	last map[string]time.Time
}

func (f *fakeWatermarks) LastBackup(ctx context.Context, name string) (time.Time, error) {
	t, ok := f.last[name]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return t, nil
}

func testRouter(t *testing.T, runner *fakeRunner, wm *fakeWatermarks) (*gin.Engine, *lock.Locker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewLocker(client, time.Minute)

	newRunner := func(project string) (Runner, error) {
		if project == "unknown" {
			return nil, errors.New("no token")
		}
		return runner, nil
	}

	r := gin.New()
	NewSyncHandler(newRunner, locker, wm).Register(r.Group("/"))
	return r, locker
}

func TestTriggerSyncReturnsReport(t *testing.T) {
	runner := &fakeRunner{report: &sync.Report{Project: "Study A", Processed: 3}}
	r, _ := testRouter(t, runner, &fakeWatermarks{last: map[string]time.Time{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/Study%20A", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":3`)
}

func TestTriggerSyncUnknownProject(t *testing.T) {
	r, _ := testRouter(t, &fakeRunner{}, &fakeWatermarks{last: map[string]time.Time{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/unknown", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSyncConflictWhileLocked(t *testing.T) {
	runner := &fakeRunner{report: &sync.Report{Project: "Study A"}}
	r, locker := testRouter(t, runner, &fakeWatermarks{last: map[string]time.Time{}})

	lk, err := locker.Acquire(context.Background(), "Study A")
	require.NoError(t, err)
	defer lk.Release(context.Background())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/Study%20A", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTriggerSyncReleasesLockAfterRun(t *testing.T) {
	runner := &fakeRunner{report: &sync.Report{Project: "Study A"}}
	r, locker := testRouter(t, runner, &fakeWatermarks{last: map[string]time.Time{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync/Study%20A", nil))
	require.Equal(t, http.StatusOK, w.Code)

	lk, err := locker.Acquire(context.Background(), "Study A")
	require.NoError(t, err)
	lk.Release(context.Background())
}

func TestTriggerSyncRunErrorReturns500(t *testing.T) {
	runner := &fakeRunner{err: errors.New("redcap unreachable")}
	r, _ := testRouter(t, runner, &fakeWatermarks{last: map[string]time.Time{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync/Study%20A", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "redcap unreachable")
}

func TestDrift(t *testing.T) {
	runner := &fakeRunner{drift: &sync.DriftReport{
		Project: "Study A",
		Forms: map[string]sync.FormDrift{
			"demographics": {OnlyInStore: []string{"height"}},
		},
	}}
	r, _ := testRouter(t, runner, &fakeWatermarks{last: map[string]time.Time{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/Study%20A/drift", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"onlyInStore":["height"]`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/unknown/drift", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatus(t *testing.T) {
	wm := &fakeWatermarks{last: map[string]time.Time{
		"Study A": time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	r, _ := testRouter(t, &fakeRunner{}, wm)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/Study%20A/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/Never%20Synced/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":false`)
}
