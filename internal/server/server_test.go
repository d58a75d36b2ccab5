package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trading-core/internal/bus"
	cfgpkg "github.com/aristath/trading-core/internal/config"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/internal/scheduler"
)

type stubJob struct{ ran bool }

func (j *stubJob) Name() string { return "stub_job" }
func (j *stubJob) Run() error   { j.ran = true; return nil }

func testServer(t *testing.T, jobs map[string]scheduler.Job) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	sched := scheduler.New(zerolog.Nop())
	srv := New(Config{
		Port:            0,
		Log:             zerolog.Nop(),
		Bus:             b,
		Scheduler:       sched,
		TriggerableJobs: jobs,
		Config:          &cfgpkg.Config{},
		DevMode:         true,
	})
	return srv, b
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStreamIntrospection(t *testing.T) {
	srv, b := testServer(t, nil)
	require.NoError(t, b.Publish(domain.StreamOrderFill, domain.OrderFill{Symbol: "BTC/USDT"}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/streams", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.StreamOrderFill)
}

func TestHandleTriggerCycleRunsNamedJob(t *testing.T) {
	job := &stubJob{}
	srv, _ := testServer(t, map[string]scheduler.Job{"stub": job})
	srv.sched.Start()
	defer srv.sched.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/trigger-cycle", strings.NewReader(`{"job":"stub"}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, job.ran)
}

func TestHandleTriggerCycleRejectsUnknownJob(t *testing.T) {
	srv, _ := testServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/trigger-cycle", strings.NewReader(`{"job":"missing"}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
