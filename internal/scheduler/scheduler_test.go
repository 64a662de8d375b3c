package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/ingest"
	"github.com/tenderfeed/tender-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []ingest.APIRequest
	sweeps   int
	runErr   error
	sweepErr error
	called   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{called: make(chan struct{}, 8)}
}

func (f *fakeRunner) RunAPI(_ context.Context, req ingest.APIRequest) (model.RunResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.called <- struct{}{}
	return model.RunResult{RunID: 1, Success: true}, f.runErr
}

func (f *fakeRunner) SweepStaleRuns(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, f.sweepErr
}

func TestIngestRequest(t *testing.T) {
	s := New(newFakeRunner(), Options{IngestSpec: "0 2 * * *", PageSize: 250})
	s.now = func() time.Time { return time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC) }

	req := s.ingestRequest()
	assert.Equal(t, 1, req.PageNumber)
	assert.Equal(t, 250, req.PageSize)
	assert.Equal(t, "2025-02-28", req.DateFrom)
	assert.Equal(t, "2025-03-01", req.DateTo)
}

func TestStart_RunsIngestImmediately(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, Options{IngestSpec: "0 2 * * *", SweepSpec: "@every 15m", PageSize: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop(context.Background())

	select {
	case <-runner.called:
	case <-time.After(2 * time.Second):
		t.Fatal("initial ingest did not run")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.requests, 1)
	assert.Equal(t, 100, runner.requests[0].PageSize)
}

func TestStart_InvalidSpecs(t *testing.T) {
	err := New(newFakeRunner(), Options{IngestSpec: "not a cron"}).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest schedule")

	err = New(newFakeRunner(), Options{IngestSpec: "@daily", SweepSpec: "@fortnightly"}).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep schedule")
}

func TestRun_StopsOnCancel(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, Options{IngestSpec: "@daily"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-runner.called
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestJobs_SkipCancelledContext(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, Options{IngestSpec: "@daily"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runIngest(ctx)
	s.runSweep(ctx)

	assert.Empty(t, runner.requests)
	assert.Zero(t, runner.sweeps)
}

func TestJobs_ErrorsAreLogged(t *testing.T) {
	runner := newFakeRunner()
	runner.runErr = errors.New("db down")
	runner.sweepErr = errors.New("db down")
	s := New(runner, Options{IngestSpec: "@daily"})

	s.runIngest(context.Background())
	s.runSweep(context.Background())

	assert.Len(t, runner.requests, 1)
	assert.Equal(t, 1, runner.sweeps)
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) RunAPI(context.Context, ingest.APIRequest) (model.RunResult, error) {
	close(b.started)
	<-b.release
	return model.RunResult{RunID: 1, Success: true}, nil
}

func (b *blockingRunner) SweepStaleRuns(context.Context) (int64, error) { return 0, nil }

func TestStop_WaitsForInitialIngest(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := New(runner, Options{IngestSpec: "0 2 * * *"})

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("initial ingest did not run")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the initial ingest was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the initial ingest finished")
	}
}
