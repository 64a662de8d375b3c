// Package scheduler wires up the cron jobs that pull the latest releases
// from the OCDS API and close abandoned ingestion runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/ingest"
	"github.com/tenderfeed/tender-cli/internal/model"
)

const dateLayout = "2006-01-02"

// Runner is the part of ingest.Service the scheduler drives.
type Runner interface {
	RunAPI(ctx context.Context, req ingest.APIRequest) (model.RunResult, error)
	SweepStaleRuns(ctx context.Context) (int64, error)
}

// Options configures a Scheduler. An empty SweepSpec disables the sweep.
type Options struct {
	IngestSpec string
	SweepSpec  string
	PageSize   int
}

// Scheduler wraps robfig/cron and manages the ingest and sweep loops.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	// first tracks the immediate ingest, which cron's own stop does not wait for.
	first sync.WaitGroup
}

// New creates a Scheduler. Overlapping ticks of the same job are skipped.
func New(runner Runner, opts Options) *Scheduler {
	log := zap.L().With(zap.String("component", "scheduler"))
	cl := cronLogger{s: log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// Start registers the jobs and starts the cron loop. It also runs one
// ingest immediately so the feed is populated without waiting for the
// first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	ingestJob := cron.FuncJob(func() { s.runIngest(ctx) })
	ingestID, err := s.cron.AddJob(s.opts.IngestSpec, ingestJob)
	if err != nil {
		return eris.Wrapf(err, "scheduler: ingest schedule %q", s.opts.IngestSpec)
	}
	if s.opts.SweepSpec != "" {
		if _, err := s.cron.AddFunc(s.opts.SweepSpec, func() { s.runSweep(ctx) }); err != nil {
			return eris.Wrapf(err, "scheduler: sweep schedule %q", s.opts.SweepSpec)
		}
	}

	s.cron.Start()
	s.log.Info("cron started",
		zap.String("ingest_spec", s.opts.IngestSpec),
		zap.String("sweep_spec", s.opts.SweepSpec),
	)

	// Through the cron chain so it cannot overlap the first tick.
	job := s.cron.Entry(ingestID).WrappedJob
	s.first.Add(1)
	go func() {
		defer s.first.Done()
		job.Run()
	}()
	return nil
}

// Stop halts the cron loop and waits for running jobs, including the
// initial ingest, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.first.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("cron stopped")
	case <-ctx.Done():
		s.log.Warn("cron stop timed out with jobs still running")
	}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}

// ingestRequest covers yesterday through today, first page.
func (s *Scheduler) ingestRequest() ingest.APIRequest {
	today := s.now().UTC()
	return ingest.APIRequest{
		PageNumber: 1,
		PageSize:   s.opts.PageSize,
		DateFrom:   today.AddDate(0, 0, -1).Format(dateLayout),
		DateTo:     today.Format(dateLayout),
	}
}

func (s *Scheduler) runIngest(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	req := s.ingestRequest()
	s.log.Info("scheduled ingest started",
		zap.String("date_from", req.DateFrom),
		zap.String("date_to", req.DateTo),
		zap.Int("page_size", req.PageSize),
	)

	res, err := s.runner.RunAPI(ctx, req)
	if err != nil {
		s.log.Error("scheduled ingest not recorded", zap.Error(err))
		return
	}
	s.log.Info("scheduled ingest complete",
		zap.Int64("run_id", res.RunID),
		zap.Int("ingested", res.ItemsIngested),
		zap.Int("failed", res.ItemsFailed),
		zap.Bool("success", res.Success),
	)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.SweepStaleRuns(ctx); err != nil {
		s.log.Error("stale run sweep failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
