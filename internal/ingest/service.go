package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/events"
	"github.com/tenderfeed/tender-cli/internal/fetcher"
	"github.com/tenderfeed/tender-cli/internal/match"
	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/store"
)

// DefaultPageSize is the API page size used when a request names none.
const DefaultPageSize = 100

// Options configures a Service.
type Options struct {
	APIBaseURL       string
	DataBaseURL      string
	PageSize         int
	BackfillMaxPages int
	FileCharset      string

	// CacheScore refreshes each tender's cached match score during upsert
	// against CacheProfileID, or the first stored profile when it is 0.
	CacheScore     bool
	CacheProfileID int64

	StaleAfter time.Duration
}

// Service drives ingestion runs. A run processes its items sequentially;
// separate runs may execute concurrently.
type Service struct {
	store    store.Store
	api      fetcher.Fetcher
	files    fetcher.Fetcher
	events   events.Publisher
	upserter *Upserter
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	background sync.WaitGroup
}

// NewService wires a Service. api fetches release pages and files fetches
// bulk files; they usually differ only in timeout. pub may be nil.
func NewService(st store.Store, api, files fetcher.Fetcher, pub events.Publisher, opts Options) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Service{
		store:    st,
		api:      api,
		files:    files,
		events:   pub,
		upserter: NewUpserter(st, pub),
		opts:     opts,
		log:      zap.L().With(zap.String("component", "ingest")),
		now:      time.Now,
	}
}

// Upserter returns the service's upsert engine.
func (s *Service) Upserter() *Upserter { return s.upserter }

// Wait blocks until background runs started by StartBackfill finish.
func (s *Service) Wait() { s.background.Wait() }

func (s *Service) openRun(ctx context.Context, source model.RunSource) (*model.IngestionRun, error) {
	run, err := s.store.CreateRun(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s run", source)
	}
	s.log.Info("ingestion run started",
		zap.Int64("run_id", run.ID),
		zap.String("source", string(run.Source)),
	)
	return run, nil
}

// finish applies the single terminal update to run.
func (s *Service) finish(ctx context.Context, run *model.IngestionRun, ingested, failed int, sourceOK bool, details string) (model.RunResult, error) {
	run.ItemsIngested = ingested
	run.ItemsFailed = failed
	run.Success = sourceOK && failed == 0
	run.Details = details

	if err := s.store.FinishRun(ctx, run); err != nil {
		return run.Result(), eris.Wrapf(err, "ingest: finish run %d", run.ID)
	}

	log := s.log.With(
		zap.Int64("run_id", run.ID),
		zap.String("source", string(run.Source)),
		zap.Int("ingested", ingested),
		zap.Int("failed", failed),
	)
	if run.Success {
		log.Info("ingestion run finished", zap.String("details", details))
	} else {
		log.Warn("ingestion run finished with failures", zap.String("details", details))
	}

	events.Emit(ctx, s.events, events.New(events.TypeRunFinished, events.RunFinished{
		RunResult: run.Result(),
		Source:    run.Source,
	}))
	return run.Result(), nil
}

// recordRunError appends a run-level error with no release id.
func (s *Service) recordRunError(ctx context.Context, runID int64, message, snippet string) {
	rec := &model.IngestionError{
		RunID:          &runID,
		Message:        message,
		PayloadSnippet: snippet,
	}
	if err := s.store.RecordError(ctx, rec); err != nil {
		s.log.Error("ingestion error not recorded",
			zap.Int64("run_id", runID),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

// cacheProfile resolves the profile whose score is cached during upsert.
// It returns nil when caching is off or no profile is available.
func (s *Service) cacheProfile(ctx context.Context) *model.SupplierProfile {
	if !s.opts.CacheScore {
		return nil
	}

	var (
		p   *model.SupplierProfile
		err error
	)
	if s.opts.CacheProfileID > 0 {
		p, err = s.store.GetProfile(ctx, s.opts.CacheProfileID)
	} else {
		p, err = s.store.FirstProfile(ctx)
	}
	if err != nil {
		s.log.Warn("cache profile unavailable, skipping cached scores",
			zap.Int64("profile_id", s.opts.CacheProfileID),
			zap.Error(err),
		)
		return nil
	}
	return p
}

// ComputeScore loads a tender and scores it fresh for profile.
func (s *Service) ComputeScore(ctx context.Context, tenderID string, profile *model.SupplierProfile) (int, error) {
	b, err := s.ExplainScore(ctx, tenderID, profile)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// ExplainScore is ComputeScore with the per-component breakdown.
func (s *Service) ExplainScore(ctx context.Context, tenderID string, profile *model.SupplierProfile) (match.Breakdown, error) {
	if profile == nil {
		return match.Breakdown{}, eris.New("ingest: score needs a profile")
	}
	t, err := s.store.GetTender(ctx, tenderID)
	if err != nil {
		return match.Breakdown{}, eris.Wrapf(err, "ingest: load tender %s", tenderID)
	}
	return match.Explain(t, profile, s.now()), nil
}

// SweepStaleRuns closes runs that have stayed open longer than the
// configured stale window, marking them failed.
func (s *Service) SweepStaleRuns(ctx context.Context) (int64, error) {
	if s.opts.StaleAfter <= 0 {
		return 0, eris.New("ingest: stale window must be positive")
	}
	cutoff := s.now().UTC().Add(-s.opts.StaleAfter)
	details := fmt.Sprintf("Run abandoned: no completion recorded before %s", cutoff.Format(time.RFC3339))

	n, err := s.store.SweepStaleRuns(ctx, cutoff, details)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: sweep stale runs")
	}
	if n > 0 {
		s.log.Info("stale runs closed", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// PruneRuns deletes finished runs started before cutoff. Their errors are
// kept with no run link.
func (s *Service) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.PruneRuns(ctx, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "ingest: prune runs")
	}
	s.log.Info("runs pruned", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}
