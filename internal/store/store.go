// Package store persists releases, tenders, supplier profiles and the
// ingestion log in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tenderfeed/tender-cli/internal/model"
)

var (
	// ErrNotFound is returned by single-row reads that match nothing.
	ErrNotFound = eris.New("not found")
	// ErrRunClosed is returned when finishing a run that is missing or
	// already finalized.
	ErrRunClosed = eris.New("run not found or already finished")
)

// RunFilter specifies criteria for listing ingestion runs.
type RunFilter struct {
	Source model.RunSource `json:"source,omitempty"`
	State  model.RunState  `json:"state,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ErrorFilter specifies criteria for listing ingestion errors. A zero
// RunID lists errors from every run.
type ErrorFilter struct {
	RunID int64 `json:"run_id,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

const defaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func (f ErrorFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for tender ingestion.
type Store interface {
	// Releases and tenders. Upserts fill in the generated ID and timestamps.
	UpsertRelease(ctx context.Context, r *model.Release) error
	UpsertProcuringEntity(ctx context.Context, e *model.ProcuringEntity) error
	UpsertTender(ctx context.Context, t *model.Tender) error
	ReplaceTenderDocuments(ctx context.Context, tenderID int64, docs []model.TenderDocument) error
	SetTenderMatchScore(ctx context.Context, tenderID int64, score int) error
	GetTender(ctx context.Context, tenderID string) (*model.Tender, error)
	ListTenderDocuments(ctx context.Context, tenderID int64) ([]model.TenderDocument, error)
	CountReleases(ctx context.Context) (int64, error)

	// Ingestion log
	CreateRun(ctx context.Context, source model.RunSource) (*model.IngestionRun, error)
	FinishRun(ctx context.Context, run *model.IngestionRun) error
	GetRun(ctx context.Context, id int64) (*model.IngestionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error)
	RecordError(ctx context.Context, e *model.IngestionError) error
	ListErrors(ctx context.Context, filter ErrorFilter) ([]model.IngestionError, error)
	SweepStaleRuns(ctx context.Context, startedBefore time.Time, details string) (int64, error)
	PruneRuns(ctx context.Context, startedBefore time.Time) (int64, error)

	// Supplier profiles
	FirstProfile(ctx context.Context) (*model.SupplierProfile, error)
	GetProfile(ctx context.Context, id int64) (*model.SupplierProfile, error)
	GetOrCreateUserProfile(ctx context.Context, userID, email string) (*model.SupplierProfile, error)
	SaveProfile(ctx context.Context, p *model.SupplierProfile) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
