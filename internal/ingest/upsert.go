// Package ingest merges OCDS releases into storage and drives ingestion runs
// from the release API and from bulk files.
package ingest

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/events"
	"github.com/tenderfeed/tender-cli/internal/match"
	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/normalize"
	"github.com/tenderfeed/tender-cli/internal/store"
)

// payloadSnippetLimit bounds the payload text kept on an IngestionError.
const payloadSnippetLimit = 2000

// FailureReason classifies why a payload was not persisted.
type FailureReason string

const (
	ReasonMissingReleaseID FailureReason = "missing_release_id"
	ReasonInvalidPayload   FailureReason = "invalid_payload"
	ReasonStorage          FailureReason = "storage"
)

// Failure is an upsert that did not persist.
type Failure struct {
	Reason    FailureReason
	ReleaseID string
	Err       error
}

func (f *Failure) Error() string {
	return string(f.Reason) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Outcome is either the persisted release and tender or a Failure.
type Outcome struct {
	Release *model.Release
	Tender  *model.Tender
	Failure *Failure
}

// OK reports whether the payload was persisted.
func (o Outcome) OK() bool { return o.Failure == nil }

// Upserter merges canonical releases into the store. Each call touches one
// release and is independent of any other.
type Upserter struct {
	store  store.Store
	events events.Publisher
	now    func() time.Time
	log    *zap.Logger
}

// NewUpserter creates an Upserter. pub may be nil.
func NewUpserter(st store.Store, pub events.Publisher) *Upserter {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Upserter{
		store:  st,
		events: pub,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "upsert")),
	}
}

// Upsert persists one canonical release payload: the release row, its
// buyer, its tender and the tender's document set. When cacheProfile is not
// nil the tender's cached match score is refreshed against it. Failures are
// recorded as an IngestionError on runID (0 for none) and returned in the
// Outcome.
func (u *Upserter) Upsert(ctx context.Context, payload []byte, runID int64, cacheProfile *model.SupplierProfile) Outcome {
	now := u.now()

	parsed, err := normalize.ParseRelease(payload, now)
	if err != nil {
		reason := ReasonInvalidPayload
		if eris.Is(err, normalize.ErrMissingReleaseID) {
			reason = ReasonMissingReleaseID
		}
		return u.fail(ctx, runID, payload, &Failure{Reason: reason, Err: err})
	}

	rel := parsed.Release
	if err := u.store.UpsertRelease(ctx, &rel); err != nil {
		return u.fail(ctx, runID, payload, &Failure{Reason: ReasonStorage, ReleaseID: rel.ReleaseID, Err: err})
	}

	tender := parsed.Tender
	tender.ReleaseID = rel.ID
	if parsed.Entity != nil {
		entity := *parsed.Entity
		if err := u.store.UpsertProcuringEntity(ctx, &entity); err != nil {
			return u.fail(ctx, runID, payload, &Failure{Reason: ReasonStorage, ReleaseID: rel.ReleaseID, Err: err})
		}
		tender.ProcuringEntityID = &entity.ID
		tender.ProcuringEntity = &entity
	}

	if err := u.store.UpsertTender(ctx, &tender); err != nil {
		return u.fail(ctx, runID, payload, &Failure{Reason: ReasonStorage, ReleaseID: rel.ReleaseID, Err: err})
	}

	if err := u.store.ReplaceTenderDocuments(ctx, tender.ID, parsed.Documents); err != nil {
		return u.fail(ctx, runID, payload, &Failure{Reason: ReasonStorage, ReleaseID: rel.ReleaseID, Err: err})
	}

	if cacheProfile != nil {
		u.refreshScore(ctx, &tender, cacheProfile, now)
	}

	events.Emit(ctx, u.events, events.New(events.TypeTenderUpserted, events.TenderUpserted{
		RunID:      runID,
		ReleaseID:  rel.ReleaseID,
		TenderID:   tender.TenderID,
		OCID:       tender.OCID,
		MatchScore: tender.MatchScore,
	}))

	return Outcome{Release: &rel, Tender: &tender}
}

// refreshScore caches the tender's score for profile. Failures are logged
// and never fail the upsert.
func (u *Upserter) refreshScore(ctx context.Context, t *model.Tender, profile *model.SupplierProfile, now time.Time) {
	score := match.Score(t, profile, now)
	if err := u.store.SetTenderMatchScore(ctx, t.ID, score); err != nil {
		u.log.Warn("cached match score not saved",
			zap.String("tender_id", t.TenderID),
			zap.Int64("profile_id", profile.ID),
			zap.Error(err),
		)
		return
	}
	t.MatchScore = &score
}

func (u *Upserter) fail(ctx context.Context, runID int64, payload []byte, f *Failure) Outcome {
	u.log.Warn("release not ingested",
		zap.Int64("run_id", runID),
		zap.String("release_id", f.ReleaseID),
		zap.String("reason", string(f.Reason)),
		zap.Error(f.Err),
	)

	rec := &model.IngestionError{
		ReleaseID:      f.ReleaseID,
		Message:        f.Err.Error(),
		PayloadSnippet: truncate(string(payload), payloadSnippetLimit),
	}
	if runID != 0 {
		rec.RunID = &runID
	}
	if err := u.store.RecordError(ctx, rec); err != nil {
		u.log.Error("ingestion error not recorded",
			zap.String("release_id", f.ReleaseID),
			zap.Error(err),
		)
	}
	return Outcome{Failure: f}
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
