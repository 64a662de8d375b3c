package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/fetcher"
	"github.com/tenderfeed/tender-cli/internal/model"
)

const apiFailureSnippet = "OCDSReleases API call failed"

// SourceReason classifies a batch-level fetch failure.
type SourceReason string

const (
	SourceTimeout     SourceReason = "source_timeout"
	SourceStatus      SourceReason = "source_status"
	SourceDecode      SourceReason = "source_decode"
	SourceUnavailable SourceReason = "source_unavailable"
	SourceUnsupported SourceReason = "source_unsupported"
)

// SourceError is a fetch or decode failure that aborts a batch.
type SourceError struct {
	Reason SourceReason
	Err    error
}

func (e *SourceError) Error() string {
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }

// classifyFetch turns a transport error into a SourceError.
func classifyFetch(err error) *SourceError {
	if _, ok := fetcher.StatusCode(err); ok {
		return &SourceError{Reason: SourceStatus, Err: err}
	}
	if fetcher.IsTimeout(err) {
		return &SourceError{Reason: SourceTimeout, Err: err}
	}
	return &SourceError{Reason: SourceUnavailable, Err: err}
}

// APIRequest selects one page of the release API. Dates are YYYY-MM-DD and
// optional.
type APIRequest struct {
	PageNumber int    `json:"pageNumber"`
	PageSize   int    `json:"pageSize"`
	DateFrom   string `json:"dateFrom"`
	DateTo     string `json:"dateTo"`
}

func (r APIRequest) withDefaults(pageSize int) APIRequest {
	if r.PageNumber < 1 {
		r.PageNumber = 1
	}
	if r.PageSize < 1 {
		r.PageSize = pageSize
	}
	return r
}

// dateRange renders the " (from to to)" suffix used in run details.
func (r APIRequest) dateRange() string {
	if r.DateFrom == "" && r.DateTo == "" {
		return ""
	}
	from, to := r.DateFrom, r.DateTo
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = "end"
	}
	return fmt.Sprintf(" (%s to %s)", from, to)
}

func (r APIRequest) query() url.Values {
	q := url.Values{}
	q.Set("PageNumber", strconv.Itoa(r.PageNumber))
	q.Set("PageSize", strconv.Itoa(r.PageSize))
	if r.DateFrom != "" {
		q.Set("dateFrom", r.DateFrom)
	}
	if r.DateTo != "" {
		q.Set("dateTo", r.DateTo)
	}
	return q
}

// pageResult tallies one API page.
type pageResult struct {
	fetched  int
	ingested int
	failed   int
	err      *SourceError
}

// RunAPI ingests one page of the release API in a new api run.
func (s *Service) RunAPI(ctx context.Context, req APIRequest) (model.RunResult, error) {
	req = req.withDefaults(s.opts.PageSize)

	run, err := s.openRun(ctx, model.RunSourceAPI)
	if err != nil {
		return model.RunResult{}, err
	}

	res := s.ingestPage(ctx, run.ID, req, s.cacheProfile(ctx))
	if res.err != nil {
		return s.finish(ctx, run, res.ingested, res.failed, false,
			fmt.Sprintf("%s: %s", apiFailureSnippet, res.err.Reason))
	}
	return s.finish(ctx, run, res.ingested, res.failed, true,
		fmt.Sprintf("Fetched %d releases from API%s", res.fetched, req.dateRange()))
}

// ingestPage fetches one page and upserts every release on it, recording
// errors against runID. A fetch or decode failure is recorded once and
// returned in the result.
func (s *Service) ingestPage(ctx context.Context, runID int64, req APIRequest, profile *model.SupplierProfile) pageResult {
	log := s.log.With(
		zap.Int64("run_id", runID),
		zap.Int("page", req.PageNumber),
		zap.Int("page_size", req.PageSize),
	)

	releases, srcErr := s.fetchReleases(ctx, req)
	if srcErr != nil {
		log.Warn("release page fetch failed",
			zap.String("reason", string(srcErr.Reason)),
			zap.Error(srcErr.Err),
		)
		s.recordRunError(ctx, runID, srcErr.Error(), apiFailureSnippet)
		return pageResult{err: srcErr}
	}

	res := pageResult{fetched: len(releases)}
	for _, rel := range releases {
		out := s.upserter.Upsert(ctx, []byte(rel.Raw), runID, profile)
		if out.OK() {
			res.ingested++
		} else {
			res.failed++
		}
	}
	log.Debug("release page ingested",
		zap.Int("fetched", res.fetched),
		zap.Int("ingested", res.ingested),
		zap.Int("failed", res.failed),
	)
	return res
}

// fetchReleases calls {api}/OCDSReleases and returns the releases list. A
// body without a releases list is an empty page.
func (s *Service) fetchReleases(ctx context.Context, req APIRequest) ([]gjson.Result, *SourceError) {
	endpoint := strings.TrimRight(s.opts.APIBaseURL, "/") + "/OCDSReleases"

	body, err := s.api.Get(ctx, endpoint, req.query())
	if err != nil {
		return nil, classifyFetch(err)
	}

	if !gjson.ValidBytes(body) {
		return nil, &SourceError{Reason: SourceDecode, Err: eris.Errorf("ingest: response from %s is not JSON", endpoint)}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &SourceError{Reason: SourceDecode, Err: eris.Errorf("ingest: response from %s is not a JSON object", endpoint)}
	}

	list := doc.Get("releases")
	if !list.Exists() || list.Type == gjson.Null {
		return nil, nil
	}
	if !list.IsArray() {
		return nil, &SourceError{Reason: SourceDecode, Err: eris.New("ingest: releases is not a list")}
	}
	return list.Array(), nil
}
