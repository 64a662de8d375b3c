package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/model"
)

// ErrInvalidBackfill is returned when a backfill request names no source.
var ErrInvalidBackfill = eris.New("either provide a file upload, fileUrl, fileName, or both dateFrom and dateTo")

// BackfillRequest describes one backfill. The first usable form wins, in
// the order File, FileURL, DateFrom+DateTo, FileName.
type BackfillRequest struct {
	File     *FileSource `json:"-"`
	FileURL  string      `json:"fileUrl"`
	FileName string      `json:"fileName"`
	DateFrom string      `json:"dateFrom"`
	DateTo   string      `json:"dateTo"`
	PageSize int         `json:"pageSize"`
}

// Validate reports ErrInvalidBackfill when no form is usable.
func (r BackfillRequest) Validate() error {
	switch {
	case r.File != nil, r.FileURL != "", r.FileName != "":
		return nil
	case r.DateFrom != "" && r.DateTo != "":
		return nil
	}
	return ErrInvalidBackfill
}

// Backfill runs req to completion in one bulk run.
func (s *Service) Backfill(ctx context.Context, req BackfillRequest) (model.RunResult, error) {
	if err := req.Validate(); err != nil {
		return model.RunResult{}, err
	}
	run, err := s.openRun(ctx, model.RunSourceBulk)
	if err != nil {
		return model.RunResult{}, err
	}
	return s.backfill(ctx, run, req)
}

// StartBackfill opens the run and continues req in the background. The
// returned run id can be polled until the run is finalized. An uploaded
// file is read before returning so the caller may close it.
func (s *Service) StartBackfill(ctx context.Context, req BackfillRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.File != nil && req.File.Reader != nil {
		data, err := io.ReadAll(req.File.Reader)
		if err != nil {
			return 0, eris.Wrap(err, "ingest: read upload")
		}
		req.File = &FileSource{Content: data, Name: req.File.DisplayName()}
	}

	run, err := s.openRun(ctx, model.RunSourceBulk)
	if err != nil {
		return 0, err
	}

	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.backfill(bg, run, req); err != nil {
			s.log.Error("background backfill not finalized",
				zap.Int64("run_id", run.ID),
				zap.Error(err),
			)
		}
	}()
	return run.ID, nil
}

func (s *Service) backfill(ctx context.Context, run *model.IngestionRun, req BackfillRequest) (model.RunResult, error) {
	profile := s.cacheProfile(ctx)

	switch {
	case req.File != nil:
		res := s.ingestFile(ctx, run.ID, *req.File, profile)
		return s.finish(ctx, run, res.ingested, res.failed, res.err == nil, res.details)

	case req.FileURL != "":
		res := s.ingestFile(ctx, run.ID, FileSource{URL: req.FileURL}, profile)
		return s.finish(ctx, run, res.ingested, res.failed, res.err == nil, res.details)

	case req.DateFrom != "" && req.DateTo != "":
		return s.backfillDates(ctx, run, req, profile)

	default:
		src := s.resolveFileName(ctx, req.FileName)
		res := s.ingestFile(ctx, run.ID, src, profile)
		return s.finish(ctx, run, res.ingested, res.failed, res.err == nil, res.details)
	}
}

// backfillDates pages through the release API from page 1 until a page
// ingests fewer items than the page size.
func (s *Service) backfillDates(ctx context.Context, run *model.IngestionRun, req BackfillRequest, profile *model.SupplierProfile) (model.RunResult, error) {
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	var ingested, failed, pages int
	sourceOK := true
	for page := 1; ; page++ {
		if s.opts.BackfillMaxPages > 0 && page > s.opts.BackfillMaxPages {
			s.log.Info("backfill page limit reached",
				zap.Int64("run_id", run.ID),
				zap.Int("max_pages", s.opts.BackfillMaxPages),
			)
			break
		}
		if ctx.Err() != nil {
			sourceOK = false
			s.recordRunError(ctx, run.ID, ctx.Err().Error(), apiFailureSnippet)
			break
		}

		res := s.ingestPage(ctx, run.ID, APIRequest{
			PageNumber: page,
			PageSize:   pageSize,
			DateFrom:   req.DateFrom,
			DateTo:     req.DateTo,
		}, profile)
		pages++
		ingested += res.ingested
		failed += res.failed
		if res.err != nil {
			sourceOK = false
		}
		if !morePages(res.ingested, pageSize) {
			break
		}
	}

	s.log.Info("api backfill complete",
		zap.Int64("run_id", run.ID),
		zap.Int("pages", pages),
	)
	details := fmt.Sprintf("API backfill: %d ingested, %d failed from %s to %s",
		ingested, failed, req.DateFrom, req.DateTo)
	return s.finish(ctx, run, ingested, failed, sourceOK, details)
}

// morePages reports whether a page that ingested n items may be followed by
// another.
func morePages(ingested, pageSize int) bool {
	return ingested >= pageSize
}

// fileNameCandidates lists the URLs a bare bulk-file name is tried at.
func (s *Service) fileNameCandidates(name string) []string {
	data := strings.TrimRight(s.opts.DataBaseURL, "/")
	api := strings.TrimRight(s.opts.APIBaseURL, "/")
	escaped := url.PathEscape(name)
	return []string{
		data + "/Home/DownloadReleaseFile?fileName=" + url.QueryEscape(name),
		data + "/Home/ReleasesFiles/" + escaped,
		data + "/api/ReleasesFiles/" + escaped,
		api + "/bulk/" + escaped,
	}
}

// resolveFileName downloads name from the first candidate URL that serves
// it, falling back to name as a local path.
func (s *Service) resolveFileName(ctx context.Context, name string) FileSource {
	for _, candidate := range s.fileNameCandidates(name) {
		data, srcErr := s.loadFile(ctx, FileSource{URL: candidate})
		if srcErr != nil {
			s.log.Debug("bulk file candidate failed",
				zap.String("url", candidate),
				zap.String("reason", string(srcErr.Reason)),
			)
			continue
		}
		s.log.Info("bulk file resolved", zap.String("file", name), zap.String("url", candidate))
		return FileSource{Content: data, Name: name}
	}
	return FileSource{Path: name}
}
