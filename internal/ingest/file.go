package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/fetcher"
	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/normalize"
	"github.com/tenderfeed/tender-cli/internal/store"
)

const (
	rowSnippetLimit   = 500
	defaultUploadName = "uploaded_file"
	rowFailureMessage = "Failed to convert row to OCDS release format"
)

// FileSource names a bulk file. The first set field wins, in the order
// Reader, URL, Path, Content.
type FileSource struct {
	// Reader is an uploaded file; Name is its client-side file name.
	Reader io.Reader
	Name   string

	URL     string
	Path    string
	Content []byte
}

// DisplayName is the name used for format detection and run details.
func (f FileSource) DisplayName() string {
	switch {
	case f.Reader != nil:
		if f.Name != "" {
			return f.Name
		}
		return defaultUploadName
	case f.URL != "":
		if u, err := url.Parse(f.URL); err == nil {
			if base := path.Base(u.Path); base != "." && base != "/" {
				return base
			}
		}
		return f.URL
	case f.Path != "":
		return filepath.Base(f.Path)
	default:
		if f.Name != "" {
			return f.Name
		}
		return defaultUploadName
	}
}

// fileResult tallies one bulk file.
type fileResult struct {
	ingested int
	failed   int
	details  string
	err      *SourceError
}

// RunFile ingests a bulk file. When runID is 0 a new bulk run is opened;
// otherwise the given open run is used and finalized.
func (s *Service) RunFile(ctx context.Context, src FileSource, runID int64) (model.RunResult, error) {
	run, err := s.runFor(ctx, runID)
	if err != nil {
		return model.RunResult{}, err
	}

	res := s.ingestFile(ctx, run.ID, src, s.cacheProfile(ctx))
	return s.finish(ctx, run, res.ingested, res.failed, res.err == nil, res.details)
}

func (s *Service) runFor(ctx context.Context, runID int64) (*model.IngestionRun, error) {
	if runID == 0 {
		return s.openRun(ctx, model.RunSourceBulk)
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: load run %d", runID)
	}
	if run.FinishedAt != nil {
		return nil, eris.Wrapf(store.ErrRunClosed, "ingest: run %d", runID)
	}
	return run, nil
}

// ingestFile loads, decodes and ingests every row of src against runID.
func (s *Service) ingestFile(ctx context.Context, runID int64, src FileSource, profile *model.SupplierProfile) fileResult {
	name := src.DisplayName()
	log := s.log.With(zap.Int64("run_id", runID), zap.String("file", name))

	data, srcErr := s.loadFile(ctx, src)
	var rows []map[string]any
	if srcErr == nil {
		var err error
		rows, err = fetcher.DecodeRows(ctx, data, name, fetcher.DecodeOptions{Charset: s.opts.FileCharset})
		if err != nil {
			srcErr = &SourceError{Reason: SourceDecode, Err: err}
		}
	}
	if srcErr != nil {
		return s.fileFailure(ctx, runID, name, fileResult{err: srcErr})
	}

	log.Info("bulk file decoded", zap.Int("rows", len(rows)))

	var res fileResult
	for idx, row := range rows {
		if err := ctx.Err(); err != nil {
			res.err = &SourceError{Reason: SourceUnavailable, Err: eris.Wrapf(err, "ingest: stopped at row %d", idx)}
			return s.fileFailure(ctx, runID, name, res)
		}

		norm := normalize.Normalize(normalize.Row(row))
		if !norm.OK() {
			res.failed++
			rowID := fmt.Sprintf("row_%d", idx)
			log.Warn("row not convertible",
				zap.String("row", rowID),
				zap.String("reason", string(norm.Reason)),
			)
			s.recordRowError(ctx, runID, rowID, row)
			continue
		}

		if out := s.upserter.Upsert(ctx, norm.Release, runID, profile); out.OK() {
			res.ingested++
		} else {
			res.failed++
		}
	}

	res.details = fmt.Sprintf("Processed %s: %d ingested, %d failed out of %d rows",
		name, res.ingested, res.failed, len(rows))
	return res
}

// fileFailure records a file-level error, counting it as one extra failure.
func (s *Service) fileFailure(ctx context.Context, runID int64, name string, res fileResult) fileResult {
	s.log.Warn("bulk file failed",
		zap.Int64("run_id", runID),
		zap.String("file", name),
		zap.String("reason", string(res.err.Reason)),
		zap.Error(res.err.Err),
	)
	res.failed++
	s.recordRunError(ctx, runID, fmt.Sprintf("File processing error: %s", res.err), fmt.Sprintf("File: %s", name))
	res.details = fmt.Sprintf("Failed to process %s: %s", name, res.err)
	return res
}

func (s *Service) recordRowError(ctx context.Context, runID int64, rowID string, row map[string]any) {
	snippet, err := json.Marshal(row)
	if err != nil {
		snippet = []byte(fmt.Sprint(row))
	}
	rec := &model.IngestionError{
		RunID:          &runID,
		ReleaseID:      rowID,
		Message:        rowFailureMessage,
		PayloadSnippet: truncate(string(snippet), rowSnippetLimit),
	}
	if err := s.store.RecordError(ctx, rec); err != nil {
		s.log.Error("ingestion error not recorded",
			zap.Int64("run_id", runID),
			zap.String("release_id", rowID),
			zap.Error(err),
		)
	}
}

// loadFile reads the bytes of src.
func (s *Service) loadFile(ctx context.Context, src FileSource) ([]byte, *SourceError) {
	switch {
	case src.Reader != nil:
		data, err := io.ReadAll(src.Reader)
		if err != nil {
			return nil, &SourceError{Reason: SourceUnavailable, Err: eris.Wrap(err, "ingest: read upload")}
		}
		return data, nil

	case src.URL != "":
		body, err := s.files.Download(ctx, src.URL)
		if err != nil {
			return nil, classifyFetch(err)
		}
		defer body.Close() //nolint:errcheck
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, classifyFetch(eris.Wrapf(err, "ingest: read %s", src.URL))
		}
		return data, nil

	case src.Path != "":
		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, &SourceError{Reason: SourceUnavailable, Err: eris.Wrapf(err, "ingest: open %s", src.Path)}
		}
		if info.IsDir() {
			return nil, &SourceError{Reason: SourceUnsupported, Err: eris.Errorf("ingest: %s is a directory", src.Path)}
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, &SourceError{Reason: SourceUnavailable, Err: eris.Wrapf(err, "ingest: read %s", src.Path)}
		}
		return data, nil

	case src.Content != nil:
		return src.Content, nil
	}
	return nil, &SourceError{Reason: SourceUnsupported, Err: eris.New("ingest: no file source given")}
}
