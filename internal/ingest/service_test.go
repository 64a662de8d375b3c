package ingest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/tenderfeed/tender-cli/internal/events"
	"github.com/tenderfeed/tender-cli/internal/match"
	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/store"
)

func TestRunAPI_Page(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/OCDSReleases", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("PageNumber"))
		assert.Equal(t, "3", q.Get("PageSize"))
		assert.Equal(t, "2025-01-01", q.Get("dateFrom"))
		assert.Equal(t, "2025-01-02", q.Get("dateTo"))
		_, _ = w.Write([]byte(`{"releases":[` + releaseJSON("A") + `,` + releaseJSON("B") + `,{"tender":{}}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	st := newTestStore(t)
	svc, rec := newTestService(t, st, srv.URL, Options{})

	res, err := svc.RunAPI(ctx, APIRequest{PageNumber: 2, PageSize: 3, DateFrom: "2025-01-01", DateTo: "2025-01-02"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsIngested)
	assert.Equal(t, 1, res.ItemsFailed)
	assert.False(t, res.Success)
	assert.Equal(t, "Fetched 3 releases from API (2025-01-01 to 2025-01-02)", res.Details)

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSourceAPI, run.Source)
	assert.Equal(t, model.RunStateFailed, run.State())

	finished := rec.ofType(events.TypeRunFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, res, finished[0].Data.(events.RunFinished).RunResult)
	assert.Len(t, rec.ofType(events.TypeTenderUpserted), 2)
}

func TestRunAPI_DefaultsAndOpenRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("PageNumber"))
		assert.Equal(t, "100", r.URL.Query().Get("PageSize"))
		assert.False(t, r.URL.Query().Has("dateTo"))
		_, _ = w.Write([]byte(`{"releases":[` + releaseJSON("A") + `]}`))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})
	res, err := svc.RunAPI(context.Background(), APIRequest{DateFrom: "2025-01-01"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Fetched 1 releases from API (2025-01-01 to end)", res.Details)

	res, err = svc.RunAPI(context.Background(), APIRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Fetched 1 releases from API", res.Details)
}

func TestRunAPI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	st := newTestStore(t)
	svc := NewService(st, testFetcher(50*time.Millisecond), testFetcher(time.Second), nil, Options{APIBaseURL: srv.URL})

	res, err := svc.RunAPI(ctx, APIRequest{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.ItemsIngested)
	assert.Zero(t, res.ItemsFailed)
	assert.Equal(t, "OCDSReleases API call failed: source_timeout", res.Details)

	errs, err := st.ListErrors(ctx, store.ErrorFilter{RunID: res.RunID})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Empty(t, errs[0].ReleaseID)
	assert.Equal(t, "OCDSReleases API call failed", errs[0].PayloadSnippet)
	assert.True(t, strings.HasPrefix(errs[0].Message, "source_timeout: "), errs[0].Message)
}

func TestRunAPI_SourceFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   SourceReason
	}{
		{"server error", http.StatusInternalServerError, "", SourceStatus},
		{"not found", http.StatusNotFound, "", SourceStatus},
		{"not json", http.StatusOK, "<html>maintenance</html>", SourceDecode},
		{"releases not a list", http.StatusOK, `{"releases":"none"}`, SourceDecode},
		{"array body", http.StatusOK, `[]`, SourceDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})
			res, err := svc.RunAPI(context.Background(), APIRequest{})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, "OCDSReleases API call failed: "+string(tt.want), res.Details)
		})
	}
}

func TestRunAPI_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	svc, _ := newTestService(t, newTestStore(t), base, Options{})
	res, err := svc.RunAPI(context.Background(), APIRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OCDSReleases API call failed: source_unavailable", res.Details)
}

func TestRunAPI_MissingReleasesIsEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"links":{}}`))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})
	res, err := svc.RunAPI(context.Background(), APIRequest{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Fetched 0 releases from API", res.Details)
}

func TestRunAPI_CachesScoreAgainstFirstProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"releases":[` + releaseJSON("A") + `]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	st := newTestStore(t)
	profile := model.AnonymousProfile()
	require.NoError(t, st.SaveProfile(ctx, &profile))

	svc, _ := newTestService(t, st, srv.URL, Options{CacheScore: true})
	_, err := svc.RunAPI(ctx, APIRequest{})
	require.NoError(t, err)

	tender, err := st.GetTender(ctx, "A")
	require.NoError(t, err)
	assert.NotNil(t, tender.MatchScore)

	svc.opts.CacheProfileID = profile.ID + 100
	assert.Nil(t, svc.cacheProfile(ctx))
}

const bulkCSV = "tender_id,title,value,closing_date\nR9,IT Services,500000,2025-01-01\n,No id here,10,\n"

func TestRunFile_CSVContent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{})

	res, err := svc.RunFile(ctx, FileSource{Content: []byte(bulkCSV), Name: "bulk.csv"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsIngested)
	assert.Equal(t, 1, res.ItemsFailed)
	assert.False(t, res.Success)
	assert.Equal(t, "Processed bulk.csv: 1 ingested, 1 failed out of 2 rows", res.Details)

	tender, err := st.GetTender(ctx, "R9")
	require.NoError(t, err)
	require.NotNil(t, tender.ValueAmount)
	assert.InDelta(t, 500000.0, *tender.ValueAmount, 0.001)
	require.NotNil(t, tender.TenderEndDate)
	assert.Equal(t, "2025-01-01", tender.TenderEndDate.Format("2006-01-02"))

	errs, err := st.ListErrors(ctx, store.ErrorFilter{RunID: res.RunID})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "row_1", errs[0].ReleaseID)
	assert.Equal(t, rowFailureMessage, errs[0].Message)
	assert.Contains(t, errs[0].PayloadSnippet, "No id here")

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSourceBulk, run.Source)
}

func TestRunFile_UploadedXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, cells := range [][]string{{"Tender ID", "Title", "Province"}, {"X1", "Cleaning", "Gauteng"}, {"", "", ""}, {"X2", "Security", "Limpopo"}} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{})

	res, err := svc.RunFile(ctx, FileSource{Reader: &buf, Name: "upload.xlsx"}, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Processed upload.xlsx: 2 ingested, 0 failed out of 2 rows", res.Details)

	tender, err := st.GetTender(ctx, "X2")
	require.NoError(t, err)
	assert.Equal(t, "Limpopo", tender.Province)
}

func TestRunFile_RemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/bulk.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("id,title\nU1,Fencing\n"))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})

	res, err := svc.RunFile(context.Background(), FileSource{URL: srv.URL + "/files/bulk.csv"}, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Processed bulk.csv: 1 ingested, 0 failed out of 1 rows", res.Details)

	res, err = svc.RunFile(context.Background(), FileSource{URL: srv.URL + "/files/missing.csv"}, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ItemsFailed)
	assert.True(t, strings.HasPrefix(res.Details, "Failed to process missing.csv: source_status"), res.Details)
}

func TestRunFile_FileLevelFailures(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{})

	res, err := svc.RunFile(ctx, FileSource{Path: filepath.Join(t.TempDir(), "nope.csv")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsFailed)
	assert.True(t, strings.HasPrefix(res.Details, "Failed to process nope.csv: source_unavailable"), res.Details)

	errs, err := st.ListErrors(ctx, store.ErrorFilter{RunID: res.RunID})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0].Message, "File processing error: "), errs[0].Message)
	assert.Equal(t, "File: nope.csv", errs[0].PayloadSnippet)

	res, err = svc.RunFile(ctx, FileSource{Content: []byte("PK\x03\x04garbage"), Name: "broken.xlsx"}, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Details, "Failed to process broken.xlsx: source_decode"), res.Details)

	res, err = svc.RunFile(ctx, FileSource{}, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Details, "Failed to process uploaded_file: source_unsupported"), res.Details)
}

func TestRunFile_LocalPathAndExistingRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{})

	path := filepath.Join(t.TempDir(), "monthly.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"releases":[`+releaseJSON("J1")+`,`+releaseJSON("J2")+`]}`), 0o644))

	run, err := st.CreateRun(ctx, model.RunSourceBulk)
	require.NoError(t, err)

	res, err := svc.RunFile(ctx, FileSource{Path: path}, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, res.RunID)
	assert.Equal(t, "Processed monthly.json: 2 ingested, 0 failed out of 2 rows", res.Details)

	_, err = svc.RunFile(ctx, FileSource{Path: path}, run.ID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrRunClosed))
}

func TestFileSource_DisplayName(t *testing.T) {
	tests := []struct {
		src  FileSource
		want string
	}{
		{FileSource{Reader: strings.NewReader(""), Name: "a.xlsx", URL: "https://x/b.csv"}, "a.xlsx"},
		{FileSource{Reader: strings.NewReader("")}, "uploaded_file"},
		{FileSource{URL: "https://data.etenders.gov.za/Home/ReleasesFiles/2025-01.xlsx?x=1"}, "2025-01.xlsx"},
		{FileSource{URL: "https://data.etenders.gov.za/"}, "https://data.etenders.gov.za/"},
		{FileSource{Path: "/tmp/exports/2024-12.csv"}, "2024-12.csv"},
		{FileSource{Content: []byte("x")}, "uploaded_file"},
		{FileSource{Content: []byte("x"), Name: "given.csv"}, "given.csv"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.src.DisplayName())
	}
}

// pagedServer serves pages of the given sizes and counts requests.
func pagedServer(t *testing.T, sizes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		assert.Equal(t, strconv.Itoa(n), r.URL.Query().Get("PageNumber"))
		size := 0
		if n <= len(sizes) {
			size = sizes[n-1]
		}
		_, _ = w.Write([]byte(releasesPage("p"+strconv.Itoa(n), size)))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestBackfill_DateRangePaging(t *testing.T) {
	srv, calls := pagedServer(t, 100, 37)
	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})

	res, err := svc.Backfill(context.Background(), BackfillRequest{DateFrom: "2025-01-01", DateTo: "2025-01-31"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 137, res.ItemsIngested)
	assert.True(t, res.Success)
	assert.Equal(t, "API backfill: 137 ingested, 0 failed from 2025-01-01 to 2025-01-31", res.Details)
}

func TestBackfill_ShortFirstPageStops(t *testing.T) {
	srv, calls := pagedServer(t, 37, 100)
	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})

	res, err := svc.Backfill(context.Background(), BackfillRequest{DateFrom: "2025-01-01", DateTo: "2025-01-31", PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 37, res.ItemsIngested)
}

func TestBackfill_MaxPages(t *testing.T) {
	srv, calls := pagedServer(t, 2, 2, 2, 2, 2)
	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{BackfillMaxPages: 3})

	res, err := svc.Backfill(context.Background(), BackfillRequest{DateFrom: "2025-01-01", DateTo: "2025-01-02", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 6, res.ItemsIngested)
}

func TestMorePages(t *testing.T) {
	assert.True(t, morePages(100, 100))
	assert.False(t, morePages(37, 100))
	assert.False(t, morePages(0, 100))
}

func TestBackfill_FileNameCandidates(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/ReleasesFiles/2025-01.csv" {
			_, _ = w.Write([]byte("id,title\nF1,Catering\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})
	res, err := svc.Backfill(context.Background(), BackfillRequest{FileName: "2025-01.csv"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Processed 2025-01.csv: 1 ingested, 0 failed out of 1 rows", res.Details)
	assert.Equal(t, []string{"/Home/DownloadReleaseFile", "/Home/ReleasesFiles/2025-01.csv", "/api/ReleasesFiles/2025-01.csv"}, paths)
}

func TestBackfill_FileNameFallsBackToLocalPath(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "local.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\nL1\n"), 0o644))

	svc, _ := newTestService(t, newTestStore(t), srv.URL, Options{})
	res, err := svc.Backfill(context.Background(), BackfillRequest{FileName: path})
	require.NoError(t, err)
	assert.Equal(t, "Processed local.csv: 1 ingested, 0 failed out of 1 rows", res.Details)
}

func TestBackfill_Invalid(t *testing.T) {
	svc, _ := newTestService(t, newTestStore(t), "http://unused.invalid", Options{})
	_, err := svc.Backfill(context.Background(), BackfillRequest{DateFrom: "2025-01-01"})
	assert.ErrorIs(t, err, ErrInvalidBackfill)

	_, err = svc.StartBackfill(context.Background(), BackfillRequest{})
	assert.ErrorIs(t, err, ErrInvalidBackfill)
}

func TestStartBackfill_Background(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, rec := newTestService(t, st, "http://unused.invalid", Options{})

	ctx, cancel := context.WithCancel(ctx)
	id, err := svc.StartBackfill(ctx, BackfillRequest{File: &FileSource{Reader: strings.NewReader(bulkCSV), Name: "upload.csv"}})
	require.NoError(t, err)
	cancel()
	svc.Wait()

	run, err := st.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, "Processed upload.csv: 1 ingested, 1 failed out of 2 rows", run.Details)
	assert.Len(t, rec.ofType(events.TypeRunFinished), 1)
}

func TestComputeScore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	payload := `{"id":"S1","tender":{"title":"Server upgrade","procuringRegion":"Gauteng","additionalClassifications":["72000000"],` +
		`"tenderPeriod":{"endDate":"2025-01-20"},"procuringEntity":{"name":"City of Johannesburg"}}}`
	require.True(t, svc.Upserter().Upsert(ctx, []byte(payload), 0, nil).OK())

	profile := model.AnonymousProfile()
	score, err := svc.ComputeScore(ctx, "S1", &profile)
	require.NoError(t, err)

	stored, err := st.GetTender(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, match.Score(stored, &profile, now), score)

	b, err := svc.ExplainScore(ctx, "S1", &profile)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Classification)
	assert.Equal(t, 10, b.Buyer)
	assert.Equal(t, 10, b.Recency)
	assert.Equal(t, score, b.Total)

	_, err = svc.ComputeScore(ctx, "missing", &profile)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))

	_, err = svc.ComputeScore(ctx, "S1", nil)
	require.Error(t, err)
}

func TestSweepAndPruneRuns(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newTestService(t, st, "http://unused.invalid", Options{StaleAfter: 2 * time.Hour})

	stale, err := st.CreateRun(ctx, model.RunSourceAPI)
	require.NoError(t, err)
	require.NoError(t, st.RecordError(ctx, &model.IngestionError{RunID: &stale.ID, Message: "boom"}))

	n, err := svc.SweepStaleRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err = svc.SweepStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	run, err := st.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, run.State())
	assert.True(t, strings.HasPrefix(run.Details, "Run abandoned: no completion recorded before "), run.Details)

	n, err = svc.PruneRuns(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	errs, err := st.ListErrors(ctx, store.ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Nil(t, errs[0].RunID)
}
