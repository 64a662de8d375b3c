package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/events"
	"github.com/tenderfeed/tender-cli/internal/fetcher"
	"github.com/tenderfeed/tender-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testFetcher(timeout time.Duration) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   "tenders-test",
		Timeout:     timeout,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	})
}

func newTestService(t *testing.T, st store.Store, baseURL string, opts Options) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.APIBaseURL = baseURL + "/api"
	opts.DataBaseURL = baseURL
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 2 * time.Hour
	}
	svc := NewService(st, testFetcher(2*time.Second), testFetcher(2*time.Second), rec, opts)
	return svc, rec
}

// recorder is an in-memory events.Publisher.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// releaseJSON builds a minimal OCDS release with the given id.
func releaseJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"ocid":"ocds-%s","date":"2025-01-15T08:00:00Z","tag":["tender"],"tender":{"id":%q,"title":"Tender %s","status":"Active","value":{"amount":1000,"currency":"ZAR"}}}`,
		id, id, id, id)
}

// releasesPage wraps n generated releases in an API response body.
func releasesPage(prefix string, n int) string {
	items := make([]string, n)
	for i := range n {
		items[i] = releaseJSON(fmt.Sprintf("%s-%d", prefix, i))
	}
	return `{"releases":[` + strings.Join(items, ",") + `]}`
}
