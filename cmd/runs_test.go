//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderfeed/tender-cli/internal/match"
	"github.com/tenderfeed/tender-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	finished := now.Add(2 * time.Minute)
	runs := []model.IngestionRun{
		{
			ID:            12,
			Source:        model.RunSourceAPI,
			StartedAt:     now,
			FinishedAt:    &finished,
			ItemsIngested: 98,
			ItemsFailed:   2,
			Details:       "Fetched 100 releases from API (2025-06-14 to 2025-06-15)",
		},
		{
			ID:        13,
			Source:    model.RunSourceBulk,
			StartedAt: now.Add(time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "STATE")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "Fetched 100 releases")
}

func TestFormatErrorsList(t *testing.T) {
	runID := int64(7)
	errs := []model.IngestionError{
		{ID: 1, RunID: &runID, ReleaseID: "row_3", Message: "Failed to convert row to OCDS release format"},
		{ID: 2, Message: "source_timeout: fetcher: get"},
	}

	var buf bytes.Buffer
	formatErrorsList(&buf, errs)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "row_3")
	assert.Contains(t, lines[2], "7")
	assert.Contains(t, lines[3], "source_timeout")
	assert.Contains(t, lines[3], "-")
}

func TestEllipsize(t *testing.T) {
	assert.Equal(t, "short", ellipsize("short", 10))
	assert.Equal(t, "a b c", ellipsize("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", ellipsize("abcdefghijklmnop", 10))
}

func TestParseID(t *testing.T) {
	id, err := parseID("run", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseID("run", bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBreakdown(t *testing.T) {
	var buf bytes.Buffer
	formatBreakdown(&buf, "T1", "Acme", match.Breakdown{Classification: 30, Location: 15, Total: 45})

	output := buf.String()
	assert.Contains(t, output, "T1")
	assert.Contains(t, output, "Acme")
	assert.Regexp(t, `Score:\s+45`, output)
}
