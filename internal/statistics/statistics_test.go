package statistics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"image-reducer-go/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSized(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func TestBeginCapturesSize(t *testing.T) {
	src := writeSized(t, t.TempDir(), "shot.png", 500000)

	before := time.Now()
	op, err := Begin(src)
	require.NoError(t, err)

	assert.Equal(t, src, op.SourcePath)
	assert.Equal(t, int64(500000), op.SourceSize)
	assert.False(t, op.StartedAt.Before(before))

	other, err := Begin(src)
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.NotEqual(t, op.ID, other.ID)
}

func TestBeginMissingSource(t *testing.T) {
	_, err := Begin(filepath.Join(t.TempDir(), "gone.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIO))
	assert.Equal(t, errs.StageContext, errs.StageOf(err))
}

func TestFinalizeReadsDestination(t *testing.T) {
	dir := t.TempDir()
	op, err := Begin(writeSized(t, dir, "shot.png", 1000))
	require.NoError(t, err)

	res, err := op.Finalize(writeSized(t, dir, "shot-new.png", 250))
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.DestinationSize)
	assert.Equal(t, op, res.Operation)

	sum := res.Summary(op.StartedAt.Add(1500 * time.Millisecond))
	assert.True(t, sum.CompressionDefined)
	assert.InDelta(t, 0.75, sum.Compression, 1e-9)
	assert.Equal(t, "75.00%", sum.CompressionString())
	assert.Equal(t, 1500*time.Millisecond, sum.Elapsed)
	assert.Equal(t, "1000 B", sum.InitialHuman)
	assert.Contains(t, sum.String(), "Compression: 75.00%")
	assert.Contains(t, sum.String(), "Elapsed: 1.50s")
}

func TestFinalizeMissingDestination(t *testing.T) {
	dir := t.TempDir()
	op, err := Begin(writeSized(t, dir, "shot.png", 10))
	require.NoError(t, err)

	_, err = op.Finalize(filepath.Join(dir, "shot-new.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIO))
}

func TestSummaryZeroSourceSize(t *testing.T) {
	dir := t.TempDir()
	op, err := Begin(writeSized(t, dir, "empty.png", 0))
	require.NoError(t, err)
	res, err := op.Finalize(writeSized(t, dir, "empty-new.png", 0))
	require.NoError(t, err)

	sum := res.Summary(time.Now())
	assert.False(t, sum.CompressionDefined)
	assert.Equal(t, "n/a", sum.CompressionString())
	assert.Contains(t, sum.String(), "Compression: n/a")
}

func TestSummaryGrowthIsNegative(t *testing.T) {
	res := Result{
		Operation:       Operation{SourcePath: "a.png", SourceSize: 100, StartedAt: time.Now()},
		DestinationPath: "a-new.png",
		DestinationSize: 150,
	}
	sum := res.Summary(time.Now())
	assert.InDelta(t, -0.5, sum.Compression, 1e-9)
}

func TestStatisticsCounters(t *testing.T) {
	s := NewStatistics()
	s.IncrementEvent("created")
	s.IncrementEvent("created")
	s.IncrementEvent("deleted")
	s.IncrementEvent("bogus")
	s.RecordProcessed(Summary{SourcePath: "a.png", InitialSize: 2048, FinalSize: 1024})
	s.IncrementFilesRemoved()
	s.AddError("b.png", "resize", "decode error")

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.EventsCreated)
	assert.Equal(t, int64(1), snap.EventsDeleted)
	assert.Equal(t, int64(1), snap.FilesProcessed)
	assert.Equal(t, int64(1), snap.FilesRemoved)
	assert.Equal(t, int64(1), snap.FilesWithErrors)
	assert.Equal(t, int64(1), snap.StageErrors["resize"])
	assert.Equal(t, "1.0 KiB", snap.BytesSaved)
	require.NotNil(t, snap.LastProcessed)
	assert.Equal(t, "a.png", snap.LastProcessed.SourcePath)

	summary := s.GetSummary()
	assert.Contains(t, summary, "Processed: 1")
	assert.Contains(t, s.GetErrorSummary(), "b.png")
}

func TestStatisticsBoundsErrors(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < maxRecentErrors+20; i++ {
		s.AddError("x.png", "compress", "boom")
	}
	snap := s.Snapshot()
	assert.Len(t, snap.RecentErrors, maxRecentErrors)
	assert.Equal(t, int64(maxRecentErrors+20), snap.FilesWithErrors)
	assert.Equal(t, 11, strings.Count(s.GetErrorSummary(), "\n"))
}
