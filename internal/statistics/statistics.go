package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// maxRecentErrors bounds the error log kept in memory.
const maxRecentErrors = 100

// Statistics aggregates counters over the lifetime of the daemon.
type Statistics struct {
	EventsCreated  int64
	EventsModified int64
	EventsMoved    int64
	EventsDeleted  int64

	FilesProcessed     int64
	FilesRemoved       int64
	FilesWithErrors    int64
	CompressionsFailed int64
	OutputsMissing     int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time

	mutex       sync.RWMutex
	errors      []StatError
	stageErrors map[string]int64
	lastSummary *Summary
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime             time.Duration    `json:"uptime"`
	EventsCreated      int64            `json:"events_created"`
	EventsModified     int64            `json:"events_modified"`
	EventsMoved        int64            `json:"events_moved"`
	EventsDeleted      int64            `json:"events_deleted"`
	FilesProcessed     int64            `json:"files_processed"`
	FilesRemoved       int64            `json:"files_removed"`
	FilesWithErrors    int64            `json:"files_with_errors"`
	CompressionsFailed int64            `json:"compressions_failed"`
	OutputsMissing     int64            `json:"outputs_missing"`
	BytesIn            int64            `json:"bytes_in"`
	BytesOut           int64            `json:"bytes_out"`
	BytesSaved         string           `json:"bytes_saved"`
	StageErrors        map[string]int64 `json:"stage_errors"`
	RecentErrors       []StatError      `json:"recent_errors"`
	LastProcessed      *Summary         `json:"last_processed,omitempty"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		errors:      make([]StatError, 0),
		stageErrors: make(map[string]int64),
	}
}

// IncrementEvent counts a received event by kind name.
func (s *Statistics) IncrementEvent(kind string) {
	switch kind {
	case "created":
		atomic.AddInt64(&s.EventsCreated, 1)
	case "modified":
		atomic.AddInt64(&s.EventsModified, 1)
	case "moved":
		atomic.AddInt64(&s.EventsMoved, 1)
	case "deleted":
		atomic.AddInt64(&s.EventsDeleted, 1)
	}
}

// RecordProcessed counts a file that went through the whole pipeline.
func (s *Statistics) RecordProcessed(summary Summary) {
	atomic.AddInt64(&s.FilesProcessed, 1)
	atomic.AddInt64(&s.BytesIn, summary.InitialSize)
	atomic.AddInt64(&s.BytesOut, summary.FinalSize)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastSummary = &summary
}

// IncrementFilesRemoved counts a stale output deleted after its source went away.
func (s *Statistics) IncrementFilesRemoved() {
	atomic.AddInt64(&s.FilesRemoved, 1)
}

// IncrementCompressionsFailed counts a pngquant run that produced nothing.
func (s *Statistics) IncrementCompressionsFailed() {
	atomic.AddInt64(&s.CompressionsFailed, 1)
}

// IncrementOutputsMissing counts a pngquant run that exited cleanly without
// writing the expected file.
func (s *Statistics) IncrementOutputsMissing() {
	atomic.AddInt64(&s.OutputsMissing, 1)
}

// AddError records an error that occurred while handling filePath.
func (s *Statistics) AddError(filePath, stage, errorMsg string) {
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stageErrors[stage]++
	s.errors = append(s.errors, StatError{
		FilePath:  filePath,
		Stage:     stage,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.errors) > maxRecentErrors {
		s.errors = s.errors[len(s.errors)-maxRecentErrors:]
	}
}

// Snapshot returns a consistent copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stageErrors := make(map[string]int64, len(s.stageErrors))
	for k, v := range s.stageErrors {
		stageErrors[k] = v
	}
	recent := make([]StatError, len(s.errors))
	copy(recent, s.errors)

	var last *Summary
	if s.lastSummary != nil {
		l := *s.lastSummary
		last = &l
	}

	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)

	return Snapshot{
		Uptime:             time.Since(s.StartTime),
		EventsCreated:      atomic.LoadInt64(&s.EventsCreated),
		EventsModified:     atomic.LoadInt64(&s.EventsModified),
		EventsMoved:        atomic.LoadInt64(&s.EventsMoved),
		EventsDeleted:      atomic.LoadInt64(&s.EventsDeleted),
		FilesProcessed:     atomic.LoadInt64(&s.FilesProcessed),
		FilesRemoved:       atomic.LoadInt64(&s.FilesRemoved),
		FilesWithErrors:    atomic.LoadInt64(&s.FilesWithErrors),
		CompressionsFailed: atomic.LoadInt64(&s.CompressionsFailed),
		OutputsMissing:     atomic.LoadInt64(&s.OutputsMissing),
		BytesIn:            in,
		BytesOut:           out,
		BytesSaved:         formatSaved(in, out),
		StageErrors:        stageErrors,
		RecentErrors:       recent,
		LastProcessed:      last,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Image Reducer Statistics Summary:

Events:
		Created: %d
		Modified: %d
		Moved: %d
		Deleted: %d

Files:
		Processed: %d
		Removed: %d
		Errors: %d
		Compression Failures: %d
		Missing Outputs: %d

Bytes:
		In: %s
		Out: %s
		Saved: %s

Uptime: %v`,
		snap.EventsCreated,
		snap.EventsModified,
		snap.EventsMoved,
		snap.EventsDeleted,
		snap.FilesProcessed,
		snap.FilesRemoved,
		snap.FilesWithErrors,
		snap.CompressionsFailed,
		snap.OutputsMissing,
		humanize.IBytes(uint64(snap.BytesIn)),
		humanize.IBytes(uint64(snap.BytesOut)),
		snap.BytesSaved,
		snap.Uptime.Round(time.Second))
}

// GetErrorSummary returns the most recent errors, newest last.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", atomic.LoadInt64(&s.FilesWithErrors))
	start := max(len(s.errors)-10, 0)
	for _, err := range s.errors[start:] {
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Stage,
			err.FilePath,
			err.Error)
	}
	return b.String()
}

func formatSaved(in, out int64) string {
	if in <= out {
		return "0 B"
	}
	return humanize.IBytes(uint64(in - out))
}
