package compressor

import (
	"context"
	"time"

	"image-reducer-go/internal/statistics"
)

// Outcome describes what a compression run left on disk.
type Outcome string

const (
	// OutcomeCompressed means the tool succeeded and the final file exists.
	OutcomeCompressed Outcome = "compressed"
	// OutcomeFailed means the tool could not be run, exited non-zero or timed out.
	OutcomeFailed Outcome = "failed"
	// OutcomeMissing means the tool exited cleanly but wrote no final file.
	OutcomeMissing Outcome = "missing"
)

// CompressionParams configures the external optimizer.
type CompressionParams struct {
	Tool    string
	Suffix  string
	Quality string
	Speed   int
	Timeout time.Duration
}

// CompressionResult describes the result of compressing a single file.
type CompressionResult struct {
	IntermediatePath string
	FinalPath        string
	Outcome          Outcome
	Result           statistics.Result
	ToolOutput       string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Compressor turns an intermediate file into the final compressed file.
type Compressor interface {
	// Compress replaces intermediatePath with its compressed counterpart. The
	// intermediate file is gone when Compress returns, whatever the outcome.
	Compress(ctx context.Context, op statistics.Operation, intermediatePath string) (CompressionResult, error)
}
