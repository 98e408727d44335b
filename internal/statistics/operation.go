package statistics

import (
	"errors"
	"fmt"
	"os"
	"time"

	"image-reducer-go/internal/errs"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Operation tracks one file being processed. It is created when an event is
// picked up and is never mutated afterwards.
type Operation struct {
	ID         string
	SourcePath string
	SourceSize int64
	StartedAt  time.Time
}

// Result is an Operation whose output has been written.
type Result struct {
	Operation
	DestinationPath string
	DestinationSize int64
}

// Summary is the human-facing before/after record of a Result.
type Summary struct {
	OperationID        string        `json:"operation_id"`
	SourcePath         string        `json:"source_path"`
	DestinationPath    string        `json:"destination_path"`
	InitialSize        int64         `json:"initial_size"`
	FinalSize          int64         `json:"final_size"`
	InitialHuman       string        `json:"initial_human"`
	FinalHuman         string        `json:"final_human"`
	Compression        float64       `json:"compression"`
	CompressionDefined bool          `json:"compression_defined"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Begin captures the size of sourcePath and the start time.
func Begin(sourcePath string) (Operation, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return Operation{}, errs.IO(errs.StageContext, sourcePath, err)
	}
	if info.IsDir() {
		return Operation{}, errs.IO(errs.StageContext, sourcePath, errors.New("is a directory"))
	}
	return Operation{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		SourceSize: info.Size(),
		StartedAt:  time.Now(),
	}, nil
}

// Finalize reads the size of the completed output at destPath. The file must
// exist and be fully written.
func (o Operation) Finalize(destPath string) (Result, error) {
	info, err := os.Stat(destPath)
	if err != nil {
		return Result{}, errs.IO(errs.StageFinalize, destPath, err)
	}
	if info.IsDir() {
		return Result{}, errs.IO(errs.StageFinalize, destPath, errors.New("is a directory"))
	}
	return Result{
		Operation:       o,
		DestinationPath: destPath,
		DestinationSize: info.Size(),
	}, nil
}

// Elapsed returns the wall-clock time since the operation started.
func (o Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(o.StartedAt)
}

// Summary computes the statistics record as of now. Compression is
// 1 - final/initial; it is left undefined for an empty source.
func (r Result) Summary(now time.Time) Summary {
	s := Summary{
		OperationID:     r.ID,
		SourcePath:      r.SourcePath,
		DestinationPath: r.DestinationPath,
		InitialSize:     r.SourceSize,
		FinalSize:       r.DestinationSize,
		InitialHuman:    humanize.IBytes(uint64(max(r.SourceSize, 0))),
		FinalHuman:      humanize.IBytes(uint64(max(r.DestinationSize, 0))),
		Elapsed:         r.Elapsed(now),
	}
	if r.SourceSize > 0 {
		s.Compression = 1 - float64(r.DestinationSize)/float64(r.SourceSize)
		s.CompressionDefined = true
	}
	return s
}

// CompressionString renders the compression ratio as a percentage, or "n/a".
func (s Summary) CompressionString() string {
	if !s.CompressionDefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", s.Compression*100)
}

// String returns the multi-line block logged for every processed file.
func (s Summary) String() string {
	return fmt.Sprintf(`File processed:
		Source: %s
		Output: %s
		Initial Size: %s (%d bytes)
		Final Size: %s (%d bytes)
		Compression: %s
		Elapsed: %.2fs`,
		s.SourcePath,
		s.DestinationPath,
		s.InitialHuman, s.InitialSize,
		s.FinalHuman, s.FinalSize,
		s.CompressionString(),
		s.Elapsed.Seconds())
}
