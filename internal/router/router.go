package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"image-reducer-go/internal/compressor"
	"image-reducer-go/internal/errs"
	"image-reducer-go/internal/logger"
	"image-reducer-go/internal/naming"
	"image-reducer-go/internal/statistics"
	"image-reducer-go/internal/watcher"

	"github.com/sirupsen/logrus"
)

// laneBuffer is the per-lane queue depth when Workers > 1.
const laneBuffer = 16

// Resizer produces the intermediate file for a source image.
type Resizer interface {
	Resize(sourcePath, destDir string, ratio float64) (string, error)
}

// Observer is notified about completed work. Implementations must be safe for
// concurrent use when Workers > 1.
type Observer interface {
	FileProcessed(summary statistics.Summary)
	FileRemoved(path string)
}

// Config configures a Router.
type Config struct {
	OutputDir string
	Ratio     float64
	Suffix    string
	Workers   int
}

// Router maps watcher events to resize, compress and cleanup work.
type Router struct {
	cfg        Config
	resizer    Resizer
	compressor compressor.Compressor
	stats      *statistics.Statistics
	logger     *logrus.Logger
	observer   Observer
}

// NewRouter returns a new Router.
func NewRouter(
	cfg Config,
	resizer Resizer,
	comp compressor.Compressor,
	stats *statistics.Statistics,
	logger *logrus.Logger,
) *Router {
	if cfg.Suffix == "" {
		cfg.Suffix = naming.DefaultSuffix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Router{
		cfg:        cfg,
		resizer:    resizer,
		compressor: comp,
		stats:      stats,
		logger:     logger,
	}
}

// SetObserver registers an observer for processed and removed files.
func (r *Router) SetObserver(o Observer) {
	r.observer = o
}

// Run handles events until the channel is closed or ctx is cancelled.
// Failures are logged and counted; they never stop the loop.
func (r *Router) Run(ctx context.Context, events <-chan watcher.Event) error {
	if r.cfg.Workers == 1 {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				_ = r.Handle(ctx, ev)
			}
		}
	}
	return r.runLanes(ctx, events)
}

// Handle processes a single event to completion.
func (r *Router) Handle(ctx context.Context, ev watcher.Event) error {
	r.stats.IncrementEvent(ev.Kind.String())
	r.logEvent(ev)
	return r.apply(ctx, ev)
}

func (r *Router) apply(ctx context.Context, ev watcher.Event) error {
	switch ev.Kind {
	case watcher.Created, watcher.Modified:
		return r.process(ctx, ev.Path)
	case watcher.Moved:
		// The output of the old name is stale once the source has moved.
		return errors.Join(r.remove(ev.Path), r.process(ctx, ev.DestPath))
	case watcher.Deleted:
		return r.remove(ev.Path)
	default:
		return fmt.Errorf("unknown event kind %d for %s", ev.Kind, ev.Path)
	}
}

func (r *Router) logEvent(ev watcher.Event) {
	entry := logger.WithFileOperation(r.logger, ev.Path, ev.Kind.String())
	if ev.Kind == watcher.Moved {
		entry = entry.WithField("destination", ev.DestPath)
	}
	entry.Debug("Event received")
}

// process runs resize, compress and statistics for sourcePath.
func (r *Router) process(ctx context.Context, sourcePath string) error {
	op, err := statistics.Begin(sourcePath)
	if err != nil {
		return r.fail(sourcePath, err)
	}

	intermediate, err := r.resizer.Resize(sourcePath, r.cfg.OutputDir, r.cfg.Ratio)
	if err != nil {
		return r.fail(sourcePath, err)
	}

	// A started compression runs to completion on shutdown; the tool timeout
	// still bounds it.
	res, err := r.compressor.Compress(context.WithoutCancel(ctx), op, intermediate)
	if err != nil {
		if res.Outcome == compressor.OutcomeMissing {
			r.stats.IncrementOutputsMissing()
		} else {
			r.stats.IncrementCompressionsFailed()
		}
		logger.WithStage(r.logger, sourcePath, errs.StageCompress).WithFields(logrus.Fields{
			"operation_id": op.ID,
			"outcome":      res.Outcome,
			"output":       res.ToolOutput,
		}).Debug("Compression produced no output")
		return r.fail(sourcePath, err)
	}

	summary := res.Result.Summary(time.Now())
	r.stats.RecordProcessed(summary)
	logger.WithFile(r.logger, sourcePath).WithFields(logrus.Fields{
		"operation_id": summary.OperationID,
		"output":       summary.DestinationPath,
		"initial_size": summary.InitialSize,
		"final_size":   summary.FinalSize,
		"compression":  summary.CompressionString(),
		"elapsed":      summary.Elapsed.Seconds(),
	}).Info(summary.String())

	if r.observer != nil {
		r.observer.FileProcessed(summary)
	}
	return nil
}

// remove deletes the final output derived from sourcePath. A missing output
// is not an error.
func (r *Router) remove(sourcePath string) error {
	final, err := naming.FinalPath(sourcePath, r.cfg.OutputDir, r.cfg.Suffix)
	if err != nil {
		return r.fail(sourcePath, err)
	}

	if err := os.Remove(final); err != nil {
		if os.IsNotExist(err) {
			logger.WithFile(r.logger, final).Debug("No output to remove")
			return nil
		}
		return r.fail(sourcePath, errs.IO(errs.StageRemove, final, err))
	}

	r.stats.IncrementFilesRemoved()
	logger.WithFileOperation(r.logger, sourcePath, "remove").
		WithField("output", final).
		Info("Removed stale output")

	if r.observer != nil {
		r.observer.FileRemoved(final)
	}
	return nil
}

func (r *Router) fail(sourcePath string, err error) error {
	stage := errs.StageOf(err)
	if stage == "" {
		stage = "unknown"
	}
	r.stats.AddError(sourcePath, string(stage), err.Error())
	logger.WithStage(r.logger, sourcePath, stage).Errorf("Processing failed: %v", err)
	return err
}

// runLanes fans events out to Workers serial lanes. Every event for a given
// output file lands on the same lane, so per-file order is kept.
func (r *Router) runLanes(ctx context.Context, events <-chan watcher.Event) error {
	lanes := make([]chan watcher.Event, r.cfg.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan watcher.Event, laneBuffer)
		wg.Add(1)
		go func(lane <-chan watcher.Event) {
			defer wg.Done()
			for ev := range lane {
				if ctx.Err() != nil {
					continue
				}
				_ = r.apply(ctx, ev)
			}
		}(lanes[i])
	}

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.stats.IncrementEvent(ev.Kind.String())
			r.logEvent(ev)
			for _, part := range split(ev) {
				select {
				case lanes[r.laneFor(part)] <- part:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// split breaks a move into its delete and create halves, which may belong
// to different lanes.
func split(ev watcher.Event) []watcher.Event {
	if ev.Kind != watcher.Moved {
		return []watcher.Event{ev}
	}
	return []watcher.Event{
		{Kind: watcher.Deleted, Path: ev.Path, Time: ev.Time},
		{Kind: watcher.Created, Path: ev.DestPath, Time: ev.Time},
	}
}

func (r *Router) laneFor(ev watcher.Event) int {
	key, err := naming.FinalPath(ev.Target(), r.cfg.OutputDir, r.cfg.Suffix)
	if err != nil {
		key = ev.Target()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(r.cfg.Workers))
}
