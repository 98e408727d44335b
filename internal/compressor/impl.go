package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"image-reducer-go/internal/errs"
	"image-reducer-go/internal/logger"
	"image-reducer-go/internal/naming"
	"image-reducer-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// DefaultTool is the lossy PNG optimizer invoked when none is configured.
const DefaultTool = "pngquant"

// waitDelay bounds how long Wait blocks on output pipes after the tool is killed.
const waitDelay = 2 * time.Second

// PNGQuant runs pngquant as a subprocess.
type PNGQuant struct {
	params CompressionParams
	logger *logrus.Logger
}

// NewPNGQuant creates a new PNGQuant compressor.
func NewPNGQuant(params CompressionParams, logger *logrus.Logger) *PNGQuant {
	if params.Tool == "" {
		params.Tool = DefaultTool
	}
	if params.Suffix == "" {
		params.Suffix = naming.DefaultSuffix
	}
	return &PNGQuant{params: params, logger: logger}
}

// Check reports whether the configured tool can be found.
func (c *PNGQuant) Check() error {
	if _, err := exec.LookPath(c.params.Tool); err != nil {
		return errs.New(errs.ErrCompression, errs.StageCompress, c.params.Tool, err)
	}
	return nil
}

// Compress runs the tool on intermediatePath, removes intermediatePath and
// finalizes op against the file the tool was asked to write.
func (c *PNGQuant) Compress(ctx context.Context, op statistics.Operation, intermediatePath string) (CompressionResult, error) {
	res := CompressionResult{
		IntermediatePath: intermediatePath,
		Outcome:          OutcomeFailed,
		StartedAt:        time.Now(),
	}
	defer c.removeIntermediate(intermediatePath)

	finalPath, err := naming.FinalPath(intermediatePath, filepath.Dir(intermediatePath), c.params.Suffix)
	if err != nil {
		res.FinishedAt = time.Now()
		return res, err
	}
	res.FinalPath = finalPath

	output, runErr := c.run(ctx, intermediatePath)
	res.ToolOutput = output
	res.FinishedAt = time.Now()

	logger.WithFileOperation(c.logger, intermediatePath, "compress").WithFields(logrus.Fields{
		"tool":     c.params.Tool,
		"duration": res.FinishedAt.Sub(res.StartedAt).String(),
		"output":   output,
		"error":    runErr,
	}).Debug("Compressor executed")

	if runErr != nil {
		return res, runErr
	}

	result, err := op.Finalize(finalPath)
	if err != nil {
		res.Outcome = OutcomeMissing
		return res, err
	}
	res.Outcome = OutcomeCompressed
	res.Result = result
	return res, nil
}

// Args returns the command line passed to the tool for intermediatePath.
func (c *PNGQuant) Args(intermediatePath string) []string {
	args := []string{"--force", "--ext", c.params.Suffix}
	if c.params.Quality != "" {
		args = append(args, "--quality", c.params.Quality)
	}
	if c.params.Speed > 0 {
		args = append(args, "--speed", strconv.Itoa(c.params.Speed))
	}
	return append(args, "--", intermediatePath)
}

func (c *PNGQuant) run(ctx context.Context, intermediatePath string) (string, error) {
	runCtx := ctx
	if c.params.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.params.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.params.Tool, c.Args(intermediatePath)...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err == nil {
		return output, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, errs.New(errs.ErrCompressionTimeout, errs.StageCompress, intermediatePath,
			fmt.Errorf("%s did not finish within %s", c.params.Tool, c.params.Timeout))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, errs.New(errs.ErrCompression, errs.StageCompress, intermediatePath,
			fmt.Errorf("%s exited with status %d", c.params.Tool, exitErr.ExitCode()))
	}
	return output, errs.New(errs.ErrCompression, errs.StageCompress, intermediatePath, err)
}

func (c *PNGQuant) removeIntermediate(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithStage(c.logger, path, errs.StageCompress).Warnf("Could not remove intermediate file: %v", err)
	}
}
