package compressor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"image-reducer-go/internal/errs"
	"image-reducer-go/internal/naming"
	"image-reducer-go/internal/statistics"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuant mimics pngquant's --ext naming by truncating the input into
// <stem><ext>.
const fakeQuant = `#!/bin/sh
ext=""
while [ $# -gt 1 ]; do
  case "$1" in
    --ext) ext="$2"; shift 2 ;;
    *) shift ;;
  esac
done
in="$1"
case "$in" in
  *.png) stem="${in%.png}" ;;
  *.PNG) stem="${in%.PNG}" ;;
  *) stem="$in" ;;
esac
head -c 16 "$in" > "$stem$ext"
`

func writeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// setup writes a source and its intermediate copy and begins an operation.
func setup(t *testing.T) (statistics.Operation, string, string) {
	t.Helper()
	return setupNamed(t, "shot.png")
}

func setupNamed(t *testing.T, name string) (statistics.Operation, string, string) {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	src := filepath.Join(in, name)
	require.NoError(t, os.WriteFile(src, make([]byte, 4096), 0644))
	intermediate := filepath.Join(out, name)
	require.NoError(t, os.WriteFile(intermediate, make([]byte, 2048), 0644))

	op, err := statistics.Begin(src)
	require.NoError(t, err)
	return op, intermediate, out
}

func TestCompressSuccess(t *testing.T) {
	op, intermediate, out := setup(t)
	c := NewPNGQuant(CompressionParams{Tool: writeTool(t, fakeQuant)}, quietLogger())

	res, err := c.Compress(context.Background(), op, intermediate)
	require.NoError(t, err)

	want, err := naming.FinalPath(op.SourcePath, out, naming.DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, want, res.FinalPath)
	assert.Equal(t, OutcomeCompressed, res.Outcome)
	assert.Equal(t, int64(16), res.Result.DestinationSize)
	assert.Equal(t, int64(4096), res.Result.SourceSize)
	assert.NoFileExists(t, intermediate)
	assert.FileExists(t, want)
}

func TestCompressOutputMatchesFinalPathForAnyCase(t *testing.T) {
	for _, name := range []string{"SHOT.PNG", "shot.Png"} {
		t.Run(name, func(t *testing.T) {
			op, intermediate, out := setupNamed(t, name)
			c := NewPNGQuant(CompressionParams{Tool: writeTool(t, fakeQuant)}, quietLogger())

			res, err := c.Compress(context.Background(), op, intermediate)
			require.NoError(t, err)

			want, err := naming.FinalPath(op.SourcePath, out, naming.DefaultSuffix)
			require.NoError(t, err)
			assert.Equal(t, want, res.FinalPath)
			assert.Equal(t, OutcomeCompressed, res.Outcome)
			assert.FileExists(t, want)
		})
	}
}

func TestCompressToolFailureStillRemovesIntermediate(t *testing.T) {
	op, intermediate, out := setup(t)
	c := NewPNGQuant(CompressionParams{Tool: writeTool(t, "#!/bin/sh\necho nope >&2\nexit 3\n")}, quietLogger())

	res, err := c.Compress(context.Background(), op, intermediate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCompression))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "nope", res.ToolOutput)
	assert.NoFileExists(t, intermediate)
	assert.NoFileExists(t, filepath.Join(out, "shot-new.png"))
}

func TestCompressLaunchFailure(t *testing.T) {
	op, intermediate, _ := setup(t)
	c := NewPNGQuant(CompressionParams{Tool: filepath.Join(t.TempDir(), "no-such-tool")}, quietLogger())

	_, err := c.Compress(context.Background(), op, intermediate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCompression))
	assert.Equal(t, errs.StageCompress, errs.StageOf(err))
	assert.NoFileExists(t, intermediate)
	assert.Error(t, c.Check())
}

func TestCompressMissingOutput(t *testing.T) {
	op, intermediate, _ := setup(t)
	c := NewPNGQuant(CompressionParams{Tool: writeTool(t, "#!/bin/sh\nexit 0\n")}, quietLogger())

	res, err := c.Compress(context.Background(), op, intermediate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIO))
	assert.Equal(t, OutcomeMissing, res.Outcome)
	assert.NoFileExists(t, intermediate)
}

func TestCompressTimeout(t *testing.T) {
	op, intermediate, _ := setup(t)
	c := NewPNGQuant(CompressionParams{
		Tool:    writeTool(t, "#!/bin/sh\nexec sleep 10\n"),
		Timeout: 100 * time.Millisecond,
	}, quietLogger())

	start := time.Now()
	_, err := c.Compress(context.Background(), op, intermediate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCompressionTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NoFileExists(t, intermediate)
}

func TestArgs(t *testing.T) {
	c := NewPNGQuant(CompressionParams{Quality: "65-80", Speed: 3}, quietLogger())
	assert.Equal(t,
		[]string{"--force", "--ext", "-new.png", "--quality", "65-80", "--speed", "3", "--", "/out/shot.png"},
		c.Args("/out/shot.png"))

	plain := NewPNGQuant(CompressionParams{Suffix: "-min.png"}, quietLogger())
	assert.Equal(t, []string{"--force", "--ext", "-min.png", "--", "/out/shot.png"}, plain.Args("/out/shot.png"))
}
