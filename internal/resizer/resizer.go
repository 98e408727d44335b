package resizer

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"image-reducer-go/internal/errs"
	"image-reducer-go/internal/logger"
	"image-reducer-go/internal/naming"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Resizer writes the intermediate copy of a source image into the output
// directory.
type Resizer struct {
	logger *logrus.Logger
}

// NewResizer returns a new Resizer.
func NewResizer(logger *logrus.Logger) *Resizer {
	return &Resizer{logger: logger}
}

// Resize writes the intermediate file for sourcePath into destDir and returns
// its path. A ratio of 0 or 1 copies the source byte for byte; any other
// ratio resamples it with a Lanczos filter and stores it uncompressed.
func (r *Resizer) Resize(sourcePath, destDir string, ratio float64) (string, error) {
	dest, err := naming.IntermediatePath(sourcePath, destDir)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", errs.IO(errs.StageResize, sourcePath, err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", errs.Decode(errs.StageResize, sourcePath, err)
	}

	if IsIdentity(ratio) {
		if err := copyFile(sourcePath, dest, data); err != nil {
			return "", errs.IO(errs.StageResize, dest, err)
		}
		logger.WithFileOperation(r.logger, sourcePath, "copy").WithFields(logrus.Fields{
			"target": dest,
			"bytes":  len(data),
		}).Debug("Copied source without resizing")
		return dest, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errs.Decode(errs.StageResize, sourcePath, err)
	}

	width, height := ScaledSize(cfg.Width, cfg.Height, ratio)
	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG, imaging.PNGCompressionLevel(png.NoCompression)); err != nil {
		return "", errs.IO(errs.StageResize, dest, fmt.Errorf("encode: %w", err))
	}
	if err := writeAtomic(dest, &buf, 0644); err != nil {
		return "", errs.IO(errs.StageResize, dest, err)
	}

	logger.WithFileOperation(r.logger, sourcePath, "resize").WithFields(logrus.Fields{
		"target":     dest,
		"ratio":      ratio,
		"from":       fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"to":         fmt.Sprintf("%dx%d", width, height),
		"size_bytes": buf.Len(),
	}).Debug("Resized image")

	return dest, nil
}

// IsIdentity reports whether ratio means "copy without resizing".
func IsIdentity(ratio float64) bool {
	return ratio == 0 || ratio == 1
}

// ScaledSize truncates width*ratio and height*ratio, never going below one
// pixel.
func ScaledSize(width, height int, ratio float64) (int, int) {
	w := int(float64(width) * ratio)
	h := int(float64(height) * ratio)
	return max(w, 1), max(h, 1)
}

// copyFile writes data (the contents of src) to dst, keeping the source mode
// and modification time.
func copyFile(src, dst string, data []byte) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := writeAtomic(dst, bytes.NewReader(data), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// writeAtomic streams r into a temporary file next to dst and renames it into
// place, so dst is either absent or complete.
func writeAtomic(dst string, r io.Reader, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".reduce-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
