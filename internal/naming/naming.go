// Package naming derives output paths from watched source paths.
//
// IntermediatePath and FinalPath are the only places output names are
// computed. The deletion handler and the compressor both go through them, so
// cleanup always targets the file the creation path produced.
package naming

import (
	"errors"
	"path/filepath"
	"strings"

	"image-reducer-go/internal/errs"
)

// SourceExt is the extension of watched files.
const SourceExt = ".png"

// DefaultSuffix replaces SourceExt on final files. It is also handed to
// pngquant as --ext, so the tool writes exactly where FinalPath points.
const DefaultSuffix = "-new.png"

// IntermediatePath returns destDir joined with the base name of sourcePath.
func IntermediatePath(sourcePath, destDir string) (string, error) {
	base, err := baseName(sourcePath, destDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(destDir, base), nil
}

// FinalPath returns destDir joined with the base name of sourcePath, its .png
// extension replaced by suffix.
func FinalPath(sourcePath, destDir, suffix string) (string, error) {
	base, err := baseName(sourcePath, destDir)
	if err != nil {
		return "", err
	}
	if err := ValidateSuffix(suffix); err != nil {
		return "", errs.Path(errs.StageNaming, sourcePath, err)
	}
	return filepath.Join(destDir, Stem(base)+suffix), nil
}

// Stem strips a trailing .png or .PNG from name. Mixed case is kept, as
// pngquant only replaces those two spellings when applying --ext.
func Stem(name string) string {
	for _, ext := range []string{SourceExt, strings.ToUpper(SourceExt)} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// ValidateSuffix checks that suffix yields a .png file name.
func ValidateSuffix(suffix string) error {
	if suffix == "" {
		return errors.New("suffix is empty")
	}
	if !strings.HasSuffix(strings.ToLower(suffix), SourceExt) {
		return errors.New("suffix must end in " + SourceExt)
	}
	if strings.ContainsRune(suffix, filepath.Separator) {
		return errors.New("suffix must not contain a path separator")
	}
	return nil
}

func baseName(sourcePath, destDir string) (string, error) {
	if sourcePath == "" {
		return "", errs.Path(errs.StageNaming, sourcePath, errors.New("empty source path"))
	}
	if destDir == "" {
		return "", errs.Path(errs.StageNaming, sourcePath, errors.New("empty destination directory"))
	}
	base := filepath.Base(sourcePath)
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return "", errs.Path(errs.StageNaming, sourcePath, errors.New("source path has no file name"))
	}
	return base, nil
}
