package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := IO(StageResize, "/in/a.png", fs.ErrNotExist)

	assert.True(t, errors.Is(err, ErrIO))
	assert.False(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, "resize: /in/a.png: io error: file does not exist", err.Error())
}

func TestStageOfWrapped(t *testing.T) {
	err := fmt.Errorf("handling event: %w", Decode(StageResize, "/in/a.png", errors.New("bad header")))
	assert.Equal(t, StageResize, StageOf(err))
	assert.True(t, errors.Is(err, ErrDecode))

	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(ErrCompressionTimeout, StageCompress, "/out/a.png", nil)
	assert.Equal(t, "compress: /out/a.png: compression timeout", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
