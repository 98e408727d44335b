package errs

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is(err, errs.ErrDecode).
var (
	ErrIO                 = errors.New("io error")
	ErrDecode             = errors.New("decode error")
	ErrCompression        = errors.New("compression error")
	ErrCompressionTimeout = errors.New("compression timeout")
	ErrPath               = errors.New("path error")
)

// Stage names the pipeline step an error was raised in.
type Stage string

const (
	StageNaming   Stage = "naming"
	StageContext  Stage = "context"
	StageResize   Stage = "resize"
	StageCompress Stage = "compress"
	StageFinalize Stage = "finalize"
	StageRemove   Stage = "remove"
)

// Error is a processing failure for a single file.
type Error struct {
	Kind  error
	Stage Stage
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v: %v", e.Stage, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind sentinel of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// New returns an *Error of the given kind.
func New(kind error, stage Stage, path string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

// IO wraps err as an ErrIO failure.
func IO(stage Stage, path string, err error) *Error {
	return New(ErrIO, stage, path, err)
}

// Decode wraps err as an ErrDecode failure.
func Decode(stage Stage, path string, err error) *Error {
	return New(ErrDecode, stage, path, err)
}

// Path wraps err as an ErrPath failure.
func Path(stage Stage, path string, err error) *Error {
	return New(ErrPath, stage, path, err)
}

// StageOf returns the stage recorded on err, or "" when err is not an *Error.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
