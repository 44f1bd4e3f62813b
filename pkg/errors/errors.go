// Package errors defines the sentinel and typed errors shared by the index,
// query and search layers, plus the mapping from errors to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIndexing         = errors.New("indexing failed")
	ErrWriterBusy       = errors.New("index writer busy")
	ErrQuerySyntax      = errors.New("query syntax error")
	ErrGenerationClosed = errors.New("generation closed")
	ErrNoGeneration     = errors.New("no generation published")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// IndexingError reports a record that could not be indexed. Doc is the
// position of the record in the build input.
type IndexingError struct {
	Doc    int
	Field  string
	Reason string
}

func (e *IndexingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("indexing document %d: %s", e.Doc, e.Reason)
	}
	return fmt.Sprintf("indexing document %d field %q: %s", e.Doc, e.Field, e.Reason)
}

func (e *IndexingError) Is(target error) bool {
	return target == ErrIndexing
}

// WriterBusyError is returned when a build is requested while another build
// is in progress.
type WriterBusyError struct{}

func (e *WriterBusyError) Error() string {
	return "index writer busy: another build is in progress"
}

func (e *WriterBusyError) Is(target error) bool {
	return target == ErrWriterBusy
}

// QuerySyntaxError describes a malformed query expression. Pos is the byte
// offset in Expression where the problem was detected.
type QuerySyntaxError struct {
	Expression string
	Pos        int
	Reason     string
}

func (e *QuerySyntaxError) Error() string {
	return fmt.Sprintf("query syntax error at %d in %q: %s", e.Pos, e.Expression, e.Reason)
}

func (e *QuerySyntaxError) Is(target error) bool {
	return target == ErrQuerySyntax
}

// GenerationClosedError is returned when a search is issued against a
// generation that has already been released.
type GenerationClosedError struct {
	Generation uint64
}

func (e *GenerationClosedError) Error() string {
	return fmt.Sprintf("generation %d is closed", e.Generation)
}

func (e *GenerationClosedError) Is(target error) bool {
	return target == ErrGenerationClosed
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrQuerySyntax), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrIndexing):
		return http.StatusBadRequest
	case errors.Is(err, ErrWriterBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoGeneration), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
