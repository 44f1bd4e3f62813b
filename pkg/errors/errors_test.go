package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"indexing", &IndexingError{Doc: 3, Field: "line_number", Reason: "not an integer"}, ErrIndexing},
		{"writer busy", &WriterBusyError{}, ErrWriterBusy},
		{"query syntax", &QuerySyntaxError{Expression: "(a", Pos: 2, Reason: "missing )"}, ErrQuerySyntax},
		{"generation closed", &GenerationClosedError{Generation: 7}, ErrGenerationClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.NotErrorIs(t, wrapped, ErrInternal)
		})
	}
}

func TestTypedErrorsAs(t *testing.T) {
	err := fmt.Errorf("search: %w", &QuerySyntaxError{Expression: "*fish", Pos: 0, Reason: "leading wildcard not allowed"})
	var syntaxErr *QuerySyntaxError
	if assert.True(t, errors.As(err, &syntaxErr)) {
		assert.Equal(t, "*fish", syntaxErr.Expression)
		assert.Equal(t, 0, syntaxErr.Pos)
	}
}

func TestIndexingErrorMessage(t *testing.T) {
	assert.Equal(t, "indexing document 2: empty document", (&IndexingError{Doc: 2, Reason: "empty document"}).Error())
	assert.Equal(t, `indexing document 0 field "id": bad value`, (&IndexingError{Doc: 0, Field: "id", Reason: "bad value"}).Error())
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&QuerySyntaxError{}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", ErrInvalidInput), http.StatusBadRequest},
		{&WriterBusyError{}, http.StatusConflict},
		{ErrNoGeneration, http.StatusServiceUnavailable},
		{&GenerationClosedError{}, http.StatusInternalServerError},
		{New(ErrInternal, http.StatusTeapot, "custom"), http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}
