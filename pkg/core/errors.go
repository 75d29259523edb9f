// Package core wires the durable store, memory ledger, embedding index,
// and model providers into one client facade.
package core

import (
	"errors"
	"fmt"

	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
)

// Predefined sentinel errors.
var (
	// ErrNotFound indicates that the requested memory entry does not exist.
	ErrNotFound = errors.New("memory entry not found")

	// ErrInvalidConfig indicates that the configuration failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDisabled indicates that the knowledge index has no embedding
	// provider configured.
	ErrDisabled = knowledge.ErrDisabled

	// ErrContentTooShort indicates that document content is below the
	// minimum ingestable length.
	ErrContentTooShort = knowledge.ErrContentTooShort

	// ErrEmbeddingFailed indicates that every chunk of a document failed
	// to embed.
	ErrEmbeddingFailed = knowledge.ErrEmbeddingFailed

	// ErrLLMOperation indicates a summarization call failure.
	ErrLLMOperation = errors.New("llm operation failed")
)

// Error wraps an underlying error with the name of the failing operation.
//
// Use errors.Is / errors.As to inspect the wrapped error:
//
//	_, err := client.IngestDocument(ctx, content, "notes.txt", "docs")
//	if errors.Is(err, core.ErrContentTooShort) {
//		// content was too short
//	}
type Error struct {
	// Op is the operation that failed ("save", "ingest", "recall", ...).
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("orcbot: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// opErr wraps err with the operation name, passing nil through.
func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
