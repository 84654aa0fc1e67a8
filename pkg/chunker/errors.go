package chunker

import "fmt"

// InputError reports a document that cannot be chunked at all: zero
// pages, unreadable structure, or no extractable text. Callers should
// not retry.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("unprocessable document: %s", e.Reason)
}

// InvariantError reports a violated chunking invariant, naming the
// source block whose derived chunks are inconsistent. The whole run
// must be discarded.
type InvariantError struct {
	OriginalChunkID int
	Reason          string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("chunking invariant violated for original chunk %d: %s", e.OriginalChunkID, e.Reason)
}
