// Package inference implements the Inferencer (IN) capability from
// spec.md §4.2: Generate(image, context, k) → k candidate alt-text strings.
package inference

import (
	"context"
	"errors"

	"github.com/altify/altify/internal/domain"
)

// Inferencer is the opaque vision-language capability a worker's slot
// drives sequentially. Implementations must be safe to call repeatedly on
// one slot but are not required to be thread-safe across slots.
type Inferencer interface {
	// Generate returns exactly k candidate strings, each produced with
	// distinct decoding settings so the pair is observably different when
	// the model is non-degenerate (spec §8, P4).
	Generate(ctx context.Context, image []byte, context_ string, k int) ([]string, error)
}

var ErrWrongCandidateCount = errors.New("inferencer returned wrong candidate count")

// classify maps a backend-reported failure kind to the domain error class
// the worker loop switches on (spec §4.2 steps 7-8).
func classify(kind string, cause error) error {
	switch kind {
	case "oom":
		return &domain.InferenceError{Class: domain.InferenceOOM, Err: cause}
	case "timeout":
		return &domain.InferenceError{Class: domain.InferenceTimeout, Err: cause}
	case "decode_error":
		return &domain.InferenceError{Class: domain.InferenceDecodeError, Err: cause}
	default:
		return &domain.InferenceError{Class: domain.InferenceInternal, Err: cause}
	}
}
