package inference

import (
	"context"
	"fmt"
	"sync"
)

// StubInferencer is the test fake used by worker unit tests in place of
// a live vision-language backend. Script entries are consumed in order per
// call to Generate; an entry may be a fixed candidate list or an error to
// return, letting tests drive the "OOM twice then succeed" scenario from
// spec §9 test 4.
type StubInferencer struct {
	mu     sync.Mutex
	script []stubResult
	calls  int
}

type stubResult struct {
	candidates []string
	err        error
}

func NewStubInferencer() *StubInferencer {
	return &StubInferencer{}
}

func (s *StubInferencer) AndReturn(candidates ...string) *StubInferencer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, stubResult{candidates: candidates})
	return s
}

func (s *StubInferencer) AndFail(err error) *StubInferencer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, stubResult{err: err})
	return s
}

func (s *StubInferencer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubInferencer) Generate(_ context.Context, _ []byte, _ string, k int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return nil, fmt.Errorf("stub inferencer script exhausted")
	}
	next := s.script[0]
	s.script = s.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	if len(next.candidates) != k {
		return nil, fmt.Errorf("stub scripted %d candidates, want %d: %w", len(next.candidates), k, ErrWrongCandidateCount)
	}
	return next.candidates, nil
}
