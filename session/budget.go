package session

import (
	"github.com/sharedcode/docstore"
)

// requestBudget counts remote round trips of a session against a ceiling.
type requestBudget struct {
	max   int
	count int
}

// increment accounts for one round trip. It fails on the call that would breach the
// ceiling and leaves the counter untouched in that case.
func (b *requestBudget) increment() error {
	if b.max > 0 && b.count >= b.max {
		return docstore.NewError(docstore.RequestBudgetExceeded, b.max,
			"the maximum number of requests (%d) allowed for this session has been reached", b.max)
	}
	b.count++
	return nil
}

// NumberOfRequests returns the round trips made by the session so far.
func (s *Session) NumberOfRequests() int {
	return s.budget.count
}

// MaxNumberOfRequests returns the session's round trip ceiling.
func (s *Session) MaxNumberOfRequests() int {
	return s.budget.max
}

// SetMaxNumberOfRequests changes the round trip ceiling of this session.
func (s *Session) SetMaxNumberOfRequests(n int) {
	s.budget.max = n
}

func (s *Session) incrementRequests() error {
	if err := s.budget.increment(); err != nil {
		return err
	}
	for _, o := range s.observers {
		o.RequestIssued(s.id, s.budget.count)
	}
	return nil
}
