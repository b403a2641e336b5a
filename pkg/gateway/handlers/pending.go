package handlers

import "sync"

// PendingInterview holds everything prepared at call placement that the media
// stream needs once the candidate answers. It is bound to the call through
// the stream's custom parameters rather than process-wide state, so
// concurrent calls cannot observe each other's prompts.
type PendingInterview struct {
	UserID        string
	DocID         string
	CandidateName string
	Position      string
	Instructions  string
	Greeting      string
}

// PendingInterviews is the in-memory registry between call placement and the
// media stream connecting back.
type PendingInterviews struct {
	mu      sync.Mutex
	pending map[pendingKey]PendingInterview
}

type pendingKey struct {
	userID string
	docID  string
}

func NewPendingInterviews() *PendingInterviews {
	return &PendingInterviews{pending: make(map[pendingKey]PendingInterview)}
}

func (p *PendingInterviews) Put(interview PendingInterview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[pendingKey{interview.UserID, interview.DocID}] = interview
}

// Claim removes and returns the pending interview for the given identifiers.
// The provider retries a dropped stream with a fresh call, which re-registers
// through Put, so claiming destructively keeps stale entries from piling up.
func (p *PendingInterviews) Claim(userID, docID string) (PendingInterview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pendingKey{userID, docID}
	interview, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	return interview, ok
}

func (p *PendingInterviews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
