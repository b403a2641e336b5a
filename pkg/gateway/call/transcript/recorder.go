// Package transcript accumulates the conversation log for one call and
// flushes it to the persistence collaborator exactly once.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one ConversationText event in arrival order.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is the flushed form handed to the sink.
type Record struct {
	UserID      string
	DocID       string
	Entries     []Entry
	CompletedAt time.Time
}

// Sink persists a completed transcript. Implemented by the postgres store.
type Sink interface {
	SaveTranscript(ctx context.Context, rec Record) error
}

// Recorder owns the transcript log for one call session. Append happens only
// from the downlink loop; Flush may race between the terminal-function path
// and the finalization path, so it is guarded one-shot.
type Recorder struct {
	userID string
	docID  string
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []Entry
	flushed bool
}

func NewRecorder(userID, docID string, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		userID: userID,
		docID:  docID,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) Append(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		// Late transcript events after flush are dropped; the stored record
		// is immutable once written.
		return
	}
	r.entries = append(r.entries, entry)
}

// Len reports the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Flush writes the log to the sink. Only the first call flushes; later calls
// are no-ops. A sink failure is logged and swallowed so teardown can finish.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return
	}
	r.flushed = true
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	if r.sink == nil {
		return
	}
	rec := Record{
		UserID:      r.userID,
		DocID:       r.docID,
		Entries:     entries,
		CompletedAt: r.now().UTC(),
	}
	if err := r.sink.SaveTranscript(ctx, rec); err != nil {
		r.logger.Error("transcript flush failed", "user_id", r.userID, "doc_id", r.docID, "entries", len(entries), "error", err)
		return
	}
	r.logger.Info("transcript flushed", "user_id", r.userID, "doc_id", r.docID, "entries", len(entries))
}
