package transcript

import (
	"context"
	"errors"
	"testing"
)

type captureSink struct {
	records []Record
	err     error
}

func (s *captureSink) SaveTranscript(ctx context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestRecorder_PreservesOrder(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	r := NewRecorder("u1", "d1", sink, nil)

	r.Append(Entry{Role: "assistant", Content: "hello"})
	r.Append(Entry{Role: "user", Content: "hi"})
	r.Append(Entry{Role: "assistant", Content: "tell me about your skills"})

	r.Flush(context.Background())

	if len(sink.records) != 1 {
		t.Fatalf("records=%d, want 1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.UserID != "u1" || rec.DocID != "d1" {
		t.Fatalf("record key=%q/%q", rec.UserID, rec.DocID)
	}
	if rec.CompletedAt.IsZero() {
		t.Fatalf("completed_at not set")
	}
	want := []string{"hello", "hi", "tell me about your skills"}
	if len(rec.Entries) != len(want) {
		t.Fatalf("entries=%d, want %d", len(rec.Entries), len(want))
	}
	for i, w := range want {
		if rec.Entries[i].Content != w {
			t.Fatalf("entries[%d]=%q, want %q", i, rec.Entries[i].Content, w)
		}
	}
}

func TestRecorder_FlushIsOneShot(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	r := NewRecorder("u1", "d1", sink, nil)
	r.Append(Entry{Role: "user", Content: "hi"})

	r.Flush(context.Background())
	r.Flush(context.Background())
	r.Flush(context.Background())

	if len(sink.records) != 1 {
		t.Fatalf("records=%d, want exactly 1", len(sink.records))
	}
}

func TestRecorder_AppendAfterFlushIsDropped(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	r := NewRecorder("u1", "d1", sink, nil)
	r.Flush(context.Background())
	r.Append(Entry{Role: "user", Content: "late"})
	if r.Len() != 0 {
		t.Fatalf("len=%d, want 0", r.Len())
	}
}

func TestRecorder_SinkFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	sink := &captureSink{err: errors.New("write failed")}
	r := NewRecorder("u1", "d1", sink, nil)
	r.Append(Entry{Role: "user", Content: "hi"})

	// Must not panic or propagate; teardown continues regardless.
	r.Flush(context.Background())
	if len(sink.records) != 1 {
		t.Fatalf("records=%d, want 1 attempt", len(sink.records))
	}
}

func TestRecorder_NilSink(t *testing.T) {
	t.Parallel()
	r := NewRecorder("u1", "d1", nil, nil)
	r.Append(Entry{Role: "user", Content: "hi"})
	r.Flush(context.Background())
}
