// Package postgres persists interview state: resumes to screen against, call
// records with their transcripts, and the candidate's structured answers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/transcript"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Resume is the stored document an interview is screened against.
type Resume struct {
	UserID        string
	DocID         string
	CandidateName string
	Position      string
	ResumeText    string
}

func (s *Store) GetResume(ctx context.Context, userID, docID string) (Resume, error) {
	var r Resume
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, doc_id, candidate_name, position, resume_text
		FROM resumes
		WHERE user_id = $1 AND doc_id = $2
	`, userID, docID).Scan(&r.UserID, &r.DocID, &r.CandidateName, &r.Position, &r.ResumeText)
	if errors.Is(err, pgx.ErrNoRows) {
		return Resume{}, ErrNotFound
	}
	if err != nil {
		return Resume{}, fmt.Errorf("get resume: %w", err)
	}
	return r, nil
}

// MarkCallPlaced records that an outbound call was started for the interview.
func (s *Store) MarkCallPlaced(ctx context.Context, userID, docID, callSID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interviews (user_id, doc_id, call_sid, status)
		VALUES ($1, $2, $3, 'in_progress')
		ON CONFLICT (user_id, doc_id) DO UPDATE SET
			call_sid = EXCLUDED.call_sid,
			status = 'in_progress',
			completed_at = NULL,
			updated_at = now()
	`, userID, docID, callSID)
	if err != nil {
		return fmt.Errorf("mark call placed: %w", err)
	}
	return nil
}

// SaveTranscript stores the finished conversation and completes the interview
// record. It implements transcript.Sink.
func (s *Store) SaveTranscript(ctx context.Context, record transcript.Record) error {
	entries, err := json.Marshal(record.Entries)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO interviews (user_id, doc_id, status, transcript, completed_at)
		VALUES ($1, $2, 'completed', $3, $4)
		ON CONFLICT (user_id, doc_id) DO UPDATE SET
			status = 'completed',
			transcript = EXCLUDED.transcript,
			completed_at = EXCLUDED.completed_at,
			updated_at = now()
	`, record.UserID, record.DocID, entries, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// SaveInterviewResponses upserts the candidate's structured answers. It
// implements functions.ResponsesStore.
func (s *Store) SaveInterviewResponses(ctx context.Context, userID, docID string, responses map[string]any) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interview_responses (user_id, doc_id, skills_assessment, availability, salary_expectations)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, doc_id) DO UPDATE SET
			skills_assessment = EXCLUDED.skills_assessment,
			availability = EXCLUDED.availability,
			salary_expectations = EXCLUDED.salary_expectations,
			updated_at = now()
	`, userID, docID,
		responseField(responses, "skills_assessment"),
		responseField(responses, "availability"),
		responseField(responses, "salary_expectations"))
	if err != nil {
		return fmt.Errorf("save interview responses: %w", err)
	}
	return nil
}

// Summary is the read model behind the interview summary endpoint.
type Summary struct {
	UserID      string             `json:"user_id"`
	DocID       string             `json:"doc_id"`
	CallSID     string             `json:"call_sid,omitempty"`
	Status      string             `json:"status"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Transcript  []transcript.Entry `json:"transcript,omitempty"`
	Responses   map[string]string  `json:"responses,omitempty"`
}

func (s *Store) InterviewSummary(ctx context.Context, userID, docID string) (Summary, error) {
	sum := Summary{UserID: userID, DocID: docID}

	var rawTranscript []byte
	err := s.pool.QueryRow(ctx, `
		SELECT call_sid, status, transcript, completed_at
		FROM interviews
		WHERE user_id = $1 AND doc_id = $2
	`, userID, docID).Scan(&sum.CallSID, &sum.Status, &rawTranscript, &sum.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("get interview: %w", err)
	}
	if len(rawTranscript) > 0 {
		if err := json.Unmarshal(rawTranscript, &sum.Transcript); err != nil {
			s.logger.Warn("stored transcript is unreadable", "user_id", userID, "doc_id", docID, "error", err)
		}
	}

	var skills, availability, salary string
	err = s.pool.QueryRow(ctx, `
		SELECT skills_assessment, availability, salary_expectations
		FROM interview_responses
		WHERE user_id = $1 AND doc_id = $2
	`, userID, docID).Scan(&skills, &availability, &salary)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// An interview without recorded answers is still reportable.
	case err != nil:
		return Summary{}, fmt.Errorf("get responses: %w", err)
	default:
		sum.Responses = map[string]string{
			"skills_assessment":   skills,
			"availability":        availability,
			"salary_expectations": salary,
		}
	}

	return sum, nil
}

// responseField renders one response section for storage. The agent sends
// the sections as JSON objects per the advertised schema; plain strings pass
// through unchanged, anything else is stored as its JSON encoding.
func responseField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
