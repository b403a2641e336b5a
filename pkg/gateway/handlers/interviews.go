package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prescreenhq/prescreen/pkg/extract"
	"github.com/prescreenhq/prescreen/pkg/gateway/config"
	"github.com/prescreenhq/prescreen/pkg/store/postgres"
	"github.com/prescreenhq/prescreen/pkg/telephony/twilio"
)

// InterviewStore is the slice of the postgres store the interview endpoints
// use.
type InterviewStore interface {
	GetResume(ctx context.Context, userID, docID string) (postgres.Resume, error)
	MarkCallPlaced(ctx context.Context, userID, docID, callSID string) error
	InterviewSummary(ctx context.Context, userID, docID string) (postgres.Summary, error)
}

type InfoExtractor interface {
	CandidateInfo(ctx context.Context, resumeText string) (extract.CandidateInfo, error)
}

type CallPlacer interface {
	PlaceCall(ctx context.Context, req twilio.CallRequest) (twilio.Call, error)
}

// StartInterviewHandler drives POST /v1/interviews: read the stored resume,
// extract the candidate's details, stage the interview prompt, and place the
// outbound call.
type StartInterviewHandler struct {
	Config    config.Config
	Store     InterviewStore
	Extractor InfoExtractor
	Caller    CallPlacer
	Pending   *PendingInterviews
	Logger    *slog.Logger
}

type startInterviewRequest struct {
	UserID string `json:"user_id"`
	DocID  string `json:"doc_id"`
}

type startInterviewResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
}

func (h StartInterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, errInvalidRequest, "method not allowed", "")
		return
	}

	var req startInterviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeErrorJSON(w, r, http.StatusBadRequest, errInvalidRequest, "invalid json body", "")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeErrorJSON(w, r, http.StatusBadRequest, errInvalidRequest, "user_id is required", "user_id")
		return
	}
	if strings.TrimSpace(req.DocID) == "" {
		writeErrorJSON(w, r, http.StatusBadRequest, errInvalidRequest, "doc_id is required", "doc_id")
		return
	}

	logger := h.Logger.With("user_id", req.UserID, "doc_id", req.DocID)
	ctx := r.Context()

	resume, err := h.Store.GetResume(ctx, req.UserID, req.DocID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeErrorJSON(w, r, http.StatusNotFound, errNotFound, "no resume for candidate", "")
		return
	}
	if err != nil {
		logger.Error("resume lookup failed", "error", err)
		writeErrorJSON(w, r, http.StatusInternalServerError, errAPI, "resume lookup failed", "")
		return
	}

	info, err := h.Extractor.CandidateInfo(ctx, resume.ResumeText)
	if err != nil {
		logger.Error("candidate info extraction failed", "error", err)
		writeErrorJSON(w, r, http.StatusBadGateway, errAPI, "candidate info extraction failed", "")
		return
	}
	if strings.TrimSpace(info.Phone) == "" {
		writeErrorJSON(w, r, http.StatusUnprocessableEntity, errInvalidRequest, "resume has no phone number", "")
		return
	}
	if info.Name == "" {
		info.Name = resume.CandidateName
	}
	if info.Position == "" {
		info.Position = resume.Position
	}

	pending := PendingInterview{
		UserID:        req.UserID,
		DocID:         req.DocID,
		CandidateName: info.Name,
		Position:      info.Position,
		Instructions:  interviewInstructions(info, req.UserID, req.DocID, time.Now()),
	}
	if h.Config.GreetingEnabled {
		pending.Greeting = fmt.Sprintf("Hello! Am I speaking with %s?", info.Name)
	}
	h.Pending.Put(pending)

	call, err := h.Caller.PlaceCall(ctx, twilio.CallRequest{
		To:        info.Phone,
		StreamURL: h.Config.StreamURL(),
		CustomParameters: map[string]string{
			"user_id": req.UserID,
			"doc_id":  req.DocID,
		},
	})
	if err != nil {
		logger.Error("call placement failed", "error", err)
		writeErrorJSON(w, r, http.StatusBadGateway, errAPI, "call placement failed", "")
		return
	}

	if err := h.Store.MarkCallPlaced(ctx, req.UserID, req.DocID, call.SID); err != nil {
		// The call is already ringing; the record catches up at transcript
		// flush, so log and keep going.
		logger.Warn("failed to record placed call", "call_sid", call.SID, "error", err)
	}

	logger.Info("interview call started", "call_sid", call.SID, "candidate", info.Name)
	writeJSON(w, http.StatusAccepted, startInterviewResponse{
		Status:  "started",
		Message: fmt.Sprintf("screening call placed to %s", info.Name),
		CallSID: call.SID,
	})
}

// SummaryHandler serves GET /v1/interviews/summary.
type SummaryHandler struct {
	Store  InterviewStore
	Logger *slog.Logger
}

func (h SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, errInvalidRequest, "method not allowed", "")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	docID := strings.TrimSpace(r.URL.Query().Get("doc_id"))
	if userID == "" {
		writeErrorJSON(w, r, http.StatusBadRequest, errInvalidRequest, "user_id is required", "user_id")
		return
	}
	if docID == "" {
		writeErrorJSON(w, r, http.StatusBadRequest, errInvalidRequest, "doc_id is required", "doc_id")
		return
	}

	summary, err := h.Store.InterviewSummary(r.Context(), userID, docID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeErrorJSON(w, r, http.StatusNotFound, errNotFound, "no interview for candidate", "")
		return
	}
	if err != nil {
		h.Logger.Error("interview summary failed", "user_id", userID, "doc_id", docID, "error", err)
		writeErrorJSON(w, r, http.StatusInternalServerError, errAPI, "interview summary failed", "")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

const instructionsTemplate = `You are Alex, a friendly and professional HR virtual assistant conducting an initial screening interview. Your role is to gather candidate information and assess their qualifications.

Current context:
- Candidate name: %s
- Position: %s
- Today's date: %s
- Key skills from the resume: %s
- Candidate's user_id: %s
- Candidate's doc_id: %s

Personality and tone:
- Professional but warm and approachable
- Clear and concise; focus on key information only

Conversation flow:
1. Introduce yourself briefly and mention you have their resume.
2. Pick their two main technical skills from the resume and ask about their experience level with each.
3. Ask about their notice period and their salary expectations.
4. Store the candidate's answers with store_interview_responses.
5. Thank the candidate and finish with the end_call function, passing the candidate's name and position.

Guidelines:
- Keep responses brief and ask only essential questions.
- If resume text contains markup characters, never read them aloud.
- Use end_call only once all information is gathered.`

func interviewInstructions(info extract.CandidateInfo, userID, docID string, now time.Time) string {
	skills := strings.Join(info.Skills, ", ")
	if skills == "" {
		skills = "not listed"
	}
	return fmt.Sprintf(instructionsTemplate,
		info.Name, info.Position, now.Format("2006-01-02"), skills, userID, docID)
}
