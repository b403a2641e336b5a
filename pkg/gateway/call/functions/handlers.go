package functions

import (
	"context"
	"fmt"
	"log/slog"
)

// EndCall is the terminal function: the agent calls it to conclude the
// interview. Its result carries the farewell the terminator injects before
// teardown.
type EndCall struct {
	Logger *slog.Logger
}

type endCallInput struct {
	CandidateName string
	Position      string
	DocID         string
	UserID        string
}

func (EndCall) Definition() Definition {
	return Definition{
		Name: "end_call",
		Description: "End the conversation and close the connection. Call this when " +
			"the screening interview is complete, the candidate indicates they are done, " +
			"or the conversation needs to conclude. Do not call it while the conversation is still ongoing.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"candidate_name": {Type: "string", Description: "Name of the candidate for the farewell message."},
				"position":       {Type: "string", Description: "Position the candidate applied for."},
				"doc_id":         {Type: "string", Description: "doc_id given in the prompt."},
				"user_id":        {Type: "string", Description: "user_id given in the prompt."},
			},
			Required: []string{"candidate_name", "position", "doc_id", "user_id"},
		},
	}
}

func (h EndCall) validate(params map[string]any) (endCallInput, error) {
	in := endCallInput{}
	var err error
	if in.CandidateName, err = requireStringParam(params, "candidate_name"); err != nil {
		return in, err
	}
	if in.Position, err = requireStringParam(params, "position"); err != nil {
		return in, err
	}
	if in.DocID, err = requireStringParam(params, "doc_id"); err != nil {
		return in, err
	}
	if in.UserID, err = requireStringParam(params, "user_id"); err != nil {
		return in, err
	}
	return in, nil
}

func (h EndCall) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	in, err := h.validate(params)
	if err != nil {
		return Result{}, err
	}
	if h.Logger != nil {
		h.Logger.Info("ending call", "user_id", in.UserID, "doc_id", in.DocID, "candidate", in.CandidateName)
	}
	farewell := fmt.Sprintf(
		"Thank you for your time, %s. We appreciate your interest in the %s position. We'll be in touch soon. Have a great day!",
		in.CandidateName, in.Position,
	)
	return Result{
		Output: map[string]any{
			"status":  "success",
			"message": "Call ended successfully",
		},
		Terminal: true,
		Farewell: farewell,
	}, nil
}

// AgentFiller returns a short canned line the agent can speak while a slower
// operation runs, keyed by message_type.
type AgentFiller struct{}

var fillerMessages = map[string]string{
	"lookup":     "Let me check that information for you.",
	"processing": "I'm processing that information now.",
	"thinking":   "Let me think about that for a moment.",
	"storing":    "I'm saving that information now.",
	"verifying":  "Let me verify that information.",
}

func (AgentFiller) Definition() Definition {
	return Definition{
		Name:        "agent_filler",
		Description: "Provide natural conversational filler while processing information.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"message_type": {
					Type:        "string",
					Description: "Type of filler message to use.",
					Enum:        []string{"lookup", "processing", "thinking", "storing", "verifying"},
				},
			},
			Required: []string{"message_type"},
		},
	}
}

func (AgentFiller) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	message, ok := fillerMessages[stringParam(params, "message_type", "processing")]
	if !ok {
		message = "One moment please."
	}
	return Result{Output: map[string]any{"message": message}}, nil
}

// ResponsesStore persists the candidate's interview answers.
type ResponsesStore interface {
	SaveInterviewResponses(ctx context.Context, userID, docID string, responses map[string]any) error
}

// StoreResponses records skills assessment, availability, and salary
// expectations gathered mid-interview.
type StoreResponses struct {
	Store  ResponsesStore
	Logger *slog.Logger
}

func (StoreResponses) Definition() Definition {
	return Definition{
		Name: "store_interview_responses",
		Description: "Store the candidate's interview responses: skills assessment, " +
			"availability or notice period, and salary expectations. Call it once the " +
			"candidate has answered the corresponding question.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"skills_assessment":   {Type: "object", Description: "Skill name to experience level."},
				"availability":        {Type: "object", Description: "Notice period and start availability."},
				"salary_expectations": {Type: "object", Description: "Expected salary details."},
			},
			Required: []string{"skills_assessment", "availability", "salary_expectations"},
		},
	}
}

func (h StoreResponses) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	if h.Store == nil {
		return Result{}, fmt.Errorf("responses store is not configured")
	}
	userID, err := requireStringParam(params, "user_id")
	if err != nil {
		return Result{}, err
	}
	docID, err := requireStringParam(params, "doc_id")
	if err != nil {
		return Result{}, err
	}

	responses := make(map[string]any, 3)
	for _, key := range []string{"skills_assessment", "availability", "salary_expectations"} {
		if v, ok := params[key]; ok {
			responses[key] = v
		}
	}
	if err := h.Store.SaveInterviewResponses(ctx, userID, docID, responses); err != nil {
		if h.Logger != nil {
			h.Logger.Error("storing interview responses failed", "user_id", userID, "doc_id", docID, "error", err)
		}
		return Result{}, fmt.Errorf("store interview responses: %w", err)
	}
	return Result{Output: map[string]any{
		"status":  "success",
		"message": "Interview responses stored successfully",
	}}, nil
}
