// Package extract pulls the fields a screening call needs out of raw resume
// text using an OpenAI-compatible chat completion.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CandidateInfo is the structured slice of a resume the interview prompt and
// the outbound call need.
type CandidateInfo struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Email    string   `json:"email"`
	Position string   `json:"position"`
	Skills   []string `json:"skills"`
}

const extractionPrompt = `Extract the following fields from the resume below and answer with a single JSON object, nothing else:
{"name": string, "phone": string in E.164 format, "email": string, "position": string (the role the candidate is applying for or most recently held), "skills": array of strings}

Resume:
%s`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPTimeout time.Duration

	// RetryInterval is the initial backoff between attempts; MaxRetryTime
	// caps the total time spent retrying.
	RetryInterval time.Duration
	MaxRetryTime  time.Duration
}

type Extractor struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CandidateInfo runs the extraction call. Transient upstream failures and
// unparsable completions are retried; 4xx responses are not.
func (e *Extractor) CandidateInfo(ctx context.Context, resumeText string) (CandidateInfo, error) {
	if strings.TrimSpace(resumeText) == "" {
		return CandidateInfo{}, fmt.Errorf("resume text is empty")
	}

	payload, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, resumeText)},
		},
		Temperature: 0,
	})
	if err != nil {
		return CandidateInfo{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimSuffix(e.cfg.BaseURL, "/") + "/chat/completions"

	var info CandidateInfo
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.http.Do(req)
		if err != nil {
			e.logger.Warn("extraction request failed", "error", err)
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode >= 400 {
			err := fmt.Errorf("completion status %d", resp.StatusCode)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			e.logger.Warn("extraction rejected upstream", "status", resp.StatusCode)
			return err
		}

		content := contentFromChoices(body)
		if content == "" {
			// Some gateways return the JSON directly rather than wrapped in
			// a completion envelope.
			content = string(body)
		}
		raw := firstJSONObject(content)
		if raw == "" {
			return fmt.Errorf("no json object in completion")
		}
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return fmt.Errorf("decode candidate info: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval
	b.MaxElapsedTime = e.cfg.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return CandidateInfo{}, fmt.Errorf("extract candidate info: %w", err)
	}

	e.logger.Info("candidate info extracted", "name", info.Name, "position", info.Position)
	return info, nil
}

// contentFromChoices reads choices[0].message.content from an OpenAI-shaped
// completion body.
func contentFromChoices(body []byte) string {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Choices) == 0 {
		return ""
	}
	return envelope.Choices[0].Message.Content
}

// firstJSONObject returns the first balanced top-level JSON object in s.
// Models sometimes wrap their answer in prose or markdown fences.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
