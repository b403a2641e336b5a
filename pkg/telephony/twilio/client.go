// Package twilio places outbound calls through the Twilio REST API and
// builds the TwiML that bridges the answered call into our media stream.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultBaseURL = "https://api.twilio.com"

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// BaseURL overrides the API host; tests point it at a local server.
	BaseURL string

	HTTPTimeout time.Duration

	// RetryInterval is the initial backoff between attempts; MaxRetryTime
	// caps the total time spent retrying.
	RetryInterval time.Duration
	MaxRetryTime  time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("account sid is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("auth token is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("from number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}, nil
}

// CallRequest describes one outbound screening call. CustomParameters are
// attached to the <Stream> noun and echoed back in the media stream's start
// event, which is how the answered call is matched to its interview.
type CallRequest struct {
	To               string
	StreamURL        string
	CustomParameters map[string]string
}

// Call is the provider's record of a placed call.
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall creates the outbound call. Transient failures (network, 5xx) are
// retried with exponential backoff; 4xx responses are not retried.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (Call, error) {
	if strings.TrimSpace(req.To) == "" {
		return Call{}, fmt.Errorf("destination number is required")
	}
	if strings.TrimSpace(req.StreamURL) == "" {
		return Call{}, fmt.Errorf("stream url is required")
	}

	twiml, err := StreamTwiML(req.StreamURL, req.CustomParameters)
	if err != nil {
		return Call{}, fmt.Errorf("build twiml: %w", err)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	var placed Call
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			c.logger.Warn("call placement request failed", "error", err)
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode >= 400 {
			var apiErr apiError
			_ = json.Unmarshal(body, &apiErr)
			err := fmt.Errorf("twilio status %d: %s", resp.StatusCode, apiErr.Message)
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			c.logger.Warn("call placement rejected upstream", "status", resp.StatusCode)
			return err
		}

		if err := json.Unmarshal(body, &placed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode call response: %w", err))
		}
		if placed.SID == "" {
			return backoff.Permanent(fmt.Errorf("call response missing sid"))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	b.MaxElapsedTime = c.cfg.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return Call{}, fmt.Errorf("place call: %w", err)
	}

	c.logger.Info("outbound call placed", "call_sid", placed.SID, "status", placed.Status)
	return placed, nil
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlStream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []twimlParameter
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

// StreamTwiML renders the voice instruction that connects the answered call
// to the given media-stream websocket. Parameters are emitted in sorted key
// order so the output is deterministic.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	stream := twimlStream{URL: streamURL}
	for _, key := range sortedKeys(params) {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: key, Value: params[key]})
	}
	out, err := xml.Marshal(twimlResponse{Connect: twimlConnect{Stream: stream}})
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
