package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// DefaultURL is the production agent endpoint.
const DefaultURL = "wss://agent.deepgram.com/agent"

// Dialer opens the long-lived agent socket for one call session. The API key
// travels in the websocket subprotocol list, per the agent's auth scheme.
type Dialer struct {
	URL    string
	APIKey string
}

func (d Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(d.APIKey) == "" {
		return nil, fmt.Errorf("agent api key is required")
	}
	url := strings.TrimSpace(d.URL)
	if url == "" {
		url = DefaultURL
	}

	dialer := websocket.Dialer{
		Subprotocols: []string{"token", d.APIKey},
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial agent %s: %w", url, err)
	}
	return conn, nil
}
