// Package agent codecs the speech-to-speech agent wire protocol: one
// SettingsConfiguration on connect, then interleaved JSON control frames and
// raw binary audio.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/functions"
)

const (
	EventWelcome             = "Welcome"
	EventUserStartedSpeaking = "UserStartedSpeaking"
	EventConversationText    = "ConversationText"
	EventFunctionCallRequest = "FunctionCallRequest"
)

type AudioInput struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type AudioOutput struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container"`
}

type AudioSettings struct {
	Input  AudioInput  `json:"input"`
	Output AudioOutput `json:"output"`
}

type ListenSettings struct {
	Model string `json:"model"`
}

type ThinkProvider struct {
	Type string `json:"type"`
}

type ThinkSettings struct {
	Provider     ThinkProvider          `json:"provider"`
	Model        string                 `json:"model"`
	Instructions string                 `json:"instructions"`
	Functions    []functions.Definition `json:"functions,omitempty"`
}

type SpeakSettings struct {
	Model string `json:"model"`
}

type AgentSettings struct {
	Listen ListenSettings `json:"listen"`
	Think  ThinkSettings  `json:"think"`
	Speak  SpeakSettings  `json:"speak"`
}

// Settings is the configuration message sent exactly once, before any audio.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

// NewSettings builds the configuration for a mu-law 8kHz phone leg.
func NewSettings(listenModel, thinkModel, speakModel, instructions string, defs []functions.Definition) Settings {
	return Settings{
		Type: "SettingsConfiguration",
		Audio: AudioSettings{
			Input:  AudioInput{Encoding: "mulaw", SampleRate: 8000},
			Output: AudioOutput{Encoding: "mulaw", SampleRate: 8000, Container: "none"},
		},
		Agent: AgentSettings{
			Listen: ListenSettings{Model: listenModel},
			Think: ThinkSettings{
				Provider:     ThinkProvider{Type: "open_ai"},
				Model:        thinkModel,
				Instructions: instructions,
				Functions:    defs,
			},
			Speak: SpeakSettings{Model: speakModel},
		},
	}
}

// Event is one decoded control frame from the agent socket. Exactly one event
// type holds; Role/Content are set for ConversationText, the Function fields
// for FunctionCallRequest.
type Event struct {
	Type string

	Role    string
	Content string

	FunctionName   string
	FunctionCallID string
	Input          map[string]any
}

type controlFrame struct {
	Type           string         `json:"type"`
	Role           string         `json:"role,omitempty"`
	Content        string         `json:"content,omitempty"`
	FunctionName   string         `json:"function_name,omitempty"`
	FunctionCallID string         `json:"function_call_id,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
}

// DecodeEvent parses one text frame from the agent socket. Unknown control
// types decode successfully so the session can log and skip them.
func DecodeEvent(data []byte) (Event, error) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{}, fmt.Errorf("decode agent event: %w", err)
	}
	typ := strings.TrimSpace(frame.Type)
	if typ == "" {
		return Event{}, fmt.Errorf("agent event missing type")
	}
	ev := Event{Type: typ}
	switch typ {
	case EventConversationText:
		ev.Role = frame.Role
		ev.Content = frame.Content
	case EventFunctionCallRequest:
		if strings.TrimSpace(frame.FunctionCallID) == "" {
			return Event{}, fmt.Errorf("function call request missing function_call_id")
		}
		ev.FunctionName = frame.FunctionName
		ev.FunctionCallID = frame.FunctionCallID
		ev.Input = frame.Input
		if ev.Input == nil {
			ev.Input = map[string]any{}
		}
	}
	return ev, nil
}

type functionCallResponse struct {
	Type           string `json:"type"`
	FunctionCallID string `json:"function_call_id"`
	Output         string `json:"output"`
}

// EncodeFunctionCallResponse serializes a dispatch outcome back onto the
// agent socket, echoing the request's call id.
func EncodeFunctionCallResponse(callID string, output map[string]any) ([]byte, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("marshal function output: %w", err)
	}
	return json.Marshal(functionCallResponse{
		Type:           "FunctionCallResponse",
		FunctionCallID: callID,
		Output:         string(raw),
	})
}

type injectMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeInjectMessage asks the agent to speak a server-authored line, used
// for the greeting and the farewell.
func EncodeInjectMessage(message string) ([]byte, error) {
	return json.Marshal(injectMessage{Type: "InjectAgentMessage", Message: message})
}
