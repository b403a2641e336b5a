package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/functions"
)

func TestNewSettings_Shape(t *testing.T) {
	t.Parallel()
	defs := []functions.Definition{{Name: "end_call", Parameters: functions.Parameters{Type: "object"}}}
	settings := NewSettings("nova-3", "gpt-4o-mini", "aura-asteria-en", "You are Alex.", defs)

	raw, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "SettingsConfiguration" {
		t.Fatalf("type=%v", decoded["type"])
	}
	audio := decoded["audio"].(map[string]any)
	input := audio["input"].(map[string]any)
	if input["encoding"] != "mulaw" || input["sample_rate"] != float64(8000) {
		t.Fatalf("audio input=%v", input)
	}
	output := audio["output"].(map[string]any)
	if output["container"] != "none" {
		t.Fatalf("audio output=%v", output)
	}
	think := decoded["agent"].(map[string]any)["think"].(map[string]any)
	if think["instructions"] != "You are Alex." {
		t.Fatalf("instructions=%v", think["instructions"])
	}
	fns := think["functions"].([]any)
	if len(fns) != 1 {
		t.Fatalf("functions=%v", fns)
	}
}

func TestDecodeEvent_ConversationText(t *testing.T) {
	t.Parallel()
	ev, err := DecodeEvent([]byte(`{"type":"ConversationText","role":"user","content":"hello"}`))
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if ev.Type != EventConversationText || ev.Role != "user" || ev.Content != "hello" {
		t.Fatalf("ev=%+v", ev)
	}
}

func TestDecodeEvent_FunctionCallRequest(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"type":"FunctionCallRequest","function_name":"end_call","function_call_id":"c1","input":{"candidate_name":"Jane"}}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if ev.FunctionName != "end_call" || ev.FunctionCallID != "c1" {
		t.Fatalf("ev=%+v", ev)
	}
	if ev.Input["candidate_name"] != "Jane" {
		t.Fatalf("input=%v", ev.Input)
	}
}

func TestDecodeEvent_FunctionCallRequestRequiresCallID(t *testing.T) {
	t.Parallel()
	if _, err := DecodeEvent([]byte(`{"type":"FunctionCallRequest","function_name":"end_call"}`)); err == nil {
		t.Fatalf("expected error for missing function_call_id")
	}
}

func TestDecodeEvent_UnknownTypeIsNotAnError(t *testing.T) {
	t.Parallel()
	ev, err := DecodeEvent([]byte(`{"type":"AgentAudioDone"}`))
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if ev.Type != "AgentAudioDone" {
		t.Fatalf("type=%q", ev.Type)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	t.Parallel()
	if _, err := DecodeEvent([]byte(`{{`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	if _, err := DecodeEvent([]byte(`{"role":"user"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestEncodeFunctionCallResponse_OutputIsJSONString(t *testing.T) {
	t.Parallel()
	raw, err := EncodeFunctionCallResponse("c7", map[string]any{"status": "success"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded struct {
		Type           string `json:"type"`
		FunctionCallID string `json:"function_call_id"`
		Output         string `json:"output"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "FunctionCallResponse" || decoded.FunctionCallID != "c7" {
		t.Fatalf("decoded=%+v", decoded)
	}
	// Output is itself a serialized JSON object per the wire contract.
	var output map[string]any
	if err := json.Unmarshal([]byte(decoded.Output), &output); err != nil {
		t.Fatalf("output is not nested json: %v", err)
	}
	if output["status"] != "success" {
		t.Fatalf("output=%v", output)
	}
}

func TestEncodeInjectMessage(t *testing.T) {
	t.Parallel()
	raw, err := EncodeInjectMessage("Goodbye, Jane!")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"InjectAgentMessage"`) {
		t.Fatalf("raw=%s", raw)
	}
	if !strings.Contains(string(raw), "Goodbye, Jane!") {
		t.Fatalf("raw=%s", raw)
	}
}
