// Package telephony codecs the provider's media-stream framing: JSON
// envelopes carrying call control events and base64 mu-law audio.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventClear     = "clear"

	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return e.Message + " (" + e.Param + ")"
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// StreamStart is delivered once per call when the provider connects the
// media stream. CustomParameters carries the key/value pairs attached to the
// <Stream> TwiML noun at call placement.
type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

type inboundEnvelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StreamStart  `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

// Message is a decoded inbound transport frame.
//
// Exactly one of the following holds, keyed by Event:
//   - EventConnected: no payload
//   - EventStart: Start is populated
//   - EventMedia: Audio holds the decoded chunk, Track its origin leg
//   - EventStop: no payload
type Message struct {
	Event string
	Start *StreamStart
	Track string
	Audio []byte
}

// Decode parses one inbound envelope. Malformed frames return a *DecodeError
// so the caller can log and skip them without tearing down the stream.
func Decode(data []byte) (Message, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, badFrame("invalid json envelope", "")
	}
	event := strings.TrimSpace(env.Event)

	switch event {
	case EventConnected, EventStop:
		return Message{Event: event}, nil
	case EventStart:
		if env.Start == nil || strings.TrimSpace(env.Start.StreamSID) == "" {
			return Message{}, badFrame("start event missing streamSid", "start.streamSid")
		}
		return Message{Event: EventStart, Start: env.Start}, nil
	case EventMedia:
		if env.Media == nil {
			return Message{}, badFrame("media event missing payload", "media")
		}
		audio, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Message{}, badFrame("media payload is not valid base64", "media.payload")
		}
		return Message{Event: EventMedia, Track: env.Media.Track, Audio: audio}, nil
	case "":
		return Message{}, badFrame("missing event", "event")
	default:
		return Message{}, badFrame("unsupported event", "event")
	}
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// EncodeMedia wraps synthesized audio into the provider's outbound media
// envelope for the given stream.
func EncodeMedia(streamSID string, audio []byte) ([]byte, error) {
	msg := outboundMedia{Event: EventMedia, StreamSID: streamSID}
	msg.Media.Payload = base64.StdEncoding.EncodeToString(audio)
	return json.Marshal(msg)
}

// EncodeClear builds the envelope that discards any audio queued for playback
// on the call leg (barge-in).
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSID: streamSID})
}
