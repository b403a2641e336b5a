// Package session runs the duplex relay for one phone call: media-stream
// socket on one side, speech-to-speech agent socket on the other.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/agent"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/audio"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/functions"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/telephony"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/transcript"
)

// Conn is the slice of *websocket.Conn the session needs; tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Config struct {
	FrameBytes    int
	AudioQueue    int
	FarewellGrace time.Duration
	CloseTimeout  time.Duration
	WriteTimeout  time.Duration
}

type Dependencies struct {
	Media    Conn
	Agent    Conn
	Logger   *slog.Logger
	Registry *functions.Registry
	Recorder *transcript.Recorder

	SessionID string
	StreamSID string
	UserID    string
	DocID     string
	Greeting  string

	Config Config
}

// CallSession owns the per-call relay state. Three goroutines cooperate:
// the transport receiver (media socket -> frame buffer), the uplink sender
// (frames -> agent socket), and the downlink receiver (agent socket ->
// everything else). Each owns disjoint state; the frames channel is the only
// handoff point and it is bounded, so a slow agent socket back-pressures the
// transport receiver.
type CallSession struct {
	media    Conn
	agent    Conn
	logger   *slog.Logger
	registry *functions.Registry
	recorder *transcript.Recorder

	sessionID string
	streamSID string
	userID    string
	docID     string
	greeting  string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	frames chan []byte

	agentWriteMu sync.Mutex
	mediaWriteMu sync.Mutex

	terminateOnce sync.Once
}

func New(deps Dependencies) (*CallSession, error) {
	if deps.Media == nil {
		return nil, errors.New("media connection is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("agent connection is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("function registry is required")
	}
	if deps.Recorder == nil {
		return nil, errors.New("transcript recorder is required")
	}
	if deps.StreamSID == "" {
		return nil, errors.New("stream sid is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.FrameBytes <= 0 {
		deps.Config.FrameBytes = audio.DefaultFrameBytes
	}
	if deps.Config.AudioQueue <= 0 {
		deps.Config.AudioQueue = 8
	}
	if deps.Config.FarewellGrace <= 0 {
		deps.Config.FarewellGrace = 2 * time.Second
	}
	if deps.Config.CloseTimeout <= 0 {
		deps.Config.CloseTimeout = 5 * time.Second
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CallSession{
		media:     deps.Media,
		agent:     deps.Agent,
		logger:    deps.Logger.With("session_id", deps.SessionID, "stream_sid", deps.StreamSID),
		registry:  deps.Registry,
		recorder:  deps.Recorder,
		sessionID: deps.SessionID,
		streamSID: deps.StreamSID,
		userID:    deps.UserID,
		docID:     deps.DocID,
		greeting:  deps.Greeting,
		cfg:       deps.Config,
		ctx:       ctx,
		cancel:    cancel,
		frames:    make(chan []byte, deps.Config.AudioQueue),
	}, nil
}

// Run relays until the call ends. It always leaves through finalize: the
// transcript is flushed and the media socket closed no matter which loop
// exits first or why.
func (s *CallSession) Run() error {
	defer s.cancel()

	// Finalize must run before waiting on the relay goroutines: closing the
	// media socket is what unblocks the transport receiver.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer s.finalize("")

	transportDone := make(chan struct{})
	uplinkDone := make(chan struct{})
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(transportDone)
		s.transportReceive()
	}()
	go func() {
		defer wg.Done()
		defer close(uplinkDone)
		s.uplink()
	}()
	go func() {
		defer wg.Done()
		<-transportDone
		<-uplinkDone
		// The caller leg is gone and every buffered frame has been forwarded;
		// release the downlink so the session can finish.
		s.cancel()
		_ = s.agent.Close()
	}()

	err := s.downlink()
	// Unblock the transport receiver and uplink if the agent leg went first.
	s.cancel()
	_ = s.agent.Close()
	return err
}

// Cancel aborts the session from outside (shutdown drain). Closing the agent
// socket unblocks the downlink, which exits through the usual finalization.
func (s *CallSession) Cancel() {
	s.cancel()
	_ = s.agent.Close()
}

// transportReceive reads media-stream envelopes, feeds inbound audio through
// the frame buffer, and hands full frames to the uplink. Malformed envelopes
// are logged and skipped.
func (s *CallSession) transportReceive() {
	defer close(s.frames)

	buffer := audio.NewFrameBuffer(s.cfg.FrameBytes)
	defer func() {
		if residual, ok := buffer.Seal(); ok {
			s.pushFrame(residual)
		}
	}()

	for {
		_, data, err := s.media.ReadMessage()
		if err != nil {
			// Socket closure is the normal end of the inbound leg.
			s.logger.Debug("media socket closed", "error", err)
			return
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			s.logger.Warn("skipping malformed transport frame", "error", err)
			continue
		}
		switch msg.Event {
		case telephony.EventMedia:
			if msg.Track != telephony.TrackInbound {
				continue
			}
			frames, err := buffer.Append(msg.Audio)
			if err != nil {
				s.logger.Warn("dropping audio chunk", "error", err)
				continue
			}
			for _, frame := range frames {
				if !s.pushFrame(frame) {
					return
				}
			}
		case telephony.EventStop:
			s.logger.Info("media stream stopped")
			return
		default:
			// connected / duplicate start: nothing to do mid-call.
		}
	}
}

func (s *CallSession) pushFrame(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// uplink forwards buffered frames to the agent socket in arrival order.
func (s *CallSession) uplink() {
	for frame := range s.frames {
		if err := s.writeAgent(websocket.BinaryMessage, frame); err != nil {
			s.logger.Warn("uplink write failed", "error", err)
			s.cancel()
			return
		}
	}
}

// downlink reads agent messages one at a time: binary audio goes to the call
// leg unmodified, text frames drive the event state machine.
func (s *CallSession) downlink() error {
	for {
		messageType, data, err := s.agent.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			s.logger.Warn("agent socket closed", "error", err)
			return nil
		}

		if messageType == websocket.BinaryMessage {
			if err := s.forwardAudio(data); err != nil {
				s.logger.Warn("outbound media write failed", "error", err)
				return nil
			}
			continue
		}

		done, err := s.handleAgentEvent(data)
		if err != nil {
			s.logger.Warn("skipping agent event", "error", err)
			continue
		}
		if done {
			return nil
		}
	}
}

func (s *CallSession) forwardAudio(chunk []byte) error {
	payload, err := telephony.EncodeMedia(s.streamSID, chunk)
	if err != nil {
		return err
	}
	return s.writeMedia(payload)
}

// handleAgentEvent applies one control frame. It reports done=true when the
// terminal function has run and the downlink must stop consuming events.
func (s *CallSession) handleAgentEvent(data []byte) (done bool, err error) {
	ev, err := agent.DecodeEvent(data)
	if err != nil {
		return false, err
	}

	switch ev.Type {
	case agent.EventWelcome:
		if s.greeting == "" {
			return false, nil
		}
		payload, err := agent.EncodeInjectMessage(s.greeting)
		if err != nil {
			return false, err
		}
		if err := s.writeAgent(websocket.TextMessage, payload); err != nil {
			return false, fmt.Errorf("send greeting: %w", err)
		}
		s.logger.Info("greeting sent")
		return false, nil

	case agent.EventUserStartedSpeaking:
		payload, err := telephony.EncodeClear(s.streamSID)
		if err != nil {
			return false, err
		}
		if err := s.writeMedia(payload); err != nil {
			return false, fmt.Errorf("send clear: %w", err)
		}
		return false, nil

	case agent.EventConversationText:
		s.recorder.Append(transcript.Entry{Role: ev.Role, Content: ev.Content})
		return false, nil

	case agent.EventFunctionCallRequest:
		return s.dispatchFunctionCall(ev)

	default:
		s.logger.Debug("ignoring agent event", "type", ev.Type)
		return false, nil
	}
}

func (s *CallSession) dispatchFunctionCall(ev agent.Event) (done bool, err error) {
	s.logger.Info("function call received", "function", ev.FunctionName, "call_id", ev.FunctionCallID)

	outcome := s.registry.Dispatch(s.ctx, functions.Call{
		Name:   ev.FunctionName,
		CallID: ev.FunctionCallID,
		Params: ev.Input,
	}, functions.SessionParams{UserID: s.userID, DocID: s.docID})

	if outcome.Terminal {
		// The transcript is durable before any farewell I/O happens.
		s.recorder.Flush(s.ctx)
	}

	payload, err := agent.EncodeFunctionCallResponse(outcome.CallID, outcome.Output)
	if err == nil {
		err = s.writeAgent(websocket.TextMessage, payload)
	}
	if err != nil {
		// A terminal outcome has already flushed the transcript; a failed
		// response write must not leave the downlink consuming events.
		if outcome.Terminal {
			s.logger.Warn("terminal function response not delivered", "error", err)
			s.finalize(outcome.Farewell)
			return true, nil
		}
		return false, fmt.Errorf("send function response: %w", err)
	}

	if !outcome.Terminal {
		return false, nil
	}
	s.finalize(outcome.Farewell)
	return true, nil
}

// finalize is the single teardown path for every exit route: terminal
// function, downlink error, media stop, external cancel. Only the first
// invocation acts, so the double-entry from the terminal path plus Run's
// deferred call performs exactly one farewell, one flush, one close.
func (s *CallSession) finalize(farewell string) {
	s.terminateOnce.Do(func() {
		if farewell != "" {
			if payload, err := agent.EncodeInjectMessage(farewell); err == nil {
				if err := s.writeAgent(websocket.TextMessage, payload); err != nil {
					s.logger.Warn("farewell injection failed", "error", err)
				} else {
					// The agent protocol has no "finished speaking" ack for
					// injected text; a bounded grace interval lets the farewell
					// audio drain before teardown.
					s.waitGrace()
				}
			}
		}

		s.recorder.Flush(context.Background())
		s.closeMedia()
	})
}

func (s *CallSession) waitGrace() {
	timer := time.NewTimer(s.cfg.FarewellGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
	}
}

// closeMedia attempts a clean websocket close with a bounded deadline; a
// stuck peer is abandoned, never waited on indefinitely.
func (s *CallSession) closeMedia() {
	deadline := time.Now().Add(s.cfg.CloseTimeout)
	closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call completed")
	if err := s.media.WriteControl(websocket.CloseMessage, closeFrame, deadline); err != nil {
		s.logger.Warn("media close frame failed", "error", err)
	}
	if err := s.media.Close(); err != nil {
		s.logger.Warn("media socket close failed", "error", err)
	}
}

func (s *CallSession) writeAgent(messageType int, data []byte) error {
	s.agentWriteMu.Lock()
	defer s.agentWriteMu.Unlock()
	if err := s.agent.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.agent.WriteMessage(messageType, data)
}

func (s *CallSession) writeMedia(data []byte) error {
	s.mediaWriteMu.Lock()
	defer s.mediaWriteMu.Unlock()
	if err := s.media.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.media.WriteMessage(websocket.TextMessage, data)
}
