package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/agent"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/functions"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/session"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/sessions"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/transcript"
	"github.com/prescreenhq/prescreen/pkg/gateway/config"
)

// AgentDialer opens the speech-to-speech socket for one call.
type AgentDialer interface {
	Dial(ctx context.Context) (*websocket.Conn, error)
}

// StreamHandler accepts the telephony provider's media-stream websocket at
// /twilio and runs the call session against the agent.
type StreamHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *functions.Registry
	Sink     transcript.Sink
	Pending  *PendingInterviews
	Sessions *sessions.Tracker
	Dialer   AgentDialer
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, errInvalidRequest, "method not allowed", "")
		return
	}

	// The provider connects server-to-server without an Origin header.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	start, err := session.AwaitStart(conn, handshakeTimeout)
	if err != nil {
		h.Logger.Warn("media stream handshake failed", "error", err)
		return
	}

	userID := start.CustomParameters["user_id"]
	docID := start.CustomParameters["doc_id"]
	logger := h.Logger.With("stream_sid", start.StreamSID, "user_id", userID, "doc_id", docID)

	pending, ok := h.Pending.Claim(userID, docID)
	if !ok {
		logger.Warn("media stream for unknown interview, dropping")
		h.closeStream(conn, "no interview staged for this call")
		return
	}

	agentConn, err := h.Dialer.Dial(r.Context())
	if err != nil {
		logger.Error("agent dial failed", "error", err)
		h.closeStream(conn, "agent unavailable")
		return
	}
	defer agentConn.Close()

	// Settings must reach the agent before any audio does.
	settings, err := json.Marshal(agent.NewSettings(
		h.Config.ListenModel,
		h.Config.ThinkModel,
		h.Config.SpeakModel,
		pending.Instructions,
		h.Registry.Definitions(),
	))
	if err != nil {
		logger.Error("settings encoding failed", "error", err)
		return
	}
	if err := agentConn.WriteMessage(websocket.TextMessage, settings); err != nil {
		logger.Error("settings write failed", "error", err)
		return
	}

	sessionID := "call_" + uuid.NewString()
	recorder := transcript.NewRecorder(userID, docID, h.Sink, logger)

	sess, err := session.New(session.Dependencies{
		Media:     conn,
		Agent:     agentConn,
		Logger:    h.Logger,
		Registry:  h.Registry,
		Recorder:  recorder,
		SessionID: sessionID,
		StreamSID: start.StreamSID,
		UserID:    userID,
		DocID:     docID,
		Greeting:  pending.Greeting,
		Config: session.Config{
			AudioQueue:    h.Config.AudioQueueFrames,
			FarewellGrace: h.Config.FarewellGrace,
			CloseTimeout:  h.Config.CloseTimeout,
			WriteTimeout:  h.Config.WriteTimeout,
		},
	})
	if err != nil {
		logger.Error("session setup failed", "error", err)
		return
	}

	unregister := h.Sessions.Register(sessionID, sessions.Handle{Cancel: sess.Cancel})
	defer unregister()

	logger.Info("call session starting", "session_id", sessionID, "call_sid", start.CallSID)
	if err := sess.Run(); err != nil {
		logger.Warn("call session ended with error", "session_id", sessionID, "error", err)
		return
	}
	logger.Info("call session finished", "session_id", sessionID)
}

func (h *StreamHandler) closeStream(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(h.Config.CloseTimeout)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}
