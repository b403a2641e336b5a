package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/telephony"
)

// ErrStreamEnded reports that the media stream stopped before it started.
var ErrStreamEnded = errors.New("media stream ended before start")

// AwaitStart consumes envelopes from a freshly accepted media socket until
// the start event arrives, which carries the stream SID and the custom
// parameters the call was placed with. The provider sends connected then
// start before any media, so nothing audible is lost here. The deadline
// bounds a peer that connects and then goes quiet.
func AwaitStart(conn Conn, timeout time.Duration) (*telephony.StreamStart, error) {
	type readDeadliner interface {
		SetReadDeadline(t time.Time) error
	}
	if rd, ok := conn.(readDeadliner); ok && timeout > 0 {
		if err := rd.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
		defer rd.SetReadDeadline(time.Time{})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read during handshake: %w", err)
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			continue
		}
		switch msg.Event {
		case telephony.EventStart:
			if msg.Start == nil || msg.Start.StreamSID == "" {
				return nil, errors.New("start event missing stream sid")
			}
			return msg.Start, nil
		case telephony.EventStop:
			return nil, ErrStreamEnded
		}
	}
}
