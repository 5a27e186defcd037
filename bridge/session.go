package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SessionState lifecycle state of one client session
type SessionState int32

// Session lifecycle: Connecting -> Open -> Closed
const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	default:
		return "closed"
	}
}

// session one upgraded client connection
//
// Frames are written only by the writer goroutine, in queue order. The reader runs in
// the HTTP handler goroutine.
type session struct {
	goutils.Component
	id        string
	conn      *websocket.Conn
	send      chan []byte
	state     int32
	limiter   *rate.Limiter
	observer  Observer
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(
	id string, conn *websocket.Conn, sendBuffer int, limiter *rate.Limiter, observer Observer,
) *session {
	logTags := log.Fields{
		"module":    "bridge",
		"component": "session",
		"instance":  id,
	}
	return &session{
		Component: goutils.Component{LogTags: logTags},
		id:        id,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		state:     int32(SessionConnecting),
		limiter:   limiter,
		observer:  observer,
		done:      make(chan struct{}),
	}
}

func (s *session) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

func (s *session) setState(state SessionState) {
	atomic.StoreInt32(&s.state, int32(state))
}

// enqueue queue a frame for the writer without blocking
//
// A frame for a closed session is discarded. A frame for a session whose queue is full
// is dropped and counted.
func (s *session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		log.WithFields(s.LogTags).Warn("Send queue full, dropping frame")
		s.observer.RecordDroppedFrame()
		return false
	}
}

// close mark the session closed and stop the writer
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.setState(SessionClosed)
		close(s.done)
	})
}

// writeLoop write queued frames and keepalive pings until the session or runtime ends
func (s *session) writeLoop(ctxt context.Context, writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		if err := s.conn.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Connection close")
		}
	}()
	for {
		select {
		case <-ctxt.Done():
			s.close()
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout),
			)
			return
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Frame write failed")
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(writeTimeout),
			); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Ping failed")
				s.close()
				return
			}
		}
	}
}

// readLoop read text frames and hand each to process until the connection fails
func (s *session) readLoop(
	ctxt context.Context,
	maxMessageBytes int64,
	pongWait time.Duration,
	process func(raw []byte),
) {
	s.conn.SetReadLimit(maxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived,
			) {
				log.WithError(err).WithFields(s.LogTags).Error("Read failed")
			} else {
				log.WithFields(s.LogTags).Debug("Client closed connection")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctxt); err != nil {
				return
			}
		}
		process(raw)
	}
}
