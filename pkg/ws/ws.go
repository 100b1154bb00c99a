package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const (
	// pingInterval is the interval at which to send pings.
	pingInterval = 15 * time.Second
	// pongWait is the duration to wait for a pong response to a ping.
	pongWait = time.Minute
	// closeWait is the duration to wait for a close response.
	closeWait = 5 * time.Second
	// inboxBufferSize is the number of messages to read before applying backpressure.
	inboxBufferSize = 32
	// outboxBufferSize is the number of messages to write before applying backpressure.
	outboxBufferSize = 64
	// MaxMessageSize is the largest message, in bytes, either side may send.
	MaxMessageSize = 4 * 1024 * 1024
)

// Session is a thread-safe, JSON-speaking wrapper around a *websocket.Conn. Decoded messages
// arrive on Inbox; values passed to Send are encoded and written in order.
type Session[TIn, TOut any] struct {
	log  *logrus.Entry
	conn *websocket.Conn

	cancel    context.CancelFunc
	errLock   sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error
	outbox    chan TOut

	// Done is closed once both the read and write loops have exited. Even then, call Close.
	Done <-chan struct{}
	// Inbox receives decoded messages. It is closed when the read loop exits.
	Inbox <-chan TIn
}

// Wrap takes ownership of conn and starts its read and write loops.
func Wrap[TIn, TOut any](name string, conn *websocket.Conn) *Session[TIn, TOut] {
	ctx, cancel := context.WithCancel(context.Background())

	inbox := make(chan TIn, inboxBufferSize)
	outbox := make(chan TOut, outboxBufferSize)
	done := make(chan struct{})

	s := &Session[TIn, TOut]{
		log: logrus.WithFields(logrus.Fields{
			"component":   "websocket",
			"remote-addr": conn.RemoteAddr(),
			"name":        name,
		}),
		conn:   conn,
		cancel: cancel,
		outbox: outbox,
		Done:   done,
		Inbox:  inbox,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.runWriteLoop(ctx, outbox); err != nil {
			s.setError(fmt.Errorf("write loop: %w", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.runReadLoop(ctx, inbox); err != nil {
			s.setError(fmt.Errorf("read loop: %w", err))
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	return s
}

// Send queues msg for writing. It blocks while the outbox is full and fails once the session is
// finished or ctx is canceled.
func (s *Session[TIn, TOut]) Send(ctx context.Context, msg TOut) error {
	select {
	case <-s.Done:
		return fmt.Errorf("session closed")
	default:
	}
	select {
	case s.outbox <- msg:
		return nil
	case <-s.Done:
		return fmt.Errorf("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the session finishes and returns its error, if any.
func (s *Session[TIn, TOut]) Wait() error {
	<-s.Done
	return s.Error()
}

// Error returns the error the session encountered, if any. Errors from closing are excluded.
func (s *Session[TIn, TOut]) Error() error {
	s.errLock.Lock()
	defer s.errLock.Unlock()
	return s.err
}

// Close performs the close handshake and closes the underlying connection.
func (s *Session[TIn, TOut]) Close() error {
	s.closeOnce.Do(func() {
		initialErr := s.Error()

		var err *multierror.Error
		if hErr := s.closeGraceful(); hErr != nil {
			err = multierror.Append(err, fmt.Errorf("gracefully closing: %w", hErr))
			if fErr := s.closeForced(); fErr != nil {
				err = multierror.Append(err, fmt.Errorf("forcibly closing: %w", fErr))
			}
		}
		s.log.Trace("socket closed")

		if endingErr := s.Error(); initialErr == nil && endingErr != nil {
			err = multierror.Append(err, endingErr)
		}
		s.closeErr = err.ErrorOrNil()
	})
	return s.closeErr
}

func (s *Session[TIn, TOut]) runReadLoop(ctx context.Context, inbox chan<- TIn) error {
	defer s.cancel()
	defer close(inbox)

	s.conn.SetReadLimit(MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return fmt.Errorf("setting initial read deadline: %w", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.WithError(err).Error("setting read deadline")
		}
		return nil
	})

	for {
		switch msgType, msg, err := s.conn.ReadMessage(); {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			return nil
		case err != nil:
			return fmt.Errorf("reading message: %w", err)
		case msgType != websocket.TextMessage && msgType != websocket.BinaryMessage:
			return fmt.Errorf("unexpected message type: %d", msgType)
		default:
			if ctx.Err() != nil {
				// Closing; drain until the peer's close arrives.
				continue
			}

			var parsed TIn
			if err := json.Unmarshal(msg, &parsed); err != nil {
				s.log.WithError(err).Warn("dropping undecodable message")
				continue
			}
			select {
			case inbox <- parsed:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Session[TIn, TOut]) runWriteLoop(ctx context.Context, outbox <-chan TOut) error {
	defer s.cancel()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-outbox:
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(msg); err != nil {
				return fmt.Errorf("encoding outbound message: %w", err)
			}
			if cur, max := buf.Len(), MaxMessageSize; cur > max {
				return fmt.Errorf("message size %d exceeds maximum size %d", cur, max)
			}

			switch err := s.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); {
			case err == websocket.ErrCloseSent:
				return nil
			case err != nil:
				return fmt.Errorf("writing message: %w", err)
			}
		case <-ping.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait))
			netErr, ok := err.(net.Error)
			switch {
			case ok && netErr.Timeout():
				continue
			case err == websocket.ErrCloseSent:
				return nil
			case err != nil:
				return fmt.Errorf("sending ping: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session[TIn, TOut]) closeGraceful() error {
	s.cancel()

	closeDeadline := time.Now().Add(closeWait)
	s.conn.SetPongHandler(nil)
	if err := s.conn.SetReadDeadline(closeDeadline); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}

	// Starting the handshake here leaves the read loop draining until the peer answers or the
	// deadline passes. If a close was already exchanged, the write reports ErrCloseSent and the
	// read loop is already gone.
	if err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "close called"),
		closeDeadline,
	); err != websocket.ErrCloseSent && err != nil {
		return fmt.Errorf("sending close: %w", err)
	}

	<-s.Done
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing underlying conn: %w", err)
	}
	return nil
}

func (s *Session[TIn, TOut]) closeForced() error {
	s.cancel()
	err := s.conn.Close()
	<-s.Done
	if err != nil {
		return fmt.Errorf("closing underlying conn: %w", err)
	}
	return nil
}

func (s *Session[TIn, TOut]) setError(err error) {
	s.errLock.Lock()
	defer s.errLock.Unlock()
	s.err = multierror.Append(s.err, err)
}
