// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the ocpp.Channel interface.
package channel

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/ocpp"
	"github.com/gorilla/websocket"
)

// Direct constructs a connected pair of in-memory channels that pass frames
// directly without copying. Frames sent to A are received by B and vice
// versa.
func Direct() (A, B ocpp.Channel) {
	a2b := make(chan []byte)
	b2a := make(chan []byte)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- []byte
	b2a <-chan []byte
}

// Send implements a method of the [ocpp.Channel] interface.
func (d direct) Send(frame []byte) (err error) {
	defer safeClose(&err)
	d.a2b <- frame
	return nil
}

// Recv implements a method of the [ocpp.Channel] interface.
func (d direct) Recv() ([]byte, error) {
	frame, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return frame, nil
}

// Close implements a method of the [ocpp.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc. Frames are
// separated by newlines, which compact JSON never contains.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives newline-delimited frames on a reader and a
// writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [ocpp.Channel] interface.
func (c IOChannel) Send(frame []byte) error {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return errors.New("frame contains a newline")
	}
	c.w.Write(frame)
	c.w.WriteByte('\n')
	return c.w.Flush()
}

// Recv implements a method of the [ocpp.Channel] interface.
// Blank lines are skipped.
func (c IOChannel) Recv() ([]byte, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) != 0 {
			return line, nil
		} else if err != nil {
			return nil, err
		}
	}
}

// Close implements a method of the [ocpp.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// closeWait bounds the time spent sending a close frame.
const closeWait = time.Second

// WebSocket adapts a WebSocket connection to the [ocpp.Channel] interface.
// Frames are sent as text messages. A normal closure by the remote peer is
// reported to Recv as io.EOF, and operations after Close report
// net.ErrClosed.
func WebSocket(conn *websocket.Conn) *WSChannel { return &WSChannel{conn: conn} }

// A WSChannel sends and receives frames as WebSocket messages.
type WSChannel struct {
	conn *websocket.Conn

	μ      sync.Mutex
	closed bool
	cerr   error
}

// Conn returns the underlying connection.
func (w *WSChannel) Conn() *websocket.Conn { return w.conn }

// Subprotocol reports the subprotocol negotiated for the connection.
func (w *WSChannel) Subprotocol() string { return w.conn.Subprotocol() }

func (w *WSChannel) isClosed() bool {
	w.μ.Lock()
	defer w.μ.Unlock()
	return w.closed
}

// Send implements a method of the [ocpp.Channel] interface.
func (w *WSChannel) Send(frame []byte) error {
	if w.isClosed() {
		return net.ErrClosed
	}
	return w.mapError(w.conn.WriteMessage(websocket.TextMessage, frame))
}

// Recv implements a method of the [ocpp.Channel] interface.
func (w *WSChannel) Recv() ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, w.mapError(err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close implements a method of the [ocpp.Channel] interface. It sends a
// normal closure to the remote peer and closes the connection.
func (w *WSChannel) Close() error {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.closed {
		return w.cerr
	}
	w.closed = true

	// WriteControl may be used concurrently with the other methods.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	w.cerr = w.conn.Close()
	return w.cerr
}

func (w *WSChannel) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return io.EOF
	case w.isClosed(), errors.Is(err, net.ErrClosed), errors.Is(err, websocket.ErrCloseSent):
		return net.ErrClosed
	}
	return err
}
