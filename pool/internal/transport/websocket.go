// SPDX-License-Identifier: ice License 1.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type (
	// Websocket is a client-side relay connection over gobwas/ws.
	Websocket struct {
		conn         net.Conn
		onFrame      func([]byte)
		onClose      func(error)
		writeTimeout stdlibtime.Duration
		connMx       sync.Mutex
		writeMx      sync.Mutex
	}
)

var (
	ErrClosed = errors.New("websocket is closed")
)

func NewWebsocket(writeTimeout stdlibtime.Duration) *Websocket {
	return &Websocket{
		writeTimeout: writeTimeout,
		onFrame:      func([]byte) {},
		onClose:      func(error) {},
	}
}

func (w *Websocket) OnFrame(handler func(frame []byte)) {
	w.connMx.Lock()
	w.onFrame = handler
	w.connMx.Unlock()
}

func (w *Websocket) OnClose(handler func(err error)) {
	w.connMx.Lock()
	w.onClose = handler
	w.connMx.Unlock()
}

func (w *Websocket) Connect(ctx context.Context, url string) error {
	w.connMx.Lock()
	defer w.connMx.Unlock()

	if w.conn != nil {
		return nil
	}
	conn, br, _, err := ws.DefaultDialer.Dial(ctx, url)
	if err != nil {
		return errors.Wrapf(err, "failed to dial %v", url)
	}
	w.conn = conn
	go w.read(conn, br, w.onFrame, w.onClose)

	return nil
}

func (w *Websocket) Send(ctx context.Context, frame []byte) error {
	w.connMx.Lock()
	conn := w.conn
	w.connMx.Unlock()
	if conn == nil {
		return ErrClosed
	}

	w.writeMx.Lock()
	defer w.writeMx.Unlock()

	deadline := stdlibtime.Now().Add(w.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}

	return errors.Wrap(wsutil.WriteClientText(conn, frame), "failed to write frame")
}

func (w *Websocket) Disconnect() error {
	w.connMx.Lock()
	conn := w.conn
	w.conn = nil
	w.connMx.Unlock()
	if conn == nil {
		return nil
	}

	w.writeMx.Lock()
	_ = conn.SetWriteDeadline(stdlibtime.Now().Add(w.writeTimeout))
	closeErr := wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	w.writeMx.Unlock()
	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "failed to close connection")
	}
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return errors.Wrap(closeErr, "failed to write close frame")
	}

	return nil
}

func (w *Websocket) read(conn net.Conn, br *bufio.Reader, onFrame func([]byte), onClose func(error)) {
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	control := func(hdr ws.Header, r io.Reader) error {
		return w.control(conn, hdr, r)
	}
	rd := &wsutil.Reader{Source: src, State: ws.StateClientSide, CheckUTF8: true, OnIntermediate: control}
	err := w.readFrames(rd, control, onFrame)
	if br != nil {
		ws.PutReader(br)
	}

	w.connMx.Lock()
	current := w.conn == conn
	if current {
		w.conn = nil
	}
	w.connMx.Unlock()
	if !current {
		return
	}
	_ = conn.Close()
	onClose(closeReason(err))
}

func (*Websocket) readFrames(rd *wsutil.Reader, control wsutil.FrameHandlerFunc, onFrame func([]byte)) error {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err = control(hdr, rd); err != nil {
				return err
			}

			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err = rd.Discard(); err != nil {
				return err
			}

			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			onFrame(data)
		}
	}
}

// control answers pings and close frames; the reply is buffered so it is written as one frame.
func (w *Websocket) control(conn net.Conn, hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := (&wsutil.ControlHandler{Src: r, Dst: &reply, State: ws.StateClientSide}).Handle(hdr)
	if reply.Len() > 0 {
		w.writeMx.Lock()
		_ = conn.SetWriteDeadline(stdlibtime.Now().Add(w.writeTimeout))
		_, wErr := conn.Write(reply.Bytes())
		w.writeMx.Unlock()
		if err == nil && wErr != nil {
			err = wErr
		}
	}

	return err
}

func closeReason(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		switch closed.Code {
		case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd:
			return nil
		}
	}

	return errors.Wrap(err, "connection dropped")
}
