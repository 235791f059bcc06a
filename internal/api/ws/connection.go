package ws

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
	"go.uber.org/zap"
)

// connection owns one socket. The read loop applies control messages in
// order; the write loop is the only writer once attach is acknowledged.
type connection struct {
	g          *Gateway
	conn       *websocket.Conn
	sub        *terminal.Subscription
	control    chan []byte
	done       chan struct{}
	writerDone chan struct{}
}

func newConnection(g *Gateway, conn *websocket.Conn, sub *terminal.Subscription) *connection {
	return &connection{
		g:          g,
		conn:       conn,
		sub:        sub,
		control:    make(chan []byte, g.cfg.ControlQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *connection) serve(attached ServerMessage) {
	defer c.g.sessions.Unsubscribe(c.sub)
	defer c.conn.Close()

	if err := c.writeText(attached); err != nil {
		return
	}
	if err := c.write(websocket.BinaryMessage, c.sub.Snapshot); err != nil {
		return
	}
	c.g.metrics.RecordWSMessage("out", "snapshot")

	go func() {
		defer close(c.writerDone)
		c.writeLoop()
	}()

	c.readLoop()
	close(c.done)
	<-c.writerDone
}

func (c *connection) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.g.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *connection) writeText(msg ServerMessage) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}
	c.g.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

func (c *connection) writeLoop() {
	ping := time.NewTicker(c.g.cfg.PingInterval)
	defer ping.Stop()

	events := c.sub.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.closeAfterFeed()
				return
			}
			if err := c.writeEvent(ev); err != nil {
				c.conn.Close()
				return
			}
		case data := <-c.control:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(c.g.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) writeEvent(ev terminal.Event) error {
	switch ev.Kind {
	case terminal.EventOutput:
		if err := c.write(websocket.BinaryMessage, ev.Data); err != nil {
			return err
		}
		c.g.metrics.RecordWSMessage("out", "output")
		return nil
	case terminal.EventResize:
		return c.writeText(ServerMessage{Type: TypeResize, Cols: ev.Cols, Rows: ev.Rows})
	case terminal.EventStatus:
		return c.writeText(ServerMessage{Type: TypeStatus, Status: string(ev.Status), ExitCode: ev.ExitCode})
	default:
		return nil
	}
}

// closeAfterFeed sends the close frame once the subscription has ended and
// waits briefly for the peer to answer before dropping the socket.
func (c *connection) closeAfterFeed() {
	code, reason := websocket.CloseNormalClosure, "session ended"
	if c.sub.Dropped() {
		code, reason = websocket.CloseTryAgainLater, "viewer too slow"
		c.g.logger.Warn("Closing slow viewer",
			zap.String("session_id", c.sub.SessionID),
			zap.String("subscription", c.sub.ID))
	}
	deadline := time.Now().Add(c.g.cfg.WriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	wait := time.NewTimer(c.g.cfg.CloseWait)
	defer wait.Stop()
	select {
	case <-c.done:
	case <-wait.C:
		c.conn.Close()
	}
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(c.g.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.g.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.g.cfg.PongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.g.logger.Debug("WebSocket read error",
					zap.String("session_id", c.sub.SessionID),
					zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.g.cfg.PongTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			c.g.metrics.RecordWSMessage("in", "binary")
			c.apply(ControlMessage{Type: TypeInput}, data)
		case websocket.TextMessage:
			msg, err := decodeControl(data)
			if err != nil {
				c.g.metrics.RecordWSMessage("in", "invalid")
				c.send(errorMessage("invalid control message: " + err.Error()))
				continue
			}
			c.g.metrics.RecordWSMessage("in", msg.Type)
			c.apply(msg, msg.Input)
		}
	}
}

func (c *connection) apply(msg ControlMessage, input []byte) {
	sessionID := c.sub.SessionID
	var err error
	switch msg.Type {
	case TypeInput:
		err = c.g.sessions.Input(sessionID, input)
	case TypeResize:
		err = c.g.sessions.Resize(sessionID, msg.Cols, msg.Rows)
	case TypePing:
		c.send(ServerMessage{Type: TypePong})
		return
	default:
		c.send(errorMessage("unknown message type: " + msg.Type))
		return
	}
	if err != nil {
		c.send(errorMessage(describe(err)))
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, terminal.ErrInvalidState):
		return "session is not running"
	case errors.Is(err, terminal.ErrInvalidSize):
		return "terminal size must be non-zero"
	case errors.Is(err, terminal.ErrSessionNotFound):
		return "session not found"
	default:
		return err.Error()
	}
}

// send queues a text frame for the write loop.
func (c *connection) send(msg ServerMessage) {
	data, err := encode(msg)
	if err != nil {
		return
	}
	select {
	case c.control <- data:
		c.g.metrics.RecordWSMessage("out", msg.Type)
	case <-c.writerDone:
	}
}
