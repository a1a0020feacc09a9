package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"campusconnect/backend/messaging/service"
	"campusconnect/backend/messaging/view"
	"campusconnect/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024

	// Upper bound for a single view operation triggered by a frame
	operationTimeout = 15 * time.Second

	// Frames read but not yet handled. A full queue stops reading.
	frameQueueSize = 64
)

// Frame types sent by the client
const (
	FrameLoad  = "load"
	FrameOpen  = "open"
	FrameSend  = "send"
	FrameClose = "close"
	FramePing  = "ping"
)

// Frame types sent by the server in addition to view events
const (
	FramePong  = "pong"
	FrameError = "error"
)

// Message is a websocket frame
type Message struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

type inbound struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// OpenContent is the body of an open frame
type OpenContent struct {
	CounterpartID string `json:"counterpart_id"`
}

// SendContent is the body of a send frame
type SendContent struct {
	Content string `json:"content"`
}

// ErrorContent is the body of an error frame
type ErrorContent struct {
	Message string `json:"message"`
}

// Client is one websocket connection and the view behind it
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	hub  *Hub
	view *view.ConversationView
	log  *logger.Logger

	send     chan []byte
	frames   chan inbound
	done     chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// Emit implements view.Emitter. It never blocks: a client that cannot keep
// up is disconnected.
func (c *Client) Emit(e view.Event) {
	c.write(Message{Type: string(e.Type), Content: e.Content})
}

func (c *Client) write(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		c.log.LogError(err, "Error marshaling message", "type", m.Type)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("Client removed due to blocked channel")
		c.stop()
	}
}

// enqueue queues a frame for processFrames. It reports false once the
// client is stopping.
func (c *Client) enqueue(frame inbound) bool {
	select {
	case c.frames <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendError(text string) {
	c.write(Message{Type: FrameError, Content: ErrorContent{Message: text}})
}

// stop signals both pumps to exit
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// ReadPump reads frames until the connection fails, then tears the client down
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.stop()
		close(c.frames)
		c.view.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.LogError(err, "Unexpected websocket close")
			}
			return
		}

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("Invalid message")
			continue
		}

		switch frame.Type {
		case FrameClose:
			return
		case FramePing:
			c.write(Message{Type: FramePong})
		default:
			if !c.enqueue(frame) {
				return
			}
		}
	}
}

// processFrames handles queued frames one at a time, in arrival order
func (c *Client) processFrames() {
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.frames:
			if !ok {
				return
			}
			c.handle(frame)
		}
	}
}

func (c *Client) handle(frame inbound) {
	ctx, cancel := context.WithTimeout(c.ctx, operationTimeout)
	defer cancel()

	switch frame.Type {
	case FrameLoad:
		_ = c.view.Load(ctx)

	case FrameOpen:
		var content OpenContent
		if err := json.Unmarshal(frame.Content, &content); err != nil || content.CounterpartID == "" {
			c.sendError("counterpart_id is required")
			return
		}
		_ = c.view.Open(ctx, content.CounterpartID)

	case FrameSend:
		var content SendContent
		if err := json.Unmarshal(frame.Content, &content); err != nil {
			c.sendError("Invalid message")
			return
		}
		if c.hub.limiter != nil && !c.hub.limiter.Allow("user:"+c.UserID) {
			c.sendError("Too many messages. Please slow down.")
			return
		}

		err := c.view.Send(ctx, content.Content)
		if stderrors.Is(err, service.ErrNoConversation) || stderrors.Is(err, service.ErrEmptyContent) {
			c.sendError(validationMessage(err))
		}

	default:
		c.sendError("Unknown message type")
	}
}

func validationMessage(err error) string {
	if stderrors.Is(err, service.ErrNoConversation) {
		return "Open a conversation first"
	}
	return "Message content is required"
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.stop()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
