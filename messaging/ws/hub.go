// Package ws exposes the conversation view over a websocket. Each connection
// owns one view; view events are written to the socket as JSON frames.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"campusconnect/backend/messaging/view"
	"campusconnect/backend/pkg/errors"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// HubOptions configures connection handling
type HubOptions struct {
	View           view.Options
	AllowedOrigins []string
	SendBuffer     int
}

// Hub tracks the open connections of every user
type Hub struct {
	conversations view.Conversations
	messages      view.Messages
	broker        view.Subscriber
	limiter       *middleware.RateLimiter
	log           *logger.Logger
	opts          HubOptions
	upgrader      websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub creates a hub. limiter may be nil to disable send throttling.
func NewHub(conversations view.Conversations, messages view.Messages, broker view.Subscriber, limiter *middleware.RateLimiter, log *logger.Logger, opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}

	h := &Hub{
		conversations: conversations,
		messages:      messages,
		broker:        broker,
		limiter:       limiter,
		log:           log,
		opts:          opts,
		clients:       make(map[string]map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, "*") || lo.Contains(h.opts.AllowedOrigins, origin)
}

// ServeWs upgrades an authenticated request. The optional with query
// parameter opens that conversation right after the list is loaded.
func (h *Hub) ServeWs(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).LogError(err, "Error upgrading connection")
		return
	}

	ctx, cancel := context.WithCancel(logger.ContextWithUserID(context.Background(), userID))
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, h.opts.SendBuffer),
		frames: make(chan inbound, frameQueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    h.log.WithUserID(userID),
	}
	client.log = &logger.Logger{Logger: client.log.With("client_id", client.ID)}
	client.view = view.New(userID, h.conversations, h.messages, h.broker, client, h.log, h.opts.View)

	h.register(client)

	client.frames <- inbound{Type: FrameLoad}
	if with := c.Query("with"); with != "" {
		content, _ := json.Marshal(OpenContent{CounterpartID: with})
		client.frames <- inbound{Type: FrameOpen, Content: content}
	}

	go client.WritePump()
	go client.processFrames()
	go client.ReadPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	c.log.Info("Client registered")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	c.log.Info("Client unregistered")
}

// ActiveConnections returns the number of open connections
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ConnectionsFor returns the number of open connections of userID
func (h *Hub) ConnectionsFor(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Shutdown disconnects every client
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.stop()
	}
}
