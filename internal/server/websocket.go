// File: internal/server/websocket.go
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/internal/chat"
)

// SocketMessageType is the kind of a chat socket message.
type SocketMessageType string

const (
	// Client to server.
	SocketUserMessage SocketMessageType = "user_message"

	// Server to client.
	SocketGreeting SocketMessageType = "greeting"
	SocketFragment SocketMessageType = "fragment"
	SocketReply    SocketMessageType = "reply"
	SocketError    SocketMessageType = "error"
)

// SocketMessage is one frame of the chat socket protocol.
type SocketMessage struct {
	Type      SocketMessageType `json:"type"`
	Text      string            `json:"text,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 8192
	sendChannelSize = 256
	inboxSize       = 4
)

// wsClient is one chat socket. The write pump is the only writer to conn.
type wsClient struct {
	conn   *websocket.Conn
	send   chan SocketMessage
	logger *zap.Logger
}

// handleChatSocket upgrades to a WebSocket carrying a multi-turn chat about
// one record. The conversation lives as long as the connection.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	out, ok := s.openRecord(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}

	logger := s.logger.With(zap.String("record_id", out.RecordID()), zap.String("remote_addr", r.RemoteAddr))
	logger.Info("Chat socket opened")

	c := &wsClient{conn: conn, send: make(chan SocketMessage, sendChannelSize), logger: logger}
	conv := chat.NewConversation(out.Record)
	c.enqueue(SocketGreeting, conv.Messages[0].Text)

	ctx, cancel := context.WithCancel(r.Context())
	inbox := make(chan string, inboxSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		s.chatWorker(ctx, c, conv, inbox)
	}()

	c.readPump(inbox)
	cancel()
	wg.Wait()
	logger.Info("Chat socket closed")
}

// chatWorker answers queued user messages in order and closes the send
// channel once the inbox is drained.
func (s *Server) chatWorker(ctx context.Context, c *wsClient, conv *chat.Conversation, inbox <-chan string) {
	defer close(c.send)
	for text := range inbox {
		if ctx.Err() != nil {
			continue
		}
		reply, err := s.chat.Send(ctx, conv, text, func(fragment string) {
			c.enqueue(SocketFragment, fragment)
		})
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			c.enqueue(SocketError, "Message is required.")
		case err != nil:
			c.enqueue(SocketError, reply.Text)
		default:
			c.enqueue(SocketReply, reply.Text)
		}
	}
}

// readPump forwards user messages to inbox until the connection fails.
func (c *wsClient) readPump(inbox chan<- string) {
	defer close(inbox)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg SocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Chat socket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if msg.Type != SocketUserMessage {
			c.enqueue(SocketError, "Unsupported message type: "+string(msg.Type))
			continue
		}
		select {
		case inbox <- msg.Text:
		default:
			c.enqueue(SocketError, "Too many pending messages. Wait for the current reply.")
		}
	}
}

// writePump serializes all writes to the connection and keeps it alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("Failed to write chat socket message", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a message for the write pump, dropping it when the client
// is not keeping up.
func (c *wsClient) enqueue(t SocketMessageType, text string) {
	msg := SocketMessage{Type: t, Text: text, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	select {
	case c.send <- msg:
	default:
		c.logger.Error("Chat socket send buffer full, dropping message", zap.String("type", string(t)))
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origins := s.allowedOrigins()
	if slices.Contains(origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(origins, origin)
}
