// Package ws serves session notifications and votes over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
	voteTimeout    = 5 * time.Second
)

var (
	errClientClosed = errors.New("websocket client closed")
	errSlowClient   = errors.New("websocket client send buffer full")
)

// Inbound message types.
const (
	MsgTypeJoin = "join"
	MsgTypeVote = "vote"
	MsgTypePing = "ping"
)

// Reply message types.
const (
	MsgTypeJoined     = "joined"
	MsgTypeVoteResult = "vote_result"
	MsgTypePong       = "pong"
	MsgTypeError      = "error"
)

// Inbound is a message from the browser.
type Inbound struct {
	Type           string `json:"type"`
	VoterID        string `json:"voter_id,omitempty"`
	Index          int    `json:"index"`
	DisplayName    string `json:"display_name,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

// Reply answers an inbound message on the same socket.
type Reply struct {
	Type      string `json:"type"`
	VoterID   string `json:"voter_id,omitempty"`
	Accepted  bool   `json:"accepted,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RoundID   string `json:"round_id,omitempty"`
	Resolved  bool   `json:"resolved,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handler upgrades GET /ws requests and bridges them to the session.
type Handler struct {
	session  *session.Manager
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler. allowedOrigins lists the browser
// origins that may connect; "*" allows any, and an empty list only allows
// same-host requests.
func NewHandler(sess *session.Manager, allowedOrigins []string) *Handler {
	h := &Handler{session: sess}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

// ServeHTTP handles one websocket connection until either side closes it or
// the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msgf("websocket upgrade failed: remote=%s", r.RemoteAddr)
		return
	}

	c := newClient(conn, r.URL.Query().Get("voter_id"))
	notifManager := h.session.Notifications()

	initial := notification.New(notification.TypeInitialState, h.session.Status())
	initial.SequenceNo = notifManager.SequenceNo()
	_ = c.Send(initial)

	subscriptionID := notifManager.Subscribe(c)
	zlog.Debug().Msgf("websocket connected: id=%s remote=%s", subscriptionID, r.RemoteAddr)

	go c.writePump()
	go func() {
		select {
		case <-h.session.Done():
			c.close()
		case <-c.done:
		}
	}()

	c.readPump(h.handle)

	notifManager.Unsubscribe(subscriptionID)
	c.close()
	zlog.Debug().Msgf("websocket disconnected: id=%s", subscriptionID)
}

func (h *Handler) handle(c *client, msg *Inbound) {
	switch msg.Type {
	case MsgTypePing:
		c.reply(&Reply{Type: MsgTypePong})

	case MsgTypeJoin:
		id, err := h.session.Join(msg.DisplayName, msg.ExternalUserID)
		if err != nil {
			c.reply(&Reply{Type: MsgTypeError, Message: err.Error()})
			return
		}
		c.setVoter(id)
		c.reply(&Reply{Type: MsgTypeJoined, VoterID: id})

	case MsgTypeVote:
		voterID := msg.VoterID
		if voterID == "" {
			voterID = c.voter()
		}
		if voterID == "" {
			c.reply(&Reply{Type: MsgTypeError, Message: "voter_id is required"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), voteTimeout)
		result, err := h.session.Vote(ctx, voterID, msg.Index)
		cancel()
		if err != nil {
			c.reply(&Reply{Type: MsgTypeError, VoterID: voterID, Message: err.Error()})
			return
		}
		c.reply(&Reply{
			Type:     MsgTypeVoteResult,
			VoterID:  voterID,
			Accepted: result.Accepted,
			Reason:   string(result.Reason),
			RoundID:  result.RoundID,
			Resolved: result.Resolved,
		})

	default:
		c.reply(&Reply{Type: MsgTypeError, Message: "unknown message type: " + msg.Type})
	}
}

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	voterID string
}

func newClient(conn *websocket.Conn, voterID string) *client {
	return &client{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		voterID: voterID,
	}
}

// Send implements notification.Stream.
func (c *client) Send(n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	return c.enqueue(data)
}

func (c *client) reply(r *Reply) {
	r.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		zlog.Debug().Err(err).Msgf("websocket reply dropped: type=%s", r.Type)
	}
}

func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

func (c *client) voter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voterID
}

func (c *client) setVoter(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voterID = id
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump(handle func(*client, *Inbound)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(&Reply{Type: MsgTypeError, Message: "invalid message format"})
			continue
		}
		handle(c, &msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
