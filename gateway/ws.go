package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/operandhq/operand/core"
)

// wsMessage is the single frame shape in both directions.
type wsMessage struct {
	Type        string                 `json:"type"`
	ID          string                 `json:"id,omitempty"`
	Channels    []string               `json:"channels,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Origin      string                 `json:"origin,omitempty"`
	Mode        string                 `json:"mode,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Seq         uint64                 `json:"seq,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	wsWriteWait      = 10 * time.Second
	wsReadLimit      = 1 << 20
	wsOutboundBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// CORS policy for the REST surface is permissive; the socket follows.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected socket. The writer goroutine owns the
// connection for writes; the reader loop and the bus pump hand frames to
// it over the outbound channel, dropping the oldest on overflow.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	out    chan wsMessage

	sub     *core.Subscription
	done    chan struct{}
	dropped atomic.Uint64
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	client := &wsClient{
		server: s,
		conn:   conn,
		out:    make(chan wsMessage, wsOutboundBuffer),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(wsReadLimit)

	go client.writeLoop()
	client.send(wsMessage{Type: "connected", Metadata: map[string]interface{}{
		"server":  s.cfg.Name,
		"version": s.cfg.Version,
	}})
	client.readLoop()
}

// send enqueues a frame, dropping the oldest queued frame when the client
// is not keeping up. Server frames are best-effort by contract; every
// discarded frame counts toward the gap figure reported on subscribe.
func (c *wsClient) send(msg wsMessage) {
	for {
		select {
		case c.out <- msg:
			return
		default:
		}
		select {
		case <-c.out:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) readLoop() {
	defer func() {
		close(c.done)
		if c.sub != nil {
			c.server.bus.Unsubscribe(c.sub)
		}
		c.conn.Close()
	}()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			c.send(wsMessage{Type: "pong", ID: msg.ID})
		case "subscribe":
			c.subscribe(msg)
		case "intent":
			c.submitIntent(msg)
		default:
			c.send(wsMessage{Type: "error", ID: msg.ID, Metadata: map[string]interface{}{
				"code":    "INVALID_REQUEST",
				"message": "unknown message type " + msg.Type,
			}})
		}
	}
}

// subscribe attaches the client to the requested bus channels, replacing
// any previous subscription. Dropped-event counts from the old
// subscription are reported so clients can reconcile gaps.
func (c *wsClient) subscribe(msg wsMessage) {
	topics := make([]string, 0, len(msg.Channels))
	for _, ch := range msg.Channels {
		switch ch {
		case core.TopicExecutions, core.TopicAurora:
			topics = append(topics, ch)
		default:
			c.send(wsMessage{Type: "error", ID: msg.ID, Metadata: map[string]interface{}{
				"code":    "INVALID_REQUEST",
				"message": "unknown channel " + ch,
			}})
			return
		}
	}

	// Gaps come from two queues: the bus subscription and the client's own
	// outbound buffer.
	dropped := c.dropped.Load()
	if c.sub != nil {
		dropped += c.sub.Dropped()
		c.server.bus.Unsubscribe(c.sub)
	}
	c.sub = c.server.bus.Subscribe(topics...)
	go c.pump(c.sub)

	c.send(wsMessage{Type: "subscribed", ID: msg.ID, Metadata: map[string]interface{}{
		"channels":       msg.Channels,
		"dropped_events": dropped,
	}})
}

// pump forwards bus events to the socket until the subscription closes.
func (c *wsClient) pump(sub *core.Subscription) {
	for ev := range sub.C() {
		c.send(translateEvent(ev))
	}
}

// translateEvent maps a bus event onto the client vocabulary. Step and
// execution lifecycle events are progress frames; everything else is a
// notification.
func translateEvent(ev core.Event) wsMessage {
	msg := wsMessage{
		ExecutionID: ev.ExecutionID,
		Seq:         ev.Seq,
		Metadata: map[string]interface{}{
			"event":     ev.Type,
			"timestamp": ev.Timestamp,
		},
	}
	for k, v := range ev.Payload {
		msg.Metadata[k] = v
	}
	switch ev.Topic {
	case core.TopicExecutions:
		msg.Type = "skill_execution"
		if ev.Type == core.EventNotification || ev.Type == core.EventChat {
			msg.Type = "notification"
		}
	default:
		msg.Type = "notification"
	}
	return msg
}

// submitIntent runs the same pipeline as POST /intent and reports the
// outcome as a notification frame.
func (c *wsClient) submitIntent(msg wsMessage) {
	outcome, err := c.server.submitIntent(intentRequest{
		Message: msg.Message,
		Origin:  msg.Origin,
		Mode:    msg.Mode,
		Context: msg.Metadata,
	})
	if err != nil {
		kind := core.KindOf(err)
		c.send(wsMessage{Type: "error", ID: msg.ID, Metadata: map[string]interface{}{
			"code":    kind.APICode(),
			"message": err.Error(),
		}})
		return
	}
	c.send(wsMessage{
		Type:        "notification",
		ID:          msg.ID,
		ExecutionID: outcome.ExecutionID,
		Metadata: map[string]interface{}{
			"status":        outcome.Status,
			"authorization": outcome.Authorization,
		},
	})
}
