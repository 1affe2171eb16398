package realtime

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/notifybus"
	"go.uber.org/zap"
)

// conn is one live websocket connection. Its socket is owned exclusively
// by writeLoop, the shape wshub's conn/serv split uses: the handler
// goroutine blocks in readLoop, a second goroutine drains send and the
// heartbeat ticker, and neither ever touches the other's side of the
// connection directly.
type conn struct {
	id   string
	ws   *websocket.Conn
	user authcache.AuthenticatedUser
	sub  *notifybus.Subscription
	log  *zap.Logger

	send chan []byte

	mu            sync.Mutex
	subscriptions map[string]struct{}
	lastActivity  time.Time
	violations    int
	closeCode     int

	rate      *rateLimiter
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, user authcache.AuthenticatedUser, sub *notifybus.Subscription, baseline []string, log *zap.Logger) *conn {
	subs := make(map[string]struct{}, len(baseline))
	for _, ch := range baseline {
		subs[ch] = struct{}{}
	}
	return &conn{
		id:            uuid.New().String(),
		ws:            ws,
		user:          user,
		sub:           sub,
		log:           log,
		send:          make(chan []byte, 32),
		subscriptions: subs,
		lastActivity:  time.Now(),
		closeCode:     websocket.CloseNormalClosure,
		rate:          newRateLimiter(rateLimitMax, rateLimitWindow),
	}
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *conn) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity) > idleTimeout
}

func (c *conn) isSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *conn) subscribe(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[channel]; ok {
		return false
	}
	c.subscriptions[channel] = struct{}{}
	return true
}

func (c *conn) unsubscribe(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[channel]; !ok {
		return false
	}
	delete(c.subscriptions, channel)
	return true
}

// enqueue best-effort sends an already-encoded frame to the writer
// goroutine. A full buffer means the client isn't draining fast enough;
// the frame is dropped and logged rather than blocking the reader loop.
func (c *conn) enqueue(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("failed to encode outbound frame", zap.Error(err))
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn("dropping outbound frame; send buffer full", zap.String("conn_id", c.id))
	}
}

func (c *conn) sendError(code, message string) {
	c.enqueue(errorFrame{Type: "error", Code: code, Message: message})
}

// setCloseCode records the status code writeLoop's close frame should
// carry when the connection tears down. Call it before stop() — once
// send is closed, writeLoop reads it once and sends the frame.
func (c *conn) setCloseCode(code int) {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
}

func (c *conn) getCloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// stop closes the outbound channel exactly once, letting writeLoop's
// deferred close sequence run and tear down the socket.
func (c *conn) stop() {
	c.closeOnce.Do(func() { close(c.send) })
}

// writeLoop owns the socket's write side for the life of the connection:
// it drains send, writes a heartbeat frame every tick, and on exit (send
// closed or a write failing) sends a close frame carrying whatever status
// code the reader side settled on —1000 for an ordinary disconnect or
// idle timeout, 1008 after repeated rate-limit violations, 1011 for an
// unexpected read failure — and closes the socket, the same terminal
// sequence wshub's write() function uses.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer func() {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		closeMsg := websocket.FormatCloseMessage(c.getCloseCode(), "")
		c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
		c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if c.idle() {
				c.log.Info("idle timeout reached; closing", zap.String("conn_id", c.id))
				return
			}
			frame := heartbeatFrame{Type: "heartbeat", Ts: time.Now().UTC().Format(time.RFC3339)}
			b, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("failed to encode heartbeat frame", zap.Error(err))
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// forwardLoop relays Redis Pub/Sub notifications the connection is
// currently subscribed to onto the outbound queue, wrapped in an event
// frame. It exits when the subscription's channel is closed (sub.Close
// was called during cleanup).
func (c *conn) forwardLoop() {
	for msg := range c.sub.Channel() {
		if !c.isSubscribed(msg.Channel) {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			payload = map[string]string{"raw": msg.Payload}
		}
		c.enqueue(eventFrame{Type: "event", Channel: msg.Channel, Payload: payload})
	}
}

// readLoop blocks reading text frames off the socket until the client
// disconnects, an error occurs, or the idle timeout is reached. It never
// writes to the socket directly — every outbound frame goes through send.
func (c *conn) readLoop(ctx context.Context) error {
	c.ws.SetPongHandler(func(string) error { c.touch(); return nil })

	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			c.setCloseCode(closeCodeForReadErr(err))
			return nil
		}
		if mt == websocket.BinaryMessage {
			c.sendError("invalid_message", "Binary frames not supported")
			continue
		}
		if mt != websocket.TextMessage {
			continue
		}

		c.touch()

		body, err := io.ReadAll(io.LimitReader(r, maxMessageBytes+1))
		if err != nil {
			c.setCloseCode(websocket.CloseInternalServerErr)
			return nil
		}
		if len(body) > maxMessageBytes {
			c.sendError("invalid_message", "Message too large")
			continue
		}

		if !c.rate.record() {
			c.sendError("rate_limited", "Too many control messages")
			if c.recordViolation() >= maxRateViolations {
				c.log.Warn("closing connection after repeated rate-limit violations", zap.String("conn_id", c.id))
				c.setCloseCode(websocket.ClosePolicyViolation)
				return nil
			}
			continue
		}

		c.handleInbound(ctx, body)

		if c.idle() {
			c.log.Info("idle timeout reached; closing", zap.String("conn_id", c.id))
			return nil
		}
	}
}

// recordViolation increments and returns this connection's rate-limit
// violation count.
func (c *conn) recordViolation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations++
	return c.violations
}

// closeCodeForReadErr classifies a NextReader failure: a close frame the
// client itself sent (normal closure, going away, or no status) closes
// clean; anything else — a protocol violation or transport failure — is
// an unexpected internal error.
func closeCodeForReadErr(err error) int {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return websocket.CloseNormalClosure
	}
	if err == io.EOF {
		return websocket.CloseNormalClosure
	}
	return websocket.CloseInternalServerErr
}

func (c *conn) handleInbound(ctx context.Context, raw []byte) {
	var msg inboundEnvelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("invalid_message", "Unrecognized message")
		return
	}

	switch msg.Type {
	case inboundSubscribe:
		c.handleSubscribe(ctx, msg.Channels)
	case inboundUnsubscribe:
		c.handleUnsubscribe(ctx, msg.Channels)
	case inboundPing:
		c.enqueue(pongFrame{Type: "pong", ID: msg.ID})
	default:
		c.sendError("invalid_message", "Unrecognized message")
	}
}

func (c *conn) handleSubscribe(ctx context.Context, channels []string) {
	accepted := make([]string, 0, len(channels))
	rejected := make([]string, 0)

	for _, ch := range channels {
		if !validateChannel(ch, c.user) {
			rejected = append(rejected, ch)
			continue
		}
		if c.subscribe(ch) {
			if err := c.sub.SubscribeChannel(ctx, ch); err != nil {
				c.log.Error("failed to subscribe to channel", zap.String("channel", ch), zap.Error(err))
			}
			accepted = append(accepted, ch)
		}
	}

	c.enqueue(ackFrame{Type: "ack", Action: "subscribe", Channels: channels, Accepted: accepted, Rejected: rejected})
}

func (c *conn) handleUnsubscribe(ctx context.Context, channels []string) {
	removed := make([]string, 0, len(channels))
	missing := make([]string, 0)

	for _, ch := range channels {
		if c.unsubscribe(ch) {
			if err := c.sub.UnsubscribeChannel(ctx, ch); err != nil {
				c.log.Error("failed to unsubscribe from channel", zap.String("channel", ch), zap.Error(err))
			}
			removed = append(removed, ch)
		} else {
			missing = append(missing, ch)
		}
	}

	c.enqueue(ackFrame{Type: "ack", Action: "unsubscribe", Channels: channels, Removed: removed, Missing: missing})
}
