package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pulsehub/internal/bus"
	"pulsehub/internal/channel"
	"pulsehub/internal/monitoring"
	"pulsehub/internal/presence"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// activityGrace is added on top of the configured activity timeout before
	// a silent connection is dropped, to tolerate scheduling jitter around the
	// client's own ping interval.
	activityGrace = 15 * time.Second

	// maxMessageSize bounds a single inbound frame, generous enough for a
	// presence subscribe carrying a modest channel_data payload.
	maxMessageSize = 8192
)

// Deps bundles the shared, process-wide collaborators every Connection needs.
// It is built once in cmd/server/main.go and passed to every accepted socket.
type Deps struct {
	Registry *Registry
	Presence *presence.Store
	Bus      bus.Bus
	Monitor  monitoring.Emitter

	AppSecret       string
	ActivityTimeout time.Duration
	QueueSize       int
}

// Connection is the per-socket state machine (C4). Exactly one readPump and
// one writePump goroutine run for its lifetime; all writes to the underlying
// websocket.Conn go through the send channel or, for the one frame sent at
// teardown under slow-consumer pressure, through writeMu.
type Connection struct {
	socketID string
	domainID string

	conn *websocket.Conn
	deps Deps

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closed     int32
	sendClosed int32
	closeOnce  sync.Once
	wg         sync.WaitGroup

	writeMu sync.Mutex

	mu              sync.Mutex
	presenceUserIDs map[string]string // channel -> user_id, for presence channels this socket joined
}

// NewConnection wraps an already-upgraded websocket connection. socketID must
// be unique per connection (the caller generates it, e.g. via uuid.New()).
func NewConnection(conn *websocket.Conn, socketID, domainID string, deps Deps) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Connection{
		socketID:        socketID,
		domainID:        domainID,
		conn:            conn,
		deps:            deps,
		send:            make(chan []byte, queueSize),
		ctx:             ctx,
		cancel:          cancel,
		presenceUserIDs: make(map[string]string),
	}
}

func (c *Connection) SocketID() string { return c.socketID }

func (c *Connection) isClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }

// Serve runs the connection to completion: it sends connection_established,
// launches the read and write pumps, and blocks until both exit. Callers run
// it in the request-handling goroutine the HTTP upgrade left them in.
func (c *Connection) Serve() {
	timeout := c.deps.ActivityTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	c.enqueue(connectionEstablishedFrame(c.socketID, int(timeout.Seconds())))
	c.emit(monitoring.EventConnect, "")

	c.wg.Add(2)
	go c.writePump()
	go c.readPump(timeout)
	c.wg.Wait()

	c.teardown()
}

func (c *Connection) readPump(timeout time.Duration) {
	defer func() {
		c.wg.Done()
		c.beginClose()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(timeout + activityGrace))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("realtime: read error", "socket_id", c.socketID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(timeout + activityGrace))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(errorFrame(CodeBadFrame, "malformed frame"))
			continue
		}

		switch frame.Event {
		case eventSubscribe:
			c.handleSubscribe(frame.Data)
		case eventUnsubscribe:
			c.handleUnsubscribe(frame.Data)
		case eventPing:
			c.enqueue(pongFrame())
		default:
			// Unknown client events are ignored, not an error: forward
			// compatibility with future frame types costs nothing here.
		}
	}
}

func (c *Connection) writePump() {
	defer c.wg.Done()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, msg)
			c.writeMu.Unlock()
			if err != nil {
				slog.Debug("realtime: write error", "socket_id", c.socketID, "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) writeClose() {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	c.writeMu.Unlock()
}

// enqueue is the non-blocking fan-out path used both for this connection's
// own protocol replies and for bus-delivered events (C6). A full queue means
// a slow consumer (spec.md §4.5): the connection is killed with a 4201 rather
// than let the queue grow or the sender block.
func (c *Connection) enqueue(payload []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.killSlowConsumer()
		return false
	}
}

func (c *Connection) killSlowConsumer() {
	c.closeOnce.Do(func() {
		slog.Warn("realtime: slow consumer, closing", "socket_id", c.socketID)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.TextMessage, errorFrame(CodeSlowConsumer, "slow consumer"))
		c.writeMu.Unlock()
		c.beginClose()
	})
}

// beginClose cancels the connection's context (stopping both pumps) and
// closes the underlying socket. It is safe to call more than once.
func (c *Connection) beginClose() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.cancel()
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
	c.conn.Close()
}

// teardown runs once both pumps have exited: it removes the connection from
// the registry and, for every channel it held, runs the same side-effect
// chain an explicit unsubscribe would (C4/C5 integration, spec.md §4.5).
func (c *Connection) teardown() {
	channels := c.deps.Registry.RemoveConnection(c)
	for _, ch := range channels {
		c.leavePresenceIfAny(ch)
		c.emit(monitoring.EventUnsubscribe, ch)
	}
	c.emit(monitoring.EventDisconnect, "")
}

func (c *Connection) handleSubscribe(raw json.RawMessage) {
	var data subscribeData
	if err := json.Unmarshal(raw, &data); err != nil || data.Channel == "" {
		c.enqueue(errorFrame(CodeBadFrame, "malformed subscribe"))
		return
	}

	if c.deps.Registry.IsSubscribed(c, data.Channel) {
		c.enqueue(subscriptionSucceededFrame(data.Channel, c.idempotentAckData(data.Channel)))
		return
	}

	typ := channel.Classify(data.Channel)

	var userID string
	var userInfo json.RawMessage
	if typ.IsPrivate() {
		switch typ {
		case channel.Private:
			if err := channel.VerifyPrivate(c.deps.AppSecret, c.socketID, data.Channel, data.Auth); err != nil {
				c.enqueue(errorFrame(CodeAuthFailed, "subscription auth failed"))
				return
			}
		case channel.Presence:
			var cd channelDataPayload
			if err := json.Unmarshal(data.ChannelData, &cd); err != nil || cd.UserID == "" {
				c.enqueue(errorFrame(CodeAuthFailed, "missing channel_data"))
				return
			}
			if err := channel.VerifyPresence(c.deps.AppSecret, c.socketID, data.Channel, string(data.ChannelData), data.Auth); err != nil {
				c.enqueue(errorFrame(CodeAuthFailed, "subscription auth failed"))
				return
			}
			userID, userInfo = cd.UserID, cd.UserInfo
		}
	}

	var ackData interface{}
	if typ == channel.Presence {
		result, err := c.deps.Presence.Join(c.ctx, data.Channel, userID, userInfo)
		if err != nil {
			slog.Error("realtime: presence join failed", "channel", data.Channel, "error", err)
			c.enqueue(errorFrame(CodeAuthFailed, "subscription refused"))
			return
		}
		c.mu.Lock()
		c.presenceUserIDs[data.Channel] = userID
		c.mu.Unlock()
		if result.Added {
			c.publish(data.Channel, EventMemberAdded, memberPayload(userID, userInfo))
		}
		ackData = presenceAckData(result.Snapshot)
	}

	c.deps.Registry.Subscribe(c, data.Channel)
	c.enqueue(subscriptionSucceededFrame(data.Channel, ackData))
	c.emit(monitoring.EventSubscribe, data.Channel)
}

// idempotentAckData rebuilds the ack payload for a re-subscribe to a channel
// the socket already holds, without re-running auth or presence join.
func (c *Connection) idempotentAckData(ch string) interface{} {
	if channel.Classify(ch) != channel.Presence {
		return nil
	}
	snapshot, err := c.deps.Presence.Roster(c.ctx, ch)
	if err != nil {
		slog.Warn("realtime: roster fetch failed on re-subscribe ack", "channel", ch, "error", err)
		return presenceAckData(nil)
	}
	return presenceAckData(snapshot)
}

func (c *Connection) handleUnsubscribe(raw json.RawMessage) {
	var data unsubscribeData
	if err := json.Unmarshal(raw, &data); err != nil || data.Channel == "" {
		c.enqueue(errorFrame(CodeBadFrame, "malformed unsubscribe"))
		return
	}
	if !c.deps.Registry.Unsubscribe(c, data.Channel) {
		return
	}
	c.leavePresenceIfAny(data.Channel)
	c.emit(monitoring.EventUnsubscribe, data.Channel)
}

// leavePresenceIfAny runs the presence-leave side effect for one channel this
// socket is dropping, whether by explicit unsubscribe or on disconnect.
func (c *Connection) leavePresenceIfAny(ch string) {
	c.mu.Lock()
	userID, ok := c.presenceUserIDs[ch]
	if ok {
		delete(c.presenceUserIDs, ch)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.deps.Presence.LeaveBestEffort(ctx, ch, userID) {
		c.publishCtx(ctx, ch, EventMemberRemoved, map[string]interface{}{"user_id": userID})
	}
}

// publish sends an event to every node's subscribers of ch via the bus,
// including this one: the dispatcher (C6), not this method, is responsible
// for local delivery. A self-addressed member_added echo from this socket's
// own join is expected and tolerated, per spec.md §4.2.
func (c *Connection) publish(ch, event string, data interface{}) {
	c.publishCtx(c.ctx, ch, event, data)
}

func (c *Connection) publishCtx(ctx context.Context, ch, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("realtime: failed to marshal publish payload", "channel", ch, "event", event, "error", err)
		return
	}
	env := bus.Envelope{Channel: ch, Event: event, Data: payload}
	envBytes, err := json.Marshal(env)
	if err != nil {
		slog.Error("realtime: failed to marshal envelope", "channel", ch, "event", event, "error", err)
		return
	}
	if err := c.deps.Bus.Publish(ctx, bus.Topic(ch), envBytes); err != nil {
		slog.Error("realtime: bus publish failed", "channel", ch, "event", event, "error", err)
	}
}

func (c *Connection) emit(t monitoring.EventType, ch string) {
	if c.deps.Monitor == nil {
		return
	}
	c.deps.Monitor.Emit(monitoring.Event{
		SocketID: c.socketID,
		DomainID: c.domainID,
		Channel:  ch,
		Type:     t,
		At:       time.Now(),
	})
}

func presenceAckData(members []presence.Member) map[string]interface{} {
	ids := make([]string, 0, len(members))
	hash := make(map[string]json.RawMessage, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
		if len(m.UserInfo) > 0 {
			hash[m.UserID] = m.UserInfo
		}
	}
	return map[string]interface{}{
		"presence": map[string]interface{}{
			"ids":   ids,
			"hash":  hash,
			"count": len(ids),
		},
	}
}
