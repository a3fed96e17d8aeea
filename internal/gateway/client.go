package gateway

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// connState is a connection's position in the state machine (§4.1): Unauthenticated ->
// Identifying -> Established -> Closing, with a separate terminal Zombie state entered when
// heartbeats lapse.
type connState int

const (
	stateUnauthenticated connState = iota
	stateIdentifying
	stateEstablished
	stateClosing
	stateZombie
)

// writeWait bounds how long a single websocket write may block.
const writeWait = 10 * time.Second

// Client is a single websocket connection. It runs a readPump and writePump goroutine,
// communicating with the Hub through its send channel and the callback methods below.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte
	log   zerolog.Logger

	// done is closed exactly once to unwind both goroutines. Closing it rather than the send
	// channel avoids a send-on-closed-channel panic when unregister races with dispatch.
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	state     connState
	userID    snowflake.ID
	session   *Session
	atomic    bool
	heartbeat time.Duration
}

func newClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec, logger zerolog.Logger) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, 256),
		done:  make(chan struct{}),
		log:   logger,
		state: stateUnauthenticated,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// State returns the connection's current state.
func (c *Client) State() connState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// UserID returns the authenticated user id. Only meaningful once the client reaches
// stateEstablished.
func (c *Client) UserID() snowflake.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Session returns the client's attached Session, or nil before IDENTIFY/RESUME succeeds.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// attach moves the client into stateEstablished with the given identity, session, and
// atomic-client flag (only official desktop clients set GUILD_SYNC-gated viewer membership).
func (c *Client) attach(userID snowflake.ID, session *Session, atomicClient bool) {
	c.mu.Lock()
	c.state = stateEstablished
	c.userID = userID
	c.session = session
	c.atomic = atomicClient
	c.mu.Unlock()
}

func (c *Client) isAtomic() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.atomic
}

// readPump reads frames off the socket and dispatches them by opcode. It owns closing the
// connection and unregistering from the hub when the read loop ends.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.GatewayMaxFrameBytes))

	heartbeatDeadline := c.armHeartbeatTimer(c.nextHeartbeatInterval())

	identifyTimer := time.AfterFunc(c.hub.cfg.GatewayIdentifyTimeout, func() {
		if c.State() == stateUnauthenticated {
			c.closeWithCode(protocol.CloseNotAuthenticated, "identify timeout")
		}
	})
	defer identifyTimer.Stop()
	defer heartbeatDeadline.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := c.codec.DecodeEnvelope(message)
		if err != nil {
			c.closeWithCode(protocol.CloseDecodeError, "invalid frame")
			return
		}

		switch env.Op {
		case protocol.OpcodeHeartbeat:
			heartbeatDeadline = c.resetHeartbeatTimer(heartbeatDeadline)
			c.enqueueFrame(protocol.NewHeartbeatACKFrame())
		case protocol.OpcodeIdentify:
			if c.State() != stateUnauthenticated {
				c.closeWithCode(protocol.CloseAlreadyAuthenticated, "already identified")
				return
			}
			identifyTimer.Stop()
			c.setState(stateIdentifying)
			var data protocol.IdentifyData
			if err := c.codec.DecodeData(env.Raw, &data); err != nil {
				c.closeWithCode(protocol.CloseDecodeError, "invalid identify payload")
				return
			}
			if c.hub.handleIdentify(c, data) {
				continue
			}
			return
		case protocol.OpcodeResume:
			if c.State() != stateUnauthenticated {
				c.closeWithCode(protocol.CloseAlreadyAuthenticated, "already identified")
				return
			}
			identifyTimer.Stop()
			c.setState(stateIdentifying)
			var data protocol.ResumeData
			if err := c.codec.DecodeData(env.Raw, &data); err != nil {
				c.closeWithCode(protocol.CloseDecodeError, "invalid resume payload")
				return
			}
			if c.hub.handleResume(c, data) {
				continue
			}
			return
		default:
			if c.State() != stateEstablished {
				c.closeWithCode(protocol.CloseNotAuthenticated, "must identify first")
				return
			}
			if !c.dispatchAuthenticatedOp(env) {
				return
			}
		}
	}
}

// dispatchAuthenticatedOp handles every opcode only valid once Established. It returns false if
// the connection was closed as a result.
func (c *Client) dispatchAuthenticatedOp(env protocol.Envelope) bool {
	switch env.Op {
	case protocol.OpcodeStatusUpdate:
		var data protocol.StatusUpdateData
		if err := c.codec.DecodeData(env.Raw, &data); err != nil {
			c.closeWithCode(protocol.CloseDecodeError, "invalid status update payload")
			return false
		}
		c.hub.handleStatusUpdate(c, data)
		return true
	case protocol.OpcodeRequestGuildMembers:
		var data protocol.RequestGuildMembersData
		if err := c.codec.DecodeData(env.Raw, &data); err != nil {
			c.closeWithCode(protocol.CloseDecodeError, "invalid request guild members payload")
			return false
		}
		c.hub.handleRequestGuildMembers(c, data)
		return true
	case protocol.OpcodeGuildSync:
		var data protocol.GuildSyncData
		if err := c.codec.DecodeData(env.Raw, &data); err != nil {
			c.closeWithCode(protocol.CloseDecodeError, "invalid guild sync payload")
			return false
		}
		c.hub.handleGuildSync(c, data)
		return true
	case protocol.OpcodeVoiceStateUpdate, protocol.OpcodeVoiceServerPing:
		// Stubbed: accepted and acknowledged, no side effect. Voice/RTP is out of scope.
		return true
	default:
		c.closeWithCode(protocol.CloseUnknownOpcode, "unknown opcode")
		return false
	}
}

// nextHeartbeatInterval picks a random interval in the configured [min, max] window (§4.1,
// §5: per-connection random in [40s, 42s] by default).
func (c *Client) nextHeartbeatInterval() time.Duration {
	lo, hi := c.hub.cfg.GatewayHeartbeatMinMS, c.hub.cfg.GatewayHeartbeatMaxMS
	ms := lo
	if hi > lo {
		ms = lo + rand.IntN(hi-lo+1)
	}
	c.mu.Lock()
	c.heartbeat = time.Duration(ms) * time.Millisecond
	c.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// armHeartbeatTimer sends HELLO and starts the heartbeat deadline timer at interval+3s.
func (c *Client) armHeartbeatTimer(interval time.Duration) *time.Timer {
	c.enqueueFrame(protocol.NewHelloFrame(int(interval / time.Millisecond)))
	return time.AfterFunc(interval+3*time.Second, func() {
		c.setState(stateZombie)
		c.closeWithCode(protocol.CloseUnknownError, "heartbeat timed out")
	})
}

func (c *Client) resetHeartbeatTimer(old *time.Timer) *time.Timer {
	old.Stop()
	c.mu.RLock()
	interval := c.heartbeat
	c.mu.RUnlock()
	return time.AfterFunc(interval+3*time.Second, func() {
		c.setState(stateZombie)
		c.closeWithCode(protocol.CloseUnknownError, "heartbeat timed out")
	})
}

// writePump drains the send channel onto the socket until done is closed, then flushes whatever
// remains buffered before returning.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if !c.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return false
	}
	return true
}

// enqueueFrame encodes and enqueues a control frame (HELLO, HEARTBEAT_ACK, RECONNECT,
// INVALID_SESSION). Encoding failures are logged and dropped; they never happen for these
// statically shaped payloads.
func (c *Client) enqueueFrame(f protocol.Frame) {
	b, err := c.codec.EncodeFrame(f)
	if err != nil {
		c.log.Error().Err(err).Msg("encode control frame")
		return
	}
	c.enqueue(b)
}

// enqueueDispatch builds and enqueues a DISPATCH frame for a session-tracked event, assigning it
// the session's next seq and recording it in the replay ring unless the event is ephemeral. It
// implements the Connection interface the Dispatcher targets. It returns false if the send
// failed (buffer full / already closing), signaling the Dispatcher to drop this connection.
func (c *Client) enqueueDispatch(event protocol.DispatchEvent, payload any) bool {
	session := c.Session()
	if session == nil {
		return false
	}

	var f protocol.Frame
	if event.Ephemeral() {
		f = protocol.NewEphemeralDispatchFrame(event, payload)
	} else {
		seq := session.record(event, payload)
		f = protocol.NewDispatchFrame(seq, event, payload)
	}

	b, err := c.codec.EncodeFrame(f)
	if err != nil {
		c.log.Error().Err(err).Str("event", string(event)).Msg("encode dispatch frame")
		return false
	}
	return c.enqueue(b)
}

// enqueue pushes msg onto the send channel. A full channel means the consumer is too slow; per
// §5's backpressure policy the connection is closed with 4000 rather than blocking the fan-out.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("send buffer full, closing slow consumer")
		c.closeWithCode(protocol.CloseUnknownError, "slow consumer")
		return false
	}
}

// closeWithCode sends a websocket close control frame and tears down the connection.
func (c *Client) closeWithCode(code int, reason string) {
	c.setState(stateClosing)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.closeSend()
	_ = c.conn.Close()
}
