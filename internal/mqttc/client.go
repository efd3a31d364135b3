/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mqttc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	connectTimeout   = 8 * time.Second
	subscribeTimeout = 5 * time.Second
	keepaliveSeconds = 30
	pingInterval     = 20 * time.Second
)

// ErrNotConnected is returned by operations attempted before Connect
// succeeds or after the connection has dropped.
var ErrNotConnected = errors.New("mqttc: not connected")

// MessageHandler receives the application payload of a PUBLISH delivered
// on a subscribed topic.
type MessageHandler func(payload []byte)

// Client is a single-connection MQTT 3.1.1 client over a WebSocket
// transport (§4.2). It is not safe to share across brokers; the transport
// layer (§4.3) owns one Client per configured broker URL.
type Client struct {
	url      string
	clientID string
	username string
	password string
	logger   zerolog.Logger

	onDisconnect func(url string)

	mu            sync.Mutex
	conn          *websocket.Conn
	writeMu       sync.Mutex
	connected     atomic.Bool
	subscribed    atomic.Bool
	intentional   atomic.Bool
	messageCount  atomic.Uint64
	nextPacketID  atomic.Uint32
	subscriptions map[string]MessageHandler

	pendingSuback map[uint16]chan bool
	pendingMu     sync.Mutex

	cancelLoops context.CancelFunc
}

// New constructs a Client bound to a single broker URL. clientID identifies
// the session on the broker side; username/password are empty when the
// broker requires neither (§4.2).
func New(url, clientID, username, password string, logger zerolog.Logger) *Client {
	return &Client{
		url:           url,
		clientID:      clientID,
		username:      username,
		password:      password,
		logger:        logger.With().Str("component", "mqttc").Str("broker", url).Logger(),
		subscriptions: make(map[string]MessageHandler),
		pendingSuback: make(map[uint16]chan bool),
	}
}

// SetOnDisconnect registers the hook invoked on accidental (non-intentional)
// close.
func (c *Client) SetOnDisconnect(cb func(url string)) {
	c.mu.Lock()
	c.onDisconnect = cb
	c.mu.Unlock()
}

// IsConnected reports whether the CONNACK handshake has completed and the
// socket has not since closed.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// IsSubscribed reports whether at least one subscription is active.
func (c *Client) IsSubscribed() bool { return c.subscribed.Load() }

// MessageCount returns the number of PUBLISH payloads delivered so far.
func (c *Client) MessageCount() uint64 { return c.messageCount.Load() }

// Connect dials the broker, performs the MQTT CONNECT/CONNACK handshake
// within connectTimeout, and starts the read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		Subprotocols: []string{"mqtt"},
	})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.intentional.Store(false)

	if err := c.writeFrame(dialCtx, encodeConnect(c.clientID, c.username, c.password, keepaliveSeconds)); err != nil {
		conn.Close(websocket.StatusInternalError, "connect write failed")
		return fmt.Errorf("send CONNECT: %w", err)
	}

	ackCh := make(chan error, 1)
	go c.awaitConnack(dialCtx, ackCh)

	select {
	case err := <-ackCh:
		if err != nil {
			conn.Close(websocket.StatusInternalError, "connack failed")
			return err
		}
	case <-dialCtx.Done():
		conn.Close(websocket.StatusInternalError, "connack timeout")
		return fmt.Errorf("waiting for CONNACK: %w", dialCtx.Err())
	}

	c.connected.Store(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoops = cancel
	go c.readLoop(loopCtx)
	go c.pingLoop(loopCtx)

	c.logger.Info().Msg("mqtt connected")
	return nil
}

func (c *Client) awaitConnack(ctx context.Context, out chan<- error) {
	frame, err := c.readOneFrame(ctx)
	if err != nil {
		out <- fmt.Errorf("read CONNACK: %w", err)
		return
	}
	pkt, err := decodePacket(frame)
	if err != nil {
		out <- err
		return
	}
	if pkt.packetType != packetConnack {
		out <- fmt.Errorf("expected CONNACK, got packet type %#x", pkt.packetType)
		return
	}
	if len(pkt.body) < 2 || pkt.body[1] != 0 {
		out <- fmt.Errorf("broker rejected CONNECT, return code %v", pkt.body)
		return
	}
	out <- nil
}

// Subscribe sends SUBSCRIBE for topic with QoS 0 and waits up to
// subscribeTimeout for SUBACK. It returns false on timeout or send error.
func (c *Client) Subscribe(ctx context.Context, topic string, handler MessageHandler) bool {
	if !c.connected.Load() {
		return false
	}

	pid := uint16(c.nextPacketID.Add(1))
	ch := make(chan bool, 1)
	c.pendingMu.Lock()
	c.pendingSuback[pid] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pendingSuback, pid)
		c.pendingMu.Unlock()
	}()

	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	if err := c.writeFrame(subCtx, encodeSubscribe(pid, topic)); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("subscribe send failed")
		return false
	}

	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	select {
	case ok := <-ch:
		if ok {
			c.subscribed.Store(true)
		}
		return ok
	case <-subCtx.Done():
		c.logger.Warn().Str("topic", topic).Msg("subscribe timed out")
		return false
	}
}

// Publish sends payload on topic with QoS 0. It returns false on send
// error; the caller is responsible for any retry policy (§4.3).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) bool {
	if !c.connected.Load() {
		return false
	}
	if err := c.writeFrame(ctx, encodePublish(topic, payload)); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("publish send failed")
		return false
	}
	return true
}

// Disconnect sends DISCONNECT best-effort and closes the socket, suppressing
// the onDisconnect hook (§4.2).
func (c *Client) Disconnect() {
	c.intentional.Store(true)
	if c.cancelLoops != nil {
		c.cancelLoops()
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.writeFrame(ctx, encodeDisconnect()) // best-effort, errors swallowed

	conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.connected.Store(false)
	c.subscribed.Store(false)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				return
			}
			if err := c.writeFrame(ctx, encodePingreq()); err != nil {
				c.logger.Debug().Err(err).Msg("pingreq send failed")
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		frame, err := c.readOneFrame(ctx)
		if err != nil {
			c.handleClose(err)
			return
		}
		pkt, err := decodePacket(frame)
		if err != nil {
			// framing error: discard this frame and keep reading (§4.2).
			c.logger.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		c.dispatch(pkt)
	}
}

func (c *Client) dispatch(pkt *decodedPacket) {
	switch pkt.packetType {
	case packetSuback:
		c.handleSuback(pkt)
	case packetPublish:
		c.handlePublish(pkt)
	case packetPingresp:
		c.logger.Debug().Msg("pingresp received")
	default:
		c.logger.Debug().Uint8("type", pkt.packetType).Msg("unhandled packet type")
	}
}

func (c *Client) handleSuback(pkt *decodedPacket) {
	if len(pkt.body) < 2 {
		return
	}
	pid := uint16(pkt.body[0])<<8 | uint16(pkt.body[1])
	c.pendingMu.Lock()
	ch, ok := c.pendingSuback[pid]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	accepted := len(pkt.body) >= 3 && pkt.body[2] != 0x80
	ch <- accepted
}

func (c *Client) handlePublish(pkt *decodedPacket) {
	topic, payload, err := publishPayload(pkt)
	if err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed publish")
		return
	}
	if len(payload) == 0 {
		return
	}
	c.mu.Lock()
	handler := c.subscriptions[topic]
	c.mu.Unlock()
	if handler == nil {
		return
	}
	c.messageCount.Add(1)
	handler(payload)
}

func (c *Client) handleClose(err error) {
	wasIntentional := c.intentional.Load()
	c.connected.Store(false)
	c.subscribed.Store(false)

	if wasIntentional {
		c.logger.Debug().Msg("mqtt connection closed intentionally")
		return
	}

	c.logger.Warn().Err(err).Msg("mqtt connection dropped")
	c.mu.Lock()
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		cb(c.url)
	}
}

func (c *Client) writeFrame(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageBinary, frame)
}

func (c *Client) readOneFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}
