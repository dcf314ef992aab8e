// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package hconnect

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType enumerates the WebSocket client events the session consumes.
type EventType int

// Client event types. Fragment events exist for transports that surface
// partial messages; clients that reassemble internally only ever emit
// EventBinary.
const (
	EventConnected EventType = iota
	EventDisconnected
	EventText
	EventBinary
	EventFragmentTextStart
	EventFragmentBinStart
	EventFragment
	EventFragmentFin
	EventError
	EventPing
	EventPong
)

// Event is one client callback invocation.
type Event struct {
	Type    EventType
	Payload []byte
	Err     error
}

// Client is the WebSocket transport the session drives. Implementations
// deliver events only from Loop, keeping the session single-threaded.
type Client interface {
	// Begin starts connecting to the given endpoint and keeps the
	// connection alive until Disconnect.
	Begin(host string, port uint16, path string)

	// OnEvent installs the event callback. Must be called before Begin.
	OnEvent(fn func(Event))

	// SetReconnectInterval sets the delay between connection attempts.
	SetReconnectInterval(d time.Duration)

	// SendBinary transmits one binary message.
	SendBinary(p []byte) error

	// Disconnect closes the connection and stops reconnecting.
	Disconnect()

	// Loop delivers pending events. Invoked from the main loop tick.
	Loop()
}

// WSClient is the gorilla/websocket implementation of Client. A background
// goroutine dials and reads; events queue on a channel and are handed to
// the callback from Loop, so all protocol state stays on the loop
// goroutine. gorilla reassembles fragmented messages internally, so this
// client emits EventBinary and EventText only.
type WSClient struct {
	handshakeTimeout  time.Duration
	reconnectInterval time.Duration

	fn     func(Event)
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	gen     int
}

// NewWSClient creates a client with the default timeouts.
func NewWSClient() *WSClient {
	return &WSClient{
		handshakeTimeout:  10 * time.Second,
		reconnectInterval: 5 * time.Second,
		events:            make(chan Event, 64),
	}
}

// OnEvent installs the event callback.
func (c *WSClient) OnEvent(fn func(Event)) { c.fn = fn }

// SetReconnectInterval sets the delay between connection attempts.
func (c *WSClient) SetReconnectInterval(d time.Duration) { c.reconnectInterval = d }

// Begin starts the dial/read goroutine. Calling it again after Disconnect
// supersedes the previous goroutine.
func (c *WSClient) Begin(host string, port uint16, path string) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, port), Path: path}
	c.mu.Lock()
	c.stopped = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	go c.run(u.String(), gen)
}

func (c *WSClient) run(wsURL string, gen int) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}

	for {
		c.mu.Lock()
		stale := c.stopped || c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}

		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			c.emit(Event{Type: EventError, Err: err})
			time.Sleep(c.reconnectInterval)
			continue
		}

		c.mu.Lock()
		if c.stopped || c.gen != gen {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.emit(Event{Type: EventConnected})
		c.readAll(conn)
		c.emit(Event{Type: EventDisconnected})

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		time.Sleep(c.reconnectInterval)
	}
}

// readAll pumps messages until the connection dies.
func (c *WSClient) readAll(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			c.emit(Event{Type: EventBinary, Payload: data})
		case websocket.TextMessage:
			c.emit(Event{Type: EventText, Payload: data})
		}
	}
}

// emit queues an event, dropping it if the session stopped draining.
func (c *WSClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// SendBinary transmits one binary message on the current connection.
func (c *WSClient) SendBinary(p []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket is not connected")
	}
	return conn.WriteMessage(websocket.BinaryMessage, p)
}

// Disconnect closes the connection and stops the dial goroutine.
func (c *WSClient) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Loop drains queued events into the callback.
func (c *WSClient) Loop() {
	for {
		select {
		case ev := <-c.events:
			if c.fn != nil {
				c.fn(ev)
			}
		default:
			return
		}
	}
}
