// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package hconnect

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
)

// SocketPath is the WebSocket endpoint path on the appliance.
const SocketPath = "/homeconnect"

// ReconnectInterval is the fixed delay between connection attempts.
const ReconnectInterval = 5 * time.Second

// fragmentBufferSize bounds the reassembly buffer for fragmented binary
// messages. The largest observed appliance document is well under 32 KiB.
const fragmentBufferSize = 32768

// Socket is the session layer of the appliance channel. It owns the
// connection lifecycle, the per-session counters, fragment reassembly and
// the action/reply helpers. All methods run on the loop goroutine.
type Socket struct {
	client   Client
	framer   *Framer
	listener MessageFunc

	host string
	port uint16

	sessionID uint32
	txMsgID   uint32

	fragment      [fragmentBufferSize]byte
	fragmentIx    int
	isBinFragment bool
}

// NewSocket sets up the session with the base64url PSK and IV from the
// appliance profile. The listener is invoked for every received document.
func NewSocket(base64psk, base64iv string, client Client, listener MessageFunc) (*Socket, error) {
	framer, err := NewFramer(base64psk, base64iv)
	if err != nil {
		return nil, err
	}
	s := &Socket{client: client, framer: framer, listener: listener}
	client.OnEvent(s.onEvent)
	client.SetReconnectInterval(ReconnectInterval)
	return s, nil
}

// Loop drives the underlying client. Must be invoked from the main loop.
func (s *Socket) Loop() {
	s.client.Loop()
}

// reset rewinds the session to its initial state: counters, MAC chains and
// the fragment accumulator.
func (s *Socket) reset() {
	s.sessionID = 0
	s.txMsgID = 0
	s.fragmentIx = 0
	s.isBinFragment = false
	s.framer.Reset()
}

// Connect opens the connection to the appliance.
func (s *Socket) Connect(host string, port uint16) {
	s.host = host
	s.port = port
	s.reset()
	log.Printf("Connecting to %s port %d", host, port)
	s.client.Begin(host, port, SocketPath)
}

// Reconnect tears the connection down and dials again, bringing the socket
// back to a defined state after a transmission error.
func (s *Socket) Reconnect() {
	s.client.Disconnect()
	s.reset()
	s.client.Begin(s.host, s.port, SocketPath)
}

// Send encrypts and transmits one document.
func (s *Socket) Send(doc *Message) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serializing message: %w", err)
	}

	frame, err := s.framer.Seal(raw)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}
	return s.client.SendBinary(frame)
}

// Receive verifies and decrypts one raw frame and dispatches the parsed
// document. Integrity failures force a reconnect; a malformed document in
// an authentic frame is only dropped.
func (s *Socket) Receive(msg []byte) {
	clear, err := s.framer.Open(msg)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			log.Printf("RX: %v", err)
			s.Reconnect()
			return
		}
		log.Printf("RX: %v", err)
		return
	}

	var doc Message
	if err := json.Unmarshal(clear, &doc); err != nil {
		log.Printf("RX: JSON error %v", err)
		return
	}
	if s.listener != nil {
		s.listener(&doc)
	}
}

// StartSession installs the counters negotiated by the application layer
// after the handshake.
func (s *Socket) StartSession(sessionID, txMsgID uint32) {
	s.sessionID = sessionID
	s.txMsgID = txMsgID
}

// SendAction emits an action request without payload.
func (s *Socket) SendAction(resource string, version uint16, action string) error {
	return s.SendActionWithData(resource, nil, version, action)
}

// SendActionWithData emits an action request. A non-nil data value is
// wrapped in a single-element array, the form the appliance expects. The
// message counter advances after a successful send.
func (s *Socket) SendActionWithData(resource string, data any, version uint16, action string) error {
	log.Printf("Sending action %s to resource %s", action, resource)

	wrapped, err := wrapData(data)
	if err != nil {
		return fmt.Errorf("serializing action data: %w", err)
	}
	doc := &Message{
		SID:      s.sessionID,
		MsgID:    s.txMsgID,
		Resource: resource,
		Version:  version,
		Action:   action,
		Data:     wrapped,
	}
	if err := s.Send(doc); err != nil {
		return err
	}

	s.txMsgID++
	return nil
}

// SendReply answers a query, echoing its session id, message id, resource
// and version. Replies do not advance the message counter.
func (s *Socket) SendReply(query *Message, reply any) error {
	log.Printf("Sending reply to query msgID=%d", query.MsgID)

	wrapped, err := wrapData(reply)
	if err != nil {
		return fmt.Errorf("serializing reply data: %w", err)
	}
	doc := &Message{
		SID:      query.SID,
		MsgID:    query.MsgID,
		Resource: query.Resource,
		Version:  query.Version,
		Action:   "RESPONSE",
		Data:     wrapped,
	}
	return s.Send(doc)
}

// CreateRandomNonce returns a base64url nonce of 32 random bytes, without
// padding. Some appliances require one during the handshake.
func CreateRandomNonce() (string, error) {
	var token [32]byte
	if err := blockcrypt.RandomBytes(token[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(token[:]), nil
}

// onEvent dispatches one client event.
func (s *Socket) onEvent(ev Event) {
	switch ev.Type {
	case EventDisconnected:
		log.Println("WS disconnected")

	case EventConnected:
		log.Println("WS connected")
		s.reset()

	case EventText:
		log.Printf("WS unexpected text: %s", ev.Payload)

	case EventBinary:
		log.Printf("WS received message with %d bytes", len(ev.Payload))
		s.Receive(ev.Payload)

	case EventFragmentTextStart:
		log.Printf("WS unexpected text fragment start, length %d bytes", len(ev.Payload))
		s.isBinFragment = false

	case EventFragmentBinStart:
		log.Printf("WS bin fragment start, length %d bytes", len(ev.Payload))
		s.fragmentIx = 0
		s.isBinFragment = true
		s.appendFragment(ev.Payload)

	case EventFragment:
		log.Printf("WS fragment, length %d bytes", len(ev.Payload))
		s.appendFragment(ev.Payload)

	case EventFragmentFin:
		log.Printf("WS fragment fin, length %d bytes", len(ev.Payload))
		s.appendFragment(ev.Payload)
		if s.isBinFragment && s.fragmentIx > 0 {
			s.Receive(s.fragment[:s.fragmentIx])
			s.fragmentIx = 0
			s.isBinFragment = false
		}

	case EventError:
		log.Printf("WS error: %v", ev.Err)

	case EventPing:
		log.Println("WS ping")

	case EventPong:
		log.Println("WS pong")
	}
}

// appendFragment accumulates one binary fragment.
func (s *Socket) appendFragment(payload []byte) {
	if !s.isBinFragment {
		return
	}
	if s.fragmentIx+len(payload) < len(s.fragment) {
		copy(s.fragment[s.fragmentIx:], payload)
		s.fragmentIx += len(payload)
	} else {
		log.Println("WS fragment buffer overflow!")
	}
}
