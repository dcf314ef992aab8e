// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import (
	"log"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
)

// Receiver is the display-node end of the link. Each Loop tick moves at
// most one frame through each stage: radio poll → decrypt/verify/ack →
// record decode. The stages meet only at the bounded queues.
type Receiver struct {
	driver   Driver
	crypto   *linkCrypto
	handlers Handlers
	stats    *Stats

	inbound *ring[Encrypted]
	decoded *ring[Payload]

	lastMessageNumber uint16
}

// NewReceiver derives the link keys from the 32-byte shared base key and
// prepares the queues. The handlers receive the decoded record stream.
func NewReceiver(driver Driver, baseKey []byte, handlers Handlers) (*Receiver, error) {
	crypto, err := newLinkCrypto(baseKey)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		driver:   driver,
		crypto:   crypto,
		handlers: handlers,
		stats:    NewStats(),
		inbound:  newRing[Encrypted](PayloadBufferSize),
		decoded:  newRing[Payload](PayloadBufferSize),
	}, nil
}

// Stats exposes the receive counters.
func (r *Receiver) Stats() *Stats { return r.stats }

// RSSI reports the radio signal strength of the last received packet.
func (r *Receiver) RSSI() int { return r.driver.RSSI() }

// Loop runs one tick of the receive pipeline. It never blocks beyond the
// radio driver's own air time for the acknowledge transmission.
func (r *Receiver) Loop() {
	r.pollRadio()

	if env, ok := r.inbound.pop(); ok {
		if payload, ok := r.decrypt(&env); ok {
			if !r.decoded.push(payload) {
				r.stats.QueueDrops++
				log.Println("LR: Decoded queue is full, payload was dropped!")
			}
		}
	}

	if payload, ok := r.decoded.pop(); ok {
		decodeRecords(&payload, r.countingHandlers())
	}
}

// pollRadio drains one pending packet from the radio into the inbound
// queue.
func (r *Receiver) pollRadio() {
	size, err := r.driver.ParsePacket()
	if err != nil {
		log.Printf("LR: Radio receive error: %v", err)
		return
	}
	if size == 0 {
		return
	}

	if size > MaxPayloadSize || size%blockcrypt.BlockSize != 0 {
		r.stats.FramesRejected++
		log.Printf("LRC: Ignoring message with length %d", size)
		// Drain the packet so the driver can receive the next one.
		var scratch [MaxPayloadSize]byte
		for {
			n, err := r.driver.Read(scratch[:])
			if n <= 0 || err != nil {
				return
			}
		}
	}
	r.stats.FramesSeen++

	var env Encrypted
	n, err := r.driver.Read(env.Bytes[:size])
	if err != nil {
		log.Printf("LR: Radio read error: %v", err)
		return
	}
	env.Size = n

	if !r.inbound.push(env) {
		r.stats.QueueDrops++
		log.Println("LRC: Queue is full, message was dropped!")
	}
}

// decrypt verifies one envelope, acknowledges it and suppresses
// duplicates.
func (r *Receiver) decrypt(env *Encrypted) (Payload, bool) {
	payload, ok := r.crypto.openPayload(env)
	if !ok {
		r.stats.MacFailures++
		log.Println("LR: Bad HMAC")
		return payload, false
	}

	// Acknowledge before the duplicate check: a sender retransmitting a
	// payload whose ack was lost must be re-acked.
	r.sendAck(payload.Number)

	if payload.Number == r.lastMessageNumber {
		r.stats.Duplicates++
		log.Println("LR: Message already received")
		return payload, false
	}
	r.lastMessageNumber = payload.Number
	r.stats.FramesAccepted++

	return payload, true
}

func (r *Receiver) sendAck(number uint16) {
	enc, err := r.crypto.sealAck(number)
	if err != nil {
		log.Printf("LR: Building acknowledge failed: %v", err)
		return
	}
	if err := r.driver.Transmit(enc[:]); err != nil {
		log.Printf("LR: Sending acknowledge failed: %v", err)
	}
}

// countingHandlers wraps the user handlers so every delivered record bumps
// the counter.
func (r *Receiver) countingHandlers() Handlers {
	h := r.handlers
	return Handlers{
		Int: func(key uint16, value int32) {
			r.stats.RecordsDecoded++
			if h.Int != nil {
				h.Int(key, value)
			}
		},
		Bool: func(key uint16, value bool) {
			r.stats.RecordsDecoded++
			if h.Bool != nil {
				h.Bool(key, value)
			}
		},
		String: func(key uint16, value string) {
			r.stats.RecordsDecoded++
			if h.String != nil {
				h.String(key, value)
			}
		},
		SystemMessage: func(value string) {
			r.stats.RecordsDecoded++
			if h.SystemMessage != nil {
				h.SystemMessage(value)
			}
		},
	}
}
