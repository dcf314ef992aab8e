// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import (
	"log"
	mrand "math/rand"
	"time"
)

// SenderConfig tunes the delivery state machine. The zero value selects the
// repo defaults.
type SenderConfig struct {
	// RateLimit is the minimum delay between radio transmissions.
	// Defaults to PackageRateLimit.
	RateLimit time.Duration

	// Jitter is the upper bound of the uniform random delay added per
	// attempt. Defaults to SendJitter.
	Jitter time.Duration

	// MaxAttempts is the number of transmissions before a frame is
	// dropped. Defaults to MaxSendingAttempts.
	MaxAttempts int

	// CollectTime, when non-zero, flushes a dwelling payload buffer that
	// has not seen new records for this long.
	CollectTime time.Duration
}

func (c *SenderConfig) applyDefaults() {
	if c.RateLimit == 0 {
		c.RateLimit = PackageRateLimit
	}
	if c.Jitter == 0 {
		c.Jitter = SendJitter
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = MaxSendingAttempts
	}
}

// Sender is the gateway-node end of the link. Records aggregate into the
// payload buffer until a flush; flushed payloads queue for delivery, one
// encrypted frame in flight at a time with pacing, retries and ack
// matching.
type Sender struct {
	driver Driver
	crypto *linkCrypto
	config SenderConfig
	stats  *Stats

	payloadBuffer Payload
	senderQueue   *ring[Payload]
	ackQueue      *ring[[MaxAckSize]byte]

	currentEncrypted     Encrypted
	currentPayloadNumber uint16
	validEncrypted       bool
	attempts             int

	lastSendTime  time.Time
	lastPushTime  time.Time
	nextSendDelay time.Duration

	now    func() time.Time
	jitter *mrand.Rand
}

// NewSender derives the link keys from the 32-byte shared base key.
func NewSender(driver Driver, baseKey []byte, config SenderConfig) (*Sender, error) {
	crypto, err := newLinkCrypto(baseKey)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()
	now := time.Now()
	return &Sender{
		driver:       driver,
		crypto:       crypto,
		config:       config,
		stats:        NewStats(),
		senderQueue:  newRing[Payload](PayloadBufferSize),
		ackQueue:     newRing[[MaxAckSize]byte](PayloadBufferSize),
		lastSendTime: now,
		lastPushTime: now,
		now:          time.Now,
		jitter:       mrand.New(mrand.NewSource(now.UnixNano())),
	}, nil
}

// Stats exposes the delivery counters.
func (s *Sender) Stats() *Stats { return s.stats }

// RSSI reports the radio signal strength of the last received acknowledge.
func (s *Sender) RSSI() int { return s.driver.RSSI() }

// SendInt queues an integer value for delivery.
func (s *Sender) SendInt(key uint16, value int32) {
	log.Printf("LR: sending int %d = %d", key, value)
	s.sendRecord(func(p *Payload) bool { return appendInt(p, key, value) })
}

// SendBoolean queues a boolean value for delivery.
func (s *Sender) SendBoolean(key uint16, value bool) {
	log.Printf("LR: sending bool %d = %t", key, value)
	s.sendRecord(func(p *Payload) bool { return appendBool(p, key, value) })
}

// SendString queues a string value for delivery.
func (s *Sender) SendString(key uint16, value string) {
	log.Printf("LR: sending string %d = %q", key, value)
	s.sendRecord(func(p *Payload) bool { return appendString(p, key, value) })
}

// SendSystemMessage queues a keyless system message and flushes
// immediately.
func (s *Sender) SendSystemMessage(message string) {
	log.Printf("LR: sending system msg %q", message)
	if !appendSystemMessage(&s.payloadBuffer, message) {
		s.Flush()
		if !appendSystemMessage(&s.payloadBuffer, message) {
			log.Printf("LR: System message %q is too big and was dropped.", message)
			return
		}
	}
	// System messages are sent immediately
	s.Flush()
}

// sendRecord appends one record, flushing the buffer first if the record
// does not fit. A record too big for an empty buffer is dropped.
func (s *Sender) sendRecord(add func(*Payload) bool) {
	if add(&s.payloadBuffer) {
		s.lastPushTime = s.now()
		return
	}
	s.Flush()
	if add(&s.payloadBuffer) {
		s.lastPushTime = s.now()
		return
	}
	log.Println("LR: Message is too big and was dropped.")
}

// Flush enqueues the current payload buffer for delivery and starts a new
// one. Empty buffers are left alone.
func (s *Sender) Flush() {
	if s.payloadBuffer.Length == 0 {
		return
	}
	if s.senderQueue.push(s.payloadBuffer) {
		s.stats.PayloadsQueued++
	} else {
		log.Println("LR: Queue is full, payload was dropped!")
		s.stats.QueueDrops++
	}
	s.payloadBuffer.Number++
	s.payloadBuffer.Length = 0
	s.lastPushTime = s.now()
}

// Sleep puts the radio into standby. The state machine is unaffected and
// resumes on the next Loop.
func (s *Sender) Sleep() {
	log.Println("LR: Put radio to sleep")
	if err := s.driver.Idle(); err != nil {
		log.Printf("LR: Radio idle failed: %v", err)
	}
}

// Loop runs one tick of the delivery pipeline: collect acks, age-flush,
// pace the in-flight frame, encrypt the next payload.
func (s *Sender) Loop() {
	s.pollRadio()

	if s.validEncrypted {
		if ack, ok := s.ackQueue.pop(); ok {
			if s.checkAcknowledge(ack[:]) {
				s.validEncrypted = false
				s.stats.PayloadsDelivered++
			}
		}
	}

	if s.config.CollectTime > 0 && !s.validEncrypted && s.payloadBuffer.Length != 0 &&
		s.now().Sub(s.lastPushTime) > s.config.CollectTime {
		s.Flush()
	}

	if s.validEncrypted && s.now().Sub(s.lastSendTime) > s.nextSendDelay {
		s.attempts++
		if s.attempts <= s.config.MaxAttempts {
			log.Printf("LR: Transmitting %d bytes (attempt %d/%d)", s.currentEncrypted.Size, s.attempts, s.config.MaxAttempts)
			s.transmitPayload()
			s.lastSendTime = s.now()
			s.nextSendDelay = s.config.RateLimit + time.Duration(s.jitter.Int63n(int64(s.config.Jitter)))
		} else {
			log.Println("LR: Maximum number of reattempts reached, package dropped!")
			s.validEncrypted = false
			s.stats.PayloadsDropped++
		}
	}

	if !s.validEncrypted {
		if payload, ok := s.senderQueue.pop(); ok {
			if err := s.encryptPayload(&payload); err != nil {
				log.Printf("LR: Encrypting payload failed: %v", err)
			} else {
				s.attempts = 0
				s.validEncrypted = true
			}
		}
	}
}

// pollRadio drains one pending acknowledge packet into the ack queue.
// Anything that is not exactly one acknowledge-sized block is noise.
func (s *Sender) pollRadio() {
	size, err := s.driver.ParsePacket()
	if err != nil {
		log.Printf("LR: Radio receive error: %v", err)
		return
	}
	if size == 0 {
		return
	}

	var buf [MaxPayloadSize]byte
	n, err := s.driver.Read(buf[:])
	if err != nil {
		log.Printf("LR: Radio read error: %v", err)
		return
	}
	if n != MaxAckSize {
		log.Printf("LRC: Ignoring message with length %d", n)
		return
	}

	var ack [MaxAckSize]byte
	copy(ack[:], buf[:MaxAckSize])
	if s.ackQueue.push(ack) {
		log.Println("LRC: Received acknowledge message")
	} else {
		log.Println("LRC: Queue is full, message was dropped!")
		s.stats.QueueDrops++
	}
}

// encryptPayload seals the next payload and records its number for ack
// matching.
func (s *Sender) encryptPayload(payload *Payload) error {
	enc, err := s.crypto.sealPayload(payload)
	if err != nil {
		return err
	}
	s.currentEncrypted = enc
	s.currentPayloadNumber = payload.Number
	return nil
}

func (s *Sender) transmitPayload() {
	if !s.validEncrypted {
		return
	}
	if err := s.driver.Transmit(s.currentEncrypted.Bytes[:s.currentEncrypted.Size]); err != nil {
		log.Printf("LR: Transmit failed: %v", err)
		return
	}
	s.stats.Transmissions++
	if s.attempts > 1 {
		s.stats.Retransmissions++
	}
}

// checkAcknowledge verifies one ack and matches it against the in-flight
// frame. MAC failures and stale numbers leave the state unchanged.
func (s *Sender) checkAcknowledge(raw []byte) bool {
	ack, ok := s.crypto.openAck(raw)
	if !ok {
		log.Println("LR: Bad acknowledge HMAC, ignoring")
		s.stats.AcksIgnored++
		return false
	}
	if ack.Number != s.currentPayloadNumber {
		log.Println("LR: Unexpected package number, ignoring")
		s.stats.AcksIgnored++
		return false
	}
	s.stats.AcksMatched++
	return true
}
