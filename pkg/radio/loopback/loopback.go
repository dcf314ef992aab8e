// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

// Package loopback provides an in-memory radio driver pair. Packets
// transmitted on one endpoint arrive on the other, optionally with
// simulated loss. Used by the monitor's demo mode.
package loopback

import (
	"math/rand"
	"sync"
)

// Endpoint is one side of the loopback link. It implements the radio
// driver interface of the link package.
type Endpoint struct {
	mu      sync.Mutex
	rx      [][]byte
	pending []byte
	peer    *Endpoint

	// LossRate drops outgoing packets with the given probability.
	LossRate float64

	rng *rand.Rand
}

// NewPair creates two connected endpoints.
func NewPair(seed int64) (*Endpoint, *Endpoint) {
	a := &Endpoint{rng: rand.New(rand.NewSource(seed))}
	b := &Endpoint{rng: rand.New(rand.NewSource(seed + 1))}
	a.peer = b
	b.peer = a
	return a, b
}

// ParsePacket reports the size of the next pending packet, or 0.
func (e *Endpoint) ParsePacket() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rx) == 0 {
		return 0, nil
	}
	e.pending = e.rx[0]
	e.rx = e.rx[1:]
	return len(e.pending), nil
}

// Read copies the pending packet into p.
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return 0, nil
	}
	n := copy(p, e.pending)
	e.pending = nil
	return n, nil
}

// Transmit delivers one packet to the peer, subject to the loss rate.
func (e *Endpoint) Transmit(p []byte) error {
	e.mu.Lock()
	drop := e.LossRate > 0 && e.rng.Float64() < e.LossRate
	peer := e.peer
	e.mu.Unlock()
	if drop || peer == nil {
		return nil
	}

	cp := append([]byte(nil), p...)
	peer.mu.Lock()
	peer.rx = append(peer.rx, cp)
	peer.mu.Unlock()
	return nil
}

// Idle is a no-op for the loopback.
func (e *Endpoint) Idle() error { return nil }

// RSSI reports a fixed plausible strength.
func (e *Endpoint) RSSI() int { return -42 }
