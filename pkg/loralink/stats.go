// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import "time"

// Stats tracks link counters on either end. The receiver fills the frame
// counters, the sender the delivery counters; the monitor TUI renders the
// receive counters.
type Stats struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive side
	FramesSeen     uint64 // radio packets with a plausible size
	FramesRejected uint64 // bad size
	MacFailures    uint64
	Duplicates     uint64
	FramesAccepted uint64
	RecordsDecoded uint64
	QueueDrops     uint64

	// Send side
	PayloadsQueued    uint64
	Transmissions     uint64
	Retransmissions   uint64
	AcksMatched       uint64
	AcksIgnored       uint64
	PayloadsDelivered uint64
	PayloadsDropped   uint64

	// Rates (calculated)
	FrameRate float64 // accepted frames/sec
	ErrorRate float64 // MAC failures + rejects/sec
}

// NewStats creates a zeroed counter set.
func NewStats() *Stats {
	now := time.Now()
	return &Stats{StartTime: now, LastUpdateTime: now}
}

// CalculateRates recomputes the per-second rates since start.
func (s *Stats) CalculateRates() {
	s.LastUpdateTime = time.Now()
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return
	}
	s.FrameRate = float64(s.FramesAccepted) / elapsed
	s.ErrorRate = float64(s.MacFailures+s.FramesRejected) / elapsed
}
