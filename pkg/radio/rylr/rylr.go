// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

// Package rylr drives a REYAX RYLR-series LoRa modem over its serial AT
// command interface and exposes it as a radio driver for the link package.
//
// The modem frames received packets as "+RCV=<addr>,<len>,<data>,<rssi>,
// <snr>" lines. Binary payloads cannot pass through the AT channel
// unescaped, so both lorabridge nodes hex-encode frame bytes on the air
// interface; the radio itself treats them as opaque text.
package rylr

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Config carries the radio parameters from the node configuration.
type Config struct {
	Address   uint16 // transceiver ident, 0-65535
	NetworkID uint8  // must match on both nodes
	Band      uint32 // center frequency in Hz
	Power     uint8  // RF output power in dBm, 0-15

	// RF parameters: spreading factor 7-12, bandwidth code 0-9, coding
	// rate 1-4, programmed preamble 4-7.
	SpreadingFactor uint8
	Bandwidth       uint8
	CodingRate      uint8
	Preamble        uint8

	// PeerAddress is the address the peer node listens on.
	PeerAddress uint16
}

// packet is one parsed +RCV line.
type packet struct {
	data []byte
	rssi int
}

// Driver implements the link package's radio interface over a serial
// modem.
type Driver struct {
	port io.ReadWriteCloser
	cfg  Config

	mu       sync.Mutex
	rx       []packet
	pending  []byte
	lastRSSI int
	readErr  error

	responses chan string
	done      chan struct{}
}

// Open opens the serial port and configures the modem.
func Open(portName string, baudRate int, cfg Config) (*Driver, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	d := newDriver(port, cfg)
	if err := d.configure(); err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

// newDriver wires the reader loop over an arbitrary port, which keeps the
// protocol logic testable without hardware.
func newDriver(port io.ReadWriteCloser, cfg Config) *Driver {
	d := &Driver{
		port:      port,
		cfg:       cfg,
		responses: make(chan string, 8),
		done:      make(chan struct{}),
	}
	go d.readLines()
	return d
}

// readLines splits the modem output into +RCV packets and command
// responses.
func (d *Driver) readLines() {
	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "+RCV=") {
			if pkt, err := parseReceiveLine(line); err == nil {
				d.mu.Lock()
				d.rx = append(d.rx, pkt)
				d.mu.Unlock()
			}
			continue
		}
		select {
		case d.responses <- line:
		case <-d.done:
			return
		default:
		}
	}
	d.mu.Lock()
	d.readErr = scanner.Err()
	d.mu.Unlock()
}

// parseReceiveLine decodes "+RCV=<addr>,<len>,<hexdata>,<rssi>,<snr>".
func parseReceiveLine(line string) (packet, error) {
	body := strings.TrimPrefix(line, "+RCV=")
	// The data field cannot contain commas (hex encoding), so a plain
	// split is safe.
	fields := strings.Split(body, ",")
	if len(fields) != 5 {
		return packet{}, fmt.Errorf("malformed receive line: %q", line)
	}

	length, err := strconv.Atoi(fields[1])
	if err != nil {
		return packet{}, fmt.Errorf("bad length in %q", line)
	}
	data, err := hex.DecodeString(fields[2])
	if err != nil {
		return packet{}, fmt.Errorf("bad data in %q", line)
	}
	if len(data) != length {
		return packet{}, fmt.Errorf("length %d does not match %d data bytes", length, len(data))
	}
	rssi, err := strconv.Atoi(fields[3])
	if err != nil {
		return packet{}, fmt.Errorf("bad RSSI in %q", line)
	}
	return packet{data: data, rssi: rssi}, nil
}

// configure programs the radio parameters.
func (d *Driver) configure() error {
	commands := []string{
		fmt.Sprintf("AT+ADDRESS=%d", d.cfg.Address),
		fmt.Sprintf("AT+NETWORKID=%d", d.cfg.NetworkID),
		fmt.Sprintf("AT+BAND=%d", d.cfg.Band),
		fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d",
			d.cfg.SpreadingFactor, d.cfg.Bandwidth, d.cfg.CodingRate, d.cfg.Preamble),
		fmt.Sprintf("AT+CRFOP=%d", d.cfg.Power),
	}
	for _, cmd := range commands {
		if err := d.command(cmd); err != nil {
			return fmt.Errorf("radio setup failed: %w", err)
		}
	}
	return nil
}

// command sends one AT command and waits for +OK.
func (d *Driver) command(cmd string) error {
	if _, err := d.port.Write([]byte(cmd + "\r\n")); err != nil {
		return err
	}
	select {
	case resp := <-d.responses:
		if strings.HasPrefix(resp, "+ERR") {
			return fmt.Errorf("%s: modem answered %s", cmd, resp)
		}
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("%s: no response from modem", cmd)
	}
}

// ParsePacket reports the size of the next received packet, or 0.
func (d *Driver) ParsePacket() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return 0, d.readErr
	}
	if len(d.rx) == 0 {
		return 0, nil
	}
	pkt := d.rx[0]
	d.rx = d.rx[1:]
	d.pending = pkt.data
	d.lastRSSI = pkt.rssi
	return len(pkt.data), nil
}

// Read copies the pending packet into p.
func (d *Driver) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = nil
	return n, nil
}

// Transmit hex-encodes one frame and hands it to the modem.
func (d *Driver) Transmit(p []byte) error {
	encoded := strings.ToUpper(hex.EncodeToString(p))
	cmd := fmt.Sprintf("AT+SEND=%d,%d,%s", d.cfg.PeerAddress, len(p), encoded)
	return d.command(cmd)
}

// Idle puts the modem into sleep mode.
func (d *Driver) Idle() error {
	return d.command("AT+MODE=1")
}

// RSSI reports the signal strength of the last received packet in dBm.
func (d *Driver) RSSI() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRSSI
}

// Close shuts the serial port down.
func (d *Driver) Close() error {
	close(d.done)
	return d.port.Close()
}
