// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package hconnect

import (
	"errors"
	"fmt"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
)

const (
	tagSize = 16

	// Direction bytes, named from the appliance's point of view:
	// "E"ncrypted to the appliance, "C"lear from the appliance.
	directionTx = "E"
	directionRx = "C"
)

// ErrIntegrity marks a frame that failed size, MAC or padding checks. The
// session answers it with a reconnect; the MAC chain cannot recover.
var ErrIntegrity = errors.New("frame integrity failure")

// Framer encrypts and authenticates one direction pair of the socket. The
// per-direction MAC chains start at zero and advance with every accepted
// frame; Reset rewinds both on (re)connect.
type Framer struct {
	iv     []byte
	cbc    *blockcrypt.CBC
	macKey []byte

	lastRxMac [tagSize]byte
	lastTxMac [tagSize]byte
}

// NewFramer derives the socket keys from a base64url PSK and IV. Both are
// validated strictly; a bad value is a configuration error, not a runtime
// one.
func NewFramer(base64psk, base64iv string) (*Framer, error) {
	psk, err := blockcrypt.DecodeBase64URL(base64psk, blockcrypt.KeySize)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	iv, err := blockcrypt.DecodeBase64URL(base64iv, blockcrypt.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("invalid IV: %w", err)
	}

	encKey := blockcrypt.DeriveKey(psk, "ENC")
	macKey := blockcrypt.DeriveKey(psk, "MAC")
	cbc, err := blockcrypt.NewCBC(encKey, iv)
	if err != nil {
		return nil, err
	}
	return &Framer{iv: iv, cbc: cbc, macKey: macKey}, nil
}

// Reset rewinds both MAC chains to the initial all-zero state.
func (f *Framer) Reset() {
	f.lastRxMac = [tagSize]byte{}
	f.lastTxMac = [tagSize]byte{}
}

// pad appends the socket's PKCS-style padding: a zero byte, random filler
// and a final pad-length byte. The pad is always at least two bytes, so a
// document ending exactly one byte short of a block border grows by a whole
// extra block.
func pad(doc []byte) ([]byte, error) {
	padLen := blockcrypt.BlockSize - len(doc)%blockcrypt.BlockSize
	if padLen == 1 {
		padLen += blockcrypt.BlockSize
	}

	msg := make([]byte, len(doc)+padLen)
	copy(msg, doc)
	msg[len(doc)] = 0
	if err := blockcrypt.RandomBytes(msg[len(doc)+1 : len(msg)-1]); err != nil {
		return nil, err
	}
	msg[len(msg)-1] = byte(padLen)
	return msg, nil
}

// Seal encrypts one serialized document and advances the transmit chain.
func (f *Framer) Seal(doc []byte) ([]byte, error) {
	clear, err := pad(doc)
	if err != nil {
		return nil, err
	}
	ciphertext, err := f.cbc.Encrypt(clear)
	if err != nil {
		return nil, err
	}

	mac := f.chainTag(directionTx, f.lastTxMac[:], ciphertext)
	copy(f.lastTxMac[:], mac)

	return append(ciphertext, mac...), nil
}

// Open verifies and decrypts one received frame, advances the receive
// chain and strips the padding. Every failure is ErrIntegrity: the caller
// must reconnect, which resets both chains.
func (f *Framer) Open(frame []byte) ([]byte, error) {
	if len(frame) < 2*tagSize || len(frame)%blockcrypt.BlockSize != 0 {
		return nil, fmt.Errorf("%w: incomplete message, length %d", ErrIntegrity, len(frame))
	}

	ciphertext := frame[:len(frame)-tagSize]
	theirMac := frame[len(frame)-tagSize:]

	ourMac := f.chainTag(directionRx, f.lastRxMac[:], ciphertext)
	if !blockcrypt.TagEqual(theirMac, ourMac) {
		return nil, fmt.Errorf("%w: bad HMAC, a message was lost", ErrIntegrity)
	}
	copy(f.lastRxMac[:], ourMac)

	clear, err := f.cbc.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	padLen := int(clear[len(clear)-1])
	if padLen > len(clear) {
		return nil, fmt.Errorf("%w: padding error", ErrIntegrity)
	}
	return clear[:len(clear)-padLen], nil
}

// chainTag computes the truncated chained MAC over one frame.
func (f *Framer) chainTag(direction string, prevMac, ciphertext []byte) []byte {
	input := make([]byte, 0, len(f.iv)+1+tagSize+len(ciphertext))
	input = append(input, f.iv...)
	input = append(input, direction...)
	input = append(input, prevMac...)
	input = append(input, ciphertext...)
	return blockcrypt.Tag(f.macKey, input, tagSize)
}
