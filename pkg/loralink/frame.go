// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import (
	"encoding/binary"
	"fmt"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
)

// Payload is the forward frame: a packed record stream plus its link
// header. On the wire the frame is hash(4) || number(2, little-endian) ||
// length(1) || data, encrypted as whole AES blocks. The hash field holds
// the first four bytes of HMAC-SHA256 over everything after it and is
// excluded from its own MAC input.
type Payload struct {
	Number uint16
	Length uint8
	Data   [MaxDataSize]byte
}

// Acknowledge is the reverse frame: one AES block echoing the payload
// number, padded with random bytes under the same MAC discipline.
type Acknowledge struct {
	Number uint16
}

// Encrypted is an opaque wire frame held in a queue. Size is a multiple of
// 16 and at most MaxPayloadSize.
type Encrypted struct {
	Size  int
	Bytes [MaxPayloadSize]byte
}

// linkCrypto holds the derived key material for one side of the link.
type linkCrypto struct {
	ecb    *blockcrypt.ECB
	macKey []byte
}

// newLinkCrypto derives the link keys from the 32-byte shared base key.
func newLinkCrypto(baseKey []byte) (*linkCrypto, error) {
	if len(baseKey) != blockcrypt.KeySize {
		return nil, fmt.Errorf("invalid link key size: %d", len(baseKey))
	}
	encKey := blockcrypt.DeriveKey(baseKey, labelEncKey)
	macKey := blockcrypt.DeriveKey(baseKey, labelMacKey)
	ecb, err := blockcrypt.NewECB(encKey)
	if err != nil {
		return nil, err
	}
	return &linkCrypto{ecb: ecb, macKey: macKey}, nil
}

// grossSize returns the number of wire bytes for a payload carrying n data
// bytes: the smallest multiple of the block size covering header plus data.
func grossSize(n int) int {
	gross := headerSize + n
	return (gross + blockcrypt.BlockSize - 1) / blockcrypt.BlockSize * blockcrypt.BlockSize
}

// sealPayload assigns a fresh random message number, fills the unused data
// tail with random bytes, computes the truncated MAC and encrypts the
// minimal block count. The chosen number is written back into p.
func (c *linkCrypto) sealPayload(p *Payload) (Encrypted, error) {
	var enc Encrypted
	enc.Size = grossSize(int(p.Length))

	var numBytes [2]byte
	if err := blockcrypt.RandomBytes(numBytes[:]); err != nil {
		return enc, err
	}
	p.Number = binary.LittleEndian.Uint16(numBytes[:])

	var clear [MaxPayloadSize]byte
	binary.LittleEndian.PutUint16(clear[hashSize:], p.Number)
	clear[hashSize+2] = p.Length
	copy(clear[headerSize:], p.Data[:p.Length])
	if err := blockcrypt.RandomBytes(clear[headerSize+int(p.Length) : enc.Size]); err != nil {
		return enc, err
	}

	tag := blockcrypt.Tag(c.macKey, clear[hashSize:enc.Size], hashSize)
	copy(clear[:hashSize], tag)

	if err := c.ecb.EncryptBlocks(enc.Bytes[:enc.Size], clear[:enc.Size]); err != nil {
		return enc, err
	}
	return enc, nil
}

// openPayload decrypts and verifies a received payload frame. A MAC
// mismatch yields ok=false; the caller drops the frame silently.
func (c *linkCrypto) openPayload(enc *Encrypted) (Payload, bool) {
	var p Payload
	if enc.Size < blockcrypt.BlockSize || enc.Size > MaxPayloadSize || enc.Size%blockcrypt.BlockSize != 0 {
		return p, false
	}

	var clear [MaxPayloadSize]byte
	if err := c.ecb.DecryptBlocks(clear[:enc.Size], enc.Bytes[:enc.Size]); err != nil {
		return p, false
	}

	tag := blockcrypt.Tag(c.macKey, clear[hashSize:enc.Size], hashSize)
	if !blockcrypt.TagEqual(clear[:hashSize], tag) {
		return p, false
	}

	p.Number = binary.LittleEndian.Uint16(clear[hashSize:])
	p.Length = clear[hashSize+2]
	if int(p.Length) > enc.Size-headerSize {
		// Authentic frames never claim more data than their block
		// count carries.
		return p, false
	}
	copy(p.Data[:], clear[headerSize:enc.Size])
	return p, true
}

// sealAck builds and encrypts an acknowledge frame for the given payload
// number.
func (c *linkCrypto) sealAck(number uint16) ([MaxAckSize]byte, error) {
	var clear [MaxAckSize]byte
	binary.LittleEndian.PutUint16(clear[hashSize:], number)
	if err := blockcrypt.RandomBytes(clear[hashSize+2:]); err != nil {
		return clear, err
	}

	tag := blockcrypt.Tag(c.macKey, clear[hashSize:], hashSize)
	copy(clear[:hashSize], tag)

	var enc [MaxAckSize]byte
	if err := c.ecb.EncryptBlocks(enc[:], clear[:]); err != nil {
		return enc, err
	}
	return enc, nil
}

// openAck decrypts and verifies a received acknowledge frame.
func (c *linkCrypto) openAck(enc []byte) (Acknowledge, bool) {
	var ack Acknowledge
	if len(enc) != MaxAckSize {
		return ack, false
	}

	var clear [MaxAckSize]byte
	if err := c.ecb.DecryptBlocks(clear[:], enc); err != nil {
		return ack, false
	}

	tag := blockcrypt.Tag(c.macKey, clear[hashSize:], hashSize)
	if !blockcrypt.TagEqual(clear[:hashSize], tag) {
		return ack, false
	}

	ack.Number = binary.LittleEndian.Uint16(clear[hashSize:])
	return ack, true
}
