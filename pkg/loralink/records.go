// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import "encoding/binary"

// Handlers receives the decoded record stream on the display node. Nil
// members are skipped.
type Handlers struct {
	Int           func(key uint16, value int32)
	Bool          func(key uint16, value bool)
	String        func(key uint16, value string)
	SystemMessage func(value string)
}

// Record tags carry a 2-byte key except for system messages. Integers are
// split by magnitude so that small values cost a single byte on the wire;
// the sign lives in the tag. The encoder always picks the smallest
// encoding, with the dedicated zero tag winning for the value 0.

// appendRecord packs one keyed record into p if it fits.
func appendRecord(p *Payload, tag byte, key uint16, value []byte) bool {
	need := 3 + len(value)
	if int(p.Length)+need > len(p.Data) {
		return false
	}
	p.Data[p.Length] = tag
	binary.LittleEndian.PutUint16(p.Data[p.Length+1:], key)
	copy(p.Data[p.Length+3:], value)
	p.Length += uint8(need)
	return true
}

// appendInt packs an integer record using the smallest tag.
func appendInt(p *Payload, key uint16, value int32) bool {
	if value == 0 {
		return appendRecord(p, tagIntZero, key, nil)
	}

	negative := value < 0
	magnitude := uint32(value)
	if negative {
		magnitude = uint32(-int64(value))
	}

	switch {
	case magnitude < 1<<8:
		tag := byte(tagUint8Pos)
		if negative {
			tag = tagUint8Neg
		}
		return appendRecord(p, tag, key, []byte{byte(magnitude)})
	case magnitude < 1<<16:
		tag := byte(tagUint16Pos)
		if negative {
			tag = tagUint16Neg
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(magnitude))
		return appendRecord(p, tag, key, buf[:])
	default:
		tag := byte(tagUint32Pos)
		if negative {
			tag = tagUint32Neg
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], magnitude)
		return appendRecord(p, tag, key, buf[:])
	}
}

// appendBool packs a boolean record. The value lives in the tag.
func appendBool(p *Payload, key uint16, value bool) bool {
	if value {
		return appendRecord(p, tagBoolTrue, key, nil)
	}
	return appendRecord(p, tagBoolFalse, key, nil)
}

// appendString packs a NUL-terminated string record.
func appendString(p *Payload, key uint16, value string) bool {
	return appendRecord(p, tagString, key, append([]byte(value), 0))
}

// appendSystemMessage packs a keyless system message record.
func appendSystemMessage(p *Payload, message string) bool {
	need := 2 + len(message)
	if int(p.Length)+need > len(p.Data) {
		return false
	}
	p.Data[p.Length] = tagSystemMsg
	copy(p.Data[p.Length+1:], message)
	p.Data[int(p.Length)+need-1] = 0
	p.Length += uint8(need)
	return true
}

// readKey reads a little-endian record key, or 0 when the frame ends
// mid-record.
func readKey(p *Payload, cursor *int) uint16 {
	if *cursor+2 > int(p.Length) {
		*cursor = int(p.Length)
		return 0
	}
	key := binary.LittleEndian.Uint16(p.Data[*cursor:])
	*cursor += 2
	return key
}

// readInteger reads a little-endian magnitude of n bytes, applying the
// sign from the record tag. Missing bytes read as zero.
func readInteger(p *Payload, cursor *int, n int, negative bool) int32 {
	var value int64
	if *cursor+n <= int(p.Length) {
		for pos := n - 1; pos >= 0; pos-- {
			value <<= 8
			value |= int64(p.Data[*cursor+pos])
		}
		*cursor += n
	} else {
		*cursor = int(p.Length)
	}
	if negative {
		value = -value
	}
	return int32(value)
}

// readString reads up to the first NUL within the frame and advances past
// it.
func readString(p *Payload, cursor *int) string {
	start := *cursor
	for *cursor < int(p.Length) && p.Data[*cursor] != 0 {
		*cursor++
	}
	s := string(p.Data[start:*cursor])
	*cursor++ // also skip the terminator
	return s
}

// decodeRecords walks the packed record stream left to right and invokes
// the handlers. An unknown tag terminates the frame without error; the
// remainder may be padding from a newer sender.
func decodeRecords(p *Payload, h Handlers) {
	cursor := 0
	for cursor < int(p.Length) {
		tag := p.Data[cursor]
		cursor++
		switch tag {
		case tagIntZero:
			key := readKey(p, &cursor)
			if h.Int != nil {
				h.Int(key, 0)
			}

		case tagUint8Pos, tagUint8Neg:
			key := readKey(p, &cursor)
			value := readInteger(p, &cursor, 1, tag == tagUint8Neg)
			if h.Int != nil {
				h.Int(key, value)
			}

		case tagUint16Pos, tagUint16Neg:
			key := readKey(p, &cursor)
			value := readInteger(p, &cursor, 2, tag == tagUint16Neg)
			if h.Int != nil {
				h.Int(key, value)
			}

		case tagUint32Pos, tagUint32Neg:
			key := readKey(p, &cursor)
			value := readInteger(p, &cursor, 4, tag == tagUint32Neg)
			if h.Int != nil {
				h.Int(key, value)
			}

		case tagBoolFalse, tagBoolTrue:
			key := readKey(p, &cursor)
			if h.Bool != nil {
				h.Bool(key, tag == tagBoolTrue)
			}

		case tagString:
			key := readKey(p, &cursor)
			value := readString(p, &cursor)
			if h.String != nil {
				h.String(key, value)
			}

		case tagSystemMsg:
			value := readString(p, &cursor)
			if h.SystemMessage != nil {
				h.SystemMessage(value)
			}

		default:
			return
		}
	}
}
