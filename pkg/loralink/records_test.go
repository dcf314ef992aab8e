// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package loralink

import (
	"bytes"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

// collector gathers decoded records for comparison.
type record struct {
	kind string
	key  uint16
	i    int32
	b    bool
	s    string
}

func collectingHandlers(out *[]record) Handlers {
	return Handlers{
		Int: func(key uint16, value int32) {
			*out = append(*out, record{kind: "int", key: key, i: value})
		},
		Bool: func(key uint16, value bool) {
			*out = append(*out, record{kind: "bool", key: key, b: value})
		},
		String: func(key uint16, value string) {
			*out = append(*out, record{kind: "string", key: key, s: value})
		},
		SystemMessage: func(value string) {
			*out = append(*out, record{kind: "system", s: value})
		},
	}
}

func TestAppendInt_TagSelection(t *testing.T) {
	tests := []struct {
		value    int32
		expected []byte
	}{
		{0, []byte{0x00, 0x42, 0x00}},
		{1, []byte{0x01, 0x42, 0x00, 0x01}},
		{255, []byte{0x01, 0x42, 0x00, 0xFF}},
		{-1, []byte{0x02, 0x42, 0x00, 0x01}},
		{-255, []byte{0x02, 0x42, 0x00, 0xFF}},
		{256, []byte{0x03, 0x42, 0x00, 0x00, 0x01}},
		{65535, []byte{0x03, 0x42, 0x00, 0xFF, 0xFF}},
		{-256, []byte{0x04, 0x42, 0x00, 0x00, 0x01}},
		{-65535, []byte{0x04, 0x42, 0x00, 0xFF, 0xFF}},
		{65536, []byte{0x05, 0x42, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{2147483647, []byte{0x05, 0x42, 0x00, 0xFF, 0xFF, 0xFF, 0x7F}},
		{-65536, []byte{0x06, 0x42, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{-2147483648, []byte{0x06, 0x42, 0x00, 0x00, 0x00, 0x00, 0x80}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.value), func(t *testing.T) {
			var p Payload
			if !appendInt(&p, 0x0042, tt.value) {
				t.Fatal("append failed")
			}
			if !bytes.Equal(p.Data[:p.Length], tt.expected) {
				t.Errorf("encoded %v, expected %v", p.Data[:p.Length], tt.expected)
			}
		})
	}
}

func TestAppendInt_Negative300(t *testing.T) {
	var p Payload
	if !appendInt(&p, 0x1234, -300) {
		t.Fatal("append failed")
	}
	expected := []byte{0x04, 0x34, 0x12, 0x2C, 0x01}
	if !bytes.Equal(p.Data[:p.Length], expected) {
		t.Errorf("encoded %v, expected %v", p.Data[:p.Length], expected)
	}

	var got []record
	decodeRecords(&p, collectingHandlers(&got))
	if len(got) != 1 || got[0].kind != "int" || got[0].key != 0x1234 || got[0].i != -300 {
		t.Errorf("decoded %+v", got)
	}
}

func TestAppendString_Wire(t *testing.T) {
	var p Payload
	if !appendString(&p, 0x0001, "hi") {
		t.Fatal("append failed")
	}
	expected := []byte{0x09, 0x01, 0x00, 'h', 'i', 0x00}
	if !bytes.Equal(p.Data[:p.Length], expected) {
		t.Errorf("encoded %v, expected %v", p.Data[:p.Length], expected)
	}
	if p.Length != 6 {
		t.Errorf("length = %d, expected 6", p.Length)
	}
}

func TestAppendBool_TwoRecords(t *testing.T) {
	var p Payload
	if !appendBool(&p, 0xAAAA, true) || !appendBool(&p, 0xAAAA, true) {
		t.Fatal("append failed")
	}
	expected := []byte{0x08, 0xAA, 0xAA, 0x08, 0xAA, 0xAA}
	if !bytes.Equal(p.Data[:p.Length], expected) {
		t.Errorf("encoded %v, expected %v", p.Data[:p.Length], expected)
	}
}

func TestAppend_RejectsWhenFull(t *testing.T) {
	var p Payload
	for appendInt(&p, 1, 0) {
	}
	if int(p.Length) > MaxDataSize {
		t.Fatalf("buffer overran: %d", p.Length)
	}
	if appendString(&p, 2, "does not fit") {
		t.Error("append into a full buffer should fail")
	}
}

func TestAppendSystemMessage_TooBig(t *testing.T) {
	var p Payload
	big := make([]byte, MaxDataSize)
	for i := range big {
		big[i] = 'x'
	}
	if appendSystemMessage(&p, string(big)) {
		t.Error("a system message larger than the frame should be rejected")
	}
	if p.Length != 0 {
		t.Errorf("failed append should leave the buffer untouched, length %d", p.Length)
	}
}

func TestDecodeRecords_UnknownTagStopsFrame(t *testing.T) {
	var p Payload
	appendInt(&p, 1, 7)
	p.Data[p.Length] = 42 // not a known tag
	p.Length++
	appendInt(&p, 2, 8) // unreachable behind the unknown tag

	var got []record
	decodeRecords(&p, collectingHandlers(&got))
	if len(got) != 1 || got[0].key != 1 {
		t.Errorf("decoded %+v, expected only the first record", got)
	}
}

func TestDecodeRecords_TruncatedRecord(t *testing.T) {
	// A record whose value is cut off by the frame end decodes the
	// missing bytes as zero and stops.
	var p Payload
	p.Data[0] = tagUint16Pos
	p.Data[1] = 0x42
	p.Data[2] = 0x00
	p.Data[3] = 0x39 // second magnitude byte missing
	p.Length = 4

	var got []record
	decodeRecords(&p, collectingHandlers(&got))
	if len(got) != 1 || got[0].i != 0 {
		t.Errorf("decoded %+v, expected a single zero-valued int", got)
	}
}

func TestDecodeRecords_StringWithoutTerminator(t *testing.T) {
	var p Payload
	p.Data[0] = tagString
	p.Data[1] = 0x01
	p.Data[2] = 0x00
	copy(p.Data[3:], "abc") // no NUL before the frame ends
	p.Length = 6

	var got []record
	decodeRecords(&p, collectingHandlers(&got))
	if len(got) != 1 || got[0].s != "abc" {
		t.Errorf("decoded %+v", got)
	}
}

func TestRecords_RoundTripInterleaved(t *testing.T) {
	// System messages are ordinary records: they round-trip from any
	// position, not only frame-final.
	var p Payload
	appendInt(&p, 10, -5)
	appendSystemMessage(&p, "mid")
	appendBool(&p, 11, true)
	appendString(&p, 12, "ok")
	appendSystemMessage(&p, "end")

	var got []record
	decodeRecords(&p, collectingHandlers(&got))

	expected := []record{
		{kind: "int", key: 10, i: -5},
		{kind: "system", s: "mid"},
		{kind: "bool", key: 11, b: true},
		{kind: "string", key: 12, s: "ok"},
		{kind: "system", s: "end"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("decoded %+v, expected %+v", got, expected)
	}
}

func TestRecords_RoundTripFuzz(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		var p Payload
		var expected []record

		for {
			var rec record
			var ok bool
			switch rng.Intn(4) {
			case 0:
				rec = record{kind: "int", key: uint16(rng.Intn(65536)), i: int32(rng.Uint32())}
				ok = appendInt(&p, rec.key, rec.i)
			case 1:
				rec = record{kind: "bool", key: uint16(rng.Intn(65536)), b: rng.Intn(2) == 1}
				ok = appendBool(&p, rec.key, rec.b)
			case 2:
				rec = record{kind: "string", key: uint16(rng.Intn(65536)), s: randomASCII(rng, rng.Intn(10))}
				ok = appendString(&p, rec.key, rec.s)
			case 3:
				rec = record{kind: "system", s: randomASCII(rng, rng.Intn(10))}
				ok = appendSystemMessage(&p, rec.s)
			}
			if !ok {
				break
			}
			expected = append(expected, rec)
		}

		var got []record
		decodeRecords(&p, collectingHandlers(&got))
		if !reflect.DeepEqual(got, expected) {
			t.Fatalf("round %d: decoded %+v, expected %+v", round, got, expected)
		}
	}
}

// randomASCII builds a NUL-free printable string; NUL is the string
// terminator on the wire and cannot appear in values.
func randomASCII(rng *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(0x20 + rng.Intn(0x5F))
	}
	return string(buf)
}
