// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

// Package capture journals decoded radio records to a file for offline
// analysis and replay. Entries are a CBOR stream, one self-contained
// record per entry, so a journal survives a crash mid-write up to the last
// complete entry.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mfeldt/lorabridge/pkg/loralink"
)

// Record kinds in a journal entry.
const (
	KindInt    = "int"
	KindBool   = "bool"
	KindString = "string"
	KindSystem = "system"
)

// Entry is one journaled record.
type Entry struct {
	Time time.Time `cbor:"1,keyasint"`
	Kind string    `cbor:"2,keyasint"`
	Key  uint16    `cbor:"3,keyasint,omitempty"`
	Int  int32     `cbor:"4,keyasint,omitempty"`
	Bool bool      `cbor:"5,keyasint,omitempty"`
	Str  string    `cbor:"6,keyasint,omitempty"`
}

// Writer appends entries to a journal.
type Writer struct {
	file io.WriteCloser
	enc  *cbor.Encoder
}

// Create opens a journal file for appending.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	return NewWriter(file), nil
}

// NewWriter journals to an arbitrary stream.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{file: w, enc: cbor.NewEncoder(w)}
}

// Append writes one entry.
func (w *Writer) Append(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	if err := w.enc.Encode(entry); err != nil {
		return fmt.Errorf("writing capture entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Handlers returns record callbacks that journal every record and then
// forward to next. Journal errors are reported through errFn (may be nil);
// a failing journal never blocks delivery.
func (w *Writer) Handlers(next loralink.Handlers, errFn func(error)) loralink.Handlers {
	report := func(err error) {
		if err != nil && errFn != nil {
			errFn(err)
		}
	}
	return loralink.Handlers{
		Int: func(key uint16, value int32) {
			report(w.Append(Entry{Kind: KindInt, Key: key, Int: value}))
			if next.Int != nil {
				next.Int(key, value)
			}
		},
		Bool: func(key uint16, value bool) {
			report(w.Append(Entry{Kind: KindBool, Key: key, Bool: value}))
			if next.Bool != nil {
				next.Bool(key, value)
			}
		},
		String: func(key uint16, value string) {
			report(w.Append(Entry{Kind: KindString, Key: key, Str: value}))
			if next.String != nil {
				next.String(key, value)
			}
		},
		SystemMessage: func(value string) {
			report(w.Append(Entry{Kind: KindSystem, Str: value}))
			if next.SystemMessage != nil {
				next.SystemMessage(value)
			}
		},
	}
}

// Reader iterates a journal.
type Reader struct {
	file io.ReadCloser
	dec  *cbor.Decoder
}

// Open opens a journal file for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	return NewReader(file), nil
}

// NewReader iterates entries from an arbitrary stream.
func NewReader(r io.ReadCloser) *Reader {
	return &Reader{file: r, dec: cbor.NewDecoder(r)}
}

// Next returns the next entry, or io.EOF at the end of the journal.
func (r *Reader) Next() (Entry, error) {
	var entry Entry
	err := r.dec.Decode(&entry)
	if errors.Is(err, io.EOF) {
		return entry, io.EOF
	}
	if err != nil {
		return entry, fmt.Errorf("reading capture entry: %w", err)
	}
	return entry, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
