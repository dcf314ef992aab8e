// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/mfeldt/lorabridge/pkg/loralink"
)

// nopCloser wraps a bytes.Buffer for the Writer/Reader interfaces.
type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

func TestJournal_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(nopCloser{&buf})

	entries := []Entry{
		{Kind: KindInt, Key: 531, Int: -300},
		{Kind: KindBool, Key: 12, Bool: true},
		{Kind: KindString, Key: 7, Str: "Run"},
		{Kind: KindSystem, Str: "gateway restarted"},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	r := NewReader(io.NopCloser(&buf))
	for i, expected := range entries {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if got.Kind != expected.Kind || got.Key != expected.Key ||
			got.Int != expected.Int || got.Bool != expected.Bool || got.Str != expected.Str {
			t.Errorf("entry %d: got %+v, expected %+v", i, got, expected)
		}
		if got.Time.IsZero() {
			t.Errorf("entry %d: timestamp was not stamped", i)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestJournal_TruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(nopCloser{&buf})
	if err := w.Append(Entry{Kind: KindInt, Key: 1, Int: 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	full := buf.Len()
	if err := w.Append(Entry{Kind: KindInt, Key: 3, Int: 4}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Chop the second entry mid-way: the first must still read cleanly.
	truncated := bytes.NewBuffer(buf.Bytes()[:full+2])
	r := NewReader(io.NopCloser(truncated))

	got, err := r.Next()
	if err != nil || got.Key != 1 {
		t.Fatalf("first entry: %+v, %v", got, err)
	}
	if _, err := r.Next(); err == nil {
		t.Error("truncated entry should error")
	}
}

func TestHandlers_JournalAndForward(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(nopCloser{&buf})

	var forwarded []string
	next := loralink.Handlers{
		Int:           func(key uint16, value int32) { forwarded = append(forwarded, "int") },
		SystemMessage: func(value string) { forwarded = append(forwarded, "system") },
	}

	h := w.Handlers(next, func(err error) { t.Errorf("journal error: %v", err) })
	h.Int(531, 42)
	h.Bool(1, true) // next.Bool is nil; journaling must still happen
	h.SystemMessage("hello")

	if len(forwarded) != 2 {
		t.Errorf("forwarded %v", forwarded)
	}

	r := NewReader(io.NopCloser(&buf))
	kinds := []string{}
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		kinds = append(kinds, entry.Kind)
	}
	expected := []string{KindInt, KindBool, KindSystem}
	if len(kinds) != len(expected) {
		t.Fatalf("journaled %v", kinds)
	}
	for i := range kinds {
		if kinds[i] != expected[i] {
			t.Errorf("entry %d: %s != %s", i, kinds[i], expected[i])
		}
	}
}
