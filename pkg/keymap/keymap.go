// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

// Package keymap maps the 16-bit feature keys of the radio protocol to the
// full appliance feature names and enumeration value labels.
//
// The table is generated from the appliance profile (the same JSON the
// gateway's key list comes from), so both nodes agree on the numbering
// without ever sending names over the radio.
package keymap

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Table holds the key and value mappings for one appliance.
type Table struct {
	features map[uint16]string
	values   map[uint16]map[int32]string
	reverse  map[string]uint16
}

// fileFormat is the on-disk JSON shape. Keys are decimal strings because
// JSON objects cannot carry integer keys.
type fileFormat struct {
	Features map[string]string            `json:"features"`
	Values   map[string]map[string]string `json:"values"`
}

// Load reads a mapping table from a JSON file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key mapping: %w", err)
	}
	return Parse(raw)
}

// Parse builds a mapping table from JSON bytes.
func Parse(raw []byte) (*Table, error) {
	var file fileFormat
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing key mapping: %w", err)
	}

	t := &Table{
		features: make(map[uint16]string, len(file.Features)),
		values:   make(map[uint16]map[int32]string, len(file.Values)),
		reverse:  make(map[string]uint16, len(file.Features)),
	}

	for keyStr, name := range file.Features {
		key, err := parseKey(keyStr)
		if err != nil {
			return nil, err
		}
		t.features[key] = name
		t.reverse[name] = key
	}

	for keyStr, valueMap := range file.Values {
		key, err := parseKey(keyStr)
		if err != nil {
			return nil, err
		}
		m := make(map[int32]string, len(valueMap))
		for valueStr, label := range valueMap {
			value, err := strconv.ParseInt(valueStr, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q for key %s", valueStr, keyStr)
			}
			m[int32(value)] = label
		}
		t.values[key] = m
	}

	return t, nil
}

func parseKey(s string) (uint16, error) {
	key, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid feature key %q", s)
	}
	return uint16(key), nil
}

// Empty returns a table with no entries; every lookup falls back to the
// numeric form.
func Empty() *Table {
	return &Table{
		features: map[uint16]string{},
		values:   map[uint16]map[int32]string{},
		reverse:  map[string]uint16{},
	}
}

// Name returns the feature name for a key, or the decimal key itself when
// the table has no entry.
func (t *Table) Name(key uint16) string {
	if name, ok := t.features[key]; ok {
		return name
	}
	return strconv.FormatUint(uint64(key), 10)
}

// EnumValue returns the label for an enumerated value, or the empty string
// when none is defined.
func (t *Table) EnumValue(key uint16, value int32) string {
	if m, ok := t.values[key]; ok {
		return m[value]
	}
	return ""
}

// Key resolves a feature name back to its key, for the gateway side.
func (t *Table) Key(name string) (uint16, bool) {
	key, ok := t.reverse[name]
	return key, ok
}

// Len reports the number of mapped features.
func (t *Table) Len() int { return len(t.features) }
