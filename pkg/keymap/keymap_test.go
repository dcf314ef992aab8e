// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

package keymap

import "testing"

const sampleTable = `{
  "features": {
    "531": "BSH.Common.Status.DoorState",
    "539": "BSH.Common.Status.OperationState"
  },
  "values": {
    "531": {"0": "Open", "1": "Closed"},
    "539": {"2": "Run"}
  }
}`

func TestParse_LooksUpNamesAndValues(t *testing.T) {
	table, err := Parse([]byte(sampleTable))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if table.Len() != 2 {
		t.Errorf("Len = %d", table.Len())
	}
	if got := table.Name(531); got != "BSH.Common.Status.DoorState" {
		t.Errorf("Name(531) = %q", got)
	}
	if got := table.EnumValue(531, 1); got != "Closed" {
		t.Errorf("EnumValue(531,1) = %q", got)
	}
	if got := table.EnumValue(539, 2); got != "Run" {
		t.Errorf("EnumValue(539,2) = %q", got)
	}
}

func TestParse_UnknownFallsBackToNumeric(t *testing.T) {
	table, _ := Parse([]byte(sampleTable))

	if got := table.Name(9999); got != "9999" {
		t.Errorf("Name(9999) = %q", got)
	}
	if got := table.EnumValue(531, 7); got != "" {
		t.Errorf("EnumValue(531,7) = %q", got)
	}
	if got := table.EnumValue(9999, 0); got != "" {
		t.Errorf("EnumValue(9999,0) = %q", got)
	}
}

func TestParse_ReverseLookup(t *testing.T) {
	table, _ := Parse([]byte(sampleTable))

	key, ok := table.Key("BSH.Common.Status.OperationState")
	if !ok || key != 539 {
		t.Errorf("Key = %d,%t", key, ok)
	}
	if _, ok := table.Key("No.Such.Feature"); ok {
		t.Error("unknown names must not resolve")
	}
}

func TestParse_RejectsBadKeys(t *testing.T) {
	cases := []string{
		`{"features": {"sixty": "X"}}`,
		`{"features": {"70000": "X"}}`,
		`{"values": {"531": {"abc": "X"}}}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}

func TestEmpty(t *testing.T) {
	table := Empty()
	if table.Name(1) != "1" {
		t.Error("empty table should fall back to numeric names")
	}
}
