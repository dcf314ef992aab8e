// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt
//
// lorabridge - Home Connect to LoRa gateway
//
// Bridges the encrypted WebSocket channel of a Home Connect appliance to a
// low-bandwidth LoRa radio link, with a display node decoding the records
// on the far end.

package main

import (
	"os"

	"github.com/mfeldt/lorabridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
