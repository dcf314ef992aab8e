// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mfeldt/lorabridge/pkg/keymap"
	"github.com/mfeldt/lorabridge/pkg/radio/rylr"
)

// Radio parameter flags, shared by sender and receiver commands.
var (
	radioAddress   uint16
	radioPeer      uint16
	radioNetworkID uint8
	radioBand      uint32
	radioPower     uint8
	radioSF        uint8
	radioBW        uint8
	radioCR        uint8
	radioPreamble  uint8
)

func addRadioFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16Var(&radioAddress, "address", 1, "Radio address of this node")
	cmd.Flags().Uint16Var(&radioPeer, "peer-address", 2, "Radio address of the peer node")
	cmd.Flags().Uint8Var(&radioNetworkID, "network-id", 5, "Radio network id, must match on both nodes")
	cmd.Flags().Uint32Var(&radioBand, "band", 868500000, "Center frequency in Hz")
	cmd.Flags().Uint8Var(&radioPower, "power", 15, "RF output power in dBm")
	cmd.Flags().Uint8Var(&radioSF, "spreading-factor", 11, "LoRa spreading factor (7-12)")
	cmd.Flags().Uint8Var(&radioBW, "bandwidth", 7, "LoRa bandwidth code (0-9)")
	cmd.Flags().Uint8Var(&radioCR, "coding-rate", 1, "LoRa coding rate (1-4)")
	cmd.Flags().Uint8Var(&radioPreamble, "preamble", 4, "LoRa programmed preamble (4-7)")
}

// openRadio opens the serial LoRa modem with the configured parameters.
func openRadio() (*rylr.Driver, error) {
	if portName == "" {
		return nil, fmt.Errorf("--port must be specified")
	}
	cfg := rylr.Config{
		Address:         radioAddress,
		PeerAddress:     radioPeer,
		NetworkID:       radioNetworkID,
		Band:            radioBand,
		Power:           radioPower,
		SpreadingFactor: radioSF,
		Bandwidth:       radioBW,
		CodingRate:      radioCR,
		Preamble:        radioPreamble,
	}
	return rylr.Open(portName, baudRate, cfg)
}

// loadMapping loads the key mapping table, or an empty one when no file
// was given.
func loadMapping() (*keymap.Table, error) {
	if mappingPath == "" {
		return keymap.Empty(), nil
	}
	return keymap.Load(mappingPath)
}

// getSecret retrieves a secret from the environment or prompts for it.
func getSecret(envVar, prompt string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)

	// Read without echo
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		secret, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(secret), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(secretBytes), nil
}
