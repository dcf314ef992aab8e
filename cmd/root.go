// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags for the radio modem
	portName string
	baudRate int

	// Key mapping table
	mappingPath string
)

var rootCmd = &cobra.Command{
	Use:   "lorabridge",
	Short: "Home Connect to LoRa bridge",
	Long: `lorabridge - bridge a Home Connect appliance to a LoRa radio link.

The sender node connects to the appliance's encrypted WebSocket channel,
compresses status events into a compact key/value wire format and transmits
them as encrypted, acknowledged LoRa datagrams. The receiver node decodes
the stream and displays or journals it.

Secrets are read from environment variables, or prompted interactively if
not set:
  LORABRIDGE_LR_KEY   base64url, 32 bytes - shared radio link key
  LORABRIDGE_HC_PSK   base64url, 32 bytes - appliance pre-shared key
  LORABRIDGE_HC_IV    base64url, 16 bytes - appliance IV

There are intentionally no flags for secrets, to keep them out of shell
history.`,
	Version: "1.2.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the LoRa modem")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate of the LoRa modem")
	rootCmd.PersistentFlags().StringVar(&mappingPath, "mapping", "", "Key mapping JSON generated from the appliance profile")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
