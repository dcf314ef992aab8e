// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fresh base64url link key for both nodes",
	Long: `Generate a random LoRa link key. Both nodes must be configured with the
same key; the appliance PSK and IV come from the appliance profile and are
not generated here.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var key [32]byte
	if err := blockcrypt.RandomBytes(key[:]); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	fmt.Printf("LORABRIDGE_LR_KEY=%s\n", base64.RawURLEncoding.EncodeToString(key[:]))
	return nil
}
