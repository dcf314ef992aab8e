// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
	"github.com/mfeldt/lorabridge/pkg/capture"
	"github.com/mfeldt/lorabridge/pkg/keymap"
	"github.com/mfeldt/lorabridge/pkg/loralink"
)

var capturePath string

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Run the display node: LoRa to decoded record log",
	Long: `Receive radio frames, decode the record stream and print every record
with the key mapping applied.

With --capture, every decoded record is also appended to a CBOR journal
that the replay command can read back.`,
	RunE: runReceiver,
}

func init() {
	rootCmd.AddCommand(receiverCmd)
	receiverCmd.Flags().StringVar(&capturePath, "capture", "", "Append decoded records to this journal file")
	addRadioFlags(receiverCmd)
}

// printingHandlers formats each record like the journal replay does.
func printingHandlers(table *keymap.Table) loralink.Handlers {
	return loralink.Handlers{
		Int: func(key uint16, value int32) {
			if label := table.EnumValue(key, value); label != "" {
				fmt.Printf("[%s] %s = %s (%d)\n", timestamp(), table.Name(key), label, value)
				return
			}
			fmt.Printf("[%s] %s = %d\n", timestamp(), table.Name(key), value)
		},
		Bool: func(key uint16, value bool) {
			fmt.Printf("[%s] %s = %t\n", timestamp(), table.Name(key), value)
		},
		String: func(key uint16, value string) {
			fmt.Printf("[%s] %s = %q\n", timestamp(), table.Name(key), value)
		},
		SystemMessage: func(value string) {
			fmt.Printf("[%s] SYSTEM: %s\n", timestamp(), value)
		},
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}

func runReceiver(cmd *cobra.Command, args []string) error {
	table, err := loadMapping()
	if err != nil {
		return err
	}

	lrKeyB64, err := getSecret("LORABRIDGE_LR_KEY", "LoRa link key (base64url)")
	if err != nil {
		return err
	}
	lrKey, err := blockcrypt.DecodeBase64URL(lrKeyB64, 32)
	if err != nil {
		return fmt.Errorf("LoRa link key: %w", err)
	}

	radio, err := openRadio()
	if err != nil {
		return err
	}
	defer radio.Close()

	handlers := printingHandlers(table)
	var journal *capture.Writer
	if capturePath != "" {
		journal, err = capture.Create(capturePath)
		if err != nil {
			return err
		}
		defer journal.Close()
		handlers = journal.Handlers(handlers, func(err error) {
			log.Printf("Capture error: %v", err)
		})
	}

	receiver, err := loralink.NewReceiver(radio, lrKey, handlers)
	if err != nil {
		return err
	}

	fmt.Printf("lorabridge - display node\n")
	fmt.Printf("Radio: %s @ %d baud\n", portName, baudRate)
	if capturePath != "" {
		fmt.Printf("Capture: %s\n", capturePath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			stats := receiver.Stats()
			fmt.Printf("\n%d frames accepted, %d MAC failures, %d duplicates, %d records decoded\n",
				stats.FramesAccepted, stats.MacFailures, stats.Duplicates, stats.RecordsDecoded)
			return nil
		case <-ticker.C:
			receiver.Loop()
		}
	}
}
