// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mfeldt/lorabridge/pkg/capture"
)

var replayCmd = &cobra.Command{
	Use:   "replay <journal>",
	Short: "Print a captured record journal in human-readable form",
	Long: `Read a journal written by "receiver --capture" and print every record
with the key mapping applied, in the live receiver's record format with
the date added to each timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	table, err := loadMapping()
	if err != nil {
		return err
	}

	reader, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	count := 0
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++

		when := entry.Time.Format("01/02/06 15:04:05.000")
		switch entry.Kind {
		case capture.KindInt:
			if label := table.EnumValue(entry.Key, entry.Int); label != "" {
				fmt.Printf("[%s] %s = %s (%d)\n", when, table.Name(entry.Key), label, entry.Int)
			} else {
				fmt.Printf("[%s] %s = %d\n", when, table.Name(entry.Key), entry.Int)
			}
		case capture.KindBool:
			fmt.Printf("[%s] %s = %t\n", when, table.Name(entry.Key), entry.Bool)
		case capture.KindString:
			fmt.Printf("[%s] %s = %q\n", when, table.Name(entry.Key), entry.Str)
		case capture.KindSystem:
			fmt.Printf("[%s] SYSTEM: %s\n", when, entry.Str)
		default:
			fmt.Printf("[%s] unknown record kind %q\n", when, entry.Kind)
		}
	}

	fmt.Printf("\n%d records\n", count)
	return nil
}
