// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
	"github.com/mfeldt/lorabridge/pkg/hconnect"
	"github.com/mfeldt/lorabridge/pkg/loralink"
)

var (
	applianceHost string
	appliancePort uint16
	resources     []string
	collectTime   time.Duration
)

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Run the gateway node: appliance WebSocket to LoRa",
	Long: `Connect to the appliance, subscribe to status events and forward them
over the radio as typed key/value records.

The appliance profile's feature keys pass through unchanged; the receiver
maps them back to names with the same mapping table.`,
	RunE: runSender,
}

func init() {
	rootCmd.AddCommand(senderCmd)
	senderCmd.Flags().StringVar(&applianceHost, "appliance-ip", "", "IP address of the appliance")
	senderCmd.Flags().Uint16Var(&appliancePort, "appliance-port", 80, "Port of the appliance")
	senderCmd.Flags().StringSliceVar(&resources, "resource", []string{"/ro/allMandatoryValues"},
		"Resources to query after the session starts")
	senderCmd.Flags().DurationVar(&collectTime, "collect-time", 0,
		"Flush a dwelling payload buffer after this long (0 disables)")
	addRadioFlags(senderCmd)
}

// bridge forwards appliance documents to the radio link.
type bridge struct {
	socket *hconnect.Socket
	lora   *loralink.Sender
}

// dataItem is the shape of one event element in a document's data array.
type dataItem struct {
	UIKey *uint16         `json:"uiKey"`
	Value json.RawMessage `json:"value"`

	// Initial-values handshake fields
	EdMsgID *uint32 `json:"edMsgID"`
}

// onMessage handles one appliance document: the session handshake on
// /ei/initialValues, event forwarding for everything that carries
// uiKey/value pairs.
func (b *bridge) onMessage(msg *hconnect.Message) {
	if msg.Resource == "/ei/initialValues" {
		b.startSession(msg)
		return
	}
	b.forwardValues(msg)
}

// startSession answers the appliance's opening message and queries the
// configured resources.
func (b *bridge) startSession(msg *hconnect.Message) {
	var first dataItem
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data[0], &first); err != nil {
			log.Printf("Initial values: %v", err)
		}
	}
	txMsgID := uint32(1)
	if first.EdMsgID != nil {
		txMsgID = *first.EdMsgID
	}
	b.socket.StartSession(msg.SID, txMsgID)

	reply := map[string]any{"deviceType": "Application", "deviceName": "lorabridge", "deviceID": "lorabridge"}
	if err := b.socket.SendReply(msg, reply); err != nil {
		log.Printf("Session reply failed: %v", err)
		return
	}

	for _, resource := range resources {
		if err := b.socket.SendAction(resource, 1, "GET"); err != nil {
			log.Printf("Query %s failed: %v", resource, err)
		}
	}

	b.lora.SendSystemMessage("session started")
}

// forwardValues sends every uiKey/value pair in the document over the
// radio, choosing the record type from the JSON value type.
func (b *bridge) forwardValues(msg *hconnect.Message) {
	for _, raw := range msg.Data {
		var item dataItem
		if err := json.Unmarshal(raw, &item); err != nil || item.UIKey == nil || item.Value == nil {
			continue
		}

		var boolValue bool
		if err := json.Unmarshal(item.Value, &boolValue); err == nil {
			b.lora.SendBoolean(*item.UIKey, boolValue)
			continue
		}
		var intValue int32
		if err := json.Unmarshal(item.Value, &intValue); err == nil {
			b.lora.SendInt(*item.UIKey, intValue)
			continue
		}
		var strValue string
		if err := json.Unmarshal(item.Value, &strValue); err == nil {
			b.lora.SendString(*item.UIKey, strValue)
			continue
		}
		log.Printf("Unsupported value type for uiKey %d, skipped", *item.UIKey)
	}
	b.lora.Flush()
}

func runSender(cmd *cobra.Command, args []string) error {
	if applianceHost == "" {
		return fmt.Errorf("--appliance-ip must be specified")
	}

	lrKeyB64, err := getSecret("LORABRIDGE_LR_KEY", "LoRa link key (base64url)")
	if err != nil {
		return err
	}
	lrKey, err := blockcrypt.DecodeBase64URL(lrKeyB64, 32)
	if err != nil {
		return fmt.Errorf("LoRa link key: %w", err)
	}
	psk, err := getSecret("LORABRIDGE_HC_PSK", "Appliance PSK (base64url)")
	if err != nil {
		return err
	}
	iv, err := getSecret("LORABRIDGE_HC_IV", "Appliance IV (base64url)")
	if err != nil {
		return err
	}

	radio, err := openRadio()
	if err != nil {
		return err
	}
	defer radio.Close()

	lora, err := loralink.NewSender(radio, lrKey, loralink.SenderConfig{CollectTime: collectTime})
	if err != nil {
		return err
	}

	b := &bridge{lora: lora}
	socket, err := hconnect.NewSocket(psk, iv, hconnect.NewWSClient(), b.onMessage)
	if err != nil {
		return err
	}
	b.socket = socket

	socket.Connect(applianceHost, appliancePort)
	lora.SendSystemMessage("gateway up")

	fmt.Printf("lorabridge - gateway node\n")
	fmt.Printf("Appliance: ws://%s:%d%s\n", applianceHost, appliancePort, hconnect.SocketPath)
	fmt.Printf("Radio: %s @ %d baud\n", portName, baudRate)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			lora.Flush()
			lora.Sleep()
			log.Println("Shutting down")
			return nil
		case <-ticker.C:
			socket.Loop()
			lora.Loop()
		}
	}
}
