// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Martin Feldt

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mfeldt/lorabridge/pkg/blockcrypt"
	"github.com/mfeldt/lorabridge/pkg/keymap"
	"github.com/mfeldt/lorabridge/pkg/loralink"
	"github.com/mfeldt/lorabridge/pkg/radio/loopback"
)

var monitorDemo bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI for the display node",
	Long: `Receive radio frames and show the decoded record stream, link statistics
and signal strength in a terminal UI.

With --demo, an in-memory radio pair with simulated loss replaces the
modem and a synthetic gateway feeds records, which is handy for checking a
terminal setup without hardware.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorDemo, "demo", false, "Run against a synthetic in-memory gateway")
	addRadioFlags(monitorCmd)
}

// Record log entry
type recordLogEntry struct {
	timestamp time.Time
	message   string
	isSystem  bool
}

// Messages
type monitorTickMsg time.Time
type recordMsg recordLogEntry

// monitorModel is the Bubble Tea model for the monitor TUI.
type monitorModel struct {
	connInfo      string
	stats         *loralink.Stats
	rssi          func() int
	recordLog     []recordLogEntry
	maxLogEntries int
	logView       viewport.Model
	logViewReady  bool
	width         int
	height        int
	quitting      bool
}

func initialMonitorModel(connInfo string, stats *loralink.Stats, rssi func() int) monitorModel {
	return monitorModel{
		connInfo:      connInfo,
		stats:         stats,
		rssi:          rssi,
		recordLog:     make([]recordLogEntry, 0),
		maxLogEntries: 200,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		monitorTickCmd(),
		tea.EnterAltScreen,
	)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := m.height - 12
		if logHeight < 5 {
			logHeight = 5
		}
		if !m.logViewReady {
			m.logView = viewport.New(m.width-4, logHeight)
			m.logViewReady = true
		} else {
			m.logView.Width = m.width - 4
			m.logView.Height = logHeight
		}
		m.logView.SetContent(m.renderLog())
		m.logView.GotoBottom()

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case recordMsg:
		m.recordLog = append(m.recordLog, recordLogEntry(msg))
		if len(m.recordLog) > m.maxLogEntries {
			m.recordLog = m.recordLog[len(m.recordLog)-m.maxLogEntries:]
		}
		if m.logViewReady {
			m.logView.SetContent(m.renderLog())
			m.logView.GotoBottom()
		}
	}

	return m, nil
}

func (m *monitorModel) renderLog() string {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recordStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	systemStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	if len(m.recordLog) == 0 {
		return headerStyle.Render("  (no records yet)")
	}

	var s strings.Builder
	for _, entry := range m.recordLog {
		ts := entry.timestamp.Format("15:04:05.000")
		style := recordStyle
		if entry.isSystem {
			style = systemStyle
		}
		s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(ts), style.Render(entry.message)))
	}
	return s.String()
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("LORABRIDGE - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'q' to quit", m.connInfo)))
	s.WriteString("\n\n")

	m.stats.CalculateRates()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Accepted:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.FramesAccepted)),
		statsLabelStyle.Render("Records:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.RecordsDecoded)),
		statsLabelStyle.Render("Duplicates:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Duplicates)),
	))
	if m.stats.MacFailures > 0 || m.stats.FramesRejected > 0 || m.stats.QueueDrops > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("MAC failures:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MacFailures)),
			statsLabelStyle.Render("Bad sizes:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.FramesRejected)),
			statsLabelStyle.Render("Queue drops:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.QueueDrops)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f f/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f e/s", m.stats.ErrorRate)),
		statsLabelStyle.Render("RSSI:"), statsValueStyle.Render(fmt.Sprintf("%d dBm", m.rssi())),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Records:"))
	s.WriteString("\n")
	if m.logViewReady {
		s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView.View()))
	} else {
		s.WriteString(headerStyle.Render("  (waiting for terminal size)"))
	}

	return s.String()
}

// monitorHandlers formats records into TUI log entries.
func monitorHandlers(table *keymap.Table, send func(tea.Msg)) loralink.Handlers {
	entry := func(message string, isSystem bool) {
		send(recordMsg{timestamp: time.Now(), message: message, isSystem: isSystem})
	}
	return loralink.Handlers{
		Int: func(key uint16, value int32) {
			if label := table.EnumValue(key, value); label != "" {
				entry(fmt.Sprintf("%s = %s (%d)", table.Name(key), label, value), false)
				return
			}
			entry(fmt.Sprintf("%s = %d", table.Name(key), value), false)
		},
		Bool: func(key uint16, value bool) {
			entry(fmt.Sprintf("%s = %t", table.Name(key), value), false)
		},
		String: func(key uint16, value string) {
			entry(fmt.Sprintf("%s = %q", table.Name(key), value), false)
		},
		SystemMessage: func(value string) {
			entry("SYSTEM: "+value, true)
		},
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	table, err := loadMapping()
	if err != nil {
		return err
	}

	var radio loralink.Driver
	var connInfo string
	lrKey := make([]byte, 32)

	if monitorDemo {
		var near, far *loopback.Endpoint
		near, far = loopback.NewPair(time.Now().UnixNano())
		near.LossRate = 0.2
		radio = near
		connInfo = "Radio: in-memory demo pair (20% loss)"
		go runDemoGateway(far, lrKey)
	} else {
		lrKeyB64, err := getSecret("LORABRIDGE_LR_KEY", "LoRa link key (base64url)")
		if err != nil {
			return err
		}
		lrKey, err = blockcrypt.DecodeBase64URL(lrKeyB64, 32)
		if err != nil {
			return fmt.Errorf("LoRa link key: %w", err)
		}
		modem, err := openRadio()
		if err != nil {
			return err
		}
		defer modem.Close()
		radio = modem
		connInfo = fmt.Sprintf("Radio: %s @ %d baud", portName, baudRate)
	}

	program := (*tea.Program)(nil)
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	receiver, err := loralink.NewReceiver(radio, lrKey, monitorHandlers(table, send))
	if err != nil {
		return err
	}

	model := initialMonitorModel(connInfo, receiver.Stats(), receiver.RSSI)
	program = tea.NewProgram(model)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				receiver.Loop()
			}
		}
	}()

	_, err = program.Run()
	close(done)
	return err
}

// runDemoGateway drives a synthetic sender against the far loopback
// endpoint.
func runDemoGateway(radio loralink.Driver, lrKey []byte) {
	sender, err := loralink.NewSender(radio, lrKey, loralink.SenderConfig{
		RateLimit: 500 * time.Millisecond,
	})
	if err != nil {
		return
	}

	sender.SendSystemMessage("demo gateway up")
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	temp := int32(20)
	step := 0
	for range ticker.C {
		sender.Loop()
		step++
		if step%150 == 0 {
			temp++
			sender.SendInt(531, temp)
			sender.SendBoolean(539, temp%2 == 0)
			sender.SendString(540, "Run")
			sender.Flush()
		}
	}
}
