// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mintylink/pkg/discovery"
	"github.com/Thermoquad/mintylink/pkg/engine"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	discoveryRunTimeout = 60 * time.Second // Upper bound for a scan of the whole /24
	eventLogLines       = 8
)

// Focus states
const (
	focusDeviceList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// device represents a discovered holder
type device struct {
	addr      minty.DeviceAddress
	connected bool
}

// Implement list.Item interface
func (d device) Title() string {
	if d.addr.DeviceID != "" {
		return d.addr.DeviceID
	}
	return "Holder " + d.addr.Host
}

func (d device) Description() string {
	if d.connected {
		return d.addr.Host + " (connected)"
	}
	return d.addr.Host
}

func (d device) FilterValue() string { return d.addr.Host }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	eng       *engine.Engine
	reconnect bool

	// Device tracking
	devices     []device
	deviceList  list.Model
	discovering bool

	// Link
	target         *minty.DeviceAddress
	connecting     bool
	connected      bool
	userDisconnect bool
	reconnecting   bool
	backoff        time.Duration
	lastError      string

	// Session
	brushing    bool
	elapsed     time.Duration
	lastOutcome *engine.SessionOutcome

	// Progress
	current int
	total   int
	dots    engine.DotsUpdate

	// Monitoring
	stats    *minty.Statistics
	eventLog []engine.EventLog

	// Control
	commandInput textinput.Model
	focusedField int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type engineUpdateMsg struct {
	update engine.Update
}

type tapMsg tapLine

type discoveryDoneMsg struct {
	devices []minty.DeviceAddress
	err     error
}

type connectResultMsg struct {
	addr minty.DeviceAddress
	err  error
}

type reconnectMsg struct {
	addr minty.DeviceAddress
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(eng *engine.Engine, target *minty.DeviceAddress, reconnect bool) controlModel {
	ti := textinput.New()
	ti.Placeholder = "GET_STATUS"
	ti.CharLimit = 128
	ti.Width = 30

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Holders"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	p := eng.Progress()
	m := controlModel{
		eng:          eng,
		reconnect:    reconnect,
		devices:      make([]device, 0),
		deviceList:   deviceList,
		target:       target,
		current:      p.CompletedSessions,
		total:        p.Total(),
		dots:         engine.DotsUpdate{Morning: p.Morning, Afternoon: p.Afternoon, Evening: p.Evening},
		stats:        minty.NewStatistics(),
		eventLog:     eng.Log(),
		commandInput: ti,
		focusedField: focusDeviceList,
		width:        80,
		height:       24,
	}

	if target != nil {
		m.connecting = true
		m.addDevice(*target)
	} else {
		m.discovering = true
	}
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	cmds := []tea.Cmd{controlTickCmd()}
	if m.target != nil {
		cmds = append(cmds, connectCmd(m.eng, *m.target))
	} else {
		cmds = append(cmds, discoverCmd(m.eng, discovery.Broadcast))
	}
	return tea.Batch(cmds...)
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.deviceList, _ = m.deviceList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		return m, controlTickCmd()

	case engineUpdateMsg:
		return m, m.applyUpdate(msg.update)

	case tapMsg:
		if msg.dir == minty.Inbound {
			ev := minty.Decode(msg.line)
			m.stats.Update(ev, minty.ValidateEvent(ev))
		}

	case discoveryDoneMsg:
		m.discovering = false
		for _, addr := range msg.devices {
			m.addDevice(addr)
		}
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}

	case connectResultMsg:
		return m, m.handleConnectResult(msg)

	case reconnectMsg:
		if m.connected || !m.reconnecting || m.target == nil || m.target.Host != msg.addr.Host {
			return m, nil
		}
		m.connecting = true
		return m, connectCmd(m.eng, msg.addr)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.commandInput, cmd = m.commandInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		m.cycleFocus()
		return m, nil
	}

	if m.focusedField == focusCommandInput {
		switch msg.String() {
		case "esc":
			m.cycleFocus()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.commandInput.Value())
			m.commandInput.SetValue("")
			if text == "" {
				return m, nil
			}
			if !m.connected {
				m.lastError = "Cannot send command: not connected"
				return m, nil
			}
			return m, engineCmd(func() { m.eng.Send(text) })
		}
		var cmd tea.Cmd
		m.commandInput, cmd = m.commandInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		return m, m.connectSelected()

	case "d":
		return m, m.startDiscovery(discovery.Broadcast)

	case "n":
		return m, m.startDiscovery(discovery.Scan)

	case "x":
		if !m.connected && !m.connecting {
			return m, nil
		}
		m.userDisconnect = true
		m.reconnecting = false
		eng := m.eng
		return m, engineCmd(eng.Disconnect)

	case "c":
		return m, engineCmd(m.eng.ClearLog)

	case "r":
		eng := m.eng
		return m, engineCmd(func() { eng.RefreshProgress(context.Background()) })

	case "s":
		return m, m.sendIfConnected(minty.Encode(minty.NewStatusRequest()))

	case "p":
		return m, m.sendIfConnected(minty.Encode(minty.NewPingRequest()))
	}

	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
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

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	helpText := "q=quit Tab=switch Enter=connect d=discover n=scan x=disconnect s=status p=ping r=refresh c=clear"
	s.WriteString(titleStyle.Render("MINTYLINK CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render("| ") + m.renderLinkStatus(statsValueStyle, warningStyle, errorStyle, headerStyle))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(helpText))
	s.WriteString("\n")
	if m.lastError != "" {
		s.WriteString(errorStyle.Render("✗ " + m.lastError))
	}
	s.WriteString("\n")

	// Layout: left panel (holders) | right panel (session + progress + input)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	var listContent string
	if len(m.devices) == 0 {
		if m.discovering {
			listContent = warningStyle.Render("Discovering holders...")
		} else {
			listContent = headerStyle.Render("No holders found\nPress d or n to search")
		}
	} else {
		listContent = m.deviceList.View()
	}
	devicePanel := listStyle.Render(listContent)

	rightContent := m.renderSessionPanel(statsLabelStyle, statsValueStyle, warningStyle, headerStyle)
	rightContent += "\n\n" + m.renderProgressPanel(statsLabelStyle, statsValueStyle, headerStyle)
	rightContent += "\n\n" + statsLabelStyle.Render("Command: ")
	if m.focusedField == focusCommandInput {
		rightContent += m.commandInput.View()
	} else {
		rightContent += headerStyle.Render("[Tab to type]")
	}
	controlPanel := boxStyle.Width(rightWidth).Render(rightContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderLinkStatus(okStyle, warningStyle, errorStyle, headerStyle lipgloss.Style) string {
	switch {
	case m.connected && m.target != nil:
		return okStyle.Render("● Connected to " + m.target.String())
	case m.connecting && m.target != nil:
		return warningStyle.Render("Connecting to " + m.target.String() + "...")
	case m.reconnecting:
		return warningStyle.Render(fmt.Sprintf("RECONNECTING (retry in %s)...", m.backoff))
	case m.discovering:
		return warningStyle.Render("Discovering...")
	}
	return errorStyle.Render("○ Disconnected")
}

func (m controlModel) renderSessionPanel(statsLabelStyle, statsValueStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("SESSION"))
	s.WriteString("\n")

	if m.brushing {
		s.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Brushing:"),
			statsValueStyle.Render(minty.FormatSeconds(int(m.elapsed/time.Second)))))
	} else {
		s.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Toothbrush:"),
			headerStyle.Render("in holder")))
	}

	if o := m.lastOutcome; o != nil {
		verdict := statsValueStyle.Render("VALID")
		switch {
		case !o.Valid:
			verdict = warningStyle.Render("TOO SHORT")
		case !o.Counted:
			verdict = warningStyle.Render("VALID (daily limit reached)")
		}
		s.WriteString(fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render("Last session:"),
			minty.FormatSeconds(o.DurationSeconds), verdict))
	} else {
		s.WriteString(headerStyle.Render("No session yet"))
	}
	return s.String()
}

func (m controlModel) renderProgressPanel(statsLabelStyle, statsValueStyle, headerStyle lipgloss.Style) string {
	total := m.total
	if total <= 0 {
		total = minty.DailySessionGoal
	}

	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("TODAY"))
	s.WriteString(" ")
	s.WriteString(statsValueStyle.Render(fmt.Sprintf("%d/%d sessions", m.current, total)))
	s.WriteString("\n")

	dot := func(label string, done bool) string {
		if done {
			return statsValueStyle.Render("● " + label)
		}
		return headerStyle.Render("○ " + label)
	}
	s.WriteString(dot("Morning", m.dots.Morning) + "  " +
		dot("Afternoon", m.dots.Afternoon) + "  " +
		dot("Evening", m.dots.Evening))
	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalLines > 0 {
		validPercent = float64(m.stats.ValidLines) * 100.0 / float64(m.stats.TotalLines)
		errorPercent = float64(m.stats.Anomalies()) * 100.0 / float64(m.stats.TotalLines)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Lines:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalLines)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Anomalies:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f lines/s", m.stats.LineRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 24
	if logHeight < eventLogLines {
		logHeight = eventLogLines
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			s.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(entry.At.Format("15:04:05")),
				entry.Text))
		}
	}

	return boxStyle.Width(m.width - 4).Render(strings.TrimSuffix(s.String(), "\n"))
}

//////////////////////////////////////////////////////////////
// Engine Updates
//////////////////////////////////////////////////////////////

// applyUpdate folds an engine update into the model
func (m *controlModel) applyUpdate(u engine.Update) tea.Cmd {
	switch u := u.(type) {
	case engine.EventLog:
		m.eventLog = append(m.eventLog, u)
		if over := len(m.eventLog) - engine.MaxLogEntries; over > 0 {
			m.eventLog = m.eventLog[over:]
		}

	case engine.LogCleared:
		m.eventLog = nil

	case engine.Connected:
		m.connected = true
		m.connecting = false
		m.reconnecting = false
		m.backoff = 0
		m.lastError = ""
		if u.Address.Host != "" {
			addr := u.Address
			m.target = &addr
		}
		m.markConnected()

	case engine.Disconnected:
		m.connected = false
		m.brushing = false
		m.elapsed = 0
		m.markConnected()
		if m.userDisconnect || !m.reconnect || m.target == nil {
			m.userDisconnect = false
			return nil
		}
		m.reconnecting = true
		m.backoff = nextBackoff(m.backoff)
		return reconnectAfter(*m.target, m.backoff)

	case engine.ToothbrushRemoved:
		m.brushing = true
		m.elapsed = 0

	case engine.SessionTick:
		m.brushing = true
		m.elapsed = u.Elapsed

	case engine.ToothbrushReturned:
		m.brushing = false

	case engine.SessionOutcome:
		m.brushing = false
		outcome := u
		m.lastOutcome = &outcome

	case engine.ProgressUpdate:
		m.current = u.Current
		m.total = u.Total

	case engine.DotsUpdate:
		m.dots = u

	case engine.Error:
		m.lastError = u.Message
	}
	return nil
}

func (m *controlModel) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if m.target == nil || m.target.Host != msg.addr.Host {
		return nil
	}
	m.connecting = false
	if msg.err == nil || errors.Is(msg.err, link.ErrSuperseded) {
		return nil
	}
	if errors.Is(msg.err, engine.ErrNoUser) {
		m.reconnecting = false
		return nil
	}
	if m.reconnect && (m.reconnecting || !m.userDisconnect) {
		m.reconnecting = true
		m.backoff = nextBackoff(m.backoff)
		return reconnectAfter(msg.addr, m.backoff)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// engineCmd runs fn off the update goroutine. Engine calls may block
// until the forwarder delivers their updates back to this program.
func engineCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func connectCmd(eng *engine.Engine, addr minty.DeviceAddress) tea.Cmd {
	return func() tea.Msg {
		err := eng.Connect(context.Background(), addr)
		return connectResultMsg{addr: addr, err: err}
	}
}

func discoverCmd(eng *engine.Engine, strategy discovery.Strategy) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), discoveryRunTimeout)
		defer cancel()
		found, err := eng.Discover(ctx, strategy)
		return discoveryDoneMsg{devices: found, err: err}
	}
}

func reconnectAfter(addr minty.DeviceAddress, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return reconnectMsg{addr: addr}
	})
}

func (m *controlModel) connectSelected() tea.Cmd {
	selected := m.getSelectedDevice()
	if selected == nil {
		return nil
	}
	addr := selected.addr
	// Switching holders tears the current link down first
	m.userDisconnect = m.connected
	m.target = &addr
	m.connecting = true
	m.reconnecting = false
	m.backoff = 0
	m.lastError = ""
	return connectCmd(m.eng, addr)
}

func (m *controlModel) startDiscovery(strategy discovery.Strategy) tea.Cmd {
	if m.discovering {
		return nil
	}
	m.discovering = true
	return discoverCmd(m.eng, strategy)
}

func (m *controlModel) sendIfConnected(text string) tea.Cmd {
	if !m.connected {
		m.lastError = "Cannot send command: not connected"
		return nil
	}
	eng := m.eng
	return engineCmd(func() { eng.Send(text) })
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) cycleFocus() {
	if m.focusedField == focusDeviceList {
		m.focusedField = focusCommandInput
		m.commandInput.Focus()
	} else {
		m.focusedField = focusDeviceList
		m.commandInput.Blur()
	}
}

func (m *controlModel) getSelectedDevice() *device {
	if len(m.devices) == 0 {
		return nil
	}

	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.devices) {
		return nil
	}

	return &m.devices[idx]
}

// addDevice adds a holder to the list unless its host is already known
func (m *controlModel) addDevice(addr minty.DeviceAddress) {
	for i := range m.devices {
		if m.devices[i].addr.Host == addr.Host {
			if addr.DeviceID != "" {
				m.devices[i].addr.DeviceID = addr.DeviceID
			}
			m.updateDeviceList()
			return
		}
	}
	m.devices = append(m.devices, device{addr: addr})
	m.updateDeviceList()
}

// markConnected flags the holder the link is open to
func (m *controlModel) markConnected() {
	for i := range m.devices {
		m.devices[i].connected = m.connected && m.target != nil && m.devices[i].addr.Host == m.target.Host
	}
	m.updateDeviceList()
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.devices))
	for i, d := range m.devices {
		items[i] = d
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(28, listHeight)
}
