package tui

import (
	"fmt"
	"time"

	"energon/pkg/watcher"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watcher.Event:
		cmds = append(cmds, listenForWatcher(m.sub))

		switch msg.Type {
		case watcher.EventSnapshotUpdated:
			if d, ok := msg.Data.(watcher.Dashboard); ok {
				m.dash = d
				m.loading = false
				m.history = m.watcher.History()
			}
		case watcher.EventStatusUpdated:
			if s, ok := msg.Data.(string); ok && s != "" {
				m.statusMessage = s
			}
		case watcher.EventPlasmaReleased:
			if p, ok := msg.Data.(watcher.PlasmaEvent); ok {
				m.statusMessage = fmt.Sprintf("Plasma released x%d.", p.Releases)
				cmds = append(cmds, clearStatusAfter(3*time.Second))
			}
		case watcher.EventSessionReset:
			m.editingToken = false
			m.confirmingMint = false
			m.loading = true
		case watcher.EventMetadataUpdated:
			m.dash = m.watcher.Dashboard()
		}

		m.lastUpdate = time.Now()

	case actionResultMsg:
		m.busy = false
		if msg.status != "" {
			m.statusMessage = msg.status
		}
		m.dash = m.watcher.Dashboard()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""
	}

	if m.loading {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editingToken {
		switch msg.String() {
		case "enter":
			m.editingToken = false
			m.watcher.SetManualTokenID(m.tokenInput.Value())
			m.statusMessage = "Checking token " + m.tokenInput.Value() + "..."
			return m, clearStatusAfter(2 * time.Second)
		case "esc":
			m.editingToken = false
			return m, nil
		}
		var cmd tea.Cmd
		m.tokenInput, cmd = m.tokenInput.Update(msg)
		return m, cmd
	}

	if m.confirmingMint {
		switch msg.String() {
		case "y", "Y", "enter":
			m.confirmingMint = false
			return m.startAction(fmt.Sprintf("Minting %d...", m.mintQty), func() string {
				return m.watcher.Mint(m.ctx, m.mintQty)
			})
		case "n", "N", "q", "esc":
			m.confirmingMint = false
		}
		return m, nil
	}

	if msg.String() == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		if msg.String() == "q" || msg.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}
	if m.showGraph {
		if msg.String() == "q" || msg.String() == "esc" || msg.String() == "g" {
			m.showGraph = false
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "c":
		return m.startAction("Connecting...", func() string { return m.watcher.Connect(m.ctx) })
	case "x":
		return m.startAction("", m.watcher.Disconnect)
	case "s":
		return m.startAction("Switching chain...", func() string { return m.watcher.SwitchChain(m.ctx) })
	case "t":
		return m.startAction("Ticking...", func() string { return m.watcher.ManualTick(m.ctx) })
	case "a":
		on := !m.dash.AutoTick
		m.dash.AutoTick = on
		return m, runAction(func() string { return m.watcher.SetAutoTick(on) })

	case "m":
		m.confirmingMint = true
	case "+", "=":
		m.mintQty = adjustQuantity(m.mintQty, 1, m.config.Mint.MaxQuantity)
	case "-", "_":
		m.mintQty = adjustQuantity(m.mintQty, -1, m.config.Mint.MaxQuantity)

	case "i":
		m.editingToken = true
		m.tokenInput.SetValue(m.dash.View.TokenInput)
		m.tokenInput.Focus()
		return m, nil

	case "y":
		m.statusMessage = m.copyToClipboard("Address", m.dash.View.Account)
		return m, clearStatusAfter(2 * time.Second)
	case "Y":
		m.statusMessage = m.copyToClipboard("Transaction hash", m.dash.LastTx)
		return m, clearStatusAfter(2 * time.Second)
	case "o":
		url := explorerTxURL(m.config.Chain.ExplorerURL, m.dash.LastTx)
		if url == "" {
			m.statusMessage = "No transaction or explorer URL to open"
		} else if err := openBrowser(url); err != nil {
			m.statusMessage = fmt.Sprintf("Failed to open browser: %v", err)
		} else {
			m.statusMessage = "Opened in browser"
		}
		return m, clearStatusAfter(2 * time.Second)

	case "g":
		m.showGraph = true
		m.history = m.watcher.History()
	case "P":
		m.privacyMode = !m.privacyMode
	case "r":
		m.loading = true
		m.watcher.RequestRefresh()
		m.statusMessage = "Refreshing data..."
		return m, clearStatusAfter(2 * time.Second)
	}
	return m, nil
}

// startAction marks the model busy and runs fn in a command. Only one wallet
// action runs at a time.
func (m model) startAction(pending string, fn func() string) (tea.Model, tea.Cmd) {
	if m.busy {
		m.statusMessage = "Another action is in progress."
		return m, nil
	}
	m.busy = true
	if pending != "" {
		m.statusMessage = pending
	}
	return m, runAction(fn)
}

func (m model) copyToClipboard(what, value string) string {
	if value == "" || value == "-" {
		return what + " not available"
	}
	if err := clipboard.WriteAll(value); err != nil {
		return "Failed to copy to clipboard"
	}
	return what + " copied to clipboard!"
}
