package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"energon/pkg/models"
	"energon/pkg/state"
	"energon/pkg/utils"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}
	if m.showGraph {
		return m.viewGraph()
	}
	if m.confirmingMint {
		return lipgloss.Place(
			m.width,
			m.height,
			lipgloss.Center,
			lipgloss.Center,
			boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
				titleStyle.Render("Confirm Mint"),
				"\n",
				fmt.Sprintf("Mint %d at %s each?", m.mintQty, m.dash.View.MintPrice),
				"\n",
				subtleStyle.Render("(y) Yes • (n) No"),
			)),
		)
	}
	if m.editingToken {
		return lipgloss.Place(
			m.width,
			m.height,
			lipgloss.Center,
			lipgloss.Center,
			boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
				titleStyle.Render("Token ID"),
				"\n",
				m.tokenInput.View(),
				"\n",
				subtleStyle.Render("Enter to check • Esc to cancel"),
			)),
		)
	}

	v := m.dash.View
	stale := staleSet(v.Stale)
	mark := func(field, value string) string {
		if stale[field] {
			return value + subtleStyle.Render(" (stale)")
		}
		return value
	}

	targetWidth := m.width - 4
	if targetWidth < 0 {
		targetWidth = 0
	}

	header := titleStyle.Render(fmt.Sprintf("Energon - %s", m.config.Chain.Name))
	modeLine := lipgloss.JoinHorizontal(lipgloss.Top,
		modeStyle(v.Mode).Render(string(v.Mode)),
		subtleStyle.Render(" • "),
		m.renderBinding(v),
	)

	account := subtleStyle.Render("Not connected")
	if v.Connected {
		account = m.maskAddress(v.Account)
		if !v.ChainOK {
			account += " " + errStyle.Render("(wrong network)")
		}
	}

	rows := []string{
		row("Account", account),
		row("Energon Height", mark(models.FieldHeight, v.EnergonHeight)),
		row("Next Block In", v.SecondsUntilNext),
		row("Total Minted", mark(models.FieldTotalMinted, v.TotalMinted)),
		row("Mint Price", mark(models.FieldMintPrice, v.MintPrice)),
		row("CUBE Balance", mark(models.FieldCubeBalance, m.maskString(v.CubeBalance))),
		row("EON Balance", mark(models.FieldEonBalance, m.maskString(v.EonBalance))),
		row("Token", m.renderToken(v)),
	}
	if v.Bound {
		rows = append(rows, row("Rarity", m.renderRarity(v)))
	}
	if m.dash.PlasmaOn {
		limit := m.config.Plasma.Max
		rows = append(rows, row("Plasma", fmt.Sprintf("%s %d/%d", plasmaBar(m.dash.Plasma, limit, 20), m.dash.Plasma, limit)))
	}
	rows = append(rows, row("Auto-Tick", m.renderAutoTick()))
	if m.dash.LastTx != "" {
		rows = append(rows, row("Last Tx", utils.TruncateString(m.dash.LastTx, 24)))
	}

	var body string
	if m.loading && m.dash.View.EnergonHeight == utils.Placeholder {
		body = fmt.Sprintf("%s Loading chain state...", m.spinner.View())
	} else {
		body = strings.Join(rows, "\n")
	}
	content := boxStyle.Width(targetWidth).Align(lipgloss.Center).Render(
		lipgloss.JoinVertical(lipgloss.Center, header, modeLine, "\n", body),
	)

	// Footer
	line1 := "c:connect • x:disconnect • s:switch • t:tick • a:auto • m:mint • +/-:qty"
	line2 := fmt.Sprintf("i:token id • y:copy • Y:copy tx • o:open tx • g:graph • r:refresh • ?:help • q:quit • v%s", Version)

	var footer string
	if m.width > 0 {
		l1 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line1)
		l2 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line2)
		footer = lipgloss.JoinVertical(lipgloss.Center, l1, l2)
	} else {
		footer = subtleStyle.Render(line1 + "\n" + line2)
	}

	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}

	lastUpdStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdStr = m.lastUpdate.Format(time.TimeOnly)
	}
	busy := ""
	if m.busy {
		busy = m.spinner.View() + " "
	}
	topBar := subtleStyle.Render(fmt.Sprintf(" %sMint qty: %d • Updated %s", busy, m.mintQty, lastUpdStr))

	h := m.height - 1
	if h < 0 {
		h = 0
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		topBar,
		lipgloss.Place(
			m.width,
			h,
			lipgloss.Center,
			lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
		),
	)
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(fmt.Sprintf("%-15s", label)), value)
}

func (m model) renderBinding(v state.View) string {
	switch v.Binding.Status {
	case state.BindingOwned:
		return infoStyle.Render("BOUND")
	case state.BindingNotOwned:
		return errStyle.Render("NOT OWNED")
	case state.BindingNotMinted:
		return warnStyle.Render("NOT MINTED")
	case state.BindingChecking:
		return subtleStyle.Render("CHECKING")
	}
	return subtleStyle.Render("IDLE")
}

func (m model) renderToken(v state.View) string {
	token := v.TokenID
	if v.TokenInput != "" && v.TokenInput != v.TokenID {
		token = fmt.Sprintf("%s (input %q)", token, v.TokenInput)
	}
	if v.Binding.Owner != nil && v.Binding.Status == state.BindingNotOwned {
		token += subtleStyle.Render(" owner " + m.maskAddress(v.Binding.Owner.Hex()))
	}
	return token
}

func (m model) renderRarity(v state.View) string {
	var parts []string
	if v.Rarity != "" {
		parts = append(parts, v.Rarity)
	}
	if v.Genesis {
		parts = append(parts, genesisStyle.Render("Genesis"))
	}
	if v.MetadataError != "" {
		parts = append(parts, errStyle.Render(v.MetadataError))
	}
	if len(parts) == 0 {
		return utils.Placeholder
	}
	return strings.Join(parts, " • ")
}

func (m model) renderAutoTick() string {
	g := m.dash.Guard
	status := subtleStyle.Render("off")
	if m.dash.AutoTick {
		status = infoStyle.Render("on")
	}
	switch {
	case g.InFlight:
		status += warnStyle.Render(" • in flight")
	case g.BackoffUntil > 0 && time.Now().Before(time.UnixMilli(g.BackoffUntil)):
		status += errStyle.Render(fmt.Sprintf(" • backoff %ds", g.BackoffSeconds))
	case g.CooldownUntil > 0 && time.Now().Before(time.UnixMilli(g.CooldownUntil)):
		status += subtleStyle.Render(" • cooling down")
	}
	if g.LastTickedHeight != "" {
		status += subtleStyle.Render(" • last " + g.LastTickedHeight)
	}
	return status
}

func (m model) viewHelp() string {
	shortcuts := []string{
		"c: Connect Wallet",
		"x: Disconnect",
		"s: Switch / Add Chain",
		"t: Manual Tick",
		"a: Toggle Auto-Tick",
		"m: Mint",
		"+/-: Mint Quantity",
		"i: Enter Token ID",
		"y: Copy Address",
		"Y: Copy Last Tx Hash",
		"o: Open Last Tx in Explorer",
		"g: History Graph",
		"P: Toggle Privacy",
		"r: Refresh Now",
		"q/ctrl+c: Quit",
		"?: Toggle Help",
	}

	header := titleStyle.Render("Help")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}

func (m model) viewGraph() string {
	header := titleStyle.Render("Energon Height & Plasma")

	targetBoxWidth := m.width - 4
	if targetBoxWidth < 0 {
		targetBoxWidth = 0
	}

	heights, plasma := historySeries(m.history)
	var graph string
	if len(heights) > 1 {
		graphWidth := targetBoxWidth - 14 // 4 for box borders/padding, ~10 for axis labels
		if graphWidth < 10 {
			graphWidth = 10
		}
		graphHeight := (m.height - 14) / 2
		if graphHeight < 1 {
			graphHeight = 1
		}
		graph = asciigraph.Plot(heights,
			asciigraph.Height(graphHeight),
			asciigraph.Width(graphWidth),
			asciigraph.Caption("energonHeight"),
		)
		if m.dash.PlasmaOn {
			graph += "\n\n" + asciigraph.Plot(plasma,
				asciigraph.Height(graphHeight),
				asciigraph.Width(graphWidth),
				asciigraph.Caption("plasma"),
			)
		}
	} else {
		graph = "Not enough data to draw graph."
	}

	content := boxStyle.Width(targetBoxWidth).Align(lipgloss.Center).Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", graph))
	footer := subtleStyle.Render("g/q/esc: back")

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}
