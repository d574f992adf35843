package tui

import (
	"context"
	"strings"
	"testing"

	"energon/pkg/config"
	"energon/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel() model {
	cfg := config.Default()
	cfg.Chain.Name = "Flare"
	return initialModel(context.Background(), watcher.NewWatcher(cfg, watcher.Options{}), cfg)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPlasmaBar(t *testing.T) {
	tests := []struct {
		value, limit int64
		filled       int
	}{
		{0, 100, 0},
		{50, 100, 5},
		{99, 100, 9},
		{100, 100, 10},
		{5, 0, 0},
	}
	for _, tt := range tests {
		bar := plasmaBar(tt.value, tt.limit, 10)
		assert.Equal(t, 10, len([]rune(bar)))
		assert.Equal(t, tt.filled, strings.Count(bar, "█"), "value %d", tt.value)
	}
	assert.Empty(t, plasmaBar(1, 10, 0))
}

func TestAdjustQuantity(t *testing.T) {
	assert.Equal(t, 2, adjustQuantity(1, 1, 25))
	assert.Equal(t, 1, adjustQuantity(1, -1, 25))
	assert.Equal(t, 25, adjustQuantity(25, 1, 25))
}

func TestHistorySeries(t *testing.T) {
	h, p := historySeries([]watcher.HistoryPoint{{Height: 1, Plasma: 10}, {Height: 2, Plasma: 20}})
	assert.Equal(t, []float64{1, 2}, h)
	assert.Equal(t, []float64{10, 20}, p)
}

func TestExplorerTxURL(t *testing.T) {
	assert.Equal(t, "https://scan.example/tx/0xabc", explorerTxURL("https://scan.example/", "0xabc"))
	assert.Empty(t, explorerTxURL("", "0xabc"))
	assert.Empty(t, explorerTxURL("https://scan.example", ""))
}

func TestUpdate_MintQuantityKeys(t *testing.T) {
	m := newModel()
	for i := 0; i < 30; i++ {
		next, _ := m.Update(key("+"))
		m = next.(model)
	}
	assert.Equal(t, 25, m.mintQty)

	next, _ := m.Update(key("-"))
	m = next.(model)
	assert.Equal(t, 24, m.mintQty)
}

func TestUpdate_TokenEntry(t *testing.T) {
	m := newModel()
	next, _ := m.Update(key("i"))
	m = next.(model)
	require.True(t, m.editingToken)

	next, _ = m.Update(key("12"))
	m = next.(model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)

	assert.False(t, m.editingToken)
	assert.Equal(t, "12", m.watcher.Dashboard().View.TokenInput)
}

func TestUpdate_MintConfirmCancel(t *testing.T) {
	m := newModel()
	next, _ := m.Update(key("m"))
	m = next.(model)
	require.True(t, m.confirmingMint)
	assert.Contains(t, m.View(), "Confirm Mint")

	next, cmd := m.Update(key("n"))
	m = next.(model)
	assert.False(t, m.confirmingMint)
	assert.Nil(t, cmd)
}

func TestUpdate_BusyBlocksSecondAction(t *testing.T) {
	m := newModel()
	next, cmd := m.Update(key("t"))
	m = next.(model)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	next, cmd = m.Update(key("c"))
	m = next.(model)
	assert.Nil(t, cmd)
	assert.Equal(t, "Another action is in progress.", m.statusMessage)

	next, _ = m.Update(actionResultMsg{status: "done"})
	m = next.(model)
	assert.False(t, m.busy)
	assert.Equal(t, "done", m.statusMessage)
}

func TestUpdate_SnapshotEvent(t *testing.T) {
	m := newModel()
	d := m.watcher.Dashboard()
	d.Status = "fresh"
	next, _ := m.Update(watcher.Event{Type: watcher.EventSnapshotUpdated, Data: d})
	m = next.(model)
	assert.False(t, m.loading)
	assert.Equal(t, "fresh", m.dash.Status)
}

func TestView_Dashboard(t *testing.T) {
	m := newModel()
	m.loading = false
	m.width, m.height = 100, 40
	out := m.View()
	assert.Contains(t, out, "Energon - Flare")
	assert.Contains(t, out, "DISCONNECTED")
	assert.Contains(t, out, "Not connected")
}
