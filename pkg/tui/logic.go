package tui

import (
	"strings"
	"time"

	"energon/pkg/guard"
	"energon/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

// runAction calls fn off the UI goroutine and reports its status line.
func runAction(fn func() string) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{status: fn()}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

// adjustQuantity moves the mint quantity by delta within [1, limit].
func adjustQuantity(q, delta, limit int) int {
	return guard.ClampQuantity(q+delta, limit)
}

// plasmaBar renders value/limit as a fixed-width bar.
func plasmaBar(value, limit int64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if limit > 0 && value > 0 {
		filled = int(value * int64(width) / limit)
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// historySeries splits the watcher history into the two graph series.
func historySeries(points []watcher.HistoryPoint) (heights, plasma []float64) {
	for _, p := range points {
		heights = append(heights, p.Height)
		plasma = append(plasma, p.Plasma)
	}
	return heights, plasma
}

// staleSet indexes the view's stale field list.
func staleSet(fields []string) map[string]bool {
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}
