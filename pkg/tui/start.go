package tui

import (
	"context"
	"fmt"

	"energon/pkg/config"
	"energon/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

// Start runs the dashboard until the user quits.
func Start(ctx context.Context, w *watcher.Watcher, cfg config.Config, version string) error {
	Version = version
	p := tea.NewProgram(
		initialModel(ctx, w, cfg),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
