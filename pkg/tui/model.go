package tui

import (
	"context"
	"time"

	"energon/pkg/config"
	"energon/pkg/watcher"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

// actionResultMsg carries the status line of a finished wallet action.
type actionResultMsg struct {
	status string
}

// --- Model ---

type model struct {
	ctx     context.Context
	watcher *watcher.Watcher
	sub     watcher.Subscriber
	config  config.Config

	dash       watcher.Dashboard
	history    []watcher.HistoryPoint
	width      int
	height     int
	loading    bool
	busy       bool
	lastUpdate time.Time
	spinner    spinner.Model

	statusMessage string
	showHelp      bool
	showGraph     bool
	privacyMode   bool

	editingToken   bool
	tokenInput     textinput.Model
	confirmingMint bool
	mintQty        int
}

func initialModel(ctx context.Context, w *watcher.Watcher, cfg config.Config) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "token id (digits)"
	ti.CharLimit = 78
	ti.Width = 30

	return model{
		ctx:        ctx,
		watcher:    w,
		sub:        w.Subscribe(),
		config:     cfg,
		dash:       w.Dashboard(),
		loading:    true,
		spinner:    s,
		tokenInput: ti,
		mintQty:    1,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForWatcher(m.sub),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}
