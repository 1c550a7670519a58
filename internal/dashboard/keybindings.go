package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// SortOrder is the host ordering on the list view.
type SortOrder int

const (
	SortByName SortOrder = iota
	SortByUtilization
	SortByMemory
	SortByTemperature
	sortOrderCount
)

func (s SortOrder) String() string {
	switch s {
	case SortByUtilization:
		return "util"
	case SortByMemory:
		return "memory"
	case SortByTemperature:
		return "temp"
	default:
		return "name"
	}
}

// Next wraps around after SortByTemperature.
func (s SortOrder) Next() SortOrder {
	return (s + 1) % sortOrderCount
}

// ViewMode selects between the host list and a single host's detail.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
)

type keyMap struct {
	Quit   key.Binding
	Reload key.Binding
	Sort   key.Binding
	Range  key.Binding
	Up     key.Binding
	Down   key.Binding
	First  key.Binding
	Last   key.Binding
	Open   key.Binding
	Back   key.Binding
	Help   key.Binding
}

// keys also drives the help overlay, in this order.
var keys = keyMap{
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q / Ctrl+C", "Quit")),
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "Refresh now")),
	Sort:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "Cycle sort order")),
	Range:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "Cycle history range (1h, 6h, 24h, all)")),
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up / k", "Select previous host")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down / j", "Select next host")),
	First:  key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("Home / g", "Select first host")),
	Last:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("End / G", "Select last host")),
	Open:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("Enter", "Show history and processes")),
	Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("Esc", "Back / close")),
	Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "Toggle this help")),
}

func (k keyMap) all() []key.Binding {
	return []key.Binding{k.Quit, k.Reload, k.Sort, k.Range, k.Up, k.Down, k.First, k.Last, k.Open, k.Back, k.Help}
}

// HandleKeyMsg applies a key press to the model. The bool reports whether
// the key is bound.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	if key.Matches(msg, keys.Help) {
		m.showHelp = !m.showHelp
		return true, nil
	}
	// Esc closes the overlay before it leaves the detail view.
	if m.showHelp && key.Matches(msg, keys.Back) {
		m.showHelp = false
		return true, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return true, tea.Quit

	case key.Matches(msg, keys.Reload):
		return true, m.refreshCmd()

	case key.Matches(msg, keys.Sort):
		m.sortOrder = m.sortOrder.Next()
		m.sortHosts()
		return true, nil

	case key.Matches(msg, keys.Range):
		m.timeRange = m.timeRange.Next()
		return true, m.detailRefresh()

	case key.Matches(msg, keys.Up):
		return true, m.selectHost(m.selected - 1)

	case key.Matches(msg, keys.Down):
		return true, m.selectHost(m.selected + 1)

	case key.Matches(msg, keys.First):
		return true, m.selectHost(0)

	case key.Matches(msg, keys.Last):
		return true, m.selectHost(len(m.hosts) - 1)

	case key.Matches(msg, keys.Open):
		if m.viewMode == ViewList && len(m.hosts) > 0 {
			m.viewMode = ViewDetail
			return true, m.refreshCmd()
		}
		return true, nil

	case key.Matches(msg, keys.Back):
		m.viewMode = ViewList
		return true, nil
	}
	return false, nil
}

// selectHost clamps i to the host list and reloads history when the
// detail view is showing.
func (m *Model) selectHost(i int) tea.Cmd {
	i = min(i, len(m.hosts)-1)
	i = max(i, 0)
	if i == m.selected {
		return nil
	}
	m.selected = i
	return m.detailRefresh()
}

func (m *Model) detailRefresh() tea.Cmd {
	if m.viewMode != ViewDetail {
		return nil
	}
	return m.refreshCmd()
}
