// Package dashboard is the live terminal view over the sample store. It only
// reads: latest samples and history come from the store, host status from
// the supervisor's health snapshot.
package dashboard

import (
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
)

// DefaultRefresh is used when no refresh interval is configured.
const DefaultRefresh = 2 * time.Second

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	reader  Reader
	health  HealthSource
	refresh time.Duration
	now     func() time.Time

	hosts      []string
	latest     map[string][]gpu.Sample
	status     map[string]collector.Health
	seriesHost string
	series     []gpu.Sample
	readErr    string

	selected    int
	viewMode    ViewMode
	timeRange   TimeRange
	sortOrder   SortOrder
	showHelp    bool
	width       int
	height      int
	lastRefresh time.Time
	quitting    bool
}

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// snapshotMsg carries the result of one refresh.
type snapshotMsg snapshot

// NewModel creates a dashboard reading from reader and health, refreshing
// every refresh.
func NewModel(reader Reader, health HealthSource, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := Model{
		reader:  reader,
		health:  health,
		refresh: refresh,
		now:     time.Now,
		hosts:   health.Hosts(),
		latest:  make(map[string][]gpu.Sample),
		status:  make(map[string]collector.Health),
	}
	m.sortHosts()
	return m
}

// Init triggers the first read and starts the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case snapshotMsg:
		m.apply(snapshot(msg))
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	if m.viewMode == ViewDetail {
		return m.renderDetailView()
	}
	return m.renderDashboard()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshCmd reads a snapshot off the UI goroutine. It captures what it needs
// so the model itself is never touched from the command.
func (m Model) refreshCmd() tea.Cmd {
	reader, health, r, now := m.reader, m.health, m.timeRange, m.now
	detailHost := ""
	if m.viewMode == ViewDetail {
		detailHost = m.SelectedHost()
	}
	return func() tea.Msg {
		return snapshotMsg(readSnapshot(reader, health, detailHost, r, now()))
	}
}

func (m *Model) apply(s snapshot) {
	m.lastRefresh = s.at
	m.hosts = s.hosts
	m.latest = s.latest
	m.status = s.health
	if s.seriesHost != "" {
		m.seriesHost = s.seriesHost
		m.series = s.series
	}
	m.readErr = ""
	if s.err != nil {
		m.readErr = errors.SummaryOf(s.err)
	}
	m.sortHosts()
}

// SelectedHost returns the name of the currently selected host.
func (m Model) SelectedHost() string {
	if m.selected >= 0 && m.selected < len(m.hosts) {
		return m.hosts[m.selected]
	}
	return ""
}

// HealthyCount returns how many hosts succeeded on their latest cycle.
func (m Model) HealthyCount() int {
	n := 0
	for _, host := range m.hosts {
		if m.status[host].Healthy() {
			n++
		}
	}
	return n
}

// sortHosts applies the sort order, keeping the selected host selected.
func (m *Model) sortHosts() {
	if len(m.hosts) == 0 {
		m.selected = 0
		return
	}

	selectedHost := m.SelectedHost()
	hosts := append([]string(nil), m.hosts...)

	sort.SliceStable(hosts, func(i, j int) bool {
		a, b := hosts[i], hosts[j]
		if m.sortOrder != SortByName {
			va, oka := m.peak(a)
			vb, okb := m.peak(b)
			if oka != okb {
				return oka
			}
			if va != vb {
				return va > vb
			}
		}
		return a < b
	})
	m.hosts = hosts

	m.selected = 0
	for i, h := range m.hosts {
		if h == selectedHost {
			m.selected = i
			break
		}
	}
}

// peak is the highest value of the sort metric across a host's GPUs.
func (m Model) peak(host string) (float64, bool) {
	samples := m.latest[host]
	if len(samples) == 0 {
		return 0, false
	}
	var best float64
	for i, s := range samples {
		var v float64
		switch m.sortOrder {
		case SortByUtilization:
			v = float64(s.UtilizationPct)
		case SortByMemory:
			v = s.MemoryPct()
		case SortByTemperature:
			v = float64(s.TemperatureC)
		}
		if i == 0 || v > best {
			best = v
		}
	}
	return best, true
}
