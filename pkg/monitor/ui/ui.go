package ui

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
	"github.com/xeonx/timeago"
	"golang.org/x/exp/maps"

	"github.com/helvethink/release-orchestrator/pkg/monitor"
	"github.com/helvethink/release-orchestrator/pkg/monitor/client"
)

// tab represents the type for tab identifiers.
type tab string

const (
	tabTelemetry tab = "telemetry" // Tab identifier for telemetry view
	tabConfig    tab = "config"    // Tab identifier for configuration view

	telemetryPollInterval = time.Second // How often the telemetry endpoint gets polled
)

var tabs = [...]tab{
	tabTelemetry,
	tabConfig,
}

// Styling variables for UI elements
var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}

	dataStyle = lipgloss.NewStyle().
			MarginLeft(1).
			MarginRight(5).
			Padding(0, 1).
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#a9a9a9"))

	// Tab styling
	activeTabBorder = lipgloss.Border{
		Top: "─", Bottom: " ", Left: "│", Right: "│",
		TopLeft: "╭", TopRight: "╮", BottomLeft: "┘", BottomRight: "└",
	}

	tabBorder = lipgloss.Border{
		Top: "─", Bottom: "─", Left: "│", Right: "│",
		TopLeft: "╭", TopRight: "╮", BottomLeft: "┴", BottomRight: "┴",
	}

	inactiveTab = lipgloss.NewStyle().
			Border(tabBorder, true).
			BorderForeground(highlight).
			Padding(0, 1)

	activeTab = inactiveTab.Copy().Border(activeTabBorder, true)

	tabGap = inactiveTab.Copy().
		BorderTop(false).
		BorderLeft(false).
		BorderRight(false)

	// List styling
	entityStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(subtle)

	// Status Bar styling
	statusStyle = lipgloss.NewStyle().
			Inherit(statusBarStyle).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#003d80")).
			Padding(0, 1).
			MarginRight(1)

	statusNugget = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			Background(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#353533"})

	statusText = lipgloss.NewStyle().Inherit(statusBarStyle)

	versionStyle = statusNugget.Copy().
			Background(lipgloss.Color("#0062cc"))

	// Page styling
	docStyle = lipgloss.NewStyle()
)

// model represents the application model for the UI.
type model struct {
	version   string
	client    *client.Client
	vp        viewport.Model
	progress  *progress.Model
	telemetry *monitor.Telemetry
	tabID     int
}

// renderConfigViewport renders the configuration viewport content.
func (m *model) renderConfigViewport() string {
	config, err := m.client.GetConfig(context.TODO())
	if err != nil {
		log.WithError(err).Fatal()
	}

	return config
}

// renderTelemetryViewport renders the telemetry viewport content.
func (m *model) renderTelemetryViewport() string {
	if m.telemetry == nil {
		return "\nloading data.."
	}

	registryAPIUsage := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Registry API usage      ",
		m.progress.ViewAs(m.telemetry.RegistryAPIUsage),
		"\n",
	)

	registryAPIRequestsCount := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Registry API requests  ",
		dataStyle.SetString(strconv.FormatUint(m.telemetry.RegistryAPIRequestsCount, 10)).String(),
		"\n",
	)

	tasksBufferUsage := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Tasks buffer usage      ",
		m.progress.ViewAs(m.telemetry.TasksBufferUsage),
		"\n",
	)

	tasksExecuted := lipgloss.JoinHorizontal(
		lipgloss.Top,
		" Tasks executed         ",
		dataStyle.SetString(strconv.FormatUint(m.telemetry.TasksExecutedCount, 10)).String(),
		"\n",
	)

	return strings.Join([]string{
		"",
		registryAPIUsage,
		registryAPIRequestsCount,
		tasksBufferUsage,
		tasksExecuted,
		renderEntity("Runs", m.telemetry.Runs),
		renderEntity("Targets", m.telemetry.Targets),
	}, "\n")
}

// renderEntity renders an entity with its details.
func renderEntity(name string, e monitor.Entity) string {
	rows := []string{
		"Total      " + dataStyle.SetString(strconv.FormatInt(e.Count, 10)).String() + "\n",
	}

	for _, state := range sortedStates(e.ByState) {
		rows = append(rows, fmt.Sprintf("%-10s ", state)+dataStyle.SetString(strconv.FormatInt(e.ByState[state], 10)).String()+"\n")
	}

	rows = append(rows,
		"Last Sync  "+dataStyle.SetString(prettyTimeago(e.LastSync)).String()+"\n",
		"Next Sync  "+dataStyle.SetString(prettyTimeago(e.NextSync)).String()+"\n",
	)

	return entityStyle.Render(lipgloss.JoinHorizontal(
		lipgloss.Top,
		" "+name+strings.Repeat(" ", 24-len(name)),
		lipgloss.JoinVertical(
			lipgloss.Left,
			rows...,
		),
		"\n",
	))
}

// sortedStates returns the state names of a breakdown in a stable order.
func sortedStates(byState map[string]int64) []string {
	states := maps.Keys(byState)
	sort.Strings(states)

	return states
}

// prettyTimeago formats a time into a human-readable string.
func prettyTimeago(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}

	return timeago.English.Format(t)
}

// newModel initializes a new model instance.
func newModel(version string, endpoint *url.URL) (m *model) {
	p := progress.New(progress.WithScaledGradient("#80c904", "#ff9d5c"))

	m = &model{
		version:  version,
		vp:       viewport.Model{},
		progress: &p,
		client:   client.NewClient(context.TODO(), endpoint),
	}

	return
}

// telemetryMsg carries a freshly fetched telemetry snapshot.
type telemetryMsg *monitor.Telemetry

// Init initializes the model and returns a command to fetch telemetry data.
func (m *model) Init() tea.Cmd {
	return m.fetchTelemetry()
}

// Update handles messages and updates the model accordingly.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		m.progress.Width = msg.Width - 27
		m.setPaneContent()

		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyLeft:
			if m.tabID > 0 {
				m.tabID--
				m.setPaneContent()
			}
			return m, nil
		case tea.KeyRight:
			if m.tabID < len(tabs)-1 {
				m.tabID++
				m.setPaneContent()
			}
			return m, nil
		case tea.KeyUp, tea.KeyDown, tea.KeyPgDown, tea.KeyPgUp:
			vp, cmd := m.vp.Update(msg)
			m.vp = vp
			return m, cmd
		}
	case telemetryMsg:
		m.telemetry = msg
		m.setPaneContent()
		return m, m.scheduleTelemetryFetch()
	}

	return m, nil
}

// View renders the UI view.
func (m *model) View() string {
	doc := strings.Builder{}

	// Render tabs
	{
		renderedTabs := []string{}
		for tabID, t := range tabs {
			if m.tabID == tabID {
				renderedTabs = append(renderedTabs, activeTab.Render(string(t)))
				continue
			}
			renderedTabs = append(renderedTabs, inactiveTab.Render(string(t)))
		}

		row := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
		gap := tabGap.Render(strings.Repeat(" ", max(0, m.vp.Width-lipgloss.Width(row))))
		row = lipgloss.JoinHorizontal(lipgloss.Bottom, row, gap)
		doc.WriteString(row + "\n")
	}

	// Render pane
	{
		doc.WriteString(m.vp.View() + "\n")
	}

	// Render status bar
	{
		bar := lipgloss.JoinHorizontal(lipgloss.Top,
			statusStyle.Render("github.com/helvethink/release-orchestrator"),
			statusText.Copy().
				Width(max(0, m.vp.Width-(57+len(m.version)))).
				Render(""),
			versionStyle.Render(m.version),
		)

		doc.WriteString(statusBarStyle.Width(m.vp.Width).Render(bar))
	}

	return docStyle.Render(doc.String())
}

// fetchTelemetry fetches a telemetry snapshot from the monitoring endpoint.
func (m *model) fetchTelemetry() tea.Cmd {
	return func() tea.Msg {
		telemetry, err := m.client.GetTelemetry(context.TODO())
		if err != nil {
			log.WithError(err).Fatal()
		}

		return telemetryMsg(telemetry)
	}
}

// scheduleTelemetryFetch fetches the next snapshot after the poll interval.
func (m *model) scheduleTelemetryFetch() tea.Cmd {
	return tea.Tick(telemetryPollInterval, func(time.Time) tea.Msg {
		return m.fetchTelemetry()()
	})
}

// Start initializes and starts the UI program.
func Start(version string, listenerAddress *url.URL) {
	if _, err := tea.NewProgram(
		newModel(version, listenerAddress),
		tea.WithAltScreen(),
	).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}

// setPaneContent sets the content of the viewport pane based on the current tab.
func (m *model) setPaneContent() {
	switch tabs[m.tabID] {
	case tabTelemetry:
		m.vp.SetContent(m.renderTelemetryViewport())
	case tabConfig:
		m.vp.SetContent(m.renderConfigViewport())
	}
}
