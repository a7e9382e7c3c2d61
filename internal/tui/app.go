package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/intellixa/console/internal/export"
	"github.com/intellixa/console/internal/history"
	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/runner"
	"github.com/intellixa/console/internal/viewer"
)

type View int

const (
	ViewHome View = iota
	ViewHistory
	ViewDraft
)

type BackendStatus int

const (
	BackendChecking BackendStatus = iota
	BackendConnected
	BackendDisconnected
)

// HealthChecker reports whether the backend answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Deps struct {
	Controller *runner.Controller
	History    *history.Store
	Loader     *viewer.Loader
	Health     HealthChecker
	Feed       *Feed
	ExportDir  string
}

type App struct {
	ctx        context.Context
	controller *runner.Controller
	history    *history.Store
	loader     *viewer.Loader
	health     HealthChecker
	feed       *Feed
	exportDir  string

	view    View
	backend BackendStatus

	input        textinput.Model
	spinner      spinner.Model
	running      bool
	currentAgent models.Stage
	result       *models.RunResult
	banner       string

	sessions     []models.HistoryEntry
	selectedIdx  int
	confirmClear bool
	loading      bool

	viewing  *models.ViewedSession
	draft    viewport.Model
	exported string

	width  int
	height int
	err    error
}

func NewApp(ctx context.Context, deps Deps) *App {
	input := textinput.New()
	input.Placeholder = "Describe your goal, e.g. Write a market report on EV batteries"
	input.CharLimit = 2000
	input.Width = 72
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	return &App{
		ctx:        ctx,
		controller: deps.Controller,
		history:    deps.History,
		loader:     deps.Loader,
		health:     deps.Health,
		feed:       deps.Feed,
		exportDir:  deps.ExportDir,
		view:       ViewHome,
		backend:    BackendChecking,
		input:      input,
		spinner:    sp,
		draft:      viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.spinner.Tick, a.checkHealth, a.feed.next)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.draft.Width = msg.Width
		a.draft.Height = max(msg.Height-8, 5)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case healthMsg:
		if msg.err != nil {
			a.backend = BackendDisconnected
		} else {
			a.backend = BackendConnected
		}
		return a, nil

	case stageMsg:
		a.currentAgent = msg.stage
		return a, a.feed.next

	case runDoneMsg:
		state := a.controller.State()
		a.running = state.Running
		a.result = state.Result
		a.banner = state.Banner
		a.err = msg.err
		if a.result != nil && a.result.IsMock() {
			a.backend = BackendDisconnected
		}
		return a, a.loadHistory

	case historyLoadedMsg:
		a.sessions = msg.entries
		if a.selectedIdx >= len(a.sessions) {
			a.selectedIdx = max(len(a.sessions)-1, 0)
		}
		return a, nil

	case sessionLoadedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.viewing = msg.viewed
		a.exported = ""
		a.draft.SetContent(a.renderDraft())
		a.draft.GotoTop()
		a.view = ViewDraft
		return a, nil

	case exportedMsg:
		a.err = msg.err
		a.exported = msg.path
		return a, nil
	}

	if a.view == ViewHome {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	switch a.view {
	case ViewHome:
		return a.handleHomeKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	case ViewDraft:
		return a.handleDraftKey(msg)
	}
	return a, nil
}

func (a *App) handleHomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		goal := strings.TrimSpace(a.input.Value())
		if goal == "" || a.running {
			return a, nil
		}
		a.running = true
		a.result = nil
		a.banner = ""
		a.err = nil
		a.currentAgent = models.StageCEO
		return a, a.startRun(goal)

	case "tab":
		a.view = ViewHistory
		a.input.Blur()
		a.err = nil
		return a, a.loadHistory

	case "ctrl+r":
		a.backend = BackendChecking
		return a, a.checkHealth
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.confirmClear {
		a.confirmClear = false
		if msg.String() == "y" {
			a.selectedIdx = 0
			return a, a.clearHistory
		}
		return a, nil
	}

	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "esc", "tab":
		a.view = ViewHome
		a.err = nil
		a.input.Focus()
		return a, textinput.Blink

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.sessions)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) && !a.loading {
			a.loading = true
			a.err = nil
			return a, a.loadSession(a.sessions[a.selectedIdx])
		}

	case "d":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) {
			return a, a.removeSession(a.sessions[a.selectedIdx].SessionID)
		}

	case "C":
		if len(a.sessions) > 0 {
			a.confirmClear = true
		}

	case "r":
		return a, a.loadHistory
	}

	return a, nil
}

func (a *App) handleDraftKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "esc":
		a.view = ViewHistory
		a.viewing = nil
		a.exported = ""
		return a, nil

	case "e":
		if a.viewing != nil {
			return a, a.exportDraft(a.viewing)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.draft, cmd = a.draft.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewHome:
		return a.viewHome()
	case ViewHistory:
		return a.viewHistory()
	case ViewDraft:
		return a.viewDraft()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	completeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mockStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("141"))
)

func (a *App) viewHome() string {
	s := titleStyle.Render("Intellixa") + "  " + a.formatBackend() + "\n\n"

	if a.err != nil {
		s += failedStyle.Render("Error: "+a.err.Error()) + "\n\n"
	}
	if a.banner != "" {
		s += mockStyle.Render("ℹ "+a.banner) + "\n\n"
	}

	s += a.input.View() + "\n\n"

	s += "Agent Workflow\n"
	s += "──────────────\n"
	s += a.renderPipeline() + "\n"

	if a.result != nil {
		s += "\n" + a.renderResult(a.result)
		s += "\n" + a.renderStats(a.result.Metrics)
	}

	help := "[enter] run  [tab] history  [ctrl+r] check backend  [ctrl+c] quit"
	if a.running {
		help = "running...  [tab] history  [ctrl+c] quit"
	}
	s += "\n" + helpStyle.Render(help)

	return s
}

func (a *App) formatBackend() string {
	switch a.backend {
	case BackendConnected:
		return completeStyle.Render("● connected")
	case BackendDisconnected:
		return failedStyle.Render("● disconnected (using mock data)")
	default:
		return runningStyle.Render("● checking...")
	}
}

func (a *App) renderPipeline() string {
	activeIdx := -1
	for i, stage := range models.Pipeline {
		if stage == a.currentAgent {
			activeIdx = i
		}
	}

	var b strings.Builder
	for i, stage := range models.Pipeline {
		var line string
		switch {
		case a.running && i == activeIdx:
			line = a.spinner.View() + " " + selectedStyle.Render(string(stage))
		case a.running && i < activeIdx:
			line = completeStyle.Render("✓") + " " + string(stage)
		case !a.running && a.result != nil:
			line = completeStyle.Render("✓") + " " + string(stage)
		default:
			line = dimStyle.Render("○ " + string(stage))
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func (a *App) renderResult(r *models.RunResult) string {
	s := "Execution Results  " + formatStatus(r.Status) + "\n"
	s += "─────────────────\n"
	s += labelStyle.Render("Goal: ") + r.Goal + "\n"
	s += labelStyle.Render("Agents: ") + strings.Join(r.AgentsExecuted, " → ") + "\n"
	s += labelStyle.Render("Completed: ") + r.Timestamp.Local().Format("Jan 2 15:04:05") + "\n"
	if r.Note != "" {
		s += mockStyle.Render("ℹ "+r.Note) + "\n"
	}
	if len(r.Data) > 0 {
		s += labelStyle.Render("Output:") + "\n" + dimStyle.Render(previewJSON(r.Data, 12)) + "\n"
	}
	return s
}

func (a *App) renderStats(m models.SessionMetrics) string {
	s := "Session Statistics\n"
	s += "──────────────────\n"
	s += fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		labelStyle.Render("Total Tasks"), statStyle.Render(fmt.Sprint(m.TotalTasks)),
		labelStyle.Render("Completed"), statStyle.Render(fmt.Sprint(m.CompletedTasks)),
		labelStyle.Render("API Calls"), statStyle.Render(fmt.Sprint(m.APICalls)),
		labelStyle.Render("Cost Savings"), statStyle.Render(m.EstimatedSavings))
	return s
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return completeStyle.Render("✓ " + string(status))
	case models.RunStatusMock:
		return mockStyle.Render("⚠ " + string(status))
	default:
		return string(status)
	}
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("Session History") + "\n\n"

	if a.err != nil {
		s += failedStyle.Render("Error: "+a.err.Error()) + "\n\n"
	}

	if len(a.sessions) == 0 {
		s += "No history yet. Completed sessions will appear here.\n"
	} else {
		for i, e := range a.sessions {
			line := fmt.Sprintf("%-5s %s", formatAge(e.Timestamp), truncate(e.Goal, 60))
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	if a.loading {
		s += "\n" + a.spinner.View() + " loading session..."
	}

	help := "[enter] view  [d] delete  [C] clear all  [r] reload  [esc] back  [q] quit"
	if a.confirmClear {
		help = failedStyle.Render("Clear all history? [y/N]")
	}
	s += "\n" + helpStyle.Render(help)

	return s
}

func (a *App) viewDraft() string {
	if a.viewing == nil {
		return "No session selected"
	}

	s := titleStyle.Render("Final Draft") + "  " + dimStyle.Render(a.viewing.Entry.SessionID) + "\n"
	s += labelStyle.Render("Generated on ") + a.viewing.Entry.Timestamp.Local().Format("Jan 2 2006 15:04") + "\n\n"
	s += a.draft.View() + "\n"

	if a.err != nil {
		s += failedStyle.Render("Error: "+a.err.Error()) + "\n"
	}
	if a.exported != "" {
		s += completeStyle.Render("Exported to "+a.exported) + "\n"
	}

	s += helpStyle.Render("[↑/↓] scroll  [e] export  [esc] back  [q] quit")
	return s
}

func (a *App) renderDraft() string {
	v := a.viewing
	goal := v.Entry.Goal
	if goal == "" {
		goal = "No goal specified"
	}

	s := labelStyle.Render("Goal") + "\n" + goal + "\n\n"
	s += labelStyle.Render("Final Document") + "\n" + v.FinalDocument + "\n\n"
	s += fmt.Sprintf("%s %d   %s %d   %s %s\n",
		labelStyle.Render("API Calls"), v.Result.Metrics.APICalls,
		labelStyle.Render("Agents Executed"), len(v.Result.AgentsExecuted),
		labelStyle.Render("Status"), v.Result.Status)
	return s
}

// Messages

type healthMsg struct {
	err error
}

type runDoneMsg struct {
	result *models.RunResult
	err    error
}

type historyLoadedMsg struct {
	entries []models.HistoryEntry
}

type sessionLoadedMsg struct {
	viewed *models.ViewedSession
	err    error
}

type exportedMsg struct {
	path string
	err  error
}

// Commands

func (a *App) checkHealth() tea.Msg {
	return healthMsg{err: a.health.Health(a.ctx)}
}

func (a *App) startRun(goal string) tea.Cmd {
	return func() tea.Msg {
		result, err := a.controller.StartRun(a.ctx, goal)
		return runDoneMsg{result: result, err: err}
	}
}

func (a *App) loadHistory() tea.Msg {
	return historyLoadedMsg{entries: a.history.List()}
}

func (a *App) removeSession(sessionID string) tea.Cmd {
	return func() tea.Msg {
		a.history.Remove(sessionID)
		return a.loadHistory()
	}
}

func (a *App) clearHistory() tea.Msg {
	a.history.Clear()
	return a.loadHistory()
}

func (a *App) loadSession(entry models.HistoryEntry) tea.Cmd {
	return func() tea.Msg {
		viewed, err := a.loader.LoadSession(a.ctx, entry)
		return sessionLoadedMsg{viewed: viewed, err: err}
	}
}

func (a *App) exportDraft(viewed *models.ViewedSession) tea.Cmd {
	return func() tea.Msg {
		if a.exportDir == "" {
			return exportedMsg{err: errors.New("no export directory configured")}
		}
		d, err := export.Write(a.exportDir, viewed)
		if err != nil {
			return exportedMsg{err: err}
		}
		return exportedMsg{path: d.MarkdownPath}
	}
}

func previewJSON(data map[string]any, maxLines int) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprint(data)
	}
	lines := strings.Split(string(out), "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], fmt.Sprintf("... (%d more lines)", len(lines)-maxLines))
	}
	return strings.Join(lines, "\n")
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
