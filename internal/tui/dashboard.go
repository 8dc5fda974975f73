// Package tui is the terminal dashboard: summary cards for one school and a
// "Generate Timetables" action wired to the generation orchestrator.
package tui

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/generation"
	"github.com/ashwinkrishna05/timetable-generator/internal/summarycache"
)

// toastTTL is how long an outcome message stays on screen.
const toastTTL = 6 * time.Second

type Summaries interface {
	Get(ctx context.Context, school domain.SchoolID, opts ...summarycache.GetOption) (domain.Snapshot, error)
	Refresh(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error)
	Peek(ctx context.Context, school domain.SchoolID) (domain.Snapshot, bool)
}

type Generator interface {
	Start(ctx context.Context, school domain.SchoolID) (generation.Result, error)
}

// summaryLoadedMsg carries a loaded snapshot. When err is set, snap is the
// last known one if last is true.
type summaryLoadedMsg struct {
	snap domain.Snapshot
	last bool
	err  error
}

type generationDoneMsg struct {
	res generation.Result
	err error
}

type stateChangedMsg domain.StateChange

type eventsClosedMsg struct{}

type toastExpiredMsg struct{ id int }

type toast struct {
	id      int
	level   domain.Level
	message string
}

// Model is the dashboard state.
type Model struct {
	ctx       context.Context
	school    domain.SchoolID
	summaries Summaries
	generator Generator
	events    <-chan domain.StateChange

	snap       *domain.Snapshot
	loadErr    error
	loading    bool
	generating bool
	phase      domain.Phase
	toast      *toast
	toastSeq   int
	spinner    spinner.Model
	width      int
}

// New builds the dashboard for school. events may be nil; when set, phase
// changes from the orchestrator are shown while a run is in flight.
func New(ctx context.Context, school domain.SchoolID, summaries Summaries, generator Generator, events <-chan domain.StateChange) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return Model{
		ctx:       ctx,
		school:    school,
		summaries: summaries,
		generator: generator,
		events:    events,
		loading:   true,
		phase:     domain.PhaseIdle,
		spinner:   sp,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.loadSummary(false)}
	if m.events != nil {
		cmds = append(cmds, waitForEvent(m.events))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.loading || m.generating {
				return m, nil
			}
			m.loading = true
			return m, m.loadSummary(true)
		case "g":
			if !m.CanGenerate() {
				return m, nil
			}
			m.generating = true
			m.phase = domain.PhaseResolvingClasses
			return m, m.generate()
		}
		return m, nil

	case summaryLoadedMsg:
		m.loading = false
		m.loadErr = msg.err
		if msg.err == nil || msg.last {
			snap := msg.snap
			m.snap = &snap
		}
		return m, nil

	case generationDoneMsg:
		m.generating = false
		m.phase = domain.PhaseIdle
		if msg.err != nil {
			return m, m.showToast(domain.LevelWarning, msg.err.Error())
		}
		switch {
		case msg.res.Summary != nil:
			snap := *msg.res.Summary
			m.snap = &snap
			m.loadErr = nil
		case msg.res.RefreshErr != nil:
			// The run succeeded but the cards still show the pre-run counts.
			m.loadErr = msg.res.RefreshErr
		}
		return m, m.showToast(msg.res.Outcome.Level(), msg.res.Outcome.Message())

	case stateChangedMsg:
		if msg.SchoolID == m.school && m.generating {
			m.phase = msg.To
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case toastExpiredMsg:
		if m.toast != nil && m.toast.id == msg.id {
			m.toast = nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// CanGenerate reports whether the generate action is enabled.
func (m Model) CanGenerate() bool {
	return !m.generating && !m.phase.Busy()
}

func (m Model) loadSummary(force bool) tea.Cmd {
	ctx, school, summaries := m.ctx, m.school, m.summaries
	return func() tea.Msg {
		var (
			snap domain.Snapshot
			err  error
		)
		if force {
			snap, err = summaries.Refresh(ctx, school)
		} else {
			snap, err = summaries.Get(ctx, school)
		}
		if err != nil {
			last, ok := summaries.Peek(ctx, school)
			return summaryLoadedMsg{snap: last, last: ok, err: err}
		}
		return summaryLoadedMsg{snap: snap}
	}
}

func (m Model) generate() tea.Cmd {
	ctx, school, generator := m.ctx, m.school, m.generator
	return func() tea.Msg {
		res, err := generator.Start(ctx, school)
		return generationDoneMsg{res: res, err: err}
	}
}

func (m *Model) showToast(level domain.Level, message string) tea.Cmd {
	m.toastSeq++
	id := m.toastSeq
	m.toast = &toast{id: id, level: level, message: message}
	return tea.Tick(toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

func waitForEvent(events <-chan domain.StateChange) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		change, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return stateChangedMsg(change)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).Padding(0, 1)
	cardStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).Padding(0, 2).Width(24)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle    = lipgloss.NewStyle().Bold(true)
	buttonStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("33")).Padding(0, 2)
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Background(lipgloss.Color("237")).Padding(0, 2)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	toastStyles = map[domain.Level]lipgloss.Style{
		domain.LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		domain.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		domain.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func (m Model) View() string {
	var b strings.Builder

	title := "Dashboard · School " + m.school.String()
	if m.snap != nil && m.snap.SchoolName != "" {
		title = "Dashboard · " + m.snap.SchoolName
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(m.renderCards())
	b.WriteString("\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " Loading summary...\n")
	case m.loadErr != nil && m.snap != nil:
		b.WriteString(errorStyle.Render("Summary may be out of date: "+m.loadErr.Error()) + "\n")
		b.WriteString(helpStyle.Render("Showing values from "+m.snap.FetchedAt.Local().Format("15:04:05")+", press r to retry") + "\n")
	case m.loadErr != nil:
		b.WriteString(errorStyle.Render("Could not load summary: "+m.loadErr.Error()) + "\n")
	case m.snap != nil:
		b.WriteString(helpStyle.Render("Updated "+m.snap.FetchedAt.Local().Format("15:04:05")) + "\n")
	}
	b.WriteString("\n")

	if m.generating {
		b.WriteString(disabledStyle.Render(m.spinner.View()+" Generating...") + "  " + phaseLabel(m.phase))
	} else {
		b.WriteString(buttonStyle.Render("Generate Timetables"))
	}
	b.WriteString("\n\n")

	if m.toast != nil {
		b.WriteString(toastStyles[m.toast.level].Render(m.toast.message))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("g generate · r refresh · q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderCards() string {
	var s domain.Snapshot
	if m.snap != nil {
		s = *m.snap
	}
	cards := []string{
		card("Total Classes", s.TotalClasses),
		card("Active Teachers", s.TotalTeachers),
		card("Timetables Generated", s.ClassesWithTimetables),
		card("Working Days", len(s.WorkingDays)),
	}
	if m.width > 0 && m.width < 4*28 {
		top := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1])
		bottom := lipgloss.JoinHorizontal(lipgloss.Top, cards[2], cards[3])
		return lipgloss.JoinVertical(lipgloss.Left, top, bottom) + "\n"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...) + "\n"
}

func card(label string, value int) string {
	return cardStyle.Render(labelStyle.Render(label) + "\n" + valueStyle.Render(strconv.Itoa(value)))
}

func phaseLabel(p domain.Phase) string {
	switch p {
	case domain.PhaseResolvingClasses:
		return "Resolving classes"
	case domain.PhaseSubmitting:
		return "Submitting to scheduler"
	case domain.PhaseRefreshingSummary:
		return "Refreshing summary"
	case domain.PhaseAborted:
		return "Stopping"
	default:
		return string(p)
	}
}
