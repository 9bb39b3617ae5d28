// Package dash implements the terminal dashboard.
//
// The dashboard is a thin client: it connects to a running daemon over
// HTTP, replays recent notifications, then renders the live event stream
// next to the queue snapshot. It never talks to providers itself.
package dash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
)

// messages
type eventMsg notify.Event

type streamClosedMsg struct{ err error }

type overviewMsg struct {
	overview *Overview
	err      error
}

type recentMsg struct {
	events []notify.Event
	err    error
}

type tickMsg struct{}

// Dash runs the interactive dashboard.
type Dash struct {
	Client          *Client
	Theme           Theme
	RefreshInterval time.Duration // queue snapshot poll, 0 disables
}

// row is one line in the evaluation list: the latest event per cache key.
type row struct {
	key      string
	jobID    string
	kind     string
	provider string
	attempts int
	result   *model.Result
	reason   string
	ts       time.Time
}

type dashModel struct {
	ctx             context.Context
	client          *Client
	st              styles
	refreshInterval time.Duration

	rows   []row // newest first
	cursor int
	detail bool

	overview *Overview

	events <-chan notify.Event
	errs   <-chan error

	spin spinner.Model

	width  int
	height int

	message    string
	eventCount int
}

func (d *Dash) Run(ctx context.Context) error {
	interval := d.RefreshInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	m := &dashModel{
		ctx:             ctx,
		client:          d.Client,
		st:              newStyles(d.Theme),
		refreshInterval: interval,
		spin:            spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *dashModel) Init() tea.Cmd {
	m.events, m.errs = m.client.StreamEvents(m.ctx)
	return tea.Batch(m.waitEvent(), m.loadOverview(), m.loadRecent(), m.spin.Tick)
}

// waitEvent blocks on the SSE channel and forwards one event.
func (m *dashModel) waitEvent() tea.Cmd {
	events, errs := m.events, m.errs
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return streamClosedMsg{err: <-errs}
		}
		return eventMsg(e)
	}
}

func (m *dashModel) loadOverview() tea.Cmd {
	client, ctx := m.client, m.ctx
	return func() tea.Msg {
		o, err := client.Overview(ctx)
		return overviewMsg{overview: o, err: err}
	}
}

func (m *dashModel) loadRecent() tea.Cmd {
	client, ctx := m.client, m.ctx
	return func() tea.Msg {
		events, err := client.Recent(ctx)
		return recentMsg{events: events, err: err}
	}
}

func (m *dashModel) scheduleTick() tea.Cmd {
	if m.refreshInterval <= 0 {
		return nil
	}
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// apply upserts an event into the row list. The touched row moves to the
// top; everything else keeps its relative order.
func (m *dashModel) apply(e notify.Event) {
	r := row{
		key:      e.CacheKey,
		jobID:    e.JobID,
		kind:     e.Kind,
		provider: e.Provider,
		attempts: e.AttemptCount,
		result:   e.Result,
		reason:   e.Reason,
		ts:       e.TS,
	}
	if e.Result != nil && e.Result.Provider != "" {
		r.provider = e.Result.Provider
	}
	for i, existing := range m.rows {
		if existing.key == e.CacheKey {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			break
		}
	}
	m.rows = append([]row{r}, m.rows...)
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.apply(notify.Event(msg))
		m.eventCount++
		return m, m.waitEvent()

	case streamClosedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Event stream closed: %v", msg.err)
		} else {
			m.message = "Event stream closed"
		}
		return m, nil

	case overviewMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Daemon unreachable: %v", msg.err)
		} else {
			m.overview = msg.overview
			m.message = ""
		}
		return m, m.scheduleTick()

	case recentMsg:
		if msg.err == nil {
			// Snapshot is newest first; apply oldest first so live
			// ordering is preserved.
			for i := len(msg.events) - 1; i >= 0; i-- {
				m.apply(msg.events[i])
			}
		}
		return m, nil

	case tickMsg:
		return m, m.loadOverview()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *dashModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}

	case "enter":
		if len(m.rows) > 0 {
			m.detail = !m.detail
		}

	case "r":
		return m, tea.Batch(m.loadOverview(), m.loadRecent())
	}
	return m, nil
}

func (m *dashModel) View() string {
	var b strings.Builder

	b.WriteString(m.st.title.Render("jobfit"))
	b.WriteString(m.st.dim.Render("  evaluation dashboard"))
	b.WriteString("\n")
	b.WriteString(m.viewQueueLine())
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(m.st.dim.Render("Waiting for evaluations..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.st.header.Render(fmt.Sprintf("  %-9s %-5s %-28s %-11s %s",
			"VERDICT", "SCORE", "JOB", "PROVIDER", "STATUS")))
		b.WriteString("\n")
		for i, r := range m.rows {
			b.WriteString(m.viewRow(i, r))
			b.WriteString("\n")
		}
	}

	if m.detail {
		if d := m.viewDetail(); d != "" {
			b.WriteString("\n")
			b.WriteString(d)
		}
	}

	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(m.st.err.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.viewHints())
	return b.String()
}

func (m *dashModel) viewQueueLine() string {
	if m.overview == nil {
		return m.spin.View() + m.st.dim.Render(" connecting...")
	}
	q := m.overview.Queue
	configured := 0
	for _, p := range m.overview.Providers {
		if p.Configured && p.Active {
			configured++
		}
	}
	parts := []string{
		fmt.Sprintf("queued %d", q.Queued),
		fmt.Sprintf("providers %d", configured),
	}
	if q.InFlight != "" {
		part := m.spin.View() + fmt.Sprintf(" in flight %s", q.InFlight)
		if q.Attempts > 1 {
			part += fmt.Sprintf(" (attempt %d)", q.Attempts)
		}
		parts = append(parts, part)
	}
	if q.NextProvider != "" {
		parts = append(parts, fmt.Sprintf("next %s", q.NextProvider))
	}
	parts = append(parts, fmt.Sprintf("events %d", m.eventCount))
	return m.st.dim.Render(strings.Join(parts, "  |  "))
}

func (m *dashModel) viewRow(i int, r row) string {
	verdict, score := "-", "-"
	status := ""
	switch r.kind {
	case notify.KindCompleted:
		if r.result != nil {
			verdict = r.result.Verdict
			score = fmt.Sprintf("%d", r.result.Score)
		}
		status = m.st.good.Render("done " + r.ts.Format("15:04:05"))
	case notify.KindRateLimited:
		status = m.st.warn.Render(fmt.Sprintf("rate limited, retry #%d", r.attempts))
	case notify.KindFailed:
		status = m.st.err.Render("failed: " + truncate(r.reason, 40))
	}

	job := r.jobID
	if job == "" {
		job = r.key
	}
	line := fmt.Sprintf("%-9s %-5s %-28s %-11s %s",
		verdict, score, truncate(job, 28), r.provider, status)

	cursor := "  "
	if i == m.cursor {
		cursor = m.st.title.Render("> ")
		return cursor + m.st.selected.Render(line)
	}
	return cursor + m.verdictStyle(verdict).Render(line)
}

func (m *dashModel) verdictStyle(verdict string) lipgloss.Style {
	switch verdict {
	case model.VerdictFavorable:
		return m.st.good
	case model.VerdictUnfavorable:
		return m.st.err
	case model.VerdictBorderline:
		return m.st.warn
	default:
		return m.st.text
	}
}

func (m *dashModel) viewDetail() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	r := m.rows[m.cursor]
	width := m.width - 4
	if width < 20 {
		width = 76
	}

	var b strings.Builder
	b.WriteString(m.st.header.Render(strings.Repeat("─", width)))
	b.WriteString("\n")
	b.WriteString(m.st.info.Render(r.key))
	b.WriteString("\n")

	if r.kind == notify.KindFailed {
		for _, line := range wrapText(r.reason, width) {
			b.WriteString(m.st.err.Render(line))
			b.WriteString("\n")
		}
		return b.String()
	}
	if r.result == nil {
		b.WriteString(m.st.dim.Render("no result yet"))
		b.WriteString("\n")
		return b.String()
	}

	res := r.result
	if res.HardRejectReason != "" {
		b.WriteString(m.st.err.Render("hard reject: " + res.HardRejectReason))
		b.WriteString("\n")
	}
	for _, match := range res.Matches {
		b.WriteString(m.st.good.Render("  + " + truncate(match, width-4)))
		b.WriteString("\n")
	}
	for _, risk := range res.Risks {
		b.WriteString(m.st.warn.Render("  - " + truncate(risk, width-4)))
		b.WriteString("\n")
	}
	if res.BestResume != "" {
		b.WriteString(m.st.text.Render("  resume: " + res.BestResume))
		b.WriteString("\n")
	}
	for _, line := range wrapText(res.Explanation, width) {
		b.WriteString(m.st.dim.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *dashModel) viewHints() string {
	hints := [][2]string{
		{"↑/↓", "select"},
		{"enter", "detail"},
		{"r", "refresh"},
		{"q", "quit"},
	}
	var parts []string
	for _, h := range hints {
		parts = append(parts, m.st.hintKey.Render(h[0])+" "+m.st.hintDesc.Render(h[1]))
	}
	return strings.Join(parts, m.st.hintDesc.Render("  ·  "))
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// wrapText word-wraps s to the given width.
func wrapText(s string, width int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if width <= 0 {
		return []string{s}
	}
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(s) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
