package jobscmder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/chronicle/pkg/jobs"
)

func init() {
	// Force TrueColor profile to fix lipgloss color detection issue
	// See: https://github.com/charmbracelet/lipgloss/issues/439
	renderer := lipgloss.NewRenderer(os.Stdout, termenv.WithProfile(termenv.TrueColor))
	renderer.SetColorProfile(termenv.TrueColor)
	lipgloss.SetDefaultRenderer(renderer)
}

// jobSource is the part of the pipeline service top reads from.
type jobSource interface {
	QueueStats(ctx context.Context) (jobs.Stats, error)
	ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
}

// topLimit caps how many jobs one refresh loads.
const topLimit = 200

var (
	topTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	topMutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	topDividerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	topSectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	topMetricLabel    = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	topMetricValue    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	topHighlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("235")).Background(lipgloss.Color("214")).Bold(true)
	topErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

var (
	statusFilters = []jobs.Status{"", jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed}
	typeFilters   = []jobs.Type{"", jobs.TypeTranscription, jobs.TypeMemoryExtraction}
)

type topKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Status  key.Binding
	Type    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func (k topKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.Up, k.Status, k.Type, k.Refresh, k.Quit}
}

func (k topKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Down, k.Up}, {k.Status, k.Type, k.Refresh, k.Quit}}
}

func defaultKeyMap() topKeyMap {
	return topKeyMap{
		Up:      key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k", "up")),
		Down:    key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j", "down")),
		Status:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "status")),
		Type:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "type")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type snapshotMsg struct {
	stats jobs.Stats
	list  []*jobs.Job
	at    time.Time
	err   error
}

type refreshTickMsg time.Time

type topModel struct {
	ctx         context.Context
	source      jobSource
	interval    time.Duration
	stats       jobs.Stats
	list        []*jobs.Job
	updated     time.Time
	err         error
	cursor      int
	width       int
	height      int
	statusIndex int
	typeIndex   int
	keys        topKeyMap
	help        help.Model
}

func runTopTUI(ctx context.Context, source jobSource, interval time.Duration) error {
	program := bubbletea.NewProgram(newTopModel(ctx, source, interval),
		bubbletea.WithContext(ctx),
		bubbletea.WithAltScreen(),
	)
	_, err := program.Run()
	return err
}

func newTopModel(ctx context.Context, source jobSource, interval time.Duration) topModel {
	return topModel{
		ctx:      ctx,
		source:   source,
		interval: interval,
		keys:     defaultKeyMap(),
		help:     help.New(),
	}
}

func (m topModel) Init() bubbletea.Cmd {
	return bubbletea.Batch(m.load(), refreshTick(m.interval))
}

func (m topModel) Update(msg bubbletea.Msg) (bubbletea.Model, bubbletea.Cmd) {
	switch msg := msg.(type) {
	case bubbletea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case snapshotMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.stats = msg.stats
		m.list = msg.list
		m.updated = msg.at
		m.cursor = clamp(m.cursor, len(m.list)-1)
		return m, nil
	case refreshTickMsg:
		return m, bubbletea.Batch(m.load(), refreshTick(m.interval))
	case bubbletea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m topModel) handleKey(msg bubbletea.KeyMsg) (bubbletea.Model, bubbletea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, bubbletea.Quit
	case key.Matches(msg, m.keys.Down):
		m.cursor = clamp(m.cursor+1, len(m.list)-1)
	case key.Matches(msg, m.keys.Up):
		m.cursor = clamp(m.cursor-1, len(m.list)-1)
	case key.Matches(msg, m.keys.Status):
		m.statusIndex = (m.statusIndex + 1) % len(statusFilters)
		m.cursor = 0
		return m, m.load()
	case key.Matches(msg, m.keys.Type):
		m.typeIndex = (m.typeIndex + 1) % len(typeFilters)
		m.cursor = 0
		return m, m.load()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()
	}
	return m, nil
}

// filter is the listing filter selected by the status and type toggles.
func (m topModel) filter() jobs.Filter {
	f := jobs.Filter{Limit: topLimit}
	if s := statusFilters[m.statusIndex]; s != "" {
		f.Statuses = []jobs.Status{s}
	}
	if t := typeFilters[m.typeIndex]; t != "" {
		f.Types = []jobs.Type{t}
	}
	return f
}

func (m topModel) load() bubbletea.Cmd {
	ctx, source, filter := m.ctx, m.source, m.filter()
	return func() bubbletea.Msg {
		stats, err := source.QueueStats(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		list, err := source.ListJobs(ctx, filter)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{stats: stats, list: list, at: time.Now()}
	}
}

func refreshTick(interval time.Duration) bubbletea.Cmd {
	return bubbletea.Tick(interval, func(t time.Time) bubbletea.Msg {
		return refreshTickMsg(t)
	})
}

func (m topModel) View() string {
	right := fmt.Sprintf("status: %s  type: %s", orAll(string(statusFilters[m.statusIndex])), orAll(string(typeFilters[m.typeIndex])))
	if !m.updated.IsZero() {
		right += "  updated " + m.updated.Format("15:04:05")
	}

	lines := []string{
		renderHeaderLine(m.width, topTitleStyle.Render("chronicle jobs"), topMutedStyle.Render(right)),
		renderRule(m.width),
		"",
		renderMetricRow(m.width, []string{"QUEUED", "PROCESSING", "COMPLETED", "FAILED", "TOTAL"}, topMetricLabel),
		renderMetricRow(m.width, []string{
			fmt.Sprint(m.stats.Queued),
			fmt.Sprint(m.stats.Processing),
			fmt.Sprint(m.stats.Completed),
			fmt.Sprint(m.stats.Failed),
			fmt.Sprint(m.stats.Total()),
		}, topMetricValue),
		"",
	}
	if m.err != nil {
		lines = append(lines, topErrorStyle.Render("refresh failed: "+m.err.Error()), "")
	}

	lines = append(lines, m.viewJobList()...)
	lines = append(lines, "", m.viewDetail(), "", topMutedStyle.Render(m.help.View(m.keys)))
	return strings.Join(lines, "\n")
}

func (m topModel) viewJobList() []string {
	if len(m.list) == 0 {
		return []string{topMutedStyle.Render("no jobs")}
	}

	lines := []string{topSectionStyle.Render(jobRow("ID", "TYPE", "STATUS", "TRIES", "CONVERSATION", "AGE"))}

	// Header, metrics, detail and footer take roughly 14 lines.
	rows := len(m.list)
	if m.height > 0 {
		rows = max(m.height-14, 3)
	}
	start, end := visibleRange(len(m.list), m.cursor, rows)
	now := time.Now()
	for i := start; i < end; i++ {
		j := m.list[i]
		line := jobRow(
			shortID(j.ID),
			string(j.Type),
			string(j.Status),
			fmt.Sprintf("%d/%d", j.AttemptCount, j.MaxAttempts),
			shortID(j.Payload.ConversationID),
			formatAge(now.Sub(j.EnqueuedAt)),
		)
		if i == m.cursor {
			line = topHighlightStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m topModel) viewDetail() string {
	if len(m.list) == 0 {
		return ""
	}
	j := m.list[m.cursor]

	parts := []string{topSectionStyle.Render(j.ID)}
	if j.WorkerID != "" {
		parts = append(parts, topMutedStyle.Render("worker "+j.WorkerID))
	}
	if j.Status == jobs.StatusQueued && j.AvailableAt.After(time.Now()) {
		parts = append(parts, topMutedStyle.Render("retry at "+j.AvailableAt.Local().Format("15:04:05")))
	}
	detail := strings.Join(parts, "  ")
	if j.LastError != "" {
		detail += "\n" + topErrorStyle.Render(fitCell(j.LastError, max(m.width, 80)))
	}
	return detail
}

func jobRow(id, typ, status, tries, conv, age string) string {
	return fitCell(id, 10) + " " + fitCell(typ, 18) + " " + fitCell(status, 11) + " " +
		fitCell(tries, 6) + " " + fitCell(conv, 10) + " " + age
}

func shortID(id string) string {
	return ansi.Truncate(id, 8, "")
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

func clamp(value, upper int) int {
	if value > upper {
		value = upper
	}
	if value < 0 {
		return 0
	}
	return value
}

func renderHeaderLine(width int, left, right string) string {
	lineWidth := width
	if lineWidth <= 0 {
		lineWidth = 80
	}
	leftWidth := lipgloss.Width(left)
	rightWidth := lipgloss.Width(right)
	if leftWidth+rightWidth+1 >= lineWidth {
		return strings.TrimSpace(left + " " + right)
	}
	return left + strings.Repeat(" ", lineWidth-leftWidth-rightWidth) + right
}

func renderRule(width int) string {
	if width <= 0 {
		width = 80
	}
	return topDividerStyle.Render(strings.Repeat("─", width))
}

func renderMetricRow(width int, items []string, style lipgloss.Style) string {
	if len(items) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	colWidth := max((width-(len(items)-1)*2)/len(items), 10)
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, style.Render(fitCell(item, colWidth)))
	}
	return strings.Join(parts, "  ")
}

// fitCell truncates or pads value to exactly width terminal cells.
func fitCell(value string, width int) string {
	if width <= 0 {
		return value
	}
	if ansi.StringWidth(value) > width {
		return ansi.Truncate(value, width, "…")
	}
	return value + strings.Repeat(" ", width-ansi.StringWidth(value))
}

// visibleRange returns the window of size rows that keeps cursor in view.
func visibleRange(total, cursor, size int) (int, int) {
	if size <= 0 || total <= size {
		return 0, total
	}
	start := max(cursor-size/2, 0)
	end := start + size
	if end > total {
		end = total
		start = end - size
	}
	return start, end
}
