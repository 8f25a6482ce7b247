// Package tui is the terminal board: task columns, the activity feed and agent
// chat, all read from a live session.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/ledger"
	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/pkg/models"
)

type tab int

const (
	tabBoard tab = iota
	tabFeed
	tabChat
)

func (t tab) String() string {
	switch t {
	case tabBoard:
		return "Board"
	case tabFeed:
		return "Activity"
	case tabChat:
		return "Chat"
	default:
		return "?"
	}
}

var tabs = []tab{tabBoard, tabFeed, tabChat}

// feedFilters cycles with "f"; "" is all.
var feedFilters = append([]models.ActivityType{""}, models.ActivityTypes...)

type changedMsg struct{}

type tickMsg time.Time

type proposalDoneMsg struct {
	kind    string
	outcome coordinator.Outcome
	err     error
}

type actionErrMsg struct{ err error }

// Model is the bubbletea model. It holds only cursor and view state; every
// entity is read from the session at render time.
type Model struct {
	s       *session.Session
	changes <-chan struct{}

	active  tab
	col     int
	row     int
	agent   int
	filter  int
	pending int
	status  string
	failed  bool

	width  int
	height int

	input    textinput.Model
	feed     viewport.Model
	chat     viewport.Model
	spinner  spinner.Model
	theme    theme
	quitting bool
}

// New returns a model reading from s. changes, when non-nil, wakes the model
// on session updates (see Watch).
func New(s *session.Session, changes <-chan struct{}) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "message, /toggle N, /note N text, /confirm"

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#a3be8c"))

	feed := viewport.New(0, 0)
	feed.MouseWheelEnabled = true
	chat := viewport.New(0, 0)
	chat.MouseWheelEnabled = true

	return Model{
		s:       s,
		changes: changes,
		input:   input,
		feed:    feed,
		chat:    chat,
		spinner: sp,
		theme:   newTheme(),
		status:  "ready",
		width:   100,
		height:  30,
	}
}

// Watch merges the session's change feeds into one coalescing signal until ctx ends.
func Watch(ctx context.Context, s *session.Session) <-chan struct{} {
	out := make(chan struct{}, 1)
	entities, stopE := s.Store().Subscribe()
	activity, stopA := s.Ledger().Subscribe()
	chats, stopC := s.Book().Subscribe()
	notices, stopN := s.Notices().Subscribe()
	go func() {
		defer stopE()
		defer stopA()
		defer stopC()
		defer stopN()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-entities:
				if !ok {
					entities = nil
				}
			case _, ok := <-activity:
				if !ok {
					activity = nil
				}
			case _, ok := <-chats:
				if !ok {
					chats = nil
				}
			case _, ok := <-notices:
				if !ok {
					notices = nil
				}
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// Run starts the terminal UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, s *session.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(New(s, Watch(ctx, s)), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func waitChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitProposal(p *coordinator.Proposal) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*models.DefaultRequestTimeout)
		defer cancel()
		o, err := p.Wait(ctx)
		return proposalDoneMsg{kind: p.Kind, outcome: o, err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitChange(m.changes), tickEvery(time.Second))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case changedMsg:
		m.refreshViews()
		return m, waitChange(m.changes)
	case tickMsg:
		m.refreshViews()
		return m, tickEvery(time.Second)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case proposalDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		m.failed = msg.err != nil
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s: %v", msg.kind, msg.outcome, msg.err)
		} else {
			m.status = fmt.Sprintf("%s %s", msg.kind, msg.outcome)
		}
		m.refreshViews()
		return m, nil
	case actionErrMsg:
		m.failed = true
		m.status = msg.err.Error()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	if m.active == tabChat {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		return m.switchTab(tabs[(int(m.active)+1)%len(tabs)])
	case "shift+tab":
		return m.switchTab(tabs[(int(m.active)+len(tabs)-1)%len(tabs)])
	}

	if m.active == tabChat {
		return m.handleChatKey(msg)
	}
	switch key {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "1", "2", "3":
		n, _ := strconv.Atoi(key)
		return m.switchTab(tabs[n-1])
	}
	if m.active == tabFeed {
		switch key {
		case "f":
			m.filter = (m.filter + 1) % len(feedFilters)
			m.refreshViews()
			return m, nil
		case "c":
			m.s.Ledger().Clear()
			m.refreshViews()
			return m, nil
		}
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	}
	return m.handleBoardKey(key)
}

func (m Model) switchTab(t tab) (tea.Model, tea.Cmd) {
	m.active = t
	if t == tabChat {
		m.input.Focus()
		agents := m.s.Store().Agents()
		if m.agent < len(agents) {
			id := agents[m.agent].ID
			m.refreshViews()
			return m, m.loadHistory(id)
		}
	} else {
		m.input.Blur()
	}
	m.refreshViews()
	return m, textinput.Blink
}

func (m Model) loadHistory(agentID string) tea.Cmd {
	if _, ok := m.s.Book().Lookup(agentID); ok {
		return nil
	}
	s := m.s
	return func() tea.Msg {
		if err := s.LoadHistory(context.Background(), agentID); err != nil {
			return actionErrMsg{err: err}
		}
		return changedMsg{}
	}
}

func (m Model) column(i int) []models.Task {
	return m.s.Store().Query(entity.Filter{Status: models.TaskStatuses[i], RootsOnly: true})
}

func (m Model) selectedTask() (models.Task, bool) {
	tasks := m.column(m.col)
	if m.row < 0 || m.row >= len(tasks) {
		return models.Task{}, false
	}
	return tasks[m.row], true
}

func (m Model) handleBoardKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "left", "h":
		if m.col > 0 {
			m.col--
		}
	case "right", "l":
		if m.col < len(models.TaskStatuses)-1 {
			m.col++
		}
	case "up", "k":
		if m.row > 0 {
			m.row--
		}
	case "down", "j":
		m.row++
	case "<", ",", "shift+left", "H":
		return m.move(-1)
	case ">", ".", "shift+right", "L":
		return m.move(1)
	case "r":
		s := m.s
		m.status = "refreshing"
		return m, func() tea.Msg {
			if err := s.Refresh(context.Background()); err != nil {
				return actionErrMsg{err: err}
			}
			return changedMsg{}
		}
	}
	m.clampRow()
	return m, nil
}

func (m *Model) clampRow() {
	n := len(m.column(m.col))
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

// move proposes the selected task one column left or right. The cursor
// follows the task.
func (m Model) move(delta int) (tea.Model, tea.Cmd) {
	t, ok := m.selectedTask()
	if !ok {
		return m, nil
	}
	to := m.col + delta
	if to < 0 || to >= len(models.TaskStatuses) {
		return m, nil
	}
	p, err := m.s.ProposeMove(context.Background(), t.ID, string(models.TaskStatuses[to]))
	if err != nil {
		m.failed = true
		m.status = err.Error()
		return m, nil
	}
	m.pending++
	m.failed = false
	m.status = fmt.Sprintf("moving %q to %s", t.Title, models.TaskStatuses[to].Label())
	m.col = to
	for i, x := range m.column(to) {
		if x.ID == t.ID {
			m.row = i
		}
	}
	return m, tea.Batch(waitProposal(p), m.spinner.Tick)
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	agents := m.s.Store().Agents()
	switch msg.String() {
	case "esc":
		return m.switchTab(tabBoard)
	case "up":
		if m.agent > 0 {
			m.agent--
		}
		m.refreshViews()
		if m.agent < len(agents) {
			return m, m.loadHistory(agents[m.agent].ID)
		}
		return m, nil
	case "down":
		if m.agent < len(agents)-1 {
			m.agent++
		}
		m.refreshViews()
		if m.agent < len(agents) {
			return m, m.loadHistory(agents[m.agent].ID)
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	case "enter":
		if m.agent >= len(agents) {
			return m, nil
		}
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		m.input.Reset()
		return m.submit(agents[m.agent].ID, line)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends a chat line or runs a selection command against the newest
// unconfirmed selection of the agent.
func (m Model) submit(agentID, line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		p, err := m.s.Coordinator().ProposeChatReply(context.Background(), agentID, line, nil)
		if err != nil {
			m.failed = true
			m.status = err.Error()
			return m, nil
		}
		m.pending++
		m.status = "sending"
		m.refreshViews()
		return m, tea.Batch(waitProposal(p), m.spinner.Tick)
	}

	tr := m.s.Book().For(agentID)
	pendingSel := tr.PendingSelections()
	if len(pendingSel) == 0 {
		m.failed = true
		m.status = "no open selection"
		return m, nil
	}
	msgID := pendingSel[len(pendingSel)-1]
	fields := strings.Fields(line)
	switch fields[0] {
	case "/confirm":
		p, err := m.s.Coordinator().ProposeSelectionConfirm(context.Background(), agentID, msgID)
		if err != nil {
			m.failed = true
			m.status = err.Error()
			return m, nil
		}
		m.pending++
		m.status = "confirming selection"
		m.refreshViews()
		return m, tea.Batch(waitProposal(p), m.spinner.Tick)
	case "/toggle", "/note":
		if len(fields) < 2 {
			m.failed = true
			m.status = "usage: " + fields[0] + " N"
			return m, nil
		}
		items, err := tr.ReadItems(msgID)
		if err != nil {
			m.failed = true
			m.status = err.Error()
			return m, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(items) {
			m.failed = true
			m.status = fmt.Sprintf("item %s out of range", fields[1])
			return m, nil
		}
		item := items[n-1]
		if fields[0] == "/toggle" {
			err = tr.SetItemField(msgID, item.ID, transcript.FieldSelected, !item.Selected)
		} else {
			err = tr.SetItemField(msgID, item.ID, transcript.FieldNote, strings.Join(fields[2:], " "))
		}
		if err != nil {
			m.failed = true
			m.status = err.Error()
			return m, nil
		}
		m.failed = false
		m.status = "updated " + item.Label
		m.refreshViews()
		return m, nil
	}
	m.failed = true
	m.status = "unknown command " + fields[0]
	return m, nil
}

func (m *Model) resize() {
	bodyH := m.height - 6
	if bodyH < 3 {
		bodyH = 3
	}
	m.feed.Width = m.width - 2
	m.feed.Height = bodyH
	m.chat.Width = m.width - 24
	m.chat.Height = bodyH - 2
	m.input.Width = m.width - 26
	m.refreshViews()
}

func (m *Model) refreshViews() {
	m.feed.SetContent(m.renderFeed())
	m.chat.SetContent(m.renderTranscript())
	m.chat.GotoBottom()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var body string
	switch m.active {
	case tabBoard:
		body = m.renderBoard()
	case tabFeed:
		body = m.feed.View()
	case tabChat:
		body = m.renderChat()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

func (m Model) renderHeader() string {
	parts := []string{m.theme.header.Render("agentdeck")}
	for _, t := range tabs {
		style := m.theme.tabInactive
		if t == m.active {
			style = m.theme.tabActive
		}
		parts = append(parts, style.Render(t.String()))
	}
	parts = append(parts, m.theme.muted.Render(" "+m.s.State().String()))
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderBoard() string {
	counts := m.s.Store().Counts()
	w := m.width/len(models.TaskStatuses) - 4
	if w < 12 {
		w = 12
	}
	cols := make([]string, 0, len(models.TaskStatuses))
	for i, st := range models.TaskStatuses {
		lines := []string{m.theme.columnTitle.Render(fmt.Sprintf("%s (%d)", st.Label(), counts[st]))}
		for j, t := range m.column(i) {
			line := truncate(fmt.Sprintf("%s %s%s", priorityMark(t.Priority), t.Title, subtaskMark(t)), w)
			style := m.theme.card
			if i == m.col && j == m.row {
				style = m.theme.cardActive
			}
			lines = append(lines, style.Render(line))
		}
		cols = append(cols, m.theme.column.Width(w).Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func priorityMark(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return "!"
	case models.PriorityLow:
		return "."
	default:
		return "-"
	}
}

func subtaskMark(t models.Task) string {
	if len(t.Subtasks) == 0 {
		return ""
	}
	done := 0
	for _, s := range t.Subtasks {
		if s.Completed {
			done++
		}
	}
	return fmt.Sprintf(" [%d/%d]", done, len(t.Subtasks))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func (m Model) renderFeed() string {
	now := time.Now()
	var b strings.Builder
	typ := feedFilters[m.filter]
	label := string(typ)
	if label == "" {
		label = "all"
	}
	b.WriteString(m.theme.muted.Render("filter: "+label+"  (f to cycle, c to clear)") + "\n")
	for ev := range m.s.Ledger().Filter(ledger.ByType(typ)) {
		style, ok := m.theme.feed[string(ev.Type)]
		if !ok {
			style = m.theme.card
		}
		who := ""
		if ev.AgentName != "" {
			who = ev.AgentName + ": "
		}
		fmt.Fprintf(&b, "%-8s %s\n", ledger.FormatAge(now, ev.Timestamp), style.Render(who+ev.Message))
	}
	return b.String()
}

func (m Model) renderChat() string {
	agents := m.s.Store().Agents()
	var list []string
	for i, a := range agents {
		line := truncate(fmt.Sprintf("%s %s", agentMark(a.Status), a.Name), 20)
		if i == m.agent {
			line = m.theme.cardActive.Render(line)
		}
		list = append(list, line)
	}
	if len(list) == 0 {
		list = append(list, m.theme.muted.Render("no agents"))
	}
	left := lipgloss.NewStyle().Width(20).Render(strings.Join(list, "\n"))
	right := lipgloss.JoinVertical(lipgloss.Left, m.chat.View(), m.input.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
}

func agentMark(st models.AgentStatus) string {
	switch st {
	case models.AgentOnline:
		return "●"
	case models.AgentBusy:
		return "◐"
	case models.AgentError:
		return "✕"
	default:
		return "○"
	}
}

func (m Model) renderTranscript() string {
	agents := m.s.Store().Agents()
	if m.agent >= len(agents) {
		return ""
	}
	tr, ok := m.s.Book().Lookup(agents[m.agent].ID)
	if !ok {
		return m.theme.muted.Render("no messages yet")
	}
	var b strings.Builder
	for _, msg := range tr.Messages() {
		style := m.theme.sender[msg.Sender]
		name := msg.Sender
		if msg.Sender == models.SenderAgent {
			name = agents[m.agent].Name
		}
		state := ""
		if msg.State == models.MessagePending || msg.State == models.MessageFailed {
			state = m.theme.muted.Render(" (" + string(msg.State) + ")")
		}
		fmt.Fprintf(&b, "%s%s %s\n", style.Render(name+":"), state, msg.Content.Text)
		if msg.Content.HasSelection() {
			items, _ := tr.ReadItems(msg.ID)
			for i, it := range items {
				mark := "[ ]"
				if it.Selected {
					mark = "[x]"
				}
				line := fmt.Sprintf("  %d. %s %s", i+1, mark, it.Label)
				if it.Note != "" {
					line += " (" + it.Note + ")"
				}
				b.WriteString(line + "\n")
			}
			if tr.IsConfirmed(msg.ID) {
				b.WriteString(m.theme.muted.Render("  confirmed") + "\n")
			}
		}
	}
	if tr.Typing() {
		b.WriteString(m.theme.muted.Render(agents[m.agent].Name+" is typing...") + "\n")
	} else if tr.AwaitingReply() {
		b.WriteString(m.theme.muted.Render("waiting for reply...") + "\n")
	}
	return b.String()
}

func (m Model) renderFooter() string {
	status := m.theme.status.Render(m.status)
	if m.failed {
		status = m.theme.errorStatus.Render(m.status)
	}
	if m.pending > 0 {
		status = m.spinner.View() + " " + status
	}
	if ns := m.s.Notices().Active(); len(ns) > 0 {
		n := ns[len(ns)-1]
		style := m.theme.status
		if n.Level == models.ActivityError {
			style = m.theme.errorStatus
		}
		status += "  " + style.Render(n.Message)
	}
	help := "tab switch  h/l j/k select  </> move  r refresh  q quit"
	if m.active == tabChat {
		help = "tab switch  up/down agent  enter send  esc back"
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, m.theme.footer.Render(help))
}
