// Package tui is an interactive Datadog query console: a text input with
// live autocomplete and validation, plus one-key query execution. It
// hosts the same controller the Grafana editor drives, so the dropdown
// behaves identically in both.
package tui

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
	"github.com/wasilak/datadog-datasource/pkg/ddapi"
)

// stateMsg carries a controller snapshot into the program loop.
type stateMsg struct {
	state autocomplete.State
}

// queryResultMsg reports a finished query execution.
type queryResultMsg struct {
	summary string
	err     error
}

// programRelay forwards controller notifications into the bubbletea
// program once it exists. The controller is built before the program, so
// the target is set late.
type programRelay struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRelay) attach(p *tea.Program) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

func (r *programRelay) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Model is the console's bubbletea model.
type Model struct {
	input      textinput.Model
	controller *autocomplete.Controller
	client     *ddapi.Client

	state   autocomplete.State
	status  string
	running bool
	width   int
	styles  Styles
}

func newModel(client *ddapi.Client, controller *autocomplete.Controller) Model {
	ti := textinput.New()
	ti.Placeholder = "avg:system.cpu.user{host:myhost} by {env}"
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 512

	return Model{
		input:      ti,
		controller: controller,
		client:     client,
		styles:     DefaultStyles(),
	}
}

// Run starts the console and blocks until the user quits.
func Run(client *ddapi.Client) error {
	relay := &programRelay{}

	controller := autocomplete.NewController(autocomplete.Options{
		Vocabulary: ddapi.NewVocabulary(client),
		OnChange: func(s autocomplete.State) {
			relay.send(stateMsg{state: s})
		},
	})
	defer controller.Close()

	p := tea.NewProgram(newModel(client, controller), tea.WithAltScreen())
	relay.attach(p)

	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4
		return m, nil

	case stateMsg:
		m.state = msg.state
		return m, nil

	case queryResultMsg:
		m.running = false
		if msg.err != nil {
			m.status = "query failed: " + msg.err.Error()
		} else {
			m.status = msg.summary
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.controller.Dismiss()
		return m, nil

	case "up":
		if m.state.IsOpen {
			m.controller.MoveUp()
			return m, nil
		}

	case "down":
		if m.state.IsOpen {
			m.controller.MoveDown()
			return m, nil
		}

	case "enter", "tab":
		if m.state.IsOpen && len(m.state.Suggestions) > 0 {
			if item, ok := m.controller.Commit(); ok {
				m = m.spliceCompletion(item.InsertText)
			}
			return m, nil
		}
		return m, nil

	case "ctrl+e":
		// run-query chord: closes the menu but always executes
		m.controller.RunQueryChord()
		if m.input.Value() == "" || m.running {
			return m, nil
		}
		m.running = true
		m.status = "running query..."
		return m, m.runQueryCmd(m.input.Value())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	value := m.input.Value()
	m.controller.OnInput(value, byteOffset(value, m.input.Position()))
	return m, cmd
}

// byteOffset converts textinput's rune-based cursor position into the
// byte offset the parser works in.
func byteOffset(s string, pos int) int {
	count := 0
	for i := range s {
		if count == pos {
			return i
		}
		count++
	}
	return len(s)
}

// spliceCompletion replaces the current token with the committed insert
// text and reparses at the new cursor.
func (m Model) spliceCompletion(insert string) Model {
	text := m.input.Value()
	cursor := byteOffset(text, m.input.Position())

	token := m.controller.Context().CurrentToken
	start := cursor - len(token)
	if start < 0 || start > cursor {
		start = cursor
	}

	next := text[:start] + insert + text[cursor:]
	m.input.SetValue(next)
	m.input.SetCursor(utf8.RuneCountInString(next[:start+len(insert)]))

	m.controller.OnInput(next, start+len(insert))
	return m
}

func (m Model) runQueryCmd(query string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		to := time.Now()
		from := to.Add(-1 * time.Hour)
		resp, err := client.QueryTimeseries(ctx, query, from.UnixMilli(), to.UnixMilli())
		if err != nil {
			return queryResultMsg{err: err}
		}

		data := resp.GetData()
		attrs := data.GetAttributes()
		series := attrs.GetSeries()
		points := 0
		for _, column := range attrs.GetValues() {
			points += len(column)
		}
		return queryResultMsg{
			summary: fmt.Sprintf("%d series, %d points (last hour)", len(series), points),
		}
	}
}
