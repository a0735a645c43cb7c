package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

// maxDropdownRows bounds the rendered dropdown; the selection window
// scrolls within it.
const maxDropdownRows = 8

// Styles for the console
type Styles struct {
	Title      lipgloss.Style
	InputBox   lipgloss.Style
	Dropdown   lipgloss.Style
	GroupLabel lipgloss.Style
	Item       lipgloss.Style
	Selected   lipgloss.Style
	Loading    lipgloss.Style
	Error      lipgloss.Style
	Validation lipgloss.Style
	Status     lipgloss.Style
	Help       lipgloss.Style
}

// DefaultStyles returns default styling
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BD93F9")).
			Bold(true),
		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6272A4")).
			Padding(0, 1),
		Dropdown: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6272A4")).
			Padding(0, 1),
		GroupLabel: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4")).
			Bold(true),
		Item: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")),
		Selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#282A36")).
			Background(lipgloss.Color("#8BE9FD")),
		Loading: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4")).
			Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")),
		Validation: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB86C")),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4")),
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("ddql - Datadog query console"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.InputBox.Render(m.input.View()))
	b.WriteString("\n")

	if m.state.ValidationError != "" {
		b.WriteString(m.styles.Validation.Render("! " + m.state.ValidationError))
		b.WriteString("\n")
	}

	if dropdown := m.renderDropdown(); dropdown != "" {
		b.WriteString(dropdown)
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(m.styles.Status.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render("enter/tab complete · up/down navigate · ctrl+e run · esc dismiss · ctrl+c quit"))
	return b.String()
}

func (m Model) renderDropdown() string {
	if !m.state.IsOpen {
		return ""
	}
	if m.state.IsLoading {
		return m.styles.Dropdown.Render(m.styles.Loading.Render("Loading suggestions..."))
	}
	if m.state.Error != "" {
		return m.styles.Dropdown.Render(m.styles.Error.Render(m.state.Error))
	}
	if len(m.state.Suggestions) == 0 {
		return ""
	}

	type row struct {
		text     string
		flatIdx  int // -1 for group headings
		selected bool
	}

	var rows []row
	flat := 0
	for _, group := range m.state.Grouped {
		rows = append(rows, row{text: group.Label, flatIdx: -1})
		for _, item := range group.Items {
			label := item.Label
			if item.Kind == querylang.CompletionTagKey && strings.HasSuffix(item.InsertText, ":") {
				label += ":"
			}
			rows = append(rows, row{
				text:     label,
				flatIdx:  flat,
				selected: flat == m.state.SelectedIndex,
			})
			flat++
		}
	}

	// scroll the window so the selected row stays visible
	start := 0
	selectedRow := 0
	for i, r := range rows {
		if r.selected {
			selectedRow = i
			break
		}
	}
	if selectedRow >= maxDropdownRows {
		start = selectedRow - maxDropdownRows + 1
	}
	end := start + maxDropdownRows
	if end > len(rows) {
		end = len(rows)
	}

	var lines []string
	for _, r := range rows[start:end] {
		switch {
		case r.flatIdx == -1:
			lines = append(lines, m.styles.GroupLabel.Render(r.text))
		case r.selected:
			lines = append(lines, m.styles.Selected.Render("> "+r.text))
		default:
			lines = append(lines, m.styles.Item.Render("  "+r.text))
		}
	}
	if end < len(rows) {
		lines = append(lines, m.styles.Help.Render("  ..."))
	}

	return m.styles.Dropdown.Render(strings.Join(lines, "\n"))
}
