package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/jclassfile/classfile"
)

var (
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const codePage = 20

type interactiveModel struct {
	err      error
	cc       *classfile.Context
	class    *classfile.ClassModel
	filename string
	code     []string
	methods  []*classfile.MethodModel
	visible  []*classfile.MethodModel
	filter   textinput.Model
	pal      palette
	selected int
	scroll   int
	state    modelState
}

type modelState int

const (
	stateSelectMethod modelState = iota
	stateFilter
	stateShowCode
)

func newInteractiveModel(cc *classfile.Context, filename string) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "filter: "
	ti.Placeholder = "method name"
	ti.Width = 40
	return &interactiveModel{
		cc:       cc,
		filename: filename,
		filter:   ti,
		pal:      colorPalette(),
		state:    stateSelectMethod,
	}
}

type loadedMsg struct {
	err   error
	class *classfile.ClassModel
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadClass
}

func (m *interactiveModel) loadClass() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	class, err := m.cc.Parse(data)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{class: class}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateFilter {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateSelectMethod
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "/":
			if m.state == stateSelectMethod {
				m.state = stateFilter
				return m, m.filter.Focus()
			}

		case "up", "k":
			switch {
			case m.state == stateSelectMethod && m.selected > 0:
				m.selected--
			case m.state == stateShowCode && m.scroll > 0:
				m.scroll--
			}

		case "down", "j":
			switch {
			case m.state == stateSelectMethod && m.selected < len(m.visible)-1:
				m.selected++
			case m.state == stateShowCode && m.scroll < len(m.code)-codePage:
				m.scroll++
			}

		case "enter":
			switch m.state {
			case stateSelectMethod:
				if len(m.visible) > 0 {
					m.showCode(m.visible[m.selected])
				}
			case stateShowCode:
				m.state = stateSelectMethod
			}

		case "esc":
			if m.state == stateShowCode {
				m.state = stateSelectMethod
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.class = msg.class
		m.methods = msg.class.Methods()
		m.applyFilter()
	}

	return m, nil
}

func (m *interactiveModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for _, mm := range m.methods {
		if q == "" || strings.Contains(strings.ToLower(mm.Name().String()), q) {
			m.visible = append(m.visible, mm)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

func (m *interactiveModel) showCode(mm *classfile.MethodModel) {
	var b strings.Builder
	m.err = renderCode(&b, mm, m.pal)
	m.code = strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	m.scroll = 0
	m.state = stateShowCode
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowCode {
		return m.pal.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.class == nil {
		return "Loading class..."
	}

	var b strings.Builder

	b.WriteString(m.pal.title.Render(m.class.ThisClass().InternalName()))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod, stateFilter:
		if m.state == stateFilter || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n\n")
		}
		for i, mm := range m.visible {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + methodLine(mm, plainPalette())))
			} else {
				b.WriteString("  " + methodLine(mm, m.pal))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter disassemble • / filter • q quit"))

	case stateShowCode:
		if m.err != nil {
			b.WriteString(m.pal.err.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		end := min(m.scroll+codePage, len(m.code))
		for _, line := range m.code[m.scroll:end] {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("↑/↓ scroll (%d/%d) • enter back • q quit", end, len(m.code))))
	}

	return b.String()
}

func runInteractive(cc *classfile.Context, filename string) error {
	p := tea.NewProgram(newInteractiveModel(cc, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
