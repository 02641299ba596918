package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/internal/scenario"
	"github.com/wippyai/disposetree/tree"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newTUICmd(configPath *string) *cobra.Command {
	var scenarioPath string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse a tree interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.InvalidInput(errors.PhaseConfig, "tui needs a terminal on stdout")
			}

			ctx := cmd.Context()
			a, err := setup(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			s := &scenario.Scenario{}
			if scenarioPath != "" {
				if s, err = scenario.Load(scenarioPath); err != nil {
					return err
				}
			}

			tr := a.newTree()
			journal := &scenario.Journal{}
			nodes, err := s.Build(tr, journal)
			if err != nil {
				return err
			}

			p := tea.NewProgram(newBrowserModel(tr, nodes, journal, scenarioPath), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file to start from")
	return cmd
}

type browserState int

const (
	stateBrowse browserState = iota
	stateAddChild
)

type browserModel struct {
	err      error
	tree     *tree.Tree
	nodes    *scenario.Nodes
	journal  *scenario.Journal
	source   string
	status   []string
	rows     []tree.NodeInfo
	input    textinput.Model
	selected int
	state    browserState
}

func newBrowserModel(tr *tree.Tree, nodes *scenario.Nodes, journal *scenario.Journal, source string) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "name"
	ti.Prompt = "child: "
	ti.Width = 40

	m := &browserModel{
		tree:    tr,
		nodes:   nodes,
		journal: journal,
		source:  source,
		input:   ti,
	}
	m.refresh()
	return m
}

func (m *browserModel) Init() tea.Cmd {
	return nil
}

func (m *browserModel) refresh() {
	m.rows = m.tree.Snapshot()
	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *browserModel) current() *scenario.Node {
	if len(m.rows) == 0 {
		return nil
	}
	n, _ := m.rows[m.selected].Value.(*scenario.Node)
	return n
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.state == stateAddChild {
		return m.updateInput(key)
	}

	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}

	case "d":
		n := m.current()
		if n == nil {
			return m, nil
		}
		m.journal.Reset()
		m.err = m.tree.Dispose(n)
		m.status = m.journal.Entries()
		m.refresh()

	case "a":
		m.state = stateAddChild
		m.input.SetValue("")
		m.input.Focus()
		m.err = nil
	}

	return m, nil
}

func (m *browserModel) updateInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.state = stateBrowse
		m.input.Blur()
		return m, nil

	case "enter":
		parent := m.current()
		if _, err := m.nodes.Add(parent, m.input.Value()); err != nil {
			m.err = err
		} else {
			m.status = []string{fmt.Sprintf("added %s", strings.TrimSpace(m.input.Value()))}
			m.err = nil
		}
		m.state = stateBrowse
		m.input.Blur()
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Dispose Tree"))
	if m.source != "" {
		b.WriteString(" ")
		b.WriteString(m.source)
	}
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString("Tree is empty.\n")
	}
	for i, row := range m.rows {
		line := strings.Repeat("  ", row.Depth) + fmt.Sprint(row.Value)
		if row.Children > 0 {
			line += countStyle.Render(fmt.Sprintf(" (%d)", row.Children))
		}
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + nodeStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.state == stateAddChild {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter add • esc cancel"))
		return b.String()
	}

	for _, s := range m.status {
		b.WriteString(resultStyle.Render(s))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if len(m.status) > 0 || m.err != nil {
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select • d dispose • a add child • q quit"))
	return b.String()
}
