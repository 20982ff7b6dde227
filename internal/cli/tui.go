package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/fuseg/pkg/segment"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// SegmentListModel - Interactive segment browser
// =============================================================================

// SegmentListModel is the bubbletea model for browsing the groups of a
// segmentation. Enter toggles the detail view of the group under the cursor.
type SegmentListModel struct {
	Title   string
	Summary segment.Summary
	Cursor  int
	Height  int
	Offset  int
	Detail  bool
}

// NewSegmentListModel creates a new segment list model.
func NewSegmentListModel(title string, s segment.Summary) SegmentListModel {
	return SegmentListModel{
		Title:   title,
		Summary: s,
		Height:  15,
	}
}

func (m SegmentListModel) Init() tea.Cmd {
	return nil
}

func (m SegmentListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.Detail {
				m.Detail = false
				return m, nil
			}
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Summary.Groups)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "enter":
			if len(m.Summary.Groups) > 0 {
				m.Detail = !m.Detail
			}
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 8
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m SegmentListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render(m.Title))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ details  q quit"))
	b.WriteString("\n\n")

	if len(m.Summary.Groups) == 0 {
		b.WriteString(listDimStyle.Render("  no segments"))
		b.WriteString("\n")
		return b.String()
	}
	if m.Detail {
		b.WriteString(m.detailView(m.Summary.Groups[m.Cursor]))
		return b.String()
	}

	end := min(m.Offset+m.Height, len(m.Summary.Groups))
	in, out := m.edgeCounts()

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		g := m.Summary.Groups[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, []string{
			cursor,
			fmt.Sprintf("%d", g.ID),
			g.Heuristic.String(),
			fmt.Sprintf("%d", g.Level),
			fmt.Sprintf("%d", len(g.Exprs)),
			fmt.Sprintf("%d/%d", in[g.ID], out[g.ID]),
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Group", "Heuristic", "Level", "Exprs", "In/Out").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			idx := m.Offset + row
			if idx >= len(m.Summary.Groups) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			if col == 3 || col == 5 {
				base = base.Foreground(colorDim)
			}
			if m.Summary.Groups[idx].Heuristic.IsPersistent() && col == 2 {
				base = base.Foreground(colorYellow)
			}
			if idx == m.Cursor {
				return base.Foreground(colorGreen).Bold(true)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]  %s", m.Cursor+1, len(m.Summary.Groups), plural(len(m.Summary.Edges), "edge"))))
	if n := len(m.Summary.Half); n > 0 {
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  %d reduced-precision values", n)))
	}

	return b.String()
}

// detailView lists the members and boundary of one group.
func (m SegmentListModel) detailView(g segment.GroupSummary) string {
	var b strings.Builder
	b.WriteString(listSelectedStyle.Render(fmt.Sprintf("Group %d", g.ID)))
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  %s, level %d", g.Heuristic, g.Level)))
	b.WriteString("\n\n")

	section := func(name string, items []string) {
		b.WriteString(headerLine(name, len(items)))
		for _, it := range items {
			b.WriteString("  " + listNormalStyle.Render(it) + "\n")
		}
		b.WriteString("\n")
	}
	section("Inputs", g.Inputs)
	section("Expressions", g.Exprs)
	section("Outputs", g.Outputs)

	b.WriteString(listDimStyle.Render("esc back"))
	return b.String()
}

// edgeCounts returns the number of producer and consumer edges per group ID.
func (m SegmentListModel) edgeCounts() (in, out map[int]int) {
	in, out = make(map[int]int), make(map[int]int)
	for _, e := range m.Summary.Edges {
		out[e.From]++
		in[e.To]++
	}
	return in, out
}

func headerLine(name string, n int) string {
	return lipgloss.NewStyle().Foreground(colorGray).Bold(true).Render(name) +
		listDimStyle.Render(fmt.Sprintf(" (%d)", n)) + "\n"
}
