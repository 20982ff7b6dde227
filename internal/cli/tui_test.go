package cli

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/fuseg/pkg/sched"
	"github.com/matzehuels/fuseg/pkg/segment"
)

func testSummary(n int) segment.Summary {
	var s segment.Summary
	for i := 0; i < n; i++ {
		s.Groups = append(s.Groups, segment.GroupSummary{
			ID:        i,
			Level:     i,
			Heuristic: sched.Reduction,
			Exprs:     []string{"sum"},
			Inputs:    []string{"x"},
			Outputs:   []string{"T" + string(rune('0'+i))},
		})
		if i > 0 {
			s.Edges = append(s.Edges, segment.EdgeSummary{From: i - 1, To: i, Val: "T"})
		}
	}
	return s
}

func key(k string) tea.KeyMsg {
	switch k {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func update(m SegmentListModel, keys ...string) (SegmentListModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(SegmentListModel)
	}
	return m, cmd
}

func TestSegmentListModel_Navigation(t *testing.T) {
	m := NewSegmentListModel("Segments", testSummary(3))
	m.Height = 2

	m, _ = update(m, "down", "down", "down")
	if m.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2 (clamped)", m.Cursor)
	}
	if m.Offset != 1 {
		t.Errorf("Offset = %d, want 1", m.Offset)
	}

	m, _ = update(m, "k", "k", "k")
	if m.Cursor != 0 || m.Offset != 0 {
		t.Errorf("Cursor, Offset = %d, %d; want 0, 0", m.Cursor, m.Offset)
	}
}

func TestSegmentListModel_Detail(t *testing.T) {
	m := NewSegmentListModel("Segments", testSummary(2))

	m, _ = update(m, "j", "enter")
	if !m.Detail {
		t.Fatal("enter did not open details")
	}
	view := m.View()
	if !strings.Contains(view, "Group 1") || !strings.Contains(view, "Expressions") {
		t.Errorf("detail view missing group content:\n%s", view)
	}

	m, cmd := update(m, "esc")
	if m.Detail || cmd != nil {
		t.Error("esc should close details without quitting")
	}
	if _, cmd = update(m, "esc"); cmd == nil {
		t.Error("esc from the list should quit")
	}
}

func TestSegmentListModel_View(t *testing.T) {
	m := NewSegmentListModel("Segments of sums.json", testSummary(2))
	view := m.View()
	for _, want := range []string{"Segments of sums.json", "Heuristic", "reduction", "[1/2]", "1 edge"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	empty := NewSegmentListModel("Empty", segment.Summary{})
	if _, cmd := update(empty, "enter"); cmd != nil {
		t.Error("enter on empty list returned a command")
	}
	if !strings.Contains(empty.View(), "no segments") {
		t.Error("empty view missing placeholder")
	}
}

func TestSegmentListModel_Resize(t *testing.T) {
	m := NewSegmentListModel("Segments", testSummary(1))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 4})
	if got := next.(SegmentListModel).Height; got != 5 {
		t.Errorf("Height = %d, want minimum 5", got)
	}
}
