// Package ui renders datasets and sync status for the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mschirtzinger/prodcal/internal/dates"
	"github.com/mschirtzinger/prodcal/internal/orchestrator"
	"github.com/mschirtzinger/prodcal/internal/task"
)

// Styles holds the lipgloss styles used across renderers.
type Styles struct {
	Title   lipgloss.Style
	DayHead lipgloss.Style
	Muted   lipgloss.Style
	Done    lipgloss.Style
	Pending lipgloss.Style
	Error   lipgloss.Style
	Ok      lipgloss.Style
	Warning lipgloss.Style
}

// NewStyles builds the style set. With colors off every style renders
// plain text, for pipes and dumb terminals.
func NewStyles(colors bool) Styles {
	if !colors {
		plain := lipgloss.NewStyle()
		return Styles{
			Title: plain, DayHead: plain, Muted: plain,
			Done: plain, Pending: plain,
			Error: plain, Ok: plain, Warning: plain,
		}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		DayHead: lipgloss.NewStyle().Bold(true).Underline(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Done:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// RenderWeek renders the display week containing anchor: Sunday through
// Saturday, each day's tasks with completion marks.
func (s Styles) RenderWeek(ds *task.Dataset, anchor time.Time) string {
	var b strings.Builder

	start := dates.DisplayWeekStart(anchor)
	b.WriteString(s.Title.Render(fmt.Sprintf("Week of %s", start.Format("Jan 2, 2006"))))
	b.WriteString("\n\n")

	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		key := dates.DateKey(day)
		b.WriteString(s.DayHead.Render(day.Format("Monday Jan 2")))
		b.WriteString("\n")

		bucket := ds.Days[key]
		if len(bucket) == 0 {
			b.WriteString(s.Muted.Render("  no tasks"))
			b.WriteString("\n")
			continue
		}
		for _, t := range bucket {
			b.WriteString(s.renderTaskLine(t))
		}
	}
	return b.String()
}

func (s Styles) renderTaskLine(t *task.Task) string {
	completed, total, _ := t.Completion()
	mark := "[ ]"
	style := s.Pending
	if total > 0 && completed == total {
		mark = "[x]"
		style = s.Done
	} else if completed > 0 {
		mark = "[~]"
	}

	line := fmt.Sprintf("  %s %s", mark, t.Title)
	if total > 0 {
		line += s.Muted.Render(fmt.Sprintf(" (%d/%d)", completed, total))
	}
	return style.Render(line) + "\n"
}

// RenderTask renders one task with its steps and reflection.
func (s Styles) RenderTask(t *task.Task) string {
	var b strings.Builder
	completed, total, _ := t.Completion()
	b.WriteString(s.Title.Render(t.Title))
	b.WriteString(s.Muted.Render(fmt.Sprintf("  %d/%d steps", completed, total)))
	b.WriteString("\n")
	for _, step := range t.Steps {
		if step.Status == task.StepComplete {
			b.WriteString(s.Done.Render("  [x] " + step.Description))
		} else {
			b.WriteString(s.Pending.Render("  [ ] " + step.Description))
		}
		b.WriteString("\n")
	}
	if t.Reflection != "" {
		b.WriteString(s.Muted.Render("  reflection: " + t.Reflection))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderStatus renders a sync status snapshot.
func (s Styles) RenderStatus(st orchestrator.Status) string {
	var b strings.Builder

	var badge string
	switch st.Status {
	case orchestrator.StatusConnected:
		badge = s.Ok.Render("● connected")
	case orchestrator.StatusSyncing, orchestrator.StatusConnecting:
		badge = s.Warning.Render("◐ " + string(st.Status))
	case orchestrator.StatusError:
		badge = s.Error.Render("✗ error")
	default:
		badge = s.Muted.Render("○ disconnected")
	}
	b.WriteString(badge)
	b.WriteString("\n")
	b.WriteString(st.Message)
	b.WriteString("\n")

	if st.Enabled {
		if !st.LastSyncTime.IsZero() {
			b.WriteString(s.Muted.Render("last sync: " + st.LastSyncTime.Format(time.RFC1123)))
			b.WriteString("\n")
		}
		if st.Failures > 0 {
			b.WriteString(s.Muted.Render(fmt.Sprintf("failures: %d", st.Failures)))
			b.WriteString("\n")
		}
	}
	return b.String()
}
