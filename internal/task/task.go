// Package task defines the task/step data model, stable identity rules for
// auto-generated recurring tasks, and the day-bucketed Dataset that the
// store, remote client, and merge engine all operate on.
//
// Raw JSON from disk or the remote document store is never trusted: it is
// decoded through the RawTask type and converted to a validated Task by
// Repair, which is total: it never fails, it fills in whatever is missing.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/prodcal/internal/dates"
)

// StepStatus is the completion state of a single step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepComplete StepStatus = "complete"
)

// Kind identifies which recurring template a task was created from.
// Custom tasks (user-created, non-recurring) use KindCustom.
type Kind string

const (
	KindPlanning   Kind = "planning"
	KindReflection Kind = "reflection"
	KindCheckin    Kind = "checkin"
	KindCustom     Kind = "custom"
)

// Template titles for recurring tasks. Legacy datasets identify recurring
// tasks by these titles alone; Repair migrates them to an explicit Kind.
const (
	TitlePlanning   = "Weekly Planning"
	TitleReflection = "Friday Reflection"
	TitleCheckin    = "Daily Check-in"
)

// Step is a single checklist item within a task. Steps have no independent
// lifecycle; they exist only as children of a Task.
type Step struct {
	ID          string     `json:"id,omitempty"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// Task is a validated task entry. ID is assigned once at creation and never
// regenerated, except when a task is duplicated to another day or when the
// merge engine synthesizes a replacement for a corrupt entry.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Steps        []Step    `json:"steps"`
	Reflection   string    `json:"reflection"`
	LastModified time.Time `json:"lastModified"`
	DateCreated  string    `json:"dateCreated,omitempty"`
	WeekContext  string    `json:"weekContext,omitempty"`
	DayContext   string    `json:"dayContext,omitempty"`
	Kind         Kind      `json:"taskType,omitempty"`
	Recurring    bool      `json:"isRecurring,omitempty"`
	Category     string    `json:"category,omitempty"`
}

// NewID generates a collision-resistant task ID: a millisecond timestamp
// plus a random suffix.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), suffix)
}

// StepID returns the canonical ID for the n-th step (1-based) of a task.
func StepID(taskID string, n int) string {
	return fmt.Sprintf("%s_step_%d", taskID, n)
}

// KindForTitle maps a recurring template title to its Kind. Returns
// KindCustom for anything else. Used only to migrate legacy data that
// predates the explicit taskType field.
func KindForTitle(title string) Kind {
	switch title {
	case TitlePlanning:
		return KindPlanning
	case TitleReflection:
		return KindReflection
	case TitleCheckin:
		return KindCheckin
	default:
		return KindCustom
	}
}

// IsRecurringTitle reports whether title is one of the recurring templates.
func IsRecurringTitle(title string) bool {
	return KindForTitle(title) != KindCustom
}

// IsRecurring reports whether t is a recurring task, either by explicit
// flag or by carrying a recurring template title (legacy data).
func (t *Task) IsRecurring() bool {
	return t.Recurring || IsRecurringTitle(t.Title)
}

// Completion returns the completed and total step counts and the completion
// ratio in [0, 1]. A task with no steps has ratio 0.
func (t *Task) Completion() (completed, total int, ratio float64) {
	for _, s := range t.Steps {
		total++
		if s.Status == StepComplete {
			completed++
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return completed, total, float64(completed) / float64(total)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Steps = make([]Step, len(t.Steps))
	copy(c.Steps, t.Steps)
	return &c
}

// Duplicate returns a copy of the task with a fresh identity, for moving
// or copying a task to another day.
func (t *Task) Duplicate(now time.Time) *Task {
	c := t.Clone()
	c.ID = NewID(now)
	for i := range c.Steps {
		c.Steps[i].ID = StepID(c.ID, i+1)
	}
	c.LastModified = now
	return c
}

// New creates a task from the template for the given kind, anchored to the
// day bucket dateKey. Weekly-cadence kinds (planning, reflection) receive a
// WeekContext; the daily check-in receives a DayContext instead.
func New(kind Kind, dateKey string, now time.Time) *Task {
	if dateKey == "" {
		dateKey = dates.DateKey(now)
	}

	t := &Task{
		ID:           NewID(now),
		Reflection:   "",
		LastModified: now,
		DateCreated:  dateKey,
		Kind:         kind,
		Recurring:    true,
	}

	var steps []string
	switch kind {
	case KindPlanning:
		t.Title = TitlePlanning
		t.Category = "planning"
		steps = []string{
			"Review last week's achievements",
			"Set 3 key goals for this week",
			"Plan daily priorities",
			"Schedule important tasks",
		}
	case KindReflection:
		t.Title = TitleReflection
		t.Category = "reflection"
		steps = []string{
			"Review week's accomplishments",
			"Identify lessons learned",
			"Note areas for improvement",
			"Celebrate wins",
		}
	case KindCheckin:
		t.Title = TitleCheckin
		t.Category = "checkin"
		steps = []string{
			"Review today's priorities",
			"Complete 3 most important tasks",
			"Plan tomorrow's focus",
		}
	default:
		t.Title = "New Task"
		t.Category = "custom"
		t.Kind = KindCustom
		t.Recurring = false
		steps = []string{"Complete task"}
	}

	if weekly := kind == KindPlanning || kind == KindReflection; weekly {
		if d, err := dates.ParseDateKey(dateKey); err == nil {
			t.WeekContext = dates.WeekIdentifier(d)
		}
	} else if kind == KindCheckin {
		t.DayContext = dateKey
	}

	t.Steps = make([]Step, len(steps))
	for i, desc := range steps {
		t.Steps[i] = Step{
			ID:          StepID(t.ID, i+1),
			Description: desc,
			Status:      StepPending,
		}
	}

	return t
}

// SeedWeek generates the recurring tasks for the display week containing
// anchor: Weekly Planning on Sunday, Friday Reflection on Friday, and a
// Daily Check-in on Monday through Thursday. Saturday gets no task.
func SeedWeek(anchor, now time.Time) map[string][]*Task {
	start := dates.DisplayWeekStart(anchor)
	seeded := make(map[string][]*Task, 7)

	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		key := dates.DateKey(day)
		seeded[key] = []*Task{}

		switch day.Weekday() {
		case time.Sunday:
			seeded[key] = append(seeded[key], New(KindPlanning, key, now))
		case time.Friday:
			seeded[key] = append(seeded[key], New(KindReflection, key, now))
		case time.Saturday:
			// rest day
		default:
			seeded[key] = append(seeded[key], New(KindCheckin, key, now))
		}
	}

	return seeded
}
