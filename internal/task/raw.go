package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawTask is the untrusted decode target for task entries arriving from
// disk or the remote document store. Every field is optional; steps that
// are not an array decode to nil rather than failing. Repair is the only
// conversion from RawTask to a validated Task.
type RawTask struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Steps        []RawStep `json:"-"`
	StepsValid   bool      `json:"-"`
	Reflection   *string   `json:"reflection"`
	LastModified string    `json:"lastModified"`
	DateCreated  string    `json:"dateCreated"`
	WeekContext  string    `json:"weekContext"`
	DayContext   string    `json:"dayContext"`
	TaskType     string    `json:"taskType"`
	IsRecurring  bool      `json:"isRecurring"`
	Category     string    `json:"category"`
}

// RawStep is the untrusted decode target for a step entry.
type RawStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// UnmarshalJSON decodes a task entry, tolerating a malformed steps field.
// A steps value that is not an array of objects leaves Steps nil and
// StepsValid false; Repair substitutes a default step list.
func (r *RawTask) UnmarshalJSON(data []byte) error {
	type alias RawTask
	aux := struct {
		*alias
		RawSteps json.RawMessage `json:"steps"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.RawSteps) > 0 {
		var steps []RawStep
		if err := json.Unmarshal(aux.RawSteps, &steps); err == nil {
			r.Steps = steps
			r.StepsValid = true
		}
	}
	return nil
}

// Usable reports whether the raw entry carries enough identity to keep.
// Entries with neither an id nor a title are dropped during sanitization.
func (r *RawTask) Usable() bool {
	return r.ID != "" || strings.TrimSpace(r.Title) != ""
}

// Repair converts a raw task into a validated Task. It never fails:
//   - missing title        -> "Untitled Task"
//   - missing/invalid steps -> a single default step
//   - step defects          -> per-step id/description/status backfill
//   - missing reflection    -> ""
//   - missing lastModified  -> now
//   - legacy recurring data -> explicit Kind and Recurring flag
//
// The task ID is preserved as-is, including empty. Assigning fresh IDs is
// the merge engine's job; generating one here would give the two sides of
// a sync different IDs for the same legacy task.
func (r *RawTask) Repair(now time.Time) *Task {
	t := &Task{
		ID:          r.ID,
		Title:       strings.TrimSpace(r.Title),
		DateCreated: r.DateCreated,
		WeekContext: r.WeekContext,
		DayContext:  r.DayContext,
		Kind:        Kind(r.TaskType),
		Recurring:   r.IsRecurring,
		Category:    r.Category,
	}

	if t.Title == "" {
		t.Title = "Untitled Task"
	}

	if r.Reflection != nil {
		t.Reflection = *r.Reflection
	}

	t.LastModified = parseTimestamp(r.LastModified, now)

	if !r.StepsValid {
		t.Steps = []Step{{
			ID:          StepID(t.ID, 1),
			Description: "Complete task",
			Status:      StepPending,
		}}
	} else {
		t.Steps = make([]Step, len(r.Steps))
		for i, rs := range r.Steps {
			s := Step{
				ID:          rs.ID,
				Description: rs.Description,
				Status:      StepStatus(rs.Status),
			}
			if s.ID == "" {
				s.ID = StepID(t.ID, i+1)
			}
			if s.Description == "" {
				s.Description = fmt.Sprintf("Step %d", i+1)
			}
			if s.Status != StepPending && s.Status != StepComplete {
				s.Status = StepPending
			}
			t.Steps[i] = s
		}
	}

	// Legacy migration: recurring template titles imply kind and flag.
	if IsRecurringTitle(t.Title) {
		t.Recurring = true
		if t.Kind == "" || t.Kind == KindCustom {
			t.Kind = KindForTitle(t.Title)
		}
	}
	switch t.Kind {
	case KindPlanning, KindReflection, KindCheckin, KindCustom:
	default:
		t.Kind = KindCustom
	}

	return t
}

// parseTimestamp parses an RFC 3339 timestamp, falling back to now.
func parseTimestamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now
}
