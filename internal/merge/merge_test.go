package merge

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/mschirtzinger/prodcal/internal/task"
)

var (
	t0      = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	t1      = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	t2      = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	mergeAt = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
)

func testMerger() *Merger {
	return New(log.New(io.Discard, "", 0)).WithClock(func() time.Time { return mergeAt })
}

// checkinTask builds a Daily Check-in with the given id, completed steps
// out of total, and modification time.
func checkinTask(id string, completed, total int, modified time.Time) *task.Task {
	steps := make([]task.Step, total)
	for i := range steps {
		status := task.StepPending
		if i < completed {
			status = task.StepComplete
		}
		steps[i] = task.Step{ID: task.StepID(id, i+1), Description: "step", Status: status}
	}
	return &task.Task{
		ID:           id,
		Title:        task.TitleCheckin,
		Steps:        steps,
		LastModified: modified,
		DateCreated:  "2024-3-4",
		DayContext:   "2024-3-4",
		Kind:         task.KindCheckin,
		Recurring:    true,
	}
}

func planningTask(id, dateKey, week string, modified time.Time) *task.Task {
	return &task.Task{
		ID:           id,
		Title:        task.TitlePlanning,
		Steps:        []task.Step{{ID: task.StepID(id, 1), Description: "plan", Status: task.StepPending}},
		LastModified: modified,
		DateCreated:  dateKey,
		WeekContext:  week,
		Kind:         task.KindPlanning,
		Recurring:    true,
	}
}

func datasetWith(key string, tasks ...*task.Task) *task.Dataset {
	ds := task.NewDataset()
	for _, t := range tasks {
		ds.Add(key, t)
	}
	return ds
}

func TestMerge_EmptyRemote(t *testing.T) {
	// Scenario 1: L has one task, R empty -> result is L unchanged.
	local := datasetWith("2024-3-4", checkinTask("1", 1, 2, t1))

	merged, info := testMerger().Datasets(local, task.NewDataset())

	if merged.TaskCount() != 1 {
		t.Fatalf("TaskCount = %d, want 1", merged.TaskCount())
	}
	got := merged.Days["2024-3-4"][0]
	if got.ID != "1" {
		t.Errorf("ID = %q, want 1", got.ID)
	}
	completed, total, _ := got.Completion()
	if completed != 1 || total != 2 {
		t.Errorf("completion = %d/%d, want 1/2", completed, total)
	}
	if info.TasksAdded != 0 || info.TasksUpdated != 0 {
		t.Errorf("info = %+v, want no adds/updates", info)
	}
}

func TestMerge_EmptyLocal(t *testing.T) {
	// Scenario 2: L empty, R has one task -> result is R.
	remote := datasetWith("2024-3-4", checkinTask("2", 0, 2, t1))

	merged, info := testMerger().Datasets(task.NewDataset(), remote)

	if merged.TaskCount() != 1 {
		t.Fatalf("TaskCount = %d, want 1", merged.TaskCount())
	}
	if merged.Days["2024-3-4"][0].ID != "2" {
		t.Errorf("ID = %q, want 2", merged.Days["2024-3-4"][0].ID)
	}
	if info.TasksAdded != 1 {
		t.Errorf("TasksAdded = %d, want 1", info.TasksAdded)
	}
}

func TestMerge_BothEmpty(t *testing.T) {
	merged, _ := testMerger().Datasets(task.NewDataset(), task.NewDataset())
	if merged.TaskCount() != 0 {
		t.Errorf("TaskCount = %d, want 0", merged.TaskCount())
	}
}

func TestMerge_NilInputs(t *testing.T) {
	merged, _ := testMerger().Datasets(nil, nil)
	if merged == nil || merged.TaskCount() != 0 {
		t.Errorf("merge of nil inputs should be empty dataset, got %v", merged)
	}
}

func TestMerge_ConflictHigherCompletionWins(t *testing.T) {
	// Scenario 3: same id both sides, remote 2/2 complete and newer -> remote wins.
	local := datasetWith("2024-3-4", checkinTask("1", 0, 2, t1))
	remote := datasetWith("2024-3-4", checkinTask("1", 2, 2, t2))

	merged, info := testMerger().Datasets(local, remote)

	if got := len(merged.Days["2024-3-4"]); got != 1 {
		t.Fatalf("bucket has %d tasks, want 1", got)
	}
	result := merged.Days["2024-3-4"][0]
	if result.ID != "1" {
		t.Errorf("ID = %q, want 1", result.ID)
	}
	completed, total, _ := result.Completion()
	if completed != 2 || total != 2 {
		t.Errorf("completion = %d/%d, want 2/2", completed, total)
	}
	if !result.LastModified.Equal(mergeAt) {
		t.Errorf("LastModified = %v, want restamped to %v", result.LastModified, mergeAt)
	}
	if info.TasksUpdated != 1 {
		t.Errorf("TasksUpdated = %d, want 1", info.TasksUpdated)
	}
}

func TestMerge_WeekIsolation(t *testing.T) {
	// Scenario 4: two planning tasks in adjacent weeks stay separate.
	local := datasetWith("2024-3-3", planningTask("p1", "2024-3-3", "2024-2-26", t1))
	remote := datasetWith("2024-3-10", planningTask("p2", "2024-3-10", "2024-3-4", t1))

	merged, _ := testMerger().Datasets(local, remote)

	if merged.TaskCount() != 2 {
		t.Fatalf("TaskCount = %d, want 2 (weeks must not collapse)", merged.TaskCount())
	}
	if len(merged.Days["2024-3-3"]) != 1 || len(merged.Days["2024-3-10"]) != 1 {
		t.Errorf("tasks not in their own buckets: %v", merged.DayKeys())
	}
}

func TestMerge_CrossWeekGuard(t *testing.T) {
	// A remote planning task stamped with another week's context must not
	// enter this bucket even though the titles match.
	local := datasetWith("2024-3-3", planningTask("p1", "2024-3-3", "2024-2-26", t1))
	foreign := planningTask("p2", "2024-3-10", "2024-3-4", t2)
	remote := datasetWith("2024-3-3", foreign)

	merged, info := testMerger().Datasets(local, remote)

	bucket := merged.Days["2024-3-3"]
	if len(bucket) != 1 || bucket[0].ID != "p1" {
		t.Fatalf("bucket = %v, want only p1", bucket)
	}
	if info.CrossWeekBlocks != 1 {
		t.Errorf("CrossWeekBlocks = %d, want 1", info.CrossWeekBlocks)
	}
}

func TestMerge_MalformedRemoteBucketPreservesLocal(t *testing.T) {
	// Scenario 5: remote bucket arrives as "not-an-array"; the dataset
	// decoder coerces it to empty and the local bucket survives.
	remote, err := task.Decode([]byte(`{"2024-3-4": "not-an-array"}`), t1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	local := datasetWith("2024-3-4", checkinTask("1", 1, 2, t1))

	merged, _ := testMerger().Datasets(local, remote)

	bucket := merged.Days["2024-3-4"]
	if len(bucket) != 1 || bucket[0].ID != "1" {
		t.Errorf("local bucket not preserved: %v", bucket)
	}
}

func TestMerge_NoLoss(t *testing.T) {
	// A task with a unique id on only one side survives unchanged.
	local := datasetWith("2024-3-4", checkinTask("only-local", 1, 3, t1))
	local.Add("2024-3-5", &task.Task{ID: "c1", Title: "Write report", Steps: []task.Step{{Status: task.StepPending}}, LastModified: t1})
	remote := datasetWith("2024-3-4", checkinTask("only-remote", 2, 3, t2))
	remote.Add("2024-3-6", &task.Task{ID: "c2", Title: "Call dentist", Steps: []task.Step{{Status: task.StepPending}}, LastModified: t1})

	merged, _ := testMerger().Datasets(local, remote)

	// only-local and only-remote share (week, title): dedup keeps one. The
	// two custom tasks are never deduplicated.
	ids := map[string]bool{}
	for _, key := range merged.DayKeys() {
		for _, tk := range merged.Days[key] {
			ids[tk.ID] = true
		}
	}
	if !ids["c1"] || !ids["c2"] {
		t.Errorf("non-recurring tasks lost: %v", ids)
	}
}

func TestMerge_UniqueIDSingleSideUnchanged(t *testing.T) {
	orig := &task.Task{
		ID:           "keep-me",
		Title:        "Plan vacation",
		Steps:        []task.Step{{ID: "s1", Description: "pick dates", Status: task.StepComplete}},
		Reflection:   "thinking Italy",
		LastModified: t1,
		DateCreated:  "2024-3-5",
	}
	remote := datasetWith("2024-3-5", orig)

	merged, _ := testMerger().Datasets(task.NewDataset(), remote)

	got := merged.Days["2024-3-5"][0]
	if got.ID != "keep-me" || got.Title != "Plan vacation" || got.Reflection != "thinking Italy" {
		t.Errorf("single-side task mutated: %+v", got)
	}
	if got.Steps[0].Status != task.StepComplete {
		t.Error("step status changed")
	}
}

func TestMerge_SelfMergeIdempotent(t *testing.T) {
	ds := datasetWith("2024-3-4", checkinTask("1", 1, 2, t1))
	ds.Add("2024-3-3", planningTask("p1", "2024-3-3", "2024-2-26", t1))
	ds.Add("2024-3-5", &task.Task{ID: "c1", Title: "Errands", Steps: []task.Step{{Status: task.StepPending}}, LastModified: t1})

	merged, _ := testMerger().Datasets(ds, ds.Clone())

	if merged.TaskCount() != ds.TaskCount() {
		t.Errorf("self-merge count = %d, want %d", merged.TaskCount(), ds.TaskCount())
	}
}

func TestMerge_DedupKeepsHighestScore(t *testing.T) {
	// Two check-ins with distinct ids (a historical double-generation bug)
	// are not equal under the identity rule, so both land in the bucket;
	// week-scoped dedup must collapse them to the higher-scoring one.
	a := checkinTask("dup-a", 3, 3, t1)
	a.Reflection = "good day"
	b := checkinTask("dup-b", 0, 2, t2)

	local := datasetWith("2024-3-4", a)
	remote := datasetWith("2024-3-4", b)

	merged, _ := testMerger().Datasets(local, remote)

	bucket := merged.Days["2024-3-4"]
	if len(bucket) != 1 {
		t.Fatalf("bucket has %d tasks, want 1 after dedup", len(bucket))
	}
	completed, _, _ := bucket[0].Completion()
	if completed != 3 || bucket[0].Reflection != "good day" {
		t.Errorf("dedup kept the wrong task: %+v", bucket[0])
	}
	if bucket[0].ID == "" {
		t.Error("merged output must carry an ID")
	}
}

func TestMerge_NonRecurringNeverDeduped(t *testing.T) {
	a := &task.Task{ID: "x1", Title: "Groceries", Steps: []task.Step{{Status: task.StepPending}}, LastModified: t1, DateCreated: "2024-3-4"}
	b := &task.Task{ID: "x2", Title: "Groceries", Steps: []task.Step{{Status: task.StepPending}, {Status: task.StepPending}}, LastModified: t1, DateCreated: "2024-3-4"}

	merged, _ := testMerger().Datasets(datasetWith("2024-3-4", a), datasetWith("2024-3-4", b))

	if got := len(merged.Days["2024-3-4"]); got != 2 {
		t.Errorf("bucket has %d tasks, want both Groceries kept", got)
	}
}

func TestMergeVersions_Monotonic(t *testing.T) {
	// Completion ratio difference beyond the threshold always wins,
	// regardless of recency.
	ahead := checkinTask("1", 3, 3, t0) // older but complete
	behind := checkinTask("1", 0, 3, t2)

	out := testMerger().mergeVersions(behind, ahead, mergeAt)
	completed, _, _ := out.Completion()
	if completed != 3 {
		t.Errorf("completed = %d, want 3 (no regression)", completed)
	}

	// Symmetric order.
	out = testMerger().mergeVersions(ahead, behind, mergeAt)
	completed, _, _ = out.Completion()
	if completed != 3 {
		t.Errorf("completed = %d, want 3 in reverse order", completed)
	}
}

func TestMergeVersions_RecencyTieBreak(t *testing.T) {
	older := checkinTask("1", 1, 3, t0)
	older.Reflection = "long and detailed reflection text"
	newer := checkinTask("1", 1, 3, t2)

	out := testMerger().mergeVersions(older, newer, mergeAt)

	// Newer wins, but the older side's longer reflection is kept.
	if out.Reflection != "long and detailed reflection text" {
		t.Errorf("reflection backfill missing, got %q", out.Reflection)
	}
	if !out.LastModified.Equal(mergeAt) {
		t.Errorf("LastModified = %v, want %v", out.LastModified, mergeAt)
	}
}

func TestMergeVersions_ExtraStepsNeverDropped(t *testing.T) {
	short := checkinTask("1", 2, 2, t2) // wins on completion
	long := checkinTask("1", 0, 5, t0)

	out := testMerger().mergeVersions(short, long, mergeAt)
	if len(out.Steps) != 5 {
		t.Errorf("got %d steps, want 5 (extra steps backfilled)", len(out.Steps))
	}
	completed, _, _ := out.Completion()
	if completed != 2 {
		t.Errorf("completed = %d, want 2", completed)
	}
}

func TestScore_Ordering(t *testing.T) {
	m := testMerger()

	complete := checkinTask("1", 3, 3, mergeAt)
	complete.Reflection = "done"
	empty := checkinTask("2", 0, 3, mergeAt.Add(-10*24*time.Hour))

	if m.score(complete, mergeAt) <= m.score(empty, mergeAt) {
		t.Error("completed+reflected task must outscore stale empty one")
	}
}
