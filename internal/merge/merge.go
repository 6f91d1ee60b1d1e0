// Package merge reconciles a local and a remote dataset into a single
// dataset that preserves every task present in either side.
//
// The merge walks the union of day-bucket keys, folds remote tasks into the
// local bucket under an identity rule (IDs first, week-scoped title matching
// for legacy data), resolves conflicts between two versions of the same
// logical task, and finally collapses duplicate recurring tasks within each
// (week, title) group to a single best candidate.
//
// Merging is not commutative (conflict resolution prefers completion and
// recency asymmetrically), but it never drops a task that exists
// unambiguously on only one side.
package merge

import (
	"log"
	"math"
	"os"
	"time"

	"github.com/mschirtzinger/prodcal/internal/dates"
	"github.com/mschirtzinger/prodcal/internal/task"
)

// Heuristic constants tuned against observed datasets. They can change as
// long as the no-loss and week-isolation guarantees hold.
const (
	// completionGap is the minimum completion-ratio difference before the
	// more complete version wins outright over the more recent one.
	completionGap = 0.1

	// Dedup scoring weights.
	scorePerCompletedStep = 10.0
	scoreReflection       = 20.0
	scorePerStep          = 2.0
	recencyWindowDays     = 7.0
)

// Merger combines datasets. The zero value is not usable; call New.
type Merger struct {
	now    func() time.Time
	logger *log.Logger
}

// New creates a Merger. If logger is nil, a default logger writing to
// stderr is used.
func New(logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &Merger{now: time.Now, logger: logger}
}

// WithClock overrides the merger's clock. Tests only.
func (m *Merger) WithClock(now func() time.Time) *Merger {
	m.now = now
	return m
}

// Datasets merges remote into local and returns the reconciled dataset
// along with merge statistics. Neither input is mutated. Metadata keys are
// never treated as day buckets. Tasks lacking an ID receive a fresh one in
// the output.
func (m *Merger) Datasets(local, remote *task.Dataset) (*task.Dataset, *task.MergeInfo) {
	now := m.now()
	if local == nil {
		local = task.NewDataset()
	}
	if remote == nil {
		remote = task.NewDataset()
	}

	info := &task.MergeInfo{
		LocalTaskCount:  local.TaskCount(),
		RemoteTaskCount: remote.TaskCount(),
		MergedAt:        now,
	}

	merged := task.NewDataset()
	merged.Meta = local.Meta
	merged.Meta.MergeInfo = nil

	for _, key := range unionKeys(local, remote) {
		merged.Days[key] = m.mergeBucket(key, local.Days[key], remote.Days[key], now, info)
	}

	// Output tasks always carry an ID.
	for key, bucket := range merged.Days {
		for _, t := range bucket {
			m.stampIdentity(t, key, now)
		}
	}

	info.FinalTaskCount = merged.TaskCount()
	merged.Meta.MergeInfo = info

	m.logger.Printf("merged datasets: local=%d remote=%d final=%d added=%d updated=%d crossWeekBlocks=%d",
		info.LocalTaskCount, info.RemoteTaskCount, info.FinalTaskCount,
		info.TasksAdded, info.TasksUpdated, info.CrossWeekBlocks)

	return merged, info
}

// mergeBucket merges one day bucket. Local order is preserved; remote-only
// tasks append in remote order.
func (m *Merger) mergeBucket(key string, local, remote []*task.Task, now time.Time, info *task.MergeInfo) []*task.Task {
	out := make([]*task.Task, 0, len(local)+len(remote))
	for _, t := range local {
		out = append(out, t.Clone())
	}

	bucketWeek, bucketWeekErr := dates.WeekIdentifierForKey(key)

	for _, rt := range remote {
		// Cross-week guard: a recurring task's remote copy must never land
		// in a different week's bucket, even when titles line up.
		if bucketWeekErr == nil && rt.IsRecurring() {
			if tw := taskWeek(rt, key); tw != "" && tw != bucketWeek {
				info.CrossWeekBlocks++
				m.logger.Printf("blocked cross-week merge of %q (task week %s, bucket week %s)", rt.Title, tw, bucketWeek)
				continue
			}
		}

		idx := -1
		for i, lt := range out {
			if tasksEqual(lt, rt, key) {
				idx = i
				break
			}
		}

		if idx >= 0 {
			out[idx] = m.mergeVersions(out[idx], rt, now)
			info.TasksUpdated++
		} else {
			appended := rt.Clone()
			m.stampIdentity(appended, key, now)
			out = append(out, appended)
			info.TasksAdded++
		}
	}

	return m.dedupRecurring(key, out, now)
}

// stampIdentity fills identity fields a task must carry once it is part of
// a bucket: an ID, the bucket's date, and a week context for recurring
// tasks.
func (m *Merger) stampIdentity(t *task.Task, key string, now time.Time) {
	if t.ID == "" {
		t.ID = task.NewID(now)
		for i := range t.Steps {
			if t.Steps[i].ID == "" {
				t.Steps[i].ID = task.StepID(t.ID, i+1)
			}
		}
	}
	if t.DateCreated == "" {
		t.DateCreated = key
	}
	if t.IsRecurring() && t.WeekContext == "" {
		if w, err := dates.WeekIdentifierForKey(key); err == nil {
			t.WeekContext = w
		}
	}
}

// unionKeys returns the union of day-bucket keys from both datasets,
// metadata excluded (the Dataset type already keeps metadata out of Days,
// but stored keys are still screened against the reserved names).
func unionKeys(a, b *task.Dataset) []string {
	seen := make(map[string]bool, len(a.Days)+len(b.Days))
	for k := range a.Days {
		if !task.MetaKeys[k] {
			seen[k] = true
		}
	}
	for k := range b.Days {
		if !task.MetaKeys[k] {
			seen[k] = true
		}
	}
	union := task.NewDataset()
	for k := range seen {
		union.Days[k] = nil
	}
	return union.DayKeys()
}

// taskWeek resolves the week identifier of a task: explicit WeekContext
// first, then the week derived from its creation date or day context, then
// the bucket's own week.
func taskWeek(t *task.Task, bucketKey string) string {
	if t.WeekContext != "" {
		return t.WeekContext
	}
	for _, key := range []string{t.DateCreated, t.DayContext, bucketKey} {
		if key == "" {
			continue
		}
		if w, err := dates.WeekIdentifierForKey(key); err == nil {
			return w
		}
	}
	return ""
}

// dateContext returns the task's own day anchor, defaulting to the bucket.
func dateContext(t *task.Task, bucketKey string) string {
	if t.DayContext != "" {
		return t.DayContext
	}
	if t.DateCreated != "" {
		return t.DateCreated
	}
	return bucketKey
}

// tasksEqual decides whether two tasks are the same logical task within
// the given bucket.
//
// When both carry an ID, the IDs decide: that is the only reliable signal
// and overrides everything else. Without IDs, recurring tasks match only
// when title, week identifier, and date context all agree (so one week's
// planning task can never absorb another week's), and non-recurring tasks
// match on title, step count, and date context.
func tasksEqual(a, b *task.Task, bucketKey string) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}

	if a.Title != b.Title {
		return false
	}

	if task.IsRecurringTitle(a.Title) {
		return taskWeek(a, bucketKey) == taskWeek(b, bucketKey) &&
			dateContext(a, bucketKey) == dateContext(b, bucketKey)
	}

	return len(a.Steps) == len(b.Steps) &&
		dateContext(a, bucketKey) == dateContext(b, bucketKey)
}

// mergeVersions resolves a conflict between two versions of the same
// logical task. The winner is the version with a meaningfully higher
// completion ratio (beyond completionGap), otherwise the more recently
// modified one. The loser still contributes a longer reflection and any
// steps beyond the winner's count; steps are never dropped. The result is
// restamped with a fresh LastModified and keeps the winner's ID, or the
// loser's if the winner has none.
func (m *Merger) mergeVersions(a, b *task.Task, now time.Time) *task.Task {
	_, _, ratioA := a.Completion()
	_, _, ratioB := b.Completion()

	var winner, loser *task.Task
	switch {
	case ratioA-ratioB > completionGap:
		winner, loser = a, b
	case ratioB-ratioA > completionGap:
		winner, loser = b, a
	case b.LastModified.After(a.LastModified):
		winner, loser = b, a
	default:
		winner, loser = a, b
	}

	out := winner.Clone()

	if len(loser.Reflection) > len(out.Reflection) {
		out.Reflection = loser.Reflection
	}
	if len(loser.Steps) > len(out.Steps) {
		extra := loser.Steps[len(out.Steps):]
		for _, s := range extra {
			out.Steps = append(out.Steps, s)
		}
	}
	if out.ID == "" {
		out.ID = loser.ID
	}
	out.LastModified = now

	return out
}

// dedupRecurring collapses recurring tasks that share (week, title) within
// a bucket down to the single highest-scoring member. Non-recurring tasks
// pass through untouched. Duplicates can appear from historical bugs or
// concurrent writers on both sides of a sync.
func (m *Merger) dedupRecurring(key string, bucket []*task.Task, now time.Time) []*task.Task {
	type group struct{ week, title string }

	best := make(map[group]*task.Task)
	order := make([]*task.Task, 0, len(bucket))

	for _, t := range bucket {
		if !t.IsRecurring() {
			order = append(order, t)
			continue
		}
		g := group{week: taskWeek(t, key), title: t.Title}
		cur, ok := best[g]
		if !ok {
			best[g] = t
			order = append(order, t)
			continue
		}
		if m.score(t, now) > m.score(cur, now) {
			// Replace in place to keep bucket ordering stable.
			for i, o := range order {
				if o == cur {
					order[i] = t
					break
				}
			}
			best[g] = t
			m.logger.Printf("dedup: replaced %q in week %s with higher-scoring duplicate", t.Title, g.week)
		} else {
			m.logger.Printf("dedup: dropped duplicate %q in week %s", t.Title, g.week)
		}
	}

	return order
}

// score ranks duplicate recurring tasks: completed work and written
// reflection dominate, recency and step detail break ties.
func (m *Merger) score(t *task.Task, now time.Time) float64 {
	completed, total, _ := t.Completion()

	s := scorePerCompletedStep*float64(completed) + scorePerStep*float64(total)
	if t.Reflection != "" {
		s += scoreReflection
	}

	days := now.Sub(t.LastModified).Hours() / 24
	if days < 0 {
		days = 0
	}
	s += math.Max(0, recencyWindowDays-days)

	return s
}
