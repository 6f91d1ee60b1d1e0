package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mschirtzinger/prodcal/internal/dates"
)

// Metadata field names that share the top-level JSON object with day-bucket
// keys. These must never be interpreted as date keys during iteration.
const (
	metaLastSyncedAt   = "lastSyncedAt"
	metaSyncedFrom     = "syncedFrom"
	metaSyncVersion    = "syncVersion"
	metaLocalTimestamp = "localTimestamp"
	metaMergeInfo      = "mergeInfo"
)

// MetaKeys is the set of reserved top-level keys carrying sync metadata.
var MetaKeys = map[string]bool{
	metaLastSyncedAt:   true,
	metaSyncedFrom:     true,
	metaSyncVersion:    true,
	metaLocalTimestamp: true,
	metaMergeInfo:      true,
}

// Meta holds the transient sync metadata attached to a serialized dataset.
// It is stripped from task-level use and re-attached only at the
// persistence boundaries (local store, remote document).
type Meta struct {
	LastSyncedAt   time.Time  `json:"lastSyncedAt,omitempty"`
	SyncedFrom     string     `json:"syncedFrom,omitempty"`
	SyncVersion    int        `json:"syncVersion,omitempty"`
	LocalTimestamp time.Time  `json:"localTimestamp,omitempty"`
	MergeInfo      *MergeInfo `json:"mergeInfo,omitempty"`
}

// MergeInfo records observability counters from the last merge. It is
// informational only; no consumer other than diagnostics may act on it.
type MergeInfo struct {
	LocalTaskCount  int       `json:"localTaskCount"`
	RemoteTaskCount int       `json:"remoteTaskCount"`
	FinalTaskCount  int       `json:"finalTaskCount"`
	TasksAdded      int       `json:"tasksAdded"`
	TasksUpdated    int       `json:"tasksUpdated"`
	CrossWeekBlocks int       `json:"crossWeekBlocks"`
	MergedAt        time.Time `json:"mergedAt"`
}

// Dataset is the full day-bucket-keyed task collection for one user, plus
// its transient sync metadata. The zero value is not usable; call
// NewDataset.
type Dataset struct {
	Days map[string][]*Task
	Meta Meta
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{Days: make(map[string][]*Task)}
}

// TaskCount returns the total number of tasks across all day buckets.
func (d *Dataset) TaskCount() int {
	n := 0
	for _, bucket := range d.Days {
		n += len(bucket)
	}
	return n
}

// DayKeys returns all day-bucket keys in chronological order. Keys that do
// not parse as dates sort last, in lexical order.
func (d *Dataset) DayKeys() []string {
	keys := make([]string, 0, len(d.Days))
	for k := range d.Days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, erri := dates.ParseDateKey(keys[i])
		tj, errj := dates.ParseDateKey(keys[j])
		switch {
		case erri == nil && errj == nil:
			return ti.Before(tj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Add appends a task to the given day bucket.
func (d *Dataset) Add(dateKey string, t *Task) {
	if d.Days == nil {
		d.Days = make(map[string][]*Task)
	}
	d.Days[dateKey] = append(d.Days[dateKey], t)
}

// Clone returns a deep copy of the dataset, including metadata.
func (d *Dataset) Clone() *Dataset {
	c := NewDataset()
	c.Meta = d.Meta
	if d.Meta.MergeInfo != nil {
		info := *d.Meta.MergeInfo
		c.Meta.MergeInfo = &info
	}
	for key, bucket := range d.Days {
		cloned := make([]*Task, len(bucket))
		for i, t := range bucket {
			cloned[i] = t.Clone()
		}
		c.Days[key] = cloned
	}
	return c
}

// StripMeta returns the dataset with zeroed metadata, for consumers that
// must treat it as pure task data.
func (d *Dataset) StripMeta() *Dataset {
	c := d.Clone()
	c.Meta = Meta{}
	return c
}

// MarshalJSON flattens day buckets and metadata into a single JSON object,
// the wire and storage format shared with pre-existing datasets.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Days)+5)
	for key, bucket := range d.Days {
		if bucket == nil {
			bucket = []*Task{}
		}
		out[key] = bucket
	}
	if !d.Meta.LastSyncedAt.IsZero() {
		out[metaLastSyncedAt] = d.Meta.LastSyncedAt.Format(time.RFC3339Nano)
	}
	if d.Meta.SyncedFrom != "" {
		out[metaSyncedFrom] = d.Meta.SyncedFrom
	}
	if d.Meta.SyncVersion != 0 {
		out[metaSyncVersion] = d.Meta.SyncVersion
	}
	if !d.Meta.LocalTimestamp.IsZero() {
		out[metaLocalTimestamp] = d.Meta.LocalTimestamp.Format(time.RFC3339Nano)
	}
	if d.Meta.MergeInfo != nil {
		out[metaMergeInfo] = d.Meta.MergeInfo
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and sanitizes a dataset. Malformed content is
// repaired, not rejected: a day bucket that is not an array becomes empty,
// entries with neither id nor title are dropped, and every surviving entry
// is structurally repaired. Only a top-level document that is not a JSON
// object fails.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	ds, err := Decode(data, time.Now())
	if err != nil {
		return err
	}
	*d = *ds
	return nil
}

// Decode parses a serialized dataset, splitting metadata out of the flat
// object and sanitizing every day bucket. now is used to backfill missing
// task timestamps.
func Decode(data []byte, now time.Time) (*Dataset, error) {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("dataset is not a JSON object: %w", err)
	}

	d := NewDataset()

	for key, raw := range flat {
		if MetaKeys[key] {
			d.decodeMetaField(key, raw)
			continue
		}

		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			// Bucket value is not an array; coerce to empty.
			d.Days[key] = []*Task{}
			continue
		}

		bucket := make([]*Task, 0, len(entries))
		for _, entry := range entries {
			var rt RawTask
			if err := json.Unmarshal(entry, &rt); err != nil {
				continue
			}
			if !rt.Usable() {
				continue
			}
			bucket = append(bucket, rt.Repair(now))
		}
		d.Days[key] = bucket
	}

	return d, nil
}

func (d *Dataset) decodeMetaField(key string, raw json.RawMessage) {
	switch key {
	case metaLastSyncedAt:
		d.Meta.LastSyncedAt = decodeMetaTime(raw)
	case metaLocalTimestamp:
		d.Meta.LocalTimestamp = decodeMetaTime(raw)
	case metaSyncedFrom:
		_ = json.Unmarshal(raw, &d.Meta.SyncedFrom)
	case metaSyncVersion:
		_ = json.Unmarshal(raw, &d.Meta.SyncVersion)
	case metaMergeInfo:
		var info MergeInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			d.Meta.MergeInfo = &info
		}
	}
}

func decodeMetaTime(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	return parseTimestamp(s, time.Time{})
}
