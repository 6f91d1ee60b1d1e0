package orchestrator

import (
	"fmt"
	"time"

	"github.com/mschirtzinger/prodcal/internal/task"
)

// Status is a point-in-time snapshot of the sync state.
type Status struct {
	Enabled      bool            `json:"enabled"`
	Status       SyncStatus      `json:"status"`
	LoadState    RemoteLoadState `json:"loadState"`
	LastSyncTime time.Time       `json:"lastSyncTime,omitzero"`
	Failures     int             `json:"failures"`
	RetryAfter   time.Time       `json:"retryAfter,omitzero"`
	CanRetry     bool            `json:"canRetry"`
	LastError    string          `json:"lastError,omitempty"`
	Message      string          `json:"message"`
}

// GetSyncStatus snapshots the current sync state, including the derived
// human-readable message.
func (o *Orchestrator) GetSyncStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	st := Status{
		Enabled:      o.syncEnabled,
		Status:       o.status,
		LoadState:    o.loadState,
		LastSyncTime: o.lastSyncTime,
		Failures:     o.failures,
		RetryAfter:   o.retryAfter,
		LastError:    o.lastError,
	}
	st.CanRetry = st.Enabled &&
		(o.loadState == LoadFailed || o.loadState == LoadNetworkError) &&
		o.failures < maxAutoRetries &&
		!now.Before(o.retryAfter)
	st.Message = StatusMessage(st, now)
	return st
}

// LastMergeInfo returns the outcome of the most recent merge, or nil when
// no merge has run.
func (o *Orchestrator) LastMergeInfo() *task.MergeInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastMerge
}

// StatusMessage derives the user-facing status line from a state
// snapshot. Pure: same snapshot, same message.
func StatusMessage(st Status, now time.Time) string {
	if !st.Enabled {
		return "Sync is off. Your data stays on this device."
	}
	switch st.Status {
	case StatusConnecting:
		return "Connecting to sync service..."
	case StatusSyncing:
		return "Syncing your data..."
	case StatusConnected:
		if st.LastSyncTime.IsZero() {
			return "Connected. Waiting for first sync."
		}
		return fmt.Sprintf("Synced %s.", humanizeSince(now.Sub(st.LastSyncTime)))
	case StatusError:
		switch {
		case st.LoadState == LoadAuthError:
			return "Sign-in expired. Reconnect to resume sync."
		case st.Failures >= maxAutoRetries:
			return "Sync paused after repeated failures. Reset sync to try again."
		case st.LoadState == LoadNetworkError:
			if wait := st.RetryAfter.Sub(now); wait > 0 {
				return fmt.Sprintf("Connection trouble. Retrying in %s.", humanizeDuration(wait))
			}
			return "Connection trouble. Retrying..."
		default:
			return "Sync hit a problem. It will retry automatically."
		}
	default:
		return "Sync is enabled but not connected."
	}
}

func humanizeSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()+0.5))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()+0.5))
}
