// Package orchestrator sequences local and remote dataset operations.
//
// The orchestrator owns all sync state: whether sync is enabled, the
// remote-load state machine, in-flight flags, and the failure/backoff
// bookkeeping. Callers interact only with LoadData, SaveData, and the
// sync-control operations; they never see a remote failure as an error.
// The local store is authoritative and remote trouble degrades to a
// status string.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/prodcal/internal/merge"
	"github.com/mschirtzinger/prodcal/internal/remote"
	"github.com/mschirtzinger/prodcal/internal/store"
	"github.com/mschirtzinger/prodcal/internal/task"
)

// RemoteLoadState tracks the outcome of the most recent remote load
// attempt.
type RemoteLoadState string

const (
	LoadNeverAttempted RemoteLoadState = "never-attempted"
	LoadInProgress     RemoteLoadState = "loading"
	LoadSuccess        RemoteLoadState = "success"
	LoadFailed         RemoteLoadState = "failed"
	LoadNetworkError   RemoteLoadState = "network-error"
	LoadAuthError      RemoteLoadState = "auth-error"
)

// SyncStatus is the user-facing connection state.
type SyncStatus string

const (
	StatusDisconnected SyncStatus = "disconnected"
	StatusConnecting   SyncStatus = "connecting"
	StatusConnected    SyncStatus = "connected"
	StatusSyncing      SyncStatus = "syncing"
	StatusError        SyncStatus = "error"
)

const (
	// backoffBase is the delay after the first remote-load failure;
	// each further failure doubles it.
	backoffBase = 30 * time.Second

	// backoffCap bounds the delay between automatic retries.
	backoffCap = 10 * time.Minute

	// maxAutoRetries is the consecutive-failure count after which
	// automatic retries stop until a manual reset.
	maxAutoRetries = 5
)

// ErrSaveInFlight is returned by SaveData when another save is already
// running. The caller is expected to rely on its next natural save rather
// than retry.
var ErrSaveInFlight = errors.New("orchestrator: save already in flight")

// ErrNoRemote is returned by sync operations when no remote client was
// configured. Local operation is unaffected.
var ErrNoRemote = errors.New("orchestrator: sync not configured, no remote client")

// DataStore is the slice of the local store the orchestrator needs.
// *store.Store satisfies it.
type DataStore interface {
	LoadDataset() (*task.Dataset, error)
	SaveDataset(ds *task.Dataset) error
}

// Event is a sync lifecycle notification, consumed by the dashboard.
type Event struct {
	Type   string          `json:"type"`
	Status Status          `json:"status"`
	Merge  *task.MergeInfo `json:"merge,omitempty"`
}

// Event types emitted via Config.Notify.
const (
	EventSyncStatus    = "sync_status"
	EventMergeComplete = "merge_complete"
	EventDatasetUpdate = "dataset_update"
)

// Config configures an Orchestrator.
type Config struct {
	// Logger receives orchestrator activity. Nil means stderr.
	Logger *log.Logger

	// Clock overrides time.Now. Nil means time.Now.
	Clock func() time.Time

	// Notify, when non-nil, receives sync lifecycle events. Called
	// without the orchestrator lock held.
	Notify func(Event)
}

// loadResult is the shared pending handle that collapses concurrent loads.
type loadResult struct {
	done chan struct{}
	ds   *task.Dataset
	err  error
}

// Orchestrator coordinates the local store, remote client, and merge
// engine. All state lives behind one mutex; no package-level globals.
type Orchestrator struct {
	store  DataStore
	remote remote.Client
	merger *merge.Merger
	logger *log.Logger
	now    func() time.Time
	notify func(Event)

	mu           sync.Mutex
	syncEnabled  bool
	status       SyncStatus
	loadState    RemoteLoadState
	isSaving     bool
	pending      *loadResult
	failures     int
	retryAfter   time.Time
	lastSyncTime time.Time
	lastMerge    *task.MergeInfo
	lastError    string
}

// New builds an Orchestrator over the given store and remote client.
func New(ds DataStore, rc remote.Client, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		store:     ds,
		remote:    rc,
		merger:    merge.New(logger).WithClock(now),
		logger:    logger,
		now:       now,
		notify:    cfg.Notify,
		status:    StatusDisconnected,
		loadState: LoadNeverAttempted,
	}
	if rc != nil && rc.SignedIn() {
		o.syncEnabled = true
		o.status = StatusConnected
	}
	return o
}

// LoadData returns the current dataset.
//
// With sync disabled this is a plain local read. With sync enabled, a
// remote load is attempted when the state machine allows one; a successful
// remote load is merged with local data, the merged result is persisted,
// and the merge is what the caller gets. Remote failure of any kind falls
// back to local data; only local-store failures propagate.
func (o *Orchestrator) LoadData(ctx context.Context) (*task.Dataset, error) {
	o.mu.Lock()
	if call := o.pending; call != nil {
		o.mu.Unlock()
		select {
		case <-call.done:
			return call.ds, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !o.shouldAttemptRemoteLocked() {
		o.mu.Unlock()
		return o.loadLocal()
	}

	call := &loadResult{done: make(chan struct{})}
	o.pending = call
	o.loadState = LoadInProgress
	o.status = StatusSyncing
	o.mu.Unlock()
	o.emit(EventSyncStatus)

	ds, err := o.loadWithRemote(ctx)

	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
	call.ds, call.err = ds, err
	close(call.done)
	o.emit(EventSyncStatus)
	return ds, err
}

// shouldAttemptRemoteLocked applies the retry policy. Callers hold o.mu.
func (o *Orchestrator) shouldAttemptRemoteLocked() bool {
	if !o.syncEnabled || o.remote == nil || !o.remote.SignedIn() {
		return false
	}
	switch o.loadState {
	case LoadNeverAttempted:
		return true
	case LoadFailed, LoadNetworkError:
		if o.failures >= maxAutoRetries {
			return false
		}
		return !o.now().Before(o.retryAfter)
	default:
		// success needs no reload here; auth-error waits for re-auth;
		// loading is handled by the pending-call path.
		return false
	}
}

func (o *Orchestrator) loadLocal() (*task.Dataset, error) {
	local, err := o.loadLocalOrEmpty()
	if err != nil {
		return nil, err
	}
	if local == nil {
		return task.NewDataset(), nil
	}
	return local, nil
}

// loadLocalOrEmpty reads the local dataset, treating both a missing and a
// corrupt record as "no usable local data" (nil, nil). Corrupt data is
// recoverable: the next merge or save rewrites the record. Only real
// storage failures propagate.
func (o *Orchestrator) loadLocalOrEmpty() (*task.Dataset, error) {
	local, err := o.store.LoadDataset()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case errors.Is(err, store.ErrCorruptData):
		o.logger.Printf("local data unreadable, starting from empty dataset: %v", err)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load local dataset: %w", err)
	}
	return local, nil
}

// loadWithRemote runs one remote load attempt with local fallback.
func (o *Orchestrator) loadWithRemote(ctx context.Context) (*task.Dataset, error) {
	local, err := o.loadLocalOrEmpty()
	if err != nil {
		o.mu.Lock()
		o.loadState = LoadFailed
		o.status = StatusError
		o.lastError = err.Error()
		o.mu.Unlock()
		return nil, err
	}

	remoteDS, rerr := o.remote.ReadDocument(ctx)
	if rerr != nil {
		o.recordRemoteFailure(rerr)
		o.logger.Printf("remote load failed, using local data: %v", rerr)
		if local == nil {
			local = task.NewDataset()
		}
		return local, nil
	}

	o.mu.Lock()
	o.loadState = LoadSuccess
	o.failures = 0
	o.retryAfter = time.Time{}
	o.lastError = ""
	o.status = StatusConnected
	o.lastSyncTime = o.now()
	o.mu.Unlock()

	if remoteDS == nil {
		// Nothing remote yet (or a throttled no-op): local is the truth.
		if local == nil {
			return task.NewDataset(), nil
		}
		return local, nil
	}

	merged, info := o.merger.Datasets(local, remoteDS)
	if err := o.store.SaveDataset(merged); err != nil {
		return nil, fmt.Errorf("persist merged dataset: %w", err)
	}

	o.mu.Lock()
	o.lastMerge = info
	o.mu.Unlock()
	o.emit(EventMergeComplete)
	o.logger.Printf("merged remote data: %d local + %d remote -> %d tasks (%d added, %d updated)",
		info.LocalTaskCount, info.RemoteTaskCount, info.FinalTaskCount, info.TasksAdded, info.TasksUpdated)
	return merged, nil
}

// recordRemoteFailure classifies err and updates the failure state.
func (o *Orchestrator) recordRemoteFailure(err error) {
	var authErr *remote.AuthError
	var netErr *remote.NetworkError
	state := LoadFailed
	switch {
	case errors.As(err, &authErr):
		state = LoadAuthError
	case errors.As(err, &netErr):
		state = LoadNetworkError
	}
	o.setFailureState(state, err)
}

func (o *Orchestrator) setFailureState(state RemoteLoadState, err error) {
	o.mu.Lock()
	o.loadState = state
	o.status = StatusError
	o.lastError = err.Error()
	if state != LoadAuthError {
		o.failures++
		o.retryAfter = o.now().Add(backoffDelay(o.failures))
		if o.failures >= maxAutoRetries {
			o.logger.Printf("sync paused after %d consecutive failures, manual reset required", o.failures)
		}
	}
	o.mu.Unlock()
}

// backoffDelay returns the retry delay after n consecutive failures.
func backoffDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// SaveData persists the dataset. The local write is synchronous and
// authoritative; when sync is enabled and authenticated, a remote write
// follows as best effort: its failure flips the status to error but never
// fails the save. A save arriving while another is in flight returns
// ErrSaveInFlight without writing.
func (o *Orchestrator) SaveData(ctx context.Context, ds *task.Dataset) error {
	o.mu.Lock()
	if o.isSaving {
		o.mu.Unlock()
		return ErrSaveInFlight
	}
	o.isSaving = true
	enabled := o.syncEnabled
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.isSaving = false
		o.mu.Unlock()
	}()

	if err := o.store.SaveDataset(ds); err != nil {
		return fmt.Errorf("save local dataset: %w", err)
	}
	o.emit(EventDatasetUpdate)

	if !enabled || o.remote == nil || !o.remote.SignedIn() {
		return nil
	}

	o.mu.Lock()
	o.status = StatusSyncing
	o.mu.Unlock()

	err := o.remote.WriteDocument(ctx, ds)
	switch {
	case errors.Is(err, remote.ErrSkipped):
		// Another write carries equivalent data.
		o.mu.Lock()
		o.status = StatusConnected
		o.mu.Unlock()
	case err != nil:
		o.logger.Printf("remote write failed (local save succeeded): %v", err)
		o.mu.Lock()
		o.status = StatusError
		o.lastError = err.Error()
		o.mu.Unlock()
	default:
		o.mu.Lock()
		o.status = StatusConnected
		o.lastSyncTime = o.now()
		o.lastError = ""
		o.mu.Unlock()
	}
	o.emit(EventSyncStatus)
	return nil
}

// EnableSync authenticates, runs one reconciliation pass, and turns sync
// on. The authentication handshake is user-initiated, so its failure is
// returned rather than swallowed.
func (o *Orchestrator) EnableSync(ctx context.Context) error {
	if o.remote == nil {
		return ErrNoRemote
	}
	o.mu.Lock()
	o.status = StatusConnecting
	o.mu.Unlock()
	o.emit(EventSyncStatus)

	if err := o.remote.Authenticate(ctx); err != nil {
		o.mu.Lock()
		o.status = StatusError
		o.loadState = LoadAuthError
		o.lastError = err.Error()
		o.mu.Unlock()
		o.emit(EventSyncStatus)
		return err
	}

	o.mu.Lock()
	o.syncEnabled = true
	o.loadState = LoadNeverAttempted
	o.failures = 0
	o.retryAfter = time.Time{}
	o.mu.Unlock()

	// Initial reconciliation: pull, merge, persist, push the merge back.
	if err := o.reconcile(ctx, true); err != nil {
		o.logger.Printf("initial reconciliation incomplete: %v", err)
	}

	o.mu.Lock()
	if o.status != StatusError {
		o.status = StatusConnected
	}
	o.mu.Unlock()
	o.emit(EventSyncStatus)
	o.logger.Printf("sync enabled")
	return nil
}

// DisableSync revokes credentials and turns sync off. Local data is
// untouched.
func (o *Orchestrator) DisableSync(ctx context.Context) error {
	if o.remote == nil {
		return ErrNoRemote
	}
	if err := o.remote.Revoke(ctx); err != nil {
		o.logger.Printf("revoke: %v", err)
	}
	o.mu.Lock()
	o.syncEnabled = false
	o.status = StatusDisconnected
	o.loadState = LoadNeverAttempted
	o.failures = 0
	o.retryAfter = time.Time{}
	o.lastError = ""
	o.mu.Unlock()
	o.emit(EventSyncStatus)
	o.logger.Printf("sync disabled")
	return nil
}

// ResetSyncState clears the failure counter and backoff so automatic
// retries resume. The manual escape hatch for the 5-failure lockout.
func (o *Orchestrator) ResetSyncState() {
	o.mu.Lock()
	o.loadState = LoadNeverAttempted
	o.failures = 0
	o.retryAfter = time.Time{}
	o.lastError = ""
	if o.syncEnabled && o.remote != nil && o.remote.SignedIn() {
		o.status = StatusConnected
	} else {
		o.status = StatusDisconnected
	}
	o.mu.Unlock()
	o.emit(EventSyncStatus)
	o.logger.Printf("sync state reset")
}

// Refresh runs a load that is allowed to re-read the remote even after a
// previous success. Failure backoff and the auth-error block still apply,
// so a periodic caller cannot hammer a failing remote. This is what the
// daemon's reconcile ticker drives.
func (o *Orchestrator) Refresh(ctx context.Context) (*task.Dataset, error) {
	o.mu.Lock()
	if o.loadState == LoadSuccess {
		o.loadState = LoadNeverAttempted
	}
	o.mu.Unlock()
	return o.LoadData(ctx)
}

// ForceSyncRetry resets the failure state and immediately runs a load.
func (o *Orchestrator) ForceSyncRetry(ctx context.Context) (*task.Dataset, error) {
	o.ResetSyncState()
	return o.LoadData(ctx)
}

// EmergencyRecovery forces a fresh remote read bypassing the load
// throttle, merges it with current local data, and persists the result.
// For when automatic sync has stalled.
func (o *Orchestrator) EmergencyRecovery(ctx context.Context) (*task.Dataset, error) {
	o.logger.Printf("emergency recovery requested")
	o.ResetSyncState()
	return o.reconcileResult(ctx)
}

func (o *Orchestrator) reconcileResult(ctx context.Context) (*task.Dataset, error) {
	if err := o.reconcile(ctx, false); err != nil {
		return nil, err
	}
	return o.loadLocal()
}

// reconcile pulls the remote document (forced, no throttle), merges it
// with local data, persists the merge, and optionally pushes it back.
func (o *Orchestrator) reconcile(ctx context.Context, push bool) error {
	if o.remote == nil {
		return ErrNoRemote
	}
	local, err := o.loadLocalOrEmpty()
	if err != nil {
		return err
	}

	remoteDS, rerr := o.remote.ForceReadDocument(ctx)
	if rerr != nil {
		o.recordRemoteFailure(rerr)
		return fmt.Errorf("remote read: %w", rerr)
	}

	merged, info := o.merger.Datasets(local, remoteDS)
	if err := o.store.SaveDataset(merged); err != nil {
		return fmt.Errorf("persist merged dataset: %w", err)
	}

	o.mu.Lock()
	o.loadState = LoadSuccess
	o.failures = 0
	o.retryAfter = time.Time{}
	o.lastError = ""
	o.lastMerge = info
	o.lastSyncTime = o.now()
	o.mu.Unlock()
	o.emit(EventMergeComplete)

	if push {
		if err := o.remote.WriteDocument(ctx, merged); err != nil && !errors.Is(err, remote.ErrSkipped) {
			o.logger.Printf("push after reconcile failed: %v", err)
		}
	}
	return nil
}

// emit delivers an event snapshot without holding the lock.
func (o *Orchestrator) emit(typ string) {
	if o.notify == nil {
		return
	}
	st := o.GetSyncStatus()
	ev := Event{Type: typ, Status: st}
	if typ == EventMergeComplete {
		o.mu.Lock()
		ev.Merge = o.lastMerge
		o.mu.Unlock()
	}
	o.notify(ev)
}
