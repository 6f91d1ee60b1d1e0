// Package daemon provides the background sync daemon.
//
// The daemon:
// 1. Watches an inbox directory for dropped dataset JSON files
// 2. Imports each dropped file by merging it into the local dataset
// 3. Periodically runs a reconciliation pass against the remote store
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/prodcal/internal/merge"
	"github.com/mschirtzinger/prodcal/internal/task"
)

// Syncer is the slice of the orchestrator the daemon drives. Refresh is a
// load that may re-read the remote even after a previous success; the
// reconcile ticker uses it so a long-running daemon keeps picking up
// remote changes.
type Syncer interface {
	LoadData(ctx context.Context) (*task.Dataset, error)
	SaveData(ctx context.Context, ds *task.Dataset) error
	Refresh(ctx context.Context) (*task.Dataset, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// ReconcileInterval is how often to run a reconciliation pass.
	ReconcileInterval time.Duration

	// DebounceInterval is how long to wait before processing inbox
	// changes. This batches rapid writes (an editor saving in chunks,
	// a copy in progress) together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: 5 * time.Minute,
		DebounceInterval:  500 * time.Millisecond,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the inbox and keeps local and remote data reconciled.
type Daemon struct {
	syncer Syncer
	merger *merge.Merger
	inbox  string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon importing from inbox and syncing through syncer.
// Use Start() to begin watching.
func New(syncer Syncer, inbox string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if inbox == "" {
		return nil, fmt.Errorf("inbox cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		merger:      merge.New(config.Logger),
		inbox:       inbox,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Import any files already sitting in the inbox
// 2. Watch the inbox for new dataset files
// 3. Periodically reconcile with the remote store
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Catch up on anything dropped while we were not running.
	if err := d.importExisting(); err != nil {
		return fmt.Errorf("initial inbox import: %w", err)
	}

	if err := d.watcher.Add(d.inbox); err != nil {
		return fmt.Errorf("watch inbox directory: %w", err)
	}
	d.config.Logger.Printf("Watching inbox: %s", d.inbox)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.reconcileLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// importExisting processes inbox files that predate the watcher.
func (d *Daemon) importExisting() error {
	entries, err := os.ReadDir(d.inbox)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.inbox, entry.Name())
		if err := d.importFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to import %s: %v", path, err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		d.config.Logger.Printf("Importing: %s", path)
		if err := d.importFile(path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
		}
	}
}

// importFile merges one dropped dataset file into the local dataset, then
// marks the file as consumed so it is not imported again.
func (d *Daemon) importFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dropped file: %w", err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("not valid JSON: %s", filepath.Base(path))
	}

	dropped, err := task.Decode(data, time.Now())
	if err != nil {
		return fmt.Errorf("decode dataset: %w", err)
	}

	current, err := d.syncer.LoadData(d.ctx)
	if err != nil {
		return fmt.Errorf("load current dataset: %w", err)
	}

	merged, info := d.merger.Datasets(current, dropped)
	if err := d.syncer.SaveData(d.ctx, merged); err != nil {
		return fmt.Errorf("save merged dataset: %w", err)
	}
	d.config.Logger.Printf("Imported %s: %d tasks in, %d tasks after merge (%d added, %d updated)",
		filepath.Base(path), info.RemoteTaskCount, info.FinalTaskCount, info.TasksAdded, info.TasksUpdated)

	// The .imported suffix keeps the file out of the .json watch filter.
	if err := os.Rename(path, path+".imported"); err != nil {
		d.config.Logger.Printf("Warning: could not mark %s as imported: %v", path, err)
	}
	return nil
}

// reconcileLoop periodically refreshes from the remote store. Refresh
// rather than LoadData: a plain load stops consulting the remote after
// its first success.
func (d *Daemon) reconcileLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.syncer.Refresh(d.ctx); err != nil {
				d.config.Logger.Printf("Reconcile error: %v", err)
			}
		}
	}
}
