// Package daemon runs background synchronization.
//
// The daemon:
// 1. Pulls from the remote store on a fixed interval
// 2. Pushes local changes on a fixed interval
// 3. Watches the local database file and schedules a push after local writes
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/waybill-app/waybill/internal/session"
	"github.com/waybill-app/waybill/internal/syncengine"
)

// Config holds configuration for the daemon.
type Config struct {
	// PullInterval is how often remote changes are pulled down.
	PullInterval time.Duration

	// PushInterval is how often queued local changes are pushed up.
	PushInterval time.Duration

	// DebounceInterval is how long to wait after a local database write
	// before pushing. This batches rapid edits together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PullInterval:     5 * time.Minute,
		PushInterval:     time.Minute,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Notify receives the outcome of each daemon-driven sync pass. direction is
// "pull" or "push"; report is nil when the pass failed outright.
type Notify func(direction string, report *syncengine.Report, err error)

// Daemon schedules pulls and pushes around the sync engine.
type Daemon struct {
	engine *syncengine.Engine
	sess   session.Session
	dbPath string
	config *Config
	notify Notify

	watcher *fsnotify.Watcher

	pushRequestMu sync.Mutex
	pushRequested time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for one session. dbPath is the local database file to
// watch for out-of-process writes.
func New(engine *syncengine.Engine, sess session.Session, dbPath string, config *Config, notify Notify) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if !sess.Valid() {
		return nil, fmt.Errorf("invalid session %q", sess)
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:  engine,
		sess:    sess,
		dbPath:  dbPath,
		config:  config,
		notify:  notify,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins background syncing. An initial pull runs immediately; a pull
// failure at startup is logged, not fatal, since the local store keeps the
// application usable. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	d.runPull()

	if d.dbPath != "" {
		if err := d.watcher.Add(filepath.Dir(d.dbPath)); err != nil {
			return fmt.Errorf("failed to watch database directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", filepath.Dir(d.dbPath))
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.pullLoop()
	go d.pushLoop()

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
	d.config.Logger.Println("Stopping sync daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

// TriggerPush schedules a push after the debounce interval. Safe to call
// from any goroutine; rapid calls collapse into one push.
func (d *Daemon) TriggerPush() {
	d.pushRequestMu.Lock()
	defer d.pushRequestMu.Unlock()
	d.pushRequested = time.Now()
}

func (d *Daemon) pullLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runPull()
		}
	}
}

func (d *Daemon) pushLoop() {
	defer d.wg.Done()

	periodic := time.NewTicker(d.config.PushInterval)
	defer periodic.Stop()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-periodic.C:
			d.runPush()
		case <-debounce.C:
			if d.takePushRequest() {
				d.runPush()
			}
		}
	}
}

// takePushRequest consumes a pending trigger if its debounce window passed.
func (d *Daemon) takePushRequest() bool {
	d.pushRequestMu.Lock()
	defer d.pushRequestMu.Unlock()

	if d.pushRequested.IsZero() || time.Since(d.pushRequested) < d.config.DebounceInterval {
		return false
	}
	d.pushRequested = time.Time{}
	return true
}

func (d *Daemon) runPull() {
	report, err := d.engine.Pull(d.ctx, d.sess)
	if err != nil {
		d.config.Logger.Printf("Pull failed: %v", err)
	} else if report.TotalFailed() > 0 {
		d.config.Logger.Printf("Pull finished with failures:\n%s", report.Summary())
	}
	if d.notify != nil {
		d.notify("pull", report, err)
	}
}

func (d *Daemon) runPush() {
	report, err := d.engine.Push(d.ctx, d.sess)
	if err != nil {
		d.config.Logger.Printf("Push failed: %v", err)
	} else if report.TotalFailed() > 0 {
		d.config.Logger.Printf("Push finished with failures:\n%s", report.Summary())
	}
	if d.notify != nil {
		d.notify("push", report, err)
	}
}

// watchFileEvents monitors the database file and schedules pushes when an
// outside process writes to it.
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
			if d.dbPath != "" && filepath.Base(event.Name) != filepath.Base(d.dbPath) {
				continue
			}
			d.TriggerPush()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
