// Package watcher reports session files appearing under the scanner's
// directories. Polling is the correctness mechanism; fsnotify, where the
// platform supports it, only triggers an early poll.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"unifiedagent/internal/logging"
	"unifiedagent/internal/scanner"
)

// DefaultInterval is the poll cadence.
const DefaultInterval = 5 * time.Second

// SessionScanner is the slice of the scanner the watcher needs.
type SessionScanner interface {
	Scan(opts scanner.Options) ([]scanner.Session, error)
	Dirs() []string
}

// Config wires the watcher's callbacks. Both are optional.
type Config struct {
	// Interval between polls. Zero means DefaultInterval.
	Interval time.Duration

	// OnNew fires once per session file not seen before. The first poll
	// seeds the known set silently, so history is never replayed.
	OnNew func(scanner.Session)

	// OnError receives scan and filesystem-watch errors.
	OnError func(error)
}

// Stats tracks watcher activity.
type Stats struct {
	Polls       int       `json:"polls"`
	KnownFiles  int       `json:"knownFiles"`
	NewReported int       `json:"newReported"`
	Errors      int       `json:"errors"`
	LastPollAt  time.Time `json:"lastPollAt"`
	LastNewPath string    `json:"lastNewPath,omitempty"`
}

// Watcher polls the session directories for new files.
type Watcher struct {
	mu      sync.RWMutex
	scan    SessionScanner
	cfg     Config
	known   map[string]bool
	seeded  bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	fsw     *fsnotify.Watcher

	stats Stats
}

// New returns a stopped watcher over the scanner's directories.
func New(scan SessionScanner, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Watcher{
		scan:  scan,
		cfg:   cfg,
		known: make(map[string]bool),
	}
}

// Start begins polling. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Get(logging.CategoryWatcher).Warn("fsnotify unavailable, polling only: %v", err)
	} else {
		for _, dir := range w.scan.Dirs() {
			// Directories may not exist yet; polling still covers them.
			if err := fsw.Add(dir); err != nil {
				logging.WatcherDebug("watch %s failed: %v", dir, err)
			}
		}
		w.mu.Lock()
		w.fsw = fsw
		w.mu.Unlock()
	}

	go w.run(ctx)
	logging.Watcher("Session watcher started (interval %s)", w.cfg.Interval)
	return nil
}

// Stop halts the loop, closes the filesystem watcher and clears the known
// set, so a restart seeds fresh.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh, fsw := w.stopCh, w.doneCh, w.fsw
	w.fsw = nil
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	if fsw != nil {
		fsw.Close()
	}

	w.mu.Lock()
	w.known = make(map[string]bool)
	w.seeded = false
	w.mu.Unlock()
	logging.Watcher("Session watcher stopped")
}

// Watching reports whether the poll loop is running.
func (w *Watcher) Watching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	w.mu.RLock()
	fsw := w.fsw
	w.mu.RUnlock()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		fsEvents = fsw.Events
		fsErrors = fsw.Errors
	}

	w.poll()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				w.poll()
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.reportError(err)
		}
	}
}

// poll scans once. Files seen for the first time after the seed poll are
// reported through OnNew.
func (w *Watcher) poll() {
	sessions, err := w.scan.Scan(scanner.Options{})

	w.mu.Lock()
	w.stats.Polls++
	w.stats.LastPollAt = time.Now()
	seeded := w.seeded
	w.mu.Unlock()

	if err != nil {
		w.reportError(err)
		return
	}

	var fresh []scanner.Session
	w.mu.Lock()
	for _, s := range sessions {
		if w.known[s.FilePath] {
			continue
		}
		w.known[s.FilePath] = true
		if seeded {
			fresh = append(fresh, s)
		}
	}
	w.seeded = true
	w.stats.KnownFiles = len(w.known)
	w.stats.NewReported += len(fresh)
	if len(fresh) > 0 {
		w.stats.LastNewPath = fresh[len(fresh)-1].FilePath
	}
	w.mu.Unlock()

	if !seeded {
		logging.Watcher("Watcher seeded with %d known sessions", len(sessions))
	}
	for _, s := range fresh {
		w.reportNew(s)
	}
}

// reportNew delivers one session to OnNew. A panicking callback is logged
// and counted; the poll loop keeps running.
func (w *Watcher) reportNew(s scanner.Session) {
	if w.cfg.OnNew == nil {
		return
	}
	defer w.recoverCallback("OnNew")
	logging.WatcherDebug("New session: %s (%s)", s.FilePath, s.Platform)
	w.cfg.OnNew(s)
}

func (w *Watcher) reportError(err error) {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()

	if w.cfg.OnError == nil {
		logging.Get(logging.CategoryWatcher).Warn("Watcher error: %v", err)
		return
	}
	defer w.recoverCallback("OnError")
	w.cfg.OnError(err)
}

func (w *Watcher) recoverCallback(name string) {
	if r := recover(); r != nil {
		logging.Get(logging.CategoryWatcher).Warn("%s callback panicked: %v", name, r)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
	}
}
