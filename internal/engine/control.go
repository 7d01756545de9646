package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"kiln/internal/logging"
)

// ControlWatcher watches <workspace>/.kiln/control for a pause file so a
// host (or a human with `touch`) can pause a run without holding a
// handle to the Engine. Creating `pause` requests a pause at the next
// phase boundary; removing it has no effect on an already-paused run,
// which must be resumed from its checkpoint.
type ControlWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dir     string
	onPause func()
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewControlWatcher creates a watcher for the workspace's control
// directory, creating the directory if needed.
func NewControlWatcher(workspace string, onPause func()) (*ControlWatcher, error) {
	dir := filepath.Join(workspace, ".kiln", "control")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	return &ControlWatcher{
		watcher: w,
		dir:     dir,
		onPause: onPause,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. A pause file that already exists at start is
// honored immediately.
func (cw *ControlWatcher) Start() {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = true
	cw.mu.Unlock()

	if _, err := os.Stat(filepath.Join(cw.dir, "pause")); err == nil {
		logging.Lifecycle("pause file present at start")
		cw.onPause()
	}

	go cw.loop()
}

func (cw *ControlWatcher) loop() {
	defer close(cw.doneCh)
	for {
		select {
		case <-cw.stopCh:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "pause" {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				logging.Lifecycle("pause file detected")
				cw.onPause()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && !strings.Contains(err.Error(), "closed") {
				logging.Lifecycle("control watcher error: %v", err)
			}
		}
	}
}

// Stop halts the watcher and releases its resources.
func (cw *ControlWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if !cw.running {
		return
	}
	cw.running = false
	close(cw.stopCh)
	cw.watcher.Close()
	<-cw.doneCh
}
