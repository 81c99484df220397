package limits

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
)

// UpdateCallback is invoked after a sibling process rewrites the shared
// INI file. Callers typically re-run their pre-check or refresh UI state.
type UpdateCallback func()

// Watcher observes the shared INI file for rewrites by other processes.
// Because writes replace the file via rename, the watcher listens on the
// parent directory and filters events for the file name, debouncing
// bursts from a single atomic replace.
type Watcher struct {
	path     string
	onUpdate UpdateCallback
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	logger   *logging.Logger

	// debounce collapses the create+rename event pairs emitted by an
	// atomic replace into one callback.
	debounce time.Duration
}

// NewWatcher creates a watcher for the store's INI file.
func NewWatcher(store *inistore.Store, onUpdate UpdateCallback, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{
		path:     store.Path(),
		onUpdate: onUpdate,
		stopCh:   make(chan struct{}),
		debounce: 100 * time.Millisecond,
		logger:   logger.Component("limits.watcher"),
	}
}

// Start begins watching. The parent directory must exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("ini watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.fsw = fsw
	w.running = true
	w.wg.Add(1)
	go w.run()

	w.logger.Debug("ini watcher started", "path", w.path)
	return nil
}

// Stop halts the watcher. It is idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.fsw.Close()
	w.wg.Wait()
	w.running = false
}

func (w *Watcher) run() {
	defer w.wg.Done()

	name := filepath.Base(w.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopCh:
			return
		case <-fire:
			if w.onUpdate != nil {
				w.onUpdate()
			}
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ini watcher error", "error", err)
		}
	}
}
