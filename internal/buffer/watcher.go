package buffer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Drainer drains one device's buffer through its registered pipeline
// handler. The worker's pipeline registry satisfies this.
type Drainer interface {
	Drain(deviceCode string) error
}

// Watcher supplements the worker's own append-then-drain call path with
// an fsnotify watch on the buffer directory, so that a buffer file
// written by any other means (an operator replaying a quarantined file,
// a second process instance) still gets drained without waiting for
// the next live message on that device.
type Watcher struct {
	buf     *Buffer
	drainer Drainer
	dir     string
	log     zerolog.Logger

	watcher *fsnotify.Watcher

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewWatcher builds a Watcher over dir. Call Start to begin watching.
func NewWatcher(buf *Buffer, drainer Drainer, dir string, log zerolog.Logger) *Watcher {
	return &Watcher{
		buf:            buf,
		drainer:        drainer,
		dir:            dir,
		log:            log.With().Str("component", "buffer_watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start installs the fsnotify watch and begins draining changed files.
// It returns once the watch is installed; draining happens in a
// background goroutine until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}

	go w.loop(ctx)
	w.log.Info().Str("dir", w.dir).Msg("buffer watcher started")
	return nil
}

// Stop closes the underlying fsnotify watch.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			deviceCode := deviceCodeFromPath(event.Name)
			if deviceCode == "" {
				continue
			}
			w.scheduleDrain(deviceCode)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleDrain debounces repeated write events on the same device's
// file by 250ms, so a burst of appends triggers one drain rather than
// one per write.
func (w *Watcher) scheduleDrain(deviceCode string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[deviceCode]; ok {
		t.Reset(250 * time.Millisecond)
		return
	}

	w.debounceTimers[deviceCode] = time.AfterFunc(250*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, deviceCode)
		w.debounceMu.Unlock()

		if err := w.drainer.Drain(deviceCode); err != nil {
			w.log.Error().Err(err).Str("device_code", deviceCode).Msg("watcher-triggered drain failed")
		}
	})
}

func deviceCodeFromPath(path string) string {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	if !strings.HasSuffix(base, ".jsonl") {
		return ""
	}
	return strings.TrimSuffix(base, ".jsonl")
}
