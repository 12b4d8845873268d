package minecraft

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 250 * time.Millisecond

// WatchKind names the file group a change belongs to
type WatchKind string

const (
	WatchWhitelist  WatchKind = "whitelist"
	WatchProperties WatchKind = "properties"
	WatchPlugins    WatchKind = "plugins"
)

// Watcher reports edits made to the server files outside the panel, for
// example by the server itself or by an operator over SSH.
type Watcher struct {
	fsw        *fsnotify.Watcher
	serverDir  string
	pluginsDir string
	onChange   func(WatchKind)
	debounce   time.Duration
	log        *zerolog.Logger

	mu     sync.Mutex
	timers map[WatchKind]*time.Timer
	closed bool
	done   chan struct{}
}

// NewWatcher watches serverDir and pluginsDir. onChange runs on its own
// goroutine once a burst of events for a kind has settled.
func NewWatcher(serverDir, pluginsDir string, onChange func(WatchKind), log *zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:        fsw,
		serverDir:  filepath.Clean(serverDir),
		pluginsDir: filepath.Clean(pluginsDir),
		onChange:   onChange,
		debounce:   watchDebounce,
		log:        log,
		timers:     make(map[WatchKind]*time.Timer),
		done:       make(chan struct{}),
	}

	for _, dir := range []string{w.serverDir, w.pluginsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fsw.Close()
			return nil, err
		}
		if err := fsw.Add(dir); err != nil {
			log.Error().Err(err).Str("path", dir).Msg("failed to watch directory")
			fsw.Close()
			return nil, err
		}
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if kind, ok := w.classify(event.Name); ok {
				w.log.Trace().Str("event", event.String()).Str("kind", string(kind)).Msg("file changed")
				w.schedule(kind)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("error watching server files")
		}
	}
}

func (w *Watcher) classify(name string) (WatchKind, bool) {
	dir := filepath.Dir(name)
	base := filepath.Base(name)

	switch {
	case dir == w.pluginsDir:
		if isPluginFile(base) {
			return WatchPlugins, true
		}
	case dir == w.serverDir:
		switch base {
		case "whitelist.json":
			return WatchWhitelist, true
		case "server.properties":
			return WatchProperties, true
		}
	}
	return "", false
}

func (w *Watcher) schedule(kind WatchKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[kind]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[kind] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, kind)
		closed := w.closed
		w.mu.Unlock()
		if !closed && w.onChange != nil {
			w.onChange(kind)
		}
	})
}

// Close stops watching and cancels pending notifications
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("watcher already closed")
	}
	w.closed = true
	for kind, t := range w.timers {
		t.Stop()
		delete(w.timers, kind)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}
