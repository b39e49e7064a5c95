package blocklist

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "svcnotify/pkg/logx"
)

// Store owns the current blocklist generation.
//
// Readers take a snapshot with Current; Reload swaps in a complete new
// generation, so a check never sees names from one file and the pattern
// from another.
type Store struct {
	path string
	log  logx.Logger

	cur atomic.Pointer[Blocklist]
	gen atomic.Uint64

	// reloadMu serializes Reload so concurrent triggers don't interleave file reads.
	reloadMu sync.Mutex
}

func NewStore(path string, log logx.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log}
	s.cur.Store(&Blocklist{names: map[string]struct{}{}})
	return s
}

func (s *Store) Path() string { return s.path }

// Current returns the active generation. Never nil.
func (s *Store) Current() *Blocklist { return s.cur.Load() }

// Generation counts successful reloads.
func (s *Store) Generation() uint64 { return s.gen.Load() }

// IsSuppressed checks unit against the current generation.
func (s *Store) IsSuppressed(unit, activeState string) bool {
	return s.Current().IsSuppressed(unit, activeState)
}

// Reload re-reads the file. On failure the previous generation stays active.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	bl, err := Load(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		names, patterns := s.Current().Len()
		s.log.Info("blocklist file not found; keeping current list",
			logx.String("path", s.path),
			logx.Int("strings", names),
			logx.Int("regex", patterns),
		)
		return err
	}
	if err != nil {
		s.log.Warn("blocklist reload failed; keeping previous list", logx.String("path", s.path), logx.Err(err))
		return err
	}
	s.install(bl)

	names, patterns := bl.Len()
	s.log.Info("blocklist loaded",
		logx.String("path", s.path),
		logx.Int("strings", names),
		logx.Int("regex", patterns),
	)
	return nil
}

func (s *Store) install(bl *Blocklist) {
	s.cur.Store(bl)
	s.gen.Add(1)
}

const watchDebounce = 250 * time.Millisecond

// Watch reloads the list whenever its file is written, created, renamed or
// removed. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	return s.WatchFunc(ctx, func() { _ = s.Reload() })
}

// WatchFunc is Watch with the reload left to onChange, so the owner of the
// store can run it on its own goroutine. A missing directory means there is
// no list to follow: it is logged once and WatchFunc returns nil.
func (s *Store) WatchFunc(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info("blocklist directory missing; not watching for changes", logx.String("dir", dir))
			return nil
		}
		return err
	}
	s.log.Debug("blocklist watcher started", logx.String("dir", dir), logx.String("file", file))

	// Editors tend to emit several events per save.
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	fire := make(chan struct{}, 1)
	debounce := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fire:
			onChange()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("blocklist watcher closed")
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.log.Debug("blocklist change detected; scheduling reload", logx.String("op", ev.Op.String()))
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("blocklist watcher closed")
			}
			if err != nil {
				s.log.Warn("blocklist watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}
