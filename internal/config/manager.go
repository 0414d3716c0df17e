package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	logx "relaygram/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Manager owns the main config file. It hands out the committed value and,
// while Watch runs, republishes every validated change to subscribers.
//
// Profiles and the tags file are only read at startup; Watch reports edits
// to them but never reloads them.
type Manager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// subsMu is held while publishing so Unsubscribe never closes a channel
	// that is being sent on.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check a reloaded file must pass before it is
// committed and published.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *Manager) Path() string { return m.path }

// Parse decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	var cfg Config
	if err := decodeFile(m.path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload. A slow
// subscriber loses older configs, never the newest one.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload parses, validates, commits and publishes the file. Unchanged
// content is not republished.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping previous", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.hash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch follows the config file until ctx is done. A watcher that breaks is
// recreated with exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= time.Minute {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	wt := newWatchTargets(m.path, m.Get())
	// Editors replace files by rename, so whole directories are watched.
	if err := w.Add(wt.configDir); err != nil {
		return fmt.Errorf("watch %s: %w", wt.configDir, err)
	}
	for _, dir := range wt.extraDirs() {
		if err := w.Add(dir); err != nil {
			m.log.Warn("cannot watch profile files", logx.String("dir", dir), logx.Err(err))
		}
	}

	reload := newDebouncer(reloadDebounce, func() { m.reload(ctx) })
	notice := newDebouncer(reloadDebounce, func() {
		m.log.Warn("profile or tag files changed; restart required to apply them")
	})
	defer reload.stop()
	defer notice.stop()

	m.log.Debug("config watcher started", logx.String("path", m.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher event stream closed")
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			switch wt.classify(ev.Name) {
			case targetConfig:
				reload.trigger()
			case targetDomain:
				notice.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; re-read once
				m.log.Warn("config watch overflow; forcing reload")
				reload.trigger()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

type watchTarget int

const (
	targetNone watchTarget = iota
	targetConfig
	targetDomain
)

// watchTargets holds cleaned absolute paths of the files Watch cares about.
type watchTargets struct {
	configDir   string
	configFile  string
	profilesDir string
	tagsFile    string
}

func newWatchTargets(path string, cfg *Config) watchTargets {
	wt := watchTargets{
		configDir:  filepath.Dir(absPath(path)),
		configFile: filepath.Base(path),
	}
	if cfg != nil {
		if d := strings.TrimSpace(cfg.ProfilesDir); d != "" {
			wt.profilesDir = absPath(d)
		}
		if f := strings.TrimSpace(cfg.TagsFile); f != "" {
			wt.tagsFile = absPath(f)
		}
	}
	return wt
}

// extraDirs lists the directories to watch besides configDir.
func (wt watchTargets) extraDirs() []string {
	var cand []string
	if wt.profilesDir != "" {
		cand = append(cand, wt.profilesDir)
	}
	if wt.tagsFile != "" {
		cand = append(cand, filepath.Dir(wt.tagsFile))
	}
	var out []string
	seen := map[string]bool{wt.configDir: true}
	for _, d := range cand {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func (wt watchTargets) classify(name string) watchTarget {
	name = absPath(name)
	dir, base := filepath.Dir(name), filepath.Base(name)
	switch {
	case dir == wt.configDir && strings.EqualFold(base, wt.configFile):
		return targetConfig
	case wt.tagsFile != "" && name == wt.tagsFile:
		return targetDomain
	case wt.profilesDir != "" && dir == wt.profilesDir && isProfileFile(base):
		return targetDomain
	}
	return targetNone
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}

// debouncer runs fn once d has passed without another trigger.
type debouncer struct {
	d  time.Duration
	fn func()

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

func newDebouncer(d time.Duration, fn func()) *debouncer {
	return &debouncer{d: d, fn: fn}
}

func (b *debouncer) trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.t != nil {
		b.t.Stop()
	}
	b.t = time.AfterFunc(b.d, b.fn)
}

func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.t != nil {
		b.t.Stop()
	}
}
