package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerParseYAMLStrict(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "relaygram.yaml", `
env: prod
profiles_dir: ./profiles
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/relay.db
relay:
  main_schedule: 45m
  jitter_min: 10s
  jitter_max: 20s
`)
	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "45m", cfg.Relay.MainSchedule)
	assert.Same(t, cfg, m.Get())

	bad := writeFile(t, dir, "bad.yaml", "env: prod\nunknown_key: 1\n")
	_, err = NewManager(bad).Parse()
	assert.Error(t, err)

	trailing := writeFile(t, dir, "trailing.json", `{"env":"a"}{"env":"b"}`)
	_, err = NewManager(trailing).Parse()
	assert.Error(t, err)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Debug: DebugConfig{Token: "a"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Debug: DebugConfig{Token: "b"}}

	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging"}, sections, "token rotation alone is not reported")

	newCfg.Storage.Driver = "mysql"
	sections, _ = SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "storage"}, sections)
}

func TestManagerWatchPublishesValidatedChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "relaygram.yaml", "env: a\nprofiles_dir: ./p\n")
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Env == "rejected" {
			return errors.New("nope")
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Rewrite until the watcher is registered and picks the change up.
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("env: b\nprofiles_dir: ./p\n"), 0o600)
		select {
		case got = <-sub:
			return true
		case <-time.After(2 * reloadDebounce):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "b", got.Env)
	assert.Equal(t, "b", m.Get().Env)

	require.NoError(t, os.WriteFile(path, []byte("env: rejected\nprofiles_dir: ./p\n"), 0o600))
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config published: %+v", cfg)
	case <-time.After(3 * reloadDebounce):
	}
	assert.Equal(t, "b", m.Get().Env)
}

func TestWatchTargetsClassify(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		ProfilesDir: filepath.Join(dir, "profiles"),
		TagsFile:    filepath.Join(dir, "shared", "tags.yml"),
	}
	wt := newWatchTargets(filepath.Join(dir, "relaygram.yaml"), cfg)

	assert.Equal(t, targetConfig, wt.classify(filepath.Join(dir, "relaygram.yaml")))
	assert.Equal(t, targetNone, wt.classify(filepath.Join(dir, "relaygram.yaml.swp")))
	assert.Equal(t, targetDomain, wt.classify(filepath.Join(dir, "profiles", "shop.yml")))
	assert.Equal(t, targetNone, wt.classify(filepath.Join(dir, "profiles", "notes.txt")))
	assert.Equal(t, targetDomain, wt.classify(filepath.Join(dir, "shared", "tags.yml")))
	assert.Equal(t, targetNone, wt.classify(filepath.Join(dir, "shared", "other.yml")))

	assert.Equal(t, []string{filepath.Join(dir, "profiles"), filepath.Join(dir, "shared")}, wt.extraDirs())
}

func TestSubscribeKeepsNewest(t *testing.T) {
	m := NewManager("unused.yaml")
	sub := m.Subscribe(1)
	m.publish(&Config{Env: "one"})
	m.publish(&Config{Env: "two"})
	assert.Equal(t, "two", (<-sub).Env)

	m.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
	m.publish(&Config{Env: "three"})
}
