package app

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygram/internal/config"
	"relaygram/internal/eventbus"
	"relaygram/internal/storage"
	"relaygram/internal/task/scheduler"
	logx "relaygram/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Env:         "test",
		ProfilesDir: "./profiles",
		Telegram:    config.TelegramConfig{Token: "123:abc"},
		Storage:     config.StorageConfig{Driver: "sqlite", Path: "./relay.db"},
	}
}

func TestMapRelayConfigDefaults(t *testing.T) {
	rs, err := mapRelayConfig(baseConfig())
	require.NoError(t, err)

	assert.Equal(t, "45m", rs.MainSchedule)
	assert.Equal(t, "1h", rs.PruneSchedule)
	assert.Equal(t, 10*time.Second, rs.Engine.JitterMin)
	assert.Equal(t, 20*time.Second, rs.Engine.JitterMax)
	assert.Equal(t, 30*time.Minute, rs.Engine.TimeBudget)
	assert.Equal(t, time.Second, rs.Engine.PersistDelay)
	assert.Equal(t, 3*time.Minute, rs.SecondaryMin)
	assert.Equal(t, 9*time.Minute, rs.SecondaryMax)
	assert.Equal(t, 1, rs.SendRatePerSec)
	assert.Equal(t, 168*time.Hour, rs.JournalRetention)
}

func TestMapRelayConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"inverted jitter":    func(c *config.Config) { c.Relay.JitterMin, c.Relay.JitterMax = "30s", "10s" },
		"bad schedule":       func(c *config.Config) { c.Relay.MainSchedule = "every day" },
		"bad prune":          func(c *config.Config) { c.Relay.PruneSchedule = "61 * * * *" },
		"negative rate":      func(c *config.Config) { c.Relay.SendRatePerSec = -1 },
		"bad duration":       func(c *config.Config) { c.Relay.TimeBudget = "half an hour" },
		"inverted secondary": func(c *config.Config) { c.Relay.SecondaryMin, c.Relay.SecondaryMax = "9m", "3m" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(cfg)
			_, err := mapRelayConfig(cfg)
			assert.Error(t, err)
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "test", sc.Env)
	assert.Equal(t, time.Second, sc.BusyTimeout)
	assert.Zero(t, sc.OpenTimeout)

	cfg.Storage = config.StorageConfig{Driver: "MariaDB", DSN: "u:p@tcp(db:3306)/relay"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mysql", sc.Driver)
	assert.Equal(t, 30*time.Second, sc.OpenTimeout)

	cfg.Storage = config.StorageConfig{Driver: "bolt", Path: "./relay.bolt", OpenTimeout: "5s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "bolt", sc.Driver)
	assert.Equal(t, 5*time.Second, sc.OpenTimeout)

	for _, bad := range []config.StorageConfig{
		{Driver: "sqlite"},
		{Driver: "bolt"},
		{Driver: "mysql"},
		{Driver: "postgres", Path: "x"},
		{Driver: "sqlite", Path: "x", BusyTimeout: "soon"},
	} {
		cfg.Storage = bad
		_, err := mapStorageConfig(cfg)
		assert.Error(t, err, "%+v", bad)
	}
}

func TestMapDebugConfig(t *testing.T) {
	cfg := baseConfig()
	_, enabled, err := mapDebugConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Debug = config.DebugConfig{Enabled: true, Addr: " 127.0.0.1:7070 ", ReadTimeout: "3s"}
	dc, enabled, err := mapDebugConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "127.0.0.1:7070", dc.Addr)
	assert.Equal(t, 3*time.Second, dc.ReadTimeout)
	assert.Equal(t, 60*time.Second, dc.IdleTimeout)

	cfg.Debug.BlockProfileRate = -1
	_, _, err = mapDebugConfig(cfg)
	assert.Error(t, err)
}

func TestLogTarget(t *testing.T) {
	cfg := baseConfig()
	_, ok := logTarget(cfg)
	assert.False(t, ok)

	cfg.Telegram.GroupLog = "-100123"
	id, ok := logTarget(cfg)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), id)

	cfg.Telegram.GroupLog = "123"
	id, ok = logTarget(cfg)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), id)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, validateConfig(baseConfig()))

	cfg := baseConfig()
	cfg.Telegram.Token = " "
	assert.Error(t, validateConfig(cfg))

	cfg = baseConfig()
	cfg.Telegram.GroupLog = "logs"
	assert.Error(t, validateConfig(cfg))

	cfg = baseConfig()
	cfg.Telegram.PollTimeout = "-1s"
	assert.Error(t, validateConfig(cfg))

	cfg = baseConfig()
	cfg.ProfilesDir = ""
	assert.Error(t, validateConfig(cfg))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func writeSetup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	writeFile(t, dir, "profiles/shop.yml", `
output_channel_id: "-1001111"
redirector_channel_id: "4444"
channel_settings_default:
  close_queue_interval: "60*30"
input_channels:
  "2222":
  "3333":
    close_queue_interval: 120
`)
	writeFile(t, dir, "tags.yml", `
global_tags:
  sizes:
    ru:
      "размер": size
`)
	cfgPath = writeFile(t, dir, "relaygram.yaml", `
env: test
profiles_dir: `+filepath.Join(dir, "profiles")+`
tags_file: `+filepath.Join(dir, "tags.yml")+`
telegram:
  token: "123:abc"
storage:
  driver: sqlite
  path: `+filepath.Join(dir, "relay.db")+`
relay:
  main_schedule: "*/30 * * * *"
`)
	return dir, cfgPath
}

func TestCheckReportsProfiles(t *testing.T) {
	_, cfgPath := writeSetup(t)

	rep, err := Check(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "test", rep.Env)
	assert.Equal(t, "sqlite", rep.StorageDriver)
	assert.Equal(t, "*/30 * * * *", rep.MainSchedule)
	assert.Equal(t, []string{"sizes"}, rep.TagGroups)

	require.Len(t, rep.Profiles, 1)
	p := rep.Profiles[0]
	assert.Equal(t, "shop", p.Name)
	assert.Equal(t, "4444", p.Redirector)
	assert.Equal(t, []InputSummary{
		{Source: "2222", CloseInterval: 30 * time.Minute},
		{Source: "3333", CloseInterval: 2 * time.Minute},
	}, p.Inputs)
}

func TestCheckFailsOnBadProfile(t *testing.T) {
	dir, cfgPath := writeSetup(t)
	writeFile(t, dir, "profiles/broken.yml", `
input_channels:
  "5555":
`)
	_, err := Check(cfgPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingOutput)
}

func TestCheckFailsOnBadKeywordPattern(t *testing.T) {
	dir, cfgPath := writeSetup(t)
	writeFile(t, dir, "profiles/shop.yml", `
output_channel_id: "-1001111"
input_channels:
  "2222":
    disallowed_keywords: ["(unclosed"]
`)
	_, err := Check(cfgPath)
	assert.Error(t, err)
}

func TestListQueues(t *testing.T) {
	dir, cfgPath := writeSetup(t)
	ctx := context.Background()

	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(dir, "relay.db"), Env: "test"}, logx.Nop())
	require.NoError(t, err)
	_, err = st.CreateQueue(ctx, storage.QueueRow{Profile: "shop", Source: "3333", MinID: 5, MaxID: 9})
	require.NoError(t, err)
	_, err = st.CreateQueue(ctx, storage.QueueRow{Profile: "shop", Source: "2222", MinID: 1, MaxID: 1, Open: true})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	rows, err := ListQueues(ctx, cfgPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Less(t, rows[0].ID, rows[1].ID)
	assert.Equal(t, "3333", rows[0].Source)
	assert.Equal(t, int64(9), rows[0].MaxID)
	assert.False(t, rows[0].Open)
	assert.True(t, rows[1].Open)
}

func TestSecondaryTicksFollowRedirectors(t *testing.T) {
	rs, err := mapRelayConfig(baseConfig())
	require.NoError(t, err)
	profiles := []config.Profile{
		{Name: "shop", Redirector: "4444"},
		{Name: "news"},
		{Name: "deals", Redirector: "5555"},
	}

	ticks := secondaryTicks(profiles, rs, rand.New(rand.NewSource(1)))
	require.Len(t, ticks, 2)
	assert.Equal(t, "relay.secondary.shop", ticks[0].name)
	assert.Equal(t, "4444", ticks[0].source)
	assert.Equal(t, "relay.secondary.deals", ticks[1].name)
	assert.Equal(t, "5555", ticks[1].source)
	for _, tk := range ticks {
		assert.GreaterOrEqual(t, tk.every, rs.SecondaryMin)
		assert.LessOrEqual(t, tk.every, rs.SecondaryMax)
		assert.Zero(t, tk.every%time.Minute, "whole minutes")
	}
}

func TestRegisterSchedules(t *testing.T) {
	rs, err := mapRelayConfig(baseConfig())
	require.NoError(t, err)
	a := &App{
		log:   logx.Nop(),
		sched: scheduler.New(scheduler.Config{}, logx.Nop(), eventbus.New()),
		relay: rs,
		profiles: []config.Profile{
			{Name: "shop", Redirector: "4444"},
			{Name: "news"},
		},
	}
	require.NoError(t, a.registerSchedules())

	var names []string
	for _, s := range a.sched.Snapshot().Schedules {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"relay.main", "relay.secondary.shop", "journal.prune"}, names)

	// registering twice is rejected by name
	assert.Error(t, a.registerSchedules())
}
