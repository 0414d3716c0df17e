package app

import (
	"fmt"
	"strings"
	"time"

	"relaygram/internal/config"
	"relaygram/internal/content"
	"relaygram/internal/observability/debug"
	"relaygram/internal/relay"
	"relaygram/internal/storage"
	"relaygram/internal/task/scheduler"
	"relaygram/internal/transport/telegram"
	logx "relaygram/pkg/logx"
)

// relaySettings is the parsed relay section: the engine config plus the
// schedules the app registers around it.
type relaySettings struct {
	Engine relay.Config

	MainSchedule string
	SecondaryMin time.Duration
	SecondaryMax time.Duration

	SendRatePerSec int

	JournalRetention time.Duration
	PruneSchedule    string
}

func mapRelayConfig(cfg *config.Config) (relaySettings, error) {
	var rs relaySettings
	if cfg == nil {
		return rs, fmt.Errorf("nil config")
	}
	rc := cfg.Relay

	rs.MainSchedule = strings.TrimSpace(rc.MainSchedule)
	if rs.MainSchedule == "" {
		rs.MainSchedule = "45m"
	}
	if err := scheduler.ValidateSchedule(rs.MainSchedule); err != nil {
		return rs, fmt.Errorf("relay.main_schedule: %w", err)
	}
	rs.PruneSchedule = strings.TrimSpace(rc.PruneSchedule)
	if rs.PruneSchedule == "" {
		rs.PruneSchedule = "1h"
	}
	if err := scheduler.ValidateSchedule(rs.PruneSchedule); err != nil {
		return rs, fmt.Errorf("relay.prune_schedule: %w", err)
	}

	var err error
	e := &rs.Engine
	if e.JitterMin, e.JitterMax, err = config.ParseDurationBand("relay.jitter", rc.JitterMin, rc.JitterMax, 10*time.Second, 20*time.Second); err != nil {
		return rs, err
	}
	if e.TimeBudget, err = config.ParseDurationOrDefault("relay.time_budget", rc.TimeBudget, 30*time.Minute); err != nil {
		return rs, err
	}
	if e.PersistDelay, err = config.ParseDurationOrDefault("relay.persist_delay", rc.PersistDelay, time.Second); err != nil {
		return rs, err
	}
	if e.SendTimeout, err = config.ParseDurationOrDefault("relay.send_timeout", rc.SendTimeout, 30*time.Second); err != nil {
		return rs, err
	}
	if e.FetchTimeout, err = config.ParseDurationOrDefault("relay.fetch_timeout", rc.FetchTimeout, 30*time.Second); err != nil {
		return rs, err
	}
	if rs.SecondaryMin, rs.SecondaryMax, err = config.ParseDurationBand("relay.secondary", rc.SecondaryMin, rc.SecondaryMax, 3*time.Minute, 9*time.Minute); err != nil {
		return rs, err
	}
	if rs.JournalRetention, err = config.ParseDurationOrDefault("relay.journal_retention", rc.JournalRetention, 7*24*time.Hour); err != nil {
		return rs, err
	}

	switch {
	case rc.SendRatePerSec < 0:
		return rs, fmt.Errorf("relay.send_rate_per_sec must be >= 0")
	case rc.SendRatePerSec == 0:
		rs.SendRatePerSec = 1
	default:
		rs.SendRatePerSec = rc.SendRatePerSec
	}
	return rs, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{Path: path, Env: cfg.Env, BusyTimeout: busy}

	var defOpen time.Duration
	switch driver {
	case "", "sqlite", "sqlite3":
		out.Driver = "sqlite"
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	case "bolt", "bbolt":
		out.Driver = "bolt"
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=bolt")
		}
	case "mysql", "mariadb":
		out.Driver = "mysql"
		out.DSN = strings.TrimSpace(sc.DSN)
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=mysql")
		}
		// the database may come up after the daemon
		defOpen = 30 * time.Second
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}

	if out.OpenTimeout, err = config.ParseDurationOrDefault("storage.open_timeout", sc.OpenTimeout, defOpen); err != nil {
		return storage.Config{}, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config, rs relaySettings) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		RatePerSec:   rs.SendRatePerSec,
		StoreTimeout: 10 * time.Second,
	}, nil
}

// mapDebugConfig returns enabled=false when the debug server is off.
func mapDebugConfig(cfg *config.Config) (debug.Config, bool, error) {
	dc := cfg.Debug
	readTimeout, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debug.Config{}, false, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, false, err
	}
	if dc.MutexProfileFraction < 0 || dc.BlockProfileRate < 0 {
		return debug.Config{}, false, fmt.Errorf("debug: profile rates must be >= 0")
	}
	return debug.Config{
		Addr:                 strings.TrimSpace(dc.Addr),
		Token:                dc.Token,
		AllowInsecure:        dc.AllowInsecure,
		ReadTimeout:          readTimeout,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: dc.MutexProfileFraction,
		BlockProfileRate:     dc.BlockProfileRate,
	}, dc.Enabled, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log; ok is false when it is unset or invalid.
func logTarget(cfg *config.Config) (int64, bool) {
	ref := strings.TrimSpace(cfg.Telegram.GroupLog)
	if ref == "" {
		return 0, false
	}
	id, err := content.ChatID(ref)
	if err != nil {
		return 0, false
	}
	return id, true
}

// validateConfig checks every section the app maps. It backs both the
// startup path and the hot-reload validator.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.ProfilesDir) == "" {
		return fmt.Errorf("profiles_dir is required")
	}
	if ref := strings.TrimSpace(cfg.Telegram.GroupLog); ref != "" {
		if _, err := content.ChatID(ref); err != nil {
			return fmt.Errorf("telegram.group_log: %w", err)
		}
	}
	rs, err := mapRelayConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg, rs); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	return nil
}
