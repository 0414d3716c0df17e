package config

// Config is the daemon's main configuration file.
//
// Profiles live in separate files under ProfilesDir (see LoadProfiles);
// they are read once at startup.
type Config struct {
	// Env names the deployment ("dev", "prod", ...). It is part of the
	// storage table names so several environments can share one database.
	Env         string `json:"env"`
	ProfilesDir string `json:"profiles_dir"`
	TagsFile    string `json:"tags_file,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Relay    RelayConfig    `json:"relay"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the queue store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relaygram.db" }
//	"storage": { "driver": "mysql", "dsn": "relay:secret@tcp(db:3306)/relay?parseTime=true" }
//	"storage": { "driver": "bolt", "path": "./data/relaygram.bolt" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"` // mysql only (do not log)
	// BusyTimeout is a Go duration string (sqlite/bolt lock wait).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// OpenTimeout bounds the retry window when the store is not reachable at startup.
	OpenTimeout string `json:"open_timeout,omitempty"`
}

// RelayConfig tunes the scheduling engine. All durations are Go duration strings.
//
// Defaults (when fields are omitted):
//   - main_schedule: "45m" (interval, HH:MM, or cron expression)
//   - jitter_min/jitter_max: "10s"/"20s"
//   - time_budget: "30m"
//   - persist_delay: "1s"
//   - secondary_min/secondary_max: "3m"/"9m"
//   - send_timeout/fetch_timeout: "30s"
//   - send_rate_per_sec: 1
//   - journal_retention: "168h", pruned on prune_schedule ("1h")
type RelayConfig struct {
	MainSchedule string `json:"main_schedule,omitempty"`
	JitterMin    string `json:"jitter_min,omitempty"`
	JitterMax    string `json:"jitter_max,omitempty"`
	TimeBudget   string `json:"time_budget,omitempty"`
	PersistDelay string `json:"persist_delay,omitempty"`

	SecondaryMin string `json:"secondary_min,omitempty"`
	SecondaryMax string `json:"secondary_max,omitempty"`

	SendTimeout    string `json:"send_timeout,omitempty"`
	FetchTimeout   string `json:"fetch_timeout,omitempty"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`

	JournalRetention string `json:"journal_retention,omitempty"`
	PruneSchedule    string `json:"prune_schedule,omitempty"`
}

// DebugConfig controls the optional HTTP server exposing /metrics, /healthz and pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
