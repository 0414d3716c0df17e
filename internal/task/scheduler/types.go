package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"relaygram/internal/eventbus"
	logx "relaygram/pkg/logx"
)

// Event types published on the bus.
const (
	EventRunFinished = "scheduler.run.finished"
	EventRunFailed   = "scheduler.run.failed"
	EventRunSkipped  = "scheduler.run.skipped"
)

type Config struct {
	Timezone string // IANA TZ, empty for local time
}

// RunEvent is the payload of scheduler events.
type RunEvent struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took"`
	Error string        `json:"error,omitempty"`
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	// startupSpread is the extra delay before the first interval run.
	startupSpread time.Duration
	running       atomic.Bool
	runs          atomic.Uint64
	skipped       atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Runs    uint64        `json:"runs"`
	Skipped uint64        `json:"skipped"`
	Running bool          `json:"running"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
