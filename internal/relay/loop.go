package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	logx "relaygram/pkg/logx"
)

var (
	// ErrStopped is returned when work is submitted to a stopped engine.
	ErrStopped    = errors.New("relay: stopped")
	ErrNotStarted = errors.New("relay: not started")
)

// Loop runs posted closures one at a time on a single goroutine.
//
// The task queue is unbounded so Post never blocks, including when called
// from a task already running on the loop.
type Loop struct {
	log logx.Logger

	mu      sync.Mutex
	tasks   []func()
	running bool
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewLoop(log logx.Logger) *Loop {
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling it again is a no-op.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.running = true
		l.mu.Unlock()
		go l.run()
	})
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			select {
			case <-l.stop:
				return
			default:
			}
			l.mu.Lock()
			if len(l.tasks) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.tasks[0]
			l.tasks[0] = nil
			l.tasks = l.tasks[1:]
			l.mu.Unlock()
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// Post queues fn. It reports false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. Every task posted
// before Call has run by the time it returns.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return ErrNotStarted
	}
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have been the last one to run before stop.
		select {
		case <-finished:
			return nil
		default:
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, drops queued ones and waits for the running task.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		dropped := len(l.tasks)
		l.tasks = nil
		l.mu.Unlock()
		if dropped > 0 {
			l.log.Debug("loop stopped with queued tasks", logx.Int("dropped", dropped))
		}
		close(l.stop)
	})

	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
