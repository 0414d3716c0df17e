package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outgoing relay sends (log lines are limited by logx).
	RatePerSec   int
	StoreTimeout time.Duration
}

// Journal records every post seen on a watched channel.
type Journal interface {
	PutItem(ctx context.Context, it content.RawItem, at time.Time) error
}

// Notifier is told about arrivals and edits after they are journaled.
type Notifier interface {
	OnNewItem(source string, id int64)
	Touch(source string)
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	runMu     sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	watched  map[string]bool
	journal  Journal
	notifier Notifier

	// journalFailures is logged periodically to avoid per-post log spam.
	journalFailures uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	return newAdapter(cfg, log, false)
}

func newAdapter(cfg Config, log logx.Logger, offline bool) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))

	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout:        cfg.PollTimeout,
			AllowedUpdates: []string{"channel_post", "edited_channel_post"},
		},
		Offline: offline,
		OnError: func(err error, c tele.Context) {
			log.Error("telegram handler failed", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		runCtx:  context.Background(),
	}, nil
}

// ResolveChats checks that the bot can see every chat in refs.
func (a *Adapter) ResolveChats(ctx context.Context, refs map[string]string) error {
	for name, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := content.ChatID(ref)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		chat, err := a.bot.ChatByID(id)
		if err != nil {
			return fmt.Errorf("%s: resolve chat %d: %w", name, id, err)
		}
		a.log.Info("chat resolved", logx.String("for", name), logx.Int64("chat_id", chat.ID), logx.String("title", chat.Title))
	}
	return nil
}

// Start begins long polling. Posts from sources outside the watch list are ignored.
func (a *Adapter) Start(ctx context.Context, sources []string, j Journal, n Notifier) error {
	if j == nil || n == nil {
		return errors.New("telegram: journal and notifier are required")
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.watched = make(map[string]bool, len(sources))
	for _, s := range sources {
		a.watched[s] = true
	}
	a.journal, a.notifier = j, n
	rctx, cancel := context.WithCancel(ctx)
	a.runCtx, a.runCancel = rctx, cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				a.flushFailures()
				return
			case <-ticker.C:
				a.flushFailures()
			}
		}
	}()

	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		a.ingest(c.Message(), false)
		return nil
	})
	a.bot.Handle(tele.OnEditedChannelPost, func(c tele.Context) error {
		a.ingest(c.Message(), true)
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started", logx.Int("sources", len(sources)))
		a.bot.Start() // blocks until Stop() called
	}()
	return nil
}

func (a *Adapter) flushFailures() {
	if n := atomic.SwapUint64(&a.journalFailures, 0); n > 0 {
		a.log.Warn("posts not journaled", logx.Uint64("count", n))
	}
}

// ingest journals a channel post and notifies the engine. Edits replace the
// journaled content and only refresh the idle timer.
func (a *Adapter) ingest(m *tele.Message, edited bool) {
	if m == nil || m.Chat == nil {
		return
	}
	it := rawFromMessage(m)
	if !a.watched[it.Source] {
		return
	}
	ctx, cancel := context.WithTimeout(a.runCtx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.journal.PutItem(ctx, it, time.Now()); err != nil {
		atomic.AddUint64(&a.journalFailures, 1)
		a.log.Debug("journal put failed", logx.String("source", it.Source), logx.Int64("id", it.ID), logx.Err(err))
		return
	}
	if edited {
		a.notifier.Touch(it.Source)
		return
	}
	a.notifier.OnNewItem(it.Source, it.ID)
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendLog implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	return call(ctx, func() error {
		_, err := a.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		return err
	})
}

// call runs fn but stops waiting once ctx is done; telebot calls take no context.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
