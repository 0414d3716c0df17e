package relay

import (
	"context"
	"time"

	"github.com/google/uuid"

	logx "relaygram/pkg/logx"
)

// tick is one drain pass over every tracked queue.
func (e *Engine) tick(source string) {
	start := e.clk.Now()
	runID := uuid.NewString()
	log := e.log.With(logx.String("run", runID))
	if source != "" {
		log = log.With(logx.String("filter", source))
	}

	offsets := map[string]time.Duration{}
	scheduled := map[string]int{}
	var pending int64
	total := 0
	tracked := len(e.st.queues)

	// Drained queues leave the registry during the walk.
	snapshot := append([]*Queue(nil), e.st.queues...)
	for _, q := range snapshot {
		if e.st.inProgress(q.Profile) {
			deferrals.WithLabelValues(q.Profile).Inc()
			log.Info("profile still sending; deferring queue to next tick",
				logx.String("profile", q.Profile), logx.String("source", q.Source), logx.Int64("qid", q.ID))
			continue
		}
		pending += q.Pending()

		if q.Open || q.Empty() || (source != "" && q.Source != source) {
			continue
		}

		if err := e.populate(q); err != nil {
			recordError("fetch")
			log.Error("populate queue failed; keeping it for next tick",
				logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source), logx.Err(err))
			q.Items = nil
			continue
		}

		off := offsets[q.Profile]
		n := 0
		for len(q.Items) > 0 {
			off += e.jitter()
			e.schedule(q.Profile, q.Items[0], off)
			q.Items[0] = nil
			q.Items = q.Items[1:]
			n++
		}
		q.Items = nil
		offsets[q.Profile] = off
		scheduled[q.Profile] += n
		total += n

		drainedQueues.WithLabelValues(q.Profile).Inc()
		log.Info("queue drained", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source),
			logx.Int("items", n), logx.Duration("offset", off))
		e.publish(EventDrainScheduled, DrainEvent{RunID: runID, Profile: q.Profile, Source: q.Source, Items: n, Offset: off})

		e.deleteQueue(q)

		if off >= e.cfg.TimeBudget {
			log.Info("time budget reached; remaining queues wait for next tick",
				logx.String("profile", q.Profile), logx.Duration("offset", off), logx.Duration("budget", e.cfg.TimeBudget))
			break
		}
	}

	for p, n := range scheduled {
		if n > 0 {
			e.st.setSending(p, true)
		}
	}

	pendingItems.Set(float64(pending))
	log.Info("drain tick finished",
		logx.Int("queues", tracked), logx.Int64("pending", pending), logx.Int("scheduled", total),
		logx.Duration("took", e.clk.Now().Sub(start)))
}

// populate fetches the queue's range and folds the allowed items into q.Items.
func (e *Engine) populate(q *Queue) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
	defer cancel()

	raws, err := e.origin.FetchRange(ctx, q.Source, q.MinID, q.MaxID)
	if err != nil {
		return err
	}
	settings := e.profiles[q.Profile].Settings(q.Source)
	denied := 0
	for _, raw := range raws {
		out, ok := e.tf.Evaluate(settings, raw)
		if !ok {
			denied++
			continue
		}
		q.Items = appendItem(q.Items, out)
	}
	e.log.Debug("queue populated", logx.Int64("qid", q.ID), logx.Int("fetched", len(raws)), logx.Int("denied", denied), logx.Int("items", len(q.Items)))
	return nil
}

// jitter draws uniformly from [JitterMin, JitterMax] at millisecond resolution.
func (e *Engine) jitter() time.Duration {
	lo := e.cfg.JitterMin.Milliseconds()
	hi := e.cfg.JitterMax.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+e.rng.Int63n(hi-lo+1)) * time.Millisecond
}
