package relay

import (
	"context"
	"fmt"

	logx "relaygram/pkg/logx"
)

// load reinstates persisted rows with empty items and arms idle timers for
// open ones. Rows of unknown profiles stay in the store untouched.
func (e *Engine) load(ctx context.Context) error {
	rows, err := e.store.LoadQueues(ctx)
	if err != nil {
		return fmt.Errorf("load queues: %w", err)
	}
	loaded, skipped := 0, 0
	for _, r := range rows {
		if _, ok := e.profiles[r.Profile]; !ok {
			e.log.Warn("ignoring queue of unknown profile", logx.Int64("qid", r.ID), logx.String("profile", r.Profile), logx.String("source", r.Source))
			skipped++
			continue
		}
		q := queueFromRow(r)
		if q.Open && e.findOpen(q.Source, q.Profile) != nil {
			// A second open row for the same pair cannot be extended; let it drain.
			e.log.Warn("closing duplicate open queue", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source))
			q.Open = false
			e.schedulePersist(q)
		}
		e.st.queues = append(e.st.queues, q)
		if q.Open {
			e.armIdle(q)
		}
		loaded++
	}
	recordQueueStats(e.st)
	if loaded > 0 || skipped > 0 {
		e.log.Info("queues loaded", logx.Int("loaded", loaded), logx.Int("skipped", skipped))
	}
	return nil
}

// findOpen returns the open queue for the pair, or nil.
func (e *Engine) findOpen(source, profile string) *Queue {
	for _, q := range e.st.queues {
		if q.Open && q.Source == source && q.Profile == profile {
			return q
		}
	}
	return nil
}

// getOrCreate returns the open queue for the pair, creating and persisting
// an empty one when none exists. A failed create leaves ID at 0; the next
// debounced write retries it.
func (e *Engine) getOrCreate(source, profile string) *Queue {
	if q := e.findOpen(source, profile); q != nil {
		return q
	}
	q := &Queue{Profile: profile, Source: source, Open: true}
	e.st.queues = append(e.st.queues, q)

	ctx, cancel := e.storeCtx()
	id, err := e.store.CreateQueue(ctx, q.row())
	cancel()
	if err != nil {
		recordError("store_create")
		e.log.Error("create queue failed", logx.String("profile", profile), logx.String("source", source), logx.Err(err))
	} else {
		q.ID = id
		e.log.Info("queue created", logx.Int64("qid", id), logx.String("profile", profile), logx.String("source", source))
	}
	recordQueueStats(e.st)
	e.publish(EventQueueCreated, queueEvent(q))
	return q
}

// recordActivity extends the range with id, schedules a write and restarts
// the idle timer.
func (e *Engine) recordActivity(q *Queue, id int64) {
	if q.MinID == 0 {
		q.MinID = id
	}
	q.MaxID = id
	e.log.Debug("queue activity", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source), logx.Int64("item", id))
	e.schedulePersist(q)
	e.armIdle(q)
}

// closeQueue marks q closed. Closing a closed queue does nothing.
func (e *Engine) closeQueue(q *Queue) {
	if !q.Open {
		return
	}
	q.Open = false
	e.schedulePersist(q)
	e.stopIdle(q)
	recordQueueStats(e.st)
	e.log.Info("queue closed", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source),
		logx.Int64("min_id", q.MinID), logx.Int64("max_id", q.MaxID))
	e.publish(EventQueueClosed, queueEvent(q))
}

// deleteQueue drops q from the registry and the store.
func (e *Engine) deleteQueue(q *Queue) {
	for i, x := range e.st.queues {
		if x == q {
			e.st.queues = append(e.st.queues[:i], e.st.queues[i+1:]...)
			break
		}
	}
	e.stopIdle(q)
	if t, ok := e.st.writes[q]; ok {
		t.Stop()
		delete(e.st.writes, q)
	}
	if q.ID != 0 {
		ctx, cancel := e.storeCtx()
		err := e.store.DeleteQueue(ctx, q.ID)
		cancel()
		if err != nil {
			recordError("store_delete")
			e.log.Error("delete queue failed", logx.Int64("qid", q.ID), logx.Err(err))
		}
	}
	recordQueueStats(e.st)
	e.log.Info("queue deleted", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source))
	e.publish(EventQueueDeleted, queueEvent(q))
}
