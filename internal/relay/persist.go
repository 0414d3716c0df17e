package relay

import (
	"errors"

	"relaygram/internal/clock"
	"relaygram/internal/storage"
	logx "relaygram/pkg/logx"
)

// schedulePersist (re)arms the single pending write of q.
func (e *Engine) schedulePersist(q *Queue) {
	if t, ok := e.st.writes[q]; ok {
		t.Stop()
	}
	var t clock.Timer
	t = e.clk.AfterFunc(e.cfg.PersistDelay, func() {
		e.loop.Post(func() {
			if cur, ok := e.st.writes[q]; !ok || cur != t {
				return
			}
			delete(e.st.writes, q)
			e.writeQueue(q)
		})
	})
	e.st.writes[q] = t
}

// flushWrites performs every pending write now.
func (e *Engine) flushWrites() {
	for q, t := range e.st.writes {
		t.Stop()
		delete(e.st.writes, q)
		e.writeQueue(q)
	}
}

// writeQueue stores the range metadata of q. A queue whose create failed,
// or whose row vanished, is created instead.
func (e *Engine) writeQueue(q *Queue) {
	ctx, cancel := e.storeCtx()
	defer cancel()

	if q.ID != 0 {
		err := e.store.UpdateQueue(ctx, q.row())
		if err == nil {
			e.log.Debug("queue updated", logx.Int64("qid", q.ID), logx.Int64("min_id", q.MinID), logx.Int64("max_id", q.MaxID), logx.Bool("open", q.Open))
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			recordError("store_update")
			e.log.Error("update queue failed", logx.Int64("qid", q.ID), logx.Err(err))
			return
		}
		e.log.Warn("queue row missing; recreating", logx.Int64("qid", q.ID))
	}

	id, err := e.store.CreateQueue(ctx, q.row())
	if err != nil {
		recordError("store_create")
		e.log.Error("create queue failed", logx.String("profile", q.Profile), logx.String("source", q.Source), logx.Err(err))
		return
	}
	q.ID = id
}
