package relay

import (
	"relaygram/internal/clock"
	logx "relaygram/pkg/logx"
)

// armIdle (re)starts the idle-close countdown of q for its full interval.
func (e *Engine) armIdle(q *Queue) {
	e.stopIdle(q)
	var t clock.Timer
	t = e.clk.AfterFunc(e.closeInterval(q), func() {
		e.loop.Post(func() {
			// A stale fire after re-arm or stop is ignored.
			if cur, ok := e.st.idle[q]; !ok || cur != t {
				return
			}
			delete(e.st.idle, q)
			e.log.Debug("queue idle", logx.Int64("qid", q.ID), logx.String("profile", q.Profile), logx.String("source", q.Source))
			e.closeQueue(q)
		})
	})
	e.st.idle[q] = t
}

func (e *Engine) stopIdle(q *Queue) {
	if t, ok := e.st.idle[q]; ok {
		t.Stop()
		delete(e.st.idle, q)
	}
}
