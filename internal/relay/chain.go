package relay

import (
	"context"
	"time"

	"relaygram/internal/clock"
	logx "relaygram/pkg/logx"
)

// schedule appends it to the profile's chain with a timer due after off.
func (e *Engine) schedule(profile string, it Item, off time.Duration) {
	c := e.st.chain(profile)
	c.items = append(c.items, it)
	var t clock.Timer
	t = e.clk.AfterFunc(off, func() {
		e.loop.Post(func() { e.fire(profile, t) })
	})
	c.timers = append(c.timers, t)
}

// fire handles one due timer. Whatever timer fired, the item at the front of
// the chain is the one sent, so sends follow append order.
func (e *Engine) fire(profile string, t clock.Timer) {
	c := e.st.chains[profile]
	if c == nil {
		return
	}
	found := false
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			found = true
			break
		}
	}
	if !found || len(c.items) == 0 {
		// Cancelled at shutdown.
		return
	}
	it := c.items[0]
	c.items[0] = nil
	c.items = c.items[1:]
	c.inflight++
	e.dispatch(profile, c, it)
}

// dispatch sends it off the loop. Sends of one profile run strictly one
// after another in dispatch order.
func (e *Engine) dispatch(profile string, c *chain, it Item) {
	prev := c.last
	done := make(chan struct{})
	c.last = done
	p := e.profiles[profile]

	e.sends.Add(1)
	go func() {
		defer e.sends.Done()
		if prev != nil {
			<-prev
		}
		start := e.clk.Now()
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SendTimeout)
		err := e.sink.Deliver(ctx, p, it)
		cancel()
		recordDelivery(profile, it, err, e.clk.Now().Sub(start))
		close(done)
		e.loop.Post(func() { e.delivered(profile, c, it, err) })
	}()
}

// delivered runs on the loop after each send, successful or not.
func (e *Engine) delivered(profile string, c *chain, it Item, err error) {
	c.inflight--
	kind := itemKind(it)
	if err != nil {
		e.log.Error("delivery failed; item dropped", logx.String("profile", profile), logx.String("kind", kind), logx.Err(err))
		e.publish(EventDeliveryFailed, DeliveryEvent{Profile: profile, Kind: kind, Error: err.Error()})
	} else {
		e.log.Debug("item delivered", logx.String("profile", profile), logx.String("kind", kind))
		e.publish(EventDeliverySent, DeliveryEvent{Profile: profile, Kind: kind})
	}

	if len(c.items) == 0 && c.inflight == 0 {
		c.last = nil
		if e.st.inProgress(profile) {
			e.st.setSending(profile, false)
			e.log.Info("sending finished", logx.String("profile", profile))
			e.publish(EventSendingFinished, DeliveryEvent{Profile: profile})
		}
	}
}
