// Package scheduler triggers the daemon's periodic jobs (relay drain ticks,
// journal pruning) from cron expressions or fixed intervals.
//
// A job never overlaps itself: a trigger that fires while the previous run
// is still going is skipped and reported on the event bus.
package scheduler
