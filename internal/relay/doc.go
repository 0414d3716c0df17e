// Package relay is the queueing and dispatch-scheduling engine.
//
// Arrivals open or extend one queue per (source, profile). A queue closes
// after an idle interval; a periodic drain tick turns closed queues into a
// chain of jittered delivery timers per profile. Queue state is persisted as
// id ranges only and reinstated on start.
//
// All state lives in SchedulerState and is touched only from the engine's
// event loop goroutine. Timer callbacks and intake calls post closures into
// the loop.
package relay
