// Package asyncoro provides a user-space cooperative coroutine runtime
// coupled with a readiness-driven I/O notifier.
//
// # Architecture
//
// The runtime is built around two tightly coupled subsystems: a
// [Scheduler] that owns a population of coroutines and advances them via a
// resume/throw/suspend protocol, and a [Notifier] that wraps the best
// available OS readiness mechanism and turns per-descriptor events into
// resumes of the waiting coroutine.
//
// Around that core, [AsyncSocket] provides a socket façade (blocking and
// non-blocking modes, framed message read/write with an authentication
// prefix), and [Lock]/[Cond] give coroutines mutual exclusion and signaling
// primitives built on top of the scheduler.
//
// # Platform Support
//
// I/O readiness is implemented using platform-native mechanisms selected at
// build time, with a portable fallback:
//   - Linux: epoll (edge-triggered), see poller_linux.go
//   - Darwin: kqueue, see poller_darwin.go
//   - Any unix target: poll(2) (level-triggered), see poller_poll_unix.go
//   - Any unix target: select(2) fallback with a self-pipe, see poller_select_unix.go
//
// # Usage
//
//	sched := asyncoro.NewScheduler()
//	defer sched.Terminate()
//
//	sched.Add("greeter", func(y *asyncoro.Yield) (any, error) {
//	    if _, err := y.Sleep(10 * time.Millisecond); err != nil {
//	        return nil, err
//	    }
//	    fmt.Println("hello after a short sleep")
//	    return nil, nil
//	})
//
//	sched.Join()
//
// # Thread Safety
//
// [Scheduler.Add], [Scheduler.Resume], [Scheduler.Throw], [Scheduler.Terminate]
// and [Scheduler.Join] are safe to call from any goroutine. The notifier's
// continuations execute on the notifier's own goroutine and call Resume/Throw
// — that is the only cross-thread wake path into the scheduler.
package asyncoro
