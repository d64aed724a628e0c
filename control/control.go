// control.go - Park/wake orchestration for the consumer context
// ============================================================================
// CONSUMER LOOP ORCHESTRATION
// ============================================================================
//
// Loop runs a body function repeatedly on the consumer goroutine and parks
// between iterations once the body reports it ran out of work.
//
// Architecture overview:
//   • The body calls AllowSleep() when both inputs were empty
//   • Wakeup() from any goroutine cancels the next park or ends the current one
//   • Wait() blocks a caller until the loop has gone idle after the call
//   • Stop() is non-blocking-capable and interrupts a parked loop
//
// Threading model:
//   • Run, AllowSleep: consumer goroutine only
//   • Wakeup, Wait, WaitYield, Stop, IsRunning: any goroutine
//
// Safety guarantees:
//   • Bounded spinning: an idle loop polls SpinBudget times with a PAUSE hint
//     before it parks; a parked loop only wakes on Wakeup, Stop or timeout
//   • The park decision and the idle notification happen under one lock, so
//     a Wait issued concurrently with a park never returns early

package control

import (
	"sync"
	"sync/atomic"
	"time"

	"gpufifo/constants"
	"gpufifo/ring"
)

// ============================================================================
// LOOP STATE
// ============================================================================

// Loop is a restartable park/wake worker loop.
type Loop struct {
	mu      sync.Mutex
	idle    chan struct{} // closed each time the loop parks; replaced under mu
	done    chan struct{} // closed when Run returns
	pending bool          // wakeup requested since the current iteration started

	wake     chan struct{} // cap 1, coalesces wakeups
	stopping atomic.Bool
	running  atomic.Bool

	sleepOK bool // consumer goroutine only
}

// NewLoop returns a loop ready to Run.
func NewLoop() *Loop {
	l := &Loop{wake: make(chan struct{}, 1)}
	l.Prepare()
	return l
}

// Prepare re-arms a stopped loop so Run may be called again.
func (l *Loop) Prepare() {
	l.mu.Lock()
	l.idle = make(chan struct{})
	l.done = make(chan struct{})
	l.pending = false
	l.mu.Unlock()
	l.stopping.Store(false)
}

// ============================================================================
// CONSUMER SIDE
// ============================================================================

// Run executes body until Stop. After an iteration in which body called
// AllowSleep and no Wakeup arrived, the loop parks for at most timeout.
func (l *Loop) Run(body func(), timeout time.Duration) {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	l.running.Store(true)
	defer func() {
		l.mu.Lock()
		l.running.Store(false)
		close(l.idle)
		l.idle = make(chan struct{})
		l.mu.Unlock()
		close(done)
	}()

	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for !l.stopping.Load() {
		l.mu.Lock()
		l.pending = false
		l.mu.Unlock()
		l.sleepOK = false

		body()

		if l.stopping.Load() {
			return
		}
		if !l.sleepOK {
			continue
		}

		// Hot phase: a wakeup arriving within the spin skips the park.
		for i := 0; i < constants.SpinBudget && len(l.wake) == 0 && !l.stopping.Load(); i++ {
			ring.Relax()
		}

		l.mu.Lock()
		if l.pending {
			l.mu.Unlock()
			continue
		}
		close(l.idle)
		l.idle = make(chan struct{})
		l.mu.Unlock()

		timer.Reset(timeout)
		select {
		case <-l.wake:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// AllowSleep lets the loop park after the current iteration.
// Consumer goroutine only.
func (l *Loop) AllowSleep() { l.sleepOK = true }

// ============================================================================
// ANY GOROUTINE
// ============================================================================

// Wakeup makes the loop run at least one more iteration.
func (l *Loop) Wakeup() {
	l.mu.Lock()
	l.pending = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the loop has completed an iteration that started after
// the call and then parked, or until it stops. Returns immediately when the
// loop is not running.
func (l *Loop) Wait() {
	l.WaitYield(0, nil)
}

// WaitYield is Wait that calls yield every interval while blocked.
func (l *Loop) WaitYield(interval time.Duration, yield func()) {
	if !l.running.Load() {
		return
	}
	l.mu.Lock()
	l.pending = true
	idle, done := l.idle, l.done
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}

	var tick <-chan time.Time
	if interval > 0 && yield != nil {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-idle:
			return
		case <-done:
			return
		case <-tick:
			yield()
		}
	}
}

// Stop asks the loop to exit. With nonBlocking it returns at once;
// otherwise it waits for Run to return. Safe before Run has started.
func (l *Loop) Stop(nonBlocking bool) {
	l.stopping.Store(true)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	if nonBlocking || !l.running.Load() {
		return
	}
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	<-done
}

// IsRunning reports whether Run is executing.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Stopping reports whether Stop has been requested.
func (l *Loop) Stopping() bool { return l.stopping.Load() }
