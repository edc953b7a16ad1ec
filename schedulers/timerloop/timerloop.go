// Package timerloop implements spec.md §4.6's timer-loop execution context:
// a single scheduler goroutine that pops deadline-ordered operations out of
// a red-black tree (rbtree.go) and completes them, sleeping between
// deadlines instead of busy-polling.
//
// Go has no libuv/epoll-style single poller to hook a timer heap into, and
// no condition_variable::wait_until with an absolute deadline; the nearest
// idiomatic shape is a goroutine blocked on sync.Cond, woken early either by
// a newly-inserted earlier deadline or by a helper goroutine whose sole job
// is forwarding a time.Timer's fire into a Broadcast, matching spec.md
// §4.6's own wording ("sleep on condition_variable::wait_until").
package timerloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/glue"
	"github.com/joeycumines/go-asynccore/queryenv"
	"github.com/joeycumines/go-asynccore/stoptoken"
)

// ErrAlreadyRunning is returned by Run if another goroutine is already
// draining this Loop.
var ErrAlreadyRunning = errors.New("timerloop: Run is already in progress")

// Loop is the timer-loop execution context (spec.md §4.6). Exactly one
// goroutine should call Run; ScheduleAfter may be called from any goroutine,
// including Run's own.
type Loop struct {
	mu   sync.Mutex
	cond *sync.Cond
	tree *rbtree

	finishing bool
	ctxDone   bool
	seq       uint64

	started atomic.Bool
	logger  *glue.Logger
}

// Option configures a Loop at construction.
type Option func(*Loop)

// WithLogger sets the structured logger used for recovered completion
// panics. Defaults to glue.NopLogger().
func WithLogger(l *glue.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// NewLoop constructs a ready-to-run Loop.
func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		tree:   newRBTree(),
		logger: glue.NopLogger(),
	}
	l.cond = sync.NewCond(&l.mu)
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run drains deadlines on the calling goroutine, sleeping between them,
// until ctx is cancelled or Finish has been called and the tree has drained.
// It returns ErrAlreadyRunning if another goroutine is already inside Run.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.started.Store(false)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.ctxDone = true
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	var (
		timer         *time.Timer
		timerStopCh   chan struct{}
		armedDeadline time.Time
		haveArmed     bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			close(timerStopCh)
			timer = nil
			haveArmed = false
		}
	}

	l.mu.Lock()
	defer func() {
		stopTimer()
		l.mu.Unlock()
	}()

	for {
		if l.ctxDone {
			return ctx.Err()
		}
		if l.tree.empty() {
			if l.finishing {
				return nil
			}
			stopTimer()
			l.cond.Wait()
			continue
		}

		now := time.Now()
		if !l.tree.min.deadline.After(now) {
			stopTimer()
			var ready []*node
			for l.tree.min != nil && !l.tree.min.deadline.After(now) {
				n := l.tree.min
				l.tree.remove(n)
				n.delivered = true
				ready = append(ready, n)
			}
			l.mu.Unlock()
			for _, n := range ready {
				l.deliver(n)
			}
			l.mu.Lock()
			continue
		}

		if !haveArmed || !armedDeadline.Equal(l.tree.min.deadline) {
			stopTimer()
			armedDeadline = l.tree.min.deadline
			haveArmed = true
			timerStopCh = make(chan struct{})
			timer = time.NewTimer(l.tree.min.deadline.Sub(now))
			go func(t *time.Timer, stopCh chan struct{}) {
				select {
				case <-t.C:
					l.mu.Lock()
					l.cond.Broadcast()
					l.mu.Unlock()
				case <-stopCh:
				}
			}(timer, timerStopCh)
		}
		l.cond.Wait()
	}
}

// deliver hands a popped node's outcome to its receiver, off the timer
// loop's internal lock, recovering and logging any panic the receiver
// raises so one bad continuation can't take down the scheduler goroutine.
func (l *Loop) deliver(n *node) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().Err(fmt.Errorf("%v", r)).Log("timerloop: recovered panic from timer completion")
		}
		if n.op.cb != nil {
			n.op.cb.Close()
		}
	}()
	if n.cancelled {
		n.op.r.SetStopped()
	} else {
		n.op.r.SetValue(execution.Unit{})
	}
}

// Finish marks the loop as finishing. It neither delivers the remaining
// scheduled deadlines early nor turns them into stopped completions: Run
// keeps delivering each one when its deadline passes, until the tree
// empties naturally. Further ScheduleAfter calls still succeed (timers
// already in flight should still fire); to abandon pending timers, cancel
// their stop tokens. Once the tree is empty, Run returns.
func (l *Loop) Finish() {
	l.mu.Lock()
	l.finishing = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// cancel marks n as cancelled and, if it hasn't been delivered yet, moves it
// to the front of the queue (deadline = now) so Run wakes promptly and
// delivers set_stopped instead of waiting out the original deadline. It is
// safe to call after n has already been delivered; in that case it's a
// no-op, matching stoptoken.Callback's idempotent-detach semantics.
func (l *Loop) cancel(n *node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.delivered {
		return
	}
	n.cancelled = true
	l.tree.remove(n)
	n.deadline = time.Now() // already due, so Run delivers it on its next pass
	l.seq++
	n.seq = l.seq
	l.tree.insert(n)
	l.cond.Broadcast()
}

// timerOp is the operation state returned by a timerSender's Connect.
type timerOp struct {
	l *Loop
	d time.Duration
	r execution.Receiver[execution.Unit]
	n *node
	cb *stoptoken.Callback
}

func (o *timerOp) Start() {
	tok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
	if tok.StopRequested() {
		o.r.SetStopped()
		return
	}

	o.l.mu.Lock()
	o.l.seq++
	n := &node{deadline: time.Now().Add(o.d), seq: o.l.seq, op: o}
	o.n = n
	o.l.tree.insert(n)
	o.l.cond.Broadcast()
	o.l.mu.Unlock()

	if tok.StopPossible() {
		o.cb = stoptoken.NewCallback(tok, func() {
			o.l.cancel(n)
		})
	}
}

// timerSender is the Sender returned by ScheduleAfter.
type timerSender struct {
	l *Loop
	d time.Duration
}

func (s timerSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &timerOp{l: s.l, d: s.d, r: r}
}

// ScheduleAfter returns a Sender that completes with value Unit{} once d has
// elapsed on this loop's Run goroutine, or with set_stopped if the
// connected receiver's stop token fires first (spec.md §4.6's start_ops /
// stop_ops pair).
func (l *Loop) ScheduleAfter(d time.Duration) execution.Sender[execution.Unit] {
	return timerSender{l: l, d: d}
}
