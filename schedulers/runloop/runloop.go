// Package runloop implements spec.md §4.4's single-threaded run loop: a
// FIFO of operation-state continuations drained by exactly one goroutine
// running Run, fed by schedule senders connected from any goroutine.
//
// The internal FIFO itself (mutex + condition variable + a "finishing"
// flag) is the direct Go shape of spec.md §3's run-loop-queue. External
// submission is adapted from the teacher's eventloop/loop.go "goja-style"
// auxJobs/auxJobsSpare buffer swap (the comment there: "mutex outperforms
// lock-free under contention... chunking amortizes") by routing Submit
// through a github.com/joeycumines/go-microbatch Batcher, which coalesces
// concurrent external submissions into a single batch append under one
// lock acquisition instead of one lock acquisition per submission.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-microbatch"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/glue"
	"github.com/joeycumines/go-asynccore/queryenv"
)

// Errors mirroring eventloop/loop.go's sentinel-error-family pattern
// (ErrLoopAlreadyRunning etc.): stable identities checkable with errors.Is.
var (
	ErrAlreadyRunning = errors.New("runloop: Run is already in progress")
	ErrClosed         = errors.New("runloop: loop is finishing or finished")
)

type opNode struct {
	op   execution.OperationState
	next *opNode
}

// Loop is a single-threaded FIFO executor: exactly one goroutine should
// call Run; any goroutine may call Submit (directly, or indirectly via a
// Sender returned from Scheduler().Schedule()).
type Loop struct {
	mu        sync.Mutex
	cond      *sync.Cond
	head      *opNode
	tail      *opNode
	finishing bool

	started atomic.Bool

	batcher *microbatch.Batcher[execution.OperationState]
	logger  *glue.Logger
	limiter *catrate.Limiter
	depth   int
	budget  int
}

// Option configures a Loop at construction.
type Option func(*Loop)

// WithLogger sets the structured logger used for recovered panics and
// overload warnings. Defaults to glue.NopLogger().
func WithLogger(l *glue.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithOverloadBudget sets the queue-depth threshold above which Submit logs
// a rate-limited overload warning (default: 1024; following
// eventloop/loop.go's OnOverload concept, but surfaced through the
// structured logger instead of a user callback per spec.md's narrower
// contract for this layer).
func WithOverloadBudget(n int) Option {
	return func(lp *Loop) { lp.budget = n }
}

// NewLoop constructs a ready-to-run Loop. Nothing runs until Run is called.
func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		logger: glue.NopLogger(),
		budget: 1024,
	}
	l.cond = sync.NewCond(&l.mu)
	for _, o := range opts {
		o(l)
	}
	l.limiter = catrate.NewLimiter(map[time.Duration]int{time.Second: 1})
	l.batcher = microbatch.NewBatcher[execution.OperationState](&microbatch.BatcherConfig{
		MaxSize:        64,
		FlushInterval:  time.Millisecond,
		MaxConcurrency: 1,
	}, l.flushBatch)
	return l
}

func (l *Loop) flushBatch(_ context.Context, ops []execution.OperationState) error {
	l.mu.Lock()
	for _, op := range ops {
		l.pushLocked(op)
	}
	l.cond.Broadcast()
	depth := l.depth
	l.mu.Unlock()

	if depth > l.budget {
		if _, ok := l.limiter.Allow("overload"); ok {
			l.logger.Warning().Int("depth", depth).Log("runloop: queue depth exceeds budget")
		}
	}
	return nil
}

func (l *Loop) pushLocked(op execution.OperationState) {
	n := &opNode{op: op}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		l.tail.next = n
		l.tail = n
	}
	l.depth++
}

// Submit enqueues op for execution on the loop's Run goroutine. It never
// starts op itself: op.Start() is only ever called from inside Run, on the
// loop's own goroutine (the single-threaded-executor guarantee).
func (l *Loop) Submit(op execution.OperationState) error {
	l.mu.Lock()
	finishing := l.finishing
	l.mu.Unlock()
	if finishing {
		return ErrClosed
	}
	_, err := l.batcher.Submit(context.Background(), op)
	return err
}

// dequeue waits for a queued operation or for Finish to be called with the
// queue empty, in which case it returns nil to signal Run should return.
func (l *Loop) dequeue() execution.OperationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.head == nil && !l.finishing {
		l.cond.Wait()
	}
	if l.head == nil {
		return nil
	}
	n := l.head
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	l.depth--
	return n.op
}

// Run drains the queue on the calling goroutine until Finish is called and
// every already-queued operation has been started. It returns
// ErrAlreadyRunning if another goroutine is already inside Run.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.started.Store(false)
	for {
		op := l.dequeue()
		if op == nil {
			return nil
		}
		l.safeStart(op)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (l *Loop) safeStart(op execution.OperationState) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().Err(fmt.Errorf("%v", r)).Log("runloop: recovered panic from scheduled operation")
		}
	}()
	op.Start()
}

// Finish marks the loop as finishing: Run will drain whatever is currently
// queued and then return, and further Submit calls fail with ErrClosed.
// Callers must call Finish and let Run return before discarding a Loop
// (spec.md §4.4's destructor-aborts-if-called-before-finish contract; Go has
// no destructor to assert in, so this is a documented contract instead).
func (l *Loop) Finish() {
	l.mu.Lock()
	l.finishing = true
	l.cond.Broadcast()
	l.mu.Unlock()
	_ = l.batcher.Close()
}

// Scheduler returns the execution.Scheduler whose Schedule() senders
// complete on this loop's Run goroutine.
func (l *Loop) Scheduler() execution.Scheduler {
	return scheduler{l: l}
}

type scheduler struct{ l *Loop }

func (s scheduler) Schedule() execution.Sender[execution.Unit] {
	return loopSender{l: s.l}
}

type loopSender struct{ l *Loop }

func (s loopSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &loopOp{l: s.l, r: r}
}

type loopOp struct {
	l *Loop
	r execution.Receiver[execution.Unit]
}

func (o *loopOp) Start() {
	task := execution.OperationStateFunc(func() {
		tok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
		if tok.StopRequested() {
			o.r.SetStopped()
			return
		}
		o.r.SetValue(execution.Unit{})
	})
	if err := o.l.Submit(task); err != nil {
		o.r.SetError(err)
	}
}
