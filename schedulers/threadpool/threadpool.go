// Package threadpool implements spec.md §4.5's fixed-size, work-stealing
// static thread pool: one goroutine per worker, each owning its own FIFO
// queue, with round-robin submission and round-robin stealing on the
// consumer side.
package threadpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/go-asynccore/execution"
	"github.com/joeycumines/go-asynccore/glue"
	"github.com/joeycumines/go-asynccore/queryenv"
)

// ErrClosed is returned by Enqueue after Finish has been called.
var ErrClosed = errors.New("threadpool: pool is finished")

type opNode struct {
	op   execution.OperationState
	next *opNode
}

// workerQueue is one worker's intrusive FIFO: a mutex + condition variable,
// following the same shape as runloop's internal queue (spec.md §3's
// thread-pool-work-queue).
type workerQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	head      *opNode
	tail      *opNode
	finishing bool
}

func newWorkerQueue() *workerQueue {
	q := &workerQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workerQueue) pushLocked(op execution.OperationState) {
	n := &opNode{op: op}
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
}

// tryPush attempts to push op onto the queue without blocking, returning
// false if the queue's mutex is currently held by someone else or the queue
// is finishing (Enqueue's try_lock peer-probing step uses this; the
// worker's try-steal step uses tryPop).
func (q *workerQueue) tryPush(op execution.OperationState) bool {
	if !q.mu.TryLock() {
		return false
	}
	defer q.mu.Unlock()
	if q.finishing {
		return false
	}
	q.pushLocked(op)
	q.cond.Signal()
	return true
}

// push blocks until it can lock the queue, then pushes. Used as Enqueue's
// fallback when every try_lock probe in the round-robin window fails.
func (q *workerQueue) push(op execution.OperationState) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finishing {
		return false
	}
	q.pushLocked(op)
	q.cond.Signal()
	return true
}

// tryPop attempts a non-blocking pop, for peer-stealing.
func (q *workerQueue) tryPop() (execution.OperationState, bool) {
	if !q.mu.TryLock() {
		return nil, false
	}
	defer q.mu.Unlock()
	if q.head == nil {
		return nil, false
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	return n.op, true
}

// popBlocking blocks until an item is available or the queue is finishing
// and empty, in which case it returns (nil, false).
func (q *workerQueue) popBlocking() (execution.OperationState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.finishing {
		q.cond.Wait()
	}
	if q.head == nil {
		return nil, false
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	return n.op, true
}

func (q *workerQueue) finish() {
	q.mu.Lock()
	q.finishing = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pool is a fixed-size work-stealing thread pool (spec.md §4.5). Size is
// fixed at construction; there is no dynamic scheduler discovery or resize
// (per spec.md §1's non-goals).
type Pool struct {
	workers []*workerQueue
	index   atomic.Uint64
	wg      sync.WaitGroup
	logger  *glue.Logger
	limiter *catrate.Limiter
	closed  atomic.Bool
}

// Option configures a Pool at construction.
type Option func(*poolConfig)

type poolConfig struct {
	logger *glue.Logger
}

// WithLogger sets the structured logger used for recovered worker panics.
func WithLogger(l *glue.Logger) Option {
	return func(c *poolConfig) { c.logger = l }
}

// New constructs a Pool with the given fixed number of workers and starts
// them immediately. size must be positive.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		panic("threadpool: size must be positive")
	}
	cfg := poolConfig{logger: glue.NopLogger()}
	for _, o := range opts {
		o(&cfg)
	}

	p := &Pool{
		workers: make([]*workerQueue, size),
		logger:  cfg.logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{time.Second: 1}),
	}
	for i := range p.workers {
		p.workers[i] = newWorkerQueue()
	}
	p.wg.Add(size)
	for i := range p.workers {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(self int) {
	defer p.wg.Done()
	n := len(p.workers)
	for {
		// try-steal from peers in round-robin before blocking on our own
		// queue (spec.md §4.5's worker loop).
		var (
			op execution.OperationState
			ok bool
		)
		for k := 0; k < n; k++ {
			idx := (self + k) % n
			if op, ok = p.workers[idx].tryPop(); ok {
				break
			}
		}
		if !ok {
			op, ok = p.workers[self].popBlocking()
			if !ok {
				return
			}
		}
		if p.closed.Load() {
			// Finish has begun: tasks still queued are abandoned, not started.
			return
		}
		p.safeStart(op)
	}
}

func (p *Pool) safeStart(op execution.OperationState) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Err().Err(fmt.Errorf("%v", r)).Log("threadpool: recovered panic from task")
		}
	}()
	op.Start()
}

// Enqueue submits op to the pool. It round-robins through a window of
// 2*size candidate workers using try_lock before falling back to a
// blocking push on the index'th worker, per spec.md §4.5.
func (p *Pool) Enqueue(op execution.OperationState) error {
	if p.closed.Load() {
		return ErrClosed
	}
	n := len(p.workers)
	i := int(p.index.Add(1)) % n
	for k := 0; k < 2*n; k++ {
		idx := (i + k) % n
		if p.workers[idx].tryPush(op) {
			return nil
		}
	}
	if p.workers[i].push(op) {
		return nil
	}
	if _, ok := p.limiter.Allow("overload"); ok {
		p.logger.Warning().Int("worker", i).Log("threadpool: fell back to blocking enqueue on a finishing worker")
	}
	return ErrClosed
}

// Finish signals every worker to stop, then blocks until every worker
// goroutine has exited. After Finish, Enqueue always fails with ErrClosed,
// and a worker starts no further task: previously queued-but-not-yet-started
// tasks are abandoned per spec.md §4.5's termination invariant.
func (p *Pool) Finish() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w.finish()
	}
	p.wg.Wait()
}

// Scheduler returns an execution.Scheduler whose Schedule() senders
// complete on one of the pool's worker goroutines.
func (p *Pool) Scheduler() execution.Scheduler {
	return scheduler{p: p}
}

type scheduler struct{ p *Pool }

func (s scheduler) Schedule() execution.Sender[execution.Unit] {
	return poolSender{p: s.p}
}

type poolSender struct{ p *Pool }

func (s poolSender) Connect(r execution.Receiver[execution.Unit]) execution.OperationState {
	return &poolOp{p: s.p, r: r}
}

type poolOp struct {
	p *Pool
	r execution.Receiver[execution.Unit]
}

func (o *poolOp) Start() {
	task := execution.OperationStateFunc(func() {
		tok, _ := queryenv.Lookup(o.r.Env(), queryenv.StopTokenKey)
		if tok.StopRequested() {
			o.r.SetStopped()
			return
		}
		o.r.SetValue(execution.Unit{})
	})
	if err := o.p.Enqueue(task); err != nil {
		o.r.SetError(err)
	}
}
