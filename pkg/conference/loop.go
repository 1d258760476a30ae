package conference

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/utils"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultWorkers        = 4
)

// eventLoop serializes all orchestration state on one ops queue. Blocking
// round-trips run on a worker pool and post their continuations back.
//
// epoch and closed are only touched from inside a turn.
type eventLoop struct {
	logger         logger.Logger
	ops            *utils.OpsQueue
	workers        *workerpool.WorkerPool
	ctx            context.Context
	cancel         context.CancelFunc
	requestTimeout time.Duration
	teardown       sync.WaitGroup
	afterTurn      func()

	epoch  uint64
	closed bool
}

func newEventLoop(l logger.Logger, workers int, requestTimeout time.Duration) *eventLoop {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &eventLoop{
		logger:         l,
		ops:            utils.NewOpsQueue(l, "conference"),
		workers:        workerpool.New(workers),
		ctx:            ctx,
		cancel:         cancel,
		requestTimeout: requestTimeout,
	}
	loop.ops.Start()
	return loop
}

// post runs op as its own turn. Turns posted after close are dropped.
func (l *eventLoop) post(op func()) bool {
	return l.ops.Enqueue(func() {
		if l.closed {
			return
		}
		op()
		l.turnDone()
	})
}

// deliver posts the continuation of a call issued at epoch. If the loop has
// moved on, or will never run it, only orphan runs so the resource the call
// produced is released.
func (l *eventLoop) deliver(epoch uint64, op func(), orphan func(ctx context.Context)) {
	ok := l.ops.Enqueue(func() {
		if l.closed || epoch != l.epoch {
			if orphan != nil {
				l.logger.Debugw("disposing stale result", "epoch", epoch, "current", l.epoch)
				l.background(orphan)
			}
			return
		}
		op()
		l.turnDone()
	})
	if !ok && orphan != nil {
		ctx, cancel := context.WithTimeout(context.Background(), l.requestTimeout)
		defer cancel()
		orphan(ctx)
	}
}

// async runs f on the worker pool with a per-request deadline.
func (l *eventLoop) async(f func(ctx context.Context)) {
	l.workers.Submit(func() {
		ctx, cancel := context.WithTimeout(l.ctx, l.requestTimeout)
		defer cancel()
		f(ctx)
	})
}

// background runs teardown work that has to complete even after close, so
// it is not bound to the loop's context.
func (l *eventLoop) background(f func(ctx context.Context)) {
	l.teardown.Add(1)
	go func() {
		defer l.teardown.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.requestTimeout)
		defer cancel()
		f(ctx)
	}()
}

func (l *eventLoop) turnDone() {
	if l.afterTurn != nil {
		l.afterTurn()
	}
}

// close drains the queue, abandons in-flight requests and waits for every
// teardown that was started.
func (l *eventLoop) close() {
	l.ops.Stop()
	l.ops.Wait()
	l.cancel()
	l.workers.StopWait()
	l.teardown.Wait()
}
