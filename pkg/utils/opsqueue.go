package utils

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/livekit/protocol/logger"
)

// OpsQueue runs enqueued ops one at a time, in order, on a single goroutine.
// Everything an op touches is owned by the queue, so ops never need locks
// between themselves.
type OpsQueue struct {
	logger logger.Logger
	name   string

	lock      sync.Mutex
	wake      chan struct{}
	ops       deque.Deque[func()]
	isStarted bool
	isStopped bool
	done      chan struct{}
}

func NewOpsQueue(logger logger.Logger, name string) *OpsQueue {
	return &OpsQueue{
		logger: logger,
		name:   name,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (oq *OpsQueue) Start() {
	oq.lock.Lock()
	if oq.isStarted {
		oq.lock.Unlock()
		return
	}
	oq.isStarted = true
	oq.lock.Unlock()

	go oq.process()
}

// Stop refuses new ops. Ops already queued still run before the queue exits.
func (oq *OpsQueue) Stop() {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.isStopped = true
	started := oq.isStarted
	oq.lock.Unlock()

	if !started {
		close(oq.done)
		return
	}
	oq.signal()
}

// Wait blocks until a stopped queue has finished its remaining ops.
func (oq *OpsQueue) Wait() {
	<-oq.done
}

// Enqueue returns false when the queue has been stopped and op will never run.
func (oq *OpsQueue) Enqueue(op func()) bool {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		oq.logger.Debugw("ops queue stopped, dropping op", "name", oq.name)
		return false
	}
	oq.ops.PushBack(op)
	oq.lock.Unlock()

	oq.signal()
	return true
}

// Flush blocks until every op enqueued before the call has run.
func (oq *OpsQueue) Flush() {
	flushed := make(chan struct{})
	if !oq.Enqueue(func() { close(flushed) }) {
		return
	}
	select {
	case <-flushed:
	case <-oq.done:
	}
}

func (oq *OpsQueue) signal() {
	select {
	case oq.wake <- struct{}{}:
	default:
	}
}

func (oq *OpsQueue) process() {
	defer close(oq.done)

	for {
		oq.lock.Lock()
		for oq.ops.Len() > 0 {
			op := oq.ops.PopFront()
			oq.lock.Unlock()
			op()
			oq.lock.Lock()
		}
		stopped := oq.isStopped
		oq.lock.Unlock()

		if stopped {
			return
		}
		<-oq.wake
	}
}
