package iceio

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gortc/iceagentd/ice"
)

// Job is one unit of work handed to a workerPool goroutine: a single
// inbound datagram read off a Socket, still unparsed.
type Job struct {
	Src  ice.Addr
	Data []byte

	// cb is set by Loop.Watch to route a dispatched job back to the
	// socket's callback; left nil for jobs constructed directly in
	// tests.
	cb func(src ice.Addr, b []byte)
}

// workerPool runs WorkerFunc on a bounded, reusable set of goroutines,
// so a burst of inbound datagrams on a busy socket cannot spawn an
// unbounded number of goroutines. Idle workers past MaxIdleWorkerDuration
// are retired.
type workerPool struct {
	WorkerFunc            func(Job)
	MaxWorkersCount       int
	MaxIdleWorkerDuration time.Duration
	Logger                *zap.Logger

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	ready        []*workerChan

	stopCh chan struct{}

	workerChanPool sync.Pool
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan Job
}

func (wp *workerPool) idleDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

// Start prepares the pool to accept work. Safe to call after Stop to
// restart it.
func (wp *workerPool) Start() {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.stopCh != nil {
		return
	}
	wp.stopCh = make(chan struct{})
	wp.mustStop = false
	stopCh := wp.stopCh
	go func() {
		ticker := time.NewTicker(wp.idleDuration())
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				wp.cleanIdleWorkers()
			}
		}
	}()
}

// Stop drains and halts every worker goroutine. Jobs already delivered
// to a worker still run to completion.
func (wp *workerPool) Stop() {
	wp.lock.Lock()
	if wp.stopCh == nil {
		wp.lock.Unlock()
		return
	}
	close(wp.stopCh)
	wp.stopCh = nil
	wp.mustStop = true
	ready := wp.ready
	wp.ready = nil
	wp.lock.Unlock()

	for _, c := range ready {
		close(c.ch)
	}
}

// Serve submits job to an idle worker, spawning one if none is ready
// and the pool has not hit MaxWorkersCount. Returns false when the
// pool is saturated and the caller should apply backpressure.
func (wp *workerPool) Serve(job Job) bool {
	c := wp.getCh()
	if c == nil {
		return false
	}
	c.ch <- job
	return true
}

func (wp *workerPool) getCh() *workerChan {
	var c *workerChan
	createWorker := false

	wp.lock.Lock()
	n := len(wp.ready)
	if n == 0 {
		if wp.MaxWorkersCount == 0 || wp.workersCount < wp.MaxWorkersCount {
			createWorker = true
			wp.workersCount++
		}
	} else {
		c = wp.ready[n-1]
		wp.ready = wp.ready[:n-1]
	}
	wp.lock.Unlock()

	if c != nil {
		return c
	}
	if !createWorker {
		return nil
	}

	v := wp.workerChanPool.Get()
	if v == nil {
		v = &workerChan{ch: make(chan Job, 1)}
	}
	c = v.(*workerChan)
	go wp.workerLoop(c)
	return c
}

func (wp *workerPool) workerLoop(c *workerChan) {
	for job := range c.ch {
		wp.WorkerFunc(job)
		if !wp.release(c) {
			break
		}
	}
	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
	wp.workerChanPool.Put(c)
}

func (wp *workerPool) release(c *workerChan) bool {
	c.lastUseTime = time.Now()
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.mustStop {
		return false
	}
	wp.ready = append(wp.ready, c)
	return true
}

func (wp *workerPool) cleanIdleWorkers() {
	maxIdle := wp.idleDuration()
	now := time.Now()

	wp.lock.Lock()
	n := len(wp.ready)
	i := 0
	for i < n && now.Sub(wp.ready[i].lastUseTime) > maxIdle {
		i++
	}
	stale := append([]*workerChan{}, wp.ready[:i]...)
	wp.ready = wp.ready[i:]
	wp.lock.Unlock()

	for _, c := range stale {
		close(c.ch)
	}
	if len(stale) > 0 && wp.Logger != nil {
		wp.Logger.Debug("retired idle workers", zap.Int("count", len(stale)))
	}
}
