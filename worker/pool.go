package worker

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool closed")

// RestartDelay is how long a crashed worker waits before coming back.
var RestartDelay = 1 * time.Second

type Result struct {
	Detection iface.Detection
	Err       error
}

type JobPackage struct {
	ctx     context.Context
	backend iface.Backend
	image   []byte
	size    int
	Result  chan Result
}

// Pool funnels every detection through a fixed set of goroutines, each
// pinned to an OS thread for the lifetime of the worker.
type Pool struct {
	JobQueue  chan JobPackage
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewPool(queueSize int) *Pool {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		JobQueue: make(chan JobPackage, queueSize),
		closed:   make(chan struct{}),
	}
}

func (p *Pool) StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d panic: %v. Restarting in %s...", workerID, r, RestartDelay))
			time.Sleep(RestartDelay)
			go p.runWorker(workerID)
			return
		}
		p.wg.Done()
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("worker created", zap.Int("worker", workerID))
	for {
		select {
		case <-p.closed:
			return
		case job := <-p.JobQueue:
			p.process(workerID, job)
		}
	}
}

// process answers every job exactly once, even when the backend panics.
func (p *Pool) process(workerID int, job JobPackage) {
	if err := job.ctx.Err(); err != nil {
		job.Result <- Result{Err: err}
		return
	}
	start := time.Now()
	answered := false
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d: detection panicked: %v", workerID, r)
			monitor.Observe(time.Since(start), false, err)
			if !answered {
				job.Result <- Result{Err: err}
			}
			panic(r)
		}
	}()
	det, err := job.backend.Classify(job.image, job.size)
	monitor.Observe(time.Since(start), det.Person, err)
	answered = true
	job.Result <- Result{Detection: det, Err: err}
}

// Submit queues one detection and waits for it or for ctx.
func (p *Pool) Submit(ctx context.Context, backend iface.Backend, image []byte, size int) (iface.Detection, error) {
	job := JobPackage{
		ctx:     ctx,
		backend: backend,
		image:   image,
		size:    size,
		Result:  make(chan Result, 1),
	}
	select {
	case <-p.closed:
		return iface.Detection{}, ErrPoolClosed
	default:
	}
	select {
	case <-p.closed:
		return iface.Detection{}, ErrPoolClosed
	case <-ctx.Done():
		return iface.Detection{}, ctx.Err()
	case p.JobQueue <- job:
	}
	select {
	case res := <-job.Result:
		return res.Detection, res.Err
	case <-ctx.Done():
		return iface.Detection{}, ctx.Err()
	case <-p.closed:
		return iface.Detection{}, ErrPoolClosed
	}
}

// Close stops the workers after their current job.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
