package worker

import (
	"sync"

	"github.com/advaic/reply-gateway/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	quit           chan struct{}
	quitOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers, and start publishing jobs using Enqueue or TryEnqueue. It will distribute the job
// among its internal pool. Exit stops the workers; the job channel is left open
// because it may be shared with other producers.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// Publishes a job onto the channel, blocking while the buffer is full
func (w *WorkerManager) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// TryEnqueue publishes a job without blocking. It reports false when the
// buffer is full or the manager has exited.
func (w *WorkerManager) TryEnqueue(val interface{}) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.jobChannel <- val:
		return true
	default:
		return false
	}
}

// Start
// starts off the workers as many as defined
// by w.numberOfWorker and blocks until Exit is called
func (w *WorkerManager) Start() {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.run(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()
}

func (w *WorkerManager) run(index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered", "worker", index, "error", r)
		}
	}()
	w.do(index, job)
}

// Exit
// stops every worker after its current job
func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("Exit() is called and worker manager is going to be shutdown")
		close(w.quit)
	})
}
