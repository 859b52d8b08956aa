package systems

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var (
	ErrNoWorkers           = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
	ErrJobSystemClosed     = errors.New("job system already shut down")
)

// JobSystem is a fixed pool of workers draining a job queue. It counts
// outstanding jobs, from submission until their last callback returns, so
// callers can tell when the pool is quiescent.
type JobSystem struct {
	numWorkers int
	jobQueue   chan metadata.JobTask
	wg         sync.WaitGroup

	// held for reading while sending, so Shutdown never closes the queue
	// under a sender
	sendMu sync.RWMutex
	closed bool

	outstanding atomic.Int64
	idleMu      sync.Mutex
	idle        *sync.Cond
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan metadata.JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}
	js.idle = sync.NewCond(&js.idleMu)

	js.start()

	core.LogInfo("Job system started with %d workers.", numWorkers)
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job metadata.JobTask) {
	defer js.done()

	// Run the job and handle potential errors
	err := job.OnStart()
	if err != nil {
		core.LogError("job %s (%s) failed: %s", job.Name, job.ID, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}

	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

func (js *JobSystem) done() {
	if js.outstanding.Add(-1) == 0 {
		js.idleMu.Lock()
		js.idle.Broadcast()
		js.idleMu.Unlock()
	}
}

/**
 * @brief Shuts the job system down. Jobs already submitted run to completion.
 */
func (js *JobSystem) Shutdown() error {
	js.Wait()

	js.sendMu.Lock()
	if js.closed {
		js.sendMu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.sendMu.Unlock()

	js.wg.Wait()
	core.LogInfo("Job system shut down.")
	return nil
}

/**
 * @brief Updates the job system. Should happen once an update cycle.
 */
func (js *JobSystem) Update() {}

// Outstanding returns the number of submitted jobs that have not finished.
func (js *JobSystem) Outstanding() int64 {
	return js.outstanding.Load()
}

// Idle reports whether no job is queued or running.
func (js *JobSystem) Idle() bool {
	return js.outstanding.Load() == 0
}

// Wait blocks until the pool is idle.
func (js *JobSystem) Wait() {
	js.idleMu.Lock()
	defer js.idleMu.Unlock()
	for js.outstanding.Load() != 0 {
		js.idle.Wait()
	}
}

// AddWorkNonBlocking adds work to the pool and returns immediately. The job
// counts as outstanding from this call on, which lets running jobs fan out
// without risking a full queue deadlock.
func (js *JobSystem) AddWorkNonBlocking(jt metadata.JobTask) {
	jt = js.prepare(jt)
	go js.send(jt)
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param info The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) {
	js.send(js.prepare(jt))
}

func (js *JobSystem) prepare(jt metadata.JobTask) metadata.JobTask {
	if jt.ID == "" {
		jt.ID = uuid.NewString()
	}
	js.outstanding.Add(1)
	return jt
}

func (js *JobSystem) send(jt metadata.JobTask) {
	js.sendMu.RLock()
	defer js.sendMu.RUnlock()
	if js.closed {
		core.LogError("job %s (%s) dropped: %s", jt.Name, jt.ID, ErrJobSystemClosed)
		js.done()
		return
	}
	js.jobQueue <- jt
}
