// Package pool runs a fixed-size worker pool that drains a bounded job
// queue, one child process at a time per worker, and promotes slow jobs
// from synchronous to backgrounded execution at a foreground ceiling.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/glootie/exec-service/runner"
	"github.com/glootie/exec-service/taskstore"
)

// Defaults per spec §4.3 / §5.
const (
	DefaultWorkers           = 4
	DefaultMaxQueue          = 100
	DefaultForegroundCeiling = 15 * time.Second
	// HardCeiling bounds every runner invocation regardless of whether the
	// call started out foreground or background (§9: the foreground ceiling
	// only ever controls promotion, never the child's actual deadline).
	HardCeiling           = 24 * time.Hour
	DefaultWorkerMaxAge   = time.Hour
	HealthCheckInterval   = 30 * time.Second
	workerCrashReason     = "Worker crashed"
	shutdownReason        = "Process shutting down"
	healthCheckKillReason = "Worker timeout — killed by health check"
)

// Config configures pool sizing. Zero values fall back to spec defaults.
type Config struct {
	Workers        int
	MaxQueue       int
	WorkerMaxAge   time.Duration
	HealthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = DefaultMaxQueue
	}
	if c.WorkerMaxAge <= 0 {
		c.WorkerMaxAge = DefaultWorkerMaxAge
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = HealthCheckInterval
	}
	return c
}

type job struct {
	taskID int64
	req    runner.Request
}

// activeJob tracks one in-flight task. Every field is guarded by the owning
// Pool's mu, not a lock of its own — cancel and startedAt are only set once
// runJob actually dequeues the job, so a nil cancel means the job is still
// sitting in the queue, never yet handed to a worker.
type activeJob struct {
	cancel    context.CancelFunc
	startedAt time.Time
	reason    string
	done      chan struct{}
}

// Pool is a fixed-size worker pool draining a bounded job queue.
type Pool struct {
	cfg   Config
	store *taskstore.Store

	queue chan job

	mu     sync.Mutex
	active map[int64]*activeJob
	closed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool with cfg.Workers worker goroutines and starts the
// periodic health check. store is the task registry jobs report into.
func New(cfg Config, store *taskstore.Store) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:    cfg,
		store:  store,
		queue:  make(chan job, cfg.MaxQueue),
		active: map[int64]*activeJob{},
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	p.wg.Add(1)
	go p.healthCheckLoop()
	return p
}

// Execute submits req as a new task and waits for either completion or the
// foreground ceiling, whichever comes first. If the ceiling fires first,
// promoted is true and the task continues running in the background; the
// caller should report taskID and poll GetTask/ReadAndClearTaskOutput.
// foregroundCeiling of zero skips the synchronous wait entirely (the caller
// asked to run in the background from the start).
func (p *Pool) Execute(req runner.Request, foregroundCeiling time.Duration) (taskID int64, result *runner.Result, promoted bool, err error) {
	taskID = p.store.CreateTask(req.Source, string(req.Language), req.WorkingDir)

	aj := &activeJob{done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.store.FailTask(taskID, "Pool is shutting down")
		return taskID, nil, false, ErrPoolShutdown
	}
	p.active[taskID] = aj
	p.mu.Unlock()

	select {
	case p.queue <- job{taskID: taskID, req: req}:
	default:
		p.mu.Lock()
		delete(p.active, taskID)
		p.mu.Unlock()
		p.store.FailTask(taskID, "Queue overflow")
		return taskID, nil, false, ErrQueueOverflow
	}

	if foregroundCeiling <= 0 {
		return taskID, nil, true, nil
	}

	ceiling := time.NewTimer(foregroundCeiling)
	defer ceiling.Stop()

	select {
	case <-aj.done:
		task, ok := p.store.GetTask(taskID)
		if ok && task.Result != nil {
			return taskID, task.Result, false, nil
		}
		return taskID, nil, false, nil
	case <-ceiling.C:
		return taskID, nil, true, nil
	case <-p.stopCh:
		return taskID, nil, false, ErrPoolShutdown
	}
}

// CloseTask cancels a running task, if any, with reason "Task closed by
// caller". A task still sitting in the queue (never dequeued by a worker,
// so it has no cancel func yet) is failed directly instead, since there is
// nothing yet running to cancel. A no-op if the task isn't tracked at all.
func (p *Pool) CloseTask(taskID int64) {
	const reason = "Task closed by caller"

	p.mu.Lock()
	aj, ok := p.active[taskID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if aj.reason == "" {
		aj.reason = reason
	}
	cancel := aj.cancel
	if cancel == nil {
		delete(p.active, taskID)
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	log.Printf("pool: closing task_%d before it started running", taskID)
	p.store.FailTask(taskID, reason)
	close(aj.done)
}

// Shutdown cancels every in-flight job, fails every job still queued (never
// dequeued by a worker), and stops accepting new ones. It waits for all
// worker goroutines to exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var queued []int64
	for id, aj := range p.active {
		if aj.reason == "" {
			aj.reason = shutdownReason
		}
		if aj.cancel != nil {
			aj.cancel()
		} else {
			queued = append(queued, id)
		}
	}
	for _, id := range queued {
		delete(p.active, id)
	}
	active := len(p.active)
	p.mu.Unlock()

	log.Printf("pool: shutting down, %d running job(s) cancelled, %d queued job(s) rejected", active, len(queued))
	for _, id := range queued {
		p.store.FailTask(id, shutdownReason)
	}

	close(p.stopCh)
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for j := range p.queue {
		p.runJob(j)
	}
}

// runJob executes one job and always reports a terminal status back to the
// task store, even if the runner itself panics.
func (p *Pool) runJob(j job) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	aj, ok := p.active[j.taskID]
	if !ok {
		// Already failed directly by CloseTask/Shutdown while still queued.
		p.mu.Unlock()
		cancel()
		return
	}
	aj.cancel = cancel
	aj.startedAt = time.Now()
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("pool: worker crashed running task_%d, replacing slot: %v", j.taskID, r)
			p.store.FailTask(j.taskID, fmt.Sprintf("%s: %v", workerCrashReason, r))
		}
		p.mu.Lock()
		delete(p.active, j.taskID)
		p.mu.Unlock()
		close(aj.done)
	}()
	defer cancel()

	p.store.StartTask(j.taskID)

	req := j.req
	req.Deadline = HardCeiling
	req.OnOutput = func(stream runner.Stream, data string) {
		p.store.AppendOutput(j.taskID, stream, data)
	}

	res := runner.Run(ctx, req)

	if !res.Success {
		if reason := p.jobReason(aj); reason != "" {
			log.Printf("pool: task_%d terminated early: %s", j.taskID, reason)
			p.store.FailTask(j.taskID, reason)
			return
		}
	}
	p.store.CompleteTask(j.taskID, res)
}

func (p *Pool) jobReason(aj *activeJob) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return aj.reason
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.killStaleJobs()
		}
	}
}

// killStaleJobs cancels any job whose start time is older than
// MAX_WORKER_AGE. Only jobs a worker has actually started are ever
// considered, so cancel is always non-nil here.
func (p *Pool) killStaleJobs() {
	cutoff := time.Now().Add(-p.cfg.WorkerMaxAge)
	type stale struct {
		id        int64
		aj        *activeJob
		startedAt time.Time
	}
	var toKill []stale

	p.mu.Lock()
	for id, aj := range p.active {
		if aj.startedAt.IsZero() || aj.startedAt.After(cutoff) {
			continue
		}
		if aj.reason == "" {
			aj.reason = healthCheckKillReason
		}
		toKill = append(toKill, stale{id, aj, aj.startedAt})
	}
	p.mu.Unlock()

	for _, s := range toKill {
		log.Printf("pool: health check killing task_%d, running since %s", s.id, s.startedAt)
		s.aj.cancel()
	}
}

// QueueDepth reports the number of jobs currently queued (not yet picked up
// by a worker). Intended for diagnostics.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}
