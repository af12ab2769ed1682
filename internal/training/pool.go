package training

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
)

var (
	ErrQueueFull  = errors.New("training queue is full")
	ErrPoolClosed = errors.New("training pool is shut down")
	ErrJobUnknown = errors.New("training job not found")
)

// maxFinishedJobs сколько завершенных заданий хранится для опроса статуса
const maxFinishedJobs = 100

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type Runner interface {
	Retrain(ctx context.Context, userID string) (*Result, error)
}

// Job задание на переобучение; результат доступен через Wait
type Job struct {
	ID          string
	UserID      string
	SubmittedAt time.Time

	mu         sync.Mutex
	status     JobStatus
	startedAt  *time.Time
	finishedAt *time.Time
	result     *Result
	err        error
	done       chan struct{}
}

type JobView struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Status      JobStatus  `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Wait ждет завершения задания или отмены ctx
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:          j.ID,
		UserID:      j.UserID,
		Status:      j.status,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
		Result:      j.result,
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	return v
}

func (j *Job) setRunning(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobRunning
	j.startedAt = &now
}

func (j *Job) finish(now time.Time, res *Result, err error) {
	j.mu.Lock()
	j.finishedAt = &now
	j.result, j.err = res, err
	if err != nil {
		j.status = JobFailed
	} else {
		j.status = JobSucceeded
	}
	j.mu.Unlock()
	close(j.done)
}

// Pool ограниченный набор воркеров, выполняющих задания по очереди
type Pool struct {
	runner  Runner
	workers int
	queue   chan *Job

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(runner Runner, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner:  runner,
		workers: workers,
		queue:   make(chan *Job, queueSize),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	slog.Info("Training pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	// после закрытия очереди оставшиеся задания дорабатываются
	for job := range p.queue {
		metrics.TrainingQueueDepth.Set(float64(len(p.queue)))
		p.run(id, job)
	}
}

func (p *Pool) run(worker int, job *Job) {
	job.setRunning(time.Now().UTC())
	slog.Info("Training job started", "job_id", job.ID, "worker", worker, "user_id", job.UserID)

	res, err := p.runner.Retrain(p.ctx, job.UserID)
	job.finish(time.Now().UTC(), res, err)

	if err != nil {
		slog.Warn("Training job failed", "job_id", job.ID, "error", err)
	} else {
		slog.Info("Training job finished", "job_id", job.ID, "version", res.Version)
	}
	p.prune()
}

// Submit ставит задание в очередь, не блокируясь
func (p *Pool) Submit(userID string) (*Job, error) {
	job := &Job{
		ID:          uuid.New().String(),
		UserID:      userID,
		SubmittedAt: time.Now().UTC(),
		status:      JobQueued,
		done:        make(chan struct{}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	select {
	case p.queue <- job:
	default:
		return nil, ErrQueueFull
	}
	p.jobs[job.ID] = job
	metrics.TrainingQueueDepth.Set(float64(len(p.queue)))
	return job, nil
}

func (p *Pool) Get(id string) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return nil, ErrJobUnknown
	}
	return job, nil
}

// List задания, новые первыми
func (p *Pool) List() []JobView {
	p.mu.Lock()
	jobs := make([]*Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = j.View()
	}
	sort.Slice(views, func(a, b int) bool { return views[a].SubmittedAt.After(views[b].SubmittedAt) })
	return views
}

func (p *Pool) prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var finished []*Job
	for _, j := range p.jobs {
		if s := j.Status(); s == JobSucceeded || s == JobFailed {
			finished = append(finished, j)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].SubmittedAt.Before(finished[b].SubmittedAt) })
	for _, j := range finished[:len(finished)-maxFinishedJobs] {
		delete(p.jobs, j.ID)
	}
}

// Shutdown перестает принимать задания и ждет текущие; по ctx отменяет их
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
