// Package queue schedules background tasks across three weighted priority
// queues. A task is owned by exactly one worker; per-queue deadlines bound
// each execution.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

var (
	// ErrQueueFull indicates the target queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrPoolClosed indicates the pool no longer accepts tasks.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Name identifies one priority queue.
type Name string

const (
	// QueueHigh serves single-document user actions.
	QueueHigh Name = "high"
	// QueueBatch serves multi-document generation.
	QueueBatch Name = "batch"
	// QueueQuality serves analysis work.
	QueueQuality Name = "quality"
)

// Task is one unit of background work.
type Task struct {
	ID         string
	Queue      Name
	Run        func(ctx context.Context) error
	EnqueuedAt time.Time
}

// Config holds pool settings.
type Config struct {
	Workers       int
	HighWeight    int
	BatchWeight   int
	QualityWeight int
	Capacity      int
	Deadlines     Deadlines
}

// Deadlines are the per-queue execution deadlines.
type Deadlines struct {
	High    time.Duration
	Batch   time.Duration
	Quality time.Duration
}

// DefaultConfig returns default pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		HighWeight:    9,
		BatchWeight:   3,
		QualityWeight: 5,
		Capacity:      64,
		Deadlines: Deadlines{
			High:    5 * time.Minute,
			Batch:   30 * time.Minute,
			Quality: 10 * time.Minute,
		},
	}
}

// Pool runs tasks from the three queues on a fixed set of workers.
type Pool struct {
	config   Config
	queues   map[Name]chan *Task
	schedule []Name
	cursor   atomic.Uint64
	logger   *observability.Logger

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a pool. Zero or negative settings fall back to defaults.
func NewPool(cfg Config, logger *observability.Logger) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.HighWeight <= 0 {
		cfg.HighWeight = def.HighWeight
	}
	if cfg.BatchWeight <= 0 {
		cfg.BatchWeight = def.BatchWeight
	}
	if cfg.QualityWeight <= 0 {
		cfg.QualityWeight = def.QualityWeight
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Deadlines.High <= 0 {
		cfg.Deadlines.High = def.Deadlines.High
	}
	if cfg.Deadlines.Batch <= 0 {
		cfg.Deadlines.Batch = def.Deadlines.Batch
	}
	if cfg.Deadlines.Quality <= 0 {
		cfg.Deadlines.Quality = def.Deadlines.Quality
	}

	p := &Pool{
		config: cfg,
		queues: map[Name]chan *Task{
			QueueHigh:    make(chan *Task, cfg.Capacity),
			QueueBatch:   make(chan *Task, cfg.Capacity),
			QueueQuality: make(chan *Task, cfg.Capacity),
		},
		logger: logger,
	}
	p.schedule = buildSchedule(cfg.HighWeight, cfg.QualityWeight, cfg.BatchWeight)
	return p
}

// buildSchedule interleaves queue names proportionally to their weights so
// contention drains queues in weighted order rather than in bursts.
func buildSchedule(high, quality, batch int) []Name {
	weights := map[Name]int{QueueHigh: high, QueueQuality: quality, QueueBatch: batch}
	taken := map[Name]int{}
	total := high + quality + batch

	schedule := make([]Name, 0, total)
	for len(schedule) < total {
		// Pick the queue furthest behind its weighted share. Cross-multiply
		// to compare (taken+1)/weight without floats; earlier order wins ties.
		var best Name
		for _, name := range []Name{QueueHigh, QueueQuality, QueueBatch} {
			if weights[name] == 0 {
				continue
			}
			if best == "" || (taken[name]+1)*weights[best] < (taken[best]+1)*weights[name] {
				best = name
			}
		}
		schedule = append(schedule, best)
		taken[best]++
	}
	return schedule
}

// Start launches the workers. Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info().
		Int("workers", p.config.Workers).
		Int("high_weight", p.config.HighWeight).
		Int("quality_weight", p.config.QualityWeight).
		Int("batch_weight", p.config.BatchWeight).
		Msg("worker pool started")
}

// Submit enqueues a task. Fails fast when the queue is full or the pool is
// closed; callers decide whether to retry or surface the error.
func (p *Pool) Submit(task *Task) error {
	if task == nil || task.Run == nil {
		return fmt.Errorf("task and its run function are required")
	}
	if task.Queue == "" {
		task.Queue = QueueHigh
	}
	ch, ok := p.queues[task.Queue]
	if !ok {
		return fmt.Errorf("unknown queue: %s", task.Queue)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	task.EnqueuedAt = time.Now()
	select {
	case ch <- task:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, task.Queue)
	}
}

// Close stops accepting tasks, waits for in-flight work, and returns.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		task := p.next(ctx)
		if task == nil {
			return
		}
		p.execute(ctx, id, task)
	}
}

// next pops the next task. Under contention queues drain in weighted
// rotation; when everything is empty the worker blocks on all three.
func (p *Pool) next(ctx context.Context) *Task {
	// Walk one full weighted rotation starting from the shared cursor.
	start := p.cursor.Add(1)
	for i := uint64(0); i < uint64(len(p.schedule)); i++ {
		name := p.schedule[(start+i)%uint64(len(p.schedule))]
		select {
		case task := <-p.queues[name]:
			return task
		default:
		}
	}

	select {
	case task := <-p.queues[QueueHigh]:
		return task
	case task := <-p.queues[QueueQuality]:
		return task
	case task := <-p.queues[QueueBatch]:
		return task
	case <-ctx.Done():
		return nil
	}
}

func (p *Pool) deadline(q Name) time.Duration {
	switch q {
	case QueueBatch:
		return p.config.Deadlines.Batch
	case QueueQuality:
		return p.config.Deadlines.Quality
	default:
		return p.config.Deadlines.High
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, task *Task) {
	taskCtx, cancel := context.WithTimeout(ctx, p.deadline(task.Queue))
	defer cancel()

	log := p.logger.WithTask(task.ID)
	start := time.Now()
	log.Debug().
		Str("queue", string(task.Queue)).
		Int("worker", workerID).
		Dur("queued", start.Sub(task.EnqueuedAt)).
		Msg("task dequeued")

	if err := task.Run(taskCtx); err != nil {
		log.Error().
			Str("queue", string(task.Queue)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("task failed")
		return
	}
	log.Info().
		Str("queue", string(task.Queue)).
		Dur("elapsed", time.Since(start)).
		Msg("task complete")
}

// Depth reports the current length of a queue.
func (p *Pool) Depth(q Name) int {
	ch, ok := p.queues[q]
	if !ok {
		return 0
	}
	return len(ch)
}
