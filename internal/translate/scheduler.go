package translate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// Priority of a translation task. High priority work (paid messages) may
// preempt queued normal work under saturation.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// SchedulerConfig bounds the scheduler's queues and retry policy.
type SchedulerConfig struct {
	HighQueueSize   int
	NormalQueueSize int
	HighRetries     int
	NormalRetries   int
	CacheSize       int
	RequestTimeout  time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.HighQueueSize <= 0 {
		c.HighQueueSize = 8
	}
	if c.NormalQueueSize <= 0 {
		c.NormalQueueSize = 40
	}
	if c.HighRetries <= 0 {
		c.HighRetries = 3
	}
	if c.NormalRetries <= 0 {
		c.NormalRetries = 1
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 50000
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

type task struct {
	key     string
	text    string
	prio    Priority
	retries int
	future  *Future
}

// Scheduler owns the priority queues feeding the provider pool. Tasks are
// deduplicated by normalized text while in flight, and successful results
// are kept in a bounded cache.
type Scheduler struct {
	cfg   SchedulerConfig
	pool  *Pool
	cache otter.Cache[string, string]

	mu      sync.Mutex
	pending map[string]*task
	high    []*task
	normal  []*task
	started bool

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(pool *Pool, cfg SchedulerConfig) (*Scheduler, error) {
	cfg.applyDefaults()
	cache, err := otter.MustBuilder[string, string](cfg.CacheSize).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create translation cache: %w", err)
	}
	return &Scheduler{
		cfg:     cfg,
		pool:    pool,
		cache:   cache,
		pending: make(map[string]*task),
		wake:    make(chan struct{}, cfg.HighQueueSize+cfg.NormalQueueSize),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start launches one consumer loop per provider.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, provider := range s.pool.Providers() {
		s.wg.Add(1)
		go s.consume(provider)
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.cache.Close()
	})
}

// Cached returns the cached translation for text, if any.
func (s *Scheduler) Cached(text string) (string, bool) {
	return s.cache.Get(NormalizeKey(text))
}

// Submit schedules text for translation and returns a Future shared by every
// caller submitting the same normalized text. The Future resolves to "" when
// no translation can be produced; Submit never blocks on provider work.
func (s *Scheduler) Submit(text string, prio Priority) *Future {
	key := NormalizeKey(text)
	if key == "" {
		return ResolvedFuture("")
	}

	s.mu.Lock()
	if existing, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return existing.future
	}
	if cached, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return ResolvedFuture(cached)
	}
	if !s.pool.AnyAvailable() {
		s.mu.Unlock()
		return ResolvedFuture("")
	}

	retries := s.cfg.NormalRetries
	if prio == PriorityHigh {
		retries = s.cfg.HighRetries
	}
	t := &task{
		key:     key,
		text:    text,
		prio:    prio,
		retries: retries,
		future:  NewFuture(),
	}
	if s.admitLocked(t) {
		s.pending[key] = t
	}
	s.mu.Unlock()
	return t.future
}

// QueuedTasks returns the number of queued (not yet consumed) tasks.
func (s *Scheduler) QueuedTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high) + len(s.normal)
}

// admitLocked enqueues t or resolves its future empty when it cannot be
// admitted. When the high queue is saturated, the oldest queued normal task
// is evicted so the total queued work stays bounded. Returns whether t was
// admitted.
func (s *Scheduler) admitLocked(t *task) bool {
	if t.prio == PriorityHigh {
		if len(s.high) < s.cfg.HighQueueSize {
			s.high = append(s.high, t)
			s.signal()
			return true
		}
		if len(s.normal) > 0 {
			victim := s.normal[0]
			s.normal = s.normal[1:]
			delete(s.pending, victim.key)
			victim.future.Resolve("")
			s.high = append(s.high, t)
			s.signal()
			return true
		}
		t.future.Resolve("")
		return false
	}

	if len(s.normal) < s.cfg.NormalQueueSize {
		s.normal = append(s.normal, t)
		s.signal()
		return true
	}
	t.future.Resolve("")
	return false
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pop removes the globally highest-priority task: strict priority across
// queues, FIFO within one. The task stays pending until completed or failed.
func (s *Scheduler) pop() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.high) > 0 {
		t := s.high[0]
		s.high = s.high[1:]
		return t
	}
	if len(s.normal) > 0 {
		t := s.normal[0]
		s.normal = s.normal[1:]
		return t
	}
	return nil
}

func (s *Scheduler) consume(provider Provider) {
	defer s.wg.Done()

	for {
		if !provider.Available() {
			if !s.pool.AnyAvailable() {
				s.drain()
			}
			select {
			case <-s.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		t := s.pop()
		if t == nil {
			select {
			case <-s.stopCh:
				return
			case <-s.wake:
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		result, err := provider.Translate(ctx, t.text)
		cancel()

		if err != nil {
			log.Warn("translate: provider %s failed (retries left %d): %v",
				provider.Name(), t.retries-1, err)
			s.retryOrFail(t)
		} else {
			s.complete(t, result)
		}

		// Fixed-interval pacing between calls on the same provider.
		select {
		case <-s.stopCh:
			return
		case <-time.After(provider.PaceInterval()):
		}
	}
}

func (s *Scheduler) complete(t *task, result string) {
	s.mu.Lock()
	delete(s.pending, t.key)
	if result != "" {
		s.cache.Set(t.key, result)
	}
	s.mu.Unlock()
	t.future.Resolve(result)
}

func (s *Scheduler) retryOrFail(t *task) {
	t.retries--

	s.mu.Lock()
	if !s.pool.AnyAvailable() {
		// Every provider is cooling down; fail this task and flush the
		// backlog so callers get prompt feedback.
		delete(s.pending, t.key)
		s.drainLocked()
		s.mu.Unlock()
		t.future.Resolve("")
		return
	}
	if t.retries <= 0 {
		delete(s.pending, t.key)
		s.mu.Unlock()
		t.future.Resolve("")
		return
	}
	if !s.admitLocked(t) {
		delete(s.pending, t.key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	s.drainLocked()
	s.mu.Unlock()
}

func (s *Scheduler) drainLocked() {
	for _, t := range s.high {
		delete(s.pending, t.key)
		t.future.Resolve("")
	}
	for _, t := range s.normal {
		delete(s.pending, t.key)
		t.future.Resolve("")
	}
	s.high = s.high[:0]
	s.normal = s.normal[:0]
}
