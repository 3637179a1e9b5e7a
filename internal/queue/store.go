package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach_engine/internal/model"
)

var (
	ErrNotInitialized  = errors.New("queue store not initialized")
	ErrUnknownCategory = errors.New("unknown queue category")
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicateTask   = errors.New("task id already queued")
)

const (
	baseBackoff = time.Second
	maxBackoff  = 60 * time.Second
)

// BackoffDelay returns min(2^retryCount seconds, 60 seconds).
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 6 {
		return maxBackoff
	}
	d := baseBackoff << uint(retryCount)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDFunc(f func() string) Option {
	return func(s *Store) {
		if f != nil {
			s.newID = f
		}
	}
}

type categoryQueue struct {
	mu         sync.Mutex
	category   model.Category
	pending    []*model.Task
	processing map[string]*model.Task
	completed  []*model.Task
	failed     []*model.Task

	total   int
	avgMs   float64
	samples int
}

func newCategoryQueue(cat model.Category) *categoryQueue {
	return &categoryQueue{category: cat, processing: make(map[string]*model.Task)}
}

// Store owns the per-category task lifecycle. Every method is safe for concurrent use; each
// category is guarded by its own lock.
type Store struct {
	mu     sync.RWMutex
	queues map[model.Category]*categoryQueue
	order  []model.Category
	now    func() time.Time
	newID  func() string
}

func New(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize allocates queues for the given categories. Calling it again adds missing
// categories and leaves existing ones untouched.
func (s *Store) Initialize(categories ...model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queues == nil {
		s.queues = make(map[model.Category]*categoryQueue, len(categories))
	}
	for _, cat := range categories {
		if _, ok := s.queues[cat]; ok {
			continue
		}
		s.queues[cat] = newCategoryQueue(cat)
		s.order = append(s.order, cat)
	}
}

func (s *Store) Categories() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Category(nil), s.order...)
}

func (s *Store) queue(cat model.Category) (*categoryQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queues == nil {
		return nil, ErrNotInitialized
	}
	q, ok := s.queues[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	return q, nil
}

func (s *Store) allQueues() ([]*categoryQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queues == nil {
		return nil, ErrNotInitialized
	}
	out := make([]*categoryQueue, 0, len(s.order))
	for _, cat := range s.order {
		out = append(out, s.queues[cat])
	}
	return out, nil
}

// Enqueue inserts task into the pending list of cat and returns its id.
func (s *Store) Enqueue(cat model.Category, task model.Task) (string, error) {
	q, err := s.queue(cat)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return s.enqueueLocked(q, task)
}

// EnqueueBatch enqueues tasks in order and stops at the first error, returning the ids
// assigned so far.
func (s *Store) EnqueueBatch(cat model.Category, tasks []model.Task) ([]string, error) {
	q, err := s.queue(cat)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		id, err := s.enqueueLocked(q, t)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) enqueueLocked(q *categoryQueue, task model.Task) (string, error) {
	t := task.Clone()
	if t.ID == "" {
		t.ID = s.newID()
	} else if q.containsLocked(t.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	t.Category = q.category
	t.Status = model.TaskPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Priority == 0 {
		t.Priority = model.DefaultPriority
	}
	t.Priority = clampPriority(t.Priority)
	if t.MaxRetries <= 0 {
		t.MaxRetries = model.DefaultMaxRetries
	}
	q.insertPendingLocked(&t)
	q.total++
	return t.ID, nil
}

// insertPendingLocked places t after every pending task with priority <= t.Priority.
func (q *categoryQueue) insertPendingLocked(t *model.Task) {
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].Priority > t.Priority })
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = t
}

func (q *categoryQueue) containsLocked(id string) bool {
	if _, ok := q.processing[id]; ok {
		return true
	}
	for _, list := range [][]*model.Task{q.pending, q.completed, q.failed} {
		for _, t := range list {
			if t.ID == id {
				return true
			}
		}
	}
	return false
}

// DequeueBatch moves up to limit retry-eligible tasks from the front of the pending list
// into processing. Tasks still waiting for their retry time keep their position.
func (s *Store) DequeueBatch(cat model.Category, limit int) ([]model.Task, error) {
	return s.DequeueBatchFunc(cat, limit, nil)
}

// DequeueBatchFunc is DequeueBatch with an extra filter; tasks for which keep returns false
// stay pending.
func (s *Store) DequeueBatchFunc(cat model.Category, limit int, keep func(model.Task) bool) ([]model.Task, error) {
	q, err := s.queue(cat)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Task{}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := s.now()

	out := make([]model.Task, 0, min(limit, len(q.pending)))
	rest := q.pending[:0]
	for _, t := range q.pending {
		if len(out) < limit && eligible(t, now) && (keep == nil || keep(*t)) {
			t.Status = model.TaskProcessing
			t.StartedAt = now
			q.processing[t.ID] = t
			out = append(out, t.Clone())
			continue
		}
		rest = append(rest, t)
	}
	for i := len(rest); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = rest
	return out, nil
}

func eligible(t *model.Task, now time.Time) bool {
	return t.NextRetryAt.IsZero() || !t.NextRetryAt.After(now)
}

// Complete marks a processing task completed and folds its processing time into the
// category average.
func (s *Store) Complete(taskID string, result *model.TaskResult) (model.Task, error) {
	q, t, err := s.takeProcessing(taskID)
	if err != nil {
		return model.Task{}, err
	}
	defer q.mu.Unlock()

	now := s.now()
	t.Status = model.TaskCompleted
	t.CompletedAt = now
	t.NextRetryAt = time.Time{}
	if result != nil {
		r := *result
		t.Result = &r
	}
	q.completed = append(q.completed, t)

	elapsed := float64(now.Sub(t.StartedAt)) / float64(time.Millisecond)
	if elapsed < 0 {
		elapsed = 0
	}
	q.samples++
	q.avgMs += (elapsed - q.avgMs) / float64(q.samples)
	return t.Clone(), nil
}

// Fail records a failed attempt. Below the retry limit the task returns to pending with a
// backoff; otherwise it is moved to the failed list for good.
func (s *Store) Fail(taskID string, cause error) (model.Task, error) {
	q, t, err := s.takeProcessing(taskID)
	if err != nil {
		return model.Task{}, err
	}
	defer q.mu.Unlock()

	now := s.now()
	if cause != nil {
		t.LastError = cause.Error()
	} else {
		t.LastError = "unknown error"
	}
	t.RetryCount++
	t.Backoff = BackoffDelay(t.RetryCount)

	if t.RetryCount < t.MaxRetries {
		t.Status = model.TaskPending
		t.NextRetryAt = now.Add(t.Backoff)
		q.insertPendingLocked(t)
		return t.Clone(), nil
	}

	t.Status = model.TaskFailed
	t.FailedAt = now
	t.NextRetryAt = time.Time{}
	q.failed = append(q.failed, t)
	return t.Clone(), nil
}

// takeProcessing removes taskID from whichever processing map holds it and returns the
// owning queue still locked.
func (s *Store) takeProcessing(taskID string) (*categoryQueue, *model.Task, error) {
	queues, err := s.allQueues()
	if err != nil {
		return nil, nil, err
	}
	for _, q := range queues {
		q.mu.Lock()
		if t, ok := q.processing[taskID]; ok {
			delete(q.processing, taskID)
			return q, t, nil
		}
		q.mu.Unlock()
	}
	return nil, nil, fmt.Errorf("%w: %s is not processing", ErrTaskNotFound, taskID)
}

// Requeue returns processing tasks to pending without counting an attempt. It is used when a
// sweep stops before reaching tasks it already dequeued. It returns how many were moved.
func (s *Store) Requeue(taskIDs ...string) int {
	moved := 0
	for _, id := range taskIDs {
		q, t, err := s.takeProcessing(id)
		if err != nil {
			continue
		}
		t.Status = model.TaskPending
		t.StartedAt = time.Time{}
		q.insertPendingLocked(t)
		q.mu.Unlock()
		moved++
	}
	return moved
}

// Outstanding counts the pending and processing tasks of a campaign across categories.
func (s *Store) Outstanding(campaignID string) int {
	queues, err := s.allQueues()
	if err != nil {
		return 0
	}
	n := 0
	for _, q := range queues {
		q.mu.Lock()
		for _, t := range q.pending {
			if t.CampaignID == campaignID {
				n++
			}
		}
		for _, t := range q.processing {
			if t.CampaignID == campaignID {
				n++
			}
		}
		q.mu.Unlock()
	}
	return n
}

// Get returns a copy of the task wherever it currently lives.
func (s *Store) Get(taskID string) (model.Task, bool) {
	queues, err := s.allQueues()
	if err != nil {
		return model.Task{}, false
	}
	for _, q := range queues {
		q.mu.Lock()
		t := q.findLocked(taskID)
		var out model.Task
		if t != nil {
			out = t.Clone()
		}
		q.mu.Unlock()
		if t != nil {
			return out, true
		}
	}
	return model.Task{}, false
}

func (q *categoryQueue) findLocked(id string) *model.Task {
	if t, ok := q.processing[id]; ok {
		return t
	}
	for _, list := range [][]*model.Task{q.pending, q.completed, q.failed} {
		for _, t := range list {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// Pending returns a snapshot of the pending list in dequeue order.
func (s *Store) Pending(cat model.Category) ([]model.Task, error) {
	q, err := s.queue(cat)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Task, 0, len(q.pending))
	for _, t := range q.pending {
		out = append(out, t.Clone())
	}
	return out, nil
}

// PurgeCampaign drops the pending tasks of a campaign from every category and returns how
// many were removed.
func (s *Store) PurgeCampaign(campaignID string) int {
	queues, err := s.allQueues()
	if err != nil || campaignID == "" {
		return 0
	}
	removed := 0
	for _, q := range queues {
		q.mu.Lock()
		rest := q.pending[:0]
		for _, t := range q.pending {
			if t.CampaignID == campaignID {
				removed++
				continue
			}
			rest = append(rest, t)
		}
		for i := len(rest); i < len(q.pending); i++ {
			q.pending[i] = nil
		}
		q.pending = rest
		q.mu.Unlock()
	}
	return removed
}

func (s *Store) QueueStats(cat model.Category) (model.QueueStats, error) {
	q, err := s.queue(cat)
	if err != nil {
		return model.QueueStats{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked(), nil
}

func (q *categoryQueue) statsLocked() model.QueueStats {
	return model.QueueStats{
		Category:        q.category,
		Pending:         len(q.pending),
		Processing:      len(q.processing),
		Completed:       len(q.completed),
		Failed:          len(q.failed),
		Total:           q.total,
		QueueDepth:      len(q.pending) + len(q.processing),
		AvgProcessingMs: q.avgMs,
	}
}

// AllStats returns per-category stats plus their sum. The summed average is weighted by the
// number of completed samples.
func (s *Store) AllStats() model.AllStats {
	out := model.AllStats{Queues: map[model.Category]model.QueueStats{}}
	queues, err := s.allQueues()
	if err != nil {
		return out
	}
	var weighted float64
	var samples int
	for _, q := range queues {
		q.mu.Lock()
		st := q.statsLocked()
		weighted += q.avgMs * float64(q.samples)
		samples += q.samples
		q.mu.Unlock()

		out.Queues[st.Category] = st
		out.Totals.Pending += st.Pending
		out.Totals.Processing += st.Processing
		out.Totals.Completed += st.Completed
		out.Totals.Failed += st.Failed
		out.Totals.Total += st.Total
		out.Totals.QueueDepth += st.QueueDepth
	}
	if samples > 0 {
		out.Totals.AvgProcessingMs = weighted / float64(samples)
	}
	return out
}

// Clear empties every collection of cat and resets its total. The running average is kept.
func (s *Store) Clear(cat model.Category) error {
	q, err := s.queue(cat)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.resetLocked()
	q.mu.Unlock()
	return nil
}

func (s *Store) ClearAll() error {
	queues, err := s.allQueues()
	if err != nil {
		return err
	}
	for _, q := range queues {
		q.mu.Lock()
		q.resetLocked()
		q.mu.Unlock()
	}
	return nil
}

func (q *categoryQueue) resetLocked() {
	q.total = 0
	q.pending = nil
	q.processing = make(map[string]*model.Task)
	q.completed = nil
	q.failed = nil
}

func clampPriority(p int) int {
	if p < model.MinPriority {
		return model.MinPriority
	}
	if p > model.MaxPriority {
		return model.MaxPriority
	}
	return p
}
