// Package dispatch runs the outbound work queue. Tasks targeting the same
// conversation always land on the same worker lane, so sends to one chat are
// attempted in submission order; retry policy is driven entirely by the typed
// error a provider returns.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
	"github.com/omnirelay/omnirelay/pkg/registry"
)

const component = "dispatch"

// Kind is the outbound operation a task performs.
type Kind string

const (
	KindSend    Kind = "send"
	KindReact   Kind = "react"
	KindUnreact Kind = "unreact"
)

// Task is one unit of outbound work.
type Task struct {
	ID           domain.EntityID
	Kind         Kind
	Ref          connection.Ref
	TargetChatID string

	// Content is set for send tasks.
	Content message.Content

	// Emoji, NativeMessageID, and FromMe are set for reaction tasks.
	Emoji           string
	NativeMessageID string
	FromMe          bool

	Attempts   int
	EnqueuedAt time.Time
}

// Result reports the terminal outcome of a task: either a delivery receipt or
// the error that exhausted it.
type Result struct {
	Task    Task
	Receipt message.DeliveryReceipt
	Err     error
}

// Resolver looks up the live registration for a connection ref. Resolution
// happens at execution time, per attempt, so a connection deactivated while a
// task waits fails cleanly instead of using stale state.
type Resolver interface {
	Resolve(ref connection.Ref) (*registry.Registration, bool)
}

// Options tunes the queue.
type Options struct {
	Workers     int
	QueueDepth  int
	MaxAttempts int
	BaseBackoff time.Duration

	// CallTimeout bounds each individual provider attempt.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Queue is the outbound dispatch queue.
type Queue struct {
	resolver Resolver
	opts     Options
	onResult func(Result)

	lanes []chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a queue. onResult receives every terminal outcome; nil is
// allowed when the caller does not care.
func New(resolver Resolver, opts Options, onResult func(Result)) *Queue {
	opts = opts.withDefaults()
	lanes := make([]chan Task, opts.Workers)
	for i := range lanes {
		lanes[i] = make(chan Task, opts.QueueDepth)
	}
	return &Queue{
		resolver: resolver,
		opts:     opts,
		onResult: onResult,
		lanes:    lanes,
	}
}

// Start launches the worker lanes. ctx cancellation aborts in-flight backoff
// waits; queued tasks still drain on Stop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for _, lane := range q.lanes {
		q.wg.Add(1)
		go func(lane chan Task) {
			defer q.wg.Done()
			for task := range lane {
				q.process(ctx, task)
			}
		}(lane)
	}
}

// Enqueue routes a task onto its conversation lane. Tasks for the same
// (connection, chat) pair share a lane and therefore execute in order.
// The mutex stays held across the lane send so Stop cannot close a lane
// with a send in flight.
func (q *Queue) Enqueue(task Task) error {
	if task.ID.IsZero() {
		task.ID = domain.NewID()
	}
	task.EnqueuedAt = domain.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return errors.New("dispatch queue stopped")
	}
	q.lanes[q.lane(task)] <- task
	return nil
}

// Stop closes the lanes and waits for queued tasks to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	for _, lane := range q.lanes {
		close(lane)
	}
	q.wg.Wait()
}

func (q *Queue) lane(task Task) int {
	h := fnv.New32a()
	h.Write([]byte(task.Ref.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(task.TargetChatID))
	return int(h.Sum32()) % len(q.lanes)
}

func (q *Queue) process(ctx context.Context, task Task) {
	var lastErr error
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		task.Attempts = attempt

		receipt, err := q.execute(ctx, task)
		if err == nil {
			q.report(Result{Task: task, Receipt: receipt})
			return
		}
		lastErr = err

		if !domain.Retryable(err) {
			logger.WarnCF(component, "Task failed permanently", map[string]interface{}{
				"task":  string(task.ID),
				"kind":  string(task.Kind),
				"ref":   task.Ref.String(),
				"error": err.Error(),
			})
			q.report(Result{Task: task, Err: err})
			return
		}
		if attempt == q.opts.MaxAttempts {
			break
		}

		wait := q.backoff(attempt, err)
		logger.DebugCF(component, "Retrying task", map[string]interface{}{
			"task":    string(task.ID),
			"attempt": attempt,
			"wait":    wait.String(),
		})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			q.report(Result{Task: task, Err: ctx.Err()})
			return
		}
	}

	logger.WarnCF(component, "Task exhausted retries", map[string]interface{}{
		"task":     string(task.ID),
		"kind":     string(task.Kind),
		"ref":      task.Ref.String(),
		"attempts": task.Attempts,
		"error":    lastErr.Error(),
	})
	q.report(Result{Task: task, Err: lastErr})
}

func (q *Queue) execute(ctx context.Context, task Task) (message.DeliveryReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.CallTimeout)
	defer cancel()

	reg, ok := q.resolver.Resolve(task.Ref)
	if !ok {
		return message.DeliveryReceipt{}, &domain.NotFoundError{Resource: "connection", ID: task.Ref.String()}
	}

	switch task.Kind {
	case KindSend:
		return reg.Provider.Send(ctx, task.Ref, task.TargetChatID, task.Content)
	case KindReact, KindUnreact:
		reactable, ok := provider.AsReactable(reg.Provider)
		if !ok {
			return message.DeliveryReceipt{}, &domain.UnsupportedOperationError{
				Platform:  reg.Provider.Platform(),
				Operation: "reactions",
			}
		}
		var err error
		if task.Kind == KindReact {
			err = reactable.SendReaction(ctx, task.Ref, task.TargetChatID, task.NativeMessageID, task.Emoji, task.FromMe)
		} else {
			err = reactable.RemoveReaction(ctx, task.Ref, task.TargetChatID, task.NativeMessageID, task.Emoji, task.FromMe)
		}
		return message.DeliveryReceipt{}, err
	default:
		return message.DeliveryReceipt{}, &domain.PermanentError{Reason: "unknown task kind " + string(task.Kind)}
	}
}

// backoff grows exponentially with up to 50% jitter. A rate-limit response
// carrying its own retry-after wins when it is longer.
func (q *Queue) backoff(attempt int, err error) time.Duration {
	wait := q.opts.BaseBackoff << (attempt - 1)
	wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))

	var rate *domain.RateLimitedError
	if errors.As(err, &rate) && rate.RetryAfter > wait {
		wait = rate.RetryAfter
	}
	return wait
}

func (q *Queue) report(res Result) {
	if q.onResult != nil {
		q.onResult(res)
	}
}
