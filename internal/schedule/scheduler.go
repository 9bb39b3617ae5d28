// Package schedule implements the evaluation task queue.
//
// The queue is strictly single-flight: tasks start in FIFO submission
// order, at most one provider call is outstanding at any time, and a
// rate-limited task keeps the in-flight slot through its backoff so the
// retry preempts anything queued behind it. Providers rotate round-robin
// across the configured set; settings are re-read on every attempt so
// mid-flight edits take effect on the next call.
//
// Task lifecycle: Queued -> InFlight -> {Completed | Failed}, with an
// InFlight self-loop on rate limit bounded by the per-task deadline.
// The queue performs no de-duplication; callers check the result cache
// before submitting.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/logger"
	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
	jobfitotel "github.com/jobfit-sh/jobfit/internal/otel"
	"github.com/jobfit-sh/jobfit/internal/parser"
	"github.com/jobfit-sh/jobfit/internal/prompt"
	"github.com/jobfit-sh/jobfit/internal/provider"
	"github.com/jobfit-sh/jobfit/internal/resume"
)

const (
	// defaultRetryDelay is the in-place backoff after a rate-limited attempt.
	defaultRetryDelay = 10 * time.Second
	// defaultTaskDeadline bounds a task's total wall time across all
	// attempts, measured from its first attempt.
	defaultTaskDeadline = 2 * time.Minute
)

// Settings is the configuration snapshot one attempt runs against.
type Settings struct {
	// Providers maps provider name to its resolved client config.
	Providers map[string]provider.Config
	// Active narrows the provider set. Empty means every configured
	// provider participates in rotation.
	Active []string
	// Profile is the candidate context embedded in every prompt.
	Profile prompt.Profile
}

// SettingsFunc returns the current settings. Called fresh on every
// attempt, never cached.
type SettingsFunc func() Settings

// ClientFactory constructs a provider client. Swappable in tests.
type ClientFactory func(ctx context.Context, name string, cfg provider.Config) (provider.Client, error)

// ResumeSource resolves a resume selection to full resume text.
type ResumeSource interface {
	Get(ids []string) ([]resume.Resume, error)
}

// Options configures a Scheduler. Settings, Cache, and Hub are required.
type Options struct {
	Settings SettingsFunc
	Cache    *cache.ResultCache
	Hub      *notify.Hub
	Resumes  ResumeSource

	Logger    *zap.Logger
	Metrics   *jobfitotel.Metrics
	NewClient ClientFactory

	// RetryDelay and TaskDeadline override the defaults (10s / 2m).
	// Tests shrink them to milliseconds.
	RetryDelay   time.Duration
	TaskDeadline time.Duration
}

// Scheduler is the single-consumer evaluation queue.
type Scheduler struct {
	settings  SettingsFunc
	cache     *cache.ResultCache
	hub       *notify.Hub
	resumes   ResumeSource
	log       *zap.Logger
	metrics   *jobfitotel.Metrics
	newClient ClientFactory

	retryDelay time.Duration
	deadline   time.Duration

	cursor Cursor

	mu       sync.Mutex
	waiting  []*task
	inflight *task
}

type task struct {
	id  string
	sub model.Submission

	// attempts and started are guarded by Scheduler.mu.
	attempts int
	started  time.Time
}

// New creates a scheduler. It has no background goroutine of its own;
// admission runs on submitter and completion goroutines.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		settings:   opts.Settings,
		cache:      opts.Cache,
		hub:        opts.Hub,
		resumes:    opts.Resumes,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		newClient:  opts.NewClient,
		retryDelay: opts.RetryDelay,
		deadline:   opts.TaskDeadline,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.newClient == nil {
		s.newClient = provider.New
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.deadline <= 0 {
		s.deadline = defaultTaskDeadline
	}
	return s
}

// Submit enqueues one evaluation and returns its task id immediately.
// Fire-and-forget: the outcome arrives via the notification hub and the
// result cache, never as a return value.
func (s *Scheduler) Submit(sub model.Submission) string {
	t := &task{id: uuid.NewString(), sub: sub}
	s.mu.Lock()
	s.waiting = append(s.waiting, t)
	queued := len(s.waiting)
	s.mu.Unlock()

	s.log.Info("task queued",
		zap.String("task", t.id),
		zap.String("cache_key", sub.CacheKey),
		zap.String("job", sub.Job.ID),
		zap.Int("waiting", queued))
	go s.admit()
	return t.id
}

// admit moves the queue head into the in-flight slot if the slot is free.
// With no configured providers the head stays queued; a later Submit or
// settings change gets another chance.
func (s *Scheduler) admit() {
	s.mu.Lock()
	if s.inflight != nil || len(s.waiting) == 0 {
		s.mu.Unlock()
		return
	}
	st := s.settings()
	names := candidates(st)
	if len(names) == 0 {
		waiting := len(s.waiting)
		s.mu.Unlock()
		s.log.Warn("no providers configured, leaving queue paused",
			zap.Int("waiting", waiting))
		return
	}
	t := s.waiting[0]
	s.waiting = s.waiting[1:]
	t.started = time.Now()
	s.inflight = t
	s.mu.Unlock()

	name, _ := s.cursor.Next(names)
	go s.attempt(t, name, st)
}

// attempt runs one provider call for the in-flight task.
func (s *Scheduler) attempt(t *task, name string, st Settings) {
	s.mu.Lock()
	t.attempts++
	attempt := t.attempts
	started := t.started
	s.mu.Unlock()

	log := s.log.With(
		zap.String("task", t.id),
		zap.String("cache_key", t.sub.CacheKey),
		zap.String("provider", name),
		zap.Int("attempt", attempt))

	remaining := s.deadline - time.Since(started)
	if remaining <= 0 {
		s.fail(t, name, fmt.Errorf("%w: task exceeded its %s deadline", provider.ErrTimeout, s.deadline))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	client, err := s.newClient(ctx, name, st.Providers[name])
	if err != nil {
		s.fail(t, name, err)
		return
	}

	// The local provider never receives resumes; its context window is
	// too small to waste on them.
	var resumes []resume.Resume
	if len(t.sub.ResumeSelection) > 0 && !provider.IsLocal(name) && s.resumes != nil {
		resumes, err = s.resumes.Get(t.sub.ResumeSelection)
		if err != nil {
			s.fail(t, name, err)
			return
		}
	}
	req := provider.Request{
		System:    prompt.SystemPrompt,
		User:      prompt.Build(st.Profile, t.sub.Job, resumes),
		MaxTokens: st.Providers[name].MaxTokens,
	}

	log.Info("calling provider", zap.String("model", client.Model()), zap.Duration("remaining", remaining))

	// Race the call against the task deadline. Clients honor ctx, but a
	// misbehaving transport must not wedge the single flight slot.
	type outcome struct {
		reply *provider.Reply
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		reply, err := client.Complete(ctx, req)
		ch <- outcome{reply, err}
	}()

	var reply *provider.Reply
	select {
	case o := <-ch:
		reply, err = o.reply, o.err
	case <-ctx.Done():
		err = fmt.Errorf("%w: %s did not answer before the task deadline", provider.ErrTimeout, name)
	}

	switch {
	case err == nil:
		s.finish(t, client, reply, log)
	case errors.Is(err, provider.ErrRateLimited):
		s.reschedule(t, name, log)
	default:
		s.fail(t, name, err)
	}
}

// reschedule handles a rate-limited attempt: broadcast, back off, retry.
// The in-flight slot stays occupied during the backoff so the retry
// preempts newly queued tasks.
func (s *Scheduler) reschedule(t *task, name string, log *zap.Logger) {
	s.mu.Lock()
	attempts := t.attempts
	elapsed := time.Since(t.started)
	s.mu.Unlock()

	if elapsed >= s.deadline {
		s.fail(t, name, fmt.Errorf("%w: gave up after %s of rate limiting", provider.ErrTimeout, elapsed.Round(time.Second)))
		return
	}

	s.metrics.RecordRateLimitRetry(context.Background(), name)
	s.hub.Publish(notify.Event{
		Kind:         notify.KindRateLimited,
		CacheKey:     t.sub.CacheKey,
		JobID:        t.sub.Job.ID,
		AttemptCount: attempts,
		Provider:     name,
		TS:           time.Now(),
	})
	log.Warn("rate limited, retrying in place", zap.Duration("delay", s.retryDelay))

	time.AfterFunc(s.retryDelay, func() {
		st := s.settings()
		names := candidates(st)
		next, ok := s.cursor.Current(names)
		if !ok {
			s.fail(t, name, errors.New("no providers configured"))
			return
		}
		s.attempt(t, next, st)
	})
}

// finish parses and normalizes the reply, writes the cache, then
// broadcasts. The cache write strictly precedes the broadcast so a missed
// notification never loses the outcome.
func (s *Scheduler) finish(t *task, client provider.Client, reply *provider.Reply, log *zap.Logger) {
	res, err := parser.Parse(reply.Text)
	if err != nil {
		log.Warn("unparseable reply", zap.String("reply", logger.TruncateForLog(reply.Text, 400)))
		s.fail(t, client.Name(), fmt.Errorf("%s: %w", client.Name(), err))
		return
	}
	res.Provider = client.Name()
	res.Model = client.Model()
	res.Usage = reply.Usage
	res.EvaluatedAt = time.Now()

	s.cache.Put(t.sub.CacheKey, *res)

	ctx := context.Background()
	s.metrics.RecordTokens(ctx, res.Provider, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	s.metrics.RecordEvaluation(ctx, res.Provider, "completed")

	s.hub.Publish(notify.Event{
		Kind:            notify.KindCompleted,
		CacheKey:        t.sub.CacheKey,
		JobID:           t.sub.Job.ID,
		Result:          res,
		CallbackContext: t.sub.CallbackContext,
		TS:              res.EvaluatedAt,
	})
	log.Info("task completed",
		zap.Int("score", res.Score),
		zap.String("verdict", res.Verdict))
	s.release()
}

// fail terminates the task with no retry.
func (s *Scheduler) fail(t *task, name string, cause error) {
	s.metrics.RecordEvaluation(context.Background(), name, "failed")
	s.hub.Publish(notify.Event{
		Kind:            notify.KindFailed,
		CacheKey:        t.sub.CacheKey,
		JobID:           t.sub.Job.ID,
		Provider:        name,
		Reason:          cause.Error(),
		CallbackContext: t.sub.CallbackContext,
		TS:              time.Now(),
	})
	s.log.Warn("task failed",
		zap.String("task", t.id),
		zap.String("cache_key", t.sub.CacheKey),
		zap.String("provider", name),
		zap.Error(cause))
	s.release()
}

// release frees the in-flight slot and runs the admission loop.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	s.admit()
}

// Stats is a point-in-time snapshot for the dashboard and the providers
// endpoint.
type Stats struct {
	// Queued is the number of waiting tasks, excluding the in-flight one.
	Queued int
	// InFlight is the cache key of the running task, empty when idle.
	InFlight string
	// Attempts is the running task's attempt count so far.
	Attempts int
	// InFlightFor is how long the running task has held the slot.
	InFlightFor time.Duration
	// NextProvider is the provider the next admission would select.
	NextProvider string
}

// Stats returns the current queue snapshot.
func (s *Scheduler) Stats() Stats {
	st := s.settings()
	next, _ := s.cursor.Peek(candidates(st))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Queued: len(s.waiting), NextProvider: next}
	if s.inflight != nil {
		out.InFlight = s.inflight.sub.CacheKey
		out.Attempts = s.inflight.attempts
		out.InFlightFor = time.Since(s.inflight.started)
	}
	return out
}

// candidates resolves the rotation set: the user-narrowed subset when one
// is set, otherwise every provider with a credential plus the local one.
// Credential validity is not checked here; a narrowed-in provider without
// a key fails its task at client construction instead of stalling the
// queue.
func candidates(st Settings) []string {
	var out []string
	for _, name := range provider.All {
		if len(st.Active) > 0 {
			if containsName(st.Active, name) {
				out = append(out, name)
			}
			continue
		}
		if provider.IsLocal(name) || st.Providers[name].APIKey != "" {
			out = append(out, name)
		}
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
