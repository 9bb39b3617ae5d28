package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
	"github.com/jobfit-sh/jobfit/internal/provider"
	"github.com/jobfit-sh/jobfit/internal/resume"
)

const goodReply = `{"score": 80, "verdict": "worth", "explanation": "solid match"}`

// scripted is a provider client factory whose replies follow a script
// indexed by global call number.
type scripted struct {
	mu    sync.Mutex
	calls []string
	reply func(call int, name string) (*provider.Reply, error)
}

func (p *scripted) factory(_ context.Context, name string, _ provider.Config) (provider.Client, error) {
	return scriptedClient{p: p, name: name}, nil
}

func (p *scripted) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type scriptedClient struct {
	p    *scripted
	name string
}

func (c scriptedClient) Name() string  { return c.name }
func (c scriptedClient) Model() string { return "test-model" }

func (c scriptedClient) Complete(_ context.Context, _ provider.Request) (*provider.Reply, error) {
	c.p.mu.Lock()
	n := len(c.p.calls)
	c.p.calls = append(c.p.calls, c.name)
	c.p.mu.Unlock()
	return c.p.reply(n, c.name)
}

// settingsSource is a mutable settings snapshot for tests.
type settingsSource struct {
	mu sync.Mutex
	s  Settings
}

func (ss *settingsSource) get() Settings {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s
}

func (ss *settingsSource) set(s Settings) {
	ss.mu.Lock()
	ss.s = s
	ss.mu.Unlock()
}

type fakeResumes struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeResumes) Get(ids []string) ([]resume.Resume, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([]resume.Resume, 0, len(ids))
	for _, id := range ids {
		out = append(out, resume.Resume{ID: id, Label: id, Text: "resume text"})
	}
	return out, nil
}

func (f *fakeResumes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func submission(key string) model.Submission {
	return model.Submission{
		Job:             model.Job{ID: "job-" + key, Title: "Backend Engineer", Description: "Go services"},
		CacheKey:        key,
		CallbackContext: "tab-42",
	}
}

func waitEvent(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return notify.Event{}
	}
}

func newTestScheduler(t *testing.T, ss *settingsSource, p *scripted) (*Scheduler, *cache.ResultCache, <-chan notify.Event) {
	t.Helper()
	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	t.Cleanup(cancel)

	rc := cache.New(time.Hour, "")
	opts := Options{
		Settings:     ss.get,
		Cache:        rc,
		Hub:          hub,
		RetryDelay:   10 * time.Millisecond,
		TaskDeadline: time.Second,
	}
	if p != nil {
		opts.NewClient = p.factory
	}
	return New(opts), rc, events
}

func TestCompletedFlow(t *testing.T) {
	ss := &settingsSource{s: Settings{
		Providers: map[string]provider.Config{provider.OpenAI: {APIKey: "k"}},
		Active:    []string{provider.OpenAI},
	}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: goodReply, Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
	}}
	s, rc, events := newTestScheduler(t, ss, p)

	s.Submit(submission("k1"))

	e := waitEvent(t, events)
	if e.Kind != notify.KindCompleted {
		t.Fatalf("event kind = %q, want completed", e.Kind)
	}
	if e.CacheKey != "k1" || e.JobID != "job-k1" {
		t.Errorf("event keys = %q/%q, want k1/job-k1", e.CacheKey, e.JobID)
	}
	if e.CallbackContext != "tab-42" {
		t.Errorf("callback context = %q, want tab-42", e.CallbackContext)
	}
	if e.Result == nil {
		t.Fatal("completed event has no result")
	}
	if e.Result.Score != 80 || e.Result.Verdict != model.VerdictFavorable {
		t.Errorf("result = %d/%q, want 80/favorable", e.Result.Score, e.Result.Verdict)
	}
	if e.Result.Provider != provider.OpenAI || e.Result.Model != "test-model" {
		t.Errorf("attribution = %q/%q", e.Result.Provider, e.Result.Model)
	}

	// Cache write precedes the broadcast, so by the time the event is
	// observable the result must already be readable.
	if got, ok := rc.Get("k1"); !ok || got.Score != 80 {
		t.Errorf("cache miss after completion: ok=%v", ok)
	}
}

func TestFIFOOrder(t *testing.T) {
	ss := &settingsSource{s: Settings{Providers: map[string]provider.Config{
		provider.OpenAI: {APIKey: "k"},
	}}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: goodReply}, nil
	}}
	s, _, events := newTestScheduler(t, ss, p)

	for _, key := range []string{"a", "b", "c"} {
		s.Submit(submission(key))
	}

	var got []string
	for i := 0; i < 3; i++ {
		e := waitEvent(t, events)
		if e.Kind != notify.KindCompleted {
			t.Fatalf("event #%d kind = %q, want completed", i, e.Kind)
		}
		got = append(got, e.CacheKey)
	}
	if want := []string{"a", "b", "c"}; !equalStrings(got, want) {
		t.Errorf("completion order = %v, want %v", got, want)
	}
	if p.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", p.callCount())
	}
}

func TestRateLimitRetryPreemptsQueue(t *testing.T) {
	ss := &settingsSource{s: Settings{
		Providers: map[string]provider.Config{provider.OpenAI: {APIKey: "k"}},
		Active:    []string{provider.OpenAI},
	}}
	p := &scripted{reply: func(call int, _ string) (*provider.Reply, error) {
		if call == 0 {
			return nil, fmt.Errorf("%w by test", provider.ErrRateLimited)
		}
		return &provider.Reply{Text: goodReply}, nil
	}}
	s, _, events := newTestScheduler(t, ss, p)

	s.Submit(submission("first"))
	s.Submit(submission("second"))

	e := waitEvent(t, events)
	if e.Kind != notify.KindRateLimited {
		t.Fatalf("first event = %q, want rate_limited", e.Kind)
	}
	if e.CacheKey != "first" || e.AttemptCount != 1 || e.Provider != provider.OpenAI {
		t.Errorf("rate_limited event = %+v", e)
	}

	// The retry holds the slot: the first task must complete before the
	// second one starts, despite the second being queued during backoff.
	e = waitEvent(t, events)
	if e.Kind != notify.KindCompleted || e.CacheKey != "first" {
		t.Fatalf("second event = %q/%q, want completed/first", e.Kind, e.CacheKey)
	}
	e = waitEvent(t, events)
	if e.Kind != notify.KindCompleted || e.CacheKey != "second" {
		t.Fatalf("third event = %q/%q, want completed/second", e.Kind, e.CacheKey)
	}
}

func TestRateLimitGivesUpAtDeadline(t *testing.T) {
	ss := &settingsSource{s: Settings{Providers: map[string]provider.Config{
		provider.OpenAI: {APIKey: "k"},
	}}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return nil, fmt.Errorf("%w by test", provider.ErrRateLimited)
	}}

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	t.Cleanup(cancel)
	s := New(Options{
		Settings:     ss.get,
		Cache:        cache.New(time.Hour, ""),
		Hub:          hub,
		NewClient:    p.factory,
		RetryDelay:   5 * time.Millisecond,
		TaskDeadline: 40 * time.Millisecond,
	})

	s.Submit(submission("hopeless"))

	var last notify.Event
	for {
		e := waitEvent(t, events)
		if e.Terminal() {
			last = e
			break
		}
		if e.Kind != notify.KindRateLimited {
			t.Fatalf("unexpected interim event %q", e.Kind)
		}
	}
	if last.Kind != notify.KindFailed {
		t.Fatalf("terminal event = %q, want failed", last.Kind)
	}
	if !strings.Contains(last.Reason, "timed out") {
		t.Errorf("failure reason %q does not mention the timeout", last.Reason)
	}
}

func TestRoundRobinAcrossTasks(t *testing.T) {
	ss := &settingsSource{s: Settings{
		Providers: map[string]provider.Config{
			provider.OpenAI:    {APIKey: "k1"},
			provider.Anthropic: {APIKey: "k2"},
		},
		Active: []string{provider.OpenAI, provider.Anthropic},
	}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: goodReply}, nil
	}}
	s, _, events := newTestScheduler(t, ss, p)

	for _, key := range []string{"a", "b", "c"} {
		s.Submit(submission(key))
	}

	var got []string
	for i := 0; i < 3; i++ {
		e := waitEvent(t, events)
		if e.Kind != notify.KindCompleted {
			t.Fatalf("event #%d = %q, want completed", i, e.Kind)
		}
		got = append(got, e.Result.Provider)
	}
	want := []string{provider.Anthropic, provider.OpenAI, provider.Anthropic}
	if !equalStrings(got, want) {
		t.Errorf("provider rotation = %v, want %v", got, want)
	}
}

func TestLocalProviderAlwaysInRotation(t *testing.T) {
	// With no narrowing, the local provider joins the rotation alongside
	// every keyed one; it needs no credential to count as configured.
	st := Settings{Providers: map[string]provider.Config{
		provider.OpenAI: {APIKey: "k"},
	}}
	got := candidates(st)
	want := []string{provider.OpenAI, provider.Ollama}
	if !equalStrings(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}

	// Narrowing excludes it like any other provider.
	st.Active = []string{provider.OpenAI}
	if got := candidates(st); !equalStrings(got, []string{provider.OpenAI}) {
		t.Errorf("narrowed candidates = %v, want only openai", got)
	}
}

func TestNoConfiguredProvidersLeavesTasksQueued(t *testing.T) {
	ss := &settingsSource{s: Settings{Active: []string{"nonexistent"}}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: goodReply}, nil
	}}
	s, _, events := newTestScheduler(t, ss, p)

	s.Submit(submission("stuck"))

	select {
	case e := <-events:
		t.Fatalf("unexpected event %q while no provider is configured", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	if st := s.Stats(); st.Queued != 1 || st.InFlight != "" {
		t.Fatalf("stats = %+v, want one queued and no in-flight", st)
	}

	// Configuring a provider and submitting again drains in FIFO order.
	ss.set(Settings{Providers: map[string]provider.Config{
		provider.OpenAI: {APIKey: "k"},
	}})
	s.Submit(submission("fresh"))

	first := waitEvent(t, events)
	second := waitEvent(t, events)
	if first.CacheKey != "stuck" || second.CacheKey != "fresh" {
		t.Errorf("drain order = %q, %q; want stuck, fresh", first.CacheKey, second.CacheKey)
	}
}

func TestMissingCredentialFailsTask(t *testing.T) {
	// Active narrows to a hosted provider with no stored key; the real
	// client constructor rejects it and the task fails terminally.
	ss := &settingsSource{s: Settings{Active: []string{provider.OpenAI}}}
	s, rc, events := newTestScheduler(t, ss, nil)

	s.Submit(submission("nokey"))

	e := waitEvent(t, events)
	if e.Kind != notify.KindFailed {
		t.Fatalf("event kind = %q, want failed", e.Kind)
	}
	if !strings.Contains(e.Reason, "no API key") {
		t.Errorf("failure reason %q does not mention the missing key", e.Reason)
	}
	if _, ok := rc.Get("nokey"); ok {
		t.Error("failed task must not write the cache")
	}
}

func TestUnparseableReplyFailsTask(t *testing.T) {
	ss := &settingsSource{s: Settings{Providers: map[string]provider.Config{
		provider.OpenAI: {APIKey: "k"},
	}}}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: "I cannot help with that."}, nil
	}}
	s, rc, events := newTestScheduler(t, ss, p)

	s.Submit(submission("garbled"))

	e := waitEvent(t, events)
	if e.Kind != notify.KindFailed {
		t.Fatalf("event kind = %q, want failed", e.Kind)
	}
	if !strings.Contains(e.Reason, "unparseable") {
		t.Errorf("failure reason %q does not mention unparseable output", e.Reason)
	}
	if _, ok := rc.Get("garbled"); ok {
		t.Error("unparseable reply must not write the cache")
	}
}

func TestUnparseableReplyLoggedTruncated(t *testing.T) {
	// Raw model replies can run to kilobytes; the failure log carries a
	// truncated copy, never the whole thing.
	core, logs := observer.New(zap.WarnLevel)
	ss := &settingsSource{s: Settings{
		Providers: map[string]provider.Config{provider.OpenAI: {APIKey: "k"}},
		Active:    []string{provider.OpenAI},
	}}
	long := "I cannot help with that. " + strings.Repeat("x", 600)
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: long}, nil
	}}

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	t.Cleanup(cancel)
	s := New(Options{
		Settings:     ss.get,
		Cache:        cache.New(time.Hour, ""),
		Hub:          hub,
		Logger:       zap.New(core),
		NewClient:    p.factory,
		RetryDelay:   10 * time.Millisecond,
		TaskDeadline: time.Second,
	})

	s.Submit(submission("long"))
	if e := waitEvent(t, events); e.Kind != notify.KindFailed {
		t.Fatalf("event kind = %q, want failed", e.Kind)
	}

	entries := logs.FilterMessage("unparseable reply").All()
	if len(entries) != 1 {
		t.Fatalf("got %d unparseable-reply log entries, want 1", len(entries))
	}
	logged, _ := entries[0].ContextMap()["reply"].(string)
	if !strings.HasSuffix(logged, "...") {
		t.Errorf("logged reply %q is not marked truncated", logged)
	}
	if n := len([]rune(logged)); n >= len([]rune(long)) || n > 403 {
		t.Errorf("logged reply is %d runes, want at most 403", n)
	}
}

func TestResumesSkippedForLocalProvider(t *testing.T) {
	resumes := &fakeResumes{}
	p := &scripted{reply: func(int, string) (*provider.Reply, error) {
		return &provider.Reply{Text: goodReply}, nil
	}}
	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	t.Cleanup(cancel)

	ss := &settingsSource{s: Settings{Active: []string{provider.Ollama}}}
	s := New(Options{
		Settings:     ss.get,
		Cache:        cache.New(time.Hour, ""),
		Hub:          hub,
		Resumes:      resumes,
		NewClient:    p.factory,
		RetryDelay:   10 * time.Millisecond,
		TaskDeadline: time.Second,
	})

	sub := submission("local")
	sub.ResumeSelection = []string{"backend"}
	s.Submit(sub)
	waitEvent(t, events)

	if resumes.callCount() != 0 {
		t.Errorf("resume store consulted %d times for the local provider, want 0", resumes.callCount())
	}

	// A hosted provider with the same selection does load resumes.
	ss.set(Settings{
		Providers: map[string]provider.Config{provider.OpenAI: {APIKey: "k"}},
		Active:    []string{provider.OpenAI},
	})
	s.Submit(sub)
	waitEvent(t, events)

	if resumes.callCount() != 1 {
		t.Errorf("resume store consulted %d times for the hosted provider, want 1", resumes.callCount())
	}
}

func TestRetryReadsFreshSettings(t *testing.T) {
	ss := &settingsSource{s: Settings{
		Providers: map[string]provider.Config{provider.OpenAI: {APIKey: "k"}},
		Active:    []string{provider.OpenAI},
	}}
	p := &scripted{reply: func(call int, _ string) (*provider.Reply, error) {
		if call == 0 {
			return nil, fmt.Errorf("%w by test", provider.ErrRateLimited)
		}
		return &provider.Reply{Text: goodReply}, nil
	}}

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	t.Cleanup(cancel)
	s := New(Options{
		Settings:     ss.get,
		Cache:        cache.New(time.Hour, ""),
		Hub:          hub,
		NewClient:    p.factory,
		RetryDelay:   60 * time.Millisecond,
		TaskDeadline: time.Second,
	})

	s.Submit(submission("swap"))

	e := waitEvent(t, events)
	if e.Kind != notify.KindRateLimited {
		t.Fatalf("first event = %q, want rate_limited", e.Kind)
	}

	// Settings edit during the backoff takes effect on the retry.
	ss.set(Settings{
		Providers: map[string]provider.Config{provider.Anthropic: {APIKey: "k2"}},
		Active:    []string{provider.Anthropic},
	})

	e = waitEvent(t, events)
	if e.Kind != notify.KindCompleted {
		t.Fatalf("second event = %q, want completed", e.Kind)
	}
	if e.Result.Provider != provider.Anthropic {
		t.Errorf("retry used %q, want the freshly configured %q", e.Result.Provider, provider.Anthropic)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
