package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
	"github.com/jobfit-sh/jobfit/internal/provider"
	"github.com/jobfit-sh/jobfit/internal/schedule"
)

type fakeQueue struct {
	mu    sync.Mutex
	subs  []model.Submission
	stats schedule.Stats
}

func (q *fakeQueue) Submit(sub model.Submission) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, sub)
	return "task-1"
}

func (q *fakeQueue) Stats() schedule.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *fakeQueue) submissions() []model.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Submission(nil), q.subs...)
}

func newTestServer(t *testing.T) (*Server, *fakeQueue, *cache.ResultCache, *notify.Hub, *notify.Store) {
	t.Helper()
	q := &fakeQueue{stats: schedule.Stats{Queued: 2, NextProvider: provider.OpenAI}}
	rc := cache.New(time.Hour, "")
	hub := notify.NewHub()
	recent := notify.NewStore(time.Hour)
	s := New(Options{
		Queue:          q,
		Cache:          rc,
		Hub:            hub,
		Recent:         recent,
		AllowedOrigins: []string{"*"},
		Settings: func() schedule.Settings {
			return schedule.Settings{Providers: map[string]provider.Config{
				provider.OpenAI: {APIKey: "k"},
			}}
		},
		Version: "test",
	})
	return s, q, rc, hub, recent
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSubmitEvaluation(t *testing.T) {
	s, q, _, _, _ := newTestServer(t)
	h := s.Handler()

	w := postJSON(t, h, "/api/evaluations", `{
		"job": {"id": "42", "title": "Go Engineer", "description": "build services"},
		"cache_key": "list:42",
		"callback_context": "tab-7"
	}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", w.Code, w.Body)
	}
	var resp struct {
		Pending bool   `json:"pending"`
		TaskID  string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Pending || resp.TaskID == "" {
		t.Errorf("response = %+v, want pending with a task id", resp)
	}

	subs := q.submissions()
	if len(subs) != 1 {
		t.Fatalf("queue received %d submissions, want 1", len(subs))
	}
	if subs[0].CacheKey != "list:42" || subs[0].CallbackContext != "tab-7" {
		t.Errorf("submission = %+v", subs[0])
	}
}

func TestSubmitEvaluationValidation(t *testing.T) {
	s, q, _, _, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing cache key", `{"job": {"title": "x", "description": "y"}}`},
		{"empty job", `{"job": {}, "cache_key": "k"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(t, h, "/api/evaluations", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if len(q.submissions()) != 0 {
		t.Errorf("invalid requests reached the queue: %d", len(q.submissions()))
	}
}

func TestSubmitCachedKeyShortCircuits(t *testing.T) {
	s, q, rc, _, _ := newTestServer(t)
	h := s.Handler()

	rc.Put("list:42", model.Result{Score: 77, Verdict: model.VerdictFavorable})

	w := postJSON(t, h, "/api/evaluations", `{
		"job": {"title": "Go Engineer", "description": "x"},
		"cache_key": "list:42"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Pending bool          `json:"pending"`
		Result  *model.Result `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Pending || resp.Result == nil || resp.Result.Score != 77 {
		t.Errorf("response = %+v, want inline cached result", resp)
	}
	if len(q.submissions()) != 0 {
		t.Error("cached key still reached the queue")
	}
}

func TestGetEvaluation(t *testing.T) {
	s, _, rc, _, _ := newTestServer(t)
	h := s.Handler()

	if w := getPath(t, h, "/api/evaluations/unknown"); w.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", w.Code)
	}

	rc.Put("known", model.Result{Score: 55, Verdict: model.VerdictBorderline})
	w := getPath(t, h, "/api/evaluations/known")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var res model.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Score != 55 || res.Verdict != model.VerdictBorderline {
		t.Errorf("result = %+v", res)
	}
}

func TestListProviders(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	w := getPath(t, s.Handler(), "/api/providers")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Providers []providerInfo `json:"providers"`
		Queue     struct {
			Queued       int    `json:"queued"`
			NextProvider string `json:"next_provider"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Providers) != len(provider.All) {
		t.Fatalf("listed %d providers, want %d", len(resp.Providers), len(provider.All))
	}
	byName := map[string]providerInfo{}
	for _, p := range resp.Providers {
		byName[p.Name] = p
	}
	if !byName[provider.OpenAI].Configured {
		t.Error("openai should be configured (has a key)")
	}
	if byName[provider.Anthropic].Configured {
		t.Error("anthropic should not be configured (no key)")
	}
	if p := byName[provider.Ollama]; !p.Configured || !p.Local {
		t.Errorf("ollama = %+v, want configured and local", p)
	}
	if byName[provider.OpenAI].Model == "" {
		t.Error("effective model should never be empty")
	}
	if resp.Queue.Queued != 2 || resp.Queue.NextProvider != provider.OpenAI {
		t.Errorf("queue stats = %+v", resp.Queue)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	w := getPath(t, s.Handler(), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"version":"test"`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/evaluations", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("preflight response has no Access-Control-Allow-Origin header")
	}
}

func TestEventStreamReplaysRecentEvents(t *testing.T) {
	s, _, _, hub, recent := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	recent.Upsert(notify.Event{
		Kind:     notify.KindCompleted,
		CacheKey: "old",
		JobID:    "j1",
		TS:       time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	// Publish a live event shortly after connecting.
	go func() {
		time.Sleep(100 * time.Millisecond)
		hub.Publish(notify.Event{
			Kind:     notify.KindRateLimited,
			CacheKey: "live",
			JobID:    "j2",
			TS:       time.Now(),
		})
	}()

	var sawReplay, sawLive bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, `"cache_key":"old"`) {
			sawReplay = true
		}
		if strings.Contains(line, `"cache_key":"live"`) {
			sawLive = true
		}
		if sawReplay && sawLive {
			break
		}
	}
	if !sawReplay {
		t.Error("stream did not replay the stored event")
	}
	if !sawLive {
		t.Error("stream did not deliver the live event")
	}
}
