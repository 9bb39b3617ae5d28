// Package server exposes the daemon's HTTP API.
//
// The API is consumed by a browser extension, so every response is JSON
// and the whole handler is wrapped in CORS (extensions send Origin
// headers like "chrome-extension://<id>"). Evaluation submission is
// fire-and-forget: the POST acknowledges immediately and the outcome
// arrives over the SSE stream or a later cache read.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
	"github.com/jobfit-sh/jobfit/internal/provider"
	"github.com/jobfit-sh/jobfit/internal/resume"
	"github.com/jobfit-sh/jobfit/internal/schedule"
)

// Queue is the scheduler surface the server needs.
type Queue interface {
	Submit(sub model.Submission) string
	Stats() schedule.Stats
}

// ResumeLister lists available resumes.
type ResumeLister interface {
	List() ([]resume.Resume, error)
}

// Options configures a Server. Queue, Cache, and Hub are required.
type Options struct {
	Queue    Queue
	Cache    *cache.ResultCache
	Hub      *notify.Hub
	Recent   *notify.Store
	Resumes  ResumeLister
	Settings schedule.SettingsFunc

	Logger         *zap.Logger
	AllowedOrigins []string
	Version        string
}

// Server is the daemon HTTP API.
type Server struct {
	opts Options
	log  *zap.Logger
}

// New creates a server. It does not listen; see Run.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{opts: opts, log: opts.Logger}
}

// Handler builds the full HTTP handler: gin router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	api := router.Group("/api")
	{
		api.POST("/evaluations", s.submitEvaluation)
		api.GET("/evaluations/:cacheKey", s.getEvaluation)
		api.GET("/events", s.streamEvents)
		api.GET("/notifications", s.recentNotifications)
		api.GET("/providers", s.listProviders)
		api.GET("/resumes", s.listResumes)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http api listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version})
}

// submitEvaluation accepts one evaluation task. A cached result
// short-circuits: the caller gets it inline and nothing is enqueued.
// The queue itself never deduplicates, so double-submitting an uncached
// key runs twice.
func (s *Server) submitEvaluation(c *gin.Context) {
	var sub model.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(sub.CacheKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cacheKey is required"})
		return
	}
	if strings.TrimSpace(sub.Job.Title) == "" && strings.TrimSpace(sub.Job.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job title or description is required"})
		return
	}

	if res, ok := s.opts.Cache.Get(sub.CacheKey); ok {
		c.JSON(http.StatusOK, gin.H{"pending": false, "result": res})
		return
	}

	taskID := s.opts.Queue.Submit(sub)
	c.JSON(http.StatusAccepted, gin.H{"pending": true, "task_id": taskID})
}

func (s *Server) getEvaluation(c *gin.Context) {
	key := c.Param("cacheKey")
	res, ok := s.opts.Cache.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for cache key"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// streamEvents is the SSE feed of task-lifecycle events. Recent history
// (latest event per cache key) is replayed first, then live events until
// the client goes away.
func (s *Server) streamEvents(c *gin.Context) {
	events, cancel := s.opts.Hub.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if s.opts.Recent != nil {
		for _, e := range s.opts.Recent.Snapshot(time.Now()) {
			c.SSEvent(e.Kind, e)
		}
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(e.Kind, e)
			c.Writer.Flush()
		case <-heartbeat.C:
			// Comment line keeps proxies from closing an idle stream.
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) recentNotifications(c *gin.Context) {
	if s.opts.Recent == nil {
		c.JSON(http.StatusOK, gin.H{"events": []notify.Event{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": s.opts.Recent.Snapshot(time.Now())})
}

type providerInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
	Active     bool   `json:"active"`
	Local      bool   `json:"local"`
}

func (s *Server) listProviders(c *gin.Context) {
	var st schedule.Settings
	if s.opts.Settings != nil {
		st = s.opts.Settings()
	}

	out := make([]providerInfo, 0, len(provider.All))
	for _, name := range provider.All {
		cfg := st.Providers[name]
		effModel := cfg.Model
		if effModel == "" {
			effModel = provider.DefaultModel(name)
		}
		active := len(st.Active) == 0
		for _, a := range st.Active {
			if a == name {
				active = true
			}
		}
		out = append(out, providerInfo{
			Name:       name,
			Model:      effModel,
			Configured: provider.IsLocal(name) || cfg.APIKey != "",
			Active:     active,
			Local:      provider.IsLocal(name),
		})
	}

	stats := s.opts.Queue.Stats()
	c.JSON(http.StatusOK, gin.H{
		"providers": out,
		"queue": gin.H{
			"queued":        stats.Queued,
			"in_flight":     stats.InFlight,
			"attempts":      stats.Attempts,
			"next_provider": stats.NextProvider,
		},
	})
}

func (s *Server) listResumes(c *gin.Context) {
	if s.opts.Resumes == nil {
		c.JSON(http.StatusOK, gin.H{"resumes": []resume.Resume{}})
		return
	}
	resumes, err := s.opts.Resumes.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resumes == nil {
		resumes = []resume.Resume{}
	}
	c.JSON(http.StatusOK, gin.H{"resumes": resumes})
}
