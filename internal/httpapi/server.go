// Package httpapi exposes the workflow service over HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/dealflow/internal/engine"
	"github.com/petrijr/dealflow/internal/taskqueue"
	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
)

// Transitions is the slice of engine.Service the handlers use.
type Transitions interface {
	TransitionDeal(ctx context.Context, in api.TransitionInput) (*api.TransitionOutcome, error)
	ResyncDeal(ctx context.Context, dealID string) (*api.TransitionOutcome, error)
	ResyncAll(ctx context.Context, lister api.DealLister, skipStatuses ...string) (*engine.SyncReport, error)
	HandleIncomingWebhook(ctx context.Context, in api.IncomingWebhook) api.WebhookResult
}

// Versions is the slice of versioning.Registry the handlers use.
type Versions interface {
	CreateVersion(ctx context.Context, in versioning.CreateVersionInput) (*api.WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID string) ([]*api.WorkflowVersion, error)
	GetActiveVersion(ctx context.Context, workflowID string) (*api.WorkflowVersion, error)
	ActivateVersion(ctx context.Context, workflowID, versionID string) (*api.WorkflowVersion, error)
}

// TaskCompleter completes deal tasks. tasks.Completer implements it.
type TaskCompleter interface {
	CompleteTask(ctx context.Context, in api.TaskCompletion) (*api.TaskCompletionResult, error)
}

// QueueRunner drains the side-effect queues. taskqueue.Processor implements it.
type QueueRunner interface {
	ProcessAll(ctx context.Context, limit int) (taskqueue.Results, error)
}

// Config wires a Server.
type Config struct {
	Transitions Transitions
	Versions    Versions
	Completer   TaskCompleter
	Queues      QueueRunner
	Deals       api.DealRepository
	Lister      api.DealLister
	Tasks       api.TaskRepository
	Logger      *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	transitions Transitions
	versions    Versions
	completer   TaskCompleter
	queues      QueueRunner
	deals       api.DealRepository
	lister      api.DealLister
	tasks       api.TaskRepository
	logger      *slog.Logger
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	s := &Server{
		transitions: cfg.Transitions,
		versions:    cfg.Versions,
		completer:   cfg.Completer,
		queues:      cfg.Queues,
		deals:       cfg.Deals,
		lister:      cfg.Lister,
		tasks:       cfg.Tasks,
		logger:      cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Router builds the gin engine with every route mounted under /api/v1.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "dealflow"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/deals/:id", s.GetDeal)
		v1.GET("/deals/:id/tasks", s.ListTasks)
		v1.POST("/deals/:id/transitions", s.TransitionDeal)
		v1.POST("/deals/:id/resync", s.ResyncDeal)
		v1.POST("/deals/resync", s.ResyncAll)

		v1.POST("/tasks/:id/complete", s.CompleteTask)

		v1.POST("/webhooks/incoming", s.IncomingWebhook)

		v1.POST("/workflows/versions", s.CreateVersion)
		v1.GET("/workflows/:workflowId/versions", s.ListVersions)
		v1.GET("/workflows/:workflowId/versions/active", s.ActiveVersion)
		v1.POST("/workflows/:workflowId/versions/:versionId/activate", s.ActivateVersion)

		v1.POST("/queues/run", s.RunQueues)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.InfoContext(c.Request.Context(), "http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
