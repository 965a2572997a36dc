package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
)

// TransitionRequest is the body of POST /deals/:id/transitions. Context is
// merged over the deal payload for guard evaluation; Payload reaches the
// entry actions.
type TransitionRequest struct {
	TargetStatus string         `json:"targetStatus" binding:"required"`
	ActorRole    string         `json:"actorRole" binding:"required"`
	ActorID      string         `json:"actorId"`
	Context      map[string]any `json:"context"`
	Payload      map[string]any `json:"payload"`
}

// CompleteTaskRequest is the body of POST /tasks/:id/complete.
type CompleteTaskRequest struct {
	Payload    map[string]any `json:"payload"`
	ActorRoles []string       `json:"actorRoles"`
	ActorID    string         `json:"actorId"`
}

// ResyncAllRequest lists statuses whose deals are left alone.
type ResyncAllRequest struct {
	SkipStatuses []string `json:"skipStatuses"`
}

// CreateVersionRequest registers a new version from YAML source. An empty
// Version gets the next "v<N>" label.
type CreateVersionRequest struct {
	Source      string `json:"source" binding:"required"`
	WorkflowID  string `json:"workflowId"`
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
	Activate    bool   `json:"activate"`
}

// VersionView is the wire form of a stored workflow version.
type VersionView struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflowId"`
	Version     string    `json:"version"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Checksum    string    `json:"checksum"`
	IsActive    bool      `json:"isActive"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Statuses    []string  `json:"statuses,omitempty"`
}

func newVersionView(v *api.WorkflowVersion) VersionView {
	view := VersionView{
		ID:          v.ID,
		WorkflowID:  v.WorkflowID,
		Version:     v.Version,
		Title:       v.Title,
		Description: v.Description,
		Checksum:    v.Checksum,
		IsActive:    v.IsActive,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
	}
	if v.Template != nil {
		view.Statuses = v.Template.KanbanOrder
	}
	return view
}

func (s *Server) GetDeal(c *gin.Context) {
	deal, err := s.deals.GetDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (s *Server) ListTasks(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*api.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) TransitionDeal(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.transitions.TransitionDeal(c.Request.Context(), api.TransitionInput{
		DealID:        c.Param("id"),
		TargetStatus:  strings.ToUpper(strings.TrimSpace(req.TargetStatus)),
		ActorRole:     api.Role(strings.ToUpper(strings.TrimSpace(req.ActorRole))),
		ActorID:       req.ActorID,
		GuardContext:  req.Context,
		ActionPayload: req.Payload,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ResyncDeal(c *gin.Context) {
	out, err := s.transitions.ResyncDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ResyncAll(c *gin.Context) {
	var req ResyncAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	report, err := s.transitions.ResyncAll(c.Request.Context(), s.lister, req.SkipStatuses...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) CompleteTask(c *gin.Context) {
	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	roles := make([]api.Role, 0, len(req.ActorRoles))
	for _, r := range req.ActorRoles {
		roles = append(roles, api.Role(r))
	}

	res, err := s.completer.CompleteTask(c.Request.Context(), api.TaskCompletion{
		TaskID:     c.Param("id"),
		Payload:    req.Payload,
		ActorRoles: roles,
		ActorID:    req.ActorID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) IncomingWebhook(c *gin.Context) {
	var req api.IncomingWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DealID == "" || req.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dealId and event are required"})
		return
	}

	res := s.transitions.HandleIncomingWebhook(c.Request.Context(), req)
	code := http.StatusOK
	switch {
	case res.Success:
	case res.Error == api.WebhookErrDealNotFound:
		code = http.StatusNotFound
	case res.Error == api.WebhookErrLoadDeal, res.Error == api.WebhookErrUpdatePayload:
		code = http.StatusInternalServerError
	default:
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, res)
}

func (s *Server) CreateVersion(c *gin.Context) {
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.versions.CreateVersion(c.Request.Context(), versioning.CreateVersionInput{
		Source:      req.Source,
		WorkflowID:  req.WorkflowID,
		Version:     req.Version,
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Activate:    req.Activate,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newVersionView(v))
}

func (s *Server) ListVersions(c *gin.Context) {
	versions, err := s.versions.ListVersions(c.Request.Context(), c.Param("workflowId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]VersionView, 0, len(versions))
	for _, v := range versions {
		views = append(views, newVersionView(v))
	}
	c.JSON(http.StatusOK, gin.H{"versions": views})
}

func (s *Server) ActiveVersion(c *gin.Context) {
	v, err := s.versions.GetActiveVersion(c.Request.Context(), c.Param("workflowId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVersionView(v))
}

func (s *Server) ActivateVersion(c *gin.Context) {
	v, err := s.versions.ActivateVersion(c.Request.Context(), c.Param("workflowId"), c.Param("versionId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVersionView(v))
}

func (s *Server) RunQueues(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	res, err := s.queues.ProcessAll(c.Request.Context(), limit)
	if err != nil {
		// Partial results are still reported.
		s.logger.ErrorContext(c.Request.Context(), "queue_run_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "results": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": res, "total": res.Total()})
}
