package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/pkg/api"
)

type guardView struct {
	Key  string `json:"key"`
	Rule string `json:"rule"`
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var te *api.TransitionError
	switch {
	case errors.As(err, &te):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrDealNotFound),
		errors.Is(err, api.ErrTaskNotFound),
		errors.Is(err, api.ErrVersionNotFound),
		errors.Is(err, api.ErrNoActiveVersion):
		return http.StatusNotFound
	case errors.Is(err, api.ErrVersionExists),
		errors.Is(err, api.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, api.ErrTemplateInvalid),
		errors.Is(err, api.ErrWorkflowMismatch),
		errors.Is(err, api.ErrUnknownStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := statusOf(err)
	body := gin.H{"error": err.Error()}

	var te *api.TransitionError
	if errors.As(err, &te) {
		body["reason"] = te.Validation.Reason
		if len(te.Validation.FailedGuards) > 0 {
			guards := make([]guardView, 0, len(te.Validation.FailedGuards))
			for _, g := range te.Validation.FailedGuards {
				guards = append(guards, guardView{Key: g.Key, Rule: g.Rule})
			}
			body["failedGuards"] = guards
		}
	}
	var pe *template.ParseError
	if errors.As(err, &pe) && len(pe.Issues) > 0 {
		issues := make([]string, 0, len(pe.Issues))
		for _, issue := range pe.Issues {
			issues = append(issues, issue.String())
		}
		body["issues"] = issues
	}

	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "http_request_failed",
			"path", c.FullPath(), "error", err)
	}
	c.JSON(code, body)
}
