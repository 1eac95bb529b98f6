// Package api contains the HTTP handlers for the workflow service
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"maintdesk/backend/internal/services"
	"maintdesk/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine *services.WorkflowService
	Logger services.Logger
}

// NewServer creates a new Server.
func NewServer(engine *services.WorkflowService, logger services.Logger) *Server {
	return &Server{Engine: engine, Logger: logger}
}

// RegisterRoutes mounts the workflow API onto an echo group.
func RegisterRoutes(g *echo.Group, s *Server) {
	g.GET("/workflow-templates", s.ListTemplates)
	g.POST("/workflow-templates", s.CreateTemplate)
	g.GET("/workflow-templates/:id", s.GetTemplate)
	g.DELETE("/workflow-templates/:id", s.DeleteTemplate)
	g.POST("/workflow-templates/:id/default", s.SetDefaultTemplate)
	g.POST("/workflow-templates/:id/versions", s.NewTemplateVersion)

	g.POST("/workflows/:entityType/:entityID/initialize", s.InitializeWorkflow)
	g.POST("/workflows/:entityType/:entityID/transitions", s.Transition)
	g.GET("/workflows/:entityType/:entityID", s.GetWorkflowState)
	g.GET("/workflows/:entityType/:entityID/approvals", s.ListApprovals)

	g.GET("/workflow-modules/:module/overdue", s.ListOverdue)
	g.POST("/workflow-modules/:module/backfill", s.Backfill)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "maintdesk-workflow",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response
func problem(c echo.Context, status int, title, detail string) error {
	p := ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	b, err := json.Marshal(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.Blob(status, "application/problem+json", b)
}

// mapError translates domain error kinds into problem responses.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNoWorkflow):
		return problem(c, http.StatusNotFound, "No workflow", err.Error())
	case errors.Is(err, models.ErrStepNotFound):
		return problem(c, http.StatusNotFound, "Step not found", err.Error())
	case errors.Is(err, models.ErrNoDefaultTemplate):
		return problem(c, http.StatusConflict, "No default template", err.Error())
	case errors.Is(err, models.ErrTemplateInUse):
		return problem(c, http.StatusConflict, "Template in use", err.Error())
	case errors.Is(err, models.ErrUnauthorizedRole):
		return problem(c, http.StatusForbidden, "Unauthorized role", err.Error())
	case errors.Is(err, models.ErrInvalidStepOrder), errors.Is(err, models.ErrInvalidAction):
		return problem(c, http.StatusUnprocessableEntity, "Invalid request", err.Error())
	}
	s.Logger.Error("request failed", "path", c.Path(), "error", err)
	return problem(c, http.StatusInternalServerError, "Internal error", err.Error())
}

// errResponded marks that a problem response has already been written; the
// handler just propagates it and echo's error handler sees a committed
// response and leaves it alone.
var errResponded = errors.New("api: response already written")

// orgID reads the organization the fronting gateway authenticated. The
// service itself performs no authentication.
func orgID(c echo.Context) (string, error) {
	id := c.Request().Header.Get("X-Org-ID")
	if id == "" {
		_ = problem(c, http.StatusBadRequest, "Missing organization", "X-Org-ID header is required")
		return "", errResponded
	}
	return id, nil
}

func userID(c echo.Context) (string, error) {
	id := c.Request().Header.Get("X-User-ID")
	if id == "" {
		_ = problem(c, http.StatusBadRequest, "Missing user", "X-User-ID header is required")
		return "", errResponded
	}
	return id, nil
}

func parseEntityType(c echo.Context) (models.EntityType, error) {
	t := models.EntityType(c.Param("entityType"))
	if !t.Valid() {
		_ = problem(c, http.StatusBadRequest, "Unknown entity type", "entity type must be work_order or safety_incident")
		return "", errResponded
	}
	return t, nil
}

func parseModule(c echo.Context, raw string) (models.Module, error) {
	m := models.Module(raw)
	if !m.Valid() {
		_ = problem(c, http.StatusBadRequest, "Unknown module", "module must be work_orders or safety_incidents")
		return "", errResponded
	}
	return m, nil
}
