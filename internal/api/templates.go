package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"maintdesk/backend/pkg/models"
)

// ListTemplates returns an organization's templates for a module
// (GET /api/v1/workflow-templates?module=work_orders)
func (s *Server) ListTemplates(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}
	module, err := parseModule(c, c.QueryParam("module"))
	if err != nil {
		return err
	}

	templates, err := s.Engine.ListTemplates(ctx, org, module)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, templates)
}

// CreateTemplate creates a new workflow template with its steps
// (POST /api/v1/workflow-templates)
func (s *Server) CreateTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}

	var template models.WorkflowTemplate
	if err := c.Bind(&template); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	template.OrganizationID = org

	created, err := s.Engine.CreateTemplate(ctx, &template)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// GetTemplate returns one template with its steps
// (GET /api/v1/workflow-templates/:id)
func (s *Server) GetTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	template, err := s.Engine.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, template)
}

// DeleteTemplate removes a template not referenced by any workflow state
// (DELETE /api/v1/workflow-templates/:id)
func (s *Server) DeleteTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	if err := s.Engine.DeleteTemplate(ctx, c.Param("id")); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetDefaultTemplate makes a template the single default for its
// organization and module
// (POST /api/v1/workflow-templates/:id/default)
func (s *Server) SetDefaultTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}
	template, err := s.Engine.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	if template.OrganizationID != org {
		return problem(c, http.StatusNotFound, "Template not found", "template does not belong to organization")
	}

	if err := s.Engine.SetDefault(ctx, org, template.Module, template.ID); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type newVersionRequest struct {
	Steps []*models.WorkflowStep `json:"steps"`
}

// NewTemplateVersion creates the successor version of a template
// (POST /api/v1/workflow-templates/:id/versions)
func (s *Server) NewTemplateVersion(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}
	base, err := s.Engine.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	if base.OrganizationID != org {
		return problem(c, http.StatusNotFound, "Template not found", "template does not belong to organization")
	}

	var req newVersionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	next, err := s.Engine.NewTemplateVersion(ctx, base.ID, req.Steps)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, next)
}
