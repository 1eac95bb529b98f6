package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"maintdesk/backend/internal/services"
	"maintdesk/backend/pkg/models"
)

// InitializeWorkflow attaches the module's default template to an entity
// (POST /api/v1/workflows/:entityType/:entityID/initialize)
func (s *Server) InitializeWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}
	entityType, err := parseEntityType(c)
	if err != nil {
		return err
	}

	state, err := s.Engine.Initialize(ctx, c.Param("entityID"), entityType, org)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

type transitionRequest struct {
	StepID           string  `json:"step_id"`
	Action           string  `json:"action"`
	Comments         *string `json:"comments,omitempty"`
	ReassignToUserID *string `json:"reassign_to_user_id,omitempty"`
}

type transitionResponse struct {
	State *models.WorkflowState `json:"state"`
}

// Transition records one approval action against the entity's current step
// (POST /api/v1/workflows/:entityType/:entityID/transitions)
func (s *Server) Transition(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := userID(c)
	if err != nil {
		return err
	}
	if _, err := parseEntityType(c); err != nil {
		return err
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	state, err := s.Engine.Transition(ctx, services.TransitionRequest{
		EntityID:         c.Param("entityID"),
		ActOnStepID:      req.StepID,
		ActingUserID:     user,
		Action:           models.ApprovalAction(req.Action),
		Comments:         req.Comments,
		ReassignToUserID: req.ReassignToUserID,
	})
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, transitionResponse{State: state})
}

// GetWorkflowState returns the workflow state of an entity
// (GET /api/v1/workflows/:entityType/:entityID)
func (s *Server) GetWorkflowState(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := parseEntityType(c); err != nil {
		return err
	}
	state, err := s.Engine.GetState(ctx, c.Param("entityID"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// ListApprovals returns the full approval ledger of an entity
// (GET /api/v1/workflows/:entityType/:entityID/approvals)
func (s *Server) ListApprovals(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := parseEntityType(c); err != nil {
		return err
	}
	records, err := s.Engine.ListApprovals(ctx, c.Param("entityID"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// ListOverdue returns the module's workflow states past their SLA deadline
// (GET /api/v1/workflow-modules/:module/overdue)
func (s *Server) ListOverdue(c echo.Context) error {
	ctx := c.Request().Context()

	module, err := parseModule(c, c.Param("module"))
	if err != nil {
		return err
	}
	states, err := s.Engine.ListOverdue(ctx, module)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, states)
}

// Backfill initializes workflow states for every entity of the module that
// lacks one
// (POST /api/v1/workflow-modules/:module/backfill)
func (s *Server) Backfill(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := orgID(c)
	if err != nil {
		return err
	}
	module, err := parseModule(c, c.Param("module"))
	if err != nil {
		return err
	}

	result, err := s.Engine.InitializeMissing(ctx, org, module)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
