package flow

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chairflow/chairflow/internal/domain/assignment"
	"github.com/chairflow/chairflow/internal/domain/resource"
	"github.com/chairflow/chairflow/internal/platform/auth"
	"github.com/chairflow/chairflow/internal/platform/collab"
	"github.com/chairflow/chairflow/pkg/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/clinics/:clinicId/flows", h.CheckIn,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleAssistant))
	api.GET("/clinics/:clinicId/flows", h.ListActive)
	api.GET("/flows/:id", h.Get)

	api.POST("/flows/:id/call", h.Call,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleAssistant, auth.RoleDentist))
	api.POST("/flows/:id/seat", h.Seat,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleAssistant))
	api.PATCH("/flows/:id/substage", h.UpdateSubStage,
		auth.RequireRole(auth.RoleAssistant, auth.RoleDentist))
	api.POST("/flows/:id/complete", h.CompleteTreatment,
		auth.RequireRole(auth.RoleDentist))
	api.POST("/flows/:id/checkout", h.CheckOut,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleAssistant))
	api.POST("/flows/:id/revert", h.Revert,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleAssistant, auth.RoleDentist))
	api.POST("/flows/:id/cancel", h.Cancel,
		auth.RequireRole(auth.RoleFrontDesk))
}

type checkInRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	var req checkInRequest
	if err := c.Bind(&req); err != nil || req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	st, err := h.svc.CheckIn(c.Request().Context(), clinicID, req.PatientID, req.AppointmentID, actor(c))
	if err != nil {
		return h.flowError(c, uuid.Nil, err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}
	st, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.flowError(c, id, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListActive(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	flows, err := h.svc.ListActive(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, flows)
}

func (h *Handler) Call(c echo.Context) error {
	return h.transition(c, h.svc.Call)
}

type seatRequest struct {
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	StaffID    *uuid.UUID `json:"staff_id,omitempty"`
}

func (h *Handler) Seat(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}
	var req seatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StaffID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "staff_id is required")
	}

	st, err := h.svc.Seat(c.Request().Context(), id, req.ResourceID, req.StaffID, actor(c))
	if err != nil {
		return h.flowError(c, id, err)
	}
	return c.JSON(http.StatusOK, st)
}

type subStageRequest struct {
	SubStage SubStage `json:"sub_stage"`
}

func (h *Handler) UpdateSubStage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}
	var req subStageRequest
	if err := c.Bind(&req); err != nil || req.SubStage == SubStageNone {
		return echo.NewHTTPError(http.StatusBadRequest, "sub_stage is required")
	}

	st, err := h.svc.UpdateSubStage(c.Request().Context(), id, req.SubStage, actor(c))
	if err != nil {
		return h.flowError(c, id, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) CompleteTreatment(c echo.Context) error {
	return h.transition(c, h.svc.CompleteTreatment)
}

func (h *Handler) CheckOut(c echo.Context) error {
	return h.transition(c, h.svc.CheckOut)
}

func (h *Handler) Revert(c echo.Context) error {
	return h.transition(c, h.svc.Revert)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) transition(c echo.Context, op func(ctx context.Context, id uuid.UUID, actor string) (*State, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}
	st, err := op(c.Request().Context(), id, actor(c))
	if err != nil {
		return h.flowError(c, id, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) flowError(c echo.Context, flowID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrFlowNotFound):
		return apierr.JSON(c, http.StatusNotFound, "FLOW_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrDuplicateActiveVisit):
		return apierr.JSON(c, http.StatusConflict, "DUPLICATE_ACTIVE_VISIT", err.Error(), nil)
	case errors.Is(err, ErrStaleVersion):
		current := h.current(c, flowID)
		return apierr.JSON(c, http.StatusConflict, "STALE_VERSION", err.Error(), current)
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidSubStage),
		errors.Is(err, ErrNoPriorStage),
		errors.Is(err, ErrCancelNotAllowed):
		current := h.current(c, flowID)
		return apierr.JSON(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), current)
	case errors.Is(err, ErrResourceNoLongerAvailable),
		errors.Is(err, resource.ErrResourceUnavailable):
		return apierr.JSON(c, http.StatusConflict, "RESOURCE_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, resource.ErrResourceNotFound):
		return apierr.JSON(c, http.StatusNotFound, "RESOURCE_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, assignment.ErrStaffAlreadyAssigned):
		return apierr.JSON(c, http.StatusConflict, "STAFF_ALREADY_ASSIGNED", err.Error(), nil)
	case errors.Is(err, collab.ErrNotFound):
		return apierr.JSON(c, http.StatusNotFound, "COLLABORATOR_NOT_FOUND", err.Error(), nil)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) current(c echo.Context, flowID uuid.UUID) *State {
	if flowID == uuid.Nil {
		return nil
	}
	st, _ := h.svc.Get(c.Request().Context(), flowID)
	return st
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}
