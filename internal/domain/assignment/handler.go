package assignment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	api.POST("/resources/:id/reassign", h.Reassign,
		auth.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk))
	api.GET("/staff/:id/assignments", h.ActiveForStaff)
	api.GET("/clinics/:clinicId/workload", h.Workload)
}

type reassignRequest struct {
	StaffID uuid.UUID `json:"staff_id"`
}

func (h *Handler) Reassign(c echo.Context) error {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}
	var req reassignRequest
	if err := c.Bind(&req); err != nil || req.StaffID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "staff_id is required")
	}

	a, err := h.svc.Reassign(c.Request().Context(), resourceID, req.StaffID,
		auth.UserIDFromContext(c.Request().Context()))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, a)
	case errors.Is(err, ErrAssignmentNotFound):
		return apierr.JSON(c, http.StatusNotFound, "NO_ACTIVE_ASSIGNMENT",
			"no active assignment on this resource", nil)
	case errors.Is(err, ErrStaffAlreadyAssigned):
		return apierr.JSON(c, http.StatusConflict, "STAFF_ALREADY_ASSIGNED", err.Error(), nil)
	case errors.Is(err, collab.ErrNotFound):
		return apierr.JSON(c, http.StatusNotFound, "STAFF_NOT_FOUND", err.Error(), nil)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ActiveForStaff(c echo.Context) error {
	staffID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid staff id")
	}
	assignments, err := h.svc.ActiveForStaff(c.Request().Context(), staffID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, assignments)
}

func (h *Handler) Workload(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	workload, err := h.svc.WorkloadRecommendation(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, workload)
}
