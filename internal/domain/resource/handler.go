package resource

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chairflow/chairflow/internal/platform/auth"
	"github.com/chairflow/chairflow/pkg/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/clinics/:clinicId/resources", h.List)
	api.POST("/clinics/:clinicId/resources", h.Register, auth.RequireRole(auth.RoleAdmin))
	api.GET("/clinics/:clinicId/resource-statuses", h.Statuses)

	api.POST("/resources/:id/block", h.Block, auth.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk))
	api.POST("/resources/:id/unblock", h.Unblock, auth.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk))
	api.POST("/resources/:id/finish-cleaning", h.FinishCleaning, auth.RequireRole(auth.RoleAssistant, auth.RoleFrontDesk))
}

type registerRequest struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) Register(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.RegisterResource(c.Request().Context(), &Resource{
		ClinicID:     clinicID,
		Name:         req.Name,
		Kind:         req.Kind,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	resources, err := h.svc.ListResources(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resources)
}

func (h *Handler) Statuses(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	statuses, err := h.svc.Statuses(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statuses)
}

type blockRequest struct {
	Reason string     `json:"reason"`
	Until  *time.Time `json:"until,omitempty"`
	Force  bool       `json:"force"`
}

func (h *Handler) Block(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	occ, err := h.svc.Block(c.Request().Context(), id, req.Reason, req.Until, req.Force,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return h.occupancyError(c, id, err)
	}
	return c.JSON(http.StatusOK, occ)
}

func (h *Handler) Unblock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}
	occ, err := h.svc.Unblock(c.Request().Context(), id,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return h.occupancyError(c, id, err)
	}
	return c.JSON(http.StatusOK, occ)
}

func (h *Handler) FinishCleaning(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}
	occ, err := h.svc.FinishCleaning(c.Request().Context(), id,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return h.occupancyError(c, id, err)
	}
	return c.JSON(http.StatusOK, occ)
}

// occupancyError maps coordinator errors to HTTP responses. Conflicts ship
// the current occupancy so the caller can refresh.
func (h *Handler) occupancyError(c echo.Context, resourceID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return apierr.JSON(c, http.StatusNotFound, "RESOURCE_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrResourceOccupied),
		errors.Is(err, ErrResourceUnavailable),
		errors.Is(err, ErrInvalidStatusChange),
		errors.Is(err, ErrNotBlocked):
		current, _ := h.svc.GetOccupancy(c.Request().Context(), resourceID)
		return apierr.JSON(c, http.StatusConflict, "OCCUPANCY_CONFLICT", err.Error(), current)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
