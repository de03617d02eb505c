package floorplan

import (
	"errors"
	"net/http"

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
	api.GET("/clinics/:clinicId/floorplan", h.Get)
	api.POST("/clinics/:clinicId/floorplan/edits", h.Edit,
		auth.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk))
}

func (h *Handler) Get(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	layout, err := h.svc.Get(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, layout)
}

type editRequest struct {
	Action          string     `json:"action"` // apply | undo | redo
	Operation       *Operation `json:"operation,omitempty"`
	ExpectedVersion int64      `json:"expected_version"`
}

func (h *Handler) Edit(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.UserIDFromContext(c.Request().Context())

	var layout *Layout
	switch req.Action {
	case "", "apply":
		if req.Operation == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "operation is required")
		}
		layout, err = h.svc.ApplyEdit(c.Request().Context(), clinicID, *req.Operation, req.ExpectedVersion, actor)
	case "undo":
		layout, err = h.svc.Undo(c.Request().Context(), clinicID, actor)
	case "redo":
		layout, err = h.svc.Redo(c.Request().Context(), clinicID, actor)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be apply, undo or redo")
	}
	if err != nil {
		return h.editError(c, clinicID, err)
	}
	return c.JSON(http.StatusOK, layout)
}

func (h *Handler) editError(c echo.Context, clinicID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrLayoutConflict):
		// Losing editors get the authoritative layout to rebase onto.
		current, _ := h.svc.Get(c.Request().Context(), clinicID)
		return apierr.JSON(c, http.StatusConflict, "LAYOUT_CONFLICT", err.Error(), current)
	case errors.Is(err, ErrCollisionDetected):
		return apierr.JSON(c, http.StatusConflict, "COLLISION_DETECTED", err.Error(), nil)
	case errors.Is(err, ErrPlacementNotFound),
		errors.Is(err, ErrDuplicatePlacement),
		errors.Is(err, ErrInvalidOperation):
		return apierr.JSON(c, http.StatusUnprocessableEntity, "INVALID_OPERATION", err.Error(), nil)
	case errors.Is(err, ErrNothingToUndo), errors.Is(err, ErrNothingToRedo):
		return apierr.JSON(c, http.StatusConflict, "EMPTY_HISTORY", err.Error(), nil)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
