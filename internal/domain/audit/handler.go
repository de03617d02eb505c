package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chairflow/chairflow/internal/platform/auth"
	"github.com/chairflow/chairflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Compliance review is an admin surface.
	g := api.Group("", auth.RequireRole(auth.RoleAdmin))
	g.GET("/clinics/:clinicId/audit", h.QueryEntries)
}

func (h *Handler) QueryEntries(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinicId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}

	filter := Filter{ClinicID: clinicID}
	if st := c.QueryParam("subject_type"); st != "" {
		filter.SubjectType = SubjectType(st)
	}
	if sid := c.QueryParam("subject_id"); sid != "" {
		id, err := uuid.Parse(sid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid subject_id")
		}
		filter.SubjectID = &id
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since timestamp")
		}
		filter.Since = &t
	}

	pg := pagination.FromContext(c)
	entries, total, err := h.svc.Query(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
