package routes

import (
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// GraphQueryHandler is the narrow passthrough for ad-hoc analytics.
// Admin only; the query must be parametrized.
func GraphQueryHandler(c echo.Context) error {
	type queryRequest struct {
		Query  string `json:"query" validate:"required"`
		Params []any  `json:"params"`
	}

	app := c.(*middleware.AppContext).App

	req := new(queryRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	records, err := app.Graph.RunQuery(c.Request().Context(), req.Query, req.Params)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}
