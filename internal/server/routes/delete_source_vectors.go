package routes

import (
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

// DeleteSourceVectorsHandler drops every vector record of one source so
// a connector resync can re-embed from scratch. The graph side is left
// untouched; re-ingesting converges through the natural-key merges.
// Admin only.
func DeleteSourceVectorsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	source := c.Param("source")
	if _, ok := common.ParseSource(source); !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown source " + source})
	}

	deleted, err := app.Vectors.DeleteBySource(c.Request().Context(), source)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"source":  source,
		"deleted": deleted,
	})
}
