package routes

import (
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/internal/storage"
	"github.com/contextiq/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

// ListArchivedEventsHandler lists the archive keys for one source.
// Admin only; archived payloads are unredacted.
func ListArchivedEventsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.S3 == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "archive storage is not configured"})
	}

	source, ok := common.ParseSource(c.Param("source"))
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown source " + c.Param("source")})
	}

	keys, err := storage.ListArchivedEvents(c.Request().Context(), app.S3, source)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"source": source,
		"count":  len(keys),
		"keys":   keys,
	})
}

// GetArchivedEventHandler returns one archived raw payload. Admin only.
func GetArchivedEventHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.S3 == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "archive storage is not configured"})
	}

	source, ok := common.ParseSource(c.Param("source"))
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown source " + c.Param("source")})
	}

	payload, err := storage.GetArchivedEvent(c.Request().Context(), app.S3, source, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	return c.JSONBlob(http.StatusOK, payload)
}
