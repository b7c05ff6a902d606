package routes

import (
	"io"
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/normalize"

	"github.com/labstack/echo/v4"
)

// IngestEventsHandler runs a JSON array of canonical events through the
// pipeline synchronously and returns the batch stats. Malformed records
// are reported in the stats and never block the valid ones; connectors
// that cannot wait use the webhook route instead.
func IngestEventsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	events, normErrs := normalize.NormalizeBatch(body)
	if len(events) == 0 && len(normErrs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no events in request"})
	}

	stats, err := app.Orchestrator.Ingest(c.Request().Context(), events)
	for _, normErr := range normErrs {
		stats.Errors = append(stats.Errors, common.IngestError{
			Stage:   "normalize",
			Message: normErr.Error(),
		})
	}
	stats.EventsIn = len(events) + len(normErrs)

	if err != nil {
		// Store-level failure: the caller should retry the batch.
		return c.JSON(http.StatusInternalServerError, stats)
	}
	return c.JSON(http.StatusOK, stats)
}
