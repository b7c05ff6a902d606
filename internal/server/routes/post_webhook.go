package routes

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/contextiq/backend/internal/queue"
	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

// WebhookHandler accepts a connector delivery for one source, enqueues
// it for the background worker and returns immediately. Validation past
// basic JSON shape happens in the worker so a slow or partially bad
// batch never blocks the sender.
func WebhookHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	source := c.Param("source")
	if _, ok := common.ParseSource(source); !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown source " + source})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of events"})
	}
	if len(raw) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no events in request"})
	}

	if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, body); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"status":    "queued",
		"source":    source,
		"events_in": len(raw),
	})
}
