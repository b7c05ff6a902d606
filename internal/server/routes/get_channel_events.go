package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/contextiq/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func GetChannelEventsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	channel := c.Param("channel")
	if channel == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel is required"})
	}

	minutes := 60
	if raw := c.QueryParam("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "minutes must be a positive integer"})
		}
		minutes = parsed
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}

	events, err := app.Graph.ChannelEvents(c.Request().Context(), channel, time.Duration(minutes)*time.Minute, limit)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"channel": channel,
		"count":   len(events),
		"events":  events,
	})
}
