package routes

import (
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func GetSentimentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	stats, err := app.Graph.SentimentStats(c.Request().Context())
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, stats)
}
