package routes

import (
	"net/http"
	"strconv"

	"github.com/contextiq/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// Team-dynamics reports built on the parametrized query passthrough.

const silosQuery = `
SELECT e.channel_id AS channel,
       COUNT(DISTINCT e.user_id) AS speakers,
       COUNT(*) AS events
FROM events e
GROUP BY e.channel_id
HAVING COUNT(DISTINCT e.user_id) <= $1
ORDER BY events DESC`

const influencersQuery = `
SELECT al.to_user_id AS user_id,
       COALESCE(u.name, al.to_user_id) AS user_name,
       SUM(al.count) AS agreements_received
FROM agreement_links al
LEFT JOIN users u ON u.user_id = al.to_user_id
GROUP BY al.to_user_id, u.name
ORDER BY agreements_received DESC
LIMIT $1`

const interactionsQuery = `
SELECT from_user_id, to_user_id, count, last_agreed
FROM agreement_links
ORDER BY count DESC
LIMIT $1`

func intQueryParam(c echo.Context, name string, fallback int) (int, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func runReport(c echo.Context, query string, params []any) error {
	app := c.(*middleware.AppContext).App

	records, err := app.Graph.RunQuery(c.Request().Context(), query, params)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// GetKnowledgeSilosHandler lists busy channels carried by very few
// speakers. max_speakers tunes the cutoff (default 2).
func GetKnowledgeSilosHandler(c echo.Context) error {
	maxSpeakers, ok := intQueryParam(c, "max_speakers", 2)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_speakers must be a positive integer"})
	}
	return runReport(c, silosQuery, []any{maxSpeakers})
}

// GetInfluencersHandler ranks users by agreements received.
func GetInfluencersHandler(c echo.Context) error {
	limit, ok := intQueryParam(c, "limit", 10)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
	}
	return runReport(c, influencersQuery, []any{limit})
}

// GetInteractionsHandler lists the strongest agreement edges between
// user pairs.
func GetInteractionsHandler(c echo.Context) error {
	limit, ok := intQueryParam(c, "limit", 25)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
	}
	return runReport(c, interactionsQuery, []any{limit})
}
