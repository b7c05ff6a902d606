package routes

import (
	"net/http"

	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/pkg/retrieval"

	"github.com/labstack/echo/v4"
)

func SearchHandler(c echo.Context) error {
	type searchRequest struct {
		Query               string            `json:"query" validate:"required"`
		TopK                int               `json:"top_k"`
		Filters             map[string]string `json:"filters"`
		IncludeGraphContext bool              `json:"include_graph_context"`
	}

	app := c.(*middleware.AppContext).App
	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	req := new(searchRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	items, err := app.Engine.Search(c.Request().Context(), retrieval.SearchParams{
		Query:               req.Query,
		TopK:                req.TopK,
		Filters:             req.Filters,
		IncludeGraphContext: req.IncludeGraphContext,
		Role:                user.Role,
	})
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": items,
	})
}
