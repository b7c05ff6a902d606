package routes

import (
	"net/http"
	"slices"
	"time"

	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/pkg/notify"

	"github.com/labstack/echo/v4"
)

var validTaskStatuses = []string{"open", "in_progress", "done", "cancelled"}

func GetTasksHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	assignee := c.QueryParam("assignee")
	tasks, err := app.Graph.OpenTasks(c.Request().Context(), assignee)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count": len(tasks),
		"tasks": tasks,
	})
}

func UpdateTaskStatusHandler(c echo.Context) error {
	type updateRequest struct {
		Status string `json:"status" validate:"required"`
	}

	app := c.(*middleware.AppContext).App
	taskID := c.Param("id")

	req := new(updateRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if !slices.Contains(validTaskStatuses, req.Status) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown task status: " + req.Status})
	}

	task, err := app.Graph.UpdateTaskStatus(c.Request().Context(), taskID, req.Status)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	// Fire-and-forget status notification over the notify queue.
	if app.Queue != nil {
		notifier, nErr := notify.NewAMQPNotifier(notify.AMQPParams{Channel: app.Queue})
		if nErr == nil {
			_ = notifier.Publish(c.Request().Context(), notify.Notification{
				Type:       notify.TypeTaskUpdate,
				TaskID:     task.ID,
				TaskText:   task.Text,
				TaskStatus: task.Status,
				AssigneeID: task.Assignee,
				Timestamp:  time.Now(),
			})
		}
	}

	return c.JSON(http.StatusOK, task)
}
