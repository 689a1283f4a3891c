package api

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"unity-api/stream"
)

// streamTask serves live task updates over SSE. Clients subscribe to a
// single task (?taskId=) or a whole project (?projectId=) and receive the
// full aggregate snapshot on every committed change. EventSource cannot set
// headers, so a token query parameter doubles as the Authorization header.
func streamTask(tasks Tasks, auth Authenticator, subs Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		taskID := strings.TrimSpace(c.QueryParam("taskId"))
		projectID := strings.TrimSpace(c.QueryParam("projectId"))
		var key string
		switch {
		case taskID != "" && projectID == "":
			key = stream.TaskChannel(taskID)
		case projectID != "" && taskID == "":
			key = stream.ProjectChannel(projectID)
		default:
			return c.String(http.StatusBadRequest, "exactly one of taskId or projectId is required")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := subs.Subscribe(key)
		defer subs.Unsubscribe(key, ch)

		// Initial snapshot so clients do not render from a stale fetch
		// racing the subscription. Snapshots use the same version-tagged
		// envelope as live events, one frame per task, so consumers apply
		// a single staleness rule to everything on the stream.
		var snapshot []stream.Event
		if taskID != "" {
			t, err := tasks.Get(ctx, taskID)
			if err != nil {
				return writeDomainError(c, err)
			}
			snapshot = []stream.Event{{TaskID: t.ID, ProjectID: t.ProjectID, Version: t.Version, Task: t}}
		} else {
			list, err := tasks.ListProject(ctx, projectID)
			if err != nil {
				return writeDomainError(c, err)
			}
			for _, t := range list {
				snapshot = append(snapshot, stream.Event{TaskID: t.ID, ProjectID: t.ProjectID, Version: t.Version, Task: t})
			}
		}
		for _, ev := range snapshot {
			data, err := sonic.Marshal(ev)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if err := writeSSE(c, data); err != nil {
				c.Logger().Error(err)
				return err
			}
		}
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case payload, open := <-ch:
				if !open {
					return nil
				}
				if err := writeSSE(c, payload); err != nil {
					c.Logger().Error(err)
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(c echo.Context, data []byte) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	_, err := c.Response().Write([]byte("\n\n"))
	return err
}
