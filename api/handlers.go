package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"

	"unity-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, tasks Tasks, auth Authenticator, subs Subscriptions, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(tasks, auth))
	e.POST("/api/tasks", createTask(tasks, auth, deduper))
	e.GET("/api/tasks/:id", getTask(tasks, auth))
	e.PATCH("/api/tasks/:id", patchTask(tasks, auth, logger))
	e.PUT("/api/tasks/:id/status", setStatus(tasks, auth, logger))
	e.PUT("/api/tasks/:id/assignees", setAssignees(tasks, auth, logger))
	e.POST("/api/tasks/:id/subtasks", createSubtask(tasks, auth))
	e.PUT("/api/tasks/subtasks/:id", updateSubtask(tasks, auth, logger))
	e.DELETE("/api/tasks/subtasks/:id", deleteSubtask(tasks, auth))
	e.GET("/api/stream", streamTask(tasks, auth, subs))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// writeDomainError maps service errors onto HTTP statuses. Unknown errors
// surface as 500 after being logged.
func writeDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		return c.String(http.StatusConflict, "task was modified concurrently; re-fetch and retry")
	case domain.IsValidation(err):
		return c.String(http.StatusBadRequest, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, mutationBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func listTasks(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		projectID := strings.TrimSpace(c.QueryParam("projectId"))
		if projectID == "" {
			return c.String(http.StatusBadRequest, "projectId query parameter is required")
		}
		list, err := tasks.ListProject(ctx, projectID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func getTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		t, err := tasks.Get(ctx, c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func createTask(tasks Tasks, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
		if key != "" && deduper != nil {
			fresh, dedupErr := deduper.Add(ctx, userID, key)
			if dedupErr != nil {
				c.Logger().Error(dedupErr)
				return c.String(http.StatusInternalServerError, "idempotency check failed")
			}
			if !fresh {
				return c.NoContent(http.StatusConflict)
			}
		}

		t, err := tasks.Create(ctx, domain.NewTask{
			Title:     req.Title,
			ProjectID: req.ProjectID,
			Status:    req.Status,
			DueDate:   req.DueDate,
			Assignees: req.Assignees,
		})
		if err != nil {
			if key != "" && deduper != nil {
				if rmErr := deduper.Remove(ctx, userID, key); rmErr != nil {
					c.Logger().Errorf("release idempotency key: %v", rmErr)
				}
			}
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func patchTask(tasks Tasks, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		decodeStart := time.Now()
		var req patchTaskRequest
		decodeErr := decodeBody(c, &req)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}

		applyStart := time.Now()
		t, applyErr := tasks.PatchFields(ctx, c.Param("id"), req.patch())
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeDomainError(c, applyErr)
			return err
		}
		metrics.SetVersion(t.Version)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, t)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func setStatus(tasks Tasks, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/:id/status")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req setStatusRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		status, parseErr := domain.ParseStatus(req.Status)
		if parseErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, parseErr.Error())
			return err
		}

		applyStart := time.Now()
		t, applyErr := tasks.SetStatus(ctx, c.Param("id"), status)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeDomainError(c, applyErr)
			return err
		}
		metrics.SetVersion(t.Version)

		err = c.JSON(http.StatusOK, t)
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func setAssignees(tasks Tasks, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/:id/assignees")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req setAssigneesRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if req.AssigneeIDs == nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "assigneeIds is required; send an empty array to unassign")
			return err
		}

		applyStart := time.Now()
		t, applyErr := tasks.SetAssignees(ctx, c.Param("id"), req.AssigneeIDs)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeDomainError(c, applyErr)
			return err
		}
		metrics.SetVersion(t.Version)

		err = c.JSON(http.StatusOK, t)
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createSubtask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createSubtaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		st, t, err := tasks.CreateSubtask(ctx, c.Param("id"), req.Title, req.IsCompleted)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, subtaskResponse{Subtask: st, Task: t})
	}
}

func updateSubtask(tasks Tasks, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/subtasks/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		decodeStart := time.Now()
		var req updateSubtaskRequest
		decodeErr := decodeBody(c, &req)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}

		applyStart := time.Now()
		st, t, applyErr := tasks.UpdateSubtask(ctx, c.Param("id"), req.patch())
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeDomainError(c, applyErr)
			return err
		}
		metrics.SetVersion(t.Version)

		err = c.JSON(http.StatusOK, subtaskResponse{Subtask: st, Task: t})
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func deleteSubtask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		t, err := tasks.DeleteSubtask(ctx, c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}
