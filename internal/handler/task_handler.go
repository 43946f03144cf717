package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/internal/service"
)

// TaskService is the task use-case surface the HTTP layer needs.
type TaskService interface {
	Create(ctx context.Context, ownerID string, in service.CreateTaskInput) (*model.Task, error)
	Get(ctx context.Context, ownerID, id string) (*model.Task, error)
	List(ctx context.Context, ownerID string) ([]*model.Task, error)
	Update(ctx context.Context, ownerID, id string, in service.UpdateTaskInput) (*model.Task, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// DeliveryHistory lists the reminder attempts recorded for a task.
type DeliveryHistory interface {
	ListByTask(ctx context.Context, taskID string) ([]model.NotificationLog, error)
}

type TaskHandler struct {
	svc     TaskService
	history DeliveryHistory
	logger  *zap.Logger
}

func NewTaskHandler(svc TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

func (h *TaskHandler) WithHistory(history DeliveryHistory) *TaskHandler {
	h.history = history
	return h
}

// Notifications handles GET /tasks/:id/notifications
func (h *TaskHandler) Notifications(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delivery history unavailable"})
		return
	}
	ctx := c.Request.Context()
	// 先按 owner 取任务，避免读到别人的投递记录
	task, err := h.svc.Get(ctx, owner, c.Param("id"))
	if err != nil {
		h.respondError(c, "notifications", err)
		return
	}
	entries, err := h.history.ListByTask(ctx, task.ID)
	if err != nil {
		h.respondError(c, "notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": entries})
}

func (h *TaskHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	default:
		h.logger.Error("Task request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// List handles GET /tasks
func (h *TaskHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	tasks, err := h.svc.List(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Get handles GET /tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	task, err := h.svc.Get(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		h.respondError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Create handles POST /tasks
func (h *TaskHandler) Create(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req service.CreateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	task, err := h.svc.Create(c.Request.Context(), owner, req)
	if err != nil {
		h.respondError(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// Update handles PUT /tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req service.UpdateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	task, err := h.svc.Update(c.Request.Context(), owner, c.Param("id"), req)
	if err != nil {
		h.respondError(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Delete handles DELETE /tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), owner, c.Param("id")); err != nil {
		h.respondError(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}
