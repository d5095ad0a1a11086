package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/intake"
	"github.com/rs/zerolog"
)

type Handlers struct {
	intake *intake.Service
	logger zerolog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(intakeService *intake.Service, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		intake: intakeService,
		logger: logger.With().Str("layer", "http_handler").Logger(),
	}
}

// RegisterRoutes sets up the routing for the notification API.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/notifications", h.CreateNotification)
		api.GET("/notifications/:id", h.GetNotificationByID)
		api.POST("/notifications/:id/retry", h.RetryNotification)
	}
}

// CreateNotification handles the HTTP request for creating a new,
// potentially multi-channel notification.
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req CreateNotificationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.intake.Submit(c.Request.Context(), intake.SubmitRequest{
		ClientID:    req.ClientID,
		Channels:    req.Channels,
		Recipient:   req.Recipient,
		Content:     req.Content,
		Variables:   req.Variables,
		WebhookURL:  req.WebhookURL,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateRecord) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to submit notification intake")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create notification"})
		return
	}

	c.JSON(http.StatusCreated, toSubmitResponse(result))
}

// GetNotificationByID handles the HTTP request to retrieve a notification.
func (h *Handlers) GetNotificationByID(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid notification ID format"})
		return
	}

	notification, err := h.intake.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Stringer("id", id).Msg("failed to get notification by id")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to retrieve notification"})
		return
	}

	c.JSON(http.StatusOK, toNotificationResponse(notification))
}

// RetryNotification handles the operator-driven retry path: a failed
// notification is reset to pending with retry_count back to 0, the one
// exception to status monotonicity (spec.md §4.1 invariants).
func (h *Handlers) RetryNotification(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid notification ID format"})
		return
	}

	if err := h.intake.Retry(c.Request.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Stringer("id", id).Msg("failed to retry notification")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to retry notification"})
		return
	}

	c.Status(http.StatusNoContent)
}

// toNotificationResponse maps the domain model to the DTO.
func toNotificationResponse(n *model.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.NotificationID,
		RequestID:   n.RequestID,
		Channel:     n.Channel,
		Status:      string(n.Status),
		ScheduledAt: n.ScheduledAt,
		RetryCount:  n.RetryCount,
		CreatedAt:   n.CreatedAt,
	}
}

// toSubmitResponse maps every fanned-out Notification from a Submit call
// into the multi-channel intake response.
func toSubmitResponse(result *intake.SubmitResult) SubmitResponse {
	notifications := make([]NotificationResponse, 0, len(result.Notifications))
	for _, n := range result.Notifications {
		notifications = append(notifications, toNotificationResponse(n))
	}
	return SubmitResponse{Notifications: notifications}
}
