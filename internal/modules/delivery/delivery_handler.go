package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ecodeli-delivery/internal/auth"
	"ecodeli-delivery/internal/events"
	"ecodeli-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EventPublisher hands delivery events to the notification collaborator.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.DeliveryEvent) error
}

// Handler handles HTTP requests for deliveries.
type Handler struct {
	svc       ServiceInterface
	publisher EventPublisher
	validate  *validator.Validate
	log       *zap.Logger
}

// NewHandler creates a new delivery handler. publisher may be nil, in which
// case no events are emitted.
func NewHandler(svc ServiceInterface, publisher EventPublisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:       svc,
		publisher: publisher,
		validate:  validator.New(),
		log:       log,
	}
}

// RegisterRoutes mounts the delivery routes on an authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	deliverer := api.Group("/deliverer/deliveries", auth.RequireRole(models.RoleDeliverer))
	deliverer.GET("", h.ListMyDeliveries)
	deliverer.POST("/validate", h.ValidateDelivery)
	deliverer.PATCH("/:deliveryId/status", h.UpdateStatus)
	deliverer.POST("/:deliveryId/coordinates", h.RecordCoordinates)

	client := api.Group("/client/deliveries", auth.RequireRole(models.RoleClient))
	client.GET("/:deliveryId/validation-code", h.GetValidationCode)

	admin := api.Group("/admin/deliveries", auth.RequireRole(models.RoleAdmin))
	admin.GET("/stats", h.GetStats)

	shared := api.Group("/deliveries", auth.RequireRole(models.RoleDeliverer, models.RoleClient, models.RoleAdmin))
	shared.GET("/:deliveryId", h.GetDelivery)
	shared.GET("/:deliveryId/validation-code/valid", h.CheckValidationCode)
	shared.GET("/:deliveryId/coordinates", h.ListCoordinates)

	parties := api.Group("/deliveries", auth.RequireRole(models.RoleDeliverer, models.RoleClient))
	parties.POST("/:deliveryId/rating", h.RateDelivery)
}

func failureStatus(kind models.FailureKind) int {
	switch kind {
	case models.FailureNotFound:
		return http.StatusNotFound
	case models.FailureUnauthorized:
		return http.StatusForbidden
	case models.FailureInvalidState:
		return http.StatusConflict
	case models.FailureInvalidCode:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse maps service errors to HTTP responses; anything unexpected is
// logged and hidden behind fallback.
func (h *Handler) errorResponse(c echo.Context, op string, err error, fallback string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Delivery not found"})
	case errors.Is(err, models.ErrForbidden):
		return c.JSON(http.StatusForbidden, models.ErrorResponse{Message: "Access denied"})
	case errors.Is(err, models.ErrStatusConflict):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Delivery status changed, retry"})
	case errors.Is(err, models.ErrAlreadyRated):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Delivery already rated"})
	case errors.Is(err, models.ErrInvalidState):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Delivery is not in a valid status for this action"})
	}
	h.log.Error("delivery handler failed", zap.String("op", op), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: fallback})
}

func (h *Handler) ValidateDelivery(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	var req models.ValidateDeliveryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ValidationResult{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ValidationResult{Message: "Validation failed: " + err.Error()})
	}

	result := h.svc.ValidateDelivery(c.Request().Context(), id.UserID, req)
	if !result.Success {
		return c.JSON(failureStatus(result.Failure), result)
	}

	h.publish(c.Request().Context(), result.Delivery, *result.Earnings)
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)
	deliveryID := c.Param("deliveryId")

	var req models.StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	d, err := h.svc.UpdateDeliveryStatus(c.Request().Context(), deliveryID, id.UserID, req.Status, req.Location)
	if err != nil {
		return h.errorResponse(c, "UpdateStatus", err, "Failed to update delivery status")
	}

	h.publish(c.Request().Context(), d, 0)
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RecordCoordinates(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	var req models.CoordinatesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	coords, err := h.svc.RecordCoordinates(c.Request().Context(), c.Param("deliveryId"), id.UserID, req)
	if err != nil {
		return h.errorResponse(c, "RecordCoordinates", err, "Failed to record coordinates")
	}
	return c.JSON(http.StatusCreated, coords)
}

func (h *Handler) ListCoordinates(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	var since time.Time
	if s := c.QueryParam("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "since must be RFC3339"})
		}
		since = t
	}

	coords, err := h.svc.ListCoordinates(c.Request().Context(), c.Param("deliveryId"), id, since)
	if err != nil {
		return h.errorResponse(c, "ListCoordinates", err, "Failed to list coordinates")
	}
	return c.JSON(http.StatusOK, coords)
}

func (h *Handler) ListMyDeliveries(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	page := 1
	limit := 20
	if pageStr := c.QueryParam("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	status := models.DeliveryStatus(c.QueryParam("status"))

	deliveries, total, err := h.svc.ListDelivererDeliveries(c.Request().Context(), id.UserID, status, page, limit)
	if err != nil {
		return h.errorResponse(c, "ListMyDeliveries", err, "Failed to retrieve deliveries")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deliveries": deliveries, "total": total})
}

func (h *Handler) CheckValidationCode(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	valid, err := h.svc.CheckValidationCode(c.Request().Context(), c.Param("deliveryId"), id)
	if err != nil {
		return h.errorResponse(c, "CheckValidationCode", err, "Failed to check validation code")
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) GetValidationCode(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	code, err := h.svc.GetValidationCode(c.Request().Context(), c.Param("deliveryId"), id.UserID)
	if err != nil {
		return h.errorResponse(c, "GetValidationCode", err, "Failed to retrieve validation code")
	}
	return c.JSON(http.StatusOK, map[string]string{"validationCode": code})
}

func (h *Handler) GetStats(c echo.Context) error {
	var req models.StatsRequest
	err := echo.QueryParamsBinder(c).
		Time("from", &req.From, time.RFC3339).
		Time("to", &req.To, time.RFC3339).
		BindError()
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "from and to must be RFC3339"})
	}

	stats, err := h.svc.GetStats(c.Request().Context(), req.From, req.To)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "from must be before to"})
		}
		return h.errorResponse(c, "GetStats", err, "Failed to compute statistics")
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetDelivery(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	details, err := h.svc.GetDelivery(c.Request().Context(), c.Param("deliveryId"), id)
	if err != nil {
		return h.errorResponse(c, "GetDelivery", err, "Failed to retrieve delivery")
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) RateDelivery(c echo.Context) error {
	id, _ := auth.IdentityFrom(c)

	var req models.RateDeliveryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	rating, err := h.svc.RateDelivery(c.Request().Context(), c.Param("deliveryId"), id, req)
	if err != nil {
		return h.errorResponse(c, "RateDelivery", err, "Failed to rate delivery")
	}
	return c.JSON(http.StatusCreated, rating)
}

// publish emits the delivery event after the state change has committed.
// Failures are logged; the request has already succeeded.
func (h *Handler) publish(ctx context.Context, d *models.Delivery, earnings float64) {
	if h.publisher == nil || d == nil {
		return
	}
	parties, err := h.svc.ResolveParties(ctx, d.ID)
	if err != nil {
		h.log.Warn("resolving delivery parties", zap.String("delivery_id", d.ID), zap.Error(err))
	}
	ev := events.NewDeliveryEvent(d, parties, earnings, time.Now())
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.log.Error("publishing delivery event", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}
