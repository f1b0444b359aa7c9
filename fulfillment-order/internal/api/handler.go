package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
	"github.com/fulfillment/platform/fulfillment-order/internal/service"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// OrderService is implemented by service.OrderService.
type OrderService interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*repository.Order, error)
	GetOrder(ctx context.Context, id string) (*repository.Order, error)
	FindEvent(ctx context.Context, filter repository.EventFilter) (saga.Event, error)
	ListEvents(ctx context.Context, limit int) ([]saga.Event, error)
}

type OrderHandler struct {
	service OrderService
	log     *logger.Logger
}

func NewOrderHandler(svc OrderService, log *logger.Logger) *OrderHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OrderHandler{service: svc, log: log}
}

func (h *OrderHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithContext(ctx).WithError(err).Warn("invalid order request")
		WriteError(c, apperrors.New(apperrors.CodeInvalidParam, "invalid request body"))
		return
	}

	order, err := h.service.CreateOrder(ctx, req)
	if err != nil {
		h.fail(c, "failed to create order", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// FindEvent serves GET /api/events?orderId=|transactionId=.
func (h *OrderHandler) FindEvent(c *gin.Context) {
	filter := repository.EventFilter{
		OrderID:       strings.TrimSpace(c.Query("orderId")),
		TransactionID: strings.TrimSpace(c.Query("transactionId")),
	}
	if filter.OrderID == "" && filter.TransactionID == "" {
		WriteError(c, repository.ErrFilterRequired)
		return
	}

	event, err := h.service.FindEvent(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "failed to find event", err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// ListEvents serves GET /api/events/all?limit=, newest first.
func (h *OrderHandler) ListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(c, apperrors.New(apperrors.CodeInvalidParam, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.service.ListEvents(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "failed to list events", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *OrderHandler) fail(c *gin.Context, msg string, err error) {
	if _, ok := apperrors.As(err); !ok {
		h.log.WithContext(c.Request.Context()).WithError(err).WithField("requestId", RequestID(c)).Error(msg)
	}
	WriteError(c, err)
}
