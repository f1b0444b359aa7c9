package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-order/internal/api"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
	"github.com/fulfillment/platform/fulfillment-order/internal/service"
)

func newRouter(svc api.OrderService, cfg api.RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(api.RequestIDMiddleware(), api.RecoveryMiddleware(nil))
	api.SetupRoutes(router, api.NewOrderHandler(svc, nil), cfg)
	return router
}

func do(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) api.ErrorResponse {
	var resp api.ErrorResponse
	Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var orderBody = []byte(`{"products":[{"productId":"COMIC_BOOKS","quantity":2,"unitValue":10},{"productId":"BOOKS","quantity":1,"unitValue":5}]}`)

var _ = Describe("OrderHandler with the order service", func() {
	var (
		router     *gin.Engine
		dispatcher *saga.MemoryDispatcher
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		node, err := snowflake.NewNode(1)
		Expect(err).NotTo(HaveOccurred())
		dispatcher = saga.NewMemoryDispatcher()
		svc := service.NewOrderService(repository.NewMemoryStore(), dispatcher, node, nil, nil)
		router = newRouter(svc, api.RouterConfig{})
	})

	It("creates an order, starts its saga and serves it back", func() {
		w := do(router, http.MethodPost, "/api/orders", orderBody)
		Expect(w.Code).To(Equal(http.StatusCreated))

		var created repository.Order
		Expect(json.Unmarshal(w.Body.Bytes(), &created)).To(Succeed())
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.TransactionID).To(MatchRegexp(`^\d+_[0-9a-f-]{36}$`))
		Expect(dispatcher.Sent()).To(Equal([]saga.Topic{saga.TopicStartSaga}))

		w = do(router, http.MethodGet, "/api/orders/"+created.ID, nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		w = do(router, http.MethodGet, "/api/events?transactionId="+created.TransactionID, nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		var event saga.Event
		Expect(json.Unmarshal(w.Body.Bytes(), &event)).To(Succeed())
		Expect(event.OrderID).To(Equal(created.ID))
		Expect(event.Status).To(Equal(saga.StatusPending))

		w = do(router, http.MethodGet, "/api/events/all", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		var events []saga.Event
		Expect(json.Unmarshal(w.Body.Bytes(), &events)).To(Succeed())
		Expect(events).To(HaveLen(1))
	})

	It("returns 400 for an order without products", func() {
		w := do(router, http.MethodPost, "/api/orders", []byte(`{"products":[]}`))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(decodeError(w).Code).To(Equal(apperrors.CodeInvalidParam))
		Expect(dispatcher.Sent()).To(BeEmpty())
	})

	It("returns 400 on a malformed body", func() {
		w := do(router, http.MethodPost, "/api/orders", []byte(`{`))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for an unknown order", func() {
		w := do(router, http.MethodGet, "/api/orders/42", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(decodeError(w).Message).To(Equal("Order not found by ID 42"))
	})

	It("requires an event filter", func() {
		w := do(router, http.MethodGet, "/api/events", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(decodeError(w).Message).To(Equal("OrderID or TransactionID must be informed."))
	})

	It("rejects a bad limit", func() {
		w := do(router, http.MethodGet, "/api/events/all?limit=zero", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("OrderHandler error handling", func() {
	var (
		router *gin.Engine
		svc    *mockOrderService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		svc = &mockOrderService{}
		router = newRouter(svc, api.RouterConfig{})
	})

	It("hides fault details behind a 500 envelope", func() {
		svc.getFn = func(context.Context, string) (*repository.Order, error) {
			return nil, errors.New("pq: connection refused")
		}

		req := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)
		req.Header.Set("X-Request-ID", "req-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Header().Get("X-Request-ID")).To(Equal("req-1"))
		resp := decodeError(w)
		Expect(resp.Code).To(Equal(apperrors.CodeInternal))
		Expect(resp.Message).NotTo(ContainSubstring("pq"))
		Expect(resp.RequestID).To(Equal("req-1"))
	})

	It("assigns a request id when none is sent", func() {
		svc.listFn = func(context.Context, int) ([]saga.Event, error) { return []saga.Event{}, nil }

		w := do(router, http.MethodGet, "/api/events/all", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("X-Request-ID")).NotTo(BeEmpty())
	})

	It("caps the event limit", func() {
		var got int
		svc.listFn = func(_ context.Context, limit int) ([]saga.Event, error) {
			got = limit
			return []saga.Event{}, nil
		}

		do(router, http.MethodGet, "/api/events/all", nil)
		Expect(got).To(Equal(50))
		do(router, http.MethodGet, "/api/events/all?limit=100000", nil)
		Expect(got).To(Equal(500))
	})

	It("prefers orderId when both filters are sent", func() {
		var got repository.EventFilter
		svc.findFn = func(_ context.Context, filter repository.EventFilter) (saga.Event, error) {
			got = filter
			return saga.Event{}, nil
		}

		w := do(router, http.MethodGet, "/api/events?orderId=7&transactionId=tx", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal(repository.EventFilter{OrderID: "7", TransactionID: "tx"}))
	})

	It("recovers from a panic", func() {
		svc.getFn = func(context.Context, string) (*repository.Order, error) {
			panic("boom")
		}

		w := do(router, http.MethodGet, "/api/orders/1", nil)
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(decodeError(w).Code).To(Equal(apperrors.CodeInternal))
	})
})

var _ = Describe("Create rate limit", func() {
	It("returns 429 once the window is used up", func() {
		gin.SetMode(gin.TestMode)
		svc := &mockOrderService{
			createFn: func(context.Context, service.CreateOrderRequest) (*repository.Order, error) {
				return &repository.Order{ID: "1", TransactionID: "tx"}, nil
			},
		}
		router := newRouter(svc, api.RouterConfig{CreateLimiter: api.NewRateLimiter(2, time.Minute)})

		Expect(do(router, http.MethodPost, "/api/orders", orderBody).Code).To(Equal(http.StatusCreated))
		Expect(do(router, http.MethodPost, "/api/orders", orderBody).Code).To(Equal(http.StatusCreated))

		w := do(router, http.MethodPost, "/api/orders", orderBody)
		Expect(w.Code).To(Equal(http.StatusTooManyRequests))
		Expect(w.Header().Get("Retry-After")).To(Equal("1"))
		Expect(decodeError(w).Retryable).To(BeTrue())
	})
})
