package handler

import (
	"net/http"

	"github.com/GoPolymarket/venuegate/internal/middleware"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orders *service.OrderManager
}

func NewOrderHandler(orders *service.OrderManager) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) Create(c *gin.Context) {
	p := middleware.PrincipalFrom(c)

	var req model.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindErr(err))
		return
	}

	order, err := h.orders.Create(c.Request.Context(), p.IdentityID, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddLogContext(c, "order_id", order.ID)
	middleware.AddLogContext(c, "status", order.Status)
	respond(c, http.StatusCreated, order)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddLogContext(c, "order_id", id)

	order, err := h.orders.Cancel(c.Request.Context(), p.IdentityID, id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (h *OrderHandler) Get(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	order, err := h.orders.Get(c.Request.Context(), p.IdentityID, id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (h *OrderHandler) List(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	var q model.ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, bindErr(err))
		return
	}

	items, err := h.orders.List(c.Request.Context(), p.IdentityID, q)
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []model.Order{}
	}
	respond(c, http.StatusOK, items)
}

func (h *OrderHandler) Transitions(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}

	items, err := h.orders.Transitions(c.Request.Context(), p.IdentityID, id)
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []model.OrderTransition{}
	}
	respond(c, http.StatusOK, items)
}
