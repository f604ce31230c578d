package handler

import (
	"net/http"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

// IdentityHandler serves the admin identity routes. Secrets appear only in
// create and rotate responses.
type IdentityHandler struct {
	svc *service.IdentityService
}

func NewIdentityHandler(svc *service.IdentityService) *IdentityHandler {
	return &IdentityHandler{svc: svc}
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req model.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindErr(err))
		return
	}
	creds, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, creds)
}

func (h *IdentityHandler) List(c *gin.Context) {
	limit, offset := pageQuery(c)
	items, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []model.Identity{}
	}
	respond(c, http.StatusOK, items)
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	ident, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, ident)
}

func (h *IdentityHandler) UpdateStatus(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	var req model.UpdateIdentityStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindErr(err))
		return
	}
	ident, err := h.svc.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, ident)
}

func (h *IdentityHandler) RotateSecret(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	creds, err := h.svc.RotateSecret(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, creds)
}
