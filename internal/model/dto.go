package model

import "github.com/shopspring/decimal"

// CreateOrderRequest represents the incoming JSON body
type CreateOrderRequest struct {
	Venue  string           `json:"venue" binding:"required"`
	Symbol string           `json:"symbol" binding:"required"`
	Side   OrderSide        `json:"side" binding:"required,oneof=buy sell"`
	Kind   OrderKind        `json:"kind" binding:"required,oneof=limit market"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Amount decimal.Decimal  `json:"amount" binding:"required"`
}

type ListOrdersQuery struct {
	Status OrderStatus `form:"status"`
	Limit  int         `form:"limit"`
	Offset int         `form:"offset"`
}

type CreateIdentityRequest struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions" binding:"required,min=1"`
}

type UpdateIdentityStatusRequest struct {
	Status IdentityStatus `json:"status" binding:"required"`
}

// IdentityCredentials is returned exactly once, on create or rotate.
type IdentityCredentials struct {
	Identity *Identity `json:"identity"`
	APIKey   string    `json:"api_key"`
	Secret   string    `json:"secret"`
}

// Balance is one currency balance at a venue.
type Balance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
}

type Ticker struct {
	Venue     string          `json:"venue"`
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp int64           `json:"timestamp"`
}

type RateLimitStatus struct {
	Class     string `json:"class"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"reset_at"`
}
