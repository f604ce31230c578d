package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusFailed          OrderStatus = "failed"
)

// OpenStatuses are the states the reconciler still has to chase.
var OpenStatuses = []OrderStatus{StatusPending, StatusPartiallyFilled}

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	return s == StatusPending || s == StatusPartiallyFilled || s.Terminal()
}

// CanTransition enforces monotonic lifecycle movement:
// pending -> partially_filled -> filled, any open state -> canceled|failed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusPartiallyFilled || to.Terminal()
	case StatusPartiallyFilled:
		return to.Terminal()
	default:
		return false
	}
}

// AllowedSources lists the statuses from which a move to `to` is legal.
func AllowedSources(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range []OrderStatus{StatusPending, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusFailed} {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	if slices.Contains(OpenStatuses, to) {
		out = append(out, to)
	}
	return out
}

type Order struct {
	ID            uint64              `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID    uint64              `gorm:"index;not null" json:"identity_id"`
	Venue         string              `gorm:"size:64;not null;uniqueIndex:idx_orders_venue_remote" json:"venue"`
	RemoteOrderID *string             `gorm:"size:128;uniqueIndex:idx_orders_venue_remote" json:"remote_order_id"`
	Symbol        string              `gorm:"size:64;not null" json:"symbol"`
	Side          OrderSide           `gorm:"size:8;not null" json:"side"`
	Kind          OrderKind           `gorm:"size:8;not null" json:"kind"`
	Price         decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"price"`
	Amount        decimal.Decimal     `gorm:"type:numeric(36,18);not null" json:"amount"`
	Filled        decimal.Decimal     `gorm:"type:numeric(36,18);not null" json:"filled"`
	Status        OrderStatus         `gorm:"size:24;index;not null" json:"status"`
	FeeAmount     decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"fee_amount"`
	FeeCurrency   *string             `gorm:"size:16" json:"fee_currency"`
	LastError     *string             `json:"last_error"`
	CreatedAt     time.Time           `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// OrderPatch is a partial update. Nil fields keep their stored value.
// ExpectStatus, when set, makes the update conditional on the current status.
type OrderPatch struct {
	Status        *OrderStatus
	Filled        *decimal.Decimal
	RemoteOrderID *string
	FeeAmount     *decimal.Decimal
	FeeCurrency   *string
	LastError     *string

	ExpectStatus []OrderStatus
}

func (p OrderPatch) Empty() bool {
	return p.Status == nil && p.Filled == nil && p.RemoteOrderID == nil &&
		p.FeeAmount == nil && p.FeeCurrency == nil && p.LastError == nil
}

// Apply copies the non-nil fields onto o. RemoteOrderID is only written once.
func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Filled != nil {
		o.Filled = *p.Filled
	}
	if p.RemoteOrderID != nil && o.RemoteOrderID == nil {
		id := *p.RemoteOrderID
		o.RemoteOrderID = &id
	}
	if p.FeeAmount != nil {
		o.FeeAmount = decimal.NewNullDecimal(*p.FeeAmount)
	}
	if p.FeeCurrency != nil {
		c := *p.FeeCurrency
		o.FeeCurrency = &c
	}
	if p.LastError != nil {
		e := *p.LastError
		o.LastError = &e
	}
}

type TransitionSource string

const (
	SourceCreate    TransitionSource = "create"
	SourceSubmit    TransitionSource = "submit"
	SourceCancel    TransitionSource = "cancel"
	SourceReconcile TransitionSource = "reconcile"
	SourceStream    TransitionSource = "stream"
)

// OrderTransition 订单状态变更流水 (append-only)
type OrderTransition struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    uint64           `gorm:"index;not null" json:"order_id"`
	FromStatus OrderStatus      `gorm:"size:24" json:"from_status"`
	ToStatus   OrderStatus      `gorm:"size:24;not null" json:"to_status"`
	Source     TransitionSource `gorm:"size:16;not null" json:"source"`
	Note       string           `json:"note,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func Ptr[T any](v T) *T { return &v }
