package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/GoPolymarket/venuegate/internal/exchange"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/metrics"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/shopspring/decimal"
)

// OrderManager keeps local orders consistent with the venues.
//
// Every write after the initial insert is a single update keyed by the local
// id. Updates that can race (cancel, reconcile, stream) carry a status guard
// so a late venue answer never revives a terminal order.
type OrderManager struct {
	store  repository.Store
	venues *exchange.Registry
	policy retry.Policy
	clock  clock.Clock
	log    *slog.Logger
}

func NewOrderManager(store repository.Store, venues *exchange.Registry, policy retry.Policy, clk clock.Clock) *OrderManager {
	if clk == nil {
		clk = clock.System
	}
	return &OrderManager{
		store:  store,
		venues: venues,
		policy: policy,
		clock:  clk,
		log:    logger.Component("orders"),
	}
}

func (m *OrderManager) validate(req model.CreateOrderRequest) (exchange.Connector, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "symbol is required")
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "side must be buy or sell")
	}
	if req.Kind != model.KindLimit && req.Kind != model.KindMarket {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "kind must be limit or market")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "amount must be positive")
	}
	if req.Kind == model.KindLimit && (req.Price == nil || !req.Price.IsPositive()) {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "limit orders need a positive price")
	}
	conn, ok := m.venues.Get(req.Venue)
	if !ok {
		return nil, apperrors.NewValidation(apperrors.ReasonUnknownVenue, "unknown venue").WithDetail("venue", req.Venue)
	}
	return conn, nil
}

// Create persists a pending order, then places it at the venue. The venue
// call and the write of its outcome are detached from ctx cancellation.
func (m *OrderManager) Create(ctx context.Context, identityID uint64, req model.CreateOrderRequest) (*model.Order, error) {
	conn, err := m.validate(req)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		IdentityID: identityID,
		Venue:      req.Venue,
		Symbol:     strings.TrimSpace(req.Symbol),
		Side:       req.Side,
		Kind:       req.Kind,
		Amount:     req.Amount,
		Filled:     decimal.Zero,
		Status:     model.StatusPending,
		CreatedAt:  m.clock.Now(),
	}
	if req.Kind == model.KindLimit {
		order.Price = decimal.NewNullDecimal(*req.Price)
	}

	err = m.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AddTransition(ctx, &model.OrderTransition{
			OrderID:  order.ID,
			ToStatus: model.StatusPending,
			Source:   model.SourceCreate,
		})
	})
	if err != nil {
		return nil, apperrors.NewDatabase("persist order", err)
	}

	bg := context.WithoutCancel(ctx)
	log := m.log.With("order_id", order.ID, "venue", order.Venue)
	remoteReq := exchange.OrderRequest{
		ClientOrderID: strconv.FormatUint(order.ID, 10),
		Symbol:        order.Symbol,
		Side:          order.Side,
		Kind:          order.Kind,
		Amount:        order.Amount,
	}
	if order.Price.Valid {
		px := order.Price.Decimal
		remoteReq.Price = &px
	}

	res, callErr := callVenue(bg, m.policy, log, order.Venue, "create_order", func(ctx context.Context) (*exchange.OrderResult, error) {
		return conn.CreateOrder(ctx, remoteReq)
	})
	if callErr != nil {
		return nil, m.failCreate(bg, log, order, callErr)
	}

	status, filled := mapRemote(res.Status, res.Filled, order.Amount)
	patch := model.OrderPatch{
		Status:        &status,
		Filled:        &filled,
		RemoteOrderID: model.Ptr(res.RemoteID),
		ExpectStatus:  model.AllowedSources(status),
	}
	if res.Fee != nil {
		patch.FeeAmount = &res.Fee.Amount
		patch.FeeCurrency = model.Ptr(res.Fee.Currency)
	}
	updated, err := m.store.UpdateOrder(bg, order.ID, patch)
	if errors.Is(err, repository.ErrStatusConflict) {
		// cancelled locally while the venue call was in flight; keep the
		// local status but record the remote id for reconciliation
		log.Warn("order changed during placement", "remote_order_id", res.RemoteID)
		updated, err = m.store.UpdateOrder(bg, order.ID, model.OrderPatch{RemoteOrderID: model.Ptr(res.RemoteID)})
		status = ""
	}
	if err != nil {
		log.Error("venue accepted order but local update failed", "remote_order_id", res.RemoteID, "error", err)
		return nil, apperrors.NewDatabase("persist venue result", err).
			WithDetail("order_id", order.ID).
			WithDetail("remote_order_id", res.RemoteID)
	}
	if status != "" && status != model.StatusPending {
		m.addTransition(bg, updated.ID, model.StatusPending, status, model.SourceSubmit, res.Status)
	}
	metrics.OrdersTotal.WithLabelValues(updated.Venue, string(updated.Status)).Inc()
	log.Info("order placed", "remote_order_id", res.RemoteID, "status", updated.Status)
	return updated, nil
}

func (m *OrderManager) failCreate(ctx context.Context, log *slog.Logger, order *model.Order, callErr error) error {
	msg := callErr.Error()
	if _, err := m.store.UpdateOrder(ctx, order.ID, model.OrderPatch{
		Status:       model.Ptr(model.StatusFailed),
		LastError:    &msg,
		ExpectStatus: []model.OrderStatus{model.StatusPending},
	}); err != nil {
		log.Error("mark order failed", "error", err)
	} else {
		m.addTransition(ctx, order.ID, model.StatusPending, model.StatusFailed, model.SourceSubmit, msg)
	}
	metrics.OrdersTotal.WithLabelValues(order.Venue, string(model.StatusFailed)).Inc()

	if retry.IsInsufficientBalance(callErr) {
		log.Warn("order rejected for balance", "error", callErr)
		return apperrors.NewInsufficientBalance("insufficient balance at venue", callErr).WithDetail("order_id", order.ID)
	}
	log.Error("order placement failed", "error", callErr)
	return apperrors.NewExchange("venue rejected or did not answer the order", callErr).WithDetail("order_id", order.ID)
}

// Cancel moves a pending order to canceled. A remote cancel failure is kept
// in LastError but does not stop the local cancel.
func (m *OrderManager) Cancel(ctx context.Context, identityID, orderID uint64) (*model.Order, error) {
	order, err := m.store.GetOrderForOwner(ctx, orderID, identityID)
	if err != nil {
		return nil, orderErr(err)
	}
	if order.Status != model.StatusPending {
		return nil, apperrors.NewValidation(apperrors.ReasonNotCancelable, "only pending orders can be canceled").
			WithDetail("status", order.Status)
	}

	bg := context.WithoutCancel(ctx)
	log := m.log.With("order_id", order.ID, "venue", order.Venue)
	patch := model.OrderPatch{
		Status:       model.Ptr(model.StatusCanceled),
		ExpectStatus: []model.OrderStatus{model.StatusPending},
	}
	if order.RemoteOrderID != nil {
		if cerr := m.cancelRemote(bg, log, order); cerr != nil {
			log.Warn("remote cancel failed, canceling locally", "error", cerr)
			patch.LastError = model.Ptr(cerr.Error())
		}
	}

	updated, err := m.store.UpdateOrder(bg, order.ID, patch)
	if errors.Is(err, repository.ErrStatusConflict) {
		current, gerr := m.store.GetOrder(bg, order.ID)
		if gerr != nil {
			return nil, orderErr(gerr)
		}
		return nil, apperrors.NewValidation(apperrors.ReasonNotCancelable, "order changed state while canceling").
			WithDetail("status", current.Status)
	}
	if err != nil {
		return nil, orderErr(err)
	}
	m.addTransition(bg, order.ID, model.StatusPending, model.StatusCanceled, model.SourceCancel, "")
	metrics.OrdersTotal.WithLabelValues(updated.Venue, string(model.StatusCanceled)).Inc()
	return updated, nil
}

func (m *OrderManager) cancelRemote(ctx context.Context, log *slog.Logger, order *model.Order) error {
	conn, ok := m.venues.Get(order.Venue)
	if !ok {
		return errors.New("venue " + order.Venue + " is not configured")
	}
	_, err := callVenue(ctx, m.policy, log, order.Venue, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.CancelOrder(ctx, *order.RemoteOrderID, order.Symbol)
	})
	return err
}

// Get returns an order, refreshing a pending one from its venue first.
// A failed refresh is logged and the stored copy is returned.
func (m *OrderManager) Get(ctx context.Context, identityID, orderID uint64) (*model.Order, error) {
	order, err := m.store.GetOrderForOwner(ctx, orderID, identityID)
	if err != nil {
		return nil, orderErr(err)
	}
	if order.Status != model.StatusPending || order.RemoteOrderID == nil {
		return order, nil
	}
	single := m.policy
	single.MaxAttempts = 1
	refreshed, err := m.reconcile(ctx, order, single, model.SourceReconcile)
	if err != nil {
		m.log.Warn("refresh on read failed", "order_id", order.ID, "error", err)
		return order, nil
	}
	return refreshed, nil
}

func (m *OrderManager) List(ctx context.Context, identityID uint64, q model.ListOrdersQuery) ([]model.Order, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "unknown status filter").WithDetail("status", q.Status)
	}
	items, err := m.store.ListOrders(ctx, repository.OrderFilter{
		IdentityID: identityID,
		Status:     q.Status,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		return nil, apperrors.NewDatabase("list orders", err)
	}
	return items, nil
}

func (m *OrderManager) Transitions(ctx context.Context, identityID, orderID uint64) ([]model.OrderTransition, error) {
	if _, err := m.store.GetOrderForOwner(ctx, orderID, identityID); err != nil {
		return nil, orderErr(err)
	}
	items, err := m.store.ListTransitions(ctx, orderID)
	if err != nil {
		return nil, apperrors.NewDatabase("list transitions", err)
	}
	return items, nil
}

// Reconcile refreshes one open order from its venue under the full retry policy.
func (m *OrderManager) Reconcile(ctx context.Context, order *model.Order) (*model.Order, error) {
	if order.RemoteOrderID == nil {
		return order, nil
	}
	return m.reconcile(ctx, order, m.policy, model.SourceReconcile)
}

func (m *OrderManager) reconcile(ctx context.Context, order *model.Order, p retry.Policy, source model.TransitionSource) (*model.Order, error) {
	conn, ok := m.venues.Get(order.Venue)
	if !ok {
		metrics.Reconciliations.WithLabelValues(string(source), "error").Inc()
		return order, errors.New("venue " + order.Venue + " is not configured")
	}
	bg := context.WithoutCancel(ctx)
	res, err := callVenue(bg, p, m.log, order.Venue, "fetch_order", func(ctx context.Context) (*exchange.OrderResult, error) {
		return conn.FetchOrder(ctx, *order.RemoteOrderID, order.Symbol)
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(string(source), "error").Inc()
		return order, err
	}
	return m.apply(bg, order, *res, source)
}

// ApplyRemoteUpdate folds a pushed venue update into the matching local order.
// Updates for unknown orders are ignored.
func (m *OrderManager) ApplyRemoteUpdate(ctx context.Context, venue string, update exchange.OrderResult) {
	order, err := m.store.GetOrderByRemoteID(ctx, venue, update.RemoteID)
	if errors.Is(err, repository.ErrNotFound) {
		m.log.Debug("update for unknown order", "venue", venue, "remote_order_id", update.RemoteID)
		return
	}
	if err != nil {
		m.log.Error("lookup order for update", "venue", venue, "remote_order_id", update.RemoteID, "error", err)
		return
	}
	if _, err := m.apply(ctx, order, update, model.SourceStream); err != nil {
		m.log.Error("apply venue update", "order_id", order.ID, "error", err)
	}
}

func (m *OrderManager) apply(ctx context.Context, order *model.Order, res exchange.OrderResult, source model.TransitionSource) (*model.Order, error) {
	to, filled := mapRemote(res.Status, res.Filled, order.Amount)
	if filled.LessThan(order.Filled) {
		filled = order.Filled
	}
	if order.Status.Terminal() || !model.CanTransition(order.Status, to) {
		metrics.Reconciliations.WithLabelValues(string(source), "unchanged").Inc()
		return order, nil
	}
	if to == order.Status && filled.Equal(order.Filled) && res.Fee == nil {
		metrics.Reconciliations.WithLabelValues(string(source), "unchanged").Inc()
		return order, nil
	}

	patch := model.OrderPatch{
		Status:       &to,
		Filled:       &filled,
		ExpectStatus: model.AllowedSources(to),
	}
	if res.Fee != nil {
		patch.FeeAmount = &res.Fee.Amount
		patch.FeeCurrency = model.Ptr(res.Fee.Currency)
	}
	updated, err := m.store.UpdateOrder(ctx, order.ID, patch)
	if errors.Is(err, repository.ErrStatusConflict) {
		metrics.Reconciliations.WithLabelValues(string(source), "conflict").Inc()
		current, gerr := m.store.GetOrder(ctx, order.ID)
		if gerr != nil {
			return order, gerr
		}
		return current, nil
	}
	if err != nil {
		metrics.Reconciliations.WithLabelValues(string(source), "error").Inc()
		return order, err
	}
	if to != order.Status {
		m.addTransition(ctx, order.ID, order.Status, to, source, res.Status)
		metrics.OrdersTotal.WithLabelValues(updated.Venue, string(to)).Inc()
	}
	metrics.Reconciliations.WithLabelValues(string(source), "updated").Inc()
	return updated, nil
}

func (m *OrderManager) addTransition(ctx context.Context, orderID uint64, from, to model.OrderStatus, source model.TransitionSource, note string) {
	err := m.store.AddTransition(ctx, &model.OrderTransition{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Source:     source,
		Note:       note,
		CreatedAt:  m.clock.Now(),
	})
	if err != nil {
		m.log.Error("record transition", "order_id", orderID, "error", err)
	}
}

// mapRemote converts a venue status into the local lifecycle. filled is
// clamped to [0, amount].
func mapRemote(remote string, filled, amount decimal.Decimal) (model.OrderStatus, decimal.Decimal) {
	if filled.IsNegative() {
		filled = decimal.Zero
	}
	if filled.GreaterThan(amount) {
		filled = amount
	}
	switch strings.ToLower(remote) {
	case exchange.RemoteClosed:
		return model.StatusFilled, filled
	case exchange.RemoteCanceled, exchange.RemoteCancelled:
		return model.StatusCanceled, filled
	case exchange.RemoteRejected, exchange.RemoteExpired:
		return model.StatusFailed, filled
	default:
		// open or unknown: stays pending, cancelable and refreshed on read,
		// while the partial fill is still recorded
		return model.StatusPending, filled
	}
}

func orderErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("order not found")
	}
	return apperrors.NewDatabase("order store", err)
}
