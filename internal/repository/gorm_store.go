package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"gorm.io/gorm"
)

// GormStore is the relational system of record (postgres or sqlite).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

// --- identities ---

func (s *GormStore) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	return translate(s.db.WithContext(ctx).Create(identity).Error)
}

func (s *GormStore) GetIdentity(ctx context.Context, id uint64) (*model.Identity, error) {
	var out model.Identity
	if err := s.db.WithContext(ctx).First(&out, id).Error; err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) GetIdentityByAPIKey(ctx context.Context, apiKey string) (*model.Identity, error) {
	var out model.Identity
	err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).Take(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) ListIdentities(ctx context.Context, limit, offset int) ([]model.Identity, error) {
	var out []model.Identity
	err := s.db.WithContext(ctx).Order("id ASC").Limit(clampLimit(limit)).Offset(max(offset, 0)).Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) UpdateIdentityStatus(ctx context.Context, id uint64, status model.IdentityStatus) (*model.Identity, error) {
	return s.updateIdentity(ctx, id, map[string]any{"status": string(status)})
}

func (s *GormStore) UpdateIdentitySecret(ctx context.Context, id uint64, secretCipher string) (*model.Identity, error) {
	return s.updateIdentity(ctx, id, map[string]any{"secret_cipher": secretCipher})
}

func (s *GormStore) updateIdentity(ctx context.Context, id uint64, updates map[string]any) (*model.Identity, error) {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Identity{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetIdentity(ctx, id)
}

// --- orders ---

func (s *GormStore) InsertOrder(ctx context.Context, order *model.Order) error {
	return translate(s.db.WithContext(ctx).Create(order).Error)
}

func (s *GormStore) UpdateOrder(ctx context.Context, id uint64, patch model.OrderPatch) (*model.Order, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Filled != nil {
		updates["filled"] = *patch.Filled
	}
	if patch.RemoteOrderID != nil {
		// remote id is write-once
		updates["remote_order_id"] = gorm.Expr("COALESCE(remote_order_id, ?)", *patch.RemoteOrderID)
	}
	if patch.FeeAmount != nil {
		updates["fee_amount"] = *patch.FeeAmount
	}
	if patch.FeeCurrency != nil {
		updates["fee_currency"] = *patch.FeeCurrency
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}

	q := s.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id)
	if len(patch.ExpectStatus) > 0 {
		q = q.Where("status IN ?", statusStrings(patch.ExpectStatus))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetOrder(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}
	return s.GetOrder(ctx, id)
}

func (s *GormStore) GetOrder(ctx context.Context, id uint64) (*model.Order, error) {
	var out model.Order
	if err := s.db.WithContext(ctx).First(&out, id).Error; err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) GetOrderForOwner(ctx context.Context, id, identityID uint64) (*model.Order, error) {
	var out model.Order
	err := s.db.WithContext(ctx).Where("id = ? AND identity_id = ?", id, identityID).Take(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) GetOrderByRemoteID(ctx context.Context, venue, remoteID string) (*model.Order, error) {
	var out model.Order
	err := s.db.WithContext(ctx).Where("venue = ? AND remote_order_id = ?", venue, remoteID).Take(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	q := s.db.WithContext(ctx).Model(&model.Order{})
	if filter.IdentityID != 0 {
		q = q.Where("identity_id = ?", filter.IdentityID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var out []model.Order
	err := q.Order("id DESC").Limit(clampLimit(filter.Limit)).Offset(max(filter.Offset, 0)).Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListOpenOrders(ctx context.Context, createdBefore time.Time, afterID uint64, limit int) ([]model.Order, error) {
	var out []model.Order
	err := s.db.WithContext(ctx).
		Where("status IN ? AND id > ? AND created_at <= ?", statusStrings(model.OpenStatuses), afterID, createdBefore).
		Order("id ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) AddTransition(ctx context.Context, t *model.OrderTransition) error {
	return translate(s.db.WithContext(ctx).Create(t).Error)
}

func (s *GormStore) ListTransitions(ctx context.Context, orderID uint64) ([]model.OrderTransition, error) {
	var out []model.OrderTransition
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&out).Error
	return out, translate(err)
}
