package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/secretbox"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/google/uuid"
)

const apiKeyPrefix = "vg_"

// IdentityService provisions API identities. Secrets are generated here,
// handed back once and stored sealed.
type IdentityService struct {
	store repository.IdentityStore
	box   *secretbox.Box
	gate  *AuthGate
}

func NewIdentityService(store repository.IdentityStore, box *secretbox.Box, gate *AuthGate) *IdentityService {
	return &IdentityService{store: store, box: box, gate: gate}
}

func newAPIKey() string {
	return apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *IdentityService) Create(ctx context.Context, req model.CreateIdentityRequest) (*model.IdentityCredentials, error) {
	if len(req.Permissions) == 0 {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "at least one permission is required")
	}
	for _, p := range req.Permissions {
		if !p.Valid() {
			return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "unknown permission").WithDetail("permission", p)
		}
	}

	secret, err := newSecret()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "generate secret", err)
	}
	sealed, err := s.box.Seal(secret)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "seal secret", err)
	}

	ident := &model.Identity{
		Name:         strings.TrimSpace(req.Name),
		APIKey:       newAPIKey(),
		SecretCipher: sealed,
		Permissions:  req.Permissions,
		Status:       model.IdentityActive,
	}
	if err := s.store.CreateIdentity(ctx, ident); err != nil {
		return nil, apperrors.NewDatabase("create identity", err)
	}
	logger.Info("identity created", "identity_id", ident.ID, "permissions", ident.Permissions)
	return &model.IdentityCredentials{Identity: ident, APIKey: ident.APIKey, Secret: secret}, nil
}

func (s *IdentityService) Get(ctx context.Context, id uint64) (*model.Identity, error) {
	ident, err := s.store.GetIdentity(ctx, id)
	return ident, identityErr(err)
}

func (s *IdentityService) List(ctx context.Context, limit, offset int) ([]model.Identity, error) {
	items, err := s.store.ListIdentities(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabase("list identities", err)
	}
	return items, nil
}

// UpdateStatus changes the status and drops the cached copy so the change
// is visible to the next request.
func (s *IdentityService) UpdateStatus(ctx context.Context, id uint64, status model.IdentityStatus) (*model.Identity, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "unknown identity status").WithDetail("status", status)
	}
	ident, err := s.store.UpdateIdentityStatus(ctx, id, status)
	if err != nil {
		return nil, identityErr(err)
	}
	s.gate.Evict(ctx, ident.APIKey)
	logger.Info("identity status changed", "identity_id", id, "status", status)
	return ident, nil
}

// RotateSecret replaces the signing secret; the old one stops working at once.
func (s *IdentityService) RotateSecret(ctx context.Context, id uint64) (*model.IdentityCredentials, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "generate secret", err)
	}
	sealed, err := s.box.Seal(secret)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "seal secret", err)
	}
	ident, err := s.store.UpdateIdentitySecret(ctx, id, sealed)
	if err != nil {
		return nil, identityErr(err)
	}
	s.gate.Evict(ctx, ident.APIKey)
	logger.Info("identity secret rotated", "identity_id", id)
	return &model.IdentityCredentials{Identity: ident, APIKey: ident.APIKey, Secret: secret}, nil
}

func identityErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("identity not found")
	default:
		return apperrors.NewDatabase("identity store", err)
	}
}
