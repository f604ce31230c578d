package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/metrics"
	"github.com/GoPolymarket/venuegate/internal/pkg/secretbox"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/GoPolymarket/venuegate/internal/signer"
)

const (
	DefaultReplayWindow     = 5 * time.Minute
	DefaultIdentityCacheTTL = 5 * time.Minute
	identityCachePrefix     = "idcache:"
)

// Envelope is the signed part of an inbound request, exactly as received.
type Envelope struct {
	APIKey    string
	Timestamp string
	Signature string
	Method    string
	Path      string
	Body      []byte
}

// cachedIdentity is what the identity cache holds. The secret stays sealed.
type cachedIdentity struct {
	ID           uint64               `json:"id"`
	APIKey       string               `json:"api_key"`
	SecretCipher string               `json:"secret_cipher"`
	Permissions  []model.Permission   `json:"permissions"`
	Status       model.IdentityStatus `json:"status"`
}

// AuthGate verifies HMAC-signed requests and resolves the calling identity.
type AuthGate struct {
	store    repository.IdentityStore
	cache    repository.CounterStore
	box      *secretbox.Box
	clock    clock.Clock
	window   time.Duration
	cacheTTL time.Duration
	log      *slog.Logger
}

type AuthGateOptions struct {
	ReplayWindow time.Duration
	CacheTTL     time.Duration
}

// NewAuthGate wires the gate. cache may be nil, in which case every request
// reads the record store.
func NewAuthGate(store repository.IdentityStore, cache repository.CounterStore, box *secretbox.Box, clk clock.Clock, opts AuthGateOptions) *AuthGate {
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	if opts.CacheTTL <= 0 || opts.CacheTTL > DefaultIdentityCacheTTL {
		opts.CacheTTL = DefaultIdentityCacheTTL
	}
	if clk == nil {
		clk = clock.System
	}
	return &AuthGate{
		store:    store,
		cache:    cache,
		box:      box,
		clock:    clk,
		window:   opts.ReplayWindow,
		cacheTTL: opts.CacheTTL,
		log:      logger.Component("auth"),
	}
}

// Authenticate runs the checks in a fixed order and stops at the first failure.
// It never changes persisted state.
func (g *AuthGate) Authenticate(ctx context.Context, env Envelope) (*Principal, error) {
	p, err := g.authenticate(ctx, env)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Reason != "" {
			metrics.AuthFailures.WithLabelValues(string(appErr.Reason)).Inc()
		}
		return nil, err
	}
	return p, nil
}

func (g *AuthGate) authenticate(ctx context.Context, env Envelope) (*Principal, error) {
	if env.APIKey == "" || env.Timestamp == "" || env.Signature == "" ||
		env.Method == "" || env.Path == "" {
		return nil, apperrors.NewAuthentication(apperrors.ReasonMissingCredentials, "missing authentication headers")
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(env.Timestamp), 10, 64)
	if err != nil {
		return nil, apperrors.NewAuthentication(apperrors.ReasonBadTimestamp, "timestamp must be milliseconds since epoch")
	}
	// bounds instead of now-ts, which wraps for extreme timestamps
	now, window := clock.NowMillis(g.clock), g.window.Milliseconds()
	if ts < now-window || ts > now+window {
		return nil, apperrors.NewAuthentication(apperrors.ReasonStaleOrFuture, "timestamp outside the accepted window").
			WithDetail("window_ms", g.window.Milliseconds())
	}

	ident, err := g.resolve(ctx, env.APIKey)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.Status != model.IdentityActive {
		return nil, apperrors.NewAuthentication(apperrors.ReasonInvalidIdentity, "unknown or inactive api key")
	}

	secret, err := g.box.Open(ident.SecretCipher)
	if err != nil {
		g.log.Error("identity secret cannot be opened", "identity_id", ident.ID, "error", err)
		return nil, apperrors.NewAuthentication(apperrors.ReasonInvalidIdentity, "unknown or inactive api key")
	}
	if !signer.Verify(secret, env.Timestamp, env.Method, env.Path, env.Body, env.Signature) {
		return nil, apperrors.NewAuthentication(apperrors.ReasonBadSignature, "signature mismatch")
	}

	return &Principal{
		IdentityID:  ident.ID,
		APIKey:      ident.APIKey,
		Permissions: ident.Permissions,
		Status:      ident.Status,
	}, nil
}

// resolve reads the identity cache first, then the record store.
// A nil result with nil error means no such identity.
func (g *AuthGate) resolve(ctx context.Context, apiKey string) (*cachedIdentity, error) {
	if g.cache != nil {
		raw, err := g.cache.Get(ctx, identityCachePrefix+apiKey)
		switch {
		case err == nil:
			var ci cachedIdentity
			if jerr := json.Unmarshal([]byte(raw), &ci); jerr == nil {
				return &ci, nil
			}
		case !errors.Is(err, repository.ErrCacheMiss):
			g.log.Warn("identity cache read failed", "error", err)
		}
	}

	ident, err := g.store.GetIdentityByAPIKey(ctx, apiKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabase("identity lookup failed", err)
	}

	ci := &cachedIdentity{
		ID:           ident.ID,
		APIKey:       ident.APIKey,
		SecretCipher: ident.SecretCipher,
		Permissions:  ident.Permissions,
		Status:       ident.Status,
	}
	if g.cache != nil && ident.IsActive() {
		raw, _ := json.Marshal(ci)
		if err := g.cache.Set(ctx, identityCachePrefix+apiKey, string(raw), g.cacheTTL); err != nil {
			g.log.Warn("identity cache write failed", "error", err)
		}
	}
	return ci, nil
}

// Evict drops a cached identity so the next request re-reads the store.
func (g *AuthGate) Evict(ctx context.Context, apiKey string) {
	if g.cache == nil || apiKey == "" {
		return
	}
	if err := g.cache.Delete(ctx, identityCachePrefix+apiKey); err != nil {
		g.log.Warn("identity cache evict failed", "error", err)
	}
}
