package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/metrics"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/google/uuid"
)

// Subject is who a request is counted against: an identity when
// authenticated, otherwise the source address.
type Subject struct {
	IdentityID uint64
	Source     string
}

func (s Subject) Authenticated() bool { return s.IdentityID != 0 }

func (s Subject) scope() string {
	if s.Authenticated() {
		return fmt.Sprintf("id:%d", s.IdentityID)
	}
	return "ip:" + s.Source
}

// Quota is the caller's standing after an admitted request.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// AdmissionControl enforces fixed-window request limits per subject and
// endpoint class.
type AdmissionControl struct {
	counters repository.CounterStore
	clock    clock.Clock
	def      config.RateRule
	global   config.RateRule
	// keyed by "METHOD class" or "class"
	rules map[string]config.RateRule
	log   *slog.Logger
}

func NewAdmissionControl(counters repository.CounterStore, clk clock.Clock, cfg config.RateLimitConfig) *AdmissionControl {
	if clk == nil {
		clk = clock.System
	}
	a := &AdmissionControl{
		counters: counters,
		clock:    clk,
		def:      cfg.Default,
		global:   cfg.GlobalPerSource,
		rules:    make(map[string]config.RateRule, len(cfg.Endpoints)),
		log:      logger.Component("admission"),
	}
	for _, r := range cfg.Endpoints {
		if r.MaxRequests <= 0 || r.WindowMs <= 0 {
			continue
		}
		class := EndpointClass(r.Path)
		if m := strings.ToUpper(strings.TrimSpace(r.Method)); m != "" {
			a.rules[m+" "+class] = r.RateRule
		} else {
			a.rules[class] = r.RateRule
		}
	}
	return a
}

var (
	digitsRe    = regexp.MustCompile(`^[0-9]+$`)
	upperPairRe = regexp.MustCompile(`^[A-Z0-9]{2,12}[-_:][A-Z0-9]{2,12}$`)
	lowerPairRe = regexp.MustCompile(`^[a-zA-Z0-9]{2,12}[_:][a-zA-Z0-9]{2,12}$`)
	// BTCUSDT style, needs at least one letter
	compactPairRe = regexp.MustCompile(`^[A-Z0-9]*[A-Z][A-Z0-9]*$`)
)

// EndpointClass collapses ids and instrument symbols so that every request
// to the same route shares one counter. The query string is ignored.
func EndpointClass(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		switch {
		case seg == "":
		case digitsRe.MatchString(seg):
			segs[i] = ":id"
		case len(seg) == 36 && uuid.Validate(seg) == nil:
			segs[i] = ":uuid"
		case isSymbol(seg):
			segs[i] = ":symbol"
		}
	}
	class := strings.Join(segs, "/")
	if len(class) > 1 {
		class = strings.TrimRight(class, "/")
	}
	if class == "" {
		class = "/"
	}
	return class
}

func isSymbol(seg string) bool {
	if upperPairRe.MatchString(seg) || lowerPairRe.MatchString(seg) {
		return true
	}
	return len(seg) >= 6 && len(seg) <= 16 && compactPairRe.MatchString(seg)
}

// rule picks the most specific limit: "METHOD class", then "class", then default.
// The returned counter class carries the method when the rule was method specific.
func (a *AdmissionControl) rule(method, class string) (config.RateRule, string) {
	key := strings.ToUpper(method) + " " + class
	if r, ok := a.rules[key]; ok {
		return r, key
	}
	if r, ok := a.rules[class]; ok {
		return r, class
	}
	return a.def, class
}

type admitResult struct {
	quota    Quota
	count    int64
	ttl      time.Duration
	rejected bool
}

// Admit counts one request. It returns a RATE_LIMIT_EXCEEDED AppError when
// the subject is over any applicable limit.
func (a *AdmissionControl) Admit(ctx context.Context, subj Subject, method, path string) (Quota, error) {
	class := EndpointClass(path)
	rule, counterClass := a.rule(method, class)

	res := a.check(ctx, "rl:"+subj.scope()+":"+counterClass, rule)
	if res.rejected {
		metrics.AdmissionRejects.WithLabelValues(scopeLabel(subj), class).Inc()
		return Quota{}, rateLimitErr(rule, res)
	}
	if subj.Authenticated() || a.global.MaxRequests <= 0 || a.global.WindowMs <= 0 {
		return res.quota, nil
	}

	global := a.check(ctx, "rl:"+subj.scope()+":global", a.global)
	if global.rejected {
		metrics.AdmissionRejects.WithLabelValues("global", class).Inc()
		return Quota{}, rateLimitErr(a.global, global)
	}
	if global.quota.Remaining < res.quota.Remaining {
		return global.quota, nil
	}
	return res.quota, nil
}

func (a *AdmissionControl) check(ctx context.Context, key string, rule config.RateRule) admitResult {
	now := a.clock.Now()
	window := rule.Window()
	count, ttl, err := a.counters.Increment(ctx, key, window)
	if err != nil {
		// fail open
		metrics.AdmissionFailOpen.Inc()
		a.log.Warn("counter store unavailable, admitting request", "key", key, "error", err)
		return admitResult{quota: Quota{Limit: rule.MaxRequests, Remaining: rule.MaxRequests, ResetAt: now.Add(window)}}
	}
	if ttl <= 0 {
		ttl = window
	}
	remaining := rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return admitResult{
		quota:    Quota{Limit: rule.MaxRequests, Remaining: remaining, ResetAt: now.Add(ttl)},
		count:    count,
		ttl:      ttl,
		rejected: count > int64(rule.MaxRequests),
	}
}

func rateLimitErr(rule config.RateRule, res admitResult) error {
	retryAfter := int(math.Ceil(res.ttl.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	err := apperrors.NewRateLimit(rule.MaxRequests, int(res.count), retryAfter)
	err.WithDetail("reset_at", res.quota.ResetAt.UnixMilli())
	return err
}

func scopeLabel(s Subject) string {
	if s.Authenticated() {
		return "identity"
	}
	return "source"
}

// Peek reports the subject's standing for a route without counting a request.
func (a *AdmissionControl) Peek(ctx context.Context, subj Subject, method, path string) model.RateLimitStatus {
	class := EndpointClass(path)
	rule, counterClass := a.rule(method, class)
	now := a.clock.Now()
	status := model.RateLimitStatus{
		Class:     counterClass,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests,
		ResetAt:   now.Add(rule.Window()).UnixMilli(),
	}

	count, ttl, err := a.counters.Peek(ctx, "rl:"+subj.scope()+":"+counterClass)
	if err != nil {
		a.log.Warn("counter peek failed", "error", err)
		return status
	}
	status.Remaining = max(rule.MaxRequests-int(count), 0)
	if ttl > 0 {
		status.ResetAt = now.Add(ttl).UnixMilli()
	}
	return status
}
