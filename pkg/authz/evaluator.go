package authz

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/stayops/porter/pkg/observability"
)

// DefaultStoreTimeout bounds how long one evaluation may wait on the
// role store before failing closed.
const DefaultStoreTimeout = 2 * time.Second

// tracer emits engine spans through whatever trace provider the host
// process installed; without one these are no-ops.
var tracer = otel.Tracer("github.com/stayops/porter/pkg/authz")

// Evaluator answers permission questions. It is the only entry point
// callers should use: load the user's effective set (cached or
// aggregated), find the best matching grant for the requirement, and
// produce a Decision. Evaluation never returns an error; anything that
// goes wrong internally denies with a reason and is reported through
// logs and metrics.
type Evaluator struct {
	agg          *Aggregator
	cache        DecisionCache
	logger       *observability.Logger
	metrics      *observability.Metrics
	storeTimeout time.Duration
	backend      string

	// group collapses concurrent aggregations for the same user into
	// a single store fetch.
	group singleflight.Group

	// Invalidation fence. An aggregation captures its user's epoch
	// before touching the store and may only install its result while
	// that epoch is unchanged. InvalidateUser and InvalidateAll bump
	// epochs and drop cache entries under the same lock, so a fetch
	// that read pre-mutation state can never re-cache it after an
	// invalidation has returned. One counter per invalidated user.
	fenceMu     sync.Mutex
	userEpochs  map[int64]uint64
	globalEpoch uint64
}

// NewEvaluator creates a permission evaluator. metrics may be nil.
func NewEvaluator(agg *Aggregator, cache DecisionCache, logger *observability.Logger, metrics *observability.Metrics) *Evaluator {
	if cache == nil {
		cache = NewNoopDecisionCache()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Evaluator{
		agg:          agg,
		cache:        cache,
		logger:       logger,
		metrics:      metrics,
		storeTimeout: DefaultStoreTimeout,
		backend:      cacheBackendName(cache),
		userEpochs:   make(map[int64]uint64),
	}
}

// SetStoreTimeout overrides the bound on store fetches during
// evaluation. Non-positive values keep the default.
func (e *Evaluator) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		e.storeTimeout = d
	}
}

func cacheBackendName(c DecisionCache) string {
	switch c.(type) {
	case *MemoryDecisionCache:
		return "memory"
	case *RedisDecisionCache:
		return "redis"
	case *NoopDecisionCache:
		return "noop"
	default:
		return "custom"
	}
}

// Evaluate decides whether the evaluation context satisfies the
// required permission. The requirement must be concrete; wildcards are
// legal in grants only. Fails closed: internal errors deny.
func (e *Evaluator) Evaluate(ctx context.Context, required Permission, ec EvaluationContext) Decision {
	ctx, span := tracer.Start(ctx, "authz.evaluate")
	span.SetAttributes(
		attribute.String("authz.permission", required.String()),
		attribute.Int64("authz.user_id", ec.UserID),
	)
	start := time.Now()

	decision := e.evaluate(ctx, required, ec)

	span.SetAttributes(
		attribute.Bool("authz.granted", decision.Granted),
		attribute.String("authz.reason", decision.Reason),
	)
	span.End()

	if e.metrics != nil {
		e.metrics.DecisionDuration.Observe(time.Since(start).Seconds())
		outcome := "denied"
		if decision.Granted {
			outcome = "granted"
		}
		source := string(decision.Source)
		if source == "" {
			source = "none"
		}
		e.metrics.DecisionsTotal.WithLabelValues(outcome, source).Inc()
	}

	return decision
}

func (e *Evaluator) evaluate(ctx context.Context, required Permission, ec EvaluationContext) Decision {
	if err := required.Validate(); err != nil {
		return Deny(ReasonInvalidRequirement)
	}
	if required.HasWildcard() {
		// Requirements name one concrete triple; only grants may
		// carry wildcards.
		return Deny(ReasonInvalidRequirement)
	}

	if err := ValidateContext(required, ec); err != nil {
		return Deny(ReasonInvalidContext)
	}

	set, err := e.effectiveSet(ctx, ec.UserID)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    ec.UserID,
			"permission": required.String(),
		}).Error("Permission evaluation failed, denying")

		if e.metrics != nil {
			e.metrics.EvaluationErrorsTotal.WithLabelValues(errorStage(err)).Inc()
		}
		return Deny(ReasonInternalError)
	}

	match, ok := BestMatch(set.Permissions, required, ec)
	if !ok {
		return Deny(ReasonNoMatch)
	}
	if !match.Granted {
		d := Deny(ReasonDenied)
		d.Source = match.Source
		return d
	}

	return Decision{
		Granted:      true,
		Reason:       ReasonGranted,
		Source:       match.Source,
		ScopeFilters: ScopeFilters(match, ec),
		EvaluatedAt:  time.Now(),
	}
}

// effectiveSet returns the user's permission set, from cache when
// possible. Misses are deduplicated so a burst of requests for one
// user costs a single aggregation; the fetch runs on a detached
// context so the first caller hanging up does not poison the result
// for the others, while each waiter still honors its own cancellation.
// The singleflight key carries the invalidation epoch: a request
// arriving after an invalidation never joins a flight that started
// before it, and the flight's Put is fenced on the same epoch.
func (e *Evaluator) effectiveSet(ctx context.Context, userID int64) (*EffectiveSet, error) {
	if set, ok := e.cache.Get(ctx, userID); ok {
		if e.metrics != nil {
			e.metrics.CacheHitsTotal.WithLabelValues(e.backend).Inc()
		}
		return set, nil
	}
	if e.metrics != nil {
		e.metrics.CacheMissesTotal.WithLabelValues(e.backend).Inc()
	}

	epoch := e.invalidationEpoch(userID)
	key := strconv.FormatInt(userID, 10) + "@" + strconv.FormatUint(epoch, 10)
	ch := e.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), e.storeTimeout)
		defer cancel()

		set, err := e.agg.EffectivePermissions(fetchCtx, userID)
		if err != nil {
			return nil, err
		}

		if set.LegacyDerived && e.metrics != nil {
			e.metrics.LegacyFallbacksTotal.Inc()
		}

		e.putFenced(fetchCtx, userID, set, epoch)
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*EffectiveSet), nil
	}
}

// errorStage labels an evaluation failure for metrics
func errorStage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrStoreUnavailable):
		return "store"
	case errors.Is(err, ErrInvalidContext):
		return "context"
	default:
		return "aggregate"
	}
}

// EffectivePermissionsReport computes a user's full permission set
// fresh from the store, bypassing the cache. Intended for support and
// admin tooling; request-path checks go through Evaluate.
func (e *Evaluator) EffectivePermissionsReport(ctx context.Context, userID int64) (*EffectiveSet, error) {
	return e.agg.EffectivePermissions(ctx, userID)
}

// invalidationEpoch returns the fence value an aggregation must hold
// for its result to still be cacheable.
func (e *Evaluator) invalidationEpoch(userID int64) uint64 {
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	return e.userEpochs[userID] + e.globalEpoch
}

// putFenced installs an aggregated set unless an invalidation arrived
// after the epoch was captured. Check and Put happen under the fence
// lock so a concurrent InvalidateUser cannot slot in between them.
func (e *Evaluator) putFenced(ctx context.Context, userID int64, set *EffectiveSet, epoch uint64) {
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	if e.userEpochs[userID]+e.globalEpoch != epoch {
		return
	}
	e.cache.Put(ctx, userID, set)
}

// InvalidateUser drops the cached set for one user. Once it returns,
// no aggregation that started before the call can reinstate the old
// set: its fenced Put will see the bumped epoch and discard.
func (e *Evaluator) InvalidateUser(ctx context.Context, userID int64) error {
	if e.metrics != nil {
		e.metrics.CacheInvalidationsTotal.WithLabelValues(e.backend, "user").Inc()
	}
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	e.userEpochs[userID]++
	return e.cache.Invalidate(ctx, userID)
}

// InvalidateAll drops every cached set and fences every in-flight
// aggregation, same contract as InvalidateUser but engine-wide.
func (e *Evaluator) InvalidateAll(ctx context.Context) error {
	if e.metrics != nil {
		e.metrics.CacheInvalidationsTotal.WithLabelValues(e.backend, "all").Inc()
	}
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	e.globalEpoch++
	return e.cache.InvalidateAll(ctx)
}

// CacheStats reports decision cache counters
func (e *Evaluator) CacheStats() CacheStats {
	return e.cache.Stats()
}
