// Package geo resolves client addresses to regional routing profiles
// using an ordered chain of geo-IP sources with caching, request
// coalescing, and health-guarded fallback.
package geo

import (
	"context"
	"sync"
	"time"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/health"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// cacheTTL bounds how long a resolved profile is reused for an
// address. Long-running processes re-resolve after expiry.
const cacheTTL = time.Hour

type cacheEntry struct {
	profile   policy.RegionProfile
	defaulted bool
	expiresAt time.Time
}

// inflight marks an address whose first resolution is still running.
// Later callers wait on done instead of dispatching duplicates.
type inflight struct {
	done      chan struct{}
	profile   policy.RegionProfile
	defaulted bool
}

// HealthFunc observes a geo source crossing the health threshold in
// either direction.
type HealthFunc func(source string, healthy bool, errorCount int64)

// Resolver maps client addresses to RegionProfiles. Detection never
// fails from the caller's perspective: on total upstream failure the
// default profile is returned.
type Resolver struct {
	sources []Source
	tracker *health.Tracker
	log     *logger.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]*inflight
	onHealth HealthFunc

	now func() time.Time
}

// NewResolver creates a resolver over an ordered source chain. Sources
// are tried in slice order; tracker guards each one.
func NewResolver(sources []Source, tracker *health.Tracker, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.New("geo-resolver")
	}
	return &Resolver{
		sources:  sources,
		tracker:  tracker,
		log:      log,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*inflight),
		now:      time.Now,
	}
}

// Detect resolves address to a RegionProfile. Cached entries are
// returned without any upstream call; concurrent callers for the same
// uncached address are coalesced into a single upstream round.
func (r *Resolver) Detect(ctx context.Context, address string) policy.RegionProfile {
	profile, _ := r.DetectWithStatus(ctx, address)
	return profile
}

// DetectWithStatus is Detect plus a flag reporting whether the default
// profile was served because every source failed. Cached entries keep
// the flag they were resolved with.
func (r *Resolver) DetectWithStatus(ctx context.Context, address string) (policy.RegionProfile, bool) {
	r.mu.Lock()
	if entry, ok := r.cache[address]; ok && r.now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.profile, entry.defaulted
	}

	if call, ok := r.inflight[address]; ok {
		r.mu.Unlock()
		<-call.done
		return call.profile, call.defaulted
	}

	call := &inflight{done: make(chan struct{})}
	r.inflight[address] = call
	r.mu.Unlock()

	profile, defaulted := r.resolve(ctx, address)

	r.mu.Lock()
	r.cache[address] = cacheEntry{profile: profile, defaulted: defaulted, expiresAt: r.now().Add(cacheTTL)}
	delete(r.inflight, address)
	r.mu.Unlock()

	call.profile = profile
	call.defaulted = defaulted
	close(call.done)
	return profile, defaulted
}

// resolve walks the source chain. The resolution is detached from the
// caller's context: coalesced waiters still need the result, and the
// Health Tracker update for each attempt must complete regardless of
// caller lifecycle. Per-source timeouts still bound every call.
func (r *Resolver) resolve(ctx context.Context, address string) (policy.RegionProfile, bool) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	sources := r.sources
	r.mu.Unlock()

	for _, source := range sources {
		name := source.Name()
		if !r.tracker.IsHealthy(name) {
			r.log.Debug("skipping unhealthy geo source", "source", name)
			continue
		}

		code, err := source.Lookup(ctx, address)
		if err != nil {
			r.tracker.RecordFailure(name)
			if status := r.tracker.ServiceHealth(name); !status.Healthy {
				r.notifyHealth(status)
			}
			r.log.Warn("geo source lookup failed",
				"source", name,
				"address", address,
				"error", err.Error(),
			)
			continue
		}

		recovered := r.tracker.ServiceHealth(name).ErrorCount > 0
		r.tracker.RecordSuccess(name)
		if recovered {
			r.notifyHealth(r.tracker.ServiceHealth(name))
		}
		profile := policy.PolicyFor(code)
		r.log.Info("region resolved",
			"address", address,
			"country", code,
			"region", string(profile.Region),
			"source", name,
		)
		return profile, false
	}

	// Expected degradation, not an error condition.
	r.log.Warn("all geo sources unavailable, using default profile", "address", address)
	return policy.DefaultProfile(), true
}

// notifyHealth invokes the health observer with a tracker snapshot.
func (r *Resolver) notifyHealth(status health.Status) {
	r.mu.Lock()
	fn := r.onHealth
	r.mu.Unlock()
	if fn != nil {
		fn(status.Service, status.Healthy, status.ErrorCount)
	}
}

// OnHealthChange registers an observer for source health transitions.
func (r *Resolver) OnHealthChange(fn HealthFunc) {
	r.mu.Lock()
	r.onHealth = fn
	r.mu.Unlock()
}

// ReplaceSources swaps the source chain, used when routing rules are
// reloaded at runtime. Cached profiles stay valid until expiry.
func (r *Resolver) ReplaceSources(sources []Source) {
	r.mu.Lock()
	r.sources = sources
	r.mu.Unlock()
}

// Cached reports whether an unexpired profile exists for address.
func (r *Resolver) Cached(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[address]
	return ok && r.now().Before(entry.expiresAt)
}

// ClearCache evicts every cached entry atomically.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// CacheSize returns the number of cached addresses.
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
