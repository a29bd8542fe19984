// Package ptr resolves and caches reverse DNS names for peer addresses.
package ptr

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultTTL = time.Hour
	// defaultTimeout bounds one RequestPTR, retries included.
	defaultTimeout = 2 * time.Second
)

// PtrManager handles PTR lookups, caching results for a while so a client
// probing repeatedly is not looked up on every run.
type PtrManager struct {
	cache      *ttlcache.Cache[string, string]
	lookupFunc func(ctx context.Context, ip string) ([]string, error)
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewPtrManager creates a new PtrManager
func NewPtrManager() *PtrManager {
	return &PtrManager{
		cache:      newCache(defaultTTL),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
		timeout:    defaultTimeout,
	}
}

func newCache(ttl time.Duration) *ttlcache.Cache[string, string] {
	return ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
}

// RequestPTR looks up ip unless a result, or a lookup in progress, is cached.
// The lookup gives up after the manager's timeout or when ctx is done; a
// cancelled lookup is not cached.
func (pm *PtrManager) RequestPTR(ctx context.Context, ip string) {
	if ctx.Err() != nil {
		return
	}
	// Mark as in progress so concurrent callers skip the lookup
	if _, found := pm.cache.GetOrSet(ip, ""); found {
		return
	}
	if pm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pm.timeout)
		defer cancel()
	}

	for attempt := range pm.retries {
		if attempt > 0 && !sleep(ctx, pm.retryDelay) {
			break
		}
		names, err := pm.lookupFunc(ctx, ip)
		if err == nil && len(names) > 0 {
			if name := normalizePTR(names[0]); name != "" {
				pm.cache.Set(ip, name, ttlcache.DefaultTTL)
				return
			}
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		pm.cache.Delete(ip)
	}
}

// GetPTR retrieves the cached PTR result for the given IP address
// Returns the PTR and a boolean indicating if it was found
func (pm *PtrManager) GetPTR(ip string) (string, bool) {
	item := pm.cache.Get(ip)
	if item == nil || item.Value() == "" {
		return "", false
	}
	return item.Value(), true
}

// Lookup resolves ip and returns its name, or "" when it has none.
func (pm *PtrManager) Lookup(ctx context.Context, ip string) string {
	pm.RequestPTR(ctx, ip)
	name, _ := pm.GetPTR(ip)
	return name
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
