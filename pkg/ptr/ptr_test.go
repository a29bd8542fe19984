package ptr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testManager(lookup func(ctx context.Context, ip string) ([]string, error), retries int) *PtrManager {
	return &PtrManager{
		cache:      newCache(time.Minute),
		lookupFunc: lookup,
		retries:    retries,
		retryDelay: 0,
		timeout:    time.Second,
	}
}

func Test_normalizePTR(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com.", "example.com"},
		{"example.com", "example.com"},
		{"", ""},
		{".", ""},
	}

	for _, tt := range tests {
		if got := normalizePTR(tt.input); got != tt.want {
			t.Errorf("normalizePTR(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNewPtrManager(t *testing.T) {
	pm := NewPtrManager()

	if pm == nil || pm.cache == nil || pm.lookupFunc == nil {
		t.Fatal("NewPtrManager() returned invalid manager")
	}

	if pm.retries != 3 || pm.retryDelay != 100*time.Millisecond || pm.timeout != 2*time.Second {
		t.Errorf("NewPtrManager() retries=%d delay=%v timeout=%v, want 3, 100ms and 2s", pm.retries, pm.retryDelay, pm.timeout)
	}
}

func TestPtrManager_RequestPTR(t *testing.T) {
	t.Run("successful lookup and cache", func(t *testing.T) {
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			return []string{"example.com."}, nil
		}, 1)

		pm.RequestPTR(context.Background(), "192.0.2.1")

		if ptr, found := pm.GetPTR("192.0.2.1"); !found || ptr != "example.com" {
			t.Errorf("GetPTR() = (%q, %v), want (\"example.com\", true)", ptr, found)
		}
	})

	t.Run("already cached skips lookup", func(t *testing.T) {
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			t.Fatal("lookupFunc should not be called for cached IP")
			return nil, nil
		}, 1)
		pm.cache.Set("192.0.2.1", "cached.com", 0)

		pm.RequestPTR(context.Background(), "192.0.2.1")

		if ptr, _ := pm.GetPTR("192.0.2.1"); ptr != "cached.com" {
			t.Errorf("GetPTR() = %q, want \"cached.com\"", ptr)
		}
	})

	t.Run("failed lookup retries then gives up", func(t *testing.T) {
		var calls int
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			calls++
			return nil, errors.New("lookup failed")
		}, 3)

		pm.RequestPTR(context.Background(), "192.0.2.1")

		if calls != 3 {
			t.Errorf("lookup calls = %d, want 3", calls)
		}
		if ptr, found := pm.GetPTR("192.0.2.1"); found {
			t.Errorf("GetPTR() = (%q, %v), want empty and not found", ptr, found)
		}
	})

	t.Run("second attempt succeeds", func(t *testing.T) {
		var calls int
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("timeout")
			}
			return []string{"peer.example.net."}, nil
		}, 3)

		if got := pm.Lookup(context.Background(), "192.0.2.9"); got != "peer.example.net" {
			t.Errorf("Lookup() = %q, want peer.example.net", got)
		}
		if calls != 2 {
			t.Errorf("lookup calls = %d, want 2", calls)
		}
	})
}

func TestPtrManager_GetPTR(t *testing.T) {
	tests := []struct {
		name      string
		cache     map[string]string
		ip        string
		wantPTR   string
		wantFound bool
	}{
		{"found", map[string]string{"192.0.2.1": "example.com"}, "192.0.2.1", "example.com", true},
		{"not found", map[string]string{}, "192.0.2.1", "", false},
		{"in progress", map[string]string{"192.0.2.1": ""}, "192.0.2.1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := testManager(nil, 1)
			for k, v := range tt.cache {
				pm.cache.Set(k, v, 0)
			}
			ptr, found := pm.GetPTR(tt.ip)

			if ptr != tt.wantPTR || found != tt.wantFound {
				t.Errorf("GetPTR() = (%q, %v), want (%q, %v)", ptr, found, tt.wantPTR, tt.wantFound)
			}
		})
	}
}

func TestPtrManager_Expiry(t *testing.T) {
	var calls atomic.Int32
	pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
		calls.Add(1)
		return []string{"old.example.com."}, nil
	}, 1)
	pm.cache = newCache(10 * time.Millisecond)

	pm.RequestPTR(context.Background(), "192.0.2.1")
	time.Sleep(30 * time.Millisecond)
	pm.RequestPTR(context.Background(), "192.0.2.1")

	if got := calls.Load(); got != 2 {
		t.Errorf("lookup calls = %d, want 2 after the cached name expired", got)
	}
}

func TestPtrManager_Concurrency(t *testing.T) {
	pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
		time.Sleep(time.Millisecond)
		return []string{ip + ".example.com."}, nil
	}, 1)

	ctx := context.Background()
	var wg sync.WaitGroup
	ips := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}

	// Concurrent requests for same IPs
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ip := range ips {
				pm.RequestPTR(ctx, ip)
				pm.GetPTR(ip)
			}
		}()
	}

	wg.Wait()

	// Verify all lookups completed
	for _, ip := range ips {
		if ptr, found := pm.GetPTR(ip); !found || ptr != ip+".example.com" {
			t.Errorf("IP %s: GetPTR() = (%q, %v), want (%q, true)", ip, ptr, found, ip+".example.com")
		}
	}
}

func TestPtrManager_Cancelled(t *testing.T) {
	t.Run("cancelled before lookup", func(t *testing.T) {
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			t.Error("lookupFunc should not be called with a cancelled context")
			return nil, nil
		}, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if got := pm.Lookup(ctx, "192.0.2.1"); got != "" {
			t.Errorf("Lookup() = %q, want empty", got)
		}
		if item := pm.cache.Get("192.0.2.1"); item != nil {
			t.Error("cancelled lookup left a cache entry")
		}
	})

	t.Run("cancelled during lookup", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}, 3)
		pm.retryDelay = time.Second

		start := time.Now()
		pm.RequestPTR(ctx, "192.0.2.1")
		if d := time.Since(start); d > 500*time.Millisecond {
			t.Errorf("RequestPTR() took %v after cancel", d)
		}
		if item := pm.cache.Get("192.0.2.1"); item != nil {
			t.Error("cancelled lookup left a cache entry")
		}
	})
}

func TestPtrManager_Timeout(t *testing.T) {
	var calls atomic.Int32
	pm := testManager(func(ctx context.Context, ip string) ([]string, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}, 3)
	pm.timeout = 50 * time.Millisecond
	pm.retryDelay = 10 * time.Millisecond

	start := time.Now()
	if got := pm.Lookup(context.Background(), "192.0.2.1"); got != "" {
		t.Errorf("Lookup() = %q, want empty", got)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Lookup() took %v, want about 50ms", d)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("lookup calls = %d, want 1 before the timeout", got)
	}
}
