package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/watchpost/watchpost/pkg/watchpost/storage"
)

func TestCacheGetLiveEntry(t *testing.T) {
	c := New(storage.NewMemory())
	if err := c.Store("k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	e, ok := c.Get("k", false)
	if !ok || string(e.Value) != "v" {
		t.Errorf("Get(k, false) = %+v, %v", e, ok)
	}
}

func TestCacheGetMissOnAbsentKey(t *testing.T) {
	c := New(storage.NewMemory())
	if _, ok := c.Get("missing", false); ok {
		t.Error("expected miss on absent key")
	}
}

func TestCacheGraceReadReturnsExpiredEntryOnce(t *testing.T) {
	c := New(storage.NewMemory())
	c.now = func() time.Time { return time.Unix(1000, 0) }
	_ = c.Store("k", []byte("v"), time.Second)

	c.now = func() time.Time { return time.Unix(1100, 0) } // well past TTL

	entry, ok := c.Get("k", false)
	if !ok || string(entry.Value) != "v" {
		t.Fatalf("expected grace read to return the expired entry once, got %+v, %v", entry, ok)
	}

	if _, ok := c.Get("k", false); ok {
		t.Error("expected the second read after grace to miss")
	}
}

func TestCacheAllowExpiredDoesNotConsumeEntry(t *testing.T) {
	c := New(storage.NewMemory())
	c.now = func() time.Time { return time.Unix(1000, 0) }
	_ = c.Store("k", []byte("v"), time.Second)
	c.now = func() time.Time { return time.Unix(1100, 0) }

	for i := 0; i < 3; i++ {
		entry, ok := c.Get("k", true)
		if !ok || string(entry.Value) != "v" {
			t.Fatalf("iteration %d: allow_expired read = %+v, %v", i, entry, ok)
		}
	}
}

func TestCacheGraceReadIsAtomicUnderConcurrency(t *testing.T) {
	c := New(storage.NewMemory())
	c.now = func() time.Time { return time.Unix(1000, 0) }
	_ = c.Store("k", []byte("v"), time.Second)
	c.now = func() time.Time { return time.Unix(1100, 0) }

	const workers = 50
	var wg sync.WaitGroup
	hits := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := c.Get("k", false)
			hits <- ok
		}()
	}
	wg.Wait()
	close(hits)

	successCount := 0
	for ok := range hits {
		if ok {
			successCount++
		}
	}
	if successCount != 1 {
		t.Errorf("successCount = %d, want exactly 1 grace-read winner", successCount)
	}
}

func TestKeyTemplate(t *testing.T) {
	got := KeyTemplate("{check}:{env}", map[string]string{"check": "disk-space", "env": "prod"})
	if got != "disk-space:prod" {
		t.Errorf("KeyTemplate = %q", got)
	}
}

func TestMemoizeComputesOnMiss(t *testing.T) {
	c := New(storage.NewMemory())
	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	v, err := c.Memoize("k", time.Minute, false, compute)
	if err != nil || string(v) != "computed" {
		t.Fatalf("Memoize = %q, %v", v, err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	v, err = c.Memoize("k", time.Minute, false, compute)
	if err != nil || string(v) != "computed" {
		t.Fatalf("Memoize (cached) = %q, %v", v, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second call should hit cache)", calls)
	}
}

func TestMemoizeReturnExpiredServesStaleValueWithoutRecomputing(t *testing.T) {
	c := New(storage.NewMemory())
	c.now = func() time.Time { return time.Unix(1000, 0) }
	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte("fresh"), nil
	}
	_, _ = c.Memoize("k", time.Second, true, compute)
	c.now = func() time.Time { return time.Unix(2000, 0) }

	v, err := c.Memoize("k", time.Second, true, compute)
	if err != nil || string(v) != "fresh" {
		t.Fatalf("Memoize = %q, %v", v, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (return_expired should serve stale rather than recompute)", calls)
	}
}
