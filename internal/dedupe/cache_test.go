// ABOUTME: Tests for the dedupe cache used to suppress duplicate event fan-out.
// ABOUTME: Validates TTL expiration, size limits, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Key that was never marked should return false
	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_Check_Seen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("my-key")

	assert.True(t, cache.Check("my-key"))
}

func TestCache_Check_Expired(t *testing.T) {
	// Use a very short TTL for testing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")

	// Should be seen initially
	assert.True(t, cache.Check("expiring-key"))

	// Wait for TTL to expire
	time.Sleep(20 * time.Millisecond)

	// Should no longer be seen after TTL
	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_Mark_UpdatesTimestamp(t *testing.T) {
	// Use a short TTL
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("refresh-key")

	// Wait partway through TTL
	time.Sleep(30 * time.Millisecond)

	// Re-mark to refresh
	cache.Mark("refresh-key")

	// Wait another 30ms (would be past original TTL)
	time.Sleep(30 * time.Millisecond)

	// Should still be present because we refreshed
	assert.True(t, cache.Check("refresh-key"))
}

func TestCache_EvictionOrder(t *testing.T) {
	// Small cache so eviction triggers quickly
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("first")
	time.Sleep(1 * time.Millisecond) // Ensure different timestamps
	cache.Mark("second")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("third")

	assert.True(t, cache.Check("first"))
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))

	// Add fourth - should evict "first" (oldest)
	cache.Mark("fourth")

	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))

	// Add fifth - should evict "second"
	cache.Mark("fifth")

	assert.False(t, cache.Check("second"), "second should be evicted")
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))
	assert.True(t, cache.Check("fifth"))
}

func TestCache_Len(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.Equal(t, 0, cache.Len())

	cache.Mark("key-1")
	cache.Mark("key-2")
	cache.Mark("key-1") // re-mark does not grow the cache

	assert.Equal(t, 2, cache.Len())
}

func TestCache_Cleanup(t *testing.T) {
	// Cleanup runs every minute by default, so trigger it directly and
	// verify expired entries are actually removed from the map
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("cleanup-1")
	cache.Mark("cleanup-2")
	cache.Mark("cleanup-3")

	assert.Equal(t, 3, cache.Len())

	// Wait for entries to expire
	time.Sleep(20 * time.Millisecond)

	// Expired entries still occupy memory until cleanup runs
	cache.runCleanup()

	assert.Equal(t, 0, cache.Len(), "cleanup should remove expired entries from map")
}

func TestCache_CheckAndMark_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First call for a new key should return false (not seen) and mark it
	result := cache.CheckAndMark("new-key")
	assert.False(t, result, "first CheckAndMark should return false for new key")

	// Key should now be marked
	assert.True(t, cache.Check("new-key"), "key should be marked after CheckAndMark")
}

func TestCache_CheckAndMark_SeenKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("existing-key")

	// CheckAndMark should return true (already seen)
	result := cache.CheckAndMark("existing-key")
	assert.True(t, result, "CheckAndMark should return true for already-seen key")
}

func TestCache_CheckAndMark_Expired(t *testing.T) {
	// Use a very short TTL for testing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	result := cache.CheckAndMark("expiring-key")
	assert.False(t, result, "first CheckAndMark should return false")

	// Should be seen immediately
	assert.True(t, cache.CheckAndMark("expiring-key"), "should be seen before expiry")

	// Wait for TTL to expire
	time.Sleep(20 * time.Millisecond)

	// Should not be seen after expiry
	assert.False(t, cache.CheckAndMark("expiring-key"), "should not be seen after expiry")
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	// Count how many goroutines successfully "won" (got false)
	var successCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// All goroutines try to CheckAndMark the same key simultaneously
	for range numGoroutines {
		go func() {
			defer wg.Done()
			// Only one goroutine should get false (first one)
			if !cache.CheckAndMark("contested-key") {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Exactly one goroutine should have succeeded
	assert.Equal(t, int32(1), successCount,
		"exactly one goroutine should win the race for CheckAndMark")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// Concurrent marks and checks
	for i := range numGoroutines {
		go func(id int) {
			defer wg.Done()
			for j := range opsPerGoroutine {
				key := fmt.Sprintf("key-%d-%d", id%26, j%10)
				cache.Mark(key)
				cache.Check(key)
			}
		}(i)
	}

	wg.Wait()

	// No panics or race conditions - test passes if we get here
	// Also verify cache is still functional
	cache.Mark("final-key")
	assert.True(t, cache.Check("final-key"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Mark("before-close")
	assert.True(t, cache.Check("before-close"))

	// Close should not panic and should stop the cleanup goroutine
	cache.Close()

	// Multiple closes should not panic
	cache.Close()
}
