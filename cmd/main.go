package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tcache "github.com/krisalay/tcache"
	"github.com/krisalay/tcache/internal/evictor"
)

// ================= BACKING STORE =================
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]any)}
}

func (s *InMemoryStore) Load(ctx context.Context, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !strings.HasPrefix(key, "k") {
		fmt.Println("STORE  → load:", key)
	}
	return s.data[key], nil
}

func (s *InMemoryStore) Write(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasPrefix(key, "k") {
		fmt.Println("STORE  → write:", key)
	}
	s.data[key] = value
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ================= MAIN =================

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")

	fmt.Println("CACHE MODE      : WRITE-THROUGH")
	fmt.Println("EVICTION POLICY : LRU")
	fmt.Println("STRIPES         : 8")
	fmt.Println("TTL STRATEGY    : sliding (expire after access)")
	fmt.Println("CAPACITY        : 20 keys")

	store := NewInMemoryStore()
	store.Write(ctx, "a", "alpha")
	store.Write(ctx, "b", "beta")

	var evicted int
	c := tcache.New(
		tcache.WithStripes(8),
		tcache.WithCapacity(20),
		tcache.WithEvictionPolicy(evictor.LRU),
		tcache.WithSlidingTTL(2*time.Second),
		tcache.WithLoader(store),
		tcache.WithWriter(store),
	)
	_, _ = c.AddListener(tcache.ListenerConfig{
		Listener: tcache.EntryListenerFunc(func(e tcache.Event) {
			if e.Type == tcache.EventRemoved {
				evicted++
			}
		}),
		Types:       []tcache.EventType{tcache.EventRemoved},
		Synchronous: true,
	})

	fmt.Println("\n==================== 1) CACHE MISS ====================")
	v, ok, _ := c.Get(ctx, "a")
	fmt.Println("CACHE  → GET a =", v, ok)

	fmt.Println("\n==================== 2) CACHE HIT ====================")
	v, ok, _ = c.Get(ctx, "a")
	fmt.Println("CACHE  → GET a =", v, ok)

	fmt.Println("\n==================== 3) TTL EXPIRATION ====================")
	store.Delete(ctx, "x")
	c.Put(ctx, "x", "temp-value")
	fmt.Println("CACHE  → PUT x (TTL = 2s sliding)")

	time.Sleep(3 * time.Second)

	fmt.Println("CACHE  → TTL expired for x")
	v, ok, _ = c.Get(ctx, "x")
	fmt.Println("CACHE  → GET x after TTL =", v, ok)

	fmt.Println("\n==================== 4) SINGLEFLIGHT ====================")

	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			val, _, _ := c.Get(ctx, "b")
			fmt.Printf("GOROUTINE-%d → GET b = %v\n", id, val)
		}(i)
	}
	wg.Wait()

	fmt.Println("\n==================== 5) EVICTION ====================")

	for i := 0; i < 50; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), i)
	}

	v, ok, _ = c.Get(ctx, "a")
	fmt.Println("CACHE  → GET a after eviction =", v, ok)

	fmt.Println("\n==================== 6) REMOVE ====================")

	c.Remove(ctx, "b")
	store.Delete(ctx, "b")
	fmt.Println("CACHE  → REMOVE b")

	v, ok, _ = c.Get(ctx, "b")
	fmt.Println("CACHE  → GET b after remove =", v, ok)

	fmt.Println("\n==================== METRICS ====================")
	snap := c.Statistics()
	fmt.Printf("HITS      : %d\n", snap.Hits)
	fmt.Printf("MISSES    : %d\n", snap.Misses)
	fmt.Printf("EVICTIONS : %d\n", snap.Evictions)
	fmt.Printf("EXPIRED   : %d\n", snap.Expires)
	fmt.Printf("REMOVED (listener-observed): %d\n", evicted)

	fmt.Println("\n==================== SHUTDOWN ====================")
	c.Close()
	fmt.Println("SYSTEM → cache closed cleanly")
}
