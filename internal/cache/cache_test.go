package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCacheForTest(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, New(client)
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, c := newCacheForTest(t)

	var dest payload
	hit, err := c.GetJSON(ctx, "k1", &dest)
	if err != nil {
		t.Fatalf("initial get: %v", err)
	}
	if hit {
		t.Fatal("expected initial miss")
	}

	if err := c.SetJSON(ctx, "k1", payload{Name: "x", Count: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = c.GetJSON(ctx, "k1", &dest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit || dest.Name != "x" || dest.Count != 3 {
		t.Fatalf("unexpected cached value hit=%v %+v", hit, dest)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	server, c := newCacheForTest(t)

	if err := c.SetJSON(ctx, "k1", payload{Name: "x"}, 2*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	server.FastForward(3 * time.Second)

	var dest payload
	hit, err := c.GetJSON(ctx, "k1", &dest)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if hit {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestCacheDeletesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	server, c := newCacheForTest(t)

	if err := server.Set("k1", "{not-json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	var dest payload
	hit, err := c.GetJSON(ctx, "k1", &dest)
	if err != nil {
		t.Fatalf("get corrupt: %v", err)
	}
	if hit {
		t.Fatal("corrupt entry must read as a miss")
	}
	if server.Exists("k1") {
		t.Fatal("corrupt entry must be deleted")
	}
}

func TestCacheNilClientDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	var dest payload
	hit, err := c.GetJSON(ctx, "k1", &dest)
	if err != nil || hit {
		t.Fatalf("expected silent miss, got hit=%v err=%v", hit, err)
	}
	if err := c.SetJSON(ctx, "k1", payload{}, time.Minute); err != nil {
		t.Fatalf("set with nil client must be a no-op: %v", err)
	}
}

func TestCacheZeroTTLIsNoop(t *testing.T) {
	ctx := context.Background()
	server, c := newCacheForTest(t)

	if err := c.SetJSON(ctx, "k1", payload{Name: "x"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if server.Exists("k1") {
		t.Fatal("zero TTL must not store anything")
	}
}
