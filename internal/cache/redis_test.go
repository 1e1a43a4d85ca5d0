package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	if err != nil {
		t.Fatalf("bad miniredis port %q: %v", s.Port(), err)
	}

	c, err := NewRedisCache(context.Background(), config.RedisConfig{
		Host:     s.Host(),
		Port:     port,
		CacheTTL: time.Minute,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

type cachedProduct struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func TestRedisCache_GetSet(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	var got cachedProduct
	if err := c.Get(ctx, "product:Laptop", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty cache = %v, want ErrCacheMiss", err)
	}

	want := cachedProduct{Name: "Laptop", Stock: 7}
	if err := c.Set(ctx, "product:Laptop", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Get(ctx, "product:Laptop", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if ttl := s.TTL("product:Laptop"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}

	s.FastForward(time.Minute)
	if err := c.Get(ctx, "product:Laptop", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after expiry = %v, want ErrCacheMiss", err)
	}
}

func TestRedisCache_ExistsAndClaim(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("Exists() on empty cache = %v, %v", ok, err)
	}

	claimed, err := c.Claim(ctx, "k", 30*time.Second)
	if err != nil || !claimed {
		t.Fatalf("first Claim() = %v, %v, want true", claimed, err)
	}
	claimed, err = c.Claim(ctx, "k", 30*time.Second)
	if err != nil || claimed {
		t.Fatalf("second Claim() = %v, %v, want false", claimed, err)
	}

	ok, err = c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Exists() after Claim = %v, %v, want true", ok, err)
	}

	s.FastForward(30 * time.Second)
	ok, err = c.Exists(ctx, "k")
	if err != nil || ok {
		t.Errorf("Exists() after ttl = %v, %v, want false", ok, err)
	}
}

func TestRedisCache_ReportsServerErrors(t *testing.T) {
	c, s := newTestCache(t)
	s.SetError("LOADING server is loading")

	if _, err := c.Exists(context.Background(), "k"); err == nil {
		t.Error("Exists() error = nil, want server error")
	}
	if _, err := c.Claim(context.Background(), "k", time.Second); err == nil {
		t.Error("Claim() error = nil, want server error")
	}
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	host := s.Host()
	port, _ := strconv.Atoi(s.Port())
	s.Close()

	_, err := NewRedisCache(context.Background(), config.RedisConfig{Host: host, Port: port}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatal("NewRedisCache() error = nil for a stopped server")
	}
}

func TestProcessedSet(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()
	set := NewProcessedSet(c, time.Hour)

	seen, err := set.Seen(ctx, "msg-1")
	if err != nil || seen {
		t.Fatalf("Seen() before MarkDone = %v, %v", seen, err)
	}

	if err := set.MarkDone(ctx, "msg-1"); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}
	// marking twice is not an error
	if err := set.MarkDone(ctx, "msg-1"); err != nil {
		t.Fatalf("second MarkDone() error = %v", err)
	}

	seen, err = set.Seen(ctx, "msg-1")
	if err != nil || !seen {
		t.Fatalf("Seen() after MarkDone = %v, %v, want true", seen, err)
	}
	if !s.Exists(processedKeyPrefix + "msg-1") {
		t.Errorf("key %q not stored", processedKeyPrefix+"msg-1")
	}
	if seen, _ := set.Seen(ctx, "msg-2"); seen {
		t.Error("Seen(msg-2) = true, want false")
	}

	s.FastForward(time.Hour)
	if seen, _ := set.Seen(ctx, "msg-1"); seen {
		t.Error("Seen() after ttl = true, want false")
	}
}
