package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*JSONCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewJSONCache(client, "test", ttl), mr
}

func TestJSONCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	var got doc
	found, err := c.Get(ctx, "a", &got)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss on empty cache")
	}

	if err := c.Set(ctx, "a", doc{Name: "ecg", Count: 2}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:a") {
		t.Fatal("expected prefixed key in redis")
	}

	found, err = c.Get(ctx, "a", &got)
	if err != nil {
		t.Fatal(err)
	}
	if !found || got.Name != "ecg" || got.Count != 2 {
		t.Fatalf("unexpected cached value: found=%v %+v", found, got)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	found, _ = c.Get(ctx, "a", &got)
	if found {
		t.Fatal("expected miss after delete")
	}
}

func TestJSONCacheKeyFormat(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tests := []struct {
		prefix string
		want   string
	}{
		{"careflow:exam", "careflow:exam:ecg"},
		{"careflow:exam:", "careflow:exam:ecg"},
		{"careflow:protocol", "careflow:protocol:ecg"},
	}
	for _, tt := range tests {
		mr.FlushAll()
		c := NewJSONCache(client, tt.prefix, 0)
		if err := c.Set(context.Background(), "ecg", doc{Name: "ecg"}); err != nil {
			t.Fatal(err)
		}
		if keys := mr.Keys(); len(keys) != 1 || keys[0] != tt.want {
			t.Errorf("prefix %q: got keys %v, want [%s]", tt.prefix, keys, tt.want)
		}
	}
}

func TestJSONCacheTTL(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "b", doc{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	var got doc
	found, err := c.Get(ctx, "b", &got)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected entry to expire")
	}
}

func TestJSONCacheCorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, 0)
	if err := mr.Set("test:c", "{not json"); err != nil {
		t.Fatal(err)
	}

	var got doc
	found, err := c.Get(context.Background(), "c", &got)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected corrupt entry to be a miss")
	}
	if mr.Exists("test:c") {
		t.Fatal("expected corrupt entry to be removed")
	}
}
