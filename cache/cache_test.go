package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/meshgate/redis"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client, err := redis.New(redis.Config{Addr: mini.Addr()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test"), mini
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore(10) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			got, err := s.Get(ctx, "missing")
			if err != nil || got != nil {
				t.Fatalf("expected miss, got %v, %v", got, err)
			}

			e := &Entry{Status: 200, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"ok":true}`)}
			if err := s.Set(ctx, "k", e, time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err = s.Get(ctx, "k")
			if err != nil || got == nil {
				t.Fatalf("expected hit, got %v, %v", got, err)
			}
			if got.Status != 200 || string(got.Body) != `{"ok":true}` || got.Header.Get("Content-Type") != "application/json" {
				t.Errorf("unexpected entry %+v", got)
			}

			_ = s.Delete(ctx, "k")
			if got, _ := s.Get(ctx, "k"); got != nil {
				t.Error("expected miss after delete")
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(context.Background(), "k", &Entry{Status: 200}, time.Second)
	now = now.Add(time.Second)
	if got, _ := s.Get(context.Background(), "k"); got != nil {
		t.Error("expected entry to expire at its TTL")
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = s.Set(ctx, fmt.Sprint(i), &Entry{Status: 200}, time.Duration(i+1)*time.Minute)
	}
	_ = s.Set(ctx, "new", &Entry{Status: 200}, time.Hour)

	if s.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", s.Len())
	}
	if got, _ := s.Get(ctx, "0"); got != nil {
		t.Error("expected the entry closest to expiry to be evicted")
	}
	if got, _ := s.Get(ctx, "new"); got == nil {
		t.Error("expected new entry to be stored")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	s, mini := newRedisStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "k", &Entry{Status: 200}, 2*time.Second)
	mini.FastForward(3 * time.Second)
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Error("expected redis to expire the entry")
	}
}

func TestKey(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "http://Api.Example.com/orders?id=1", nil)
	b := httptest.NewRequest(http.MethodGet, "http://api.example.com/orders?id=2", nil)
	c := httptest.NewRequest(http.MethodGet, "http://api.example.com/orders?id=1", nil)

	if Key("orders", a) == Key("orders", b) {
		t.Error("expected query to be part of the key")
	}
	if Key("orders", a) != Key("orders", c) {
		t.Error("expected host comparison to be case-insensitive")
	}
	c.Header.Set("Accept", "text/csv")
	if Key("orders", a) == Key("orders", c) {
		t.Error("expected Accept to be part of the key")
	}
}

func TestCacheableAndStorable(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/", nil)
	if !Cacheable(get) {
		t.Error("expected plain GET to be cacheable")
	}
	post := httptest.NewRequest(http.MethodPost, "/", nil)
	if Cacheable(post) {
		t.Error("expected POST not to be cacheable")
	}
	noCache := httptest.NewRequest(http.MethodGet, "/", nil)
	noCache.Header.Set("Cache-Control", "no-cache")
	if Cacheable(noCache) {
		t.Error("expected no-cache request to bypass the cache")
	}

	tests := []struct {
		status int
		cc     string
		want   bool
	}{
		{200, "", true},
		{204, "", true},
		{206, "", false},
		{404, "", false},
		{500, "", false},
		{200, "no-store", false},
		{200, "private, max-age=60", false},
		{200, "public, max-age=60", true},
	}
	for _, tc := range tests {
		h := http.Header{}
		if tc.cc != "" {
			h.Set("Cache-Control", tc.cc)
		}
		if got := Storable(get, tc.status, h); got != tc.want {
			t.Errorf("Storable(%d, %q) = %v, expected %v", tc.status, tc.cc, got, tc.want)
		}
	}
}

func TestStorableSkipsCookies(t *testing.T) {
	h := http.Header{}
	h.Set("Set-Cookie", "session=abc")
	if Storable(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, h) {
		t.Error("expected a response setting cookies not to be stored")
	}
}

func TestStorableWithAuthorization(t *testing.T) {
	tests := []struct {
		cc   string
		want bool
	}{
		{"", false},
		{"max-age=60", false},
		{"public, max-age=60", true},
		{"s-maxage=60", true},
		{"must-revalidate, max-age=60", true},
		{"public, private", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("Authorization", "Bearer alice")
		h := http.Header{}
		if tc.cc != "" {
			h.Set("Cache-Control", tc.cc)
		}
		if got := Storable(r, http.StatusOK, h); got != tc.want {
			t.Errorf("Storable with Authorization and %q = %v, expected %v", tc.cc, got, tc.want)
		}
	}
}

func TestVaryHeaders(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
		ok     bool
	}{
		{"none", nil, nil, true},
		{"single", []string{"accept-language"}, []string{"Accept-Language"}, true},
		{"list sorted and deduplicated", []string{"Accept-Encoding, accept-language", "Accept-Encoding"}, []string{"Accept-Encoding", "Accept-Language"}, true},
		{"star", []string{"Accept, *"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.values {
				h.Add("Vary", v)
			}
			got, ok := VaryHeaders(h)
			if ok != tt.ok {
				t.Fatalf("expected ok %v, got %v", tt.ok, ok)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	star := http.Header{}
	star.Set("Vary", "*")
	if Storable(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, star) {
		t.Error("expected Vary: * not to be stored")
	}
}

func TestVariantKey(t *testing.T) {
	en := httptest.NewRequest(http.MethodGet, "/greeting", nil)
	en.Header.Set("Accept-Language", "en")
	de := httptest.NewRequest(http.MethodGet, "/greeting", nil)
	de.Header.Set("Accept-Language", "de")
	vary := []string{"Accept-Language"}

	base := Key("greeting", en)
	if VariantKey(base, vary, en) == VariantKey(base, vary, de) {
		t.Error("expected different Accept-Language values to produce different keys")
	}
	if VariantKey(base, vary, en) != VariantKey(base, vary, en.Clone(en.Context())) {
		t.Error("expected the same request values to produce the same key")
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected memory store by default, got %T", s)
	}
	if _, err := NewStore(Config{Store: StoreRedis}, nil); err == nil {
		t.Error("expected error for redis store without client")
	}
}
