package llm

import (
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(":memory:")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_PutGet(t *testing.T) {
	c := openTestCache(t)

	if _, ok := c.Get("chat_abc"); ok {
		t.Error("Get on empty cache returned ok")
	}

	c.Put("chat_abc", `{"reformulated":"Hva er budsjettet?"}`)
	got, ok := c.Get("chat_abc")
	if !ok {
		t.Fatal("Get after Put returned !ok")
	}
	if got != `{"reformulated":"Hva er budsjettet?"}` {
		t.Errorf("Get = %q", got)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = %d hits, %d misses, want 1 and 1", hits, misses)
	}
}

func TestCache_PutReplaces(t *testing.T) {
	c := openTestCache(t)
	c.Put("k", "first")
	c.Put("k", "second")

	got, _ := c.Get("k")
	if got != "second" {
		t.Errorf("Get = %q, want second", got)
	}
	n, err := c.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestCache_NilSafe(t *testing.T) {
	var c *Cache
	if _, ok := c.Get("k"); ok {
		t.Error("nil cache Get returned ok")
	}
	c.Put("k", "v") // must not panic
	if h, m := c.Stats(); h != 0 || m != 0 {
		t.Errorf("nil cache Stats = %d, %d", h, m)
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := cacheKey("chat", chatRequest{Model: "m", System: "s", User: "u"})
	b := cacheKey("chat", chatRequest{Model: "m", System: "s", User: "u"})
	if a != b {
		t.Errorf("same payload gave different keys: %q vs %q", a, b)
	}
	if a == cacheKey("chat", chatRequest{Model: "m", System: "s", User: "other"}) {
		t.Error("different payloads gave the same key")
	}
	if a == cacheKey("embed", chatRequest{Model: "m", System: "s", User: "u"}) {
		t.Error("different kinds gave the same key")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1, 3.5}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if len(got) != 3 || got[0] != 0.25 || got[1] != -1 || got[2] != 3.5 {
		t.Errorf("round trip = %v", got)
	}
}

func TestDecodeVector_Invalid(t *testing.T) {
	if _, err := decodeVector("not json"); err == nil {
		t.Error("decodeVector should reject garbage")
	}
	if _, err := decodeVector("[]"); err == nil {
		t.Error("decodeVector should reject empty vectors")
	}
}
