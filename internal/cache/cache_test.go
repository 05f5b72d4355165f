package cache

import (
	"testing"
)

func TestEncoded_VersionedEntries(t *testing.T) {
	c := NewEncoded(4)
	c.Add("Taluka", 1, []byte("v1"))

	if v, ok := c.Get("Taluka", 1); !ok || string(v) != "v1" {
		t.Fatalf("Get=%q,%v", v, ok)
	}
	if _, ok := c.Get("Taluka", 2); ok {
		t.Fatalf("newer version must miss")
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("stats=%d/%d want 1/1", hits, misses)
	}
}

func TestEncoded_Evicts(t *testing.T) {
	c := NewEncoded(2)
	c.Add("a", 1, []byte("a"))
	c.Add("b", 1, []byte("b"))
	c.Add("c", 1, []byte("c"))
	if c.Len() != 2 {
		t.Fatalf("len=%d want 2", c.Len())
	}
	if _, ok := c.Get("a", 1); ok {
		t.Fatalf("oldest entry should be evicted")
	}
}
