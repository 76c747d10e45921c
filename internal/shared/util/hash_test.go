package util

import "testing"

func TestHashStorageKey(t *testing.T) {
	id := "project-12345"
	got := HashStorageKey(id)
	if got != HashStorageKey(id) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestHashRequestKeyDistinguishesPartBoundaries(t *testing.T) {
	if HashRequestKey("ab", "c") == HashRequestKey("a", "bc") {
		t.Fatal("expected different keys for different part boundaries")
	}
	if HashRequestKey("p1", "hash") != HashRequestKey("p1", "hash") {
		t.Fatal("expected deterministic key")
	}
}
