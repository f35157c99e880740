package utils

import "testing"

func TestShortHash_StableAndDistinct(t *testing.T) {
	a1, a2 := ShortHash("tags=cron"), ShortHash("tags=cron")
	if a1 != a2 {
		t.Fatalf("hash not stable: %q vs %q", a1, a2)
	}
	if a1 == ShortHash("tags=backup") {
		t.Fatalf("expected different inputs to hash differently")
	}
	if ShortHash("") == "" {
		t.Fatalf("empty input should still yield a digest")
	}
}
