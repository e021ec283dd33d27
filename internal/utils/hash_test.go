package utils

import "testing"

func TestStableUnit(t *testing.T) {
	a := StableUnit("call_1", "csat")
	if a != StableUnit("call_1", "csat") {
		t.Fatalf("expected deterministic value")
	}
	if a < 0 || a >= 1 {
		t.Fatalf("expected value in [0,1), got %f", a)
	}
	if StableHash("a", "b") != StableHash("a:b") {
		t.Fatalf("expected parts joined with colon")
	}
	if StableHash("call_1", "csat") == StableHash("call_2", "csat") {
		t.Fatalf("expected distinct hashes for distinct ids")
	}
}
