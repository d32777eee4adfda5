package syncer

import "testing"

func TestProbeHeightsGeometricWalkBack(t *testing.T) {
	got := probeHeights(100)
	want := []uint32{100, 99, 97, 93, 85, 69, 37, 0}
	if len(got) != len(want) {
		t.Fatalf("probeHeights(100) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("probeHeights(100)[%d] = %d, want %d (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestProbeHeightsStopsAtZero(t *testing.T) {
	got := probeHeights(3)
	if got[len(got)-1] != 0 {
		t.Fatalf("expected probeHeights to reach height 0, got %v", got)
	}
	for _, h := range got {
		if h > 3 {
			t.Fatalf("probeHeights(3) produced a height above tip: %v", got)
		}
	}
}

func TestProbeHeightsNoDuplicatesAndBoundedCount(t *testing.T) {
	got := probeHeights(1_000_000)
	if len(got) > probeCount {
		t.Fatalf("expected at most %d probe heights, got %d", probeCount, len(got))
	}
	seen := make(map[uint32]bool)
	for _, h := range got {
		if seen[h] {
			t.Fatalf("probeHeights produced a duplicate height %d: %v", h, got)
		}
		seen[h] = true
	}
}

func TestProbeHeightsZeroTip(t *testing.T) {
	got := probeHeights(0)
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected probeHeights(0) == [0], got %v", got)
	}
}
