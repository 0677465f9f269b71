package tracesim

import "testing"

func TestIdenticalTracesHashEqual(t *testing.T) {
	hasher := NewSimHasher()
	t1 := "panic: runtime error at 0xdeadbeef in frame_a frame_b frame_c"
	t2 := "panic: runtime error at 0xdeadbeef in frame_a frame_b frame_c"
	if hasher.Compute(t1) != hasher.Compute(t2) {
		t.Fatal("identical traces should hash identically")
	}
}

func TestTracesDifferingOnlyByAddressAreSimilar(t *testing.T) {
	hasher := NewSimHasher()
	t1 := "crash at 0x1000 in frame_a frame_b frame_c frame_d"
	t2 := "crash at 0x2000 in frame_a frame_b frame_c frame_d"
	h1, h2 := hasher.Compute(t1), hasher.Compute(t2)
	if !h1.IsSimilar(h2, 10) {
		t.Fatalf("traces differing only by address should be similar, distance=%d", h1.Distance(h2))
	}
}

func TestUnrelatedTracesAreDissimilar(t *testing.T) {
	hasher := NewSimHasher()
	t1 := "crash in parser frame_a frame_b frame_c frame_d frame_e"
	t2 := "crash in memory_allocator frame_x frame_y frame_z frame_w frame_v"
	h1, h2 := hasher.Compute(t1), hasher.Compute(t2)
	if h1.Distance(h2) < 8 {
		t.Fatalf("unrelated traces should have high distance, got %d", h1.Distance(h2))
	}
}
