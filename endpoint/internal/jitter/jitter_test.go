package jitter

import "testing"

func TestNewClampDepth(t *testing.T) {
	b := New(0)
	if b.depth != 1 {
		t.Errorf("depth 0 should clamp to 1, got %d", b.depth)
	}
	b = New(100)
	if b.depth != ringSize/2 {
		t.Errorf("depth 100 should clamp to %d, got %d", ringSize/2, b.depth)
	}
}

func TestPopBeforePrimedReturnsNotOK(t *testing.T) {
	b := New(2)
	b.Push(100, []byte{0xAA})

	if _, ok := b.Pop(); ok {
		t.Fatal("Pop should report not-ok while still priming")
	}
}

func TestInOrder(t *testing.T) {
	b := New(2) // 40ms depth

	b.Push(100, []byte{0xAA})
	b.Push(101, []byte{0xBB})

	f, ok := b.Pop()
	if !ok {
		t.Fatal("expected a frame after priming")
	}
	if string(f.OpusData) != string([]byte{0xAA}) {
		t.Errorf("data: got %v, want [0xAA]", f.OpusData)
	}

	f, ok = b.Pop()
	if !ok || string(f.OpusData) != string([]byte{0xBB}) {
		t.Errorf("data: got %v, ok=%v, want [0xBB]", f.OpusData, ok)
	}
}

func TestReordering(t *testing.T) {
	b := New(3)

	// Push frames out of order: 10, 12, 11.
	b.Push(10, []byte{10})
	b.Push(12, []byte{12})
	b.Push(11, []byte{11})

	// All 3 frames primed. Pop should yield them in order: 10, 11, 12.
	f, ok := b.Pop()
	if !ok || f.OpusData[0] != 10 {
		t.Fatalf("pop 1: expected seq 10, got %v ok=%v", f, ok)
	}

	f, ok = b.Pop()
	if !ok || f.OpusData[0] != 11 {
		t.Fatalf("pop 2: expected seq 11, got %v ok=%v", f, ok)
	}

	f, ok = b.Pop()
	if !ok || f.OpusData[0] != 12 {
		t.Fatalf("pop 3: expected seq 12, got %v ok=%v", f, ok)
	}
}

func TestMissingFramePLC(t *testing.T) {
	b := New(2)

	b.Push(50, []byte{50})
	b.Push(51, []byte{51})

	f, _ := b.Pop()
	if f.OpusData == nil {
		t.Fatal("frame 50 should be present")
	}
	f, _ = b.Pop()
	if f.OpusData == nil {
		t.Fatal("frame 51 should be present")
	}

	// Push seq 53 (skipping 52).
	b.Push(53, []byte{53})

	f, ok := b.Pop()
	if !ok {
		t.Fatal("expected a tick for the missing seq 52")
	}
	if f.OpusData != nil {
		t.Error("frame 52 should be nil (missing)")
	}

	f, ok = b.Pop()
	if !ok || f.OpusData == nil {
		t.Fatal("frame 53 should be present")
	}
}

func TestLateArrivalDropped(t *testing.T) {
	b := New(1)

	b.Push(10, []byte{10})
	b.Pop() // consume seq 10, nextPlay = 11

	// Push seq 10 again (late arrival). Should be dropped.
	b.Push(10, []byte{99})

	b.Push(11, []byte{11})

	f, ok := b.Pop()
	if !ok || f.OpusData[0] != 11 {
		t.Fatalf("expected seq 11, got %v ok=%v", f, ok)
	}
}

func TestUint16Wraparound(t *testing.T) {
	b := New(2)

	// Start near uint16 max.
	b.Push(65534, []byte{0xFE})
	b.Push(65535, []byte{0xFF})

	f, _ := b.Pop()
	if f.OpusData[0] != 0xFE {
		t.Fatalf("expected 0xFE, got %v", f.OpusData)
	}

	// Push wrapped-around sequences.
	b.Push(0, []byte{0x00})
	b.Push(1, []byte{0x01})

	f, _ = b.Pop() // seq 65535
	if f.OpusData[0] != 0xFF {
		t.Fatalf("expected 0xFF, got %v", f.OpusData)
	}

	f, _ = b.Pop() // seq 0
	if f.OpusData[0] != 0x00 {
		t.Fatalf("expected 0x00, got %v", f.OpusData)
	}

	f, _ = b.Pop() // seq 1
	if f.OpusData[0] != 0x01 {
		t.Fatalf("expected 0x01, got %v", f.OpusData)
	}
}

func TestWayAheadResetsStream(t *testing.T) {
	b := New(1)

	b.Push(0, []byte{0})
	b.Pop() // consume seq 0, nextPlay = 1

	// Push seq 100 (way ahead of 1 by 99, exceeds ringSize).
	b.Push(100, []byte{100})

	if !b.primed {
		t.Fatal("buffer should be primed after reset (depth=1)")
	}

	f, ok := b.Pop()
	if !ok || f.OpusData[0] != 100 {
		t.Fatalf("expected seq 100, got %v ok=%v", f, ok)
	}
}

func TestReset(t *testing.T) {
	b := New(1)
	b.Push(0, []byte{0})
	b.Pop()

	b.Reset()

	if b.primed || b.started {
		t.Error("expected buffer to be unprimed and unstarted after Reset")
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop after Reset should report not-ok until re-primed")
	}
}

func TestPrimingDoesNotConsume(t *testing.T) {
	b := New(3)

	// Push 2 frames (not enough to prime with depth=3).
	b.Push(0, []byte{0})
	b.Push(1, []byte{1})

	if _, ok := b.Pop(); ok {
		t.Fatal("expected not-ok during priming")
	}

	// Push 3rd frame to prime.
	b.Push(2, []byte{2})

	f, ok := b.Pop()
	if !ok {
		t.Fatal("expected a frame after priming")
	}
	if f.OpusData[0] != 0 {
		t.Errorf("expected seq 0, got %d", f.OpusData[0])
	}
}
