package stack

import (
	"testing"
)

// mapMem is a word-addressed memory backed by a map; absent addresses
// read as zero.
type mapMem map[uint32]uint32

func (m mapMem) ReadWord(va uint32) uint32 { return m[va] }

// buildChain lays out depth frames at descending 0x40-spaced frame
// pointers starting at base, linking the last one to the zero sentinel.
// Returns the memory and the innermost frame pointer.
func buildChain(base uint32, depth int) (mapMem, uint32) {
	mem := make(mapMem)
	for i := 0; i < depth; i++ {
		fp := base + uint32(i)*0x40
		next := fp + 0x40
		if i == depth-1 {
			next = 0
		}
		mem[fp] = next
		mem[fp+4] = 0xf0100000 + uint32(i)*0x10 // return address
		for j := uint32(0); j < NumArgWords; j++ {
			mem[fp+8+4*j] = uint32(i)*100 + j
		}
	}
	return mem, base
}

func TestWalkVisitsEveryFrame(t *testing.T) {
	const depth = 7
	mem, fp := buildChain(0x7000, depth)

	frames, err := Walk(mem, fp, 0)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(frames) != depth {
		t.Fatalf("visited %d frames, want %d", len(frames), depth)
	}
	for i, f := range frames {
		wantFP := uint32(0x7000) + uint32(i)*0x40
		wantRet := uint32(0xf0100000) + uint32(i)*0x10
		if f.FP != wantFP || f.Ret != wantRet {
			t.Errorf("frame %d = {fp %#x ret %#x}, want {fp %#x ret %#x}", i, f.FP, f.Ret, wantFP, wantRet)
		}
		for j := uint32(0); j < NumArgWords; j++ {
			if f.Args[j] != uint32(i)*100+j {
				t.Errorf("frame %d arg %d = %d, want %d", i, j, f.Args[j], uint32(i)*100+j)
			}
		}
	}
}

func TestWalkZeroFramePointer(t *testing.T) {
	frames, err := Walk(make(mapMem), 0, 0)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("visited %d frames from a zero frame pointer, want 0", len(frames))
	}
}

func TestWalkStopsAtSentinel(t *testing.T) {
	mem, fp := buildChain(0x7000, 1)
	it := NewIterator(mem, fp, 0)
	if !it.Next() {
		t.Fatal("expected one frame")
	}
	if it.Next() {
		t.Fatal("iterator walked past the zero sentinel")
	}
	if it.Err() != nil {
		t.Fatalf("clean termination reported error: %v", it.Err())
	}
}

func TestWalkDepthGuardOnCycle(t *testing.T) {
	mem := make(mapMem)
	mem[0x7000] = 0x7000 // self-referential frame chain
	mem[0x7004] = 0xf0100000

	frames, err := Walk(mem, 0x7000, 10)
	if err != ErrMaxDepth {
		t.Fatalf("cyclic chain: got err %v, want ErrMaxDepth", err)
	}
	if len(frames) != 10 {
		t.Fatalf("visited %d frames before the guard, want 10", len(frames))
	}
}

func TestWalkDefaultDepth(t *testing.T) {
	mem, fp := buildChain(0x4000, DefaultMaxDepth+5)
	frames, err := Walk(mem, fp, 0)
	if err != ErrMaxDepth {
		t.Fatalf("got err %v, want ErrMaxDepth", err)
	}
	if len(frames) != DefaultMaxDepth {
		t.Fatalf("visited %d frames, want %d", len(frames), DefaultMaxDepth)
	}
}

func TestFrameString(t *testing.T) {
	f := Frame{FP: 0x7000, Ret: 0xf0100262, Args: [NumArgWords]uint32{1, 2, 3, 4, 5}}
	want := "ebp 00007000  eip f0100262  args 00000001 00000002 00000003 00000004 00000005"
	if got := f.String(); got != want {
		t.Errorf("Frame.String() = %q, want %q", got, want)
	}
}
